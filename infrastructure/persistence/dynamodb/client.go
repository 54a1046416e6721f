package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/MiguelSchuhAlles/preanesth-app/domain/core/validators"
	"github.com/MiguelSchuhAlles/preanesth-app/infrastructure/persistence/schema"
	pkgerrors "github.com/MiguelSchuhAlles/preanesth-app/pkg/errors"
)

// API is the subset of the DynamoDB client the store uses.
type API interface {
	dynamodb.QueryAPIClient
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

const (
	DefaultStorageTimeout     = 3 * time.Second
	DefaultSequenceRetryLimit = 5
	DefaultBreakerThreshold   = 5
	DefaultPageSize           = 25
	MaxPageSize               = 100
)

// Options configures the store.
type Options struct {
	TableName               string
	GSI1Name                string
	Timeout                 time.Duration
	SequenceRetryLimit      int
	BreakerFailureThreshold uint32
	PageSize                int
	Clock                   func() time.Time
}

// Client wraps the DynamoDB API with per-call timeouts, a circuit breaker, error translation
// and the partition sequence protocol shared by every repository.
type Client struct {
	api       API
	tableName string
	gsi1Name  string
	timeout   time.Duration
	retries   int
	pageSize  int
	now       func() time.Time
	breaker   *gobreaker.CircuitBreaker
	schemas   *validators.Schemas
	logger    *zap.Logger
}

// NewClient creates a store client
func NewClient(api API, opts Options, schemas *validators.Schemas, logger *zap.Logger) *Client {
	if opts.GSI1Name == "" {
		opts.GSI1Name = schema.DefaultGSI1Name
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultStorageTimeout
	}
	if opts.SequenceRetryLimit <= 0 {
		opts.SequenceRetryLimit = DefaultSequenceRetryLimit
	}
	if opts.BreakerFailureThreshold == 0 {
		opts.BreakerFailureThreshold = DefaultBreakerThreshold
	}
	if opts.PageSize <= 0 || opts.PageSize > MaxPageSize {
		opts.PageSize = DefaultPageSize
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Client{
		api:       api,
		tableName: opts.TableName,
		gsi1Name:  opts.GSI1Name,
		timeout:   opts.Timeout,
		retries:   opts.SequenceRetryLimit,
		pageSize:  opts.PageSize,
		now:       opts.Clock,
		schemas:   schemas,
		logger:    logger,
	}

	threshold := opts.BreakerFailureThreshold
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "dynamodb:" + opts.TableName,
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("Storage circuit breaker changed state",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		// Business condition failures are answers, not outages.
		IsSuccessful: func(err error) bool {
			return err == nil || !isTransient(err)
		},
	})

	return c
}

// Table describes the layout this client reads and writes.
func (c *Client) Table() schema.Table {
	return schema.Layout(c.tableName, c.gsi1Name)
}

// Ready reports a transient storage error while the circuit breaker is open.
func (c *Client) Ready(context.Context) error {
	if state := c.breaker.State(); state == gobreaker.StateOpen {
		return pkgerrors.NewTransientStorageError("ready", gobreaker.ErrOpenState).WithDetail("breaker", state.String())
	}
	return nil
}

// call runs fn under the storage timeout and the circuit breaker, translating transient failures.
func (c *Client) call(ctx context.Context, op string, fn func(ctx context.Context) (any, error)) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	out, err := c.breaker.Execute(func() (interface{}, error) {
		return fn(ctx)
	})
	if err == nil {
		return out, nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, pkgerrors.NewTransientStorageError(op, err).WithDetail("breaker", c.breaker.State().String())
	}
	if isTransient(err) {
		c.logger.Error("Storage operation failed", zap.String("operation", op), zap.Error(err))
		return nil, pkgerrors.NewTransientStorageError(op, err)
	}
	return nil, err
}

// getItem reads one item with a strongly consistent read. A missing item returns nil.
func (c *Client) getItem(ctx context.Context, op string, key schema.Key) (map[string]types.AttributeValue, error) {
	out, err := c.call(ctx, op, func(ctx context.Context) (any, error) {
		return c.api.GetItem(ctx, &dynamodb.GetItemInput{
			TableName:      aws.String(c.tableName),
			Key:            keyAttributes(key),
			ConsistentRead: aws.Bool(true),
		})
	})
	if err != nil {
		return nil, c.internal(op, err)
	}
	return out.(*dynamodb.GetItemOutput).Item, nil
}

// getInto reads one item into out, reporting whether it exists.
func (c *Client) getInto(ctx context.Context, op string, key schema.Key, out any) (bool, error) {
	item, err := c.getItem(ctx, op, key)
	if err != nil || item == nil {
		return false, err
	}
	if err := attributevalue.UnmarshalMap(item, out); err != nil {
		return false, pkgerrors.NewInternalError(fmt.Sprintf("failed to unmarshal %s", key.SK)).WithCause(err)
	}
	return true, nil
}

// transact commits tx. A cancellation caused by failed conditions is returned as *conditionError.
func (c *Client) transact(ctx context.Context, op string, tx *transaction) error {
	if err := tx.validate(); err != nil {
		return pkgerrors.NewInternalError("invalid transaction").WithCause(err)
	}
	_, err := c.call(ctx, op, func(ctx context.Context) (any, error) {
		return c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
			TransactItems: tx.items,
		})
	})
	if err == nil {
		return nil
	}
	if failed, contended := tx.cancelled(err); failed != nil || contended != nil {
		c.logger.Debug("Transaction cancelled",
			zap.String("operation", op),
			zap.Strings("labels", failed),
			zap.Strings("contended", contended),
		)
		return &conditionError{operation: op, labels: failed, contended: contended, cause: err}
	}
	return c.internal(op, err)
}

// internal passes taxonomy errors through and wraps everything else.
func (c *Client) internal(op string, err error) error {
	if pkgerrors.IsAppError(err) {
		return err
	}
	c.logger.Error("Unexpected storage error", zap.String("operation", op), zap.Error(err))
	return pkgerrors.NewInternalError(fmt.Sprintf("storage operation '%s' failed", op)).WithCause(err)
}

func keyAttributes(key schema.Key) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		schema.AttrPK: &types.AttributeValueMemberS{Value: key.PK},
		schema.AttrSK: &types.AttributeValueMemberS{Value: key.SK},
	}
}
