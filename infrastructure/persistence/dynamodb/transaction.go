package dynamodb

import (
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/MiguelSchuhAlles/preanesth-app/infrastructure/persistence/schema"
)

// maxTransactionItems keeps transactions well below the TransactWriteItems limit of 100.
const maxTransactionItems = 25

// Item labels. A cancelled transaction reports the labels whose conditions failed.
const (
	labelInstitution = "institution"
	labelUser        = "user"
	labelPatient     = "patient"
	labelCPF         = "cpf"
	labelPreviousCPF = "previous-cpf"
	labelEvaluation  = "evaluation"
	labelNewRecord   = "new-record"
	labelOriginal    = "original"
	labelSupersede   = "supersede"
	labelSequence    = "sequence"
	labelAudit       = "audit"
)

// transaction collects the writes of one atomic mutation. Every item is labeled so condition
// failures can be mapped back to domain errors. Builder errors are deferred to validate.
type transaction struct {
	tableName string
	items     []types.TransactWriteItem
	labels    []string
	keys      map[schema.Key]bool
	err       error
}

func (c *Client) newTransaction() *transaction {
	return &transaction{
		tableName: c.tableName,
		items:     make([]types.TransactWriteItem, 0, 4),
		labels:    make([]string, 0, 4),
		keys:      make(map[schema.Key]bool),
	}
}

// put registers an item write, optionally conditional.
func (t *transaction) put(label string, item any, cond *expression.ConditionBuilder) {
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		t.fail(fmt.Errorf("marshal %s: %w", label, err))
		return
	}
	key, err := itemKey(av)
	if err != nil {
		t.fail(fmt.Errorf("%s: %w", label, err))
		return
	}

	put := &types.Put{TableName: aws.String(t.tableName), Item: av}
	if cond != nil {
		expr, err := expression.NewBuilder().WithCondition(*cond).Build()
		if err != nil {
			t.fail(fmt.Errorf("build %s condition: %w", label, err))
			return
		}
		put.ConditionExpression = expr.Condition()
		put.ExpressionAttributeNames = expr.Names()
		put.ExpressionAttributeValues = expr.Values()
	}
	t.add(label, key, types.TransactWriteItem{Put: put})
}

// check registers a condition on an item the transaction does not write.
func (t *transaction) check(label string, key schema.Key, cond expression.ConditionBuilder) {
	expr, err := expression.NewBuilder().WithCondition(cond).Build()
	if err != nil {
		t.fail(fmt.Errorf("build %s condition: %w", label, err))
		return
	}
	t.add(label, key, types.TransactWriteItem{ConditionCheck: &types.ConditionCheck{
		TableName:                 aws.String(t.tableName),
		Key:                       keyAttributes(key),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	}})
}

// delete registers a conditional delete.
func (t *transaction) delete(label string, key schema.Key, cond expression.ConditionBuilder) {
	expr, err := expression.NewBuilder().WithCondition(cond).Build()
	if err != nil {
		t.fail(fmt.Errorf("build %s condition: %w", label, err))
		return
	}
	t.add(label, key, types.TransactWriteItem{Delete: &types.Delete{
		TableName:                 aws.String(t.tableName),
		Key:                       keyAttributes(key),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	}})
}

func (t *transaction) add(label string, key schema.Key, item types.TransactWriteItem) {
	if t.keys[key] {
		t.fail(fmt.Errorf("%s: item %s is already part of the transaction", label, key))
		return
	}
	t.keys[key] = true
	t.items = append(t.items, item)
	t.labels = append(t.labels, label)
}

func (t *transaction) fail(err error) {
	if t.err == nil {
		t.err = err
	}
}

func (t *transaction) validate() error {
	if t.err != nil {
		return t.err
	}
	if len(t.items) == 0 {
		return errors.New("transaction has no items")
	}
	if len(t.items) > maxTransactionItems {
		return fmt.Errorf("transaction exceeds safe limit of %d items: %d items", maxTransactionItems, len(t.items))
	}
	return nil
}

// cancelled splits a cancelled transaction's reasons into the labels whose conditions failed
// and the labels that collided with a concurrent transaction. Both are nil when err is not a
// cancellation.
func (t *transaction) cancelled(err error) (failed, contended []string) {
	var tce *types.TransactionCanceledException
	if !errors.As(err, &tce) {
		return nil, nil
	}
	for i, reason := range tce.CancellationReasons {
		if i >= len(t.labels) {
			break
		}
		switch aws.ToString(reason.Code) {
		case reasonConditionalCheckFailed:
			failed = append(failed, t.labels[i])
		case reasonTransactionConflict:
			contended = append(contended, t.labels[i])
		}
	}
	return failed, contended
}

func itemKey(av map[string]types.AttributeValue) (schema.Key, error) {
	pk, ok := av[schema.AttrPK].(*types.AttributeValueMemberS)
	if !ok {
		return schema.Key{}, errors.New("item has no string PK")
	}
	sk, ok := av[schema.AttrSK].(*types.AttributeValueMemberS)
	if !ok {
		return schema.Key{}, errors.New("item has no string SK")
	}
	return schema.Key{PK: pk.Value, SK: sk.Value}, nil
}

// Condition helpers shared by the repositories.

func notExists() *expression.ConditionBuilder {
	cond := expression.AttributeNotExists(expression.Name(schema.AttrPK))
	return &cond
}

func exists() expression.ConditionBuilder {
	return expression.AttributeExists(expression.Name(schema.AttrPK))
}

func versionIs(version int) expression.ConditionBuilder {
	return expression.Name(attrVersion).Equal(expression.Value(version))
}
