package dynamodb

import (
	"context"
	"iter"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"github.com/MiguelSchuhAlles/preanesth-app/application/ports"
	"github.com/MiguelSchuhAlles/preanesth-app/domain/core/entities"
	"github.com/MiguelSchuhAlles/preanesth-app/infrastructure/persistence/schema"
	pkgerrors "github.com/MiguelSchuhAlles/preanesth-app/pkg/errors"
)

// AuditRepository implements ports.AuditRepository using DynamoDB.
// Entries are only ever put under attribute_not_exists; nothing updates or deletes them.
type AuditRepository struct {
	client *Client
	logger *zap.Logger
}

// NewAuditRepository creates a new AuditRepository
func NewAuditRepository(client *Client, logger *zap.Logger) *AuditRepository {
	return &AuditRepository{client: client, logger: logger}
}

var _ ports.AuditRepository = (*AuditRepository)(nil)

// AppendAudit writes a standalone entry in the partition of its target
func (r *AuditRepository) AppendAudit(ctx context.Context, entry *entities.AuditEntry) error {
	partition := schema.AuditPartition(entry.Target)
	err := r.client.commitSequenced(ctx, "AppendAudit", partition, func(seq *sequence, tx *transaction) error {
		return r.client.putAudit(seq, tx, entry)
	})
	if _, ok := asConditionError(err); ok {
		return r.client.internal("AppendAudit", err)
	}
	return err
}

// ListAudit returns one chronological page of the partition target belongs to
func (r *AuditRepository) ListAudit(ctx context.Context, target entities.TargetRef, page ports.PageRequest) (ports.Page[*entities.AuditEntry], error) {
	q := schema.AuditByPartition(schema.AuditPartition(target))
	items, next, err := r.client.queryPage(ctx, "ListAudit", q, nil, page)
	if err != nil {
		return ports.Page[*entities.AuditEntry]{}, err
	}
	return toAuditPage(items, next)
}

// ListAuditByPerformer queries GSI1 by performer. Entries of other institutions are filtered
// out, so a page may hold fewer items than requested while NextToken is still set.
func (r *AuditRepository) ListAuditByPerformer(ctx context.Context, institutionID, userID, patientID string,
	page ports.PageRequest) (ports.Page[*entities.AuditEntry], error) {
	filter := expression.Name("InstitutionID").Equal(expression.Value(institutionID))
	items, next, err := r.client.queryPage(ctx, "ListAuditByPerformer", schema.AuditByPerformer(userID, patientID), &filter, page)
	if err != nil {
		return ports.Page[*entities.AuditEntry]{}, err
	}
	return toAuditPage(items, next)
}

// AuditTrail lazily yields the chain of the partition target belongs to, oldest first
func (r *AuditRepository) AuditTrail(ctx context.Context, target entities.TargetRef) iter.Seq2[*entities.AuditEntry, error] {
	q := schema.AuditByPartition(schema.AuditPartition(target))
	return func(yield func(*entities.AuditEntry, error) bool) {
		for it, err := range r.client.queryAll(ctx, "AuditTrail", q, "", int32(r.client.pageSize)) {
			if err != nil {
				yield(nil, err)
				return
			}
			entry, err := unmarshalAudit(it.Value)
			if !yield(entry, err) || err != nil {
				return
			}
		}
	}
}

// AuditHead returns the hash of the partition's latest entry, empty if it has none
func (r *AuditRepository) AuditHead(ctx context.Context, target entities.TargetRef) (string, error) {
	seq, err := r.client.readSequence(ctx, schema.AuditPartition(target))
	if err != nil {
		return "", err
	}
	return seq.hash, nil
}

func toAuditPage(items []map[string]types.AttributeValue, next string) (ports.Page[*entities.AuditEntry], error) {
	entries := make([]*entities.AuditEntry, 0, len(items))
	for _, av := range items {
		entry, err := unmarshalAudit(av)
		if err != nil {
			return ports.Page[*entities.AuditEntry]{}, err
		}
		entries = append(entries, entry)
	}
	return ports.Page[*entities.AuditEntry]{Items: entries, NextToken: next}, nil
}

func unmarshalAudit(av map[string]types.AttributeValue) (*entities.AuditEntry, error) {
	var item auditItem
	if err := attributevalue.UnmarshalMap(av, &item); err != nil {
		return nil, pkgerrors.NewInternalError("failed to unmarshal audit entry").WithCause(err)
	}
	entry, err := item.toEntity()
	if err != nil {
		return nil, pkgerrors.NewInternalError("stored audit entry is malformed").WithCause(err)
	}
	return entry, nil
}
