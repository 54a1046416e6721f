package dynamodb

import (
	"context"

	"go.uber.org/zap"

	"github.com/MiguelSchuhAlles/preanesth-app/application/ports"
	"github.com/MiguelSchuhAlles/preanesth-app/domain/core/entities"
	"github.com/MiguelSchuhAlles/preanesth-app/infrastructure/persistence/schema"
	pkgerrors "github.com/MiguelSchuhAlles/preanesth-app/pkg/errors"
)

// InstitutionRepository implements ports.InstitutionRepository using DynamoDB
type InstitutionRepository struct {
	client *Client
	logger *zap.Logger
}

// NewInstitutionRepository creates a new InstitutionRepository
func NewInstitutionRepository(client *Client, logger *zap.Logger) *InstitutionRepository {
	return &InstitutionRepository{client: client, logger: logger}
}

var _ ports.InstitutionRepository = (*InstitutionRepository)(nil)

// GetInstitution retrieves an institution by its ID
func (r *InstitutionRepository) GetInstitution(ctx context.Context, institutionID string) (*entities.Institution, error) {
	var item institutionItem
	found, err := r.client.getInto(ctx, "GetInstitution", schema.InstitutionKey(institutionID), &item)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, pkgerrors.NewNotFoundError("institution")
	}
	return item.toEntity(), nil
}

// ProvisionInstitution creates the institution and its first admin atomically
func (r *InstitutionRepository) ProvisionInstitution(ctx context.Context, institution *entities.Institution,
	admin *entities.User, entry *entities.AuditEntry) error {
	partition := schema.AuditPartition(entry.Target)
	err := r.client.commitSequenced(ctx, "ProvisionInstitution", partition, func(seq *sequence, tx *transaction) error {
		tx.put(labelInstitution, newInstitutionItem(institution), notExists())
		tx.put(labelUser, newUserItem(admin), notExists())
		return r.client.putAudit(seq, tx, entry)
	})
	if ce, ok := asConditionError(err); ok {
		switch {
		case ce.failed(labelInstitution):
			return pkgerrors.NewConflictError(pkgerrors.CodeInstitutionExists, "institution already exists")
		case ce.failed(labelUser):
			return pkgerrors.NewConflictError(pkgerrors.CodeUserExists, "user already exists")
		}
		return r.client.internal("ProvisionInstitution", err)
	}
	if err != nil {
		return err
	}

	r.logger.Info("Institution provisioned",
		zap.String("institutionID", institution.ID),
		zap.String("adminUserID", admin.ID),
	)
	return nil
}

// UpdateInstitution persists a config change if the stored version still matches
func (r *InstitutionRepository) UpdateInstitution(ctx context.Context, institution *entities.Institution,
	expectedVersion int, entry *entities.AuditEntry) error {
	partition := schema.AuditPartition(entry.Target)
	err := r.client.commitSequenced(ctx, "UpdateInstitution", partition, func(seq *sequence, tx *transaction) error {
		cond := versionIs(expectedVersion)
		tx.put(labelInstitution, newInstitutionItem(institution), &cond)
		return r.client.putAudit(seq, tx, entry)
	})
	if _, ok := asConditionError(err); ok {
		current, getErr := r.GetInstitution(ctx, institution.ID)
		if getErr != nil {
			return getErr
		}
		return pkgerrors.ErrVersionMismatch(expectedVersion, current.Version)
	}
	return err
}
