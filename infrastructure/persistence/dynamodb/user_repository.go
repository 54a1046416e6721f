package dynamodb

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"go.uber.org/zap"

	"github.com/MiguelSchuhAlles/preanesth-app/application/ports"
	"github.com/MiguelSchuhAlles/preanesth-app/domain/core/entities"
	"github.com/MiguelSchuhAlles/preanesth-app/infrastructure/persistence/schema"
	pkgerrors "github.com/MiguelSchuhAlles/preanesth-app/pkg/errors"
)

// UserRepository implements ports.UserRepository using DynamoDB
type UserRepository struct {
	client *Client
	logger *zap.Logger
}

// NewUserRepository creates a new UserRepository
func NewUserRepository(client *Client, logger *zap.Logger) *UserRepository {
	return &UserRepository{client: client, logger: logger}
}

var _ ports.UserRepository = (*UserRepository)(nil)

// GetUser retrieves a user by ID
func (r *UserRepository) GetUser(ctx context.Context, userID string) (*entities.User, error) {
	var item userItem
	found, err := r.client.getInto(ctx, "GetUser", schema.UserKey(userID), &item)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, pkgerrors.NewNotFoundError("user")
	}
	u, err := item.toEntity()
	if err != nil {
		return nil, pkgerrors.NewInternalError("stored user is malformed").WithCause(err)
	}
	return u, nil
}

// CreateUser adds a user to an existing institution
func (r *UserRepository) CreateUser(ctx context.Context, user *entities.User, entry *entities.AuditEntry) error {
	partition := schema.AuditPartition(entry.Target)
	err := r.client.commitSequenced(ctx, "CreateUser", partition, func(seq *sequence, tx *transaction) error {
		tx.check(labelInstitution, schema.InstitutionKey(user.InstitutionID), exists())
		tx.put(labelUser, newUserItem(user), notExists())
		return r.client.putAudit(seq, tx, entry)
	})
	if ce, ok := asConditionError(err); ok {
		switch {
		case ce.failed(labelUser):
			return pkgerrors.NewConflictError(pkgerrors.CodeUserExists, "user already exists")
		case ce.failed(labelInstitution):
			return pkgerrors.NewNotFoundError("institution")
		}
		return r.client.internal("CreateUser", err)
	}
	if err != nil {
		return err
	}

	r.logger.Info("User created",
		zap.String("institutionID", user.InstitutionID),
		zap.String("userID", user.ID),
		zap.String("role", user.Role.String()),
	)
	return nil
}

// UpdateUser persists a role change or deactivation if the stored version still matches
func (r *UserRepository) UpdateUser(ctx context.Context, user *entities.User, expectedVersion int, entry *entities.AuditEntry) error {
	partition := schema.AuditPartition(entry.Target)
	err := r.client.commitSequenced(ctx, "UpdateUser", partition, func(seq *sequence, tx *transaction) error {
		cond := versionIs(expectedVersion)
		tx.put(labelUser, newUserItem(user), &cond)
		return r.client.putAudit(seq, tx, entry)
	})
	if _, ok := asConditionError(err); ok {
		current, getErr := r.GetUser(ctx, user.ID)
		if getErr != nil {
			return getErr
		}
		return pkgerrors.ErrVersionMismatch(expectedVersion, current.Version)
	}
	return err
}

// ListUsers returns one page of an institution's users from GSI1
func (r *UserRepository) ListUsers(ctx context.Context, institutionID string, page ports.PageRequest) (ports.Page[*entities.User], error) {
	items, next, err := r.client.queryPage(ctx, "ListUsers", schema.UsersByInstitution(institutionID), nil, page)
	if err != nil {
		return ports.Page[*entities.User]{}, err
	}

	var rows []userItem
	if err := attributevalue.UnmarshalListOfMaps(items, &rows); err != nil {
		return ports.Page[*entities.User]{}, pkgerrors.NewInternalError("failed to unmarshal users").WithCause(err)
	}
	users := make([]*entities.User, 0, len(rows))
	for _, row := range rows {
		u, err := row.toEntity()
		if err != nil {
			return ports.Page[*entities.User]{}, pkgerrors.NewInternalError("stored user is malformed").WithCause(err)
		}
		users = append(users, u)
	}
	return ports.Page[*entities.User]{Items: users, NextToken: next}, nil
}
