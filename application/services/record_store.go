package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/MiguelSchuhAlles/preanesth-app/application/audit"
	"github.com/MiguelSchuhAlles/preanesth-app/application/ports"
	"github.com/MiguelSchuhAlles/preanesth-app/domain/core/entities"
	"github.com/MiguelSchuhAlles/preanesth-app/domain/core/validators"
	"github.com/MiguelSchuhAlles/preanesth-app/domain/core/valueobjects"
	pkgerrors "github.com/MiguelSchuhAlles/preanesth-app/pkg/errors"
)

// Caller is the authenticated identity a request runs as.
type Caller struct {
	UserID        string
	InstitutionID string
	Role          entities.Role
}

func (c Caller) actor() audit.Actor {
	return audit.Actor{InstitutionID: c.InstitutionID, UserID: c.UserID}
}

// Repositories groups the persistence ports the record store uses.
type Repositories struct {
	Institutions ports.InstitutionRepository
	Users        ports.UserRepository
	Patients     ports.PatientRepository
	Evaluations  ports.EvaluationRepository
	Audit        ports.AuditRepository
}

// Option configures a RecordStore.
type Option func(*RecordStore)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *RecordStore) { s.now = now }
}

// WithIDGenerator replaces the generator of patient and institution ids.
func WithIDGenerator(newID func() string) Option {
	return func(s *RecordStore) { s.newID = newID }
}

// RecordStore runs the clinical record operations for an authenticated caller. Every operation
// checks the caller's role, confines it to the caller's institution, validates its input and
// pairs it with exactly one audit entry, failing closed when that entry cannot be written.
type RecordStore struct {
	repos   Repositories
	audit   *audit.Logger
	schemas *validators.Schemas
	now     func() time.Time
	newID   func() string
	logger  *zap.Logger
}

// NewRecordStore creates a new record store
func NewRecordStore(repos Repositories, auditLog *audit.Logger, schemas *validators.Schemas, logger *zap.Logger, opts ...Option) *RecordStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &RecordStore{
		repos:   repos,
		audit:   auditLog,
		schemas: schemas,
		now:     time.Now,
		newID:   valueobjects.NewPatientID,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// call is the audit context of one operation.
type call struct {
	caller    Caller
	action    entities.AuditAction
	operation string
	target    entities.TargetRef
	// unaudited operations only record forbidden attempts
	unaudited bool
}

func (s *RecordStore) begin(caller Caller, action entities.AuditAction, operation string, target entities.TargetRef) *call {
	if target.InstitutionID == "" {
		target.InstitutionID = caller.InstitutionID
	}
	return &call{caller: caller, action: action, operation: operation, target: target}
}

// entry prepares the success entry of a mutation on target.
func (s *RecordStore) entry(c *call, target entities.TargetRef) *entities.AuditEntry {
	return s.audit.Entry(c.caller.actor(), c.action, c.operation, target)
}

// read records the successful read of c.target.
func (s *RecordStore) read(ctx context.Context, c *call) error {
	return s.audit.Read(ctx, c.caller.actor(), c.operation, c.target)
}

// execute runs fn and records its failure. A caller whose identity cannot be attributed is
// rejected before anything runs.
func execute[T any](ctx context.Context, s *RecordStore, c *call, fn func() (T, error)) (T, error) {
	var zero T
	if err := s.schemas.IDs(map[string]string{
		"institutionId": c.caller.InstitutionID,
		"callerUserId":  c.caller.UserID,
	}); err != nil {
		return zero, pkgerrors.NewUnauthorizedError("caller identity is malformed").WithCause(err)
	}

	v, err := fn()
	if err == nil {
		return v, nil
	}
	err = pkgerrors.Normalize(err)
	if c.unaudited && !pkgerrors.IsForbidden(err) {
		return zero, err
	}
	if !pkgerrors.IsValidation(err) && !pkgerrors.IsForbidden(err) {
		s.logger.Debug("Operation failed",
			zap.String("operation", c.operation),
			zap.String("institutionID", c.caller.InstitutionID),
			zap.String("code", pkgerrors.CodeOf(err)),
		)
	}
	return zero, s.audit.Failure(ctx, c.caller.actor(), c.action, c.operation, c.target, err)
}

type permission int

const (
	permPatientWrite permission = iota
	permClinicalRead
	permEvaluationWrite
	permAdministration
	permAuditRead
)

var permissions = map[permission][]entities.Role{
	permPatientWrite:    {entities.RoleAdmin, entities.RoleClinician},
	permClinicalRead:    {entities.RoleAdmin, entities.RoleClinician},
	permEvaluationWrite: {entities.RoleClinician},
	permAdministration:  {entities.RoleAdmin},
	permAuditRead:       {entities.RoleAdmin, entities.RoleAuditor},
}

func (c *call) authorize(p permission) error {
	for _, role := range permissions[p] {
		if c.caller.Role == role {
			return nil
		}
	}
	role := "unknown"
	if c.caller.Role.Valid() {
		role = c.caller.Role.String()
	}
	return pkgerrors.NewForbiddenError("role " + role + " may not perform " + c.operation)
}

// tenantPatient loads patientID within the caller's institution. A patient of another
// institution is reported as missing. Once found, the audit target moves to the patient's trail.
func (s *RecordStore) tenantPatient(ctx context.Context, c *call, patientID string) (*entities.Patient, error) {
	if err := s.schemas.IDs(map[string]string{"patientId": patientID}); err != nil {
		return nil, err
	}
	patient, err := s.repos.Patients.GetPatient(ctx, c.caller.InstitutionID, patientID)
	if err != nil {
		return nil, err
	}
	c.target.PatientID = patient.ID
	return patient, nil
}

func (s *RecordStore) institution(ctx context.Context, c *call) (*entities.Institution, error) {
	return s.repos.Institutions.GetInstitution(ctx, c.caller.InstitutionID)
}

func checkVersion(expected *int, actual int) error {
	if expected != nil && *expected != actual {
		return pkgerrors.ErrVersionMismatch(*expected, actual)
	}
	return nil
}

// Reject records that operation was refused before it reached the store, typically because its
// parameters could not be decoded, and returns the error for the caller.
func (s *RecordStore) Reject(ctx context.Context, caller Caller, operation string, action entities.AuditAction,
	kind entities.EntityKind, audited bool, cause error) error {
	c := s.begin(caller, action, operation, entities.TargetRef{Kind: kind})
	c.unaudited = !audited
	_, err := execute(ctx, s, c, func() (struct{}, error) { return struct{}{}, cause })
	return err
}
