package ports

import (
	"context"
	"iter"

	"github.com/MiguelSchuhAlles/preanesth-app/domain/core/entities"
	"github.com/MiguelSchuhAlles/preanesth-app/domain/core/valueobjects"
)

// PageRequest selects one page of a chronological or key-ordered listing.
// Token is the opaque NextToken of the previous page; empty starts from the beginning.
type PageRequest struct {
	Token string
	Limit int
}

// Page is one page of results. NextToken is empty on the last page.
type Page[T any] struct {
	Items     []T    `json:"items"`
	NextToken string `json:"nextPageToken,omitempty"`
}

// Item is one element of a lazy listing. PageToken resumes the listing right after Value.
type Item[T any] struct {
	Value     T
	PageToken string
}

// Mutations take the audit entry describing their success. The store assigns the entry its
// token, timestamp and chain hash and commits it atomically with the mutation; when the
// mutation fails nothing, including the entry, is written.

// InstitutionRepository defines the interface for institution persistence
type InstitutionRepository interface {
	// GetInstitution retrieves an institution by its ID
	GetInstitution(ctx context.Context, institutionID string) (*entities.Institution, error)

	// ProvisionInstitution creates an institution together with its first admin
	ProvisionInstitution(ctx context.Context, institution *entities.Institution, admin *entities.User, entry *entities.AuditEntry) error

	// UpdateInstitution persists a config change if the stored version still matches
	UpdateInstitution(ctx context.Context, institution *entities.Institution, expectedVersion int, entry *entities.AuditEntry) error
}

// UserRepository defines the interface for user persistence
type UserRepository interface {
	GetUser(ctx context.Context, userID string) (*entities.User, error)
	CreateUser(ctx context.Context, user *entities.User, entry *entities.AuditEntry) error
	UpdateUser(ctx context.Context, user *entities.User, expectedVersion int, entry *entities.AuditEntry) error
	ListUsers(ctx context.Context, institutionID string, page PageRequest) (Page[*entities.User], error)
}

// PatientRepository defines the interface for patient persistence
type PatientRepository interface {
	// GetPatient retrieves a patient within an institution
	GetPatient(ctx context.Context, institutionID, patientID string) (*entities.Patient, error)

	// FindPatientByCPF resolves the cpf uniqueness guard, then the patient
	FindPatientByCPF(ctx context.Context, institutionID string, cpf valueobjects.CPF) (*entities.Patient, error)

	// CreatePatient creates a patient; a concurrent or existing patient with the same cpf fails with DUPLICATE_CPF
	CreatePatient(ctx context.Context, patient *entities.Patient, entry *entities.AuditEntry) error

	// UpdatePatient persists a patient change, moving the cpf guard when the cpf changed
	UpdatePatient(ctx context.Context, patient *entities.Patient, previousCPF valueobjects.CPF, expectedVersion int, entry *entities.AuditEntry) error

	ListPatients(ctx context.Context, institutionID string, page PageRequest) (Page[*entities.Patient], error)
}

// EvaluationFactory builds a new evaluation for the id the store assigned.
type EvaluationFactory func(id valueobjects.Token) (*entities.Evaluation, error)

// EvaluationRepository defines the interface for evaluation persistence
type EvaluationRepository interface {
	GetEvaluation(ctx context.Context, patientID string, evaluationID valueobjects.Token) (*entities.Evaluation, error)

	// CreateEvaluation stores a new draft for an existing, non-archived patient
	CreateEvaluation(ctx context.Context, patient *entities.Patient, newDraft EvaluationFactory, entry *entities.AuditEntry) (*entities.Evaluation, error)

	// SaveDraft persists a payload change or finalization of an evaluation that is still a
	// draft at expectedVersion in storage
	SaveDraft(ctx context.Context, evaluation *entities.Evaluation, expectedVersion int, entry *entities.AuditEntry) error

	// AmendEvaluation stores the evaluation superseding original; an evaluation is superseded at most once
	AmendEvaluation(ctx context.Context, original *entities.Evaluation, newAmendment EvaluationFactory, entry *entities.AuditEntry) (*entities.Evaluation, error)

	// ListEvaluations returns one chronological page
	ListEvaluations(ctx context.Context, patientID string, page PageRequest) (Page[*entities.Evaluation], error)

	// Evaluations lazily yields every evaluation after the page token, chronologically. A
	// consumer that stops early resumes from the PageToken of the last item it kept.
	Evaluations(ctx context.Context, patientID string, pageToken string) iter.Seq2[Item[*entities.Evaluation], error]
}

// AuditRepository defines the interface for the append-only audit trail
type AuditRepository interface {
	// AppendAudit writes a standalone entry, used for failures and reads
	AppendAudit(ctx context.Context, entry *entities.AuditEntry) error

	// ListAudit returns a chronological page of the partition target belongs to
	ListAudit(ctx context.Context, target entities.TargetRef, page PageRequest) (Page[*entities.AuditEntry], error)

	// ListAuditByPerformer returns entries performed by a user within one institution,
	// optionally narrowed to a patient
	ListAuditByPerformer(ctx context.Context, institutionID, userID, patientID string, page PageRequest) (Page[*entities.AuditEntry], error)

	// AuditTrail lazily yields the whole chain of the partition target belongs to
	AuditTrail(ctx context.Context, target entities.TargetRef) iter.Seq2[*entities.AuditEntry, error]

	// AuditHead returns the hash of the partition's latest entry
	AuditHead(ctx context.Context, target entities.TargetRef) (string, error)
}
