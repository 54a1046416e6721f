package dynamodb

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"go.uber.org/zap"

	"github.com/MiguelSchuhAlles/preanesth-app/application/ports"
	"github.com/MiguelSchuhAlles/preanesth-app/domain/core/entities"
	"github.com/MiguelSchuhAlles/preanesth-app/domain/core/valueobjects"
	"github.com/MiguelSchuhAlles/preanesth-app/infrastructure/persistence/schema"
	pkgerrors "github.com/MiguelSchuhAlles/preanesth-app/pkg/errors"
)

// PatientRepository implements ports.PatientRepository using DynamoDB
type PatientRepository struct {
	client *Client
	logger *zap.Logger
}

// NewPatientRepository creates a new PatientRepository
func NewPatientRepository(client *Client, logger *zap.Logger) *PatientRepository {
	return &PatientRepository{client: client, logger: logger}
}

var _ ports.PatientRepository = (*PatientRepository)(nil)

// GetPatient retrieves a patient within an institution
func (r *PatientRepository) GetPatient(ctx context.Context, institutionID, patientID string) (*entities.Patient, error) {
	var item patientItem
	found, err := r.client.getInto(ctx, "GetPatient", schema.PatientKey(institutionID, patientID), &item)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, pkgerrors.NewNotFoundError("patient")
	}
	return item.toEntity(), nil
}

// FindPatientByCPF resolves the cpf guard, then reads the patient it points to
func (r *PatientRepository) FindPatientByCPF(ctx context.Context, institutionID string, cpf valueobjects.CPF) (*entities.Patient, error) {
	var guard cpfGuardItem
	found, err := r.client.getInto(ctx, "FindPatientByCPF", schema.CPFGuardKey(institutionID, cpf), &guard)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, pkgerrors.NewNotFoundError("patient")
	}
	return r.GetPatient(ctx, institutionID, guard.PatientID)
}

// CreatePatient writes the patient, its cpf guard and the audit entry in one transaction
func (r *PatientRepository) CreatePatient(ctx context.Context, patient *entities.Patient, entry *entities.AuditEntry) error {
	partition := schema.AuditPartition(entry.Target)
	err := r.client.commitSequenced(ctx, "CreatePatient", partition, func(seq *sequence, tx *transaction) error {
		tx.put(labelPatient, newPatientItem(patient), notExists())
		tx.put(labelCPF, newCPFGuardItem(patient, patient.CreatedAt), notExists())
		return r.client.putAudit(seq, tx, entry)
	})
	if ce, ok := asConditionError(err); ok {
		switch {
		case ce.failed(labelCPF):
			r.logger.Debug("Duplicate cpf rejected",
				zap.String("institutionID", patient.InstitutionID),
				zap.String("patientID", patient.ID),
			)
			return pkgerrors.ErrDuplicateCPF()
		case ce.failed(labelPatient):
			return pkgerrors.NewConflictError(pkgerrors.CodeDuplicateIdentifier, "patient id already exists")
		}
		return r.client.internal("CreatePatient", err)
	}
	if err != nil {
		return err
	}

	r.logger.Info("Patient created",
		zap.String("institutionID", patient.InstitutionID),
		zap.String("patientID", patient.ID),
	)
	return nil
}

// UpdatePatient persists a patient change. A cpf change moves the uniqueness guard atomically.
func (r *PatientRepository) UpdatePatient(ctx context.Context, patient *entities.Patient, previousCPF valueobjects.CPF,
	expectedVersion int, entry *entities.AuditEntry) error {
	partition := schema.AuditPartition(entry.Target)
	err := r.client.commitSequenced(ctx, "UpdatePatient", partition, func(seq *sequence, tx *transaction) error {
		cond := versionIs(expectedVersion).And(expression.Name(attrArchived).Equal(expression.Value(false)))
		tx.put(labelPatient, newPatientItem(patient), &cond)
		if patient.CPF != previousCPF {
			tx.put(labelCPF, newCPFGuardItem(patient, patient.UpdatedAt), notExists())
			tx.delete(labelPreviousCPF, schema.CPFGuardKey(patient.InstitutionID, previousCPF),
				expression.Name(attrPatient).Equal(expression.Value(patient.ID)))
		}
		return r.client.putAudit(seq, tx, entry)
	})
	if ce, ok := asConditionError(err); ok {
		if ce.failed(labelCPF) {
			return pkgerrors.ErrDuplicateCPF()
		}
		return r.diagnose(ctx, patient.InstitutionID, patient.ID, expectedVersion)
	}
	return err
}

// diagnose explains why a versioned patient write failed its condition.
func (r *PatientRepository) diagnose(ctx context.Context, institutionID, patientID string, expectedVersion int) error {
	current, err := r.GetPatient(ctx, institutionID, patientID)
	if err != nil {
		return err
	}
	if current.Archived {
		return pkgerrors.ErrPatientArchived()
	}
	return pkgerrors.ErrVersionMismatch(expectedVersion, current.Version)
}

// ListPatients returns one page of an institution's patients
func (r *PatientRepository) ListPatients(ctx context.Context, institutionID string, page ports.PageRequest) (ports.Page[*entities.Patient], error) {
	items, next, err := r.client.queryPage(ctx, "ListPatients", schema.PatientsByInstitution(institutionID), nil, page)
	if err != nil {
		return ports.Page[*entities.Patient]{}, err
	}

	var rows []patientItem
	if err := attributevalue.UnmarshalListOfMaps(items, &rows); err != nil {
		return ports.Page[*entities.Patient]{}, pkgerrors.NewInternalError("failed to unmarshal patients").WithCause(err)
	}
	patients := make([]*entities.Patient, 0, len(rows))
	for _, row := range rows {
		patients = append(patients, row.toEntity())
	}
	return ports.Page[*entities.Patient]{Items: patients, NextToken: next}, nil
}

// patientIsOpen is the condition on a patient that can still receive evaluations.
func patientIsOpen() expression.ConditionBuilder {
	return exists().And(expression.Name(attrArchived).Equal(expression.Value(false)))
}
