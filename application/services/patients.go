package services

import (
	"context"

	"github.com/MiguelSchuhAlles/preanesth-app/application/ports"
	"github.com/MiguelSchuhAlles/preanesth-app/domain/core/entities"
	"github.com/MiguelSchuhAlles/preanesth-app/domain/core/valueobjects"
	pkgerrors "github.com/MiguelSchuhAlles/preanesth-app/pkg/errors"
)

// CreatePatient registers a patient in the caller's institution. The cpf must be unique within it.
func (s *RecordStore) CreatePatient(ctx context.Context, caller Caller, fields map[string]any) (*entities.Patient, error) {
	patientID := s.newID()
	c := s.begin(caller, entities.ActionCreate, "createPatient",
		entities.TargetRef{Kind: entities.KindPatient, ID: patientID})
	return execute(ctx, s, c, func() (*entities.Patient, error) {
		if err := c.authorize(permPatientWrite); err != nil {
			return nil, err
		}
		input, err := s.schemas.Patient(fields)
		if err != nil {
			return nil, err
		}
		patient := entities.NewPatient(patientID, caller.InstitutionID, input, s.now())
		entry := s.entry(c, entities.PatientTarget(caller.InstitutionID, patientID))
		if err := s.repos.Patients.CreatePatient(ctx, patient, entry); err != nil {
			return nil, err
		}
		return patient, nil
	})
}

// GetPatient returns a patient of the caller's institution.
func (s *RecordStore) GetPatient(ctx context.Context, caller Caller, patientID string) (*entities.Patient, error) {
	c := s.begin(caller, entities.ActionRead, "getPatient",
		entities.TargetRef{Kind: entities.KindPatient, ID: patientID})
	return execute(ctx, s, c, func() (*entities.Patient, error) {
		if err := c.authorize(permClinicalRead); err != nil {
			return nil, err
		}
		patient, err := s.tenantPatient(ctx, c, patientID)
		if err != nil {
			return nil, err
		}
		if err := s.read(ctx, c); err != nil {
			return nil, err
		}
		return patient, nil
	})
}

// FindPatientByCPF looks a patient up by cpf within the caller's institution. The cpf itself
// is never recorded in the audit trail.
func (s *RecordStore) FindPatientByCPF(ctx context.Context, caller Caller, cpf string) (*entities.Patient, error) {
	c := s.begin(caller, entities.ActionRead, "findPatientByCpf",
		entities.TargetRef{Kind: entities.KindPatient})
	return execute(ctx, s, c, func() (*entities.Patient, error) {
		if err := c.authorize(permClinicalRead); err != nil {
			return nil, err
		}
		parsed, err := valueobjects.ParseCPF(cpf)
		if err != nil {
			return nil, pkgerrors.NewValidationError("invalid cpf", pkgerrors.FieldViolation{
				Field:      "cpf",
				Constraint: "cpf",
				Message:    err.Error(),
			})
		}
		patient, err := s.repos.Patients.FindPatientByCPF(ctx, caller.InstitutionID, parsed)
		if err != nil {
			return nil, err
		}
		c.target = entities.PatientTarget(caller.InstitutionID, patient.ID)
		if err := s.read(ctx, c); err != nil {
			return nil, err
		}
		return patient, nil
	})
}

// ListPatients returns one page of the caller institution's patients ordered by id.
func (s *RecordStore) ListPatients(ctx context.Context, caller Caller, page ports.PageRequest) (ports.Page[*entities.Patient], error) {
	c := s.begin(caller, entities.ActionRead, "listPatients",
		entities.TargetRef{Kind: entities.KindPatient})
	return execute(ctx, s, c, func() (ports.Page[*entities.Patient], error) {
		if err := c.authorize(permClinicalRead); err != nil {
			return ports.Page[*entities.Patient]{}, err
		}
		result, err := s.repos.Patients.ListPatients(ctx, caller.InstitutionID, page)
		if err != nil {
			return ports.Page[*entities.Patient]{}, err
		}
		if err := s.read(ctx, c); err != nil {
			return ports.Page[*entities.Patient]{}, err
		}
		return result, nil
	})
}

// UpdatePatient applies a partial update. When expectedVersion is set it must match the stored
// version.
func (s *RecordStore) UpdatePatient(ctx context.Context, caller Caller, patientID string,
	fields map[string]any, expectedVersion *int) (*entities.Patient, error) {
	c := s.begin(caller, entities.ActionUpdate, "updatePatient",
		entities.TargetRef{Kind: entities.KindPatient, ID: patientID})
	return execute(ctx, s, c, func() (*entities.Patient, error) {
		if err := c.authorize(permPatientWrite); err != nil {
			return nil, err
		}
		update, err := s.schemas.PatientUpdate(fields)
		if err != nil {
			return nil, err
		}
		patient, err := s.tenantPatient(ctx, c, patientID)
		if err != nil {
			return nil, err
		}
		if err := checkVersion(expectedVersion, patient.Version); err != nil {
			return nil, err
		}
		version := patient.Version
		previous, err := patient.Apply(update, s.now())
		if err != nil {
			return nil, err
		}
		if err := s.repos.Patients.UpdatePatient(ctx, patient, previous, version, s.entry(c, c.target)); err != nil {
			return nil, err
		}
		return patient, nil
	})
}

// ArchivePatient archives a patient. Archived patients stay readable but accept no new
// evaluations.
func (s *RecordStore) ArchivePatient(ctx context.Context, caller Caller, patientID string, expectedVersion *int) (*entities.Patient, error) {
	c := s.begin(caller, entities.ActionUpdate, "archivePatient",
		entities.TargetRef{Kind: entities.KindPatient, ID: patientID})
	return execute(ctx, s, c, func() (*entities.Patient, error) {
		if err := c.authorize(permPatientWrite); err != nil {
			return nil, err
		}
		patient, err := s.tenantPatient(ctx, c, patientID)
		if err != nil {
			return nil, err
		}
		if err := checkVersion(expectedVersion, patient.Version); err != nil {
			return nil, err
		}
		version := patient.Version
		if err := patient.Archive(s.now()); err != nil {
			return nil, err
		}
		if err := s.repos.Patients.UpdatePatient(ctx, patient, patient.CPF, version, s.entry(c, c.target)); err != nil {
			return nil, err
		}
		return patient, nil
	})
}
