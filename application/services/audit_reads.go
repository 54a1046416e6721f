package services

import (
	"context"

	"github.com/MiguelSchuhAlles/preanesth-app/application/audit"
	"github.com/MiguelSchuhAlles/preanesth-app/application/ports"
	"github.com/MiguelSchuhAlles/preanesth-app/domain/core/entities"
)

// Audit reads are restricted to admins and auditors and are not themselves audited, except for
// forbidden attempts.

func (s *RecordStore) ListPatientAudit(ctx context.Context, caller Caller, patientID string,
	page ports.PageRequest) (ports.Page[*entities.AuditEntry], error) {
	c := s.auditCall(caller, "listPatientAudit")
	return execute(ctx, s, c, func() (ports.Page[*entities.AuditEntry], error) {
		if err := c.authorize(permAuditRead); err != nil {
			return ports.Page[*entities.AuditEntry]{}, err
		}
		if _, err := s.tenantPatient(ctx, c, patientID); err != nil {
			return ports.Page[*entities.AuditEntry]{}, err
		}
		return s.repos.Audit.ListAudit(ctx, entities.PatientTarget(caller.InstitutionID, patientID), page)
	})
}

// ListInstitutionAudit pages the trail of institution-level operations: provisioning, config,
// user administration and failures that never reached a patient.
func (s *RecordStore) ListInstitutionAudit(ctx context.Context, caller Caller, page ports.PageRequest) (ports.Page[*entities.AuditEntry], error) {
	c := s.auditCall(caller, "listInstitutionAudit")
	return execute(ctx, s, c, func() (ports.Page[*entities.AuditEntry], error) {
		if err := c.authorize(permAuditRead); err != nil {
			return ports.Page[*entities.AuditEntry]{}, err
		}
		return s.repos.Audit.ListAudit(ctx, entities.InstitutionTarget(caller.InstitutionID), page)
	})
}

// ListAuditByPerformer pages what a user did within the caller's institution, optionally
// narrowed to one patient.
func (s *RecordStore) ListAuditByPerformer(ctx context.Context, caller Caller, userID, patientID string,
	page ports.PageRequest) (ports.Page[*entities.AuditEntry], error) {
	c := s.auditCall(caller, "listAuditByPerformer")
	return execute(ctx, s, c, func() (ports.Page[*entities.AuditEntry], error) {
		if err := c.authorize(permAuditRead); err != nil {
			return ports.Page[*entities.AuditEntry]{}, err
		}
		ids := map[string]string{"userId": userID}
		if patientID != "" {
			ids["patientId"] = patientID
		}
		if err := s.schemas.IDs(ids); err != nil {
			return ports.Page[*entities.AuditEntry]{}, err
		}
		return s.repos.Audit.ListAuditByPerformer(ctx, caller.InstitutionID, userID, patientID, page)
	})
}

// VerifyAuditChain recomputes the hash chain of a patient's trail, or of the institution's own
// trail when patientID is empty.
func (s *RecordStore) VerifyAuditChain(ctx context.Context, caller Caller, patientID string) (*audit.ChainReport, error) {
	c := s.auditCall(caller, "verifyAuditChain")
	return execute(ctx, s, c, func() (*audit.ChainReport, error) {
		if err := c.authorize(permAuditRead); err != nil {
			return nil, err
		}
		target := entities.InstitutionTarget(caller.InstitutionID)
		if patientID != "" {
			if _, err := s.tenantPatient(ctx, c, patientID); err != nil {
				return nil, err
			}
			target = entities.PatientTarget(caller.InstitutionID, patientID)
		}
		return s.audit.VerifyChain(ctx, target)
	})
}

func (s *RecordStore) auditCall(caller Caller, operation string) *call {
	c := s.begin(caller, entities.ActionRead, operation, entities.InstitutionTarget(caller.InstitutionID))
	c.unaudited = true
	return c
}
