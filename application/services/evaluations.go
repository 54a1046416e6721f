package services

import (
	"context"

	"github.com/MiguelSchuhAlles/preanesth-app/application/ports"
	"github.com/MiguelSchuhAlles/preanesth-app/domain/core/entities"
	"github.com/MiguelSchuhAlles/preanesth-app/domain/core/valueobjects"
	pkgerrors "github.com/MiguelSchuhAlles/preanesth-app/pkg/errors"
)

// CreateEvaluation stores a new draft authored by the caller for a non-archived patient.
func (s *RecordStore) CreateEvaluation(ctx context.Context, caller Caller, patientID string, payload any) (*entities.Evaluation, error) {
	c := s.begin(caller, entities.ActionCreate, "createEvaluation",
		entities.TargetRef{Kind: entities.KindEvaluation})
	return execute(ctx, s, c, func() (*entities.Evaluation, error) {
		if err := c.authorize(permEvaluationWrite); err != nil {
			return nil, err
		}
		body, err := s.schemas.EvaluationPayload(payload)
		if err != nil {
			return nil, err
		}
		patient, err := s.tenantPatient(ctx, c, patientID)
		if err != nil {
			return nil, err
		}
		if patient.Archived {
			return nil, pkgerrors.ErrPatientArchived()
		}
		institution, err := s.institution(ctx, c)
		if err != nil {
			return nil, err
		}
		now := s.now()
		draft := func(id valueobjects.Token) (*entities.Evaluation, error) {
			return entities.NewDraftEvaluation(id, patient.ID, caller.InstitutionID, caller.UserID,
				body, institution.Config.RetainUntil(now), now), nil
		}
		return s.repos.Evaluations.CreateEvaluation(ctx, patient, draft, s.entry(c, c.target))
	})
}

// GetEvaluation returns one evaluation of a patient of the caller's institution.
func (s *RecordStore) GetEvaluation(ctx context.Context, caller Caller, patientID, evaluationID string) (*entities.Evaluation, error) {
	c := s.begin(caller, entities.ActionRead, "getEvaluation",
		entities.TargetRef{Kind: entities.KindEvaluation, ID: evaluationID})
	return execute(ctx, s, c, func() (*entities.Evaluation, error) {
		if err := c.authorize(permClinicalRead); err != nil {
			return nil, err
		}
		evaluation, err := s.loadEvaluation(ctx, c, patientID, evaluationID)
		if err != nil {
			return nil, err
		}
		if err := s.read(ctx, c); err != nil {
			return nil, err
		}
		return evaluation, nil
	})
}

// UpdateDraftEvaluation replaces the payload of a draft.
func (s *RecordStore) UpdateDraftEvaluation(ctx context.Context, caller Caller, patientID, evaluationID string,
	payload any, expectedVersion *int) (*entities.Evaluation, error) {
	c := s.begin(caller, entities.ActionUpdate, "updateDraftEvaluation",
		entities.TargetRef{Kind: entities.KindEvaluation, ID: evaluationID})
	return execute(ctx, s, c, func() (*entities.Evaluation, error) {
		if err := c.authorize(permEvaluationWrite); err != nil {
			return nil, err
		}
		body, err := s.schemas.EvaluationPayload(payload)
		if err != nil {
			return nil, err
		}
		evaluation, err := s.loadEvaluation(ctx, c, patientID, evaluationID)
		if err != nil {
			return nil, err
		}
		return s.saveDraft(ctx, c, evaluation, expectedVersion, func(e *entities.Evaluation) error {
			return e.UpdatePayload(body, s.now())
		})
	})
}

// FinalizeEvaluation locks a draft. Institutions requiring a second signature need a cosigner:
// an active clinician of the same institution other than the author.
func (s *RecordStore) FinalizeEvaluation(ctx context.Context, caller Caller, patientID, evaluationID, cosignerUserID string,
	expectedVersion *int) (*entities.Evaluation, error) {
	c := s.begin(caller, entities.ActionFinalize, "finalizeEvaluation",
		entities.TargetRef{Kind: entities.KindEvaluation, ID: evaluationID})
	return execute(ctx, s, c, func() (*entities.Evaluation, error) {
		if err := c.authorize(permEvaluationWrite); err != nil {
			return nil, err
		}
		evaluation, err := s.loadEvaluation(ctx, c, patientID, evaluationID)
		if err != nil {
			return nil, err
		}
		if status := evaluation.Status(); status.Locked() {
			return nil, pkgerrors.ErrAlreadyFinalized(status.String())
		}
		institution, err := s.institution(ctx, c)
		if err != nil {
			return nil, err
		}
		if cosignerUserID != "" {
			if err := s.checkCosigner(ctx, caller, cosignerUserID); err != nil {
				return nil, err
			}
		}
		required := institution.Config.SecondSignatureRequired()
		return s.saveDraft(ctx, c, evaluation, expectedVersion, func(e *entities.Evaluation) error {
			return e.Finalize(caller.UserID, cosignerUserID, required, s.now())
		})
	})
}

// AmendEvaluation supersedes a finalized evaluation with a new Amended one. The original is
// never modified, and each evaluation is superseded at most once.
func (s *RecordStore) AmendEvaluation(ctx context.Context, caller Caller, patientID, evaluationID string, payload any) (*entities.Evaluation, error) {
	c := s.begin(caller, entities.ActionAmend, "amendEvaluation",
		entities.TargetRef{Kind: entities.KindEvaluation, ID: evaluationID})
	return execute(ctx, s, c, func() (*entities.Evaluation, error) {
		if err := c.authorize(permEvaluationWrite); err != nil {
			return nil, err
		}
		body, err := s.schemas.EvaluationPayload(payload)
		if err != nil {
			return nil, err
		}
		original, err := s.loadEvaluation(ctx, c, patientID, evaluationID)
		if err != nil {
			return nil, err
		}
		if !original.Status().Locked() {
			return nil, pkgerrors.ErrNotFinalized()
		}
		institution, err := s.institution(ctx, c)
		if err != nil {
			return nil, err
		}
		now := s.now()
		amendment := func(id valueobjects.Token) (*entities.Evaluation, error) {
			return original.Amend(id, caller.UserID, body, institution.Config.RetainUntil(now), now)
		}
		target := entities.EvaluationTarget(caller.InstitutionID, original.PatientID(), "")
		return s.repos.Evaluations.AmendEvaluation(ctx, original, amendment, s.entry(c, target))
	})
}

// ListEvaluations returns one chronological page of a patient's evaluations.
func (s *RecordStore) ListEvaluations(ctx context.Context, caller Caller, patientID string,
	page ports.PageRequest) (ports.Page[*entities.Evaluation], error) {
	c := s.begin(caller, entities.ActionRead, "listEvaluations",
		entities.TargetRef{Kind: entities.KindEvaluation})
	return execute(ctx, s, c, func() (ports.Page[*entities.Evaluation], error) {
		var none ports.Page[*entities.Evaluation]
		if err := c.authorize(permClinicalRead); err != nil {
			return none, err
		}
		if _, err := s.tenantPatient(ctx, c, patientID); err != nil {
			return none, err
		}
		result, err := s.repos.Evaluations.ListEvaluations(ctx, patientID, page)
		if err != nil {
			return none, err
		}
		if err := s.read(ctx, c); err != nil {
			return none, err
		}
		return result, nil
	})
}

// loadEvaluation resolves the patient within the caller's institution, then the evaluation.
func (s *RecordStore) loadEvaluation(ctx context.Context, c *call, patientID, evaluationID string) (*entities.Evaluation, error) {
	id, err := s.schemas.Token("evaluationId", evaluationID)
	if err != nil {
		return nil, err
	}
	patient, err := s.tenantPatient(ctx, c, patientID)
	if err != nil {
		return nil, err
	}
	return s.repos.Evaluations.GetEvaluation(ctx, patient.ID, id)
}

func (s *RecordStore) saveDraft(ctx context.Context, c *call, evaluation *entities.Evaluation, expectedVersion *int,
	change func(*entities.Evaluation) error) (*entities.Evaluation, error) {
	if err := checkVersion(expectedVersion, evaluation.Version()); err != nil {
		return nil, err
	}
	version := evaluation.Version()
	if err := change(evaluation); err != nil {
		return nil, err
	}
	if err := s.repos.Evaluations.SaveDraft(ctx, evaluation, version, s.entry(c, c.target)); err != nil {
		return nil, err
	}
	return evaluation, nil
}

func (s *RecordStore) checkCosigner(ctx context.Context, caller Caller, cosignerUserID string) error {
	invalid := pkgerrors.NewValidationError("invalid cosigner", pkgerrors.FieldViolation{
		Field:      "cosignerUserId",
		Constraint: "cosigner",
		Message:    "cosignerUserId must name an active clinician of the institution",
	})
	if err := s.schemas.IDs(map[string]string{"cosignerUserId": cosignerUserID}); err != nil {
		return err
	}
	cosigner, err := s.repos.Users.GetUser(ctx, cosignerUserID)
	if pkgerrors.IsNotFound(err) {
		return invalid
	}
	if err != nil {
		return err
	}
	if cosigner.InstitutionID != caller.InstitutionID || !cosigner.Active || cosigner.Role != entities.RoleClinician {
		return invalid
	}
	return nil
}
