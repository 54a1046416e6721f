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
	"github.com/MiguelSchuhAlles/preanesth-app/domain/core/valueobjects"
	"github.com/MiguelSchuhAlles/preanesth-app/infrastructure/persistence/schema"
	pkgerrors "github.com/MiguelSchuhAlles/preanesth-app/pkg/errors"
)

// EvaluationRepository implements ports.EvaluationRepository using DynamoDB
type EvaluationRepository struct {
	client *Client
	logger *zap.Logger
}

// NewEvaluationRepository creates a new EvaluationRepository
func NewEvaluationRepository(client *Client, logger *zap.Logger) *EvaluationRepository {
	return &EvaluationRepository{client: client, logger: logger}
}

var _ ports.EvaluationRepository = (*EvaluationRepository)(nil)

// GetEvaluation retrieves one evaluation of a patient
func (r *EvaluationRepository) GetEvaluation(ctx context.Context, patientID string, evaluationID valueobjects.Token) (*entities.Evaluation, error) {
	var item evaluationItem
	found, err := r.client.getInto(ctx, "GetEvaluation", schema.EvaluationKey(patientID, evaluationID), &item)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, pkgerrors.NewNotFoundError("evaluation")
	}
	return toEvaluation(item)
}

// CreateEvaluation stores a new draft. The evaluation id is the next token of the patient
// partition, so a patient's evaluations sort chronologically.
func (r *EvaluationRepository) CreateEvaluation(ctx context.Context, patient *entities.Patient,
	newDraft ports.EvaluationFactory, entry *entities.AuditEntry) (*entities.Evaluation, error) {
	var created *entities.Evaluation
	partition := schema.PatientPartition(patient.ID)

	err := r.client.commitSequenced(ctx, "CreateEvaluation", partition, func(seq *sequence, tx *transaction) error {
		id, err := seq.next()
		if err != nil {
			return err
		}
		draft, err := newDraft(id)
		if err != nil {
			return err
		}
		created = draft
		entry.Target.ID = id.String()

		tx.check(labelPatient, schema.PatientKey(patient.InstitutionID, patient.ID), patientIsOpen())
		tx.put(labelNewRecord, newEvaluationItem(draft), notExists())
		return r.client.putAudit(seq, tx, entry)
	})
	if ce, ok := asConditionError(err); ok && ce.failed(labelPatient) {
		return nil, r.diagnosePatient(ctx, patient)
	}
	if err != nil {
		return nil, err
	}

	r.logger.Info("Evaluation created",
		zap.String("patientID", patient.ID),
		zap.String("evaluationID", created.ID().String()),
	)
	return created, nil
}

// SaveDraft writes an evaluation that must still be a draft at expectedVersion in storage.
// It serves both payload edits and finalization.
func (r *EvaluationRepository) SaveDraft(ctx context.Context, evaluation *entities.Evaluation, expectedVersion int,
	entry *entities.AuditEntry) error {
	partition := schema.PatientPartition(evaluation.PatientID())
	err := r.client.commitSequenced(ctx, "SaveEvaluation", partition, func(seq *sequence, tx *transaction) error {
		cond := versionIs(expectedVersion).
			And(expression.Name(attrStatus).Equal(expression.Value(entities.StatusDraft.String())))
		tx.put(labelEvaluation, newEvaluationItem(evaluation), &cond)
		return r.client.putAudit(seq, tx, entry)
	})
	if ce, ok := asConditionError(err); ok && ce.failed(labelEvaluation) {
		return r.diagnose(ctx, evaluation.PatientID(), evaluation.ID(), expectedVersion, entry.Action)
	}
	return err
}

// AmendEvaluation stores the evaluation superseding original together with the supersede guard
// that prevents a second amendment.
func (r *EvaluationRepository) AmendEvaluation(ctx context.Context, original *entities.Evaluation,
	newAmendment ports.EvaluationFactory, entry *entities.AuditEntry) (*entities.Evaluation, error) {
	var amended *entities.Evaluation
	patientID := original.PatientID()
	partition := schema.PatientPartition(patientID)

	err := r.client.commitSequenced(ctx, "AmendEvaluation", partition, func(seq *sequence, tx *transaction) error {
		id, err := seq.next()
		if err != nil {
			return err
		}
		amendment, err := newAmendment(id)
		if err != nil {
			return err
		}
		amended = amendment
		entry.Target.ID = id.String()

		guardKey := schema.SupersedeGuardKey(patientID, original.ID())
		tx.check(labelOriginal, schema.EvaluationKey(patientID, original.ID()), versionIs(original.Version()))
		tx.check(labelPatient, schema.PatientKey(original.InstitutionID(), patientID), patientIsOpen())
		tx.put(labelSupersede, supersedeGuardItem{
			PK:           guardKey.PK,
			SK:           guardKey.SK,
			EntityType:   entitySupersedeGuard,
			SupersededBy: id.String(),
			CreatedAt:    formatTime(seq.now),
		}, notExists())
		tx.put(labelNewRecord, newEvaluationItem(amendment), notExists())
		return r.client.putAudit(seq, tx, entry)
	})
	if ce, ok := asConditionError(err); ok {
		switch {
		case ce.failed(labelSupersede):
			return nil, pkgerrors.ErrAlreadySuperseded(original.ID().String())
		case ce.failed(labelOriginal):
			return nil, r.diagnose(ctx, patientID, original.ID(), original.Version(), entry.Action)
		case ce.failed(labelPatient):
			return nil, pkgerrors.ErrPatientArchived()
		}
		return nil, r.client.internal("AmendEvaluation", err)
	}
	if err != nil {
		return nil, err
	}

	r.logger.Info("Evaluation amended",
		zap.String("patientID", patientID),
		zap.String("supersedes", original.ID().String()),
		zap.String("evaluationID", amended.ID().String()),
	)
	return amended, nil
}

// diagnose explains why a versioned evaluation write failed its condition.
func (r *EvaluationRepository) diagnose(ctx context.Context, patientID string, evaluationID valueobjects.Token,
	expectedVersion int, action entities.AuditAction) error {
	current, err := r.GetEvaluation(ctx, patientID, evaluationID)
	if err != nil {
		return err
	}
	if current.Status().Locked() {
		switch action {
		case entities.ActionFinalize:
			return pkgerrors.ErrAlreadyFinalized(current.Status().String())
		case entities.ActionUpdate:
			return pkgerrors.ErrEvaluationLocked(current.Status().String())
		}
	}
	return pkgerrors.ErrVersionMismatch(expectedVersion, current.Version())
}

func (r *EvaluationRepository) diagnosePatient(ctx context.Context, patient *entities.Patient) error {
	var item patientItem
	found, err := r.client.getInto(ctx, "GetPatient", schema.PatientKey(patient.InstitutionID, patient.ID), &item)
	if err != nil {
		return err
	}
	if !found {
		return pkgerrors.NewNotFoundError("patient")
	}
	return pkgerrors.ErrPatientArchived()
}

// ListEvaluations returns one chronological page of a patient's evaluations. It reads one item
// past the limit, so NextToken is only set when another item exists.
func (r *EvaluationRepository) ListEvaluations(ctx context.Context, patientID string, page ports.PageRequest) (ports.Page[*entities.Evaluation], error) {
	limit := r.client.limit(page.Limit)
	result := ports.Page[*entities.Evaluation]{Items: make([]*entities.Evaluation, 0, limit)}
	last := ""
	for it, err := range r.evaluations(ctx, patientID, page.Token, limit+1) {
		if err != nil {
			return ports.Page[*entities.Evaluation]{}, err
		}
		if len(result.Items) == int(limit) {
			result.NextToken = last
			break
		}
		result.Items = append(result.Items, it.Value)
		last = it.PageToken
	}
	return result, nil
}

// Evaluations lazily yields a patient's evaluations after pageToken, chronologically.
// Pages are fetched only as the sequence is consumed.
func (r *EvaluationRepository) Evaluations(ctx context.Context, patientID string, pageToken string) iter.Seq2[ports.Item[*entities.Evaluation], error] {
	return r.evaluations(ctx, patientID, pageToken, int32(r.client.pageSize))
}

func (r *EvaluationRepository) evaluations(ctx context.Context, patientID, pageToken string, batch int32) iter.Seq2[ports.Item[*entities.Evaluation], error] {
	type item = ports.Item[*entities.Evaluation]
	return func(yield func(item, error) bool) {
		q := schema.EvaluationsByPatient(patientID)
		for it, err := range r.client.queryAll(ctx, "ListEvaluations", q, pageToken, batch) {
			if err != nil {
				yield(item{}, err)
				return
			}
			e, err := unmarshalEvaluation(it.Value)
			if err != nil {
				yield(item{}, err)
				return
			}
			if !yield(item{Value: e, PageToken: it.PageToken}, nil) {
				return
			}
		}
	}
}

func unmarshalEvaluation(av map[string]types.AttributeValue) (*entities.Evaluation, error) {
	var item evaluationItem
	if err := attributevalue.UnmarshalMap(av, &item); err != nil {
		return nil, pkgerrors.NewInternalError("failed to unmarshal evaluation").WithCause(err)
	}
	return toEvaluation(item)
}

func toEvaluation(item evaluationItem) (*entities.Evaluation, error) {
	e, err := item.toEntity()
	if err != nil {
		return nil, pkgerrors.NewInternalError("stored evaluation is malformed").WithCause(err)
	}
	return e, nil
}
