package entities

import (
	"encoding/json"
	"time"

	"github.com/MiguelSchuhAlles/preanesth-app/domain/core/valueobjects"
	pkgerrors "github.com/MiguelSchuhAlles/preanesth-app/pkg/errors"
)

// EvaluationState is the persisted form of an evaluation.
type EvaluationState struct {
	ID            valueobjects.Token `json:"evaluationId"`
	PatientID     string             `json:"patientId"`
	InstitutionID string             `json:"institutionId"`
	AuthorUserID  string             `json:"authorUserId"`
	Status        EvaluationStatus   `json:"status"`
	Payload       json.RawMessage    `json:"payload"`
	FinalizedAt   *time.Time         `json:"finalizedAt,omitempty"`
	FinalizedBy   string             `json:"finalizedBy,omitempty"`
	CosignedBy    string             `json:"cosignedBy,omitempty"`
	Supersedes    valueobjects.Token `json:"supersedes,omitempty"`
	RetainUntil   time.Time          `json:"retainUntil"`
	Version       int                `json:"version"`
	CreatedAt     time.Time          `json:"createdAt"`
	UpdatedAt     time.Time          `json:"updatedAt"`
}

// Evaluation is a pre-anesthesia evaluation of a patient.
// Its payload is mutable only while Draft; Draft to Finalized is one-way, and a Finalized or
// Amended evaluation changes only by being superseded through a new Amended record.
type Evaluation struct {
	state EvaluationState
}

// NewDraftEvaluation creates a draft evaluation identified by a monotonic token.
func NewDraftEvaluation(id valueobjects.Token, patientID, institutionID, authorUserID string,
	payload json.RawMessage, retainUntil, now time.Time) *Evaluation {
	return &Evaluation{state: EvaluationState{
		ID:            id,
		PatientID:     patientID,
		InstitutionID: institutionID,
		AuthorUserID:  authorUserID,
		Status:        StatusDraft,
		Payload:       payload,
		RetainUntil:   retainUntil,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}}
}

// ReconstructEvaluation rebuilds an evaluation loaded from storage.
func ReconstructEvaluation(state EvaluationState) *Evaluation {
	return &Evaluation{state: state}
}

func (e *Evaluation) ID() valueobjects.Token { return e.state.ID }
func (e *Evaluation) PatientID() string { return e.state.PatientID }
func (e *Evaluation) InstitutionID() string { return e.state.InstitutionID }
func (e *Evaluation) AuthorUserID() string { return e.state.AuthorUserID }
func (e *Evaluation) Status() EvaluationStatus { return e.state.Status }
func (e *Evaluation) Payload() json.RawMessage { return e.state.Payload }
func (e *Evaluation) Supersedes() valueobjects.Token { return e.state.Supersedes }
func (e *Evaluation) FinalizedAt() *time.Time { return e.state.FinalizedAt }
func (e *Evaluation) Version() int { return e.state.Version }

// State returns a copy of the persisted form.
func (e *Evaluation) State() EvaluationState {
	return e.state
}

// UpdatePayload replaces the payload of a draft.
func (e *Evaluation) UpdatePayload(payload json.RawMessage, now time.Time) error {
	if e.state.Status.Locked() {
		return pkgerrors.ErrEvaluationLocked(e.state.Status.String())
	}
	e.state.Payload = payload
	e.state.Version++
	e.state.UpdatedAt = now
	return nil
}

// Finalize locks a draft. When the institution requires a second signature, cosigner must be
// set and differ from the author.
func (e *Evaluation) Finalize(finalizedBy, cosigner string, requireSecondSignature bool, now time.Time) error {
	if e.state.Status.Locked() {
		return pkgerrors.ErrAlreadyFinalized(e.state.Status.String())
	}
	if requireSecondSignature && (cosigner == "" || cosigner == e.state.AuthorUserID) {
		return pkgerrors.ErrSecondSignatureRequired()
	}
	e.state.Status = StatusFinalized
	e.state.FinalizedAt = &now
	e.state.FinalizedBy = finalizedBy
	e.state.CosignedBy = cosigner
	e.state.Version++
	e.state.UpdatedAt = now
	return nil
}

// Amend creates the evaluation that supersedes e. e itself is left untouched.
func (e *Evaluation) Amend(id valueobjects.Token, authorUserID string, payload json.RawMessage,
	retainUntil, now time.Time) (*Evaluation, error) {
	if !e.state.Status.Locked() {
		return nil, pkgerrors.ErrNotFinalized()
	}
	finalizedAt := now
	return &Evaluation{state: EvaluationState{
		ID:            id,
		PatientID:     e.state.PatientID,
		InstitutionID: e.state.InstitutionID,
		AuthorUserID:  authorUserID,
		Status:        StatusAmended,
		Payload:       payload,
		FinalizedAt:   &finalizedAt,
		FinalizedBy:   authorUserID,
		Supersedes:    e.state.ID,
		RetainUntil:   retainUntil,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}}, nil
}

// MarshalJSON encodes the evaluation state.
func (e *Evaluation) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.state)
}
