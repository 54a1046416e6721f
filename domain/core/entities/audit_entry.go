package entities

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/MiguelSchuhAlles/preanesth-app/domain/core/valueobjects"
)

// TargetRef identifies the record an audited operation touched.
// PatientID is set whenever the target lives under a patient; the entry is then stored in that
// patient's audit partition, otherwise in the institution's.
type TargetRef struct {
	Kind          EntityKind `json:"kind"`
	InstitutionID string     `json:"institutionId"`
	PatientID     string     `json:"patientId,omitempty"`
	ID            string     `json:"id,omitempty"`
}

func InstitutionTarget(institutionID string) TargetRef {
	return TargetRef{Kind: KindInstitution, InstitutionID: institutionID, ID: institutionID}
}

func UserTarget(institutionID, userID string) TargetRef {
	return TargetRef{Kind: KindUser, InstitutionID: institutionID, ID: userID}
}

func PatientTarget(institutionID, patientID string) TargetRef {
	return TargetRef{Kind: KindPatient, InstitutionID: institutionID, PatientID: patientID, ID: patientID}
}

func EvaluationTarget(institutionID, patientID, evaluationID string) TargetRef {
	return TargetRef{Kind: KindEvaluation, InstitutionID: institutionID, PatientID: patientID, ID: evaluationID}
}

// PatientScoped reports whether the target belongs to a patient's audit partition.
func (t TargetRef) PatientScoped() bool {
	return t.PatientID != ""
}

// Outcome is the result of an audited operation.
type Outcome struct {
	Status OutcomeStatus `json:"status"`
	Code   string        `json:"code,omitempty"`
}

func Succeeded() Outcome { return Outcome{Status: OutcomeSuccess} }

func Failed(code string) Outcome { return Outcome{Status: OutcomeFailure, Code: code} }

// AuditEntry is an append-only record of an access. Entries are chained per partition:
// Hash covers every field plus PrevHash, the hash of the partition's previous entry.
type AuditEntry struct {
	ID            valueobjects.Token `json:"auditId"`
	InstitutionID string             `json:"institutionId"`
	PerformedBy   string             `json:"performedBy"`
	Action        AuditAction        `json:"action"`
	Operation     string             `json:"operation"`
	Target        TargetRef          `json:"target"`
	Outcome       Outcome            `json:"outcome"`
	Timestamp     time.Time          `json:"timestamp"`
	PrevHash      string             `json:"prevHash,omitempty"`
	Hash          string             `json:"hash"`
}

// ComputeHash returns the chain hash of the entry.
func (a *AuditEntry) ComputeHash() string {
	payload := fmt.Sprintf("%s|%s|%s|%s|%s|%s|%s|%s|%s|%s|%s|%s|%s",
		a.ID, a.InstitutionID, a.PerformedBy, a.Action, a.Operation,
		a.Target.Kind, a.Target.InstitutionID, a.Target.PatientID, a.Target.ID,
		a.Outcome.Status, a.Outcome.Code,
		a.Timestamp.UTC().Format(time.RFC3339Nano), a.PrevHash)
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// Seal links the entry to prevHash and sets its hash.
func (a *AuditEntry) Seal(prevHash string) {
	a.PrevHash = prevHash
	a.Hash = a.ComputeHash()
}
