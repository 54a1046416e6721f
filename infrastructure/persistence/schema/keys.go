// Package schema derives the single-table key layout: primary keys, the overloaded GSI1 keys and
// the key conditions of every supported query. Every read is an exact partition match plus an
// optional sort key prefix; nothing scans.
package schema

import (
	"fmt"
	"strings"

	"github.com/MiguelSchuhAlles/preanesth-app/domain/core/entities"
	"github.com/MiguelSchuhAlles/preanesth-app/domain/core/valueobjects"
)

// Key attribute names.
const (
	AttrPK     = "PK"
	AttrSK     = "SK"
	AttrGSI1PK = "GSI1PK"
	AttrGSI1SK = "GSI1SK"
)

const (
	prefixInstitution = "INST#"
	prefixUser        = "USER#"
	prefixPatient     = "PATIENT#"
	prefixCPF         = "CPF#"
	prefixEvaluation  = "EVAL#"
	prefixSuperseded  = "SUPERSEDED#"
	prefixAudit       = "AUDIT#"
	prefixPerformer   = "PERFORMER#"
	suffixUsers       = "#USERS"

	SKMetadata = "METADATA"
	SKProfile  = "PROFILE"
	SKSequence = "SEQ"
)

// Key is a primary key.
type Key struct {
	PK string
	SK string
}

func (k Key) String() string {
	return k.PK + "/" + k.SK
}

// IndexKey is a GSI1 key.
type IndexKey struct {
	PK string
	SK string
}

// InstitutionPartition is the partition holding an institution, its patients and cpf guards,
// and the audit entries of targets outside any patient.
func InstitutionPartition(institutionID string) string {
	return prefixInstitution + institutionID
}

// PatientPartition is the partition holding a patient's evaluations and audit trail.
func PatientPartition(patientID string) string {
	return prefixPatient + patientID
}

func InstitutionKey(institutionID string) Key {
	return Key{PK: InstitutionPartition(institutionID), SK: SKMetadata}
}

func UserKey(userID string) Key {
	return Key{PK: prefixUser + userID, SK: SKProfile}
}

func UserIndexKey(institutionID, userID string) IndexKey {
	return IndexKey{PK: InstitutionPartition(institutionID) + suffixUsers, SK: prefixUser + userID}
}

func PatientKey(institutionID, patientID string) Key {
	return Key{PK: InstitutionPartition(institutionID), SK: prefixPatient + patientID}
}

// CPFGuardKey is the uniqueness guard for (institution, cpf). It stores the owning patient id.
func CPFGuardKey(institutionID string, cpf valueobjects.CPF) Key {
	return Key{PK: InstitutionPartition(institutionID), SK: prefixCPF + cpf.String()}
}

func EvaluationKey(patientID string, evaluationID valueobjects.Token) Key {
	return Key{PK: PatientPartition(patientID), SK: prefixEvaluation + evaluationID.String()}
}

// SupersedeGuardKey exists once an evaluation has been amended.
func SupersedeGuardKey(patientID string, evaluationID valueobjects.Token) Key {
	return Key{PK: PatientPartition(patientID), SK: prefixSuperseded + evaluationID.String()}
}

// SequenceKey holds the last token issued in a partition.
func SequenceKey(partition string) Key {
	return Key{PK: partition, SK: SKSequence}
}

// AuditPartition is the partition an entry for target is stored in.
func AuditPartition(target entities.TargetRef) string {
	if target.PatientScoped() {
		return PatientPartition(target.PatientID)
	}
	return InstitutionPartition(target.InstitutionID)
}

func AuditKey(partition string, auditID valueobjects.Token) Key {
	return Key{PK: partition, SK: prefixAudit + auditID.String()}
}

// AuditIndexKey indexes an entry by performer, then partition, then time.
func AuditIndexKey(performedBy, partition string, auditID valueobjects.Token) IndexKey {
	return IndexKey{PK: prefixPerformer + performedBy, SK: partition + "#" + prefixAudit + auditID.String()}
}

// EvaluationIDFromSK extracts the evaluation token from an evaluation sort key.
func EvaluationIDFromSK(sk string) (valueobjects.Token, error) {
	return tokenFromSK(sk, prefixEvaluation)
}

// AuditIDFromSK extracts the audit token from an audit sort key.
func AuditIDFromSK(sk string) (valueobjects.Token, error) {
	return tokenFromSK(sk, prefixAudit)
}

// PatientIDFromSK extracts the patient id from a patient sort key.
func PatientIDFromSK(sk string) (string, error) {
	id, ok := strings.CutPrefix(sk, prefixPatient)
	if !ok || id == "" {
		return "", fmt.Errorf("sort key %q is not a patient key", sk)
	}
	return id, nil
}

func tokenFromSK(sk, prefix string) (valueobjects.Token, error) {
	raw, ok := strings.CutPrefix(sk, prefix)
	if !ok {
		return "", fmt.Errorf("sort key %q lacks prefix %q", sk, prefix)
	}
	tok := valueobjects.Token(raw)
	if !tok.Valid() {
		return "", fmt.Errorf("sort key %q holds a malformed token", sk)
	}
	return tok, nil
}
