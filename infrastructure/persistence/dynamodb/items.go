package dynamodb

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/MiguelSchuhAlles/preanesth-app/domain/core/entities"
	"github.com/MiguelSchuhAlles/preanesth-app/domain/core/valueobjects"
	"github.com/MiguelSchuhAlles/preanesth-app/infrastructure/persistence/schema"
)

const (
	attrVersion  = "Version"
	attrArchived = "Archived"
	attrStatus   = "Status"
	attrPatient  = "PatientID"

	entityInstitution    = "INSTITUTION"
	entityUser           = "USER"
	entityPatient        = "PATIENT"
	entityCPFGuard       = "CPF_GUARD"
	entityEvaluation     = "EVALUATION"
	entitySupersedeGuard = "SUPERSEDE_GUARD"
	entitySequence       = "SEQUENCE"
	entityAudit          = "AUDIT"
)

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func parseOptionalTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t := parseTime(s)
	return &t
}

// institutionItem represents the DynamoDB item structure for an institution
type institutionItem struct {
	PK                     string `dynamodbav:"PK"`
	SK                     string `dynamodbav:"SK"`
	EntityType             string `dynamodbav:"EntityType"`
	InstitutionID          string `dynamodbav:"InstitutionID"`
	Name                   string `dynamodbav:"Name"`
	RequireSecondSignature *bool  `dynamodbav:"RequireSecondSignature,omitempty"`
	RetentionDays          *int   `dynamodbav:"RetentionDays,omitempty"`
	Version                int    `dynamodbav:"Version"`
	CreatedAt              string `dynamodbav:"CreatedAt"`
	UpdatedAt              string `dynamodbav:"UpdatedAt"`
}

func newInstitutionItem(i *entities.Institution) institutionItem {
	key := schema.InstitutionKey(i.ID)
	return institutionItem{
		PK:                     key.PK,
		SK:                     key.SK,
		EntityType:             entityInstitution,
		InstitutionID:          i.ID,
		Name:                   i.Name,
		RequireSecondSignature: i.Config.RequireSecondSignature,
		RetentionDays:          i.Config.RetentionDays,
		Version:                i.Version,
		CreatedAt:              formatTime(i.CreatedAt),
		UpdatedAt:              formatTime(i.UpdatedAt),
	}
}

func (it institutionItem) toEntity() *entities.Institution {
	return &entities.Institution{
		ID:   it.InstitutionID,
		Name: it.Name,
		Config: entities.InstitutionConfig{
			RequireSecondSignature: it.RequireSecondSignature,
			RetentionDays:          it.RetentionDays,
		},
		Version:   it.Version,
		CreatedAt: parseTime(it.CreatedAt),
		UpdatedAt: parseTime(it.UpdatedAt),
	}
}

// userItem represents the DynamoDB item structure for a user
type userItem struct {
	PK            string `dynamodbav:"PK"`
	SK            string `dynamodbav:"SK"`
	GSI1PK        string `dynamodbav:"GSI1PK"`
	GSI1SK        string `dynamodbav:"GSI1SK"`
	EntityType    string `dynamodbav:"EntityType"`
	UserID        string `dynamodbav:"UserID"`
	InstitutionID string `dynamodbav:"InstitutionID"`
	Role          string `dynamodbav:"Role"`
	DisplayName   string `dynamodbav:"DisplayName"`
	Active        bool   `dynamodbav:"Active"`
	Version       int    `dynamodbav:"Version"`
	CreatedAt     string `dynamodbav:"CreatedAt"`
	UpdatedAt     string `dynamodbav:"UpdatedAt"`
}

func newUserItem(u *entities.User) userItem {
	key := schema.UserKey(u.ID)
	idx := schema.UserIndexKey(u.InstitutionID, u.ID)
	return userItem{
		PK:            key.PK,
		SK:            key.SK,
		GSI1PK:        idx.PK,
		GSI1SK:        idx.SK,
		EntityType:    entityUser,
		UserID:        u.ID,
		InstitutionID: u.InstitutionID,
		Role:          u.Role.String(),
		DisplayName:   u.DisplayName,
		Active:        u.Active,
		Version:       u.Version,
		CreatedAt:     formatTime(u.CreatedAt),
		UpdatedAt:     formatTime(u.UpdatedAt),
	}
}

func (it userItem) toEntity() (*entities.User, error) {
	role, err := entities.ParseRole(it.Role)
	if err != nil {
		return nil, fmt.Errorf("user %s: %w", it.UserID, err)
	}
	return &entities.User{
		ID:            it.UserID,
		InstitutionID: it.InstitutionID,
		Role:          role,
		DisplayName:   it.DisplayName,
		Active:        it.Active,
		Version:       it.Version,
		CreatedAt:     parseTime(it.CreatedAt),
		UpdatedAt:     parseTime(it.UpdatedAt),
	}, nil
}

// patientItem represents the DynamoDB item structure for a patient
type patientItem struct {
	PK            string `dynamodbav:"PK"`
	SK            string `dynamodbav:"SK"`
	EntityType    string `dynamodbav:"EntityType"`
	PatientID     string `dynamodbav:"PatientID"`
	InstitutionID string `dynamodbav:"InstitutionID"`
	Name          string `dynamodbav:"Name"`
	DateOfBirth   string `dynamodbav:"DateOfBirth"`
	CPF           string `dynamodbav:"CPF"`
	Archived      bool   `dynamodbav:"Archived"`
	ArchivedAt    string `dynamodbav:"ArchivedAt,omitempty"`
	Version       int    `dynamodbav:"Version"`
	CreatedAt     string `dynamodbav:"CreatedAt"`
	UpdatedAt     string `dynamodbav:"UpdatedAt"`
}

func newPatientItem(p *entities.Patient) patientItem {
	key := schema.PatientKey(p.InstitutionID, p.ID)
	return patientItem{
		PK:            key.PK,
		SK:            key.SK,
		EntityType:    entityPatient,
		PatientID:     p.ID,
		InstitutionID: p.InstitutionID,
		Name:          p.Name,
		DateOfBirth:   p.DateOfBirth.Format(entities.DateLayout),
		CPF:           p.CPF.String(),
		Archived:      p.Archived,
		ArchivedAt:    formatOptionalTime(p.ArchivedAt),
		Version:       p.Version,
		CreatedAt:     formatTime(p.CreatedAt),
		UpdatedAt:     formatTime(p.UpdatedAt),
	}
}

func (it patientItem) toEntity() *entities.Patient {
	dob, _ := time.Parse(entities.DateLayout, it.DateOfBirth)
	return &entities.Patient{
		ID:            it.PatientID,
		InstitutionID: it.InstitutionID,
		Name:          it.Name,
		DateOfBirth:   dob,
		CPF:           valueobjects.CPF(it.CPF),
		Archived:      it.Archived,
		ArchivedAt:    parseOptionalTime(it.ArchivedAt),
		Version:       it.Version,
		CreatedAt:     parseTime(it.CreatedAt),
		UpdatedAt:     parseTime(it.UpdatedAt),
	}
}

// cpfGuardItem enforces cpf uniqueness within an institution
type cpfGuardItem struct {
	PK         string `dynamodbav:"PK"`
	SK         string `dynamodbav:"SK"`
	EntityType string `dynamodbav:"EntityType"`
	PatientID  string `dynamodbav:"PatientID"`
	CreatedAt  string `dynamodbav:"CreatedAt"`
}

func newCPFGuardItem(p *entities.Patient, now time.Time) cpfGuardItem {
	key := schema.CPFGuardKey(p.InstitutionID, p.CPF)
	return cpfGuardItem{
		PK:         key.PK,
		SK:         key.SK,
		EntityType: entityCPFGuard,
		PatientID:  p.ID,
		CreatedAt:  formatTime(now),
	}
}

// evaluationItem represents the DynamoDB item structure for an evaluation.
// Payload is stored as a binary attribute so it round-trips byte for byte.
type evaluationItem struct {
	PK            string `dynamodbav:"PK"`
	SK            string `dynamodbav:"SK"`
	EntityType    string `dynamodbav:"EntityType"`
	EvaluationID  string `dynamodbav:"EvaluationID"`
	PatientID     string `dynamodbav:"PatientID"`
	InstitutionID string `dynamodbav:"InstitutionID"`
	AuthorUserID  string `dynamodbav:"AuthorUserID"`
	Status        string `dynamodbav:"Status"`
	Payload       []byte `dynamodbav:"Payload"`
	FinalizedAt   string `dynamodbav:"FinalizedAt,omitempty"`
	FinalizedBy   string `dynamodbav:"FinalizedBy,omitempty"`
	CosignedBy    string `dynamodbav:"CosignedBy,omitempty"`
	Supersedes    string `dynamodbav:"Supersedes,omitempty"`
	RetainUntil   string `dynamodbav:"RetainUntil"`
	Version       int    `dynamodbav:"Version"`
	CreatedAt     string `dynamodbav:"CreatedAt"`
	UpdatedAt     string `dynamodbav:"UpdatedAt"`
}

func newEvaluationItem(e *entities.Evaluation) evaluationItem {
	s := e.State()
	key := schema.EvaluationKey(s.PatientID, s.ID)
	return evaluationItem{
		PK:            key.PK,
		SK:            key.SK,
		EntityType:    entityEvaluation,
		EvaluationID:  s.ID.String(),
		PatientID:     s.PatientID,
		InstitutionID: s.InstitutionID,
		AuthorUserID:  s.AuthorUserID,
		Status:        s.Status.String(),
		Payload:       []byte(s.Payload),
		FinalizedAt:   formatOptionalTime(s.FinalizedAt),
		FinalizedBy:   s.FinalizedBy,
		CosignedBy:    s.CosignedBy,
		Supersedes:    s.Supersedes.String(),
		RetainUntil:   formatTime(s.RetainUntil),
		Version:       s.Version,
		CreatedAt:     formatTime(s.CreatedAt),
		UpdatedAt:     formatTime(s.UpdatedAt),
	}
}

func (it evaluationItem) toEntity() (*entities.Evaluation, error) {
	status, err := entities.ParseEvaluationStatus(it.Status)
	if err != nil {
		return nil, fmt.Errorf("evaluation %s: %w", it.EvaluationID, err)
	}
	return entities.ReconstructEvaluation(entities.EvaluationState{
		ID:            valueobjects.Token(it.EvaluationID),
		PatientID:     it.PatientID,
		InstitutionID: it.InstitutionID,
		AuthorUserID:  it.AuthorUserID,
		Status:        status,
		Payload:       json.RawMessage(it.Payload),
		FinalizedAt:   parseOptionalTime(it.FinalizedAt),
		FinalizedBy:   it.FinalizedBy,
		CosignedBy:    it.CosignedBy,
		Supersedes:    valueobjects.Token(it.Supersedes),
		RetainUntil:   parseTime(it.RetainUntil),
		Version:       it.Version,
		CreatedAt:     parseTime(it.CreatedAt),
		UpdatedAt:     parseTime(it.UpdatedAt),
	}), nil
}

// supersedeGuardItem marks an evaluation as amended. Its existence blocks a second amendment.
type supersedeGuardItem struct {
	PK           string `dynamodbav:"PK"`
	SK           string `dynamodbav:"SK"`
	EntityType   string `dynamodbav:"EntityType"`
	SupersededBy string `dynamodbav:"SupersededBy"`
	CreatedAt    string `dynamodbav:"CreatedAt"`
}

// sequenceItem holds the last token issued in a partition and the hash of its last audit entry
type sequenceItem struct {
	PK            string `dynamodbav:"PK"`
	SK            string `dynamodbav:"SK"`
	EntityType    string `dynamodbav:"EntityType"`
	LastToken     string `dynamodbav:"LastToken"`
	LastAuditHash string `dynamodbav:"LastAuditHash,omitempty"`
	UpdatedAt     string `dynamodbav:"UpdatedAt"`
}

// auditItem represents the DynamoDB item structure for an audit entry
type auditItem struct {
	PK                  string `dynamodbav:"PK"`
	SK                  string `dynamodbav:"SK"`
	GSI1PK              string `dynamodbav:"GSI1PK"`
	GSI1SK              string `dynamodbav:"GSI1SK"`
	EntityType          string `dynamodbav:"EntityType"`
	AuditID             string `dynamodbav:"AuditID"`
	InstitutionID       string `dynamodbav:"InstitutionID"`
	PerformedBy         string `dynamodbav:"PerformedBy"`
	Action              string `dynamodbav:"Action"`
	Operation           string `dynamodbav:"Operation"`
	TargetKind          string `dynamodbav:"TargetKind"`
	TargetInstitutionID string `dynamodbav:"TargetInstitutionID"`
	TargetPatientID     string `dynamodbav:"TargetPatientID,omitempty"`
	TargetID            string `dynamodbav:"TargetID,omitempty"`
	OutcomeStatus       string `dynamodbav:"OutcomeStatus"`
	OutcomeCode         string `dynamodbav:"OutcomeCode,omitempty"`
	Timestamp           string `dynamodbav:"Timestamp"`
	PrevHash            string `dynamodbav:"PrevHash,omitempty"`
	Hash                string `dynamodbav:"Hash"`
}

func newAuditItem(a *entities.AuditEntry) auditItem {
	partition := schema.AuditPartition(a.Target)
	key := schema.AuditKey(partition, a.ID)
	idx := schema.AuditIndexKey(a.PerformedBy, partition, a.ID)
	return auditItem{
		PK:                  key.PK,
		SK:                  key.SK,
		GSI1PK:              idx.PK,
		GSI1SK:              idx.SK,
		EntityType:          entityAudit,
		AuditID:             a.ID.String(),
		InstitutionID:       a.InstitutionID,
		PerformedBy:         a.PerformedBy,
		Action:              a.Action.String(),
		Operation:           a.Operation,
		TargetKind:          a.Target.Kind.String(),
		TargetInstitutionID: a.Target.InstitutionID,
		TargetPatientID:     a.Target.PatientID,
		TargetID:            a.Target.ID,
		OutcomeStatus:       a.Outcome.Status.String(),
		OutcomeCode:         a.Outcome.Code,
		Timestamp:           formatTime(a.Timestamp),
		PrevHash:            a.PrevHash,
		Hash:                a.Hash,
	}
}

func (it auditItem) toEntity() (*entities.AuditEntry, error) {
	action, err := entities.ParseAuditAction(it.Action)
	if err != nil {
		return nil, fmt.Errorf("audit %s: %w", it.AuditID, err)
	}
	kind, err := entities.ParseEntityKind(it.TargetKind)
	if err != nil {
		return nil, fmt.Errorf("audit %s: %w", it.AuditID, err)
	}
	status, err := entities.ParseOutcomeStatus(it.OutcomeStatus)
	if err != nil {
		return nil, fmt.Errorf("audit %s: %w", it.AuditID, err)
	}
	return &entities.AuditEntry{
		ID:            valueobjects.Token(it.AuditID),
		InstitutionID: it.InstitutionID,
		PerformedBy:   it.PerformedBy,
		Action:        action,
		Operation:     it.Operation,
		Target: entities.TargetRef{
			Kind:          kind,
			InstitutionID: it.TargetInstitutionID,
			PatientID:     it.TargetPatientID,
			ID:            it.TargetID,
		},
		Outcome:   entities.Outcome{Status: status, Code: it.OutcomeCode},
		Timestamp: parseTime(it.Timestamp),
		PrevHash:  it.PrevHash,
		Hash:      it.Hash,
	}, nil
}
