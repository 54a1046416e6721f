// Package operations is the request boundary of the record store: it decodes an inbound request
// object into a typed call, runs it through the middleware pipeline and returns the result payload
// or a tagged error.
package operations

import (
	"fmt"

	"github.com/MiguelSchuhAlles/preanesth-app/domain/core/entities"
)

// Operation is the closed set of requests the store accepts.
type Operation int

const (
	operationInvalid Operation = iota
	CreatePatient
	GetPatient
	FindPatientByCPF
	ListPatients
	UpdatePatient
	ArchivePatient
	CreateEvaluation
	GetEvaluation
	UpdateDraftEvaluation
	FinalizeEvaluation
	AmendEvaluation
	ListEvaluations
	ProvisionInstitution
	GetInstitution
	UpdateInstitutionConfig
	CreateUser
	ChangeUserRole
	DeactivateUser
	ListUsers
	ListPatientAudit
	ListInstitutionAudit
	ListAuditByPerformer
	VerifyAuditChain
	operationSentinel
)

type descriptor struct {
	name    string
	action  entities.AuditAction
	kind    entities.EntityKind
	audited bool
}

var descriptors = [...]descriptor{
	operationInvalid:        {},
	CreatePatient:           {"createPatient", entities.ActionCreate, entities.KindPatient, true},
	GetPatient:              {"getPatient", entities.ActionRead, entities.KindPatient, true},
	FindPatientByCPF:        {"findPatientByCpf", entities.ActionRead, entities.KindPatient, true},
	ListPatients:            {"listPatients", entities.ActionRead, entities.KindPatient, true},
	UpdatePatient:           {"updatePatient", entities.ActionUpdate, entities.KindPatient, true},
	ArchivePatient:          {"archivePatient", entities.ActionUpdate, entities.KindPatient, true},
	CreateEvaluation:        {"createEvaluation", entities.ActionCreate, entities.KindEvaluation, true},
	GetEvaluation:           {"getEvaluation", entities.ActionRead, entities.KindEvaluation, true},
	UpdateDraftEvaluation:   {"updateDraftEvaluation", entities.ActionUpdate, entities.KindEvaluation, true},
	FinalizeEvaluation:      {"finalizeEvaluation", entities.ActionFinalize, entities.KindEvaluation, true},
	AmendEvaluation:         {"amendEvaluation", entities.ActionAmend, entities.KindEvaluation, true},
	ListEvaluations:         {"listEvaluations", entities.ActionRead, entities.KindEvaluation, true},
	ProvisionInstitution:    {"provisionInstitution", entities.ActionCreate, entities.KindInstitution, true},
	GetInstitution:          {"getInstitution", entities.ActionRead, entities.KindInstitution, false},
	UpdateInstitutionConfig: {"updateInstitutionConfig", entities.ActionUpdate, entities.KindInstitution, true},
	CreateUser:              {"createUser", entities.ActionCreate, entities.KindUser, true},
	ChangeUserRole:          {"changeUserRole", entities.ActionUpdate, entities.KindUser, true},
	DeactivateUser:          {"deactivateUser", entities.ActionUpdate, entities.KindUser, true},
	ListUsers:               {"listUsers", entities.ActionRead, entities.KindUser, false},
	ListPatientAudit:        {"listPatientAudit", entities.ActionRead, entities.KindInstitution, false},
	ListInstitutionAudit:    {"listInstitutionAudit", entities.ActionRead, entities.KindInstitution, false},
	ListAuditByPerformer:    {"listAuditByPerformer", entities.ActionRead, entities.KindInstitution, false},
	VerifyAuditChain:        {"verifyAuditChain", entities.ActionRead, entities.KindInstitution, false},
}

var _ = [1]struct{}{}[len(descriptors)-int(operationSentinel)]

var byName = func() map[string]Operation {
	m := make(map[string]Operation, len(descriptors))
	for op := operationInvalid + 1; op < operationSentinel; op++ {
		m[descriptors[op].name] = op
	}
	return m
}()

// Operations lists every operation.
func Operations() []Operation {
	ops := make([]Operation, 0, int(operationSentinel)-1)
	for op := operationInvalid + 1; op < operationSentinel; op++ {
		ops = append(ops, op)
	}
	return ops
}

// String returns the wire name.
func (o Operation) String() string {
	if !o.Valid() {
		return fmt.Sprintf("Operation(%d)", int(o))
	}
	return descriptors[o].name
}

func (o Operation) Valid() bool { return o > operationInvalid && o < operationSentinel }

// Action is the audit action the operation is recorded under.
func (o Operation) Action() entities.AuditAction { return descriptors[o].action }

// Audited reports whether the operation leaves an audit entry on success and failure alike.
// The others only record forbidden attempts.
func (o Operation) Audited() bool { return descriptors[o].audited }

// ParseOperation resolves a wire name.
func ParseOperation(name string) (Operation, error) {
	op, ok := byName[name]
	if !ok {
		return operationInvalid, fmt.Errorf("unknown operation %q", name)
	}
	return op, nil
}

func (o Operation) MarshalText() ([]byte, error) {
	if !o.Valid() {
		return nil, fmt.Errorf("invalid operation %d", int(o))
	}
	return []byte(o.String()), nil
}

func (o *Operation) UnmarshalText(b []byte) error {
	op, err := ParseOperation(string(b))
	if err != nil {
		return err
	}
	*o = op
	return nil
}
