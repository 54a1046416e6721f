package entities

import "fmt"

// The closed enumerations below share one shape: a typed integer whose zero value is invalid,
// a name table indexed by the constants, and a compile-time assertion that the table covers
// exactly the constants declared before the sentinel.

// Role is a user's role within an institution.
type Role int

const (
	roleInvalid Role = iota
	RoleAdmin
	RoleClinician
	RoleAuditor
	roleSentinel
)

var roleNames = [...]string{
	roleInvalid:   "",
	RoleAdmin:     "Admin",
	RoleClinician: "Clinician",
	RoleAuditor:   "Auditor",
}

var _ = [1]struct{}{}[len(roleNames)-int(roleSentinel)]

// Roles lists every valid role.
func Roles() []Role { return []Role{RoleAdmin, RoleClinician, RoleAuditor} }

func (r Role) String() string { return enumName(roleNames[:], int(r)) }

// Valid reports whether r is one of the declared roles.
func (r Role) Valid() bool { return r > roleInvalid && r < roleSentinel }

// ParseRole parses the wire name of a role.
func ParseRole(s string) (Role, error) { return parseEnum[Role]("role", roleNames[:], s) }

func (r Role) MarshalText() ([]byte, error) { return marshalEnum("role", r.Valid(), r.String()) }

func (r *Role) UnmarshalText(b []byte) error {
	v, err := ParseRole(string(b))
	*r = v
	return err
}

// EvaluationStatus is the lifecycle state of an evaluation.
type EvaluationStatus int

const (
	statusInvalid EvaluationStatus = iota
	StatusDraft
	StatusFinalized
	StatusAmended
	statusSentinel
)

var statusNames = [...]string{
	statusInvalid:   "",
	StatusDraft:     "Draft",
	StatusFinalized: "Finalized",
	StatusAmended:   "Amended",
}

var _ = [1]struct{}{}[len(statusNames)-int(statusSentinel)]

func (s EvaluationStatus) String() string { return enumName(statusNames[:], int(s)) }

func (s EvaluationStatus) Valid() bool { return s > statusInvalid && s < statusSentinel }

// Locked reports whether the payload can no longer change.
func (s EvaluationStatus) Locked() bool {
	switch s {
	case StatusDraft:
		return false
	case StatusFinalized, StatusAmended:
		return true
	default:
		panic(fmt.Sprintf("unhandled evaluation status %d", int(s)))
	}
}

func ParseEvaluationStatus(s string) (EvaluationStatus, error) {
	return parseEnum[EvaluationStatus]("evaluation status", statusNames[:], s)
}

func (s EvaluationStatus) MarshalText() ([]byte, error) {
	return marshalEnum("evaluation status", s.Valid(), s.String())
}

func (s *EvaluationStatus) UnmarshalText(b []byte) error {
	v, err := ParseEvaluationStatus(string(b))
	*s = v
	return err
}

// AuditAction is the kind of access an audit entry records.
type AuditAction int

const (
	actionInvalid AuditAction = iota
	ActionCreate
	ActionRead
	ActionUpdate
	ActionFinalize
	ActionAmend
	actionSentinel
)

var actionNames = [...]string{
	actionInvalid:  "",
	ActionCreate:   "Create",
	ActionRead:     "Read",
	ActionUpdate:   "Update",
	ActionFinalize: "Finalize",
	ActionAmend:    "Amend",
}

var _ = [1]struct{}{}[len(actionNames)-int(actionSentinel)]

func (a AuditAction) String() string { return enumName(actionNames[:], int(a)) }

func (a AuditAction) Valid() bool { return a > actionInvalid && a < actionSentinel }

// Mutating reports whether the action changes stored state.
func (a AuditAction) Mutating() bool {
	switch a {
	case ActionRead:
		return false
	case ActionCreate, ActionUpdate, ActionFinalize, ActionAmend:
		return true
	default:
		panic(fmt.Sprintf("unhandled audit action %d", int(a)))
	}
}

func ParseAuditAction(s string) (AuditAction, error) {
	return parseEnum[AuditAction]("audit action", actionNames[:], s)
}

func (a AuditAction) MarshalText() ([]byte, error) {
	return marshalEnum("audit action", a.Valid(), a.String())
}

func (a *AuditAction) UnmarshalText(b []byte) error {
	v, err := ParseAuditAction(string(b))
	*a = v
	return err
}

// OutcomeStatus tells whether an audited operation succeeded.
type OutcomeStatus int

const (
	outcomeInvalid OutcomeStatus = iota
	OutcomeSuccess
	OutcomeFailure
	outcomeSentinel
)

var outcomeNames = [...]string{
	outcomeInvalid: "",
	OutcomeSuccess: "success",
	OutcomeFailure: "failure",
}

var _ = [1]struct{}{}[len(outcomeNames)-int(outcomeSentinel)]

func (o OutcomeStatus) String() string { return enumName(outcomeNames[:], int(o)) }

func (o OutcomeStatus) Valid() bool { return o > outcomeInvalid && o < outcomeSentinel }

func ParseOutcomeStatus(s string) (OutcomeStatus, error) {
	return parseEnum[OutcomeStatus]("outcome", outcomeNames[:], s)
}

func (o OutcomeStatus) MarshalText() ([]byte, error) {
	return marshalEnum("outcome", o.Valid(), o.String())
}

func (o *OutcomeStatus) UnmarshalText(b []byte) error {
	v, err := ParseOutcomeStatus(string(b))
	*o = v
	return err
}

// EntityKind names the type of record an audit entry targets.
type EntityKind int

const (
	kindInvalid EntityKind = iota
	KindInstitution
	KindUser
	KindPatient
	KindEvaluation
	kindSentinel
)

var kindNames = [...]string{
	kindInvalid:     "",
	KindInstitution: "Institution",
	KindUser:        "User",
	KindPatient:     "Patient",
	KindEvaluation:  "Evaluation",
}

var _ = [1]struct{}{}[len(kindNames)-int(kindSentinel)]

func (k EntityKind) String() string { return enumName(kindNames[:], int(k)) }

func (k EntityKind) Valid() bool { return k > kindInvalid && k < kindSentinel }

func ParseEntityKind(s string) (EntityKind, error) {
	return parseEnum[EntityKind]("entity kind", kindNames[:], s)
}

func (k EntityKind) MarshalText() ([]byte, error) {
	return marshalEnum("entity kind", k.Valid(), k.String())
}

func (k *EntityKind) UnmarshalText(b []byte) error {
	v, err := ParseEntityKind(string(b))
	*k = v
	return err
}

func enumName(names []string, i int) string {
	if i <= 0 || i >= len(names) {
		return fmt.Sprintf("invalid(%d)", i)
	}
	return names[i]
}

func parseEnum[T ~int](label string, names []string, s string) (T, error) {
	for i := 1; i < len(names); i++ {
		if names[i] == s {
			return T(i), nil
		}
	}
	return 0, fmt.Errorf("unknown %s %q", label, s)
}

func marshalEnum(label string, valid bool, name string) ([]byte, error) {
	if !valid {
		return nil, fmt.Errorf("cannot marshal invalid %s", label)
	}
	return []byte(name), nil
}
