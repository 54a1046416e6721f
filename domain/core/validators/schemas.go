package validators

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/MiguelSchuhAlles/preanesth-app/domain/core/entities"
	"github.com/MiguelSchuhAlles/preanesth-app/domain/core/valueobjects"
	pkgerrors "github.com/MiguelSchuhAlles/preanesth-app/pkg/errors"
)

// Schemas validates untyped input records and converts them to domain values.
// Every method reports all violated constraints in a single ValidationError.
type Schemas struct {
	validate *validator.Validate
	now      func() time.Time
}

// NewSchemas creates the schema set. now is the clock used for past-date checks.
func NewSchemas(now func() time.Time) *Schemas {
	if now == nil {
		now = time.Now
	}
	s := &Schemas{validate: validator.New(), now: now}

	s.validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		return jsonName(f)
	})
	mustRegister(s.validate, "cpf", validateCPF)
	mustRegister(s.validate, "pastdate", s.validatePastDate)
	mustRegister(s.validate, "role", validateRole)
	mustRegister(s.validate, "opaqueid", validateOpaqueID)
	mustRegister(s.validate, "jsonobject", validateJSONObject)
	mustRegister(s.validate, "token", validateToken)

	return s
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("register %s validation: %v", tag, err))
	}
}

// PatientInput is the schema of a new patient.
type PatientInput struct {
	Name        string `json:"name" validate:"required,max=200"`
	DateOfBirth string `json:"dateOfBirth" validate:"required,pastdate"`
	CPF         string `json:"cpf" validate:"required,cpf"`
}

// Patient validates the fields of a new patient.
func (s *Schemas) Patient(fields map[string]any) (entities.PatientFields, error) {
	var in PatientInput
	if err := s.check(fields, &in, "patient"); err != nil {
		return entities.PatientFields{}, err
	}
	cpf, _ := valueobjects.ParseCPF(in.CPF)
	dob, _ := time.Parse(entities.DateLayout, in.DateOfBirth)
	return entities.PatientFields{
		Name:        strings.TrimSpace(in.Name),
		DateOfBirth: dob,
		CPF:         cpf,
	}, nil
}

// PatientUpdateInput is the schema of a partial patient update.
type PatientUpdateInput struct {
	Name        *string `json:"name" validate:"omitempty,min=1,max=200"`
	DateOfBirth *string `json:"dateOfBirth" validate:"omitempty,pastdate"`
	CPF         *string `json:"cpf" validate:"omitempty,cpf"`
}

// PatientUpdate validates a partial patient update. At least one field must be present.
func (s *Schemas) PatientUpdate(fields map[string]any) (entities.PatientUpdate, error) {
	var in PatientUpdateInput
	var v pkgerrors.Violations
	s.collect(fields, &in, "", &v)
	if !v.HasErrors() && in.Name == nil && in.DateOfBirth == nil && in.CPF == nil {
		v.Add("fields", "required", "at least one of name, dateOfBirth, cpf must be set")
	}
	if err := v.Err("patient update"); err != nil {
		return entities.PatientUpdate{}, err
	}

	var update entities.PatientUpdate
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		update.Name = &name
	}
	if in.DateOfBirth != nil {
		dob, _ := time.Parse(entities.DateLayout, *in.DateOfBirth)
		update.DateOfBirth = &dob
	}
	if in.CPF != nil {
		cpf, _ := valueobjects.ParseCPF(*in.CPF)
		update.CPF = &cpf
	}
	return update, nil
}

// EvaluationPayload validates an opaque clinical payload, which must be a JSON object.
// The payload is returned compacted.
func (s *Schemas) EvaluationPayload(payload any) (json.RawMessage, error) {
	var v pkgerrors.Violations
	raw, ok := toRawJSON(payload)
	switch {
	case payload == nil:
		v.Add("payload", "required", "payload is required")
	case !ok:
		v.Add("payload", "type", "payload must be valid JSON")
	default:
		if err := s.validate.Var(raw, "jsonobject"); err != nil {
			v.Add("payload", "jsonobject", "payload must be a JSON object")
		}
	}
	if err := v.Err("evaluation"); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil, pkgerrors.NewValidationError("invalid evaluation", pkgerrors.FieldViolation{
			Field: "payload", Constraint: "type", Message: "payload must be valid JSON",
		})
	}
	return json.RawMessage(buf.Bytes()), nil
}

// InstitutionConfigInput is the schema of institution options.
type InstitutionConfigInput struct {
	RequireSecondSignature *bool `json:"requireSecondSignature"`
	RetentionDays          *int  `json:"retentionDays" validate:"omitempty,min=1,max=36500"`
}

// InstitutionConfig validates a (possibly partial) institution config.
func (s *Schemas) InstitutionConfig(fields map[string]any) (entities.InstitutionConfig, error) {
	var in InstitutionConfigInput
	if err := s.check(fields, &in, "institution config"); err != nil {
		return entities.InstitutionConfig{}, err
	}
	return in.config(), nil
}

func (in InstitutionConfigInput) config() entities.InstitutionConfig {
	return entities.InstitutionConfig{
		RequireSecondSignature: in.RequireSecondSignature,
		RetentionDays:          in.RetentionDays,
	}
}

// InstitutionInput is the schema of institution provisioning.
type InstitutionInput struct {
	InstitutionID    string         `json:"institutionId" validate:"omitempty,opaqueid"`
	Name             string         `json:"name" validate:"required,max=200"`
	Config           map[string]any `json:"config"`
	AdminDisplayName string         `json:"adminDisplayName" validate:"required,max=200"`
}

// Institution is a validated provisioning request.
type Institution struct {
	InstitutionID    string
	Name             string
	Config           entities.InstitutionConfig
	AdminDisplayName string
}

// Institution validates an institution provisioning request.
func (s *Schemas) Institution(fields map[string]any) (Institution, error) {
	var in InstitutionInput
	var cfg InstitutionConfigInput
	var v pkgerrors.Violations
	s.collect(fields, &in, "", &v)
	if in.Config != nil {
		s.collect(in.Config, &cfg, "config.", &v)
	}
	if err := v.Err("institution"); err != nil {
		return Institution{}, err
	}
	return Institution{
		InstitutionID:    in.InstitutionID,
		Name:             strings.TrimSpace(in.Name),
		Config:           cfg.config(),
		AdminDisplayName: strings.TrimSpace(in.AdminDisplayName),
	}, nil
}

// UserInput is the schema of a new user.
type UserInput struct {
	UserID      string `json:"userId" validate:"required,opaqueid"`
	Role        string `json:"role" validate:"required,role"`
	DisplayName string `json:"displayName" validate:"required,max=200"`
}

// User is a validated user creation request.
type User struct {
	UserID      string
	Role        entities.Role
	DisplayName string
}

// User validates a user creation request.
func (s *Schemas) User(fields map[string]any) (User, error) {
	var in UserInput
	if err := s.check(fields, &in, "user"); err != nil {
		return User{}, err
	}
	role, _ := entities.ParseRole(in.Role)
	return User{UserID: in.UserID, Role: role, DisplayName: strings.TrimSpace(in.DisplayName)}, nil
}

// Role validates a role name.
func (s *Schemas) Role(value string) (entities.Role, error) {
	var v pkgerrors.Violations
	if err := s.validate.Var(value, "required,role"); err != nil {
		v.Addf("role", "role", "role must be one of %s", roleList())
	}
	if err := v.Err("role"); err != nil {
		return 0, err
	}
	role, _ := entities.ParseRole(value)
	return role, nil
}

// IDs validates identifiers, keyed by field name, reporting every invalid one.
func (s *Schemas) IDs(ids map[string]string) error {
	var v pkgerrors.Violations
	s.checkIDs(ids, &v)
	return v.Err("request")
}

// Token validates a monotonic token identifier such as an evaluation id.
func (s *Schemas) Token(field, value string) (valueobjects.Token, error) {
	var v pkgerrors.Violations
	if err := s.validate.Var(value, "required,token"); err != nil {
		v.Addf(field, "token", "%s must be a token of the form YYYYMMDDTHHMMSS.mmmZ-NNNNNN", field)
	}
	if err := v.Err("request"); err != nil {
		return "", err
	}
	return valueobjects.Token(value), nil
}

// AuditEntry validates a typed audit entry before it is written.
func (s *Schemas) AuditEntry(entry *entities.AuditEntry) error {
	var v pkgerrors.Violations
	ids := map[string]string{
		"institutionId":        entry.InstitutionID,
		"performedBy":          entry.PerformedBy,
		"target.institutionId": entry.Target.InstitutionID,
	}
	if entry.Target.PatientID != "" {
		ids["target.patientId"] = entry.Target.PatientID
	}
	s.checkIDs(ids, &v)

	if err := s.validate.Var(string(entry.ID), "required,token"); err != nil {
		v.Add("auditId", "token", "auditId must be a token")
	}
	if !entry.Action.Valid() {
		v.Add("action", "oneof", "action must be one of Create, Read, Update, Finalize, Amend")
	}
	if !entry.Target.Kind.Valid() {
		v.Add("target.kind", "oneof", "target kind is not recognized")
	}
	if !entry.Outcome.Status.Valid() {
		v.Add("outcome.status", "oneof", "outcome must be success or failure")
	}
	if entry.Outcome.Status == entities.OutcomeFailure && entry.Outcome.Code == "" {
		v.Add("outcome.code", "required", "failure outcomes carry a code")
	}
	if entry.Operation == "" {
		v.Add("operation", "required", "operation is required")
	}
	if entry.Timestamp.IsZero() {
		v.Add("timestamp", "required", "timestamp is required")
	}
	if err := s.validate.Var(entry.Hash, "len=64,hexadecimal"); err != nil {
		v.Add("hash", "len", "hash must be a hex SHA-256 digest")
	}
	return v.Err("audit entry")
}

func (s *Schemas) checkIDs(ids map[string]string, v *pkgerrors.Violations) {
	fields := make([]string, 0, len(ids))
	for field := range ids {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	for _, field := range fields {
		if err := valueobjects.CheckOpaqueID(ids[field]); err != nil {
			v.Addf(field, "opaqueid", "%s: %v", field, err)
		}
	}
}

// check decodes fields into out and validates its tags.
func (s *Schemas) check(fields map[string]any, out any, entity string) error {
	var v pkgerrors.Violations
	s.collect(fields, out, "", &v)
	return v.Err(entity)
}

func (s *Schemas) collect(fields map[string]any, out any, prefix string, v *pkgerrors.Violations) {
	decode(fields, out, prefix, v)

	err := s.validate.Struct(out)
	if err == nil {
		return
	}
	fieldErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		v.Add(strings.TrimSuffix(prefix, "."), "invalid", err.Error())
		return
	}
	for _, fe := range fieldErrors {
		field := prefix + fe.Field()
		if v.Has(field) {
			continue
		}
		v.Add(field, fe.Tag(), formatFieldError(field, fe))
	}
}

// formatFieldError formats a single field validation error
func formatFieldError(field string, e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, e.Param())
	case "cpf":
		return fmt.Sprintf("%s is not a valid cpf", field)
	case "pastdate":
		return fmt.Sprintf("%s must be a past date in YYYY-MM-DD format", field)
	case "role":
		return fmt.Sprintf("%s must be one of %s", field, roleList())
	case "opaqueid":
		return fmt.Sprintf("%s must be a non-empty identifier of at most %d characters without '#'",
			field, valueobjects.MaxIDLength)
	case "jsonobject":
		return fmt.Sprintf("%s must be a JSON object", field)
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}

func roleList() string {
	names := make([]string, 0, len(entities.Roles()))
	for _, r := range entities.Roles() {
		names = append(names, r.String())
	}
	return strings.Join(names, ", ")
}
