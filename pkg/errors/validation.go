package errors

import (
	"fmt"
	"strings"
)

// FieldViolation describes one violated field constraint
type FieldViolation struct {
	Field      string `json:"field"`
	Constraint string `json:"constraint"`
	Message    string `json:"message"`
}

// Violations aggregates field violations so a validator can report all of them at once
type Violations struct {
	items []FieldViolation
}

// Add records a violation
func (v *Violations) Add(field, constraint, message string) {
	v.items = append(v.items, FieldViolation{Field: field, Constraint: constraint, Message: message})
}

// Addf records a violation with a formatted message
func (v *Violations) Addf(field, constraint, format string, args ...interface{}) {
	v.Add(field, constraint, fmt.Sprintf(format, args...))
}

// Has reports whether the field already has a violation
func (v *Violations) Has(field string) bool {
	for _, item := range v.items {
		if item.Field == field {
			return true
		}
	}
	return false
}

// HasErrors returns true if there are violations
func (v *Violations) HasErrors() bool {
	return len(v.items) > 0
}

// List returns the recorded violations
func (v *Violations) List() []FieldViolation {
	return append([]FieldViolation(nil), v.items...)
}

// Err returns a ValidationError for the recorded violations, or nil when there are none
func (v *Violations) Err(entity string) error {
	if !v.HasErrors() {
		return nil
	}
	fields := make([]string, len(v.items))
	for i, item := range v.items {
		fields[i] = item.Field
	}
	return NewValidationError(
		fmt.Sprintf("invalid %s: %s", entity, strings.Join(fields, ", ")),
		v.List()...,
	)
}
