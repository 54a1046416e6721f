package validators

import (
	"bytes"
	"encoding/json"
	"reflect"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/MiguelSchuhAlles/preanesth-app/domain/core/entities"
	"github.com/MiguelSchuhAlles/preanesth-app/domain/core/valueobjects"
)

// earliestBirthYear rejects obviously mistyped dates of birth.
const earliestBirthYear = 1900

func fieldString(fl validator.FieldLevel) (string, bool) {
	f := fl.Field()
	if f.Kind() == reflect.Ptr {
		if f.IsNil() {
			return "", false
		}
		f = f.Elem()
	}
	if f.Kind() != reflect.String {
		return "", false
	}
	return f.String(), true
}

func validateCPF(fl validator.FieldLevel) bool {
	s, ok := fieldString(fl)
	if !ok {
		return false
	}
	_, err := valueobjects.ParseCPF(s)
	return err == nil
}

// validatePastDate accepts calendar dates no later than today.
func (s *Schemas) validatePastDate(fl validator.FieldLevel) bool {
	value, ok := fieldString(fl)
	if !ok {
		return false
	}
	d, err := time.Parse(entities.DateLayout, value)
	if err != nil {
		return false
	}
	now := s.now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return !d.After(today) && d.Year() >= earliestBirthYear
}

func validateRole(fl validator.FieldLevel) bool {
	s, ok := fieldString(fl)
	if !ok {
		return false
	}
	_, err := entities.ParseRole(s)
	return err == nil
}

func validateOpaqueID(fl validator.FieldLevel) bool {
	s, ok := fieldString(fl)
	return ok && valueobjects.CheckOpaqueID(s) == nil
}

func validateToken(fl validator.FieldLevel) bool {
	s, ok := fieldString(fl)
	return ok && valueobjects.Token(s).Valid()
}

func validateJSONObject(fl validator.FieldLevel) bool {
	f := fl.Field()
	if f.Kind() != reflect.Slice || f.Type().Elem().Kind() != reflect.Uint8 {
		return false
	}
	raw := bytes.TrimSpace(f.Bytes())
	if len(raw) == 0 || raw[0] != '{' {
		return false
	}
	return json.Valid(raw)
}
