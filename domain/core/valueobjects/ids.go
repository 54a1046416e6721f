package valueobjects

import (
	"errors"
	"strings"

	"github.com/google/uuid"
)

// MaxIDLength bounds every opaque identifier.
const MaxIDLength = 128

// KeyDelimiter separates the components of a storage key; identifiers may not contain it.
const KeyDelimiter = "#"

var (
	ErrEmptyID        = errors.New("identifier cannot be empty")
	ErrIDTooLong      = errors.New("identifier exceeds 128 characters")
	ErrIDHasDelimiter = errors.New("identifier cannot contain '#'")
)

// CheckOpaqueID validates an institution, user or patient identifier.
// Identifiers are opaque: any non-empty string up to MaxIDLength without the key delimiter.
func CheckOpaqueID(id string) error {
	switch {
	case id == "":
		return ErrEmptyID
	case len(id) > MaxIDLength:
		return ErrIDTooLong
	case strings.Contains(id, KeyDelimiter):
		return ErrIDHasDelimiter
	}
	return nil
}

// NewPatientID generates a patient identifier.
func NewPatientID() string {
	return uuid.New().String()
}

// NewInstitutionID generates an institution identifier.
func NewInstitutionID() string {
	return uuid.New().String()
}
