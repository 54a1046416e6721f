package entities

import (
	"encoding/json"
	"time"

	"github.com/MiguelSchuhAlles/preanesth-app/domain/core/valueobjects"
	pkgerrors "github.com/MiguelSchuhAlles/preanesth-app/pkg/errors"
)

// DateLayout is the wire format of calendar dates.
const DateLayout = "2006-01-02"

// PatientFields are the caller-supplied attributes of a new patient.
type PatientFields struct {
	Name        string
	DateOfBirth time.Time
	CPF         valueobjects.CPF
}

// PatientUpdate is a partial patient update; nil fields are left unchanged.
type PatientUpdate struct {
	Name        *string
	DateOfBirth *time.Time
	CPF         *valueobjects.CPF
}

// Empty reports whether the update changes nothing.
func (u PatientUpdate) Empty() bool {
	return u.Name == nil && u.DateOfBirth == nil && u.CPF == nil
}

// Patient belongs to one institution. Patients are archived, never deleted.
type Patient struct {
	ID            string
	InstitutionID string
	Name          string
	DateOfBirth   time.Time
	CPF           valueobjects.CPF
	Archived      bool
	ArchivedAt    *time.Time
	Version       int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewPatient creates a patient at version 1.
func NewPatient(id, institutionID string, fields PatientFields, now time.Time) *Patient {
	return &Patient{
		ID:            id,
		InstitutionID: institutionID,
		Name:          fields.Name,
		DateOfBirth:   fields.DateOfBirth,
		CPF:           fields.CPF,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Apply performs a partial update and returns the cpf the patient held before it.
func (p *Patient) Apply(update PatientUpdate, now time.Time) (valueobjects.CPF, error) {
	previous := p.CPF
	if p.Archived {
		return previous, pkgerrors.ErrPatientArchived()
	}
	if update.Name != nil {
		p.Name = *update.Name
	}
	if update.DateOfBirth != nil {
		p.DateOfBirth = *update.DateOfBirth
	}
	if update.CPF != nil {
		p.CPF = *update.CPF
	}
	p.Version++
	p.UpdatedAt = now
	return previous, nil
}

// Archive makes the patient read-only. Archiving is one-way.
func (p *Patient) Archive(now time.Time) error {
	if p.Archived {
		return pkgerrors.ErrPatientArchived()
	}
	p.Archived = true
	p.ArchivedAt = &now
	p.Version++
	p.UpdatedAt = now
	return nil
}

type patientJSON struct {
	PatientID     string     `json:"patientId"`
	InstitutionID string     `json:"institutionId"`
	Name          string     `json:"name"`
	DateOfBirth   string     `json:"dateOfBirth"`
	CPF           string     `json:"cpf"`
	Archived      bool       `json:"archived"`
	ArchivedAt    *time.Time `json:"archivedAt,omitempty"`
	Version       int        `json:"version"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// MarshalJSON renders the date of birth as a calendar date and the cpf formatted.
func (p *Patient) MarshalJSON() ([]byte, error) {
	return json.Marshal(patientJSON{
		PatientID:     p.ID,
		InstitutionID: p.InstitutionID,
		Name:          p.Name,
		DateOfBirth:   p.DateOfBirth.Format(DateLayout),
		CPF:           p.CPF.Formatted(),
		Archived:      p.Archived,
		ArchivedAt:    p.ArchivedAt,
		Version:       p.Version,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	})
}
