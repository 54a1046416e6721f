package entities

import "time"

// DefaultRetentionDays is twenty years, the retention period for Brazilian medical records.
const DefaultRetentionDays = 7300

// InstitutionConfig holds per-institution options. Nil fields take their defaults.
type InstitutionConfig struct {
	// RequireSecondSignature makes finalization require a cosigner other than the author. Default false.
	RequireSecondSignature *bool `json:"requireSecondSignature,omitempty"`
	// RetentionDays sets how long evaluations are retained after creation. Default DefaultRetentionDays.
	RetentionDays *int `json:"retentionDays,omitempty"`
}

// SecondSignatureRequired resolves RequireSecondSignature.
func (c InstitutionConfig) SecondSignatureRequired() bool {
	if c.RequireSecondSignature == nil {
		return false
	}
	return *c.RequireSecondSignature
}

// Retention resolves RetentionDays.
func (c InstitutionConfig) Retention() int {
	if c.RetentionDays == nil {
		return DefaultRetentionDays
	}
	return *c.RetentionDays
}

// RetainUntil is the retention deadline for a record created at t.
func (c InstitutionConfig) RetainUntil(t time.Time) time.Time {
	return t.AddDate(0, 0, c.Retention())
}

// Merge returns c with every field set in update applied.
func (c InstitutionConfig) Merge(update InstitutionConfig) InstitutionConfig {
	if update.RequireSecondSignature != nil {
		v := *update.RequireSecondSignature
		c.RequireSecondSignature = &v
	}
	if update.RetentionDays != nil {
		v := *update.RetentionDays
		c.RetentionDays = &v
	}
	return c
}

// Institution is a tenant. Its identifier never changes.
type Institution struct {
	ID        string            `json:"institutionId"`
	Name      string            `json:"name"`
	Config    InstitutionConfig `json:"config"`
	Version   int               `json:"version"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// NewInstitution creates an institution at version 1.
func NewInstitution(id, name string, config InstitutionConfig, now time.Time) *Institution {
	return &Institution{
		ID:        id,
		Name:      name,
		Config:    InstitutionConfig{}.Merge(config),
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// UpdateConfig applies a partial config update.
func (i *Institution) UpdateConfig(update InstitutionConfig, now time.Time) {
	i.Config = i.Config.Merge(update)
	i.Version++
	i.UpdatedAt = now
}
