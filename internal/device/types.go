package device

import (
	"maps"
	"time"
)

// Device is a registered telemetry source.
type Device struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description *string        `json:"description"`
	Notes       map[string]any `json:"notes"`

	// APIKeys holds the device's key metadata: zero or one entry.
	APIKeys []KeyInfo `json:"api_keys"`

	CreatedAt time.Time `json:"created_date"`
	UpdatedAt time.Time `json:"updated_date"`
}

// KeyInfo is the public view of a device's API key. It never carries the
// secret or its digest.
type KeyInfo struct {
	ID        string    `json:"id"`
	DeviceID  string    `json:"device_id"`
	CreatedAt time.Time `json:"created_date"`
	Revoked   bool      `json:"revoked"`
}

// Patch is a partial update. Nil fields are left unchanged.
type Patch struct {
	Name        *string
	Description *string
	Notes       map[string]any
}

// IsEmpty reports whether the patch changes nothing.
func (p Patch) IsEmpty() bool {
	return p.Name == nil && p.Description == nil && p.Notes == nil
}

// Apply copies the set fields of p onto d.
func (p Patch) Apply(d *Device) {
	if p.Name != nil {
		d.Name = *p.Name
	}
	if p.Description != nil {
		desc := *p.Description
		d.Description = &desc
	}
	if p.Notes != nil {
		d.Notes = maps.Clone(p.Notes)
	}
}
