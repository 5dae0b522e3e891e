// Package remember persists the opt-in "remember me" phone number per device,
// independent of any login session.
package remember

import (
	"time"

	"github.com/google/uuid"
)

// TTL is the validity window of a remember-me record.
const TTL = 30 * 24 * time.Hour

// Record maps to the remember_me table.
type Record struct {
	DeviceID  uuid.UUID `db:"device_id" json:"device_id"`
	Phone     string    `db:"phone" json:"phone"`
	ExpiresAt time.Time `db:"expires_at" json:"expires_at"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Expired reports whether the record is past its validity window at t.
func (r *Record) Expired(t time.Time) bool {
	return !t.Before(r.ExpiresAt)
}
