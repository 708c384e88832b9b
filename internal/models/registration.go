package models

import (
	"time"
)

// PendingRegistration holds an unverified registrant until they prove
// possession of their authenticator. It is never exposed as a usable
// account; if the TTL lapses first it is simply deleted.
type PendingRegistration struct {
	ID                  string
	HospitalName        string
	Email               string
	Phone               string
	Address             string
	PasswordHash        string
	TotpSecretEncrypted string
	CreatedAt           time.Time
	ExpiresAt           time.Time
}

// Expired reports whether the registration window has lapsed.
func (p *PendingRegistration) Expired(now time.Time) bool {
	return now.After(p.ExpiresAt)
}
