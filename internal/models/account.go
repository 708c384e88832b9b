package models

import (
	"time"
)

// Account is the per-tenant (hospital) credential record.
type Account struct {
	ID           string
	HospitalName string
	Email        string
	Phone        string
	Address      string
	PasswordHash string

	// Password lockout, independent of the TOTP lockout below.
	FailedLoginAttempts int
	LockUntil           *time.Time

	// TOTP state. TotpVerified distinguishes "secret generated" from
	// "secret confirmed working" -- only enabled+verified accounts are
	// challenged at login.
	TotpEnabled         bool
	TotpVerified        bool
	TotpSecretEncrypted *string
	TotpPendingSecret   *string // non-nil only while a rotation is in flight
	TotpSetupAt         *time.Time
	TotpLastUsedAt      *time.Time
	TotpFailedAttempts  int
	TotpLockedUntil     *time.Time
	TotpSecretVersion   int
	TotpIssuer          string

	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TotpActive reports whether the account must pass a TOTP challenge at login.
func (a *Account) TotpActive() bool {
	return a.TotpEnabled && a.TotpVerified
}

// PasswordLocked reports whether the password lockout is currently in effect.
func (a *Account) PasswordLocked(now time.Time) bool {
	return a.LockUntil != nil && now.Before(*a.LockUntil)
}

// TotpLocked reports whether the TOTP lockout is currently in effect.
// An expired lock counts as not locked; the counter reset is persisted
// lazily when the next attempt is recorded.
func (a *Account) TotpLocked(now time.Time) bool {
	return a.TotpLockedUntil != nil && now.Before(*a.TotpLockedUntil)
}
