package models

import (
	"time"
)

// Session is one device login. Rows are keyed by the SHA-256 hash of the
// refresh token string; the store lookup (not just the JWT signature) gates
// whether a refresh token is still live, which is what makes logout an
// actual revocation.
type Session struct {
	ID               string
	AccountID        string
	RefreshTokenHash string
	DeviceID         string
	IPAddress        string
	UserAgent        string
	CreatedAt        time.Time
	ExpiresAt        time.Time
}

// Expired reports whether the session has passed its expiry.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}
