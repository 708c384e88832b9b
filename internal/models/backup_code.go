package models

import (
	"time"
)

// BackupCode is a single-use recovery credential. Only the SHA-256 hash of
// the normalized code is stored; the plaintext is shown to the user once at
// generation time. The whole set is wiped and regenerated whenever TOTP is
// enabled, disabled, or rotated.
type BackupCode struct {
	ID        string
	AccountID string
	CodeHash  string
	IsUsed    bool
	UsedAt    *time.Time
	CreatedAt time.Time
}
