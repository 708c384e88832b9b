package models

import (
	"time"
)

// Audit actions recorded by the auth core.
const (
	AuditActionRegister          = "register"
	AuditActionRegisterVerify    = "register_verify"
	AuditActionLogin             = "login"
	AuditActionLoginTotp         = "login_totp"
	AuditActionLoginBackupCode   = "login_backup_code"
	AuditActionTotpSetup         = "totp_setup"
	AuditActionTotpConfirm       = "totp_confirm"
	AuditActionTotpDisable       = "totp_disable"
	AuditActionTotpRotateStart   = "totp_rotate_start"
	AuditActionTotpRotateConfirm = "totp_rotate_confirm"
	AuditActionRefresh           = "refresh"
	AuditActionLogout            = "logout"
)

// Audit outcomes.
const (
	AuditOutcomeSuccess = "success"
	AuditOutcomeFailure = "failure"
	AuditOutcomeLocked  = "locked"
)

// AuditEvent is an append-only record of a security-relevant action.
// AccountID is nil when the actor could not be resolved (failed lookup).
// Details is a loose key-value bag the core never inspects.
type AuditEvent struct {
	ID        string
	AccountID *string
	Action    string
	Outcome   string
	IPAddress string
	UserAgent string
	Details   map[string]any
	CreatedAt time.Time
}
