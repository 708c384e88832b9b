package models

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// ErrInvalidCredentials covers both unknown-email and wrong-password;
	// the two are never distinguished to the caller.
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrAccountInactive    = errors.New("account is deactivated")
	ErrDuplicateAccount   = errors.New("email or phone already registered")

	// Token verification failures, each distinct so boundaries can react.
	ErrTokenExpired         = errors.New("token expired")
	ErrTokenInvalid         = errors.New("token invalid")
	ErrTokenTypeMismatch    = errors.New("token type mismatch")
	ErrTokenPurposeMismatch = errors.New("token purpose mismatch")

	ErrInvalidTotpCode   = errors.New("invalid authenticator code")
	ErrInvalidBackupCode = errors.New("invalid backup code")

	ErrSetupAlreadyComplete = errors.New("two-factor setup already complete")
	ErrSetupNotInitiated    = errors.New("two-factor setup not initiated")
	ErrRotationNotPending   = errors.New("no secret rotation pending")

	ErrRegistrationSessionExpired = errors.New("registration session expired")
)

// Lockout scopes for LockedError.
const (
	LockScopePassword = "password"
	LockScopeTotp     = "totp"
)

// LockedError reports a password or TOTP lockout together with the time
// the lock expires. Matched with errors.As at the boundary so the client
// can show a countdown.
type LockedError struct {
	Scope string
	Until time.Time
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("account temporarily locked (%s) until %s", e.Scope, e.Until.UTC().Format(time.RFC3339))
}

// AttemptsError wraps a wrong-code failure with the number of attempts
// left before lockout. The wrapped sentinel stays matchable via errors.Is.
type AttemptsError struct {
	Err       error
	Remaining int
}

func (e *AttemptsError) Error() string {
	return fmt.Sprintf("%s (%d attempts remaining)", e.Err, e.Remaining)
}

func (e *AttemptsError) Unwrap() error {
	return e.Err
}
