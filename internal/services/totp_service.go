package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/chartlock/chartlock/internal/auth"
	"github.com/chartlock/chartlock/internal/models"
	pkgauth "github.com/chartlock/chartlock/pkg/auth"
)

// BackupCodeRepository stores only hashes; consumption is single-use and
// guarded at the database level.
type BackupCodeRepository interface {
	ReplaceAll(ctx context.Context, accountID string, codeHashes []string) error
	ListUnused(ctx context.Context, accountID string) ([]*models.BackupCode, error)
	MarkUsed(ctx context.Context, id string) error
	CountUnused(ctx context.Context, accountID string) (int, error)
}

// TotpPolicy holds the tunable 2FA constants. Injected so tests can use
// arbitrary thresholds.
type TotpPolicy struct {
	MaxFailedAttempts int
	LockoutDuration   time.Duration
	BackupCodeCount   int
}

// LockoutStatus is the result of inspecting an account's TOTP lockout.
type LockoutStatus struct {
	IsLocked          bool
	LockedUntil       *time.Time
	RemainingAttempts int
}

// TotpStatus summarizes an account's 2FA state for display.
type TotpStatus struct {
	Enabled          bool       `json:"enabled"`
	Verified         bool       `json:"verified"`
	SetupAt          *time.Time `json:"setup_at,omitempty"`
	LastUsedAt       *time.Time `json:"last_used_at,omitempty"`
	RotationPending  bool       `json:"rotation_pending"`
	BackupCodesLeft  int        `json:"backup_codes_left"`
}

// TotpService owns the 2FA lifecycle for active accounts: setup, strict
// confirmation, disable, pending-secret rotation, backup code recovery,
// and the TOTP lockout bookkeeping (independent of the password lockout).
type TotpService struct {
	accounts    AccountRepository
	backupCodes BackupCodeRepository
	totpMgr     *auth.TOTPManager
	audit       *AuditService
	logger      *slog.Logger
	policy      TotpPolicy
}

func NewTotpService(
	accounts AccountRepository,
	backupCodes BackupCodeRepository,
	totpMgr *auth.TOTPManager,
	audit *AuditService,
	logger *slog.Logger,
	policy TotpPolicy,
) *TotpService {
	return &TotpService{
		accounts:    accounts,
		backupCodes: backupCodes,
		totpMgr:     totpMgr,
		audit:       audit,
		logger:      logger,
		policy:      policy,
	}
}

// CheckLockout inspects the TOTP lockout without persisting anything. An
// expired lock reads as not-locked with attempts reset to the maximum; the
// actual counter reset is written when the next attempt is recorded.
func (s *TotpService) CheckLockout(account *models.Account) LockoutStatus {
	now := time.Now()
	if account.TotpLocked(now) {
		return LockoutStatus{
			IsLocked:          true,
			LockedUntil:       account.TotpLockedUntil,
			RemainingAttempts: 0,
		}
	}

	remaining := s.policy.MaxFailedAttempts - account.TotpFailedAttempts
	if account.TotpLockedUntil != nil || remaining < 0 {
		// Expired lock, or stale counter beyond the threshold.
		remaining = s.policy.MaxFailedAttempts
	}
	return LockoutStatus{RemainingAttempts: remaining}
}

// RecordFailedAttempt bumps the failure counter (clearing an expired lock
// first) and arms the lock when the threshold is hit. Returns whether the
// account just became locked and how many attempts remain.
func (s *TotpService) RecordFailedAttempt(ctx context.Context, account *models.Account) (bool, LockoutStatus, error) {
	lockUntil := time.Now().Add(s.policy.LockoutDuration)
	attempts, lockedUntil, err := s.accounts.RecordTotpFailure(ctx, account.ID, s.policy.MaxFailedAttempts, lockUntil)
	if err != nil {
		s.logger.Error("failed to record TOTP failure", slog.String("account_id", account.ID), slog.Any("error", err))
		return false, LockoutStatus{}, models.ErrInternalServer
	}

	remaining := s.policy.MaxFailedAttempts - attempts
	if remaining < 0 {
		remaining = 0
	}

	status := LockoutStatus{
		IsLocked:          lockedUntil != nil && time.Now().Before(*lockedUntil),
		LockedUntil:       lockedUntil,
		RemainingAttempts: remaining,
	}
	return status.IsLocked, status, nil
}

// ResetFailedAttempts zeroes the counter and clears the lock after any
// successful TOTP or backup-code authentication.
func (s *TotpService) ResetFailedAttempts(ctx context.Context, accountID string) error {
	if err := s.accounts.ResetTotpFailures(ctx, accountID); err != nil {
		s.logger.Error("failed to reset TOTP failures", slog.String("account_id", accountID), slog.Any("error", err))
		return models.ErrInternalServer
	}
	return nil
}

// Setup generates and stores an unverified secret for an account enabling
// 2FA. Rejected once setup is already confirmed; disable first, or rotate.
func (s *TotpService) Setup(ctx context.Context, accountID string, meta RequestMeta) (*auth.SetupMaterial, error) {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, s.mapAccountErr(err, accountID)
	}

	if account.TotpActive() {
		return nil, models.ErrSetupAlreadyComplete
	}

	material, err := s.totpMgr.GenerateSecret(account.Email)
	if err != nil {
		s.logger.Error("failed to generate TOTP secret", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if err := s.accounts.StoreSetupSecret(ctx, accountID, material.EncryptedSecret, account.TotpIssuer); err != nil {
		s.logger.Error("failed to store setup secret", slog.String("account_id", accountID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.audit.Record(models.AuditActionTotpSetup, models.AuditOutcomeSuccess, accountID, meta, nil)
	return material, nil
}

// ConfirmSetup verifies the first code strictly (zero drift: the device
// clock must already be right), enables 2FA, and returns the one-time
// backup codes.
func (s *TotpService) ConfirmSetup(ctx context.Context, accountID, code string, meta RequestMeta) ([]string, error) {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, s.mapAccountErr(err, accountID)
	}

	if account.TotpActive() {
		return nil, models.ErrSetupAlreadyComplete
	}
	if account.TotpSecretEncrypted == nil {
		return nil, models.ErrSetupNotInitiated
	}

	valid, err := s.totpMgr.VerifyCode(*account.TotpSecretEncrypted, code, true)
	if err != nil {
		s.logger.Error("TOTP verification error", slog.String("account_id", accountID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	if !valid {
		s.audit.Record(models.AuditActionTotpConfirm, models.AuditOutcomeFailure, accountID, meta, nil)
		return nil, models.ErrInvalidTotpCode
	}

	codes, hashes, err := s.newBackupCodes()
	if err != nil {
		return nil, err
	}

	if err := s.accounts.MarkTotpVerified(ctx, accountID, hashes); err != nil {
		if errors.Is(err, models.ErrSetupNotInitiated) {
			return nil, err
		}
		s.logger.Error("failed to enable TOTP", slog.String("account_id", accountID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.audit.Record(models.AuditActionTotpConfirm, models.AuditOutcomeSuccess, accountID, meta, nil)
	s.logger.Info("TOTP enabled", slog.String("account_id", accountID))
	return codes, nil
}

// Disable requires a valid current code and then wipes all TOTP and
// backup-code state.
func (s *TotpService) Disable(ctx context.Context, accountID, code string, meta RequestMeta) error {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return s.mapAccountErr(err, accountID)
	}

	if !account.TotpActive() || account.TotpSecretEncrypted == nil {
		return models.ErrSetupNotInitiated
	}

	valid, err := s.totpMgr.VerifyCode(*account.TotpSecretEncrypted, code, false)
	if err != nil {
		s.logger.Error("TOTP verification error", slog.String("account_id", accountID), slog.Any("error", err))
		return models.ErrInternalServer
	}
	if !valid {
		s.audit.Record(models.AuditActionTotpDisable, models.AuditOutcomeFailure, accountID, meta, nil)
		return models.ErrInvalidTotpCode
	}

	if err := s.accounts.DisableTotp(ctx, accountID); err != nil {
		s.logger.Error("failed to disable TOTP", slog.String("account_id", accountID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.audit.Record(models.AuditActionTotpDisable, models.AuditOutcomeSuccess, accountID, meta, nil)
	s.logger.Info("TOTP disabled", slog.String("account_id", accountID))
	return nil
}

// InitiateRotation re-verifies the password and stages a pending secret.
// The active secret keeps protecting the account until the new one is
// strictly confirmed.
func (s *TotpService) InitiateRotation(ctx context.Context, accountID, password string, meta RequestMeta) (*auth.SetupMaterial, error) {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, s.mapAccountErr(err, accountID)
	}

	if !account.TotpActive() {
		return nil, models.ErrSetupNotInitiated
	}

	if err := pkgauth.ComparePassword(account.PasswordHash, password); err != nil {
		s.audit.Record(models.AuditActionTotpRotateStart, models.AuditOutcomeFailure, accountID, meta, map[string]any{"reason": "bad_password"})
		return nil, models.ErrInvalidCredentials
	}

	material, err := s.totpMgr.GenerateSecret(account.Email)
	if err != nil {
		s.logger.Error("failed to generate rotation secret", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if err := s.accounts.StorePendingSecret(ctx, accountID, material.EncryptedSecret); err != nil {
		s.logger.Error("failed to store pending secret", slog.String("account_id", accountID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.audit.Record(models.AuditActionTotpRotateStart, models.AuditOutcomeSuccess, accountID, meta, nil)
	return material, nil
}

// ConfirmRotation strictly verifies a code from the pending secret, then
// promotes it and regenerates backup codes atomically. Codes from the old
// secret and all old backup codes are dead from this point on.
func (s *TotpService) ConfirmRotation(ctx context.Context, accountID, code string, meta RequestMeta) ([]string, error) {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, s.mapAccountErr(err, accountID)
	}

	if account.TotpPendingSecret == nil {
		return nil, models.ErrRotationNotPending
	}

	valid, err := s.totpMgr.VerifyCode(*account.TotpPendingSecret, code, true)
	if err != nil {
		s.logger.Error("TOTP verification error", slog.String("account_id", accountID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	if !valid {
		s.audit.Record(models.AuditActionTotpRotateConfirm, models.AuditOutcomeFailure, accountID, meta, nil)
		return nil, models.ErrInvalidTotpCode
	}

	codes, hashes, err := s.newBackupCodes()
	if err != nil {
		return nil, err
	}

	if err := s.accounts.PromotePendingSecret(ctx, accountID, hashes); err != nil {
		if errors.Is(err, models.ErrRotationNotPending) {
			return nil, err
		}
		s.logger.Error("failed to promote pending secret", slog.String("account_id", accountID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.audit.Record(models.AuditActionTotpRotateConfirm, models.AuditOutcomeSuccess, accountID, meta, nil)
	s.logger.Info("TOTP secret rotated", slog.String("account_id", accountID))
	return codes, nil
}

// VerifyAndConsumeBackupCode checks a recovery code against the account's
// unused hashes (constant-time per candidate) and consumes the match.
// Returns false on no match or when the code was already spent by a
// concurrent request.
func (s *TotpService) VerifyAndConsumeBackupCode(ctx context.Context, accountID, code string) (bool, error) {
	unused, err := s.backupCodes.ListUnused(ctx, accountID)
	if err != nil {
		s.logger.Error("failed to list backup codes", slog.String("account_id", accountID), slog.Any("error", err))
		return false, models.ErrInternalServer
	}

	for _, candidate := range unused {
		if !auth.MatchBackupCode(code, candidate.CodeHash) {
			continue
		}

		if err := s.backupCodes.MarkUsed(ctx, candidate.ID); err != nil {
			if errors.Is(err, models.ErrNotFound) {
				// Someone else consumed it between list and mark.
				return false, nil
			}
			s.logger.Error("failed to consume backup code", slog.String("account_id", accountID), slog.Any("error", err))
			return false, models.ErrInternalServer
		}
		return true, nil
	}

	return false, nil
}

// Status returns the account's 2FA state for display.
func (s *TotpService) Status(ctx context.Context, accountID string) (*TotpStatus, error) {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, s.mapAccountErr(err, accountID)
	}

	left, err := s.backupCodes.CountUnused(ctx, accountID)
	if err != nil {
		s.logger.Error("failed to count backup codes", slog.String("account_id", accountID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	return &TotpStatus{
		Enabled:         account.TotpEnabled,
		Verified:        account.TotpVerified,
		SetupAt:         account.TotpSetupAt,
		LastUsedAt:      account.TotpLastUsedAt,
		RotationPending: account.TotpPendingSecret != nil,
		BackupCodesLeft: left,
	}, nil
}

// newBackupCodes produces a fresh plaintext set plus the hashes to persist.
func (s *TotpService) newBackupCodes() ([]string, []string, error) {
	codes, err := s.totpMgr.GenerateBackupCodes(s.policy.BackupCodeCount)
	if err != nil {
		s.logger.Error("failed to generate backup codes", slog.Any("error", err))
		return nil, nil, models.ErrInternalServer
	}

	hashes := make([]string, len(codes))
	for i, code := range codes {
		hashes[i] = auth.HashBackupCode(code)
	}
	return codes, hashes, nil
}

func (s *TotpService) mapAccountErr(err error, accountID string) error {
	if errors.Is(err, models.ErrNotFound) {
		return models.ErrNotFound
	}
	s.logger.Error("failed to load account", slog.String("account_id", accountID), slog.Any("error", err))
	return models.ErrInternalServer
}
