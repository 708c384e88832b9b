package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/chartlock/chartlock/internal/auth"
	"github.com/chartlock/chartlock/internal/models"
	pkgauth "github.com/chartlock/chartlock/pkg/auth"
	pkglogger "github.com/chartlock/chartlock/pkg/logger"
)

// AccountRepository is the persistence surface the services need for
// accounts, including the atomic lockout counters.
type AccountRepository interface {
	GetByID(ctx context.Context, id string) (*models.Account, error)
	GetByEmail(ctx context.Context, email string) (*models.Account, error)
	ExistsByEmailOrPhone(ctx context.Context, email, phone string) (bool, error)
	Create(ctx context.Context, account *models.Account) (*models.Account, error)
	UpdateProfile(ctx context.Context, id, hospitalName, address string) (*models.Account, error)

	RecordLoginFailure(ctx context.Context, id string, maxAttempts int, lockUntil time.Time) (int, *time.Time, error)
	ResetLoginFailures(ctx context.Context, id string) error
	RecordTotpFailure(ctx context.Context, id string, maxAttempts int, lockUntil time.Time) (int, *time.Time, error)
	ResetTotpFailures(ctx context.Context, id string) error

	StoreSetupSecret(ctx context.Context, id, encryptedSecret, issuer string) error
	MarkTotpVerified(ctx context.Context, id string, codeHashes []string) error
	StorePendingSecret(ctx context.Context, id, encryptedSecret string) error
	PromotePendingSecret(ctx context.Context, id string, codeHashes []string) error
	ClearPendingSecret(ctx context.Context, id string) error
	DisableTotp(ctx context.Context, id string) error
}

// RegistrationRepository stores unverified registrants.
type RegistrationRepository interface {
	Create(ctx context.Context, reg *models.PendingRegistration) (*models.PendingRegistration, error)
	GetByID(ctx context.Context, id string) (*models.PendingRegistration, error)
	Delete(ctx context.Context, id string) error
	DeleteExpired(ctx context.Context) (int64, error)
}

// LoginPolicy holds the password-lockout constants.
type LoginPolicy struct {
	MaxFailedLogins int
	LockoutDuration time.Duration
	RegistrationTTL time.Duration
}

// RegisterInput carries the validated registration fields.
type RegisterInput struct {
	HospitalName string
	Email        string
	Phone        string
	Address      string
	Password     string
}

// RegisterResponse hands back the enrollment material the client needs
// to finish phase two: scan the QR, then submit a code with the
// registration token.
type RegisterResponse struct {
	RegistrationToken string `json:"registration_token"`
	QRCode            string `json:"qr_code"`
	Secret            string `json:"secret"`
	OtpauthURL        string `json:"otpauth_url"`
	ExpiresIn         int64  `json:"expires_in"`
}

// LoginResponse is the phase-one login result. Exactly one of Tokens or
// TempToken is set: TempToken when the account must still pass a TOTP
// challenge.
type LoginResponse struct {
	TotpRequired      bool       `json:"totp_required"`
	TempToken         string     `json:"temp_token,omitempty"`
	Tokens            *TokenPair `json:"tokens,omitempty"`
	TotpSetupRequired bool       `json:"totp_setup_required,omitempty"`
}

// AuthResponse is the terminal success payload of any login path.
type AuthResponse struct {
	Tokens               *TokenPair `json:"tokens"`
	BackupCodes          []string   `json:"backup_codes,omitempty"`
	BackupCodesRemaining *int       `json:"backup_codes_remaining,omitempty"`
}

// AuthService orchestrates two-phase registration, the three login
// paths, and the refresh/logout pair. Lockout state, token issuing and
// session bookkeeping live in the collaborating services.
type AuthService struct {
	accounts      AccountRepository
	registrations RegistrationRepository
	backupCodes   BackupCodeRepository
	sessions      *SessionService
	totp          *TotpService
	totpMgr       *auth.TOTPManager
	tokens        *auth.TokenManager
	audit         *AuditService
	timing        *auth.TimingDelay
	logger        *slog.Logger
	policy        LoginPolicy
	totpPolicy    TotpPolicy
}

func NewAuthService(
	accounts AccountRepository,
	registrations RegistrationRepository,
	backupCodes BackupCodeRepository,
	sessions *SessionService,
	totp *TotpService,
	totpMgr *auth.TOTPManager,
	tokens *auth.TokenManager,
	audit *AuditService,
	timing *auth.TimingDelay,
	logger *slog.Logger,
	policy LoginPolicy,
	totpPolicy TotpPolicy,
) *AuthService {
	return &AuthService{
		accounts:      accounts,
		registrations: registrations,
		backupCodes:   backupCodes,
		sessions:      sessions,
		totp:          totp,
		totpMgr:       totpMgr,
		tokens:        tokens,
		audit:         audit,
		timing:        timing,
		logger:        logger,
		policy:        policy,
		totpPolicy:    totpPolicy,
	}
}

// Register starts phase one: stage the registrant with a hashed password
// and a fresh encrypted TOTP secret, and hand back the QR material plus
// a short-lived registration token. No account exists yet.
func (s *AuthService) Register(ctx context.Context, input RegisterInput, meta RequestMeta) (*RegisterResponse, error) {
	exists, err := s.accounts.ExistsByEmailOrPhone(ctx, input.Email, input.Phone)
	if err != nil {
		s.logger.Error("registration uniqueness check failed", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	if exists {
		s.audit.Record(models.AuditActionRegister, models.AuditOutcomeFailure, "", meta, map[string]any{"reason": "duplicate"})
		return nil, models.ErrDuplicateAccount
	}

	passwordHash, err := pkgauth.HashPassword(input.Password)
	if err != nil {
		s.logger.Error("password hashing failed", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	material, err := s.totpMgr.GenerateSecret(input.Email)
	if err != nil {
		s.logger.Error("failed to generate registration secret", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	reg := &models.PendingRegistration{
		HospitalName:        input.HospitalName,
		Email:               input.Email,
		Phone:               input.Phone,
		Address:             input.Address,
		PasswordHash:        passwordHash,
		TotpSecretEncrypted: material.EncryptedSecret,
		ExpiresAt:           time.Now().Add(s.policy.RegistrationTTL),
	}
	reg, err = s.registrations.Create(ctx, reg)
	if err != nil {
		s.logger.Error("failed to stage registration", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	token, err := s.tokens.GenerateTempToken(reg.ID, models.TokenPurposeRegisterVerify)
	if err != nil {
		s.logger.Error("failed to mint registration token", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.audit.Record(models.AuditActionRegister, models.AuditOutcomeSuccess, "", meta, map[string]any{"registration_id": reg.ID})
	s.logger.Info("registration staged", slog.String("registration_id", reg.ID))

	return &RegisterResponse{
		RegistrationToken: token,
		QRCode:            material.QRCode,
		Secret:            material.Secret,
		OtpauthURL:        material.OtpauthURL,
		ExpiresIn:         int64(s.policy.RegistrationTTL.Seconds()),
	}, nil
}

// VerifyRegistration finishes phase two: the registrant proves their
// authenticator works by submitting a strictly verified code, the
// pending record is promoted to a real account with 2FA already armed,
// and a first session opens. Backup codes are returned exactly once.
func (s *AuthService) VerifyRegistration(ctx context.Context, registrationToken, code string, meta RequestMeta) (*AuthResponse, error) {
	claims, err := s.tokens.VerifyTempToken(registrationToken, models.TokenPurposeRegisterVerify)
	if err != nil {
		return nil, err
	}

	reg, err := s.registrations.GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrRegistrationSessionExpired
		}
		s.logger.Error("failed to load pending registration", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if reg.Expired(time.Now()) {
		if err := s.registrations.Delete(ctx, reg.ID); err != nil {
			s.logger.Warn("failed to delete expired registration", slog.String("registration_id", reg.ID), slog.Any("error", err))
		}
		return nil, models.ErrRegistrationSessionExpired
	}

	valid, err := s.totpMgr.VerifyCode(reg.TotpSecretEncrypted, code, true)
	if err != nil {
		s.logger.Error("registration code verification error", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	if !valid {
		s.audit.Record(models.AuditActionRegisterVerify, models.AuditOutcomeFailure, "", meta, map[string]any{"registration_id": reg.ID})
		return nil, models.ErrInvalidTotpCode
	}

	// Re-check uniqueness: another registrant for the same email may
	// have finished while this one's window was open.
	exists, err := s.accounts.ExistsByEmailOrPhone(ctx, reg.Email, reg.Phone)
	if err != nil {
		s.logger.Error("verification uniqueness check failed", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	if exists {
		_ = s.registrations.Delete(ctx, reg.ID)
		return nil, models.ErrDuplicateAccount
	}

	now := time.Now()
	secret := reg.TotpSecretEncrypted
	account := &models.Account{
		HospitalName:        reg.HospitalName,
		Email:               reg.Email,
		Phone:               reg.Phone,
		Address:             reg.Address,
		PasswordHash:        reg.PasswordHash,
		TotpEnabled:         true,
		TotpVerified:        true,
		TotpSecretEncrypted: &secret,
		TotpSetupAt:         &now,
		TotpSecretVersion:   1,
		TotpIssuer:          s.totpMgr.Issuer(),
		IsActive:            true,
	}
	account, err = s.accounts.Create(ctx, account)
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			_ = s.registrations.Delete(ctx, reg.ID)
			return nil, models.ErrDuplicateAccount
		}
		s.logger.Error("failed to create account", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if err := s.registrations.Delete(ctx, reg.ID); err != nil {
		s.logger.Warn("failed to delete consumed registration", slog.String("registration_id", reg.ID), slog.Any("error", err))
	}

	codes, err := s.totpMgr.GenerateBackupCodes(s.totpPolicy.BackupCodeCount)
	if err != nil {
		s.logger.Error("failed to generate backup codes", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	hashes := make([]string, len(codes))
	for i, c := range codes {
		hashes[i] = auth.HashBackupCode(c)
	}
	if err := s.backupCodes.ReplaceAll(ctx, account.ID, hashes); err != nil {
		s.logger.Error("failed to store backup codes", slog.String("account_id", account.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	pair, err := s.sessions.Open(ctx, account.ID, meta)
	if err != nil {
		return nil, err
	}

	s.audit.Record(models.AuditActionRegisterVerify, models.AuditOutcomeSuccess, account.ID, meta, nil)
	s.logger.Info("account created", slog.String("account_id", account.ID))

	return &AuthResponse{Tokens: pair, BackupCodes: codes}, nil
}

// Login checks the password under a minimum-response-time floor so the
// caller cannot distinguish unknown-email from wrong-password. A 2FA
// account gets a short-lived temp token instead of a session; the rare
// account without confirmed 2FA logs in directly but is flagged to set
// it up.
func (s *AuthService) Login(ctx context.Context, email, password string, meta RequestMeta) (*LoginResponse, error) {
	start := time.Now()

	account, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.timing.WaitFrom(start, false)
			s.logger.Info("login attempt for unknown email", slog.String("email", pkglogger.SanitizedEmail(email)))
			s.audit.Record(models.AuditActionLogin, models.AuditOutcomeFailure, "", meta, map[string]any{"reason": "unknown_email"})
			return nil, models.ErrInvalidCredentials
		}
		s.logger.Error("failed to load account by email", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	now := time.Now()
	if account.PasswordLocked(now) {
		s.timing.WaitFrom(start, false)
		s.audit.Record(models.AuditActionLogin, models.AuditOutcomeLocked, account.ID, meta, nil)
		return nil, &models.LockedError{Scope: models.LockScopePassword, Until: *account.LockUntil}
	}

	if err := pkgauth.ComparePassword(account.PasswordHash, password); err != nil {
		lockUntil := time.Now().Add(s.policy.LockoutDuration)
		attempts, lockedUntil, recErr := s.accounts.RecordLoginFailure(ctx, account.ID, s.policy.MaxFailedLogins, lockUntil)
		if recErr != nil {
			s.logger.Error("failed to record login failure", slog.String("account_id", account.ID), slog.Any("error", recErr))
			s.timing.WaitFrom(start, false)
			return nil, models.ErrInternalServer
		}

		s.timing.WaitFrom(start, false)
		if lockedUntil != nil && time.Now().Before(*lockedUntil) {
			s.audit.Record(models.AuditActionLogin, models.AuditOutcomeLocked, account.ID, meta, map[string]any{"attempts": attempts})
			return nil, &models.LockedError{Scope: models.LockScopePassword, Until: *lockedUntil}
		}

		remaining := s.policy.MaxFailedLogins - attempts
		if remaining < 0 {
			remaining = 0
		}
		s.audit.Record(models.AuditActionLogin, models.AuditOutcomeFailure, account.ID, meta, map[string]any{"attempts": attempts})
		return nil, &models.AttemptsError{Err: models.ErrInvalidCredentials, Remaining: remaining}
	}

	if !account.IsActive {
		s.timing.WaitFrom(start, false)
		s.audit.Record(models.AuditActionLogin, models.AuditOutcomeFailure, account.ID, meta, map[string]any{"reason": "inactive"})
		return nil, models.ErrAccountInactive
	}

	if err := s.accounts.ResetLoginFailures(ctx, account.ID); err != nil {
		s.logger.Warn("failed to reset login failures", slog.String("account_id", account.ID), slog.Any("error", err))
	}

	if account.TotpActive() {
		tempToken, err := s.tokens.GenerateTempToken(account.ID, models.TokenPurposeTotpLogin)
		if err != nil {
			s.logger.Error("failed to mint temp token", slog.String("account_id", account.ID), slog.Any("error", err))
			s.timing.WaitFrom(start, false)
			return nil, models.ErrInternalServer
		}

		s.timing.WaitFrom(start, true)
		s.audit.Record(models.AuditActionLogin, models.AuditOutcomeSuccess, account.ID, meta, map[string]any{"totp_required": true})
		return &LoginResponse{TotpRequired: true, TempToken: tempToken}, nil
	}

	pair, err := s.sessions.Open(ctx, account.ID, meta)
	if err != nil {
		s.timing.WaitFrom(start, false)
		return nil, err
	}

	s.timing.WaitFrom(start, true)
	s.audit.Record(models.AuditActionLogin, models.AuditOutcomeSuccess, account.ID, meta, nil)
	return &LoginResponse{Tokens: pair, TotpSetupRequired: true}, nil
}

// LoginWithTotp is phase two of a 2FA login: a lenient-window code check
// against the active secret, gated by the TOTP lockout.
func (s *AuthService) LoginWithTotp(ctx context.Context, tempToken, code string, meta RequestMeta) (*AuthResponse, error) {
	account, err := s.challengeAccount(ctx, tempToken)
	if err != nil {
		return nil, err
	}

	if account.TotpLocked(time.Now()) {
		s.audit.Record(models.AuditActionLoginTotp, models.AuditOutcomeLocked, account.ID, meta, nil)
		return nil, &models.LockedError{Scope: models.LockScopeTotp, Until: *account.TotpLockedUntil}
	}

	if !account.TotpActive() || account.TotpSecretEncrypted == nil {
		return nil, models.ErrSetupNotInitiated
	}

	valid, err := s.totpMgr.VerifyCode(*account.TotpSecretEncrypted, code, false)
	if err != nil {
		s.logger.Error("TOTP verification error", slog.String("account_id", account.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	if valid && account.TotpLastUsedAt != nil {
		// A code from the step the last successful login spent still
		// falls inside the lenient window. Replaying it is treated as
		// a failed attempt.
		replayed, repErr := s.totpMgr.VerifyCodeAt(*account.TotpSecretEncrypted, code, true, *account.TotpLastUsedAt)
		if repErr != nil {
			s.logger.Error("TOTP verification error", slog.String("account_id", account.ID), slog.Any("error", repErr))
			return nil, models.ErrInternalServer
		}
		valid = !replayed
	}
	if !valid {
		locked, status, recErr := s.totp.RecordFailedAttempt(ctx, account)
		if recErr != nil {
			return nil, recErr
		}
		if locked {
			s.audit.Record(models.AuditActionLoginTotp, models.AuditOutcomeLocked, account.ID, meta, nil)
			return nil, &models.LockedError{Scope: models.LockScopeTotp, Until: *status.LockedUntil}
		}
		s.audit.Record(models.AuditActionLoginTotp, models.AuditOutcomeFailure, account.ID, meta, nil)
		return nil, &models.AttemptsError{Err: models.ErrInvalidTotpCode, Remaining: status.RemainingAttempts}
	}

	if err := s.totp.ResetFailedAttempts(ctx, account.ID); err != nil {
		s.logger.Warn("failed to reset TOTP failures", slog.String("account_id", account.ID), slog.Any("error", err))
	}

	pair, err := s.sessions.Open(ctx, account.ID, meta)
	if err != nil {
		return nil, err
	}

	s.audit.Record(models.AuditActionLoginTotp, models.AuditOutcomeSuccess, account.ID, meta, nil)
	return &AuthResponse{Tokens: pair}, nil
}

// LoginWithBackupCode is the recovery path: it deliberately works even
// while the TOTP lockout is armed, since a lost or broken authenticator
// tends to produce exactly the failures that arm it. Each code is
// single-use.
func (s *AuthService) LoginWithBackupCode(ctx context.Context, tempToken, code string, meta RequestMeta) (*AuthResponse, error) {
	account, err := s.challengeAccount(ctx, tempToken)
	if err != nil {
		return nil, err
	}

	if !account.TotpActive() {
		return nil, models.ErrSetupNotInitiated
	}

	ok, err := s.totp.VerifyAndConsumeBackupCode(ctx, account.ID, code)
	if err != nil {
		return nil, err
	}
	if !ok {
		// A wrong backup code does not feed the TOTP counter; the codes
		// are high-entropy and the recovery path must stay reachable.
		s.audit.Record(models.AuditActionLoginBackupCode, models.AuditOutcomeFailure, account.ID, meta, nil)
		return nil, models.ErrInvalidBackupCode
	}

	if err := s.totp.ResetFailedAttempts(ctx, account.ID); err != nil {
		s.logger.Warn("failed to reset TOTP failures", slog.String("account_id", account.ID), slog.Any("error", err))
	}

	pair, err := s.sessions.Open(ctx, account.ID, meta)
	if err != nil {
		return nil, err
	}

	remaining, err := s.backupCodes.CountUnused(ctx, account.ID)
	if err != nil {
		s.logger.Warn("failed to count backup codes", slog.String("account_id", account.ID), slog.Any("error", err))
		remaining = -1
	}

	s.audit.Record(models.AuditActionLoginBackupCode, models.AuditOutcomeSuccess, account.ID, meta, map[string]any{"remaining": remaining})

	resp := &AuthResponse{Tokens: pair}
	if remaining >= 0 {
		resp.BackupCodesRemaining = &remaining
	}
	return resp, nil
}

// Refresh exchanges a live refresh token for a new pair, rotating the
// stored session. A deactivated account's refresh tokens stop working
// here even before their expiry.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string, meta RequestMeta) (*TokenPair, error) {
	session, err := s.sessions.Lookup(ctx, refreshToken)
	if err != nil {
		return nil, err
	}

	account, err := s.accounts.GetByID(ctx, session.AccountID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrTokenInvalid
		}
		s.logger.Error("failed to load account for refresh", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	if !account.IsActive {
		s.audit.Record(models.AuditActionRefresh, models.AuditOutcomeFailure, account.ID, meta, map[string]any{"reason": "inactive"})
		return nil, models.ErrAccountInactive
	}

	pair, err := s.sessions.Rotate(ctx, refreshToken, session, meta)
	if err != nil {
		return nil, err
	}

	s.audit.Record(models.AuditActionRefresh, models.AuditOutcomeSuccess, account.ID, meta, nil)
	return pair, nil
}

// Logout revokes the presented refresh token's session. Idempotent: an
// already-revoked or unknown token still logs out cleanly.
func (s *AuthService) Logout(ctx context.Context, refreshToken string, meta RequestMeta) error {
	if err := s.sessions.Close(ctx, refreshToken); err != nil {
		return err
	}
	s.audit.Record(models.AuditActionLogout, models.AuditOutcomeSuccess, "", meta, nil)
	return nil
}

// LogoutAll revokes every session the account holds.
func (s *AuthService) LogoutAll(ctx context.Context, accountID string, meta RequestMeta) error {
	if err := s.sessions.CloseAll(ctx, accountID); err != nil {
		return err
	}
	s.audit.Record(models.AuditActionLogout, models.AuditOutcomeSuccess, accountID, meta, map[string]any{"all": true})
	return nil
}

// challengeAccount resolves a totp_login temp token to a live account.
func (s *AuthService) challengeAccount(ctx context.Context, tempToken string) (*models.Account, error) {
	claims, err := s.tokens.VerifyTempToken(tempToken, models.TokenPurposeTotpLogin)
	if err != nil {
		return nil, err
	}

	account, err := s.accounts.GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrTokenInvalid
		}
		s.logger.Error("failed to load account for challenge", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	if !account.IsActive {
		return nil, models.ErrAccountInactive
	}
	return account, nil
}
