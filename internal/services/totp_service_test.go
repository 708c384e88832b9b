package services

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chartlock/chartlock/internal/auth"
	"github.com/chartlock/chartlock/internal/models"
	pkgauth "github.com/chartlock/chartlock/pkg/auth"
	pkglogger "github.com/chartlock/chartlock/pkg/logger"
)

const testCipherKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func newTestTotpManager(t *testing.T) *auth.TOTPManager {
	t.Helper()
	cipher, err := auth.NewSecretCipher(testCipherKey)
	require.NoError(t, err)
	return auth.NewTOTPManager(cipher, "Chartlock")
}

func newTestAuditService() *AuditService {
	logger := slog.Default()
	return NewAuditService(&MockAuditEventRepository{}, pkglogger.NewAuditLogger(logger), logger)
}

func defaultTotpPolicy() TotpPolicy {
	return TotpPolicy{
		MaxFailedAttempts: 5,
		LockoutDuration:   5 * time.Minute,
		BackupCodeCount:   10,
	}
}

func newTestTotpService(t *testing.T, accounts AccountRepository, codes BackupCodeRepository) *TotpService {
	t.Helper()
	if codes == nil {
		codes = &MockBackupCodeRepository{}
	}
	return NewTotpService(accounts, codes, newTestTotpManager(t), newTestAuditService(), slog.Default(), defaultTotpPolicy())
}

func testAccount(id string) *models.Account {
	return &models.Account{
		ID:           id,
		HospitalName: "St. Example General",
		Email:        "admin@example-hospital.org",
		Phone:        "+15550100",
		PasswordHash: "",
		TotpIssuer:   "Chartlock",
		IsActive:     true,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
}

// enrollAccount puts a freshly generated, confirmed secret on the account
// and returns the plaintext base32 secret for minting codes.
func enrollAccount(t *testing.T, tm *auth.TOTPManager, account *models.Account) string {
	t.Helper()
	material, err := tm.GenerateSecret(account.Email)
	require.NoError(t, err)

	now := time.Now()
	account.TotpEnabled = true
	account.TotpVerified = true
	account.TotpSecretEncrypted = &material.EncryptedSecret
	account.TotpSetupAt = &now
	account.TotpSecretVersion = 1
	return material.Secret
}

func currentCode(t *testing.T, secret string) string {
	t.Helper()
	code, err := totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)
	return code
}

// ============================================================================
// Setup Tests
// ============================================================================

func TestTotpService_Setup_Success(t *testing.T) {
	account := testAccount("acct-1")
	var storedSecret string
	mockAccounts := &MockAccountRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.Account, error) {
			return account, nil
		},
		StoreSetupSecretFunc: func(ctx context.Context, id, encryptedSecret, issuer string) error {
			storedSecret = encryptedSecret
			return nil
		},
	}

	svc := newTestTotpService(t, mockAccounts, nil)

	material, err := svc.Setup(context.Background(), "acct-1", RequestMeta{})

	require.NoError(t, err)
	assert.NotEmpty(t, material.Secret)
	assert.Equal(t, storedSecret, material.EncryptedSecret)
	assert.True(t, strings.HasPrefix(material.QRCode, "data:image/png;base64,"))
	assert.Contains(t, material.OtpauthURL, "Chartlock")
}

func TestTotpService_Setup_AlreadyComplete(t *testing.T) {
	account := testAccount("acct-1")
	account.TotpEnabled = true
	account.TotpVerified = true

	mockAccounts := &MockAccountRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.Account, error) {
			return account, nil
		},
	}

	svc := newTestTotpService(t, mockAccounts, nil)

	material, err := svc.Setup(context.Background(), "acct-1", RequestMeta{})

	assert.ErrorIs(t, err, models.ErrSetupAlreadyComplete)
	assert.Nil(t, material)
}

// ============================================================================
// ConfirmSetup Tests
// ============================================================================

func TestTotpService_ConfirmSetup_Success(t *testing.T) {
	tm := newTestTotpManager(t)
	material, err := tm.GenerateSecret("admin@example-hospital.org")
	require.NoError(t, err)

	account := testAccount("acct-1")
	account.TotpSecretEncrypted = &material.EncryptedSecret

	var storedHashes []string
	mockAccounts := &MockAccountRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.Account, error) {
			return account, nil
		},
		MarkTotpVerifiedFunc: func(ctx context.Context, id string, codeHashes []string) error {
			storedHashes = codeHashes
			return nil
		},
	}

	svc := NewTotpService(mockAccounts, &MockBackupCodeRepository{}, tm, newTestAuditService(), slog.Default(), defaultTotpPolicy())

	codes, err := svc.ConfirmSetup(context.Background(), "acct-1", currentCode(t, material.Secret), RequestMeta{})

	require.NoError(t, err)
	assert.Len(t, codes, 10)
	assert.Len(t, storedHashes, 10)
	for i, code := range codes {
		assert.Regexp(t, `^[2-9A-HJKMNP-Z]{4}-[2-9A-HJKMNP-Z]{4}$`, code)
		assert.Equal(t, auth.HashBackupCode(code), storedHashes[i])
	}
}

func TestTotpService_ConfirmSetup_WrongCode(t *testing.T) {
	tm := newTestTotpManager(t)
	material, err := tm.GenerateSecret("admin@example-hospital.org")
	require.NoError(t, err)

	account := testAccount("acct-1")
	account.TotpSecretEncrypted = &material.EncryptedSecret

	mockAccounts := &MockAccountRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.Account, error) {
			return account, nil
		},
	}

	svc := NewTotpService(mockAccounts, &MockBackupCodeRepository{}, tm, newTestAuditService(), slog.Default(), defaultTotpPolicy())

	codes, err := svc.ConfirmSetup(context.Background(), "acct-1", "000000", RequestMeta{})

	assert.ErrorIs(t, err, models.ErrInvalidTotpCode)
	assert.Nil(t, codes)
}

func TestTotpService_ConfirmSetup_NotInitiated(t *testing.T) {
	account := testAccount("acct-1")
	mockAccounts := &MockAccountRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.Account, error) {
			return account, nil
		},
	}

	svc := newTestTotpService(t, mockAccounts, nil)

	codes, err := svc.ConfirmSetup(context.Background(), "acct-1", "123456", RequestMeta{})

	assert.ErrorIs(t, err, models.ErrSetupNotInitiated)
	assert.Nil(t, codes)
}

// ============================================================================
// Disable Tests
// ============================================================================

func TestTotpService_Disable_Success(t *testing.T) {
	tm := newTestTotpManager(t)
	account := testAccount("acct-1")
	secret := enrollAccount(t, tm, account)

	disabled := false
	mockAccounts := &MockAccountRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.Account, error) {
			return account, nil
		},
		DisableTotpFunc: func(ctx context.Context, id string) error {
			disabled = true
			return nil
		},
	}

	svc := NewTotpService(mockAccounts, &MockBackupCodeRepository{}, tm, newTestAuditService(), slog.Default(), defaultTotpPolicy())

	err := svc.Disable(context.Background(), "acct-1", currentCode(t, secret), RequestMeta{})

	require.NoError(t, err)
	assert.True(t, disabled)
}

func TestTotpService_Disable_WrongCode(t *testing.T) {
	tm := newTestTotpManager(t)
	account := testAccount("acct-1")
	enrollAccount(t, tm, account)

	mockAccounts := &MockAccountRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.Account, error) {
			return account, nil
		},
	}

	svc := NewTotpService(mockAccounts, &MockBackupCodeRepository{}, tm, newTestAuditService(), slog.Default(), defaultTotpPolicy())

	err := svc.Disable(context.Background(), "acct-1", "000000", RequestMeta{})

	assert.ErrorIs(t, err, models.ErrInvalidTotpCode)
}

// ============================================================================
// Rotation Tests
// ============================================================================

func TestTotpService_InitiateRotation_Success(t *testing.T) {
	tm := newTestTotpManager(t)
	account := testAccount("acct-1")
	enrollAccount(t, tm, account)

	hash, err := pkgauth.HashPassword("Sup3r-secure-pw!")
	require.NoError(t, err)
	account.PasswordHash = hash

	var pendingSecret string
	mockAccounts := &MockAccountRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.Account, error) {
			return account, nil
		},
		StorePendingSecretFunc: func(ctx context.Context, id, encryptedSecret string) error {
			pendingSecret = encryptedSecret
			return nil
		},
	}

	svc := NewTotpService(mockAccounts, &MockBackupCodeRepository{}, tm, newTestAuditService(), slog.Default(), defaultTotpPolicy())

	material, err := svc.InitiateRotation(context.Background(), "acct-1", "Sup3r-secure-pw!", RequestMeta{})

	require.NoError(t, err)
	assert.Equal(t, pendingSecret, material.EncryptedSecret)
	// The active secret is untouched until the new one is confirmed.
	assert.NotEqual(t, *account.TotpSecretEncrypted, material.EncryptedSecret)
}

func TestTotpService_InitiateRotation_WrongPassword(t *testing.T) {
	tm := newTestTotpManager(t)
	account := testAccount("acct-1")
	enrollAccount(t, tm, account)

	hash, err := pkgauth.HashPassword("Sup3r-secure-pw!")
	require.NoError(t, err)
	account.PasswordHash = hash

	mockAccounts := &MockAccountRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.Account, error) {
			return account, nil
		},
	}

	svc := NewTotpService(mockAccounts, &MockBackupCodeRepository{}, tm, newTestAuditService(), slog.Default(), defaultTotpPolicy())

	material, err := svc.InitiateRotation(context.Background(), "acct-1", "wrong-password", RequestMeta{})

	assert.ErrorIs(t, err, models.ErrInvalidCredentials)
	assert.Nil(t, material)
}

func TestTotpService_ConfirmRotation_Success(t *testing.T) {
	tm := newTestTotpManager(t)
	account := testAccount("acct-1")
	enrollAccount(t, tm, account)

	pending, err := tm.GenerateSecret(account.Email)
	require.NoError(t, err)
	account.TotpPendingSecret = &pending.EncryptedSecret

	var promotedHashes []string
	mockAccounts := &MockAccountRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.Account, error) {
			return account, nil
		},
		PromotePendingSecretFunc: func(ctx context.Context, id string, codeHashes []string) error {
			promotedHashes = codeHashes
			return nil
		},
	}

	svc := NewTotpService(mockAccounts, &MockBackupCodeRepository{}, tm, newTestAuditService(), slog.Default(), defaultTotpPolicy())

	codes, err := svc.ConfirmRotation(context.Background(), "acct-1", currentCode(t, pending.Secret), RequestMeta{})

	require.NoError(t, err)
	assert.Len(t, codes, 10)
	assert.Len(t, promotedHashes, 10)
}

func TestTotpService_ConfirmRotation_OldSecretCodeRejected(t *testing.T) {
	tm := newTestTotpManager(t)
	account := testAccount("acct-1")
	oldSecret := enrollAccount(t, tm, account)

	pending, err := tm.GenerateSecret(account.Email)
	require.NoError(t, err)
	account.TotpPendingSecret = &pending.EncryptedSecret

	mockAccounts := &MockAccountRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.Account, error) {
			return account, nil
		},
	}

	svc := NewTotpService(mockAccounts, &MockBackupCodeRepository{}, tm, newTestAuditService(), slog.Default(), defaultTotpPolicy())

	// A code from the still-active old secret must not confirm the rotation.
	codes, err := svc.ConfirmRotation(context.Background(), "acct-1", currentCode(t, oldSecret), RequestMeta{})

	assert.ErrorIs(t, err, models.ErrInvalidTotpCode)
	assert.Nil(t, codes)
}

func TestTotpService_ConfirmRotation_NothingPending(t *testing.T) {
	tm := newTestTotpManager(t)
	account := testAccount("acct-1")
	enrollAccount(t, tm, account)

	mockAccounts := &MockAccountRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.Account, error) {
			return account, nil
		},
	}

	svc := NewTotpService(mockAccounts, &MockBackupCodeRepository{}, tm, newTestAuditService(), slog.Default(), defaultTotpPolicy())

	codes, err := svc.ConfirmRotation(context.Background(), "acct-1", "123456", RequestMeta{})

	assert.ErrorIs(t, err, models.ErrRotationNotPending)
	assert.Nil(t, codes)
}

// ============================================================================
// Backup Code Tests
// ============================================================================

func TestTotpService_VerifyAndConsumeBackupCode_Success(t *testing.T) {
	stored := &models.BackupCode{ID: "bc-1", AccountID: "acct-1", CodeHash: auth.HashBackupCode("ABCD-2345")}

	consumed := false
	mockCodes := &MockBackupCodeRepository{
		ListUnusedFunc: func(ctx context.Context, accountID string) ([]*models.BackupCode, error) {
			return []*models.BackupCode{stored}, nil
		},
		MarkUsedFunc: func(ctx context.Context, id string) error {
			assert.Equal(t, "bc-1", id)
			consumed = true
			return nil
		},
	}

	svc := newTestTotpService(t, &MockAccountRepository{}, mockCodes)

	// Lowercase and undashed input still matches.
	ok, err := svc.VerifyAndConsumeBackupCode(context.Background(), "acct-1", "abcd2345")

	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, consumed)
}

func TestTotpService_VerifyAndConsumeBackupCode_NoMatch(t *testing.T) {
	mockCodes := &MockBackupCodeRepository{
		ListUnusedFunc: func(ctx context.Context, accountID string) ([]*models.BackupCode, error) {
			return []*models.BackupCode{
				{ID: "bc-1", AccountID: "acct-1", CodeHash: auth.HashBackupCode("ABCD-2345")},
			}, nil
		},
	}

	svc := newTestTotpService(t, &MockAccountRepository{}, mockCodes)

	ok, err := svc.VerifyAndConsumeBackupCode(context.Background(), "acct-1", "WXYZ-9876")

	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTotpService_VerifyAndConsumeBackupCode_AlreadySpent(t *testing.T) {
	mockCodes := &MockBackupCodeRepository{
		ListUnusedFunc: func(ctx context.Context, accountID string) ([]*models.BackupCode, error) {
			return []*models.BackupCode{
				{ID: "bc-1", AccountID: "acct-1", CodeHash: auth.HashBackupCode("ABCD-2345")},
			}, nil
		},
		MarkUsedFunc: func(ctx context.Context, id string) error {
			// Concurrent consumer won the conditional update.
			return models.ErrNotFound
		},
	}

	svc := newTestTotpService(t, &MockAccountRepository{}, mockCodes)

	ok, err := svc.VerifyAndConsumeBackupCode(context.Background(), "acct-1", "ABCD-2345")

	require.NoError(t, err)
	assert.False(t, ok)
}

// ============================================================================
// Lockout Tests
// ============================================================================

func TestTotpService_CheckLockout_Active(t *testing.T) {
	account := testAccount("acct-1")
	until := time.Now().Add(3 * time.Minute)
	account.TotpFailedAttempts = 5
	account.TotpLockedUntil = &until

	svc := newTestTotpService(t, &MockAccountRepository{}, nil)

	status := svc.CheckLockout(account)

	assert.True(t, status.IsLocked)
	assert.Equal(t, 0, status.RemainingAttempts)
	require.NotNil(t, status.LockedUntil)
	assert.WithinDuration(t, until, *status.LockedUntil, time.Second)
}

func TestTotpService_CheckLockout_ExpiredLockReadsAsReset(t *testing.T) {
	account := testAccount("acct-1")
	until := time.Now().Add(-time.Minute)
	account.TotpFailedAttempts = 5
	account.TotpLockedUntil = &until

	svc := newTestTotpService(t, &MockAccountRepository{}, nil)

	status := svc.CheckLockout(account)

	assert.False(t, status.IsLocked)
	assert.Equal(t, 5, status.RemainingAttempts)
}

func TestTotpService_RecordFailedAttempt_ArmsLock(t *testing.T) {
	account := testAccount("acct-1")
	lockedAt := time.Now().Add(5 * time.Minute)
	mockAccounts := &MockAccountRepository{
		RecordTotpFailureFunc: func(ctx context.Context, id string, maxAttempts int, lockUntil time.Time) (int, *time.Time, error) {
			assert.Equal(t, 5, maxAttempts)
			return 5, &lockedAt, nil
		},
	}

	svc := newTestTotpService(t, mockAccounts, nil)

	locked, status, err := svc.RecordFailedAttempt(context.Background(), account)

	require.NoError(t, err)
	assert.True(t, locked)
	assert.Equal(t, 0, status.RemainingAttempts)
}

func TestTotpService_RecordFailedAttempt_BelowThreshold(t *testing.T) {
	account := testAccount("acct-1")
	mockAccounts := &MockAccountRepository{
		RecordTotpFailureFunc: func(ctx context.Context, id string, maxAttempts int, lockUntil time.Time) (int, *time.Time, error) {
			return 2, nil, nil
		},
	}

	svc := newTestTotpService(t, mockAccounts, nil)

	locked, status, err := svc.RecordFailedAttempt(context.Background(), account)

	require.NoError(t, err)
	assert.False(t, locked)
	assert.Equal(t, 3, status.RemainingAttempts)
}

// ============================================================================
// Status Tests
// ============================================================================

func TestTotpService_Status(t *testing.T) {
	tm := newTestTotpManager(t)
	account := testAccount("acct-1")
	enrollAccount(t, tm, account)

	mockAccounts := &MockAccountRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.Account, error) {
			return account, nil
		},
	}
	mockCodes := &MockBackupCodeRepository{
		CountUnusedFunc: func(ctx context.Context, accountID string) (int, error) {
			return 7, nil
		},
	}

	svc := NewTotpService(mockAccounts, mockCodes, tm, newTestAuditService(), slog.Default(), defaultTotpPolicy())

	status, err := svc.Status(context.Background(), "acct-1")

	require.NoError(t, err)
	assert.True(t, status.Enabled)
	assert.True(t, status.Verified)
	assert.False(t, status.RotationPending)
	assert.Equal(t, 7, status.BackupCodesLeft)
	assert.NotNil(t, status.SetupAt)
}
