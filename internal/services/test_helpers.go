package services

import (
	"context"
	"time"

	"github.com/chartlock/chartlock/internal/models"
)

// MockAccountRepository implements AccountRepository for testing
type MockAccountRepository struct {
	GetByIDFunc              func(ctx context.Context, id string) (*models.Account, error)
	GetByEmailFunc           func(ctx context.Context, email string) (*models.Account, error)
	ExistsByEmailOrPhoneFunc func(ctx context.Context, email, phone string) (bool, error)
	CreateFunc               func(ctx context.Context, account *models.Account) (*models.Account, error)
	UpdateProfileFunc        func(ctx context.Context, id, hospitalName, address string) (*models.Account, error)
	RecordLoginFailureFunc   func(ctx context.Context, id string, maxAttempts int, lockUntil time.Time) (int, *time.Time, error)
	ResetLoginFailuresFunc   func(ctx context.Context, id string) error
	RecordTotpFailureFunc    func(ctx context.Context, id string, maxAttempts int, lockUntil time.Time) (int, *time.Time, error)
	ResetTotpFailuresFunc    func(ctx context.Context, id string) error
	StoreSetupSecretFunc     func(ctx context.Context, id, encryptedSecret, issuer string) error
	MarkTotpVerifiedFunc     func(ctx context.Context, id string, codeHashes []string) error
	StorePendingSecretFunc   func(ctx context.Context, id, encryptedSecret string) error
	PromotePendingSecretFunc func(ctx context.Context, id string, codeHashes []string) error
	ClearPendingSecretFunc   func(ctx context.Context, id string) error
	DisableTotpFunc          func(ctx context.Context, id string) error
}

func (m *MockAccountRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockAccountRepository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	if m.GetByEmailFunc != nil {
		return m.GetByEmailFunc(ctx, email)
	}
	return nil, models.ErrNotFound
}

func (m *MockAccountRepository) ExistsByEmailOrPhone(ctx context.Context, email, phone string) (bool, error) {
	if m.ExistsByEmailOrPhoneFunc != nil {
		return m.ExistsByEmailOrPhoneFunc(ctx, email, phone)
	}
	return false, nil
}

func (m *MockAccountRepository) Create(ctx context.Context, account *models.Account) (*models.Account, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, account)
	}
	return nil, models.ErrInternalServer
}

func (m *MockAccountRepository) UpdateProfile(ctx context.Context, id, hospitalName, address string) (*models.Account, error) {
	if m.UpdateProfileFunc != nil {
		return m.UpdateProfileFunc(ctx, id, hospitalName, address)
	}
	return nil, models.ErrInternalServer
}

func (m *MockAccountRepository) RecordLoginFailure(ctx context.Context, id string, maxAttempts int, lockUntil time.Time) (int, *time.Time, error) {
	if m.RecordLoginFailureFunc != nil {
		return m.RecordLoginFailureFunc(ctx, id, maxAttempts, lockUntil)
	}
	return 1, nil, nil
}

func (m *MockAccountRepository) ResetLoginFailures(ctx context.Context, id string) error {
	if m.ResetLoginFailuresFunc != nil {
		return m.ResetLoginFailuresFunc(ctx, id)
	}
	return nil
}

func (m *MockAccountRepository) RecordTotpFailure(ctx context.Context, id string, maxAttempts int, lockUntil time.Time) (int, *time.Time, error) {
	if m.RecordTotpFailureFunc != nil {
		return m.RecordTotpFailureFunc(ctx, id, maxAttempts, lockUntil)
	}
	return 1, nil, nil
}

func (m *MockAccountRepository) ResetTotpFailures(ctx context.Context, id string) error {
	if m.ResetTotpFailuresFunc != nil {
		return m.ResetTotpFailuresFunc(ctx, id)
	}
	return nil
}

func (m *MockAccountRepository) StoreSetupSecret(ctx context.Context, id, encryptedSecret, issuer string) error {
	if m.StoreSetupSecretFunc != nil {
		return m.StoreSetupSecretFunc(ctx, id, encryptedSecret, issuer)
	}
	return nil
}

func (m *MockAccountRepository) MarkTotpVerified(ctx context.Context, id string, codeHashes []string) error {
	if m.MarkTotpVerifiedFunc != nil {
		return m.MarkTotpVerifiedFunc(ctx, id, codeHashes)
	}
	return nil
}

func (m *MockAccountRepository) StorePendingSecret(ctx context.Context, id, encryptedSecret string) error {
	if m.StorePendingSecretFunc != nil {
		return m.StorePendingSecretFunc(ctx, id, encryptedSecret)
	}
	return nil
}

func (m *MockAccountRepository) PromotePendingSecret(ctx context.Context, id string, codeHashes []string) error {
	if m.PromotePendingSecretFunc != nil {
		return m.PromotePendingSecretFunc(ctx, id, codeHashes)
	}
	return nil
}

func (m *MockAccountRepository) ClearPendingSecret(ctx context.Context, id string) error {
	if m.ClearPendingSecretFunc != nil {
		return m.ClearPendingSecretFunc(ctx, id)
	}
	return nil
}

func (m *MockAccountRepository) DisableTotp(ctx context.Context, id string) error {
	if m.DisableTotpFunc != nil {
		return m.DisableTotpFunc(ctx, id)
	}
	return nil
}

// MockRegistrationRepository implements RegistrationRepository for testing
type MockRegistrationRepository struct {
	CreateFunc        func(ctx context.Context, reg *models.PendingRegistration) (*models.PendingRegistration, error)
	GetByIDFunc       func(ctx context.Context, id string) (*models.PendingRegistration, error)
	DeleteFunc        func(ctx context.Context, id string) error
	DeleteExpiredFunc func(ctx context.Context) (int64, error)
}

func (m *MockRegistrationRepository) Create(ctx context.Context, reg *models.PendingRegistration) (*models.PendingRegistration, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, reg)
	}
	reg.ID = "reg-1"
	return reg, nil
}

func (m *MockRegistrationRepository) GetByID(ctx context.Context, id string) (*models.PendingRegistration, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockRegistrationRepository) Delete(ctx context.Context, id string) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, id)
	}
	return nil
}

func (m *MockRegistrationRepository) DeleteExpired(ctx context.Context) (int64, error) {
	if m.DeleteExpiredFunc != nil {
		return m.DeleteExpiredFunc(ctx)
	}
	return 0, nil
}

// MockBackupCodeRepository implements BackupCodeRepository for testing
type MockBackupCodeRepository struct {
	ReplaceAllFunc  func(ctx context.Context, accountID string, codeHashes []string) error
	ListUnusedFunc  func(ctx context.Context, accountID string) ([]*models.BackupCode, error)
	MarkUsedFunc    func(ctx context.Context, id string) error
	CountUnusedFunc func(ctx context.Context, accountID string) (int, error)
}

func (m *MockBackupCodeRepository) ReplaceAll(ctx context.Context, accountID string, codeHashes []string) error {
	if m.ReplaceAllFunc != nil {
		return m.ReplaceAllFunc(ctx, accountID, codeHashes)
	}
	return nil
}

func (m *MockBackupCodeRepository) ListUnused(ctx context.Context, accountID string) ([]*models.BackupCode, error) {
	if m.ListUnusedFunc != nil {
		return m.ListUnusedFunc(ctx, accountID)
	}
	return []*models.BackupCode{}, nil
}

func (m *MockBackupCodeRepository) MarkUsed(ctx context.Context, id string) error {
	if m.MarkUsedFunc != nil {
		return m.MarkUsedFunc(ctx, id)
	}
	return nil
}

func (m *MockBackupCodeRepository) CountUnused(ctx context.Context, accountID string) (int, error) {
	if m.CountUnusedFunc != nil {
		return m.CountUnusedFunc(ctx, accountID)
	}
	return 0, nil
}

// MockSessionRepository implements SessionRepository for testing
type MockSessionRepository struct {
	CreateFunc            func(ctx context.Context, session *models.Session) (*models.Session, error)
	GetByTokenHashFunc    func(ctx context.Context, tokenHash string) (*models.Session, error)
	RotateFunc            func(ctx context.Context, oldTokenHash string, next *models.Session) (*models.Session, error)
	DeleteByTokenHashFunc func(ctx context.Context, tokenHash string) error
	DeleteByAccountFunc   func(ctx context.Context, accountID string) (int64, error)
	DeleteExpiredFunc     func(ctx context.Context) (int64, error)
}

func (m *MockSessionRepository) Create(ctx context.Context, session *models.Session) (*models.Session, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, session)
	}
	session.ID = "session-1"
	return session, nil
}

func (m *MockSessionRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*models.Session, error) {
	if m.GetByTokenHashFunc != nil {
		return m.GetByTokenHashFunc(ctx, tokenHash)
	}
	return nil, models.ErrNotFound
}

func (m *MockSessionRepository) Rotate(ctx context.Context, oldTokenHash string, next *models.Session) (*models.Session, error) {
	if m.RotateFunc != nil {
		return m.RotateFunc(ctx, oldTokenHash, next)
	}
	next.ID = "session-2"
	return next, nil
}

func (m *MockSessionRepository) DeleteByTokenHash(ctx context.Context, tokenHash string) error {
	if m.DeleteByTokenHashFunc != nil {
		return m.DeleteByTokenHashFunc(ctx, tokenHash)
	}
	return nil
}

func (m *MockSessionRepository) DeleteByAccount(ctx context.Context, accountID string) (int64, error) {
	if m.DeleteByAccountFunc != nil {
		return m.DeleteByAccountFunc(ctx, accountID)
	}
	return 0, nil
}

func (m *MockSessionRepository) DeleteExpired(ctx context.Context) (int64, error) {
	if m.DeleteExpiredFunc != nil {
		return m.DeleteExpiredFunc(ctx)
	}
	return 0, nil
}

// MockAuditEventRepository implements AuditEventRepository for testing
type MockAuditEventRepository struct {
	CreateFunc func(ctx context.Context, event *models.AuditEvent) error
}

func (m *MockAuditEventRepository) Create(ctx context.Context, event *models.AuditEvent) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, event)
	}
	return nil
}
