package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/chartlock/chartlock/internal/models"
	pkglogger "github.com/chartlock/chartlock/pkg/logger"
)

// AccountResponse is the account as shown to its owner. Credential and
// lockout state never appear here; 2FA state is reported separately via
// the TOTP status endpoint.
type AccountResponse struct {
	ID           string    `json:"id"`
	HospitalName string    `json:"hospital_name"`
	Email        string    `json:"email"`
	Phone        string    `json:"phone"`
	Address      string    `json:"address"`
	TotpEnabled  bool      `json:"totp_enabled"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// UpdateProfileInput carries the mutable identity fields. Email and phone
// are login identifiers and stay fixed.
type UpdateProfileInput struct {
	HospitalName string
	Address      string
}

// AccountService serves the authenticated account's own profile.
type AccountService struct {
	accounts    AccountRepository
	auditLogger *pkglogger.AuditLogger
	logger      *slog.Logger
}

func NewAccountService(accounts AccountRepository, auditLogger *pkglogger.AuditLogger, logger *slog.Logger) *AccountService {
	return &AccountService{accounts: accounts, auditLogger: auditLogger, logger: logger}
}

func (s *AccountService) GetProfile(ctx context.Context, accountID string) (*AccountResponse, error) {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		s.logger.Error("failed to load account", slog.String("account_id", accountID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	return toAccountResponse(account), nil
}

func (s *AccountService) UpdateProfile(ctx context.Context, accountID string, input UpdateProfileInput) (*AccountResponse, error) {
	account, err := s.accounts.UpdateProfile(ctx, accountID, input.HospitalName, input.Address)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		s.logger.Error("failed to update profile", slog.String("account_id", accountID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.auditLogger.LogAccountAction("profile_update", accountID, "", map[string]string{
		"fields": "hospital_name,address",
	})
	return toAccountResponse(account), nil
}

func toAccountResponse(a *models.Account) *AccountResponse {
	return &AccountResponse{
		ID:           a.ID,
		HospitalName: a.HospitalName,
		Email:        a.Email,
		Phone:        a.Phone,
		Address:      a.Address,
		TotpEnabled:  a.TotpActive(),
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
	}
}
