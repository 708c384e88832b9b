package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"time"

	"github.com/chartlock/chartlock/internal/auth"
	"github.com/chartlock/chartlock/internal/models"
)

// SessionRepository is the persisted refresh-token store.
type SessionRepository interface {
	Create(ctx context.Context, session *models.Session) (*models.Session, error)
	GetByTokenHash(ctx context.Context, tokenHash string) (*models.Session, error)
	Rotate(ctx context.Context, oldTokenHash string, next *models.Session) (*models.Session, error)
	DeleteByTokenHash(ctx context.Context, tokenHash string) error
	DeleteByAccount(ctx context.Context, accountID string) (int64, error)
}

// TokenPair is what a successful login or refresh hands the client.
type TokenPair struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	TokenType        string `json:"token_type"`
	ExpiresIn        int64  `json:"expires_in"`
	refreshExpiresAt time.Time
}

// RefreshExpiresAt is used by the handler layer to set the cookie expiry.
func (p *TokenPair) RefreshExpiresAt() time.Time {
	return p.refreshExpiresAt
}

// SessionService manages refresh-token session lifecycle. Refresh tokens
// are live only while their row exists; the row lookup, not the JWT
// signature, is what logout revokes.
type SessionService struct {
	repo         SessionRepository
	tm           *auth.TokenManager
	accessExpiry time.Duration
	logger       *slog.Logger
}

func NewSessionService(repo SessionRepository, tm *auth.TokenManager, accessExpiry time.Duration, logger *slog.Logger) *SessionService {
	return &SessionService{
		repo:         repo,
		tm:           tm,
		accessExpiry: accessExpiry,
		logger:       logger,
	}
}

// HashRefreshToken derives the storage key for a refresh token. Only the
// hash is persisted, so a leaked sessions table cannot be replayed.
func HashRefreshToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// DeviceFingerprint derives a stable device identifier from transport
// attributes. Coarse by design; it exists for session listing and audit,
// not authentication.
func DeviceFingerprint(ipAddress, userAgent string) string {
	sum := sha256.Sum256([]byte(ipAddress + "|" + userAgent))
	return hex.EncodeToString(sum[:16])
}

// Open mints a token pair and persists the session row for a fully
// authenticated account.
func (s *SessionService) Open(ctx context.Context, accountID string, meta RequestMeta) (*TokenPair, error) {
	accessToken, err := s.tm.GenerateAccessToken(accountID)
	if err != nil {
		s.logger.Error("failed to generate access token", slog.String("account_id", accountID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	refreshToken, refreshExpiresAt, err := s.tm.GenerateRefreshToken(accountID)
	if err != nil {
		s.logger.Error("failed to generate refresh token", slog.String("account_id", accountID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	session := &models.Session{
		AccountID:        accountID,
		RefreshTokenHash: HashRefreshToken(refreshToken),
		DeviceID:         DeviceFingerprint(meta.IPAddress, meta.UserAgent),
		IPAddress:        meta.IPAddress,
		UserAgent:        meta.UserAgent,
		ExpiresAt:        refreshExpiresAt,
	}

	if _, err := s.repo.Create(ctx, session); err != nil {
		s.logger.Error("failed to persist session", slog.String("account_id", accountID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	return &TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		TokenType:        "Bearer",
		ExpiresIn:        int64(s.accessExpiry.Seconds()),
		refreshExpiresAt: refreshExpiresAt,
	}, nil
}

// Lookup verifies a refresh token's signature and then its store liveness.
// Expiry is also enforced at read time: a stale row is deleted on sight.
func (s *SessionService) Lookup(ctx context.Context, refreshToken string) (*models.Session, error) {
	claims, err := s.tm.VerifyRefreshToken(refreshToken)
	if err != nil {
		return nil, err
	}

	session, err := s.repo.GetByTokenHash(ctx, HashRefreshToken(refreshToken))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			// Cryptographically valid but revoked or already rotated.
			return nil, models.ErrTokenInvalid
		}
		s.logger.Error("failed to load session", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if session.Expired(time.Now()) {
		_ = s.repo.DeleteByTokenHash(ctx, session.RefreshTokenHash)
		return nil, models.ErrTokenExpired
	}

	if session.AccountID != claims.Subject {
		s.logger.Warn("session subject mismatch", slog.String("session_id", session.ID))
		return nil, models.ErrTokenInvalid
	}

	return session, nil
}

// Rotate exchanges a live session for a fresh token pair. The old row is
// replaced in one transaction; reuse of the old token afterwards fails the
// store check.
func (s *SessionService) Rotate(ctx context.Context, refreshToken string, session *models.Session, meta RequestMeta) (*TokenPair, error) {
	accessToken, err := s.tm.GenerateAccessToken(session.AccountID)
	if err != nil {
		s.logger.Error("failed to generate access token", slog.String("account_id", session.AccountID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	newRefreshToken, refreshExpiresAt, err := s.tm.GenerateRefreshToken(session.AccountID)
	if err != nil {
		s.logger.Error("failed to generate refresh token", slog.String("account_id", session.AccountID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	next := &models.Session{
		AccountID:        session.AccountID,
		RefreshTokenHash: HashRefreshToken(newRefreshToken),
		DeviceID:         DeviceFingerprint(meta.IPAddress, meta.UserAgent),
		IPAddress:        meta.IPAddress,
		UserAgent:        meta.UserAgent,
		ExpiresAt:        refreshExpiresAt,
	}

	if _, err := s.repo.Rotate(ctx, HashRefreshToken(refreshToken), next); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			// Lost a race with a concurrent refresh of the same token.
			return nil, models.ErrTokenInvalid
		}
		s.logger.Error("failed to rotate session", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	return &TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     newRefreshToken,
		TokenType:        "Bearer",
		ExpiresIn:        int64(s.accessExpiry.Seconds()),
		refreshExpiresAt: refreshExpiresAt,
	}, nil
}

// Close invalidates one session. The signature must verify (otherwise
// anyone could probe the store), but an unknown row is not an error:
// logout is idempotent.
func (s *SessionService) Close(ctx context.Context, refreshToken string) error {
	if _, err := s.tm.VerifyRefreshToken(refreshToken); err != nil {
		return err
	}

	err := s.repo.DeleteByTokenHash(ctx, HashRefreshToken(refreshToken))
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		s.logger.Error("failed to delete session", slog.Any("error", err))
		return models.ErrInternalServer
	}
	return nil
}

// CloseAll invalidates every session for an account.
func (s *SessionService) CloseAll(ctx context.Context, accountID string) error {
	if _, err := s.repo.DeleteByAccount(ctx, accountID); err != nil {
		s.logger.Error("failed to delete account sessions", slog.String("account_id", accountID), slog.Any("error", err))
		return models.ErrInternalServer
	}
	return nil
}
