package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/chartlock/chartlock/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenConfig carries the per-class signing secrets and lifetimes.
// The three classes are signed with separate secrets so compromise of one
// key does not compromise the others.
type TokenConfig struct {
	AccessSecret  string
	RefreshSecret string
	TempSecret    string
	AccessExpiry  time.Duration
	RefreshExpiry time.Duration
	TempExpiry    time.Duration
}

// TokenManager issues and verifies the three token classes: access
// (short-lived, per-request), refresh (long-lived, session-backed), and
// temp (very short-lived, purpose-scoped).
type TokenManager struct {
	config TokenConfig
}

// NewTokenManager creates a new TokenManager.
func NewTokenManager(config TokenConfig) *TokenManager {
	return &TokenManager{config: config}
}

// GenerateAccessToken mints a short-lived access token for an account.
func (tm *TokenManager) GenerateAccessToken(accountID string) (string, error) {
	return tm.sign(models.TokenTypeAccess, "", accountID, tm.config.AccessSecret, tm.config.AccessExpiry)
}

// GenerateRefreshToken mints a long-lived refresh token and returns its
// expiry so the session store can persist a matching row.
func (tm *TokenManager) GenerateRefreshToken(accountID string) (string, time.Time, error) {
	expiresAt := time.Now().Add(tm.config.RefreshExpiry)
	token, err := tm.sign(models.TokenTypeRefresh, "", accountID, tm.config.RefreshSecret, tm.config.RefreshExpiry)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

// GenerateTempToken mints a purpose-scoped token bridging password
// verification and 2FA completion (or registration confirmation).
func (tm *TokenManager) GenerateTempToken(subjectID, purpose string) (string, error) {
	return tm.sign(models.TokenTypeTemp, purpose, subjectID, tm.config.TempSecret, tm.config.TempExpiry)
}

// VerifyAccessToken checks signature, expiry, and class of an access token.
func (tm *TokenManager) VerifyAccessToken(tokenString string) (*models.TokenClaims, error) {
	return tm.verify(tokenString, tm.config.AccessSecret, models.TokenTypeAccess)
}

// VerifyRefreshToken checks signature, expiry, and class of a refresh
// token. Store liveness is the session layer's job, not this one's.
func (tm *TokenManager) VerifyRefreshToken(tokenString string) (*models.TokenClaims, error) {
	return tm.verify(tokenString, tm.config.RefreshSecret, models.TokenTypeRefresh)
}

// VerifyTempToken checks a temp token and requires its purpose to match.
// A temp token minted for another purpose is rejected with
// ErrTokenPurposeMismatch even though its signature is valid.
func (tm *TokenManager) VerifyTempToken(tokenString, purpose string) (*models.TokenClaims, error) {
	claims, err := tm.verify(tokenString, tm.config.TempSecret, models.TokenTypeTemp)
	if err != nil {
		return nil, err
	}
	if claims.Purpose != purpose {
		return nil, models.ErrTokenPurposeMismatch
	}
	return claims, nil
}

func (tm *TokenManager) sign(tokenType, purpose, subject, secret string, expiry time.Duration) (string, error) {
	now := time.Now()
	claims := &models.TokenClaims{
		Type:    tokenType,
		Purpose: purpose,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ID:        uuid.New().String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	tokenString, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign %s token: %w", tokenType, err)
	}

	return tokenString, nil
}

// verify maps jwt parse failures onto the distinct model errors: expired
// signature, invalid signature/malformed input, and class mismatch each
// surface separately so callers can react precisely.
func (tm *TokenManager) verify(tokenString, secret, wantType string) (*models.TokenClaims, error) {
	claims := &models.TokenClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, models.ErrTokenExpired
		}
		return nil, models.ErrTokenInvalid
	}

	if !token.Valid {
		return nil, models.ErrTokenInvalid
	}

	if claims.Type != wantType {
		return nil, models.ErrTokenTypeMismatch
	}

	return claims, nil
}
