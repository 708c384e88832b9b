package auth

import (
	"testing"
	"time"

	"github.com/chartlock/chartlock/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTokenManager() *TokenManager {
	return NewTokenManager(TokenConfig{
		AccessSecret:  "test-access-secret-32-chars-long!",
		RefreshSecret: "test-refresh-secret-32-chars-lng!",
		TempSecret:    "test-temp-secret-32-chars-long!!!",
		AccessExpiry:  15 * time.Minute,
		RefreshExpiry: 7 * 24 * time.Hour,
		TempExpiry:    10 * time.Minute,
	})
}

// ============================================================================
// Access Token Tests
// ============================================================================

func TestTokenManager_AccessToken_RoundTrip(t *testing.T) {
	tm := newTestTokenManager()

	token, err := tm.GenerateAccessToken("account-123")
	require.NoError(t, err)

	claims, err := tm.VerifyAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, "account-123", claims.Subject)
	assert.Equal(t, models.TokenTypeAccess, claims.Type)
	assert.Empty(t, claims.Purpose)
	assert.NotEmpty(t, claims.ID)
}

func TestTokenManager_AccessToken_UniqueJTI(t *testing.T) {
	tm := newTestTokenManager()

	first, err := tm.GenerateAccessToken("account-123")
	require.NoError(t, err)
	second, err := tm.GenerateAccessToken("account-123")
	require.NoError(t, err)

	firstClaims, err := tm.VerifyAccessToken(first)
	require.NoError(t, err)
	secondClaims, err := tm.VerifyAccessToken(second)
	require.NoError(t, err)

	assert.NotEqual(t, firstClaims.ID, secondClaims.ID)
}

func TestTokenManager_VerifyAccessToken_Garbage(t *testing.T) {
	tm := newTestTokenManager()

	_, err := tm.VerifyAccessToken("not.a.jwt")
	assert.ErrorIs(t, err, models.ErrTokenInvalid)

	_, err = tm.VerifyAccessToken("")
	assert.ErrorIs(t, err, models.ErrTokenInvalid)
}

func TestTokenManager_VerifyAccessToken_WrongSecret(t *testing.T) {
	tm := newTestTokenManager()
	other := NewTokenManager(TokenConfig{
		AccessSecret:  "a-completely-different-secret-32!",
		RefreshSecret: "test-refresh-secret-32-chars-lng!",
		TempSecret:    "test-temp-secret-32-chars-long!!!",
		AccessExpiry:  15 * time.Minute,
		RefreshExpiry: 7 * 24 * time.Hour,
		TempExpiry:    10 * time.Minute,
	})

	token, err := tm.GenerateAccessToken("account-123")
	require.NoError(t, err)

	_, err = other.VerifyAccessToken(token)
	assert.ErrorIs(t, err, models.ErrTokenInvalid)
}

func TestTokenManager_VerifyAccessToken_Expired(t *testing.T) {
	tm := NewTokenManager(TokenConfig{
		AccessSecret:  "test-access-secret-32-chars-long!",
		RefreshSecret: "test-refresh-secret-32-chars-lng!",
		TempSecret:    "test-temp-secret-32-chars-long!!!",
		AccessExpiry:  -1 * time.Minute,
		RefreshExpiry: 7 * 24 * time.Hour,
		TempExpiry:    10 * time.Minute,
	})

	token, err := tm.GenerateAccessToken("account-123")
	require.NoError(t, err)

	_, err = tm.VerifyAccessToken(token)
	assert.ErrorIs(t, err, models.ErrTokenExpired)
}

// ============================================================================
// Token Class Separation Tests
// ============================================================================

func TestTokenManager_RefreshTokenRejectedAsAccess(t *testing.T) {
	tm := newTestTokenManager()

	refresh, _, err := tm.GenerateRefreshToken("account-123")
	require.NoError(t, err)

	// Signed with a different secret, so it fails signature check before
	// the class check is ever reached.
	_, err = tm.VerifyAccessToken(refresh)
	assert.ErrorIs(t, err, models.ErrTokenInvalid)
}

func TestTokenManager_ClassMismatchWithSharedSecret(t *testing.T) {
	shared := "one-shared-secret-for-all-32-char"
	tm := NewTokenManager(TokenConfig{
		AccessSecret:  shared,
		RefreshSecret: shared,
		TempSecret:    shared,
		AccessExpiry:  15 * time.Minute,
		RefreshExpiry: 7 * 24 * time.Hour,
		TempExpiry:    10 * time.Minute,
	})

	refresh, _, err := tm.GenerateRefreshToken("account-123")
	require.NoError(t, err)

	_, err = tm.VerifyAccessToken(refresh)
	assert.ErrorIs(t, err, models.ErrTokenTypeMismatch)
}

// ============================================================================
// Refresh Token Tests
// ============================================================================

func TestTokenManager_RefreshToken_RoundTrip(t *testing.T) {
	tm := newTestTokenManager()

	token, expiresAt, err := tm.GenerateRefreshToken("account-123")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(7*24*time.Hour), expiresAt, 5*time.Second)

	claims, err := tm.VerifyRefreshToken(token)
	require.NoError(t, err)
	assert.Equal(t, "account-123", claims.Subject)
	assert.Equal(t, models.TokenTypeRefresh, claims.Type)
}

// ============================================================================
// Temp Token Tests
// ============================================================================

func TestTokenManager_TempToken_RoundTrip(t *testing.T) {
	tm := newTestTokenManager()

	token, err := tm.GenerateTempToken("account-123", models.TokenPurposeTotpLogin)
	require.NoError(t, err)

	claims, err := tm.VerifyTempToken(token, models.TokenPurposeTotpLogin)
	require.NoError(t, err)
	assert.Equal(t, "account-123", claims.Subject)
	assert.Equal(t, models.TokenTypeTemp, claims.Type)
	assert.Equal(t, models.TokenPurposeTotpLogin, claims.Purpose)
}

func TestTokenManager_TempToken_PurposeMismatch(t *testing.T) {
	tm := newTestTokenManager()

	token, err := tm.GenerateTempToken("reg-456", models.TokenPurposeRegisterVerify)
	require.NoError(t, err)

	_, err = tm.VerifyTempToken(token, models.TokenPurposeTotpLogin)
	assert.ErrorIs(t, err, models.ErrTokenPurposeMismatch)
}

func TestTokenManager_TempToken_Expired(t *testing.T) {
	tm := NewTokenManager(TokenConfig{
		AccessSecret:  "test-access-secret-32-chars-long!",
		RefreshSecret: "test-refresh-secret-32-chars-lng!",
		TempSecret:    "test-temp-secret-32-chars-long!!!",
		AccessExpiry:  15 * time.Minute,
		RefreshExpiry: 7 * 24 * time.Hour,
		TempExpiry:    -1 * time.Minute,
	})

	token, err := tm.GenerateTempToken("account-123", models.TokenPurposeTotpLogin)
	require.NoError(t, err)

	_, err = tm.VerifyTempToken(token, models.TokenPurposeTotpLogin)
	assert.ErrorIs(t, err, models.ErrTokenExpired)
}
