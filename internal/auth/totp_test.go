package auth

import (
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTOTPManager(t *testing.T) *TOTPManager {
	t.Helper()
	cipher, err := NewSecretCipher(testKeyHex)
	require.NoError(t, err)
	return NewTOTPManager(cipher, "Chartlock")
}

func codeAt(t *testing.T, secret string, at time.Time) string {
	t.Helper()
	code, err := totp.GenerateCodeCustom(secret, at, totp.ValidateOpts{
		Period:    totpPeriod,
		Digits:    totpDigits,
		Algorithm: otp.AlgorithmSHA1,
	})
	require.NoError(t, err)
	return code
}

// ============================================================================
// Secret Generation Tests
// ============================================================================

func TestTOTPManager_GenerateSecret_Success(t *testing.T) {
	tm := newTestTOTPManager(t)

	material, err := tm.GenerateSecret("admin@stmarys.example")
	require.NoError(t, err)

	assert.NotEmpty(t, material.Secret)
	assert.NotEmpty(t, material.EncryptedSecret)
	assert.Contains(t, material.OtpauthURL, "otpauth://totp/")
	assert.Contains(t, material.OtpauthURL, "issuer=Chartlock")
	assert.True(t, strings.HasPrefix(material.QRCode, "data:image/png;base64,"))
}

func TestTOTPManager_GenerateSecret_EncryptedSecretDecryptsToSecret(t *testing.T) {
	cipher, err := NewSecretCipher(testKeyHex)
	require.NoError(t, err)
	tm := NewTOTPManager(cipher, "Chartlock")

	material, err := tm.GenerateSecret("admin@stmarys.example")
	require.NoError(t, err)

	decrypted, err := cipher.Decrypt(material.EncryptedSecret)
	require.NoError(t, err)
	assert.Equal(t, material.Secret, decrypted)
}

func TestTOTPManager_GenerateSecret_UniquePerCall(t *testing.T) {
	tm := newTestTOTPManager(t)

	first, err := tm.GenerateSecret("a@example.com")
	require.NoError(t, err)
	second, err := tm.GenerateSecret("a@example.com")
	require.NoError(t, err)

	assert.NotEqual(t, first.Secret, second.Secret)
}

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "ABCD************WXYZ", MaskSecret("ABCDEFGHJKMNPQRSWXYZ"))
	assert.Equal(t, "********", MaskSecret("SHORTSEC"))
	assert.Equal(t, "", MaskSecret(""))
}

// ============================================================================
// Code Verification Tests
// ============================================================================

func TestTOTPManager_VerifyCode_CurrentStep(t *testing.T) {
	tm := newTestTOTPManager(t)

	material, err := tm.GenerateSecret("a@example.com")
	require.NoError(t, err)

	at := time.Date(2026, 3, 14, 9, 26, 15, 0, time.UTC)
	code := codeAt(t, material.Secret, at)

	valid, err := tm.VerifyCodeAt(material.EncryptedSecret, code, true, at)
	require.NoError(t, err)
	assert.True(t, valid)
}

func TestTOTPManager_VerifyCode_StrictRejectsPreviousStep(t *testing.T) {
	tm := newTestTOTPManager(t)

	material, err := tm.GenerateSecret("a@example.com")
	require.NoError(t, err)

	at := time.Date(2026, 3, 14, 9, 26, 15, 0, time.UTC)
	previous := codeAt(t, material.Secret, at.Add(-totpPeriod*time.Second))

	valid, err := tm.VerifyCodeAt(material.EncryptedSecret, previous, true, at)
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestTOTPManager_VerifyCode_LenientAcceptsAdjacentSteps(t *testing.T) {
	tm := newTestTOTPManager(t)

	material, err := tm.GenerateSecret("a@example.com")
	require.NoError(t, err)

	at := time.Date(2026, 3, 14, 9, 26, 15, 0, time.UTC)
	previous := codeAt(t, material.Secret, at.Add(-totpPeriod*time.Second))
	next := codeAt(t, material.Secret, at.Add(totpPeriod*time.Second))

	valid, err := tm.VerifyCodeAt(material.EncryptedSecret, previous, false, at)
	require.NoError(t, err)
	assert.True(t, valid)

	valid, err = tm.VerifyCodeAt(material.EncryptedSecret, next, false, at)
	require.NoError(t, err)
	assert.True(t, valid)
}

func TestTOTPManager_VerifyCode_LenientRejectsTwoStepsOut(t *testing.T) {
	tm := newTestTOTPManager(t)

	material, err := tm.GenerateSecret("a@example.com")
	require.NoError(t, err)

	at := time.Date(2026, 3, 14, 9, 26, 15, 0, time.UTC)
	stale := codeAt(t, material.Secret, at.Add(-2*totpPeriod*time.Second))

	valid, err := tm.VerifyCodeAt(material.EncryptedSecret, stale, false, at)
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestTOTPManager_VerifyCode_WrongCode(t *testing.T) {
	tm := newTestTOTPManager(t)

	material, err := tm.GenerateSecret("a@example.com")
	require.NoError(t, err)

	valid, err := tm.VerifyCode(material.EncryptedSecret, "000000", false)
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestTOTPManager_VerifyCode_TrimsWhitespace(t *testing.T) {
	tm := newTestTOTPManager(t)

	material, err := tm.GenerateSecret("a@example.com")
	require.NoError(t, err)

	at := time.Date(2026, 3, 14, 9, 26, 15, 0, time.UTC)
	code := codeAt(t, material.Secret, at)

	valid, err := tm.VerifyCodeAt(material.EncryptedSecret, " "+code+" ", true, at)
	require.NoError(t, err)
	assert.True(t, valid)
}

func TestTOTPManager_VerifyCode_UndecryptableSecret(t *testing.T) {
	tm := newTestTOTPManager(t)

	_, err := tm.VerifyCode("not-a-ciphertext", "123456", false)
	assert.Error(t, err)
}

// ============================================================================
// Backup Code Tests
// ============================================================================

func TestTOTPManager_GenerateBackupCodes_Format(t *testing.T) {
	tm := newTestTOTPManager(t)

	codes, err := tm.GenerateBackupCodes(10)
	require.NoError(t, err)
	require.Len(t, codes, 10)

	pattern := regexp.MustCompile(`^[23456789ABCDEFGHJKMNPQRSTUVWXYZ]{4}-[23456789ABCDEFGHJKMNPQRSTUVWXYZ]{4}$`)
	seen := make(map[string]bool)
	for _, code := range codes {
		assert.Regexp(t, pattern, code)
		assert.False(t, seen[code], "duplicate code %s", code)
		seen[code] = true
	}
}

func TestNormalizeBackupCode(t *testing.T) {
	assert.Equal(t, "A3F8K2MP", NormalizeBackupCode("A3F8-K2MP"))
	assert.Equal(t, "A3F8K2MP", NormalizeBackupCode("a3f8k2mp"))
	assert.Equal(t, "A3F8K2MP", NormalizeBackupCode("  a3f8-K2mp "))
}

func TestHashBackupCode_FormattingInsensitive(t *testing.T) {
	assert.Equal(t, HashBackupCode("A3F8-K2MP"), HashBackupCode("a3f8k2mp"))
	assert.NotEqual(t, HashBackupCode("A3F8-K2MP"), HashBackupCode("A3F8-K2MQ"))
}

func TestMatchBackupCode(t *testing.T) {
	stored := HashBackupCode("A3F8-K2MP")

	assert.True(t, MatchBackupCode("A3F8-K2MP", stored))
	assert.True(t, MatchBackupCode("a3f8k2mp", stored))
	assert.False(t, MatchBackupCode("A3F8-K2MQ", stored))
	assert.False(t, MatchBackupCode("", stored))
}
