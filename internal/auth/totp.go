package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	qrcode "github.com/skip2/go-qrcode"
)

const (
	totpPeriod = 30
	totpDigits = otp.DigitsSix

	// Setup and rotation confirmation accept only the current step (the
	// device clock must already be synced); ongoing login tolerates ±1
	// step of drift.
	strictSkew = 0
	loginSkew  = 1

	backupCodeGroupLen = 4
	backupCodeGroups   = 2
)

// Charset for backup codes: uppercase alphanumeric minus ambiguous
// characters (0/O, 1/I/L).
const backupCodeCharset = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"

// TOTPManager generates and verifies TOTP secrets and backup codes.
// Secrets never leave this package unencrypted except in the one-time
// setup material returned to the caller.
type TOTPManager struct {
	cipher *SecretCipher
	issuer string
}

// SetupMaterial is returned once when a secret is generated. Secret is the
// full base32 value for manual entry; after this response only
// MaskedSecret is ever shown again.
type SetupMaterial struct {
	Secret          string
	EncryptedSecret string
	OtpauthURL      string
	QRCode          string // PNG data URL
	MaskedSecret    string
}

// NewTOTPManager creates a TOTP manager. The issuer is embedded in
// otpauth URIs so authenticator apps display a readable entry.
func NewTOTPManager(cipher *SecretCipher, issuer string) *TOTPManager {
	return &TOTPManager{
		cipher: cipher,
		issuer: issuer,
	}
}

// Issuer returns the configured otpauth issuer.
func (tm *TOTPManager) Issuer() string {
	return tm.issuer
}

// GenerateSecret creates a new TOTP secret labeled for the given account,
// encrypts it for storage, and renders the provisioning QR code.
func (tm *TOTPManager) GenerateSecret(accountLabel string) (*SetupMaterial, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      tm.issuer,
		AccountName: accountLabel,
		SecretSize:  32,
		Period:      totpPeriod,
		Digits:      totpDigits,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate TOTP key: %w", err)
	}

	encrypted, err := tm.cipher.Encrypt(key.Secret())
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt secret: %w", err)
	}

	qr, err := qrcode.New(key.URL(), qrcode.Medium)
	if err != nil {
		return nil, fmt.Errorf("failed to create QR code: %w", err)
	}

	qrImage, err := qr.PNG(200)
	if err != nil {
		return nil, fmt.Errorf("failed to encode QR code: %w", err)
	}

	return &SetupMaterial{
		Secret:          key.Secret(),
		EncryptedSecret: encrypted,
		OtpauthURL:      key.URL(),
		QRCode:          "data:image/png;base64," + base64.StdEncoding.EncodeToString(qrImage),
		MaskedSecret:    MaskSecret(key.Secret()),
	}, nil
}

// MaskSecret reveals only the first and last four characters of a secret
// for UI display.
func MaskSecret(secret string) string {
	if len(secret) <= 8 {
		return strings.Repeat("*", len(secret))
	}
	return secret[:4] + strings.Repeat("*", len(secret)-8) + secret[len(secret)-4:]
}

// VerifyCode decrypts the stored secret and checks the submitted six-digit
// code at the current time. strict=true restricts the match to the exact
// current step.
func (tm *TOTPManager) VerifyCode(encryptedSecret, code string, strict bool) (bool, error) {
	return tm.VerifyCodeAt(encryptedSecret, code, strict, time.Now())
}

// VerifyCodeAt is VerifyCode against an explicit clock.
func (tm *TOTPManager) VerifyCodeAt(encryptedSecret, code string, strict bool, at time.Time) (bool, error) {
	secret, err := tm.cipher.Decrypt(encryptedSecret)
	if err != nil {
		return false, fmt.Errorf("failed to decrypt TOTP secret: %w", err)
	}

	skew := uint(loginSkew)
	if strict {
		skew = strictSkew
	}

	valid, err := totp.ValidateCustom(strings.TrimSpace(code), secret, at, totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      skew,
		Digits:    totpDigits,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return false, fmt.Errorf("failed to validate TOTP code: %w", err)
	}

	return valid, nil
}

// GenerateBackupCodes returns count plaintext codes formatted as two
// four-character groups joined by a hyphen (e.g. "A3F8-K2MP"). The caller
// must display them immediately; only hashes are ever persisted.
func (tm *TOTPManager) GenerateBackupCodes(count int) ([]string, error) {
	codes := make([]string, count)
	for i := 0; i < count; i++ {
		raw := make([]byte, backupCodeGroupLen*backupCodeGroups)
		if _, err := rand.Read(raw); err != nil {
			return nil, fmt.Errorf("failed to generate backup code: %w", err)
		}
		for j := range raw {
			raw[j] = backupCodeCharset[int(raw[j])%len(backupCodeCharset)]
		}
		codes[i] = string(raw[:backupCodeGroupLen]) + "-" + string(raw[backupCodeGroupLen:])
	}
	return codes, nil
}

// NormalizeBackupCode strips the hyphen and uppercases, so user input is
// accepted with or without formatting.
func NormalizeBackupCode(code string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(code), "-", ""))
}

// HashBackupCode returns the SHA-256 hex digest of the normalized code.
func HashBackupCode(code string) string {
	sum := sha256.Sum256([]byte(NormalizeBackupCode(code)))
	return hex.EncodeToString(sum[:])
}

// MatchBackupCode compares a submitted code against a stored hash in
// constant time per candidate.
func MatchBackupCode(code, storedHash string) bool {
	candidate := HashBackupCode(code)
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(storedHash)) == 1
}
