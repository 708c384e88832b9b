package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
)

const gcmTagSize = 16

// SecretCipher provides authenticated encryption for TOTP secrets at rest
// using AES-256-GCM. Each call uses a fresh random nonce, so encrypting the
// same plaintext twice yields different ciphertexts. Decryption fails closed:
// a bad tag or malformed serialization returns an error, never partial data.
type SecretCipher struct {
	aead cipher.AEAD
}

// NewSecretCipher creates a cipher from a 64-character hex key (32 bytes).
func NewSecretCipher(keyHex string) (*SecretCipher, error) {
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("encryption key is not valid hex: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes, got %d", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &SecretCipher{aead: aead}, nil
}

// GenerateKey returns a fresh random key as a 64-character hex string.
// Exposed for provisioning tooling; production keys come from the
// environment, not from this helper at runtime.
func GenerateKey() (string, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("failed to generate key: %w", err)
	}
	return hex.EncodeToString(key), nil
}

// Encrypt seals the plaintext and serializes the result as
// "nonce:tag:payload", each component hex encoded.
func (c *SecretCipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := c.aead.Seal(nil, nonce, []byte(plaintext), nil)

	// Seal appends the tag to the ciphertext; split it back out so the
	// stored format carries nonce, tag, and payload separately.
	payload := sealed[:len(sealed)-gcmTagSize]
	tag := sealed[len(sealed)-gcmTagSize:]

	return fmt.Sprintf("%s:%s:%s",
		hex.EncodeToString(nonce),
		hex.EncodeToString(tag),
		hex.EncodeToString(payload),
	), nil
}

// Decrypt parses a "nonce:tag:payload" ciphertext and opens it.
func (c *SecretCipher) Decrypt(ciphertext string) (string, error) {
	parts := strings.Split(ciphertext, ":")
	if len(parts) != 3 {
		return "", fmt.Errorf("malformed ciphertext: expected 3 parts, got %d", len(parts))
	}

	nonce, err := hex.DecodeString(parts[0])
	if err != nil {
		return "", fmt.Errorf("malformed ciphertext nonce: %w", err)
	}
	if len(nonce) != c.aead.NonceSize() {
		return "", fmt.Errorf("malformed ciphertext nonce: expected %d bytes, got %d", c.aead.NonceSize(), len(nonce))
	}

	tag, err := hex.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("malformed ciphertext tag: %w", err)
	}
	if len(tag) != gcmTagSize {
		return "", fmt.Errorf("malformed ciphertext tag: expected %d bytes, got %d", gcmTagSize, len(tag))
	}

	payload, err := hex.DecodeString(parts[2])
	if err != nil {
		return "", fmt.Errorf("malformed ciphertext payload: %w", err)
	}

	plaintext, err := c.aead.Open(nil, nonce, append(payload, tag...), nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt secret: %w", err)
	}

	return string(plaintext), nil
}
