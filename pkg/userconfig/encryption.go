package userconfig

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
)

const (
	keySize   = 32 // AES-256
	nonceSize = 12
	tagSize   = 16
)

// EncryptedBlob is a per-user secret (the LLM API key override) at rest:
// AES-256-GCM with its nonce and authentication tag carried alongside the
// ciphertext rather than folded into one opaque byte slice, so a caller can
// inspect or re-serialize the pieces without re-parsing a wire format.
type EncryptedBlob struct {
	Nonce      []byte
	Tag        []byte
	Ciphertext []byte
}

// Encrypt seals plaintext under key (must be 32 bytes) with a fresh random
// nonce.
func Encrypt(plaintext string, key []byte) (EncryptedBlob, error) {
	if len(key) != keySize {
		return EncryptedBlob{}, fmt.Errorf("userconfig: encryption key must be %d bytes, got %d", keySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return EncryptedBlob{}, fmt.Errorf("userconfig: build cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return EncryptedBlob{}, fmt.Errorf("userconfig: build GCM: %w", err)
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return EncryptedBlob{}, fmt.Errorf("userconfig: generate nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, []byte(plaintext), nil) // ciphertext || tag
	split := len(sealed) - tagSize
	return EncryptedBlob{
		Nonce:      nonce,
		Tag:        append([]byte(nil), sealed[split:]...),
		Ciphertext: append([]byte(nil), sealed[:split]...),
	}, nil
}

// Decrypt recovers the plaintext, verifying the authentication tag.
func (b EncryptedBlob) Decrypt(key []byte) (string, error) {
	if len(key) != keySize {
		return "", fmt.Errorf("userconfig: decryption key must be %d bytes, got %d", keySize, len(key))
	}
	if len(b.Nonce) != nonceSize || len(b.Tag) != tagSize {
		return "", fmt.Errorf("userconfig: malformed encrypted blob")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("userconfig: build cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("userconfig: build GCM: %w", err)
	}

	sealed := make([]byte, 0, len(b.Ciphertext)+len(b.Tag))
	sealed = append(sealed, b.Ciphertext...)
	sealed = append(sealed, b.Tag...)

	plaintext, err := gcm.Open(nil, b.Nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("userconfig: decrypt: %w", err)
	}
	return string(plaintext), nil
}

// String renders the blob as base64(nonce || tag || ciphertext), the exact
// column encoding persisted to user_configs.encrypted_api_key.
func (b EncryptedBlob) String() string {
	buf := make([]byte, 0, len(b.Nonce)+len(b.Tag)+len(b.Ciphertext))
	buf = append(buf, b.Nonce...)
	buf = append(buf, b.Tag...)
	buf = append(buf, b.Ciphertext...)
	return base64.StdEncoding.EncodeToString(buf)
}

// ParseEncryptedBlob reverses String, splitting the concatenated
// nonce/tag/ciphertext back into their fields.
func ParseEncryptedBlob(s string) (EncryptedBlob, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return EncryptedBlob{}, fmt.Errorf("userconfig: decode blob: %w", err)
	}
	if len(raw) < nonceSize+tagSize {
		return EncryptedBlob{}, fmt.Errorf("userconfig: blob too short (%d bytes)", len(raw))
	}
	return EncryptedBlob{
		Nonce:      raw[:nonceSize],
		Tag:        raw[nonceSize : nonceSize+tagSize],
		Ciphertext: raw[nonceSize+tagSize:],
	}, nil
}

// devFallbackKey is used only when ENCRYPTION_KEY is unset, matching the
// source system's development convenience default. Production deployments
// must set ENCRYPTION_KEY.
var devFallbackKey = []byte("dev-encryption-key-32-bytes!!")

// ResolveEncryptionKey reads ENCRYPTION_KEY: a base64-encoded 32-byte key
// takes priority; otherwise the raw string is padded with zero bytes or
// truncated to 32 bytes; an unset variable falls back to a fixed
// development key.
func ResolveEncryptionKey() []byte {
	raw := os.Getenv("ENCRYPTION_KEY")
	if raw == "" {
		return padOrTruncate(devFallbackKey)
	}
	if decoded, err := base64.StdEncoding.DecodeString(raw); err == nil && len(decoded) == keySize {
		return decoded
	}
	return padOrTruncate([]byte(raw))
}

func padOrTruncate(b []byte) []byte {
	if len(b) >= keySize {
		return b[:keySize]
	}
	padded := make([]byte, keySize)
	copy(padded, b)
	return padded
}

// GenerateEncryptionKey returns a fresh random 32-byte key, base64-encoded,
// suitable for an operator to paste into ENCRYPTION_KEY.
func GenerateEncryptionKey() (string, error) {
	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("userconfig: generate key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}
