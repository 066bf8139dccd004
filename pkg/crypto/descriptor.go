// Package crypto seals tenant connection descriptors at rest.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrInvalidKey is returned when the encryption key is empty.
	ErrInvalidKey = errors.New("invalid encryption key: must not be empty")
	// ErrDecryptionFailed is returned when decryption fails due to invalid ciphertext, wrong key or wrong owner.
	ErrDecryptionFailed = errors.New("decryption failed: invalid ciphertext or wrong key")
)

// Sealer encrypts JSON values with AES-256-GCM. Each sealed value is bound to
// an owner id (the tenant id) through the GCM additional data, so a ciphertext
// copied onto another tenant's row fails to open.
type Sealer struct {
	gcm cipher.AEAD
}

// NewSealer creates a Sealer from a key string.
// A base64 value decoding to exactly 32 bytes is used as the key directly;
// anything else is treated as a passphrase and hashed with SHA-256.
func NewSealer(keyInput string) (*Sealer, error) {
	if keyInput == "" {
		return nil, ErrInvalidKey
	}

	var key []byte
	if decoded, err := base64.StdEncoding.DecodeString(keyInput); err == nil && len(decoded) == 32 {
		key = decoded
	} else {
		hash := sha256.Sum256([]byte(keyInput))
		key = hash[:]
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &Sealer{gcm: gcm}, nil
}

// Seal marshals v to JSON and returns base64(nonce || ciphertext || tag).
// A nil v seals to the empty string.
func (s *Sealer) Seal(owner string, v any) (string, error) {
	if v == nil {
		return "", nil
	}

	plaintext, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal value: %w", err)
	}

	nonce := make([]byte, s.gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := s.gcm.Seal(nonce, nonce, plaintext, []byte(owner))
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal into v. It returns false without touching v when sealed is empty.
func (s *Sealer) Open(owner, sealed string, v any) (bool, error) {
	if sealed == "" {
		return false, nil
	}

	data, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return false, fmt.Errorf("%w: base64 decode failed", ErrDecryptionFailed)
	}

	nonceSize := s.gcm.NonceSize()
	if len(data) < nonceSize+s.gcm.Overhead() {
		return false, fmt.Errorf("%w: ciphertext too short", ErrDecryptionFailed)
	}

	plaintext, err := s.gcm.Open(nil, data[:nonceSize], data[nonceSize:], []byte(owner))
	if err != nil {
		return false, fmt.Errorf("%w: authentication failed", ErrDecryptionFailed)
	}

	if err := json.Unmarshal(plaintext, v); err != nil {
		return false, fmt.Errorf("failed to unmarshal value: %w", err)
	}
	return true, nil
}
