// Package vault encrypts and decrypts account secrets. Secrets are stored
// only in encrypted form; plaintext exists in memory just long enough to
// build a request.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrEmptyKey is returned when the vault is constructed without a master key.
	ErrEmptyKey = errors.New("vault: master key is empty")

	// ErrCiphertextTooShort is returned when a ciphertext is shorter than a nonce.
	ErrCiphertextTooShort = errors.New("vault: ciphertext too short")

	// ErrDecryptFailed is returned when decryption or authentication fails.
	ErrDecryptFailed = errors.New("vault: decrypt failed")
)

// Vault performs AES-256-GCM encryption with a key derived from the
// configured master secret.
type Vault struct {
	aead cipher.AEAD
}

// New derives a 256-bit key from masterKey and returns a ready Vault.
func New(masterKey string) (*Vault, error) {
	if masterKey == "" {
		return nil, ErrEmptyKey
	}

	key := sha256.Sum256([]byte(masterKey))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("vault: init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: init gcm: %w", err)
	}

	return &Vault{aead: aead}, nil
}

// Encrypt seals plaintext and returns base64(nonce || ciphertext).
func (v *Vault) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("vault: generate nonce: %w", err)
	}

	sealed := v.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. A tampered or wrong-key ciphertext returns
// ErrDecryptFailed.
func (v *Vault) Decrypt(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptFailed, err)
	}
	if len(raw) < v.aead.NonceSize() {
		return "", ErrCiphertextTooShort
	}

	nonce, ciphertext := raw[:v.aead.NonceSize()], raw[v.aead.NonceSize():]
	plaintext, err := v.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrDecryptFailed
	}
	return string(plaintext), nil
}
