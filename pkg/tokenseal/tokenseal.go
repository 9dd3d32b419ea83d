// Package tokenseal encrypts Moodle tokens at rest with NaCl secretbox.
//
// Sealed values are stored as "sb1$<base64(nonce || box)>". Values without
// the prefix are treated as plaintext so rows written before a key was
// configured stay readable.
package tokenseal

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
)

const (
	prefix    = "sb1$"
	keySize   = 32
	nonceSize = 24
)

var (
	// ErrInvalidKey is returned when the key is not 32 bytes of base64.
	ErrInvalidKey = errors.New("tokenseal: key must be 32 bytes, base64 encoded")
	// ErrCorrupted is returned when a sealed value cannot be opened.
	ErrCorrupted = errors.New("tokenseal: sealed value is corrupted")
)

// Sealer seals and opens stored token values.
type Sealer struct {
	key     *[keySize]byte
	enabled bool
}

// New creates a Sealer from a base64 key. An empty key disables sealing.
func New(encodedKey string) (*Sealer, error) {
	encodedKey = strings.TrimSpace(encodedKey)
	if encodedKey == "" {
		return &Sealer{}, nil
	}

	raw, err := base64.StdEncoding.DecodeString(encodedKey)
	if err != nil || len(raw) != keySize {
		return nil, ErrInvalidKey
	}

	var key [keySize]byte
	copy(key[:], raw)
	return &Sealer{key: &key, enabled: true}, nil
}

// Enabled reports whether values are encrypted.
func (s *Sealer) Enabled() bool {
	return s != nil && s.enabled
}

// Seal encrypts plaintext. With sealing disabled it returns plaintext unchanged.
func (s *Sealer) Seal(plaintext string) (string, error) {
	if !s.Enabled() {
		return plaintext, nil
	}

	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	box := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, s.key)
	return prefix + base64.RawStdEncoding.EncodeToString(box), nil
}

// Open decrypts a stored value. Unprefixed values are returned as-is.
func (s *Sealer) Open(stored string) (string, error) {
	if !strings.HasPrefix(stored, prefix) {
		return stored, nil
	}
	if !s.Enabled() {
		return "", fmt.Errorf("open sealed token: %w", ErrInvalidKey)
	}

	raw, err := base64.RawStdEncoding.DecodeString(strings.TrimPrefix(stored, prefix))
	if err != nil || len(raw) < nonceSize+secretbox.Overhead {
		return "", ErrCorrupted
	}

	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])

	plain, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, s.key)
	if !ok {
		return "", ErrCorrupted
	}
	return string(plain), nil
}

// GenerateKey returns a new random base64 key suitable for New.
func GenerateKey() (string, error) {
	var key [keySize]byte
	if _, err := rand.Read(key[:]); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key[:]), nil
}
