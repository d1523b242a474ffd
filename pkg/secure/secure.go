// Package secure seals small payloads at rest. Used for raw payment gateway
// responses stored alongside payments, which must never be readable straight
// out of a database dump.
package secure

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// Sealer encrypts and decrypts byte blobs with XChaCha20-Poly1305.
type Sealer struct {
	key []byte
}

// NewSealer creates a Sealer from a 32-byte hex-encoded key. An empty key is
// allowed in development and makes Seal/Open pass data through unchanged.
func NewSealer(hexKey string) (*Sealer, error) {
	if hexKey == "" {
		return &Sealer{}, nil
	}

	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("invalid seal key: %w", err)
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("seal key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}

	return &Sealer{key: key}, nil
}

// Seal encrypts data, prepending the random nonce to the ciphertext.
func (s *Sealer) Seal(data []byte) ([]byte, error) {
	if s.key == nil {
		return data, nil
	}

	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to build cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return aead.Seal(nonce, nonce, data, nil), nil
}

// Open decrypts a blob produced by Seal.
func (s *Sealer) Open(data []byte) ([]byte, error) {
	if s.key == nil {
		return data, nil
	}

	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to build cipher: %w", err)
	}

	if len(data) < aead.NonceSize() {
		return nil, fmt.Errorf("sealed blob too short")
	}

	nonce, ciphertext := data[:aead.NonceSize()], data[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open sealed blob: %w", err)
	}

	return plaintext, nil
}
