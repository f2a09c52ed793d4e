// Package crypto holds the symmetric primitives shared by the bot and the
// worker: an HMAC-SHA256 Signer authenticating status polls, and an AES-256-GCM
// Sealer protecting link results while they sit in the shared result store.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// ErrOpen is returned when sealed data is truncated or fails authentication.
var ErrOpen = errors.New("sealed data failed authentication")

// Sealer provides authenticated encryption for values stored outside the process.
type Sealer interface {
	// Seal returns nonce || ciphertext || tag.
	Seal(plaintext []byte) ([]byte, error)

	// Open reverses Seal. Tampered or truncated input yields ErrOpen.
	Open(sealed []byte) ([]byte, error)
}

// AESSealer implements Sealer with AES-256-GCM. The AEAD is built once and is
// safe for concurrent use.
type AESSealer struct {
	aead cipher.AEAD
}

// NewAESSealer builds a sealer from a base64 (standard encoding) 32-byte key,
// e.g. the output of `openssl rand -base64 32`.
func NewAESSealer(base64Key string) (*AESSealer, error) {
	if base64Key == "" {
		return nil, errors.New("sealing key is empty")
	}
	key, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil {
		return nil, fmt.Errorf("invalid sealing key: base64 decode failed: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("invalid sealing key: must be 32 bytes (256 bits), got %d bytes", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return &AESSealer{aead: aead}, nil
}

// Seal encrypts plaintext under a fresh random nonce.
func (s *AESSealer) Seal(plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, errors.New("plaintext is empty")
	}
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open authenticates and decrypts a value produced by Seal.
func (s *AESSealer) Open(sealed []byte) ([]byte, error) {
	n := s.aead.NonceSize()
	if len(sealed) < n+s.aead.Overhead() {
		return nil, ErrOpen
	}
	plaintext, err := s.aead.Open(nil, sealed[:n], sealed[n:], nil)
	if err != nil {
		// gcm errors carry no useful detail and must not reach callers verbatim
		return nil, ErrOpen
	}
	return plaintext, nil
}

// Passthrough is a Sealer that stores values as-is, used when no sealing key
// is configured.
type Passthrough struct{}

func (Passthrough) Seal(p []byte) ([]byte, error) { return p, nil }
func (Passthrough) Open(p []byte) ([]byte, error) { return p, nil }
