package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strings"
)

// Signer computes and checks HMAC-SHA256 signatures with a pre-shared secret.
// The key is derived once from the secret's UTF-8 bytes and reused for every
// call; a Signer is safe for concurrent use.
type Signer struct {
	key []byte
}

// NewSigner returns a Signer keyed with secret.
func NewSigner(secret string) (*Signer, error) {
	if secret == "" {
		return nil, errors.New("signing secret is empty")
	}
	return &Signer{key: []byte(secret)}, nil
}

func (s *Signer) mac(message string) []byte {
	m := hmac.New(sha256.New, s.key)
	m.Write([]byte(message))
	return m.Sum(nil)
}

// Sign returns the unpadded base64url HMAC of message.
func (s *Signer) Sign(message string) string {
	return base64.RawURLEncoding.EncodeToString(s.mac(message))
}

// Verify reports whether signature is a valid HMAC of message. Padded and
// unpadded base64url are accepted; comparison is constant-time.
func (s *Signer) Verify(message, signature string) bool {
	got, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(signature, "="))
	if err != nil {
		return false
	}
	return hmac.Equal(got, s.mac(message))
}
