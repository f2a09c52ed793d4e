package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// maxStateLen caps the encoded token accepted from the redirect query string.
const maxStateLen = 1024

// maxExactExp is the largest millisecond count a JSON number carries exactly.
const maxExactExp = 1 << 53

// AttemptState identifies one link flow. It travels through the provider in the
// OAuth "state" parameter as base64url(JSON).
type AttemptState struct {
	// Nonce is a random UUID; it is also the result store key.
	Nonce string `json:"nonce"`

	// Exp is the absolute expiry in epoch milliseconds.
	Exp int64 `json:"exp"`

	// Sig optionally signs "{nonce}.{exp}" so the worker can trust Exp.
	Sig string `json:"sig,omitempty"`
}

// NewAttemptState returns a state with a fresh random nonce expiring ttl after now.
func NewAttemptState(now time.Time, ttl time.Duration) AttemptState {
	return AttemptState{
		Nonce: uuid.NewString(),
		Exp:   now.Add(ttl).UnixMilli(),
	}
}

// ExpiresAt returns Exp as a time.
func (s AttemptState) ExpiresAt() time.Time { return time.UnixMilli(s.Exp) }

// Expired reports whether now is past the attempt's expiry.
func (s AttemptState) Expired(now time.Time) bool { return now.UnixMilli() > s.Exp }

// ResultExpiry is the store expiry for this attempt's result.
func (s AttemptState) ResultExpiry() time.Time { return s.ExpiresAt().Add(ResultGrace) }

func (s AttemptState) signingMessage() string {
	return s.Nonce + "." + strconv.FormatInt(s.Exp, 10)
}

// Signed returns a copy of s carrying a signature over its nonce and expiry.
func (s AttemptState) Signed(signer Signer) AttemptState {
	s.Sig = signer.Sign(s.signingMessage())
	return s
}

// VerifySignature reports whether s carries a valid signature.
func (s AttemptState) VerifySignature(v Verifier) bool {
	return s.Sig != "" && v.Verify(s.signingMessage(), s.Sig)
}

// Encode returns the URL-safe token placed in the provider's state parameter.
func (s AttemptState) Encode() string {
	b, _ := json.Marshal(s) // fixed struct of strings and ints never fails
	return base64.RawURLEncoding.EncodeToString(b)
}

// rawState mirrors AttemptState with pointer fields so absence and type
// mismatches can be told apart from zero values.
type rawState struct {
	Nonce *string  `json:"nonce"`
	Exp   *float64 `json:"exp"`
	Sig   *string  `json:"sig"`
}

// DecodeState parses a token produced by Encode. Padded and unpadded base64url
// are both accepted. Any failure wraps ErrMalformedState and callers must not
// surface the cause.
func DecodeState(token string) (AttemptState, error) {
	if token == "" || len(token) > maxStateLen {
		return AttemptState{}, ErrMalformedState
	}
	b, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(token, "="))
	if err != nil {
		return AttemptState{}, fmt.Errorf("%w: %v", ErrMalformedState, err)
	}
	var raw rawState
	if err := json.Unmarshal(b, &raw); err != nil {
		return AttemptState{}, fmt.Errorf("%w: %v", ErrMalformedState, err)
	}
	if raw.Nonce == nil || *raw.Nonce == "" || raw.Exp == nil {
		return AttemptState{}, fmt.Errorf("%w: missing nonce or exp", ErrMalformedState)
	}
	if *raw.Exp < 0 || *raw.Exp > maxExactExp {
		return AttemptState{}, fmt.Errorf("%w: exp out of range", ErrMalformedState)
	}
	if *raw.Exp != math.Trunc(*raw.Exp) {
		return AttemptState{}, fmt.Errorf("%w: exp is not whole milliseconds", ErrMalformedState)
	}
	st := AttemptState{Nonce: *raw.Nonce, Exp: int64(*raw.Exp)}
	if raw.Sig != nil {
		st.Sig = *raw.Sig
	}
	return st, nil
}
