// Package protocol defines the wire types and constants shared by the chat bot
// (which starts link attempts and polls for their outcome) and the OAuth worker
// (which receives the provider redirect and answers status polls).
//
// Both sides must agree on everything in this package: the state token format
// embedded in the provider's authorization URL, the signed poll headers, and
// the JSON shape of a status response.
package protocol

import (
	"errors"
	"strconv"
	"time"
)

const (
	// AttemptTTL bounds how long a link attempt stays valid after creation.
	AttemptTTL = 600 * time.Second

	// PollInterval is the delay between two status polls from the bot.
	PollInterval = 5 * time.Second

	// MaxClockSkew is the widest accepted distance between a poll's
	// timestamp and the worker's clock.
	MaxClockSkew = 30 * time.Second

	// ResultGrace is added to an attempt's expiry when the worker stores its
	// result, so a poll that races the deadline can still collect it.
	ResultGrace = 60 * time.Second

	// TimestampHeader carries the poll timestamp in epoch milliseconds.
	TimestampHeader = "X-Timestamp"

	// SignatureHeader carries the base64url HMAC over PollMessage.
	SignatureHeader = "X-Signature"

	// CallbackPath is the worker path registered as the provider redirect URI.
	CallbackPath = "/callback"

	// StatusPath is the worker path polled by the bot.
	StatusPath = "/status"
)

var (
	// ErrMalformedState is returned for state tokens that fail to decode or
	// do not carry a nonce and an expiry of the right types.
	ErrMalformedState = errors.New("malformed attempt state")

	// ErrMalformedResult is returned for link results missing osuId or username.
	ErrMalformedResult = errors.New("malformed link result")

	// ErrMalformedStatus is returned for status bodies that are neither a
	// pending nor a complete response.
	ErrMalformedStatus = errors.New("malformed status response")
)

// Signer produces a signature for a message.
type Signer interface {
	Sign(message string) string
}

// Verifier checks a signature produced by a Signer holding the same key.
type Verifier interface {
	Verify(message, signature string) bool
}

// PollMessage is the exact string signed for a status poll. The timestamp is
// part of it so that a captured signature expires with the skew window.
func PollMessage(nonce string, timestampMillis int64) string {
	return nonce + "." + strconv.FormatInt(timestampMillis, 10)
}

// WithinSkew reports whether ts is no further than MaxClockSkew from now.
func WithinSkew(now time.Time, timestampMillis int64) bool {
	age := now.UnixMilli() - timestampMillis
	if age < 0 {
		age = -age
	}
	return age <= MaxClockSkew.Milliseconds()
}
