// Package gatewayid centralizes the gateway's clock and cryptographic-random
// ID sources (C1): request ids, session tokens, and UUIDv7 record ids.
package gatewayid

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"

	"github.com/google/uuid"
)

// NewRequestID returns a 16-random-byte hex-encoded request id, matching the
// format spec §6 "Header conventions" specifies for generated request ids.
func NewRequestID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand: " + err.Error())
	}
	return hex.EncodeToString(b)
}

// NewSessionToken returns a 32-byte cryptographically random, base64url
// encoded session token (spec §3, §4.2). Uniqueness is by construction;
// collision probability is negligible.
func NewSessionToken() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand: " + err.Error())
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

// New returns a UUIDv7 string, used for usage-log, audit, and hosted-image
// record ids (monotonic, time-ordered, matching the teacher's convention).
func New() string {
	return uuid.Must(uuid.NewV7()).String()
}
