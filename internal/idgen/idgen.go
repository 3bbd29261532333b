// Package idgen generates merchant references, shopper references and
// idempotency keys.
package idgen

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"
)

// WithPrefix returns prefix + 24 random hex chars (e.g. "sub_", "shopper_").
func WithPrefix(prefix string) string {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return prefix + hex.EncodeToString(b)
}

// IdempotencyKey returns a fresh UUIDv4 for the Idempotency-Key header.
func IdempotencyKey() string {
	return uuid.NewString()
}

// RequestID returns a UUID for tracing inbound requests.
func RequestID() string {
	return uuid.NewString()
}
