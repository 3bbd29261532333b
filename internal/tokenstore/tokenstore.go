// Package tokenstore keeps the recurring payment-method token issued by the
// processor for each shopper.
//
// A shopper has at most one active token. Tokens arrive asynchronously via
// RECURRING_CONTRACT notifications, are read on every subscription charge and
// are removed on cancellation. All backends are safe for concurrent use and
// linearizable per shopper reference; nothing is promised across keys.
package tokenstore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/mbd888/checkoutkit/internal/metrics"
)

var (
	ErrTokenNotFound    = errors.New("tokenstore: no token for shopper")
	ErrInvalidReference = errors.New("tokenstore: shopper reference and token are required")
)

// Token is the stored payment method for a shopper.
type Token struct {
	ShopperReference         string    `json:"shopperReference"`
	RecurringDetailReference string    `json:"recurringDetailReference"`
	CreatedAt                time.Time `json:"createdAt"`
	UpdatedAt                time.Time `json:"updatedAt"`
}

// Store persists recurring tokens keyed by shopper reference.
type Store interface {
	// Put upserts the token, replacing any previous one for the shopper.
	Put(ctx context.Context, shopperReference, token string) error
	// Get returns ErrTokenNotFound when the shopper has no token.
	Get(ctx context.Context, shopperReference string) (*Token, error)
	// Delete reports whether a token was actually removed.
	Delete(ctx context.Context, shopperReference string) (bool, error)
	Exists(ctx context.Context, shopperReference string) (bool, error)
}

// Pinger is implemented by backends that can report connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

func validate(shopperReference, token string) error {
	if strings.TrimSpace(shopperReference) == "" || strings.TrimSpace(token) == "" {
		return ErrInvalidReference
	}
	return nil
}

func observe(backend, op string, err error) {
	result := metrics.Result(err)
	if errors.Is(err, ErrTokenNotFound) {
		result = "miss"
	}
	metrics.TokenStoreOpsTotal.WithLabelValues(backend, op, result).Inc()
}
