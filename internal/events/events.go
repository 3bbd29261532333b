// Package events fans token lifecycle changes out to downstream consumers.
package events

import (
	"context"
	"time"

	"github.com/mbd888/checkoutkit/internal/idgen"
)

// Event types.
const (
	TypeTokenStored  = "token.stored"
	TypeTokenRevoked = "token.revoked"
)

// Event is one token lifecycle change. The token itself is never included.
type Event struct {
	ID               string    `json:"id"`
	Type             string    `json:"type"`
	ShopperReference string    `json:"shopperReference"`
	PSPReference     string    `json:"pspReference,omitempty"`
	OccurredAt       time.Time `json:"occurredAt"`
}

// New builds an event with a fresh ID.
func New(eventType, shopperReference string) Event {
	return Event{
		ID:               idgen.WithPrefix("evt_"),
		Type:             eventType,
		ShopperReference: shopperReference,
		OccurredAt:       time.Now().UTC(),
	}
}

// Publisher delivers events. Callers treat failures as non-fatal.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }

var _ Publisher = NopPublisher{}
