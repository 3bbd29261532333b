// Package subscription starts, charges and cancels card-on-file
// subscriptions on top of recurring tokens.
//
// A shopper moves NO_TOKEN -> TOKENIZED when the processor confirms a
// RECURRING_CONTRACT (see package notification), stays TOKENIZED across any
// number of charges, and returns to NO_TOKEN on Cancel.
package subscription

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/mbd888/checkoutkit/internal/checkout"
)

var (
	ErrShopperReferenceRequired = errors.New("shopperReference is required")
	ErrNoToken                  = errors.New("No recurring token found for this shopper") //nolint:staticcheck // surfaced verbatim to clients
)

// Charge parameters for recurring payments.
const (
	ChargeCurrency = "EUR"
	ChargeValue    = 500

	shopperRefPrefix  = "shopper_"
	createRefPrefix   = "sub_create_"
	chargeRefPrefix   = "sub_charge_"
	msgCancelled      = "Subscription cancelled successfully"
	msgAlreadyGone    = "Subscription was already cancelled"
	msgNoSubscription = "No active subscription found for this shopper"
)

// PaymentSubmitter submits payments to the processor.
type PaymentSubmitter interface {
	Payments(ctx context.Context, req *checkout.PaymentRequest) (*checkout.PaymentResponse, error)
}

// StoredMethodRevoker disables a stored payment method upstream.
type StoredMethodRevoker interface {
	DeleteStoredPaymentMethod(ctx context.Context, storedPaymentMethodID, shopperReference, merchantAccount string) error
}

// CreateRequest carries the drop-in state for the zero-value authorization.
type CreateRequest struct {
	ShopperReference string                 `json:"shopperReference" validate:"omitempty,reference"`
	PaymentMethod    checkout.PaymentMethod `json:"paymentMethod"`
	BrowserInfo      json.RawMessage        `json:"browserInfo,omitempty"`
	Origin           string                 `json:"origin,omitempty"`
}

// CreateResult is the upstream response plus the shopper reference that was used.
type CreateResult struct {
	ShopperReference string
	Response         *checkout.PaymentResponse
}

// ChargeResult is returned for a recurring charge.
type ChargeResult struct {
	ResultCode        string `json:"resultCode"`
	PSPReference      string `json:"pspReference"`
	MerchantReference string `json:"merchantReference"`
}

// CancelResult reports whether a token was removed.
type CancelResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}
