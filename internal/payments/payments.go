// Package payments serves the one-off checkout flow used by the drop-in:
// payment methods, payments, details and the 3DS redirect return.
package payments

import (
	"encoding/json"

	"github.com/mbd888/checkoutkit/internal/checkout"
)

// Greeting is returned by GET /hello-world.
const Greeting = "This is the 'Hello World' from the workshop - You've successfully finished step 0!"

// Fixed order amount for the demo checkout.
const (
	OrderCurrency = "EUR"
	OrderValue    = 9998
)

// Result page slugs the shopper is redirected to.
const (
	ResultSuccess = "success"
	ResultPending = "pending"
	ResultFailed  = "failed"
	ResultError   = "error"
)

// PaymentRequest is the drop-in state.data posted by the browser.
type PaymentRequest struct {
	PaymentMethod checkout.PaymentMethod `json:"paymentMethod"`
	BrowserInfo   json.RawMessage        `json:"browserInfo,omitempty"`
	Origin        string                 `json:"origin,omitempty"`
}

// ResultPage maps a processor result code to the page shown to the shopper.
func ResultPage(resultCode string) string {
	switch resultCode {
	case checkout.ResultAuthorised:
		return ResultSuccess
	case checkout.ResultPending, checkout.ResultReceived:
		return ResultPending
	case checkout.ResultRefused, checkout.ResultCancelled:
		return ResultFailed
	default:
		return ResultError
	}
}
