// Package checkout is a small client for the Adyen Checkout API (v71).
//
// It covers the calls the workshop needs: listing payment methods, submitting
// payments and details, and revoking stored payment methods. Transport
// resilience (retries with a stable idempotency key, per-endpoint circuit
// breaking) lives here; callers treat every method as a single blocking call.
package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// APIVersion is the Checkout API version the client speaks.
const APIVersion = "v71"

// Result codes returned by /payments and /payments/details.
const (
	ResultAuthorised         = "Authorised"
	ResultRefused            = "Refused"
	ResultPending            = "Pending"
	ResultReceived           = "Received"
	ResultCancelled          = "Cancelled"
	ResultError              = "Error"
	ResultIdentifyShopper    = "IdentifyShopper"
	ResultChallengeShopper   = "ChallengeShopper"
	ResultRedirectShopper    = "RedirectShopper"
	ResultPresentToShopper   = "PresentToShopper"
	ResultAuthenticationDone = "AuthenticationFinished"
)

// Shopper interaction and recurring processing model values.
const (
	InteractionEcommerce = "Ecommerce"
	InteractionContAuth  = "ContAuth"

	ProcessingSubscription = "Subscription"

	ChannelWeb = "Web"
)

var ErrCircuitOpen = errors.New("checkout: circuit open, upstream unavailable")

// API is the full set of Checkout calls used by the service.
type API interface {
	PaymentMethods(ctx context.Context, req *PaymentMethodsRequest) (*PaymentMethodsResponse, error)
	Payments(ctx context.Context, req *PaymentRequest) (*PaymentResponse, error)
	PaymentsDetails(ctx context.Context, req *PaymentDetailsRequest) (*PaymentResponse, error)
	DeleteStoredPaymentMethod(ctx context.Context, storedPaymentMethodID, shopperReference, merchantAccount string) error
}

// Amount is a value in minor units.
type Amount struct {
	Currency string `json:"currency"`
	Value    int64  `json:"value"`
}

// PaymentMethod carries the encrypted card fields from the drop-in, or a
// stored payment method id for follow-up charges.
type PaymentMethod struct {
	Type                  string `json:"type" validate:"required"`
	EncryptedCardNumber   string `json:"encryptedCardNumber,omitempty"`
	EncryptedExpiryMonth  string `json:"encryptedExpiryMonth,omitempty"`
	EncryptedExpiryYear   string `json:"encryptedExpiryYear,omitempty"`
	EncryptedSecurityCode string `json:"encryptedSecurityCode,omitempty"`
	HolderName            string `json:"holderName,omitempty"`
	StoredPaymentMethodID string `json:"storedPaymentMethodId,omitempty"`
	Brand                 string `json:"brand,omitempty"`
}

// ThreeDSRequestData controls native vs redirect 3DS2.
type ThreeDSRequestData struct {
	NativeThreeDS string `json:"nativeThreeDS,omitempty"`
}

// AuthenticationData wraps 3DS settings on a payment request.
type AuthenticationData struct {
	ThreeDSRequestData *ThreeDSRequestData `json:"threeDSRequestData,omitempty"`
}

// PaymentRequest is the body of POST /payments.
type PaymentRequest struct {
	MerchantAccount          string              `json:"merchantAccount"`
	Amount                   Amount              `json:"amount"`
	Reference                string              `json:"reference"`
	PaymentMethod            PaymentMethod       `json:"paymentMethod"`
	ReturnURL                string              `json:"returnUrl,omitempty"`
	Channel                  string              `json:"channel,omitempty"`
	Origin                   string              `json:"origin,omitempty"`
	ShopperReference         string              `json:"shopperReference,omitempty"`
	ShopperInteraction       string              `json:"shopperInteraction,omitempty"`
	RecurringProcessingModel string              `json:"recurringProcessingModel,omitempty"`
	StorePaymentMethod       bool                `json:"storePaymentMethod,omitempty"`
	BrowserInfo              json.RawMessage     `json:"browserInfo,omitempty"`
	AuthenticationData       *AuthenticationData `json:"authenticationData,omitempty"`
	AdditionalData           map[string]string   `json:"additionalData,omitempty"`
}

// PaymentResponse is returned by /payments and /payments/details.
type PaymentResponse struct {
	ResultCode        string            `json:"resultCode"`
	PSPReference      string            `json:"pspReference,omitempty"`
	MerchantReference string            `json:"merchantReference,omitempty"`
	RefusalReason     string            `json:"refusalReason,omitempty"`
	RefusalReasonCode string            `json:"refusalReasonCode,omitempty"`
	Amount            *Amount           `json:"amount,omitempty"`
	Action            json.RawMessage   `json:"action,omitempty"`
	AdditionalData    map[string]string `json:"additionalData,omitempty"`
}

// PaymentDetailsRequest is the body of POST /payments/details.
type PaymentDetailsRequest struct {
	Details     map[string]string `json:"details"`
	PaymentData string            `json:"paymentData,omitempty"`
}

// PaymentMethodsRequest is the body of POST /paymentMethods.
type PaymentMethodsRequest struct {
	MerchantAccount  string  `json:"merchantAccount"`
	Channel          string  `json:"channel,omitempty"`
	Amount           *Amount `json:"amount,omitempty"`
	CountryCode      string  `json:"countryCode,omitempty"`
	ShopperLocale    string  `json:"shopperLocale,omitempty"`
	ShopperReference string  `json:"shopperReference,omitempty"`
}

// PaymentMethodsResponse is passed through to the drop-in untouched.
type PaymentMethodsResponse struct {
	PaymentMethods       json.RawMessage `json:"paymentMethods,omitempty"`
	StoredPaymentMethods json.RawMessage `json:"storedPaymentMethods,omitempty"`
}

// APIError is the Checkout API error body for non-2xx responses.
type APIError struct {
	Status       int    `json:"status"`
	ErrorCode    string `json:"errorCode"`
	Message      string `json:"message"`
	ErrorType    string `json:"errorType"`
	PSPReference string `json:"pspReference,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("checkout: %d %s (%s): %s", e.Status, e.ErrorType, e.ErrorCode, e.Message)
}

// Retryable reports whether the same request may succeed if sent again.
func (e *APIError) Retryable() bool {
	return e.Status >= 500 || e.Status == 429
}
