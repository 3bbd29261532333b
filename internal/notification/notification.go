// Package notification receives Adyen webhook notifications, authenticates
// each item by HMAC and turns RECURRING_CONTRACT items into stored tokens.
package notification

import (
	"strings"
)

// Additional data keys carried on notification items.
const (
	KeyHMACSignature            = "hmacSignature"
	KeyRecurringDetailReference = "recurring.recurringDetailReference"
	KeyRecurringShopperRef      = "recurring.shopperReference"
)

// EventCode is the processor's event code. The set is open; unknown codes
// are accepted and ignored.
type EventCode string

const (
	EventAuthorisation     EventCode = "AUTHORISATION"
	EventRecurringContract EventCode = "RECURRING_CONTRACT"
	EventCancellation      EventCode = "CANCELLATION"
	EventCapture           EventCode = "CAPTURE"
	EventCaptureFailed     EventCode = "CAPTURE_FAILED"
	EventRefund            EventCode = "REFUND"
	EventRefundFailed      EventCode = "REFUND_FAILED"
	EventChargeback        EventCode = "CHARGEBACK"
	EventReportAvailable   EventCode = "REPORT_AVAILABLE"
)

// Kind groups event codes by how they are handled.
type Kind int

const (
	KindUnhandled Kind = iota
	KindTokenization
	KindAuthorisation
)

func (k Kind) String() string {
	switch k {
	case KindTokenization:
		return "tokenization"
	case KindAuthorisation:
		return "authorisation"
	default:
		return "unhandled"
	}
}

// Kind maps the code to its handling category.
func (c EventCode) Kind() Kind {
	switch c {
	case EventRecurringContract:
		return KindTokenization
	case EventAuthorisation:
		return KindAuthorisation
	default:
		return KindUnhandled
	}
}

// Request is the body Adyen POSTs to the webhook endpoint.
type Request struct {
	Live              string        `json:"live"`
	NotificationItems []ItemWrapper `json:"notificationItems"`
}

// ItemWrapper mirrors Adyen's {"NotificationRequestItem": {...}} nesting.
type ItemWrapper struct {
	Item Item `json:"NotificationRequestItem"`
}

// Amount is a value in minor units.
type Amount struct {
	Currency string `json:"currency"`
	Value    int64  `json:"value"`
}

// Item is a single notification.
type Item struct {
	AdditionalData      map[string]string `json:"additionalData,omitempty"`
	Amount              Amount            `json:"amount"`
	EventCode           EventCode         `json:"eventCode"`
	EventDate           string            `json:"eventDate,omitempty"`
	MerchantAccountCode string            `json:"merchantAccountCode"`
	MerchantReference   string            `json:"merchantReference"`
	OriginalReference   string            `json:"originalReference,omitempty"`
	PSPReference        string            `json:"pspReference"`
	Reason              string            `json:"reason,omitempty"`
	Success             string            `json:"success"`
}

// Succeeded parses the "true"/"false" success flag.
func (it *Item) Succeeded() bool {
	return strings.EqualFold(strings.TrimSpace(it.Success), "true")
}

// Items unwraps the notification items in order.
func (r *Request) Items() []*Item {
	out := make([]*Item, len(r.NotificationItems))
	for i := range r.NotificationItems {
		out[i] = &r.NotificationItems[i].Item
	}
	return out
}

func (it *Item) additional(key string) string {
	if it.AdditionalData == nil {
		return ""
	}
	return it.AdditionalData[key]
}
