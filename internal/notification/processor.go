package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mbd888/checkoutkit/internal/events"
	"github.com/mbd888/checkoutkit/internal/logging"
	"github.com/mbd888/checkoutkit/internal/metrics"
	"github.com/mbd888/checkoutkit/internal/tokenstore"
	"github.com/mbd888/checkoutkit/internal/traces"
)

var (
	// ErrInvalidSignature means an item's signature did not match. The
	// whole batch is rejected.
	ErrInvalidSignature = errors.New("notification: invalid hmac signature")
	// ErrSignatureValidation means a signature could not be checked.
	ErrSignatureValidation = errors.New("notification: hmac validation error")
)

// Result summarizes a processed batch.
type Result struct {
	Processed int `json:"processed"`
	Stored    int `json:"stored"`
	Skipped   int `json:"skipped"`
	Ignored   int `json:"ignored"`
}

// Processor applies notification batches to the token store.
type Processor struct {
	store     tokenstore.Store
	validator Validator
	publisher events.Publisher
	logger    *slog.Logger
}

// NewProcessor wires a processor. A nil validator disables authentication;
// a nil publisher drops events.
func NewProcessor(store tokenstore.Store, validator Validator, publisher events.Publisher, logger *slog.Logger) *Processor {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{store: store, validator: validator, publisher: publisher, logger: logger}
}

// Authenticated reports whether items are checked against an HMAC key.
func (p *Processor) Authenticated() bool {
	return p.validator != nil
}

// Process handles the items in order. Authentication failures and store
// errors stop the batch; items handled before the failure stay applied.
func (p *Processor) Process(ctx context.Context, req *Request) (res *Result, retErr error) {
	items := req.Items()
	ctx, span := traces.StartSpan(ctx, "notification.Process", traces.BatchSize(len(items)))
	defer func() { traces.End(span, retErr) }()

	logger := logging.Or(ctx, p.logger).With("component", "notification")

	res = &Result{}
	for _, item := range items {
		if err := p.authenticate(logger, item); err != nil {
			metrics.NotificationItemsTotal.WithLabelValues(string(item.EventCode), "rejected").Inc()
			traces.ItemEvent(ctx, string(item.EventCode), item.PSPReference, "rejected")
			return res, err
		}

		logger.Info("processing notification",
			"event_code", item.EventCode,
			"psp_reference", item.PSPReference,
			"success", item.Succeeded(),
		)

		outcome, err := p.dispatch(ctx, logger, item)
		metrics.NotificationItemsTotal.WithLabelValues(string(item.EventCode), outcome).Inc()
		traces.ItemEvent(ctx, string(item.EventCode), item.PSPReference, outcome)
		if err != nil {
			return res, err
		}

		res.Processed++
		switch outcome {
		case "stored":
			res.Stored++
		case "skipped":
			res.Skipped++
		case "ignored":
			res.Ignored++
		}
	}
	return res, nil
}

func (p *Processor) authenticate(logger *slog.Logger, item *Item) error {
	if p.validator == nil {
		return nil
	}
	ok, err := p.validator.Validate(item)
	if err != nil {
		logger.Error("hmac validation failed", "psp_reference", item.PSPReference, "error", err)
		return fmt.Errorf("%w: %v", ErrSignatureValidation, err)
	}
	if !ok {
		logger.Error("invalid hmac signature", "psp_reference", item.PSPReference)
		return ErrInvalidSignature
	}
	return nil
}

func (p *Processor) dispatch(ctx context.Context, logger *slog.Logger, item *Item) (string, error) {
	switch item.EventCode.Kind() {
	case KindTokenization:
		return p.handleRecurringContract(ctx, logger, item)
	case KindAuthorisation:
		p.handleAuthorisation(logger, item)
		return "logged", nil
	default:
		logger.Info("unhandled notification event code", "event_code", item.EventCode)
		return "ignored", nil
	}
}

func (p *Processor) handleRecurringContract(ctx context.Context, logger *slog.Logger, item *Item) (string, error) {
	if !item.Succeeded() {
		logger.Warn("recurring contract failed",
			"psp_reference", item.PSPReference,
			"reason", item.Reason,
		)
		return "skipped", nil
	}

	// blank values would be rejected by the store and fail the whole batch
	token := strings.TrimSpace(item.additional(KeyRecurringDetailReference))
	shopperRef := strings.TrimSpace(item.additional(KeyRecurringShopperRef))
	if token == "" || shopperRef == "" {
		logger.Warn("recurring contract missing data",
			"psp_reference", item.PSPReference,
			"has_shopper_reference", shopperRef != "",
			"has_recurring_detail_reference", token != "",
		)
		return "skipped", nil
	}

	if err := p.store.Put(ctx, shopperRef, token); err != nil {
		return "error", fmt.Errorf("store token for %s: %w", shopperRef, err)
	}
	logger.Info("stored recurring token",
		"shopper_reference", shopperRef,
		"token", logging.Redact(token),
	)

	e := events.New(events.TypeTokenStored, shopperRef)
	e.PSPReference = item.PSPReference
	if err := p.publisher.Publish(ctx, e); err != nil {
		logger.Warn("publish token event failed", "type", e.Type, "error", err)
	}
	return "stored", nil
}

func (p *Processor) handleAuthorisation(logger *slog.Logger, item *Item) {
	if item.Succeeded() {
		logger.Info("authorisation succeeded",
			"psp_reference", item.PSPReference,
			"amount", item.Amount.Value,
			"currency", item.Amount.Currency,
			"merchant_reference", item.MerchantReference,
		)
		return
	}
	logger.Warn("authorisation failed",
		"psp_reference", item.PSPReference,
		"reason", item.Reason,
		"merchant_reference", item.MerchantReference,
	)
}
