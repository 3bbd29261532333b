package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mbd888/checkoutkit/internal/checkout"
	"github.com/mbd888/checkoutkit/internal/events"
	"github.com/mbd888/checkoutkit/internal/idgen"
	"github.com/mbd888/checkoutkit/internal/logging"
	"github.com/mbd888/checkoutkit/internal/metrics"
	"github.com/mbd888/checkoutkit/internal/syncutil"
	"github.com/mbd888/checkoutkit/internal/tokenstore"
	"github.com/mbd888/checkoutkit/internal/traces"
	"github.com/mbd888/checkoutkit/internal/validation"
)

// Config holds merchant settings for subscription payments.
type Config struct {
	MerchantAccount string
	// ReturnURL receives the shopper after a redirect during Create.
	ReturnURL string
}

// Service implements subscription business logic.
type Service struct {
	store     tokenstore.Store
	payments  PaymentSubmitter
	revoker   StoredMethodRevoker
	publisher events.Publisher
	cfg       Config
	logger    *slog.Logger
	cancels   *syncutil.KeyLock
}

// NewService creates a subscription service. The checkout client usually
// serves as both payments and revoker.
func NewService(store tokenstore.Store, payments PaymentSubmitter, revoker StoredMethodRevoker, publisher events.Publisher, cfg Config, logger *slog.Logger) *Service {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     store,
		payments:  payments,
		revoker:   revoker,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
		cancels:   syncutil.NewKeyLock(),
	}
}

// Create sends a zero-value authorization that asks the processor to store
// the card for subscription use. The token arrives later via webhook; nothing
// is written to the store here.
func (s *Service) Create(ctx context.Context, req CreateRequest) (res *CreateResult, retErr error) {
	shopperRef := validation.NormalizeReference(req.ShopperReference)
	if shopperRef == "" {
		shopperRef = idgen.WithPrefix(shopperRefPrefix)
	}

	ctx, span := traces.StartSpan(ctx, "subscription.Create", traces.ShopperReference(shopperRef))
	defer func() {
		metrics.SubscriptionOpsTotal.WithLabelValues("create", metrics.Result(retErr)).Inc()
		traces.End(span, retErr)
	}()

	reference := idgen.WithPrefix(createRefPrefix)
	payment := &checkout.PaymentRequest{
		MerchantAccount:          s.cfg.MerchantAccount,
		Amount:                   checkout.Amount{Currency: ChargeCurrency, Value: 0},
		Reference:                reference,
		PaymentMethod:            req.PaymentMethod,
		ReturnURL:                s.cfg.ReturnURL,
		Channel:                  checkout.ChannelWeb,
		Origin:                   req.Origin,
		BrowserInfo:              req.BrowserInfo,
		ShopperReference:         shopperRef,
		ShopperInteraction:       checkout.InteractionEcommerce,
		RecurringProcessingModel: checkout.ProcessingSubscription,
		StorePaymentMethod:       true,
	}

	logger := logging.Or(ctx, s.logger)
	logger.Info("creating subscription", "shopper_reference", shopperRef, "merchant_reference", reference)

	resp, err := s.payments.Payments(ctx, payment)
	if err != nil {
		logger.Error("subscription create failed", "shopper_reference", shopperRef, "error", err)
		return nil, fmt.Errorf("create subscription: %w", err)
	}

	logger.Info("subscription create result",
		"shopper_reference", shopperRef,
		"result_code", resp.ResultCode,
		"psp_reference", resp.PSPReference,
	)
	return &CreateResult{ShopperReference: shopperRef, Response: resp}, nil
}

// Charge makes a merchant-initiated payment with the shopper's stored token.
// Errors from the processor are returned as-is; nothing is retried here.
func (s *Service) Charge(ctx context.Context, shopperReference string) (res *ChargeResult, retErr error) {
	shopperReference = validation.NormalizeReference(shopperReference)
	ctx, span := traces.StartSpan(ctx, "subscription.Charge", traces.ShopperReference(shopperReference))
	defer func() {
		metrics.SubscriptionOpsTotal.WithLabelValues("charge", chargeOutcome(retErr)).Inc()
		traces.End(span, retErr)
	}()

	if shopperReference == "" {
		return nil, ErrShopperReferenceRequired
	}

	tok, err := s.store.Get(ctx, shopperReference)
	if errors.Is(err, tokenstore.ErrTokenNotFound) {
		return nil, ErrNoToken
	}
	if err != nil {
		return nil, fmt.Errorf("load token: %w", err)
	}

	reference := idgen.WithPrefix(chargeRefPrefix)
	logger := logging.Or(ctx, s.logger)
	logger.Info("charging subscription",
		"shopper_reference", shopperReference,
		"merchant_reference", reference,
		"token", logging.Redact(tok.RecurringDetailReference),
	)

	resp, err := s.payments.Payments(ctx, &checkout.PaymentRequest{
		MerchantAccount: s.cfg.MerchantAccount,
		Amount:          checkout.Amount{Currency: ChargeCurrency, Value: ChargeValue},
		Reference:       reference,
		PaymentMethod: checkout.PaymentMethod{
			Type:                  "scheme",
			StoredPaymentMethodID: tok.RecurringDetailReference,
		},
		ShopperReference:         shopperReference,
		ShopperInteraction:       checkout.InteractionContAuth,
		RecurringProcessingModel: checkout.ProcessingSubscription,
	})
	if err != nil {
		logger.Error("subscription charge failed", "shopper_reference", shopperReference, "error", err)
		return nil, fmt.Errorf("charge subscription: %w", err)
	}

	merchantRef := resp.MerchantReference
	if merchantRef == "" {
		merchantRef = reference
	}
	traces.Annotate(ctx,
		traces.ResultCode(resp.ResultCode),
		traces.PSPReference(resp.PSPReference),
		traces.MerchantReference(merchantRef),
	)
	logger.Info("subscription charge result",
		"shopper_reference", shopperReference,
		"result_code", resp.ResultCode,
		"psp_reference", resp.PSPReference,
	)
	return &ChargeResult{
		ResultCode:        resp.ResultCode,
		PSPReference:      resp.PSPReference,
		MerchantReference: merchantRef,
	}, nil
}

// Cancel removes the shopper's token. The upstream revoke is best effort:
// its failure is logged and counted but the local delete always proceeds.
func (s *Service) Cancel(ctx context.Context, shopperReference string) (res *CancelResult, retErr error) {
	shopperReference = validation.NormalizeReference(shopperReference)
	ctx, span := traces.StartSpan(ctx, "subscription.Cancel", traces.ShopperReference(shopperReference))
	defer func() {
		metrics.SubscriptionOpsTotal.WithLabelValues("cancel", metrics.Result(retErr)).Inc()
		traces.End(span, retErr)
	}()

	if shopperReference == "" {
		return nil, ErrShopperReferenceRequired
	}

	logger := logging.Or(ctx, s.logger)

	// one revoke per shopper at a time
	unlock, err := s.cancels.Lock(ctx, shopperReference)
	if err != nil {
		return nil, err
	}
	defer unlock()

	tok, err := s.store.Get(ctx, shopperReference)
	if errors.Is(err, tokenstore.ErrTokenNotFound) {
		logger.Info("no subscription to cancel", "shopper_reference", shopperReference)
		return &CancelResult{Success: false, Message: msgNoSubscription}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load token: %w", err)
	}

	if s.revoker != nil {
		if err := s.revoker.DeleteStoredPaymentMethod(ctx, tok.RecurringDetailReference, shopperReference, s.cfg.MerchantAccount); err != nil {
			metrics.RevocationFailuresTotal.Inc()
			logger.Warn("upstream token revocation failed, deleting locally",
				"shopper_reference", shopperReference,
				"error", err,
			)
		}
	}

	deleted, err := s.store.Delete(ctx, shopperReference)
	if err != nil {
		return nil, fmt.Errorf("delete token: %w", err)
	}
	if !deleted {
		logger.Info("subscription already cancelled", "shopper_reference", shopperReference)
		return &CancelResult{Success: false, Message: msgAlreadyGone}, nil
	}

	if err := s.publisher.Publish(ctx, events.New(events.TypeTokenRevoked, shopperReference)); err != nil {
		logger.Warn("publish token event failed", "type", events.TypeTokenRevoked, "error", err)
	}
	logger.Info("subscription cancelled", "shopper_reference", shopperReference)
	return &CancelResult{Success: true, Message: msgCancelled}, nil
}

func chargeOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrShopperReferenceRequired), errors.Is(err, ErrNoToken):
		return "rejected"
	default:
		return "error"
	}
}
