package checkout

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/mbd888/checkoutkit/internal/circuitbreaker"
	"github.com/mbd888/checkoutkit/internal/idgen"
	"github.com/mbd888/checkoutkit/internal/metrics"
	"github.com/mbd888/checkoutkit/internal/retry"
	"github.com/mbd888/checkoutkit/internal/traces"
)

const (
	testBaseURL = "https://checkout-test.adyen.com/" + APIVersion
	liveBaseFmt = "https://%s-checkout-live.adyenpayments.com/checkout/" + APIVersion

	defaultTimeout = 30 * time.Second
)

// BaseURL returns the Checkout endpoint for an environment ("test" or "live").
func BaseURL(environment, livePrefix string) string {
	if strings.EqualFold(environment, "live") {
		return fmt.Sprintf(liveBaseFmt, livePrefix)
	}
	return testBaseURL
}

// Config configures a Client.
type Config struct {
	APIKey      string
	Environment string
	LivePrefix  string
	// BaseURL overrides the environment-derived endpoint (tests, proxies).
	BaseURL string
	Timeout time.Duration
	Retry   retry.Policy
}

// Client calls the Checkout API over HTTPS.
type Client struct {
	http    *resty.Client
	breaker *circuitbreaker.Breaker
	policy  retry.Policy
}

var _ API = (*Client)(nil)

// NewClient builds a Client. A zero Retry policy means DefaultPolicy.
func NewClient(cfg Config) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = BaseURL(cfg.Environment, cfg.LivePrefix)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	policy := cfg.Retry
	if policy.MaxAttempts == 0 {
		policy = retry.DefaultPolicy()
	}

	h := resty.New().
		SetBaseURL(strings.TrimRight(base, "/")).
		SetTimeout(timeout).
		SetHeader("X-API-Key", cfg.APIKey).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &Client{
		http:    h,
		breaker: circuitbreaker.New(5, 30*time.Second),
		policy:  policy,
	}
}

// PaymentMethods lists the payment methods available to the drop-in.
func (c *Client) PaymentMethods(ctx context.Context, req *PaymentMethodsRequest) (*PaymentMethodsResponse, error) {
	var out PaymentMethodsResponse
	if err := c.call(ctx, "paymentMethods", http.MethodPost, "/paymentMethods", req, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Payments submits a payment.
func (c *Client) Payments(ctx context.Context, req *PaymentRequest) (*PaymentResponse, error) {
	var out PaymentResponse
	if err := c.call(ctx, "payments", http.MethodPost, "/payments", req, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PaymentsDetails completes a payment after an action (3DS, redirect).
func (c *Client) PaymentsDetails(ctx context.Context, req *PaymentDetailsRequest) (*PaymentResponse, error) {
	var out PaymentResponse
	if err := c.call(ctx, "paymentsDetails", http.MethodPost, "/payments/details", req, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteStoredPaymentMethod disables a stored payment method for a shopper.
func (c *Client) DeleteStoredPaymentMethod(ctx context.Context, storedPaymentMethodID, shopperReference, merchantAccount string) error {
	if storedPaymentMethodID == "" {
		return errors.New("checkout: stored payment method id is required")
	}
	query := map[string]string{
		"shopperReference": shopperReference,
		"merchantAccount":  merchantAccount,
	}
	return c.call(ctx, "storedPaymentMethods", http.MethodDelete, "/storedPaymentMethods/"+storedPaymentMethodID, nil, query, nil)
}

// Breaker exposes the per-endpoint breaker for health reporting.
func (c *Client) Breaker() *circuitbreaker.Breaker {
	return c.breaker
}

// call performs one logical request. The Idempotency-Key is generated once
// and reused for every attempt so retries cannot double-charge.
func (c *Client) call(ctx context.Context, endpoint, method, path string, body any, query map[string]string, out any) (retErr error) {
	ctx, span := traces.StartSpan(ctx, "checkout."+endpoint, traces.Endpoint(endpoint))
	defer func() { traces.End(span, retErr) }()

	key := idgen.IdempotencyKey()

	policy := c.policy
	policy.ShouldRetry = retryable
	policy.OnRetry = func(int, error, time.Duration) {
		metrics.CheckoutRetriesTotal.WithLabelValues(endpoint).Inc()
	}

	return retry.Do(ctx, policy, func(int) error {
		err := c.breaker.Execute(endpoint, countable, func() error {
			return c.do(ctx, endpoint, method, path, key, body, query, out)
		})
		if errors.Is(err, circuitbreaker.ErrOpen) {
			return ErrCircuitOpen
		}
		return err
	})
}

func (c *Client) do(ctx context.Context, endpoint, method, path, key string, body any, query map[string]string, out any) error {
	var apiErr APIError
	req := c.http.R().
		SetContext(ctx).
		SetHeader("Idempotency-Key", key).
		SetError(&apiErr)
	if body != nil {
		req.SetBody(body)
	}
	if len(query) > 0 {
		req.SetQueryParams(query)
	}
	if out != nil {
		req.SetResult(out)
	}

	start := time.Now()
	resp, err := req.Execute(method, path)
	status := 0
	if resp != nil {
		status = resp.StatusCode()
	}
	metrics.CheckoutRequestDuration.WithLabelValues(endpoint, metrics.StatusBucket(status)).Observe(time.Since(start).Seconds())

	if err != nil {
		return fmt.Errorf("checkout %s: %w", endpoint, err)
	}
	if resp.IsError() {
		if apiErr.Status == 0 {
			apiErr.Status = resp.StatusCode()
		}
		if apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(resp.String())
		}
		return &apiErr
	}
	return nil
}

// countable decides which failures trip the breaker: transport errors and
// upstream 5xx, never client errors.
func countable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= 500
	}
	return !errors.Is(err, context.Canceled)
}

func retryable(err error) bool {
	if errors.Is(err, ErrCircuitOpen) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	return true
}
