package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/checkoutkit/internal/retry"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(Config{
		APIKey:  "test_key",
		BaseURL: srv.URL,
		Timeout: 2 * time.Second,
		Retry:   retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
	})
}

func TestBaseURL(t *testing.T) {
	assert.Equal(t, "https://checkout-test.adyen.com/v71", BaseURL("test", ""))
	assert.Equal(t, "https://abc123-checkout-live.adyenpayments.com/checkout/v71", BaseURL("live", "abc123"))
	assert.Equal(t, "https://abc123-checkout-live.adyenpayments.com/checkout/v71", BaseURL("LIVE", "abc123"))
}

func TestPayments_SendsHeadersAndBody(t *testing.T) {
	var got PaymentRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/payments", r.URL.Path)
		assert.Equal(t, "test_key", r.Header.Get("X-API-Key"))
		assert.NotEmpty(t, r.Header.Get("Idempotency-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"resultCode":"Authorised","pspReference":"PSP1","merchantReference":"sub_1"}`))
	})

	resp, err := client.Payments(context.Background(), &PaymentRequest{
		MerchantAccount:          "Merchant",
		Amount:                   Amount{Currency: "EUR", Value: 500},
		Reference:                "sub_1",
		PaymentMethod:            PaymentMethod{Type: "scheme", StoredPaymentMethodID: "TOK123"},
		ShopperReference:         "shopper_1",
		ShopperInteraction:       InteractionContAuth,
		RecurringProcessingModel: ProcessingSubscription,
	})
	require.NoError(t, err)
	assert.Equal(t, ResultAuthorised, resp.ResultCode)
	assert.Equal(t, "PSP1", resp.PSPReference)

	assert.Equal(t, "TOK123", got.PaymentMethod.StoredPaymentMethodID)
	assert.Equal(t, "ContAuth", got.ShopperInteraction)
	assert.Equal(t, "Subscription", got.RecurringProcessingModel)
	assert.Equal(t, int64(500), got.Amount.Value)
}

func TestPayments_RetriesServerErrorsWithSameIdempotencyKey(t *testing.T) {
	var (
		mu    sync.Mutex
		keys  []string
		calls atomic.Int32
	)
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		keys = append(keys, r.Header.Get("Idempotency-Key"))
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":503,"errorCode":"000","message":"unavailable","errorType":"internal"}`))
			return
		}
		_, _ = w.Write([]byte(`{"resultCode":"Authorised"}`))
	})

	resp, err := client.Payments(context.Background(), &PaymentRequest{Reference: "r"})
	require.NoError(t, err)
	assert.Equal(t, ResultAuthorised, resp.ResultCode)
	assert.Equal(t, int32(3), calls.Load())

	require.Len(t, keys, 3)
	assert.Equal(t, keys[0], keys[1])
	assert.Equal(t, keys[1], keys[2])
}

func TestPayments_ClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"status":422,"errorCode":"803","message":"PaymentDetails are not found","errorType":"validation"}`))
	})

	_, err := client.Payments(context.Background(), &PaymentRequest{Reference: "r"})
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 422, apiErr.Status)
	assert.Equal(t, "803", apiErr.ErrorCode)
	assert.False(t, apiErr.Retryable())
	assert.Equal(t, int32(1), calls.Load())
}

func TestPayments_NonJSONErrorKeepsStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte("HTTP Status Response - Unauthorized"))
	})

	_, err := client.Payments(context.Background(), &PaymentRequest{})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Contains(t, apiErr.Message, "Unauthorized")
}

func TestClient_CircuitOpensAfterRepeatedFailures(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	})
	client.policy = retry.Policy{MaxAttempts: 1}

	for i := 0; i < 5; i++ {
		_, err := client.PaymentsDetails(context.Background(), &PaymentDetailsRequest{})
		require.Error(t, err)
	}

	_, err := client.PaymentsDetails(context.Background(), &PaymentDetailsRequest{})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, int32(5), calls.Load())

	// other endpoints are unaffected
	_, err = client.Payments(context.Background(), &PaymentRequest{})
	assert.NotErrorIs(t, err, ErrCircuitOpen)
}

func TestPaymentMethods(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/paymentMethods", r.URL.Path)
		var req PaymentMethodsRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "Merchant", req.MerchantAccount)
		assert.Equal(t, ChannelWeb, req.Channel)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"paymentMethods":[{"type":"scheme","name":"Cards"}]}`))
	})

	resp, err := client.PaymentMethods(context.Background(), &PaymentMethodsRequest{MerchantAccount: "Merchant", Channel: ChannelWeb})
	require.NoError(t, err)
	assert.JSONEq(t, `[{"type":"scheme","name":"Cards"}]`, string(resp.PaymentMethods))
}

func TestDeleteStoredPaymentMethod(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/storedPaymentMethods/TOK123", r.URL.Path)
		assert.Equal(t, "shopper_1", r.URL.Query().Get("shopperReference"))
		assert.Equal(t, "Merchant", r.URL.Query().Get("merchantAccount"))
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, client.DeleteStoredPaymentMethod(context.Background(), "TOK123", "shopper_1", "Merchant"))
}

func TestDeleteStoredPaymentMethod_RequiresID(t *testing.T) {
	client := NewClient(Config{APIKey: "k"})
	assert.Error(t, client.DeleteStoredPaymentMethod(context.Background(), "", "shopper_1", "Merchant"))
}

func TestClient_ContextCancelStopsRetries(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})
	client.policy = retry.Policy{MaxAttempts: 5, BaseDelay: time.Second}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Payments(ctx, &PaymentRequest{})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}
