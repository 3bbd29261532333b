package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/checkoutkit/internal/checkout"
	"github.com/mbd888/checkoutkit/internal/config"
	"github.com/mbd888/checkoutkit/internal/events"
	"github.com/mbd888/checkoutkit/internal/health"
	"github.com/mbd888/checkoutkit/internal/logging"
	"github.com/mbd888/checkoutkit/internal/notification"
	"github.com/mbd888/checkoutkit/internal/tokenstore"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testHMACKey = "44782DEF547AAA06C910C43932B1EB0C71FC68D9D0C057550C48EC2ACF6BA056"

// mockCheckout implements checkout.API for testing
type mockCheckout struct {
	mu        sync.Mutex
	payments  []*checkout.PaymentRequest
	revoked   []string
	revokeErr error
}

func (m *mockCheckout) PaymentMethods(context.Context, *checkout.PaymentMethodsRequest) (*checkout.PaymentMethodsResponse, error) {
	return &checkout.PaymentMethodsResponse{PaymentMethods: json.RawMessage(`[]`)}, nil
}

func (m *mockCheckout) Payments(_ context.Context, req *checkout.PaymentRequest) (*checkout.PaymentResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payments = append(m.payments, req)
	return &checkout.PaymentResponse{ResultCode: checkout.ResultAuthorised, PSPReference: "PSP-MOCK", MerchantReference: req.Reference}, nil
}

func (m *mockCheckout) PaymentsDetails(context.Context, *checkout.PaymentDetailsRequest) (*checkout.PaymentResponse, error) {
	return &checkout.PaymentResponse{ResultCode: checkout.ResultAuthorised}, nil
}

func (m *mockCheckout) DeleteStoredPaymentMethod(_ context.Context, id, _, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revoked = append(m.revoked, id)
	return m.revokeErr
}

type capturePublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (c *capturePublisher) Publish(_ context.Context, e events.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return nil
}

// testConfig returns a minimal config for testing
func testConfig() *config.Config {
	return &config.Config{
		Port:                 "0",
		Env:                  "development",
		LogLevel:             "error",
		LogFormat:            "json",
		BaseURL:              "http://localhost:8080",
		AdyenAPIKey:          "test_api_key",
		AdyenMerchantAccount: "TestMerchant",
		AdyenClientKey:       "test_client_key",
		AdyenHMACKey:         testHMACKey,
		AdyenEnvironment:     "test",
		RateLimitRPM:         6000,
	}
}

type testServer struct {
	*Server
	checkout  *mockCheckout
	publisher *capturePublisher
}

// newTestServer creates a server with mock dependencies
func newTestServer(t *testing.T, mutate ...func(*config.Config)) *testServer {
	t.Helper()
	cfg := testConfig()
	for _, m := range mutate {
		m(cfg)
	}
	mc := &mockCheckout{}
	pub := &capturePublisher{}
	s, err := New(cfg, WithCheckout(mc), WithPublisher(pub), WithLogger(logging.Discard()))
	require.NoError(t, err)
	t.Cleanup(func() { s.rateLimiter.Stop() })
	return &testServer{Server: s, checkout: mc, publisher: pub}
}

func (ts *testServer) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	ts.Router().ServeHTTP(w, req)
	return w
}

func recurringContract(t *testing.T, shopperRef, token string) string {
	t.Helper()
	item := notification.Item{
		PSPReference:        "PSP-RC",
		MerchantAccountCode: "TestMerchant",
		MerchantReference:   "sub_create_1",
		Amount:              notification.Amount{Currency: "EUR", Value: 0},
		EventCode:           notification.EventRecurringContract,
		Success:             "true",
		AdditionalData: map[string]string{
			notification.KeyRecurringDetailReference: token,
			notification.KeyRecurringShopperRef:      shopperRef,
		},
	}
	sig, err := notification.NewHMACValidator(testHMACKey).Sign(&item)
	require.NoError(t, err)
	item.AdditionalData[notification.KeyHMACSignature] = sig

	body, err := json.Marshal(notification.Request{
		Live:              "false",
		NotificationItems: []notification.ItemWrapper{{Item: item}},
	})
	require.NoError(t, err)
	return string(body)
}

func TestHealthEndpoints(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)

	w = ts.do(http.MethodGet, "/health/live", "")
	assert.Equal(t, http.StatusOK, w.Code)

	// not ready until Run
	w = ts.do(http.MethodGet, "/health/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	ts.ready.Store(true)
	w = ts.do(http.MethodGet, "/health/ready", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHealthDegraded(t *testing.T) {
	ts := newTestServer(t)
	ts.health.Register("broker", func(context.Context) health.Status {
		return health.Status{Name: "broker", Healthy: false, Detail: "down"}
	})

	w := ts.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "degraded")
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.do(http.MethodGet, "/hello-world", "")

	w := ts.do(http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "checkoutkit_http_requests_total")
}

func TestRequestIDAndSecurityHeaders(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/hello-world", nil)
	req.Header.Set("X-Request-ID", "req-fixed")
	w := httptest.NewRecorder()
	ts.Router().ServeHTTP(w, req)

	assert.Equal(t, "req-fixed", w.Header().Get("X-Request-ID"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, w.Header().Get("Content-Security-Policy"))

	w = ts.do(http.MethodGet, "/hello-world", "")
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestClientConfig(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodGet, "/api/config", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"clientKey":"test_client_key","environment":"test"}`, w.Body.String())
}

func TestSubscriptionLifecycle(t *testing.T) {
	ts := newTestServer(t)

	// 1. create: zero-value auth, nothing stored yet
	w := ts.do(http.MethodPost, "/api/subscription-create", `{"shopperReference":"shopper_1","paymentMethod":{"type":"scheme","encryptedCardNumber":"enc"}}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "shopper_1", w.Header().Get("X-Shopper-Reference"))

	w = ts.do(http.MethodPost, "/api/subscription-payment", `{"shopperReference":"shopper_1"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"No recurring token found for this shopper"}`, w.Body.String())

	// 2. processor confirms the recurring contract
	w = ts.do(http.MethodPost, "/webhooks", recurringContract(t, "shopper_1", "TOK123"))
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "[accepted]", w.Body.String())

	tok, err := ts.Store().Get(context.Background(), "shopper_1")
	require.NoError(t, err)
	assert.Equal(t, "TOK123", tok.RecurringDetailReference)

	// 3. charge twice with the stored token
	for i := 0; i < 2; i++ {
		w = ts.do(http.MethodPost, "/api/subscription-payment", `{"shopperReference":"shopper_1"}`)
		require.Equal(t, http.StatusOK, w.Code)
		var charge map[string]string
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &charge))
		assert.Equal(t, "Authorised", charge["resultCode"])
		assert.Equal(t, "PSP-MOCK", charge["pspReference"])
	}
	last := ts.checkout.payments[len(ts.checkout.payments)-1]
	assert.Equal(t, "TOK123", last.PaymentMethod.StoredPaymentMethodID)
	assert.Equal(t, int64(500), last.Amount.Value)

	// 4. cancel, even though the upstream revoke fails
	ts.checkout.revokeErr = errors.New("upstream unavailable")
	w = ts.do(http.MethodPost, "/api/subscription-cancel", `{"shopperReference":"shopper_1"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"success":true`)
	assert.Equal(t, []string{"TOK123"}, ts.checkout.revoked)

	w = ts.do(http.MethodPost, "/api/subscription-payment", `{"shopperReference":"shopper_1"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(http.MethodPost, "/api/subscription-cancel", `{"shopperReference":"shopper_1"}`)
	assert.JSONEq(t, `{"success":false,"message":"No active subscription found for this shopper"}`, w.Body.String())

	types := []string{}
	for _, e := range ts.publisher.events {
		types = append(types, e.Type)
	}
	assert.Equal(t, []string{events.TypeTokenStored, events.TypeTokenRevoked}, types)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	ts := newTestServer(t)

	// merchantReference is part of the signed payload
	body := strings.Replace(recurringContract(t, "shopper_1", "TOK123"), `"sub_create_1"`, `"sub_create_2"`, 1)
	w := ts.do(http.MethodPost, "/webhooks", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "[invalid hmac signature]", w.Body.String())

	ok, err := ts.Store().Exists(context.Background(), "shopper_1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWebhookBasicAuth(t *testing.T) {
	ts := newTestServer(t, func(c *config.Config) {
		c.WebhookUsername = "adyen"
		c.WebhookPassword = "secret"
	})
	body := recurringContract(t, "shopper_1", "TOK123")

	w := ts.do(http.MethodPost, "/webhooks", body)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/webhooks", strings.NewReader(body))
	req.SetBasicAuth("adyen", "secret")
	w = httptest.NewRecorder()
	ts.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestWebhookWithoutHMACKey(t *testing.T) {
	ts := newTestServer(t, func(c *config.Config) { c.AdyenHMACKey = "" })

	body := strings.Replace(recurringContract(t, "shopper_1", "TOK123"), `"TOK123"`, `"TOK999"`, 1)
	w := ts.do(http.MethodPost, "/webhooks", body)
	require.Equal(t, http.StatusAccepted, w.Code)

	tok, err := ts.Store().Get(context.Background(), "shopper_1")
	require.NoError(t, err)
	assert.Equal(t, "TOK999", tok.RecurringDetailReference)
}

func TestPaymentsRoutes(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodGet, "/hello-world", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = ts.do(http.MethodPost, "/api/paymentMethods", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = ts.do(http.MethodPost, "/api/payments", `{"paymentMethod":{"type":"scheme"}}`)
	assert.Equal(t, http.StatusOK, w.Code)

	w = ts.do(http.MethodGet, "/handleShopperRedirect?redirectResult=abc", "")
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/result/success", w.Header().Get("Location"))
}

func TestDefaultsToMemoryStore(t *testing.T) {
	ts := newTestServer(t)
	_, ok := ts.Store().(*tokenstore.MemoryStore)
	assert.True(t, ok)
}

func TestHealthReportsMemoryTokenCount(t *testing.T) {
	ts := newTestServer(t)
	require.NoError(t, ts.Store().Put(context.Background(), "shopper_1", "TOK1"))

	w := ts.do(http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	var found bool
	for _, st := range resp.Checks {
		if st.Name == "tokenstore" {
			found = true
			assert.True(t, st.Healthy)
			assert.Equal(t, "memory, 1 tokens", st.Detail)
		}
	}
	assert.True(t, found, "tokenstore check missing: %s", w.Body.String())
}

func TestMaskDSN(t *testing.T) {
	masked := maskDSN("postgres://user:pw@db:5432/app")
	assert.NotContains(t, masked, ":pw@")
	assert.Contains(t, masked, "db:5432/app")
	assert.Equal(t, "redis://db:6379/0", maskDSN("redis://db:6379/0"))
}
