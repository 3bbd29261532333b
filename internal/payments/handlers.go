package payments

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/checkoutkit/internal/checkout"
	"github.com/mbd888/checkoutkit/internal/idgen"
	"github.com/mbd888/checkoutkit/internal/logging"
	"github.com/mbd888/checkoutkit/internal/validation"
)

// Config holds merchant settings for the checkout flow.
type Config struct {
	MerchantAccount string
	// BaseURL is the public address of this service, used for returnUrl.
	BaseURL string
}

// Handler provides the checkout HTTP endpoints.
type Handler struct {
	client checkout.API
	cfg    Config
	logger *slog.Logger
}

// NewHandler creates a new payments handler.
func NewHandler(client checkout.API, cfg Config, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Handler{client: client, cfg: cfg, logger: logger}
}

// RegisterRoutes mounts the public pages and the /api group.
func (h *Handler) RegisterRoutes(root gin.IRoutes, api *gin.RouterGroup) {
	root.GET("/hello-world", h.HelloWorld)
	root.GET("/handleShopperRedirect", h.HandleShopperRedirect)
	root.GET("/result/:type", h.ResultPage)

	api.POST("/paymentMethods", h.PaymentMethods)
	api.POST("/payments", h.Payments)
	api.POST("/payments/details", h.PaymentsDetails)
}

// ReturnURL is where the shopper comes back after a redirect.
func (h *Handler) ReturnURL() string {
	return h.cfg.BaseURL + "/handleShopperRedirect"
}

// HelloWorld handles GET /hello-world
func (h *Handler) HelloWorld(c *gin.Context) {
	c.String(http.StatusOK, Greeting)
}

// PaymentMethods handles POST /api/paymentMethods
func (h *Handler) PaymentMethods(c *gin.Context) {
	resp, err := h.client.PaymentMethods(c.Request.Context(), &checkout.PaymentMethodsRequest{
		MerchantAccount: h.cfg.MerchantAccount,
		Channel:         checkout.ChannelWeb,
	})
	if err != nil {
		h.upstreamError(c, "paymentMethods", err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Payments handles POST /api/payments
func (h *Handler) Payments(c *gin.Context) {
	var req PaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if err := validation.Struct(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	reference := idgen.WithPrefix("order_")
	resp, err := h.client.Payments(c.Request.Context(), &checkout.PaymentRequest{
		MerchantAccount: h.cfg.MerchantAccount,
		Amount:          checkout.Amount{Currency: OrderCurrency, Value: OrderValue},
		Reference:       reference,
		PaymentMethod:   req.PaymentMethod,
		ReturnURL:       h.ReturnURL(),
		Channel:         checkout.ChannelWeb,
		Origin:          req.Origin,
		BrowserInfo:     req.BrowserInfo,
		AuthenticationData: &checkout.AuthenticationData{
			ThreeDSRequestData: &checkout.ThreeDSRequestData{NativeThreeDS: "preferred"},
		},
	})
	if err != nil {
		h.upstreamError(c, "payments", err)
		return
	}

	logging.Or(c.Request.Context(), h.logger).Info("payment submitted",
		"merchant_reference", reference,
		"result_code", resp.ResultCode,
		"psp_reference", resp.PSPReference,
	)
	c.JSON(http.StatusOK, resp)
}

// PaymentsDetails handles POST /api/payments/details
func (h *Handler) PaymentsDetails(c *gin.Context) {
	var req checkout.PaymentDetailsRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Details) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "details are required"})
		return
	}

	resp, err := h.client.PaymentsDetails(c.Request.Context(), &req)
	if err != nil {
		h.upstreamError(c, "paymentsDetails", err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandleShopperRedirect handles GET /handleShopperRedirect
func (h *Handler) HandleShopperRedirect(c *gin.Context) {
	details := map[string]string{}
	if v := c.Query("redirectResult"); v != "" {
		details["redirectResult"] = v
	}
	if v := c.Query("payload"); v != "" {
		details["payload"] = v
	}
	if len(details) == 0 {
		c.Redirect(http.StatusFound, "/result/"+ResultError)
		return
	}

	resp, err := h.client.PaymentsDetails(c.Request.Context(), &checkout.PaymentDetailsRequest{Details: details})
	if err != nil {
		logging.Or(c.Request.Context(), h.logger).Error("redirect details failed", "error", err)
		c.Redirect(http.StatusFound, "/result/"+ResultError)
		return
	}
	c.Redirect(http.StatusFound, "/result/"+ResultPage(resp.ResultCode))
}

// ResultPage handles GET /result/:type
func (h *Handler) ResultPage(c *gin.Context) {
	switch t := c.Param("type"); t {
	case ResultSuccess, ResultPending, ResultFailed, ResultError:
		c.JSON(http.StatusOK, gin.H{"result": t})
	default:
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Unknown result page"})
	}
}

func (h *Handler) upstreamError(c *gin.Context, endpoint string, err error) {
	logging.Or(c.Request.Context(), h.logger).Error("checkout call failed", "endpoint", endpoint, "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
