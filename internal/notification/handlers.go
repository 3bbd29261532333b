package notification

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/checkoutkit/internal/logging"
	"github.com/mbd888/checkoutkit/internal/metrics"
)

// Response bodies expected by the processor's delivery system.
const (
	BodyAccepted         = "[accepted]"
	BodyInvalidSignature = "[invalid hmac signature]"
	BodyValidationError  = "[hmac validation error]"
	BodyProcessingError  = "[error processing webhook]"
)

// Handler serves the webhook endpoint.
type Handler struct {
	processor *Processor
	accounts  gin.Accounts
}

// NewHandler creates a webhook handler. When username is non-empty the
// route is protected by HTTP Basic auth.
func NewHandler(processor *Processor, username, password string) *Handler {
	h := &Handler{processor: processor}
	if username != "" {
		h.accounts = gin.Accounts{username: password}
	}
	return h
}

// RegisterRoutes mounts POST /webhooks.
func (h *Handler) RegisterRoutes(r gin.IRoutes) {
	if h.accounts != nil {
		r.POST("/webhooks", gin.BasicAuth(h.accounts), h.Receive)
		return
	}
	r.POST("/webhooks", h.Receive)
}

// Receive handles POST /webhooks
func (h *Handler) Receive(c *gin.Context) {
	ctx := c.Request.Context()
	logger := logging.Or(ctx, h.processor.logger)
	logger.Info("received webhook notification")

	var req Request
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Error("error processing webhook", "error", err)
		h.respond(c, http.StatusInternalServerError, BodyProcessingError)
		return
	}

	res, err := h.processor.Process(ctx, &req)
	switch {
	case err == nil:
		logger.Info("webhook accepted",
			"processed", res.Processed,
			"stored", res.Stored,
			"skipped", res.Skipped,
			"ignored", res.Ignored,
		)
		h.respond(c, http.StatusAccepted, BodyAccepted)
	case errors.Is(err, ErrInvalidSignature):
		h.respond(c, http.StatusBadRequest, BodyInvalidSignature)
	case errors.Is(err, ErrSignatureValidation):
		h.respond(c, http.StatusBadRequest, BodyValidationError)
	default:
		logger.Error("error processing webhook", "error", err)
		h.respond(c, http.StatusInternalServerError, BodyProcessingError)
	}
}

func (h *Handler) respond(c *gin.Context, status int, body string) {
	metrics.NotificationBatchesTotal.WithLabelValues(metrics.StatusBucket(status)).Inc()
	c.String(status, body)
}
