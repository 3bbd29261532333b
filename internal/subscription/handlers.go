package subscription

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/checkoutkit/internal/validation"
)

// ShopperReferenceHeader carries the shopper reference used by Create.
const ShopperReferenceHeader = "X-Shopper-Reference"

// Handler provides HTTP endpoints for subscriptions.
type Handler struct {
	service *Service
}

// NewHandler creates a new subscription handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up subscription routes on the /api group.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/subscription-create", h.Create)
	r.POST("/subscription-payment", h.Charge)
	r.POST("/subscription-cancel", h.Cancel)
}

type shopperRequest struct {
	ShopperReference string `json:"shopperReference" validate:"omitempty,reference"`
}

// bindShopper reads the shopper reference. A missing or unreadable body
// yields an empty reference, which the service reports as required.
func bindShopper(c *gin.Context) (string, error) {
	var req shopperRequest
	_ = c.ShouldBindJSON(&req)
	req.ShopperReference = validation.NormalizeReference(req.ShopperReference)
	if err := validation.Struct(req); err != nil {
		return "", err
	}
	return req.ShopperReference, nil
}

// Create handles POST /api/subscription-create
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	req.ShopperReference = validation.NormalizeReference(req.ShopperReference)
	if err := validation.Struct(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.Header(ShopperReferenceHeader, res.ShopperReference)
	c.JSON(http.StatusOK, res.Response)
}

// Charge handles POST /api/subscription-payment
func (h *Handler) Charge(c *gin.Context) {
	ref, err := bindShopper(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.service.Charge(c.Request.Context(), ref)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, res)
	case errors.Is(err, ErrShopperReferenceRequired), errors.Is(err, ErrNoToken):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// Cancel handles POST /api/subscription-cancel
func (h *Handler) Cancel(c *gin.Context) {
	ref, err := bindShopper(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	res, err := h.service.Cancel(c.Request.Context(), ref)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, res)
	case errors.Is(err, ErrShopperReferenceRequired):
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
	}
}
