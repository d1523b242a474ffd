package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mssola/user_agent"
	"github.com/sirupsen/logrus"

	"github.com/islandtransit/bus-booking-backend/internal/apperrors"
	"github.com/islandtransit/bus-booking-backend/internal/middleware"
	"github.com/islandtransit/bus-booking-backend/internal/models"
	"github.com/islandtransit/bus-booking-backend/internal/services"
	"github.com/islandtransit/bus-booking-backend/internal/utils"
)

// BookingHandler handles order creation, payment confirmation and reads
type BookingHandler struct {
	bookingService *services.BookingService
	logger         *logrus.Logger
}

// NewBookingHandler creates a new BookingHandler
func NewBookingHandler(bookingService *services.BookingService, logger *logrus.Logger) *BookingHandler {
	return &BookingHandler{
		bookingService: bookingService,
		logger:         logger,
	}
}

// ============================================================================
// CREATE ORDER - POST /api/v1/orders
// ============================================================================

// CreateOrder creates an order for the requested seats and initiates payment
// @Summary Create a booking order
// @Description Locks the requested seats, prices them, applies an optional coupon and returns a payment URL
// @Tags Orders
// @Accept json
// @Produce json
// @Param request body models.CreateOrderRequest true "Order request"
// @Success 201 {object} models.CreateOrderResponse
// @Failure 400 {object} map[string]interface{} "Validation error"
// @Failure 409 {object} map[string]interface{} "Seat no longer available"
// @Failure 410 {object} map[string]interface{} "Trip already departed"
// @Router /orders [post]
func (h *BookingHandler) CreateOrder(c *gin.Context) {
	var req models.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	purchaser := models.Purchaser{
		UserID:     middleware.UserIDFromContext(c),
		GuestName:  req.GuestName,
		GuestEmail: req.GuestEmail,
		GuestPhone: req.GuestPhone,
	}
	// authenticated customers get notifications at their token email unless
	// the request names a different contact address
	if purchaser.UserID != nil && purchaser.GuestEmail == nil {
		if email := middleware.EmailFromContext(c); email != "" {
			purchaser.GuestEmail = &email
		}
	}

	response, err := h.bookingService.CreateOrder(purchaser, &req, deviceInfo(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, response)
}

// ============================================================================
// PAYMENT WEBHOOK - POST /api/v1/payments/webhook
// ============================================================================

// PaymentWebhookRequest is the gateway's server-to-server settlement callback.
type PaymentWebhookRequest struct {
	GatewayRef      string `json:"uid" binding:"required"`
	StatusIndicator string `json:"statusIndicator" binding:"required"`
}

// ConfirmPayment applies the gateway's settlement verdict for a payment
// @Summary Payment settlement webhook
// @Tags Orders
// @Accept json
// @Produce json
// @Param request body PaymentWebhookRequest true "Gateway callback"
// @Success 200 {object} models.Order
// @Failure 404 {object} map[string]interface{} "Unknown gateway reference"
// @Router /payments/webhook [post]
func (h *BookingHandler) ConfirmPayment(c *gin.Context) {
	var req PaymentWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	success := req.StatusIndicator == "SUCCESS"
	order, err := h.bookingService.ConfirmPayment(req.GatewayRef, success)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, order)
}

// ============================================================================
// READS - GET /api/v1/orders/:id, GET /api/v1/orders
// ============================================================================

// GetOrder returns an order with its tickets
// @Summary Get order by id
// @Tags Orders
// @Produce json
// @Param id path string true "Order ID"
// @Success 200 {object} models.Order
// @Failure 404 {object} map[string]interface{} "Order not found"
// @Router /orders/{id} [get]
func (h *BookingHandler) GetOrder(c *gin.Context) {
	order, err := h.bookingService.GetOrderByID(c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// GetOrderPayment returns the order's active payment including the unsealed
// gateway response, for support inspection.
// @Summary Get order payment details
// @Tags Orders
// @Produce json
// @Param id path string true "Order ID"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} map[string]interface{} "No active payment"
// @Router /orders/{id}/payment [get]
func (h *BookingHandler) GetOrderPayment(c *gin.Context) {
	payment, raw, err := h.bookingService.GetOrderPayment(c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"payment":          payment,
		"gateway_response": json.RawMessage(raw),
	})
}

// ListOrders returns the caller's orders. Authenticated customers list by
// identity; guests list by the email they booked with.
// @Summary List orders
// @Tags Orders
// @Produce json
// @Param guest_email query string false "Guest email (when unauthenticated)"
// @Param limit query int false "Page size"
// @Param offset query int false "Page offset"
// @Success 200 {array} models.Order
// @Router /orders [get]
func (h *BookingHandler) ListOrders(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	if userID := middleware.UserIDFromContext(c); userID != nil {
		orders, err := h.bookingService.ListOrdersForUser(*userID, limit, offset)
		if err != nil {
			respondError(c, h.logger, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"orders": orders})
		return
	}

	email := c.Query("guest_email")
	if email == "" {
		respondError(c, h.logger, apperrors.Validation("guest_email is required for unauthenticated listing"))
		return
	}
	orders, err := h.bookingService.ListOrdersForGuest(email, limit, offset)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

// deviceInfo captures the purchasing device for fraud review.
func deviceInfo(c *gin.Context) models.JSONB {
	ua := user_agent.New(utils.GetUserAgent(c))
	browser, version := ua.Browser()
	return models.JSONB{
		"ip":              utils.GetRealIP(c),
		"platform":        ua.Platform(),
		"os":              ua.OS(),
		"browser":         browser,
		"browser_version": version,
		"mobile":          ua.Mobile(),
		"bot":             ua.Bot(),
	}
}
