package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/islandtransit/bus-booking-backend/internal/models"
	"github.com/islandtransit/bus-booking-backend/internal/services"
)

// RefundHandler handles ticket refund and cancellation endpoints
type RefundHandler struct {
	refundService *services.RefundService
	logger        *logrus.Logger
}

// NewRefundHandler creates a new RefundHandler
func NewRefundHandler(refundService *services.RefundService, logger *logrus.Logger) *RefundHandler {
	return &RefundHandler{
		refundService: refundService,
		logger:        logger,
	}
}

// ============================================================================
// REFUND TICKETS - POST /api/v1/orders/:id/refund
// ============================================================================

// RefundTickets refunds booked tickets on an order
// @Summary Refund tickets
// @Description Refunds the targeted booked tickets through the payment gateway and releases their seats
// @Tags Refunds
// @Accept json
// @Produce json
// @Param id path string true "Order ID"
// @Param request body models.RefundTicketsRequest true "Tickets to refund"
// @Success 200 {object} models.Order
// @Failure 404 {object} map[string]interface{} "Order or ticket not found"
// @Failure 422 {object} map[string]interface{} "Ticket not refundable"
// @Failure 502 {object} map[string]interface{} "Gateway refund failed"
// @Router /orders/{id}/refund [post]
func (h *RefundHandler) RefundTickets(c *gin.Context) {
	var req models.RefundTicketsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	order, err := h.refundService.RefundTickets(c.Param("id"), req.TicketIDs, req.Reason)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, order)
}

// ============================================================================
// CANCEL TICKETS - POST /api/v1/orders/:id/cancel
// ============================================================================

// CancelTickets cancels tickets, refunding when the order is paid
// @Summary Cancel tickets
// @Description Voids unpaid tickets or routes paid tickets through the refund path
// @Tags Refunds
// @Accept json
// @Produce json
// @Param id path string true "Order ID"
// @Param request body models.CancelTicketsRequest true "Tickets to cancel"
// @Success 200 {object} models.Order
// @Failure 404 {object} map[string]interface{} "Order or ticket not found"
// @Failure 422 {object} map[string]interface{} "Ticket not cancellable"
// @Router /orders/{id}/cancel [post]
func (h *RefundHandler) CancelTickets(c *gin.Context) {
	var req models.CancelTicketsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	order, err := h.refundService.CancelTickets(c.Param("id"), req.TicketIDs)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, order)
}
