package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/islandtransit/bus-booking-backend/internal/models"
	"github.com/islandtransit/bus-booking-backend/internal/services"
)

// TripHandler handles trip lifecycle endpoints
type TripHandler struct {
	tripService *services.TripService
	logger      *logrus.Logger
}

// NewTripHandler creates a new TripHandler
func NewTripHandler(tripService *services.TripService, logger *logrus.Logger) *TripHandler {
	return &TripHandler{
		tripService: tripService,
		logger:      logger,
	}
}

// ============================================================================
// CREATE TRIP - POST /api/v1/trips
// ============================================================================

// CreateTrip creates a trip with its seat inventory
// @Summary Create trip
// @Tags Trips
// @Accept json
// @Produce json
// @Param request body models.CreateTripRequest true "Trip definition"
// @Success 201 {object} models.Trip
// @Failure 400 {object} map[string]interface{} "Validation error"
// @Router /trips [post]
func (h *TripHandler) CreateTrip(c *gin.Context) {
	var req models.CreateTripRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	trip, err := h.tripService.CreateTrip(&req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, trip)
}

// ============================================================================
// GET TRIP - GET /api/v1/trips/:id
// ============================================================================

// GetTrip returns a trip with its seat map
// @Summary Get trip by id
// @Tags Trips
// @Produce json
// @Param id path string true "Trip ID"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} map[string]interface{} "Trip not found"
// @Router /trips/{id} [get]
func (h *TripHandler) GetTrip(c *gin.Context) {
	trip, seats, err := h.tripService.GetTrip(c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"trip": trip, "seats": seats})
}

// ============================================================================
// CANCEL TRIP - POST /api/v1/trips/:id/cancel
// ============================================================================

// CancelTrip cancels a trip and unwinds every order on it
// @Summary Cancel trip
// @Description Cancels the trip, refunds paid bookings and voids pending ones in one transaction
// @Tags Trips
// @Produce json
// @Param id path string true "Trip ID"
// @Success 200 {object} models.Trip
// @Failure 404 {object} map[string]interface{} "Trip not found"
// @Failure 422 {object} map[string]interface{} "Trip already terminal"
// @Failure 502 {object} map[string]interface{} "A gateway refund failed, cascade aborted"
// @Router /trips/{id}/cancel [post]
func (h *TripHandler) CancelTrip(c *gin.Context) {
	trip, err := h.tripService.CancelTrip(c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, trip)
}
