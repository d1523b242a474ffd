package services

import (
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/islandtransit/bus-booking-backend/internal/apperrors"
	"github.com/islandtransit/bus-booking-backend/internal/database"
	"github.com/islandtransit/bus-booking-backend/internal/models"
)

// TripService manages trip lifecycle: creation with its seat inventory and
// the cancellation cascade that unwinds every order on the trip.
type TripService struct {
	txRunner    *database.TxRunner
	tripRepo    *database.TripRepository
	seatRepo    *database.SeatRepository
	orderRepo   *database.OrderRepository
	paymentRepo *database.PaymentRepository
	auditRepo   *database.PaymentAuditRepository
	coupons     *CouponService
	gateway     PaymentGateway
	notifier    Notifier
	realtime    RealtimePublisher
	logger      *logrus.Logger
}

// NewTripService creates a new TripService
func NewTripService(
	txRunner *database.TxRunner,
	tripRepo *database.TripRepository,
	seatRepo *database.SeatRepository,
	orderRepo *database.OrderRepository,
	paymentRepo *database.PaymentRepository,
	auditRepo *database.PaymentAuditRepository,
	coupons *CouponService,
	gateway PaymentGateway,
	notifier Notifier,
	realtime RealtimePublisher,
	logger *logrus.Logger,
) *TripService {
	return &TripService{
		txRunner:    txRunner,
		tripRepo:    tripRepo,
		seatRepo:    seatRepo,
		orderRepo:   orderRepo,
		paymentRepo: paymentRepo,
		auditRepo:   auditRepo,
		coupons:     coupons,
		gateway:     gateway,
		notifier:    notifier,
		realtime:    realtime,
		logger:      logger,
	}
}

// CreateTrip creates a trip and materializes its seat inventory from the
// vehicle layout in one transaction.
func (s *TripService) CreateTrip(req *models.CreateTripRequest) (*models.Trip, error) {
	trip := &models.Trip{
		RouteID:           req.RouteID,
		VehicleID:         req.VehicleID,
		RouteName:         req.RouteName,
		DepartureDatetime: req.DepartureDatetime,
		ArrivalDatetime:   req.ArrivalDatetime,
		BasePrice:         req.BasePrice,
		RouteDistanceKm:   req.RouteDistanceKm,
		Status:            models.TripStatusScheduled,
	}

	var created int
	err := s.txRunner.WithinTx(func(tx *sqlx.Tx) error {
		if err := s.tripRepo.Create(tx, trip); err != nil {
			return err
		}
		var err error
		created, err = s.seatRepo.CreateSeatsForTrip(tx, trip.ID, trip.BasePrice, req.Layout)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"trip_id":    trip.ID,
		"route_name": trip.RouteName,
		"seats":      created,
	}).Info("Trip created")

	return trip, nil
}

// GetTrip returns a trip with its seat inventory.
func (s *TripService) GetTrip(id string) (*models.Trip, []models.Seat, error) {
	var trip *models.Trip
	err := s.txRunner.WithinTx(func(tx *sqlx.Tx) error {
		var err error
		trip, err = s.tripRepo.GetByID(tx, id)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	if trip == nil {
		return nil, nil, apperrors.NotFound("trip %s not found", id)
	}

	seats, err := s.seatRepo.GetByTripID(id)
	if err != nil {
		return nil, nil, err
	}
	return trip, seats, nil
}

// orderGroup collects a single order's tickets touched by a cancellation.
type orderGroup struct {
	bookedIDs    []string
	bookedAmount float64
	otherIDs     []string
	seatIDs      []string
}

// CancelTrip cancels a trip and unwinds every order on it: booked tickets on
// paid orders are refunded through the gateway, everything else is voided.
// One transaction covers the whole cascade, so a single failed refund call
// aborts the trip cancellation entirely.
func (s *TripService) CancelTrip(tripID string) (*models.Trip, error) {
	var trip *models.Trip
	var touchedOrders []string
	var releasedSeats []string

	err := s.txRunner.WithinTx(func(tx *sqlx.Tx) error {
		var err error
		trip, err = s.tripRepo.GetByIDForUpdate(tx, tripID)
		if err != nil {
			return err
		}
		if trip == nil {
			return apperrors.NotFound("trip %s not found", tripID)
		}
		if trip.IsTerminal() {
			return apperrors.InvalidState("trip %s is already %s", tripID, trip.Status)
		}

		if err := s.tripRepo.UpdateStatus(tx, tripID, models.TripStatusCancelled); err != nil {
			return err
		}
		trip.Status = models.TripStatusCancelled

		tickets, err := s.orderRepo.GetTicketsByTripForUpdate(tx, tripID)
		if err != nil {
			return err
		}

		groups := groupTicketsByOrder(tickets)
		for orderID, group := range groups {
			if err := s.unwindOrder(tx, orderID, group); err != nil {
				return err
			}
			touchedOrders = append(touchedOrders, orderID)
			releasedSeats = append(releasedSeats, group.seatIDs...)
		}

		if len(releasedSeats) > 0 {
			return s.seatRepo.Release(tx, releasedSeats)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"trip_id": tripID,
		"orders":  len(touchedOrders),
		"seats":   len(releasedSeats),
	}).Info("Trip cancelled")

	s.afterTripCancelled(trip, touchedOrders)

	return trip, nil
}

// unwindOrder applies the cascade to one order's ticket group.
func (s *TripService) unwindOrder(tx *sqlx.Tx, orderID string, group *orderGroup) error {
	payment, err := s.paymentRepo.GetActiveByOrderID(tx, orderID)
	if err != nil {
		return err
	}
	paid := payment != nil && payment.IsCompleted()

	if paid && len(group.bookedIDs) > 0 && group.bookedAmount > 0 {
		if payment.GatewayRef == nil {
			return apperrors.Internal(nil, "completed payment %s has no gateway reference", payment.ID)
		}
		if _, err := s.gateway.Refund(*payment.GatewayRef, group.bookedAmount, "trip cancelled"); err != nil {
			return err
		}
		audit := models.NewPaymentAudit(models.PaymentEventRefundCompleted, models.PaymentSourceGateway).
			SetOrder(orderID).
			SetPayment(payment.ID).
			SetGatewayRef(*payment.GatewayRef)
		audit.SetAmounts(group.bookedAmount, group.bookedAmount, payment.Currency)
		if err := s.auditRepo.Log(tx, audit); err != nil {
			return err
		}

		if _, err := s.orderRepo.UpdateTicketStatus(tx, group.bookedIDs,
			[]models.TicketStatus{models.TicketStatusBooked}, models.TicketStatusRefunded); err != nil {
			return err
		}
	} else if len(group.bookedIDs) > 0 {
		// booked but never paid, nothing to return
		if _, err := s.orderRepo.UpdateTicketStatus(tx, group.bookedIDs,
			[]models.TicketStatus{models.TicketStatusBooked}, models.TicketStatusCancelled); err != nil {
			return err
		}
	}

	if len(group.otherIDs) > 0 {
		if _, err := s.orderRepo.UpdateTicketStatus(tx, group.otherIDs,
			[]models.TicketStatus{models.TicketStatusPending, models.TicketStatusBooked},
			models.TicketStatusCancelled); err != nil {
			return err
		}
	}

	next := models.OrderStatusCancelled
	if paid && len(group.bookedIDs) > 0 {
		next = models.OrderStatusRefunded
	}
	if next == models.OrderStatusRefunded {
		if err := s.coupons.Release(tx, orderID); err != nil {
			return err
		}
	}
	return s.orderRepo.UpdateStatus(tx, orderID, next)
}

func (s *TripService) afterTripCancelled(trip *models.Trip, orderIDs []string) {
	for _, orderID := range orderIDs {
		if err := s.realtime.PublishOrderEvent(orderID, "trip_cancelled", map[string]interface{}{
			"trip_id":    trip.ID,
			"route_name": trip.RouteName,
		}); err != nil {
			s.logger.WithError(err).WithField("order_id", orderID).Warn("Order event publish failed")
		}
	}

	if err := s.notifier.Notify(Notification{
		Title:   "Trip cancelled",
		Content: "Trip " + trip.RouteName + " has been cancelled. Paid bookings are being refunded.",
		Metadata: map[string]interface{}{
			"trip_id": trip.ID,
			"orders":  len(orderIDs),
		},
	}); err != nil {
		s.logger.WithError(err).WithField("trip_id", trip.ID).Warn("Trip cancellation notification failed")
	}
}

// groupTicketsByOrder splits a trip's tickets into per-order groups,
// skipping tickets already in a terminal state.
func groupTicketsByOrder(tickets []database.TicketWithSeat) map[string]*orderGroup {
	groups := make(map[string]*orderGroup)
	for _, ticket := range tickets {
		if ticket.Status.IsTerminal() {
			continue
		}
		group, ok := groups[ticket.OrderID]
		if !ok {
			group = &orderGroup{}
			groups[ticket.OrderID] = group
		}
		if ticket.Status == models.TicketStatusBooked {
			group.bookedIDs = append(group.bookedIDs, ticket.ID)
			group.bookedAmount += ticket.FinalPrice
		} else {
			group.otherIDs = append(group.otherIDs, ticket.ID)
		}
		group.seatIDs = append(group.seatIDs, ticket.SeatID)
	}
	return groups
}
