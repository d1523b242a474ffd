package services

import (
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/islandtransit/bus-booking-backend/internal/apperrors"
	"github.com/islandtransit/bus-booking-backend/internal/config"
	"github.com/islandtransit/bus-booking-backend/internal/database"
	"github.com/islandtransit/bus-booking-backend/internal/models"
	"github.com/islandtransit/bus-booking-backend/pkg/secure"
	"github.com/islandtransit/bus-booking-backend/pkg/validator"
)

var contacts = validator.NewContactValidator()

// BookingService coordinates seat locking, pricing, coupon application,
// order creation and payment initiation into one atomic scope. Everything up
// to and including the gateway handshake commits or rolls back together;
// notifications and realtime fan-out run after commit and may fail silently.
type BookingService struct {
	txRunner    *database.TxRunner
	seatRepo    *database.SeatRepository
	tripRepo    *database.TripRepository
	orderRepo   *database.OrderRepository
	paymentRepo *database.PaymentRepository
	auditRepo   *database.PaymentAuditRepository
	pricing     *PricingService
	coupons     *CouponService
	gateway     PaymentGateway
	notifier    Notifier
	realtime    RealtimePublisher
	sealer      *secure.Sealer
	cfg         config.BookingConfig
	logger      *logrus.Logger
}

// NewBookingService creates a new BookingService
func NewBookingService(
	txRunner *database.TxRunner,
	seatRepo *database.SeatRepository,
	tripRepo *database.TripRepository,
	orderRepo *database.OrderRepository,
	paymentRepo *database.PaymentRepository,
	auditRepo *database.PaymentAuditRepository,
	pricing *PricingService,
	coupons *CouponService,
	gateway PaymentGateway,
	notifier Notifier,
	realtime RealtimePublisher,
	sealer *secure.Sealer,
	cfg config.BookingConfig,
	logger *logrus.Logger,
) *BookingService {
	return &BookingService{
		txRunner:    txRunner,
		seatRepo:    seatRepo,
		tripRepo:    tripRepo,
		orderRepo:   orderRepo,
		paymentRepo: paymentRepo,
		auditRepo:   auditRepo,
		pricing:     pricing,
		coupons:     coupons,
		gateway:     gateway,
		notifier:    notifier,
		realtime:    realtime,
		sealer:      sealer,
		cfg:         cfg,
		logger:      logger,
	}
}

// CreateOrder reserves the requested seats, prices them, applies an optional
// coupon, creates the order with its tickets and initiates payment - all in
// one transaction. Any failure before commit leaves no trace: no reserved
// seats, no tickets, no coupon counter drift.
func (s *BookingService) CreateOrder(purchaser models.Purchaser, req *models.CreateOrderRequest, deviceInfo models.JSONB) (*models.CreateOrderResponse, error) {
	if purchaser.UserID == nil && (purchaser.GuestEmail == nil || *purchaser.GuestEmail == "") {
		return nil, apperrors.Validation("guest purchases require an email address")
	}
	if purchaser.GuestEmail != nil && *purchaser.GuestEmail != "" {
		email, err := contacts.ValidateEmail(*purchaser.GuestEmail)
		if err != nil {
			return nil, apperrors.Validation("%s", err.Error())
		}
		purchaser.GuestEmail = &email
	}
	if purchaser.GuestPhone != nil {
		phone, err := contacts.ValidatePhone(*purchaser.GuestPhone)
		if err != nil {
			return nil, apperrors.Validation("%s", err.Error())
		}
		purchaser.GuestPhone = &phone
	}
	if len(req.SeatIDs) == 0 {
		return nil, apperrors.Validation("at least one seat is required")
	}

	now := time.Now()
	var (
		order      *models.Order
		seats      []models.Seat
		paymentURL string
	)

	err := s.txRunner.WithinTx(func(tx *sqlx.Tx) error {
		trip, err := s.tripRepo.GetByID(tx, req.TripID)
		if err != nil {
			return err
		}
		if trip == nil {
			return apperrors.NotFound("trip %s not found", req.TripID)
		}
		if trip.IsTerminal() {
			return apperrors.InvalidState("trip %s is %s", trip.ID, trip.Status)
		}
		if trip.HasDeparted(now) {
			return apperrors.Expired("trip %s has already departed", trip.ID)
		}

		seats, err = s.seatRepo.ValidateAndLockSeats(tx, req.SeatIDs, req.TripID)
		if err != nil {
			return err
		}

		boarding, alighting, err := s.resolveSegment(tx, trip, req)
		if err != nil {
			return err
		}

		tickets := make([]models.Ticket, len(seats))
		var totalBase float64
		for i, seat := range seats {
			fare, err := s.pricing.SeatFare(&seat, trip, boarding, alighting)
			if err != nil {
				return err
			}
			tickets[i] = models.Ticket{
				SeatID:     seat.ID,
				BasePrice:  fare,
				FinalPrice: fare, // discount is tracked at order level only
				Status:     models.TicketStatusPending,
			}
			totalBase += fare
		}

		var eval *models.CouponEvaluation
		totalDiscount := 0.0
		if req.CouponCode != nil && *req.CouponCode != "" {
			eval, err = s.coupons.Evaluate(tx, *req.CouponCode, totalBase, purchaser.UserID, now)
			if err != nil {
				return err
			}
			totalDiscount = eval.DiscountAmount
		}

		totalFinal := totalBase - totalDiscount
		if totalFinal < 0 {
			totalFinal = 0
		}

		order = &models.Order{
			UserID:          purchaser.UserID,
			GuestName:       purchaser.GuestName,
			GuestEmail:      purchaser.GuestEmail,
			GuestPhone:      purchaser.GuestPhone,
			TotalBasePrice:  totalBase,
			TotalDiscount:   totalDiscount,
			TotalFinalPrice: totalFinal,
			Status:          models.OrderStatusPending,
			DeviceInfo:      deviceInfo,
		}

		if err := s.orderRepo.CreateOrder(tx, order, tickets); err != nil {
			return err
		}

		if eval != nil {
			if err := s.coupons.Reserve(tx, eval, order.ID, purchaser.UserID); err != nil {
				return err
			}
		}

		reservedUntil := now.Add(s.cfg.ReservationTTL)
		if err := s.seatRepo.Reserve(tx, req.SeatIDs, order.PurchaserRef(), reservedUntil); err != nil {
			return err
		}

		result, err := s.gateway.Initiate(InitiatePaymentParams{
			OrderID:       order.ID,
			InvoiceID:     order.BookingReference,
			MethodCode:    req.PaymentMethod,
			Amount:        order.TotalFinalPrice,
			Currency:      s.cfg.Currency,
			CustomerName:  purchaserName(purchaser),
			CustomerEmail: derefString(purchaser.GuestEmail),
			CustomerPhone: derefString(purchaser.GuestPhone),
			Description:   "Bus booking " + order.BookingReference,
		})
		if err != nil {
			// Audited outside the scope: the rollback must not erase the
			// record of a failed gateway call.
			audit := models.NewPaymentAudit(models.PaymentEventError, models.PaymentSourceBackend).
				SetOrder(order.ID).
				SetError(apperrors.UserMessage(err))
			audit.ExpectedAmount = &order.TotalFinalPrice
			if logErr := s.auditRepo.LogDirect(audit); logErr != nil {
				s.logger.WithError(logErr).Error("Failed to audit gateway failure")
			}
			return err
		}

		sealed, err := s.sealer.Seal(result.RawResponse)
		if err != nil {
			return apperrors.Internal(err, "failed to seal gateway response")
		}

		payment := &models.Payment{
			OrderID:         order.ID,
			Amount:          order.TotalFinalPrice,
			Currency:        s.cfg.Currency,
			MethodCode:      req.PaymentMethod,
			Status:          models.PaymentStatusPending,
			GatewayRef:      &result.GatewayRef,
			GatewayResponse: sealed,
			ExpiresAt:       &reservedUntil,
		}
		if err := s.paymentRepo.Create(tx, payment); err != nil {
			return err
		}

		audit := models.NewPaymentAudit(models.PaymentEventInitiated, models.PaymentSourceBackend).
			SetOrder(order.ID).
			SetPayment(payment.ID).
			SetGatewayRef(result.GatewayRef)
		audit.ExpectedAmount = &payment.Amount
		audit.Currency = &payment.Currency
		if err := s.auditRepo.Log(tx, audit); err != nil {
			return err
		}

		paymentURL = result.PaymentURL
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"order_id":          order.ID,
		"booking_reference": order.BookingReference,
		"trip_id":           req.TripID,
		"seats":             len(seats),
		"total_final_price": order.TotalFinalPrice,
	}).Info("Order created")

	s.afterOrderCreated(order, req.TripID, seats)

	return &models.CreateOrderResponse{Order: order, PaymentURL: paymentURL}, nil
}

// resolveSegment loads and validates the optional boarding/alighting stops.
func (s *BookingService) resolveSegment(q database.Queryer, trip *models.Trip, req *models.CreateOrderRequest) (*models.RouteStop, *models.RouteStop, error) {
	if req.BoardingStopID == nil || req.AlightingStopID == nil {
		return nil, nil, nil
	}

	boarding, err := s.tripRepo.GetRouteStop(q, *req.BoardingStopID)
	if err != nil {
		return nil, nil, err
	}
	if boarding == nil {
		return nil, nil, apperrors.NotFound("boarding stop %s not found", *req.BoardingStopID)
	}

	alighting, err := s.tripRepo.GetRouteStop(q, *req.AlightingStopID)
	if err != nil {
		return nil, nil, err
	}
	if alighting == nil {
		return nil, nil, apperrors.NotFound("alighting stop %s not found", *req.AlightingStopID)
	}

	return boarding, alighting, nil
}

// afterOrderCreated runs the best-effort side effects. Failures are logged,
// never surfaced: clients reconcile realtime state via polling.
func (s *BookingService) afterOrderCreated(order *models.Order, tripID string, seats []models.Seat) {
	notification := Notification{
		UserID:  order.UserID,
		Email:   derefString(order.GuestEmail),
		Title:   "Booking received",
		Content: "Your booking " + order.BookingReference + " is awaiting payment.",
		Metadata: map[string]interface{}{
			"order_id":          order.ID,
			"booking_reference": order.BookingReference,
		},
	}
	if err := s.notifier.Notify(notification); err != nil {
		s.logger.WithError(err).WithField("order_id", order.ID).Warn("Purchase notification failed")
	}

	updates := make([]models.SeatUpdate, len(seats))
	for i, seat := range seats {
		updates[i] = models.SeatUpdate{
			SeatID:     seat.ID,
			SeatNumber: seat.SeatNumber,
			Status:     models.SeatStatusReserved,
		}
	}
	if err := s.realtime.PublishSeatUpdate(tripID, updates); err != nil {
		s.logger.WithError(err).WithField("trip_id", tripID).Warn("Seat update publish failed")
	}
}

// ConfirmPayment applies the gateway's final verdict for a payment. On
// success the order's seats move to booked and tickets get QR payloads; on
// failure the reservation is voided and the seats return to the pool.
// Idempotent: re-confirming a settled payment is a no-op.
func (s *BookingService) ConfirmPayment(gatewayRef string, success bool) (*models.Order, error) {
	var order *models.Order
	var tripID string
	var seatIDs []string

	err := s.txRunner.WithinTx(func(tx *sqlx.Tx) error {
		payment, err := s.paymentRepo.GetByGatewayRef(tx, gatewayRef)
		if err != nil {
			return err
		}
		if payment == nil {
			return apperrors.NotFound("payment with gateway reference %s not found", gatewayRef)
		}

		order, err = s.orderRepo.GetByIDForUpdate(tx, payment.OrderID)
		if err != nil {
			return err
		}
		if order == nil {
			return apperrors.NotFound("order %s not found", payment.OrderID)
		}

		// re-read under the order lock; a concurrent webhook for the same
		// payment may have settled it after the first read
		payment, err = s.paymentRepo.GetByGatewayRef(tx, gatewayRef)
		if err != nil {
			return err
		}
		if payment == nil || (payment.Status != models.PaymentStatusPending && payment.Status != models.PaymentStatusProcessing) {
			return nil // already settled
		}

		for _, ticket := range order.Tickets {
			seatIDs = append(seatIDs, ticket.SeatID)
		}
		if len(seatIDs) > 0 {
			trip, err := s.tripRepo.GetTripForSeat(tx, seatIDs[0])
			if err != nil {
				return err
			}
			if trip != nil {
				tripID = trip.ID
			}
		}

		if success {
			return s.completePayment(tx, order, payment, seatIDs)
		}
		return s.voidPayment(tx, order, payment, seatIDs)
	})
	if err != nil {
		return nil, err
	}

	if tripID != "" {
		status := models.SeatStatusBooked
		if !success {
			status = models.SeatStatusAvailable
		}
		s.publishSeatStatus(tripID, order, status)
	}

	return order, nil
}

func (s *BookingService) completePayment(tx *sqlx.Tx, order *models.Order, payment *models.Payment, seatIDs []string) error {
	ticketIDs := make([]string, len(order.Tickets))
	for i, ticket := range order.Tickets {
		ticketIDs[i] = ticket.ID
	}

	moved, err := s.orderRepo.UpdateTicketStatus(tx, ticketIDs,
		[]models.TicketStatus{models.TicketStatusPending}, models.TicketStatusBooked)
	if err != nil {
		return err
	}
	if moved != len(ticketIDs) {
		return apperrors.InvalidState("order %s has tickets outside the pending state", order.ID)
	}

	for _, ticketID := range ticketIDs {
		qr, err := s.orderRepo.GenerateTicketQR()
		if err != nil {
			return err
		}
		if err := s.orderRepo.SetTicketQR(tx, ticketID, qr); err != nil {
			return err
		}
	}

	if err := s.seatRepo.MarkBooked(tx, seatIDs); err != nil {
		return err
	}
	if err := s.paymentRepo.UpdateStatus(tx, payment.ID, models.PaymentStatusCompleted); err != nil {
		return err
	}
	if err := s.orderRepo.UpdateStatus(tx, order.ID, models.OrderStatusCompleted); err != nil {
		return err
	}
	order.Status = models.OrderStatusCompleted

	audit := models.NewPaymentAudit(models.PaymentEventSuccess, models.PaymentSourceGateway).
		SetOrder(order.ID).
		SetPayment(payment.ID)
	audit.SetAmounts(order.TotalFinalPrice, payment.Amount, payment.Currency)
	return s.auditRepo.Log(tx, audit)
}

func (s *BookingService) voidPayment(tx *sqlx.Tx, order *models.Order, payment *models.Payment, seatIDs []string) error {
	ticketIDs := make([]string, len(order.Tickets))
	for i, ticket := range order.Tickets {
		ticketIDs[i] = ticket.ID
	}

	if _, err := s.orderRepo.UpdateTicketStatus(tx, ticketIDs,
		[]models.TicketStatus{models.TicketStatusPending}, models.TicketStatusCancelled); err != nil {
		return err
	}
	if err := s.seatRepo.Release(tx, seatIDs); err != nil {
		return err
	}
	if err := s.paymentRepo.UpdateStatus(tx, payment.ID, models.PaymentStatusFailed); err != nil {
		return err
	}
	if err := s.orderRepo.UpdateStatus(tx, order.ID, models.OrderStatusCancelled); err != nil {
		return err
	}
	order.Status = models.OrderStatusCancelled

	audit := models.NewPaymentAudit(models.PaymentEventFailed, models.PaymentSourceGateway).
		SetOrder(order.ID).
		SetPayment(payment.ID)
	return s.auditRepo.Log(tx, audit)
}

func (s *BookingService) publishSeatStatus(tripID string, order *models.Order, status models.SeatStatus) {
	updates := make([]models.SeatUpdate, 0, len(order.Tickets))
	for _, ticket := range order.Tickets {
		updates = append(updates, models.SeatUpdate{SeatID: ticket.SeatID, Status: status})
	}
	if err := s.realtime.PublishSeatUpdate(tripID, updates); err != nil {
		s.logger.WithError(err).WithField("trip_id", tripID).Warn("Seat update publish failed")
	}
	if err := s.realtime.PublishOrderEvent(order.ID, "order_"+string(order.Status), map[string]interface{}{
		"booking_reference": order.BookingReference,
	}); err != nil {
		s.logger.WithError(err).WithField("order_id", order.ID).Warn("Order event publish failed")
	}
}

// GetOrderByID returns an order with its tickets
func (s *BookingService) GetOrderByID(id string) (*models.Order, error) {
	var order *models.Order
	err := s.txRunner.WithinTx(func(tx *sqlx.Tx) error {
		var err error
		order, err = s.orderRepo.GetByID(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, apperrors.NotFound("order %s not found", id)
	}

	return order, nil
}

// GetOrderPayment returns an order's active payment with the raw gateway
// response unsealed. The sealed blob never leaves the database any other way.
func (s *BookingService) GetOrderPayment(orderID string) (*models.Payment, []byte, error) {
	var payment *models.Payment
	err := s.txRunner.WithinTx(func(tx *sqlx.Tx) error {
		var err error
		payment, err = s.paymentRepo.GetActiveByOrderID(tx, orderID)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	if payment == nil {
		return nil, nil, apperrors.NotFound("order %s has no active payment", orderID)
	}

	var raw []byte
	if len(payment.GatewayResponse) > 0 {
		raw, err = s.sealer.Open(payment.GatewayResponse)
		if err != nil {
			return nil, nil, apperrors.Internal(err, "failed to open gateway response for payment %s", payment.ID)
		}
	}
	return payment, raw, nil
}

// ListOrdersForUser returns a user's orders with pagination
func (s *BookingService) ListOrdersForUser(userID uuid.UUID, limit, offset int) ([]models.Order, error) {
	return s.orderRepo.ListByUser(userID, limit, offset)
}

// ListOrdersForGuest returns a guest's orders matched by email
func (s *BookingService) ListOrdersForGuest(email string, limit, offset int) ([]models.Order, error) {
	return s.orderRepo.ListByGuest(email, limit, offset)
}

func purchaserName(p models.Purchaser) string {
	if p.GuestName != nil {
		return *p.GuestName
	}
	return "Customer"
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
