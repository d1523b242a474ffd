package services

import (
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/islandtransit/bus-booking-backend/internal/apperrors"
	"github.com/islandtransit/bus-booking-backend/internal/database"
	"github.com/islandtransit/bus-booking-backend/internal/models"
)

// errPaymentSettled aborts a void whose payment completed between the
// routing check and the void transaction taking the order lock.
var errPaymentSettled = errors.New("payment settled concurrently")

// RefundService unwinds bookings. Refunds move money (gateway call inside
// the atomic scope, failure aborts everything), voids do not. Coupon usage
// is reversed only when the whole order dissolves into REFUNDED.
type RefundService struct {
	txRunner    *database.TxRunner
	seatRepo    *database.SeatRepository
	tripRepo    *database.TripRepository
	orderRepo   *database.OrderRepository
	paymentRepo *database.PaymentRepository
	auditRepo   *database.PaymentAuditRepository
	coupons     *CouponService
	gateway     PaymentGateway
	notifier    Notifier
	realtime    RealtimePublisher
	logger      *logrus.Logger
}

// NewRefundService creates a new RefundService
func NewRefundService(
	txRunner *database.TxRunner,
	seatRepo *database.SeatRepository,
	tripRepo *database.TripRepository,
	orderRepo *database.OrderRepository,
	paymentRepo *database.PaymentRepository,
	auditRepo *database.PaymentAuditRepository,
	coupons *CouponService,
	gateway PaymentGateway,
	notifier Notifier,
	realtime RealtimePublisher,
	logger *logrus.Logger,
) *RefundService {
	return &RefundService{
		txRunner:    txRunner,
		seatRepo:    seatRepo,
		tripRepo:    tripRepo,
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

// RefundTickets refunds the targeted BOOKED tickets of an order: gateway
// refund for their combined final price, tickets to REFUNDED, seats back to
// the pool, order status recomputed. The gateway call sits inside the
// transaction so a declined refund rolls back all bookkeeping with it.
func (s *RefundService) RefundTickets(orderID string, ticketIDs []string, reason string) (*models.Order, error) {
	if len(ticketIDs) == 0 {
		return nil, apperrors.Validation("at least one ticket is required")
	}
	ticketIDs = dedupeTicketIDs(ticketIDs)

	var order *models.Order
	var tripID string
	var seatIDs []string

	err := s.txRunner.WithinTx(func(tx *sqlx.Tx) error {
		var err error
		order, err = s.orderRepo.GetByIDForUpdate(tx, orderID)
		if err != nil {
			return err
		}
		if order == nil {
			return apperrors.NotFound("order %s not found", orderID)
		}

		targeted, err := selectTickets(order, ticketIDs)
		if err != nil {
			return err
		}

		var refundAmount float64
		for _, ticket := range targeted {
			if ticket.Status != models.TicketStatusBooked {
				return apperrors.InvalidState("ticket %s is %s, only booked tickets can be refunded", ticket.ID, ticket.Status)
			}
			refundAmount += ticket.FinalPrice
			seatIDs = append(seatIDs, ticket.SeatID)
		}

		tripID, err = s.rejectCompletedTrip(tx, seatIDs[0])
		if err != nil {
			return err
		}

		payment, err := s.paymentRepo.GetActiveByOrderID(tx, orderID)
		if err != nil {
			return err
		}

		if refundAmount > 0 && payment != nil && payment.IsCompleted() {
			if err := s.refundThroughGateway(tx, order, payment, refundAmount, reason); err != nil {
				return err
			}
		}

		moved, err := s.orderRepo.UpdateTicketStatus(tx, ticketIDs,
			[]models.TicketStatus{models.TicketStatusBooked}, models.TicketStatusRefunded)
		if err != nil {
			return err
		}
		if moved != len(ticketIDs) {
			return apperrors.Conflict("ticket state changed concurrently, refund aborted")
		}

		if err := s.seatRepo.Release(tx, seatIDs); err != nil {
			return err
		}

		return s.recomputeOrderStatus(tx, order, ticketIDs, models.TicketStatusRefunded)
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"order_id": orderID,
		"tickets":  len(ticketIDs),
		"status":   order.Status,
		"reason":   reason,
	}).Info("Tickets refunded")

	s.afterUnwind(order, tripID, seatIDs, "Refund processed",
		"Your refund for booking "+order.BookingReference+" has been processed.")

	return order, nil
}

// CancelTickets is a policy router: paid orders go through the refund path,
// unpaid ones get a lightweight void with no gateway involvement.
func (s *RefundService) CancelTickets(orderID string, ticketIDs []string) (*models.Order, error) {
	if len(ticketIDs) == 0 {
		return nil, apperrors.Validation("at least one ticket is required")
	}
	ticketIDs = dedupeTicketIDs(ticketIDs)

	paid, err := s.orderHasCompletedPayment(orderID)
	if err != nil {
		return nil, err
	}
	if paid {
		return s.RefundTickets(orderID, ticketIDs, "ticket cancellation")
	}

	var order *models.Order
	var tripID string
	var seatIDs []string

	err = s.txRunner.WithinTx(func(tx *sqlx.Tx) error {
		order, err = s.orderRepo.GetByIDForUpdate(tx, orderID)
		if err != nil {
			return err
		}
		if order == nil {
			return apperrors.NotFound("order %s not found", orderID)
		}

		// the routing check ran before this lock; re-check now that the
		// order is held so a payment settling in between cannot be voided
		payment, err := s.paymentRepo.GetActiveByOrderID(tx, orderID)
		if err != nil {
			return err
		}
		if payment != nil && payment.IsCompleted() {
			return errPaymentSettled
		}

		targeted, err := selectTickets(order, ticketIDs)
		if err != nil {
			return err
		}
		for _, ticket := range targeted {
			if ticket.Status != models.TicketStatusPending && ticket.Status != models.TicketStatusBooked {
				return apperrors.InvalidState("ticket %s is %s and cannot be cancelled", ticket.ID, ticket.Status)
			}
			seatIDs = append(seatIDs, ticket.SeatID)
		}

		tripID, err = s.rejectCompletedTrip(tx, seatIDs[0])
		if err != nil {
			return err
		}

		moved, err := s.orderRepo.UpdateTicketStatus(tx, ticketIDs,
			[]models.TicketStatus{models.TicketStatusPending, models.TicketStatusBooked},
			models.TicketStatusCancelled)
		if err != nil {
			return err
		}
		if moved != len(ticketIDs) {
			return apperrors.Conflict("ticket state changed concurrently, cancellation aborted")
		}

		if err := s.seatRepo.Release(tx, seatIDs); err != nil {
			return err
		}

		return s.recomputeOrderStatus(tx, order, ticketIDs, models.TicketStatusCancelled)
	})
	if errors.Is(err, errPaymentSettled) {
		return s.RefundTickets(orderID, ticketIDs, "ticket cancellation")
	}
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"order_id": orderID,
		"tickets":  len(ticketIDs),
		"status":   order.Status,
	}).Info("Tickets cancelled")

	s.afterUnwind(order, tripID, seatIDs, "Booking cancelled",
		"Tickets on booking "+order.BookingReference+" were cancelled.")

	return order, nil
}

// refundThroughGateway issues the gateway refund and records both sides of
// the call in the audit trail. LogDirect keeps the failure record even when
// the enclosing transaction rolls back.
func (s *RefundService) refundThroughGateway(tx *sqlx.Tx, order *models.Order, payment *models.Payment, amount float64, reason string) error {
	if payment.GatewayRef == nil {
		return apperrors.Internal(nil, "completed payment %s has no gateway reference", payment.ID)
	}

	initAudit := models.NewPaymentAudit(models.PaymentEventRefundInitiated, models.PaymentSourceBackend).
		SetOrder(order.ID).
		SetPayment(payment.ID).
		SetGatewayRef(*payment.GatewayRef)
	initAudit.ExpectedAmount = &amount
	initAudit.Currency = &payment.Currency
	if err := s.auditRepo.Log(tx, initAudit); err != nil {
		return err
	}

	if _, err := s.gateway.Refund(*payment.GatewayRef, amount, reason); err != nil {
		failAudit := models.NewPaymentAudit(models.PaymentEventError, models.PaymentSourceGateway).
			SetOrder(order.ID).
			SetPayment(payment.ID).
			SetGatewayRef(*payment.GatewayRef).
			SetError(apperrors.UserMessage(err))
		failAudit.ExpectedAmount = &amount
		if logErr := s.auditRepo.LogDirect(failAudit); logErr != nil {
			s.logger.WithError(logErr).Error("Failed to audit refund failure")
		}
		return err
	}

	eventType := models.PaymentEventRefundCompleted
	if amount < order.TotalFinalPrice {
		eventType = models.PaymentEventPartialRefund
	}
	doneAudit := models.NewPaymentAudit(eventType, models.PaymentSourceGateway).
		SetOrder(order.ID).
		SetPayment(payment.ID).
		SetGatewayRef(*payment.GatewayRef)
	doneAudit.SetAmounts(amount, amount, payment.Currency)
	return s.auditRepo.Log(tx, doneAudit)
}

// recomputeOrderStatus derives the order status after the targeted tickets
// moved to their new state. Full dissolution into REFUNDED also reverses
// the order's coupon usage.
func (s *RefundService) recomputeOrderStatus(tx *sqlx.Tx, order *models.Order, movedIDs []string, movedTo models.TicketStatus) error {
	moved := make(map[string]bool, len(movedIDs))
	for _, id := range movedIDs {
		moved[id] = true
	}

	allTerminal := true
	anyRefunded := false
	for _, ticket := range order.Tickets {
		status := ticket.Status
		if moved[ticket.ID] {
			status = movedTo
		}
		if !status.IsTerminal() {
			allTerminal = false
		}
		if status == models.TicketStatusRefunded {
			anyRefunded = true
		}
	}

	var next models.OrderStatus
	switch {
	case allTerminal && anyRefunded:
		next = models.OrderStatusRefunded
	case allTerminal:
		next = models.OrderStatusCancelled
	case anyRefunded:
		next = models.OrderStatusPartiallyRefunded
	default:
		next = order.Status
	}

	if next == models.OrderStatusRefunded {
		if err := s.coupons.Release(tx, order.ID); err != nil {
			return err
		}
	}

	if next != order.Status {
		if err := s.orderRepo.UpdateStatus(tx, order.ID, next); err != nil {
			return err
		}
		order.Status = next
	}
	return nil
}

// rejectCompletedTrip blocks unwinding tickets of trips that already ran.
func (s *RefundService) rejectCompletedTrip(tx *sqlx.Tx, seatID string) (string, error) {
	trip, err := s.tripRepo.GetTripForSeat(tx, seatID)
	if err != nil {
		return "", err
	}
	if trip == nil {
		return "", apperrors.NotFound("trip for seat %s not found", seatID)
	}
	if trip.Status == models.TripStatusCompleted {
		return "", apperrors.InvalidState("trip %s is completed, tickets can no longer be cancelled", trip.ID)
	}
	return trip.ID, nil
}

func (s *RefundService) orderHasCompletedPayment(orderID string) (bool, error) {
	var paid bool
	err := s.txRunner.WithinTx(func(tx *sqlx.Tx) error {
		payment, err := s.paymentRepo.GetActiveByOrderID(tx, orderID)
		if err != nil {
			return err
		}
		paid = payment != nil && payment.IsCompleted()
		return nil
	})
	return paid, err
}

func (s *RefundService) afterUnwind(order *models.Order, tripID string, seatIDs []string, title, content string) {
	if err := s.notifier.Notify(Notification{
		UserID:  order.UserID,
		Email:   derefString(order.GuestEmail),
		Title:   title,
		Content: content,
		Metadata: map[string]interface{}{
			"order_id":          order.ID,
			"booking_reference": order.BookingReference,
		},
	}); err != nil {
		s.logger.WithError(err).WithField("order_id", order.ID).Warn("Unwind notification failed")
	}

	if tripID == "" {
		return
	}
	updates := make([]models.SeatUpdate, len(seatIDs))
	for i, id := range seatIDs {
		updates[i] = models.SeatUpdate{SeatID: id, Status: models.SeatStatusAvailable}
	}
	if err := s.realtime.PublishSeatUpdate(tripID, updates); err != nil {
		s.logger.WithError(err).WithField("trip_id", tripID).Warn("Seat update publish failed")
	}
}

// dedupeTicketIDs drops repeated ids so a duplicated ticket cannot inflate
// the refund amount sent to the gateway.
func dedupeTicketIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// selectTickets resolves the requested ticket ids against the order, failing
// on any id the order does not own.
func selectTickets(order *models.Order, ticketIDs []string) ([]models.Ticket, error) {
	byID := make(map[string]models.Ticket, len(order.Tickets))
	for _, ticket := range order.Tickets {
		byID[ticket.ID] = ticket
	}

	targeted := make([]models.Ticket, 0, len(ticketIDs))
	for _, id := range ticketIDs {
		ticket, ok := byID[id]
		if !ok {
			return nil, apperrors.NotFound("ticket %s does not belong to order %s", id, order.ID)
		}
		targeted = append(targeted, ticket)
	}
	return targeted, nil
}
