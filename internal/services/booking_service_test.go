package services

import (
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/islandtransit/bus-booking-backend/internal/apperrors"
	"github.com/islandtransit/bus-booking-backend/internal/config"
	"github.com/islandtransit/bus-booking-backend/internal/database"
	"github.com/islandtransit/bus-booking-backend/internal/models"
	"github.com/islandtransit/bus-booking-backend/pkg/secure"
)

// ============================================================================
// FAKES
// ============================================================================

type fakeGateway struct {
	initiateErr error
	refundErr   error
	initiated   []InitiatePaymentParams
	refunds     []float64
}

func (f *fakeGateway) Initiate(params InitiatePaymentParams) (*InitiatePaymentResult, error) {
	if f.initiateErr != nil {
		return nil, f.initiateErr
	}
	f.initiated = append(f.initiated, params)
	return &InitiatePaymentResult{
		PaymentURL:  "https://pay.test/" + params.InvoiceID,
		GatewayRef:  "GW-1",
		RawResponse: []byte(`{"status":"success"}`),
	}, nil
}

func (f *fakeGateway) Refund(gatewayRef string, amount float64, reason string) (*RefundResult, error) {
	if f.refundErr != nil {
		return nil, f.refundErr
	}
	f.refunds = append(f.refunds, amount)
	return &RefundResult{GatewayRef: gatewayRef}, nil
}

type fakeNotifier struct {
	sent []Notification
	err  error
}

func (f *fakeNotifier) Notify(n Notification) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, n)
	return nil
}

type fakeRealtime struct {
	seatUpdates map[string][]models.SeatUpdate
	orderEvents []string
}

func newFakeRealtime() *fakeRealtime {
	return &fakeRealtime{seatUpdates: make(map[string][]models.SeatUpdate)}
}

func (f *fakeRealtime) PublishSeatUpdate(tripID string, seats []models.SeatUpdate) error {
	f.seatUpdates[tripID] = append(f.seatUpdates[tripID], seats...)
	return nil
}

func (f *fakeRealtime) PublishOrderEvent(orderID string, event string, payload map[string]interface{}) error {
	f.orderEvents = append(f.orderEvents, event)
	return nil
}

// ============================================================================
// FIXTURE HELPERS
// ============================================================================

type bookingFixture struct {
	db       *sqlx.DB
	mock     sqlmock.Sqlmock
	gateway  *fakeGateway
	notifier *fakeNotifier
	realtime *fakeRealtime
	svc      *BookingService
}

func newBookingFixture(t *testing.T) *bookingFixture {
	t.Helper()
	db, mock := newMockDB(t)

	gateway := &fakeGateway{}
	notifier := &fakeNotifier{}
	realtime := newFakeRealtime()
	sealer, err := secure.NewSealer("")
	require.NoError(t, err)

	logger := testLogger()
	svc := NewBookingService(
		database.NewTxRunner(db),
		database.NewSeatRepository(db),
		database.NewTripRepository(db),
		database.NewOrderRepository(db),
		database.NewPaymentRepository(db),
		database.NewPaymentAuditRepository(db, logger),
		NewPricingService(logger),
		NewCouponService(database.NewCouponRepository(db), logger),
		gateway,
		notifier,
		realtime,
		sealer,
		config.BookingConfig{ReservationTTL: 15 * time.Minute, Currency: "LKR"},
		logger,
	)

	return &bookingFixture{db: db, mock: mock, gateway: gateway, notifier: notifier, realtime: realtime, svc: svc}
}

func tripRowColumns() []string {
	return []string{
		"id", "route_id", "vehicle_id", "route_name", "departure_datetime",
		"arrival_datetime", "base_price", "route_distance_km", "status",
		"created_at", "updated_at",
	}
}

func scheduledTripRow(id string, departure time.Time) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(tripRowColumns()).AddRow(
		id, "route-1", "vehicle-1", "Colombo - Jaffna", departure,
		nil, 100000.0, 400.0, models.TripStatusScheduled, now, now,
	)
}

func lockableSeatRows(tripID string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "trip_id", "seat_number", "seat_type", "floor_number", "row_number",
		"column_number", "price", "status", "reserved_by", "reserved_until",
		"created_at", "updated_at",
	}).
		AddRow("seat-a", tripID, "1A", "standard", 1, 1, 1, 100000.0,
			models.SeatStatusAvailable, nil, nil, now, now).
		AddRow("seat-b", tripID, "1B", "premium", 1, 1, 2, 120000.0,
			models.SeatStatusAvailable, nil, nil, now, now)
}

func guestPurchaser() models.Purchaser {
	name := "Nimal Perera"
	email := "nimal@example.com"
	phone := "0712345678"
	return models.Purchaser{GuestName: &name, GuestEmail: &email, GuestPhone: &phone}
}

// ============================================================================
// CREATE ORDER
// ============================================================================

func TestCreateOrder(t *testing.T) {
	now := time.Now()
	departure := now.Add(48 * time.Hour)

	t.Run("Success Without Coupon", func(t *testing.T) {
		f := newBookingFixture(t)

		f.mock.ExpectBegin()
		f.mock.ExpectQuery(`FROM trips WHERE id =`).
			WithArgs("trip-1").
			WillReturnRows(scheduledTripRow("trip-1", departure))
		f.mock.ExpectQuery(`FOR UPDATE`).
			WithArgs("seat-a", "seat-b").
			WillReturnRows(lockableSeatRows("trip-1"))
		f.mock.ExpectQuery(`SELECT COUNT\(\*\) FROM orders`).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
		f.mock.ExpectQuery(`INSERT INTO orders`).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).
				AddRow("order-1", now, now))
		f.mock.ExpectQuery(`INSERT INTO tickets`).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).
				AddRow("ticket-1", now, now))
		f.mock.ExpectQuery(`INSERT INTO tickets`).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).
				AddRow("ticket-2", now, now))
		f.mock.ExpectExec(`SET status = 'reserved'`).
			WillReturnResult(sqlmock.NewResult(0, 2))
		f.mock.ExpectQuery(`INSERT INTO payments`).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).
				AddRow("payment-1", now, now))
		f.mock.ExpectExec(`INSERT INTO payment_audits`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		f.mock.ExpectCommit()

		resp, err := f.svc.CreateOrder(guestPurchaser(), &models.CreateOrderRequest{
			TripID:        "trip-1",
			SeatIDs:       []string{"seat-a", "seat-b"},
			PaymentMethod: "card",
		}, nil)
		require.NoError(t, err)

		assert.Equal(t, 220000.0, resp.Order.TotalBasePrice)
		assert.Zero(t, resp.Order.TotalDiscount)
		assert.Equal(t, 220000.0, resp.Order.TotalFinalPrice)
		assert.Equal(t, models.OrderStatusPending, resp.Order.Status)
		assert.Contains(t, resp.PaymentURL, "https://pay.test/")

		// gateway charged with the final price
		require.Len(t, f.gateway.initiated, 1)
		assert.Equal(t, 220000.0, f.gateway.initiated[0].Amount)

		// post-commit side effects fired
		assert.Len(t, f.notifier.sent, 1)
		assert.Len(t, f.realtime.seatUpdates["trip-1"], 2)

		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("Gateway Failure Rolls Everything Back", func(t *testing.T) {
		f := newBookingFixture(t)
		f.gateway.initiateErr = apperrors.Gateway(fmt.Errorf("timeout"), "gateway unreachable")

		f.mock.ExpectBegin()
		f.mock.ExpectQuery(`FROM trips WHERE id =`).
			WithArgs("trip-1").
			WillReturnRows(scheduledTripRow("trip-1", departure))
		f.mock.ExpectQuery(`FOR UPDATE`).
			WithArgs("seat-a", "seat-b").
			WillReturnRows(lockableSeatRows("trip-1"))
		f.mock.ExpectQuery(`SELECT COUNT\(\*\) FROM orders`).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
		f.mock.ExpectQuery(`INSERT INTO orders`).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).
				AddRow("order-1", now, now))
		f.mock.ExpectQuery(`INSERT INTO tickets`).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).
				AddRow("ticket-1", now, now))
		f.mock.ExpectQuery(`INSERT INTO tickets`).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).
				AddRow("ticket-2", now, now))
		f.mock.ExpectExec(`SET status = 'reserved'`).
			WillReturnResult(sqlmock.NewResult(0, 2))
		// failure audit is written on the pool, outside the dying transaction
		f.mock.ExpectExec(`INSERT INTO payment_audits`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		f.mock.ExpectRollback()

		_, err := f.svc.CreateOrder(guestPurchaser(), &models.CreateOrderRequest{
			TripID:        "trip-1",
			SeatIDs:       []string{"seat-a", "seat-b"},
			PaymentMethod: "card",
		}, nil)
		require.Error(t, err)
		assert.True(t, apperrors.Is(err, apperrors.KindGateway))
		assert.Empty(t, f.notifier.sent)
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("Departed Trip Rejected", func(t *testing.T) {
		f := newBookingFixture(t)

		f.mock.ExpectBegin()
		f.mock.ExpectQuery(`FROM trips WHERE id =`).
			WithArgs("trip-1").
			WillReturnRows(scheduledTripRow("trip-1", now.Add(-time.Hour)))
		f.mock.ExpectRollback()

		_, err := f.svc.CreateOrder(guestPurchaser(), &models.CreateOrderRequest{
			TripID:        "trip-1",
			SeatIDs:       []string{"seat-a"},
			PaymentMethod: "card",
		}, nil)
		require.Error(t, err)
		assert.True(t, apperrors.Is(err, apperrors.KindExpired))
	})

	t.Run("Taken Seat Rejected", func(t *testing.T) {
		f := newBookingFixture(t)
		taken := time.Now()
		rows := sqlmock.NewRows([]string{
			"id", "trip_id", "seat_number", "seat_type", "floor_number", "row_number",
			"column_number", "price", "status", "reserved_by", "reserved_until",
			"created_at", "updated_at",
		}).AddRow("seat-a", "trip-1", "1A", "standard", 1, 1, 1, 100000.0,
			models.SeatStatusReserved, nil, nil, taken, taken)

		f.mock.ExpectBegin()
		f.mock.ExpectQuery(`FROM trips WHERE id =`).
			WithArgs("trip-1").
			WillReturnRows(scheduledTripRow("trip-1", departure))
		f.mock.ExpectQuery(`FOR UPDATE`).
			WithArgs("seat-a").
			WillReturnRows(rows)
		f.mock.ExpectRollback()

		_, err := f.svc.CreateOrder(guestPurchaser(), &models.CreateOrderRequest{
			TripID:        "trip-1",
			SeatIDs:       []string{"seat-a"},
			PaymentMethod: "card",
		}, nil)
		require.Error(t, err)
		assert.True(t, apperrors.Is(err, apperrors.KindConflict))
	})

	t.Run("Guest Without Email Rejected", func(t *testing.T) {
		f := newBookingFixture(t)

		_, err := f.svc.CreateOrder(models.Purchaser{}, &models.CreateOrderRequest{
			TripID:        "trip-1",
			SeatIDs:       []string{"seat-a"},
			PaymentMethod: "card",
		}, nil)
		require.Error(t, err)
		assert.True(t, apperrors.Is(err, apperrors.KindValidation))
	})
}

// ============================================================================
// CONFIRM PAYMENT
// ============================================================================

func paymentRowWithStatus(orderID string, status models.PaymentStatus) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "order_id", "amount", "currency", "method_code", "status",
		"gateway_ref", "gateway_response", "expires_at", "created_at", "updated_at",
	}).AddRow("payment-1", orderID, 220000.0, "LKR", "card",
		status, "GW-1", []byte(`{}`), nil, now, now)
}

func pendingPaymentRow(orderID string) *sqlmock.Rows {
	return paymentRowWithStatus(orderID, models.PaymentStatusPending)
}

func lockedOrderRows(orderID string) (*sqlmock.Rows, *sqlmock.Rows) {
	now := time.Now()
	order := sqlmock.NewRows([]string{
		"id", "booking_reference", "user_id", "guest_name", "guest_email",
		"guest_phone", "total_base_price", "total_discount", "total_final_price",
		"status", "device_info", "created_at", "updated_at",
	}).AddRow(orderID, "BK-20260828-A1B2C3", nil, "Nimal Perera", "nimal@example.com",
		nil, 220000.0, 0.0, 220000.0, models.OrderStatusPending, nil, now, now)
	tickets := sqlmock.NewRows([]string{
		"id", "order_id", "seat_id", "base_price", "final_price", "status",
		"qr_code_data", "created_at", "updated_at",
	}).
		AddRow("ticket-1", orderID, "seat-a", 100000.0, 100000.0, models.TicketStatusPending, nil, now, now).
		AddRow("ticket-2", orderID, "seat-b", 120000.0, 120000.0, models.TicketStatusPending, nil, now, now)
	return order, tickets
}

func TestConfirmPayment(t *testing.T) {
	departure := time.Now().Add(48 * time.Hour)

	t.Run("Success Books Seats And Issues QR", func(t *testing.T) {
		f := newBookingFixture(t)
		orderRows, ticketRows := lockedOrderRows("order-1")

		f.mock.ExpectBegin()
		f.mock.ExpectQuery(`FROM payments WHERE gateway_ref =`).
			WithArgs("GW-1").
			WillReturnRows(pendingPaymentRow("order-1"))
		f.mock.ExpectQuery(`FROM orders WHERE id = (.+) FOR UPDATE`).
			WithArgs("order-1").
			WillReturnRows(orderRows)
		f.mock.ExpectQuery(`FROM tickets WHERE order_id = (.+) ORDER BY id FOR UPDATE`).
			WithArgs("order-1").
			WillReturnRows(ticketRows)
		f.mock.ExpectQuery(`FROM payments WHERE gateway_ref =`).
			WithArgs("GW-1").
			WillReturnRows(pendingPaymentRow("order-1"))
		f.mock.ExpectQuery(`JOIN seats s ON s.trip_id = t.id`).
			WithArgs("seat-a").
			WillReturnRows(scheduledTripRow("trip-1", departure))
		f.mock.ExpectExec(`UPDATE tickets`).
			WillReturnResult(sqlmock.NewResult(0, 2))
		f.mock.ExpectExec(`SET qr_code_data =`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		f.mock.ExpectExec(`SET qr_code_data =`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		f.mock.ExpectExec(`SET status = 'booked'`).
			WillReturnResult(sqlmock.NewResult(0, 2))
		f.mock.ExpectExec(`UPDATE payments SET status =`).
			WithArgs(models.PaymentStatusCompleted, "payment-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		f.mock.ExpectExec(`UPDATE orders SET status =`).
			WithArgs(models.OrderStatusCompleted, "order-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		f.mock.ExpectExec(`INSERT INTO payment_audits`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		f.mock.ExpectCommit()

		order, err := f.svc.ConfirmPayment("GW-1", true)
		require.NoError(t, err)
		assert.Equal(t, models.OrderStatusCompleted, order.Status)
		assert.Len(t, f.realtime.seatUpdates["trip-1"], 2)
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("Failure Voids Order And Releases Seats", func(t *testing.T) {
		f := newBookingFixture(t)
		orderRows, ticketRows := lockedOrderRows("order-1")

		f.mock.ExpectBegin()
		f.mock.ExpectQuery(`FROM payments WHERE gateway_ref =`).
			WithArgs("GW-1").
			WillReturnRows(pendingPaymentRow("order-1"))
		f.mock.ExpectQuery(`FROM orders WHERE id = (.+) FOR UPDATE`).
			WithArgs("order-1").
			WillReturnRows(orderRows)
		f.mock.ExpectQuery(`FROM tickets WHERE order_id = (.+) ORDER BY id FOR UPDATE`).
			WithArgs("order-1").
			WillReturnRows(ticketRows)
		f.mock.ExpectQuery(`FROM payments WHERE gateway_ref =`).
			WithArgs("GW-1").
			WillReturnRows(pendingPaymentRow("order-1"))
		f.mock.ExpectQuery(`JOIN seats s ON s.trip_id = t.id`).
			WithArgs("seat-a").
			WillReturnRows(scheduledTripRow("trip-1", departure))
		f.mock.ExpectExec(`UPDATE tickets`).
			WillReturnResult(sqlmock.NewResult(0, 2))
		f.mock.ExpectExec(`SET status = 'available'`).
			WillReturnResult(sqlmock.NewResult(0, 2))
		f.mock.ExpectExec(`UPDATE payments SET status =`).
			WithArgs(models.PaymentStatusFailed, "payment-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		f.mock.ExpectExec(`UPDATE orders SET status =`).
			WithArgs(models.OrderStatusCancelled, "order-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		f.mock.ExpectExec(`INSERT INTO payment_audits`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		f.mock.ExpectCommit()

		order, err := f.svc.ConfirmPayment("GW-1", false)
		require.NoError(t, err)
		assert.Equal(t, models.OrderStatusCancelled, order.Status)
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("Duplicate Webhook Is A NoOp", func(t *testing.T) {
		f := newBookingFixture(t)
		orderRows, ticketRows := lockedOrderRows("order-1")

		f.mock.ExpectBegin()
		f.mock.ExpectQuery(`FROM payments WHERE gateway_ref =`).
			WithArgs("GW-1").
			WillReturnRows(pendingPaymentRow("order-1"))
		f.mock.ExpectQuery(`FROM orders WHERE id = (.+) FOR UPDATE`).
			WithArgs("order-1").
			WillReturnRows(orderRows)
		f.mock.ExpectQuery(`FROM tickets WHERE order_id = (.+) ORDER BY id FOR UPDATE`).
			WithArgs("order-1").
			WillReturnRows(ticketRows)
		// the first webhook settled the payment while this one waited on
		// the order lock
		f.mock.ExpectQuery(`FROM payments WHERE gateway_ref =`).
			WithArgs("GW-1").
			WillReturnRows(paymentRowWithStatus("order-1", models.PaymentStatusCompleted))
		f.mock.ExpectCommit()

		order, err := f.svc.ConfirmPayment("GW-1", true)
		require.NoError(t, err)
		require.NotNil(t, order)
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("Unknown Gateway Reference", func(t *testing.T) {
		f := newBookingFixture(t)

		f.mock.ExpectBegin()
		f.mock.ExpectQuery(`FROM payments WHERE gateway_ref =`).
			WithArgs("GW-MISSING").
			WillReturnRows(sqlmock.NewRows([]string{
				"id", "order_id", "amount", "currency", "method_code", "status",
				"gateway_ref", "gateway_response", "expires_at", "created_at", "updated_at",
			}))
		f.mock.ExpectRollback()

		_, err := f.svc.ConfirmPayment("GW-MISSING", true)
		require.Error(t, err)
		assert.True(t, apperrors.Is(err, apperrors.KindNotFound))
	})
}
