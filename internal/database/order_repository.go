package database

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/islandtransit/bus-booking-backend/internal/models"
	"github.com/jmoiron/sqlx"
)

// OrderRepository handles order and ticket database operations
type OrderRepository struct {
	db *sqlx.DB
}

// NewOrderRepository creates a new OrderRepository
func NewOrderRepository(db *sqlx.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

const orderColumns = `id, booking_reference, user_id, guest_name, guest_email, guest_phone,
	   total_base_price, total_discount, total_final_price, status, device_info,
	   created_at, updated_at`

const ticketColumns = `id, order_id, seat_id, base_price, final_price, status,
	   qr_code_data, created_at, updated_at`

// GenerateBookingReference generates a unique booking reference
// Format: BK-YYYYMMDD-XXXXXX (6 char alphanumeric)
// Example: BK-20260828-A1B2C3
func (r *OrderRepository) GenerateBookingReference(q Queryer) (string, error) {
	todayStr := time.Now().Format("20060102")

	for attempts := 0; attempts < 10; attempts++ {
		randomBytes := make([]byte, 3)
		if _, err := rand.Read(randomBytes); err != nil {
			return "", fmt.Errorf("failed to generate random bytes: %w", err)
		}
		randomStr := strings.ToUpper(hex.EncodeToString(randomBytes))

		newRef := fmt.Sprintf("BK-%s-%s", todayStr, randomStr)

		var count int
		err := q.Get(&count, q.Rebind(`SELECT COUNT(*) FROM orders WHERE booking_reference = ?`), newRef)
		if err != nil {
			return "", fmt.Errorf("failed to check reference uniqueness: %w", err)
		}

		if count == 0 {
			return newRef, nil
		}
	}

	return "", fmt.Errorf("failed to generate unique booking reference after 10 attempts")
}

// GenerateTicketQR generates a unique QR payload for a ticket
// Format: QR-YYYYMMDDHHMMSS-XXXXXXXX (8 char alphanumeric)
func (r *OrderRepository) GenerateTicketQR() (string, error) {
	randomBytes := make([]byte, 4)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	randomStr := strings.ToUpper(hex.EncodeToString(randomBytes))

	return fmt.Sprintf("QR-%s-%s", time.Now().Format("20060102150405"), randomStr), nil
}

// CreateOrder inserts an order with its tickets. Must run inside the booking
// orchestrator's transaction so seats, tickets and coupon usage commit as one.
func (r *OrderRepository) CreateOrder(q Queryer, order *models.Order, tickets []models.Ticket) error {
	ref, err := r.GenerateBookingReference(q)
	if err != nil {
		return err
	}
	order.BookingReference = ref

	orderQuery := q.Rebind(`
		INSERT INTO orders (
			booking_reference, user_id, guest_name, guest_email, guest_phone,
			total_base_price, total_discount, total_final_price, status, device_info
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id, created_at, updated_at
	`)

	err = q.QueryRowx(orderQuery,
		order.BookingReference,
		order.UserID,
		order.GuestName,
		order.GuestEmail,
		order.GuestPhone,
		order.TotalBasePrice,
		order.TotalDiscount,
		order.TotalFinalPrice,
		order.Status,
		order.DeviceInfo,
	).Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}

	ticketQuery := q.Rebind(`
		INSERT INTO tickets (order_id, seat_id, base_price, final_price, status)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id, created_at, updated_at
	`)

	for i := range tickets {
		tickets[i].OrderID = order.ID
		err = q.QueryRowx(ticketQuery,
			tickets[i].OrderID,
			tickets[i].SeatID,
			tickets[i].BasePrice,
			tickets[i].FinalPrice,
			tickets[i].Status,
		).Scan(&tickets[i].ID, &tickets[i].CreatedAt, &tickets[i].UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to create ticket for seat %s: %w", tickets[i].SeatID, err)
		}
	}

	order.Tickets = tickets
	return nil
}

// GetByID returns an order with its tickets, or nil if it does not exist
func (r *OrderRepository) GetByID(q Queryer, id string) (*models.Order, error) {
	var order models.Order
	err := q.Get(&order, q.Rebind(`SELECT `+orderColumns+` FROM orders WHERE id = ?`), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}

	tickets, err := r.getTickets(q, id, false)
	if err != nil {
		return nil, err
	}
	order.Tickets = tickets

	return &order, nil
}

// GetByIDForUpdate loads an order and its tickets under exclusive row locks.
// The refund orchestrator uses this so ticket state cannot change underneath
// a running refund.
func (r *OrderRepository) GetByIDForUpdate(q Queryer, id string) (*models.Order, error) {
	var order models.Order
	err := q.Get(&order, q.Rebind(`SELECT `+orderColumns+` FROM orders WHERE id = ? FOR UPDATE`), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to lock order: %w", err)
	}

	tickets, err := r.getTickets(q, id, true)
	if err != nil {
		return nil, err
	}
	order.Tickets = tickets

	return &order, nil
}

func (r *OrderRepository) getTickets(q Queryer, orderID string, forUpdate bool) ([]models.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE order_id = ? ORDER BY id`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var tickets []models.Ticket
	if err := q.Select(&tickets, q.Rebind(query), orderID); err != nil {
		return nil, fmt.Errorf("failed to get order tickets: %w", err)
	}

	return tickets, nil
}

// UpdateStatus sets an order's status
func (r *OrderRepository) UpdateStatus(q Queryer, id string, status models.OrderStatus) error {
	_, err := q.Exec(q.Rebind(`UPDATE orders SET status = ?, updated_at = NOW() WHERE id = ?`), status, id)
	if err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}
	return nil
}

// UpdateTicketStatus transitions tickets to a new status, but only from the
// allowed source statuses. Returns the number of rows actually moved so the
// caller can detect an illegal transition.
func (r *OrderRepository) UpdateTicketStatus(q Queryer, ticketIDs []string, from []models.TicketStatus, to models.TicketStatus) (int, error) {
	if len(ticketIDs) == 0 {
		return 0, nil
	}

	fromStr := make([]string, len(from))
	for i, s := range from {
		fromStr[i] = string(s)
	}

	query, args, err := sqlx.In(`
		UPDATE tickets
		SET status = ?, updated_at = NOW()
		WHERE id IN (?) AND status IN (?)
	`, to, ticketIDs, fromStr)
	if err != nil {
		return 0, fmt.Errorf("failed to build ticket update query: %w", err)
	}
	query = q.Rebind(query)

	result, err := q.Exec(query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to update ticket status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read ticket update result: %w", err)
	}

	return int(affected), nil
}

// SetTicketQR stores the QR payload for a ticket
func (r *OrderRepository) SetTicketQR(q Queryer, ticketID, qrData string) error {
	_, err := q.Exec(q.Rebind(`UPDATE tickets SET qr_code_data = ?, updated_at = NOW() WHERE id = ?`), qrData, ticketID)
	if err != nil {
		return fmt.Errorf("failed to set ticket QR: %w", err)
	}
	return nil
}

// TicketWithSeat joins a ticket with its seat for cascade processing
type TicketWithSeat struct {
	models.Ticket
	TripID     string `db:"trip_id"`
	SeatNumber string `db:"seat_number"`
}

// GetTicketsByTripForUpdate returns all tickets sold against a trip's seats,
// locked, ordered by order id so the cascade can group them per order.
func (r *OrderRepository) GetTicketsByTripForUpdate(q Queryer, tripID string) ([]TicketWithSeat, error) {
	query := q.Rebind(`
		SELECT t.id, t.order_id, t.seat_id, t.base_price, t.final_price, t.status,
			   t.qr_code_data, t.created_at, t.updated_at,
			   s.trip_id, s.seat_number
		FROM tickets t
		JOIN seats s ON s.id = t.seat_id
		WHERE s.trip_id = ?
		ORDER BY t.order_id, t.id
		FOR UPDATE OF t
	`)

	var tickets []TicketWithSeat
	if err := q.Select(&tickets, query, tripID); err != nil {
		return nil, fmt.Errorf("failed to get trip tickets: %w", err)
	}

	return tickets, nil
}

// ListByUser returns a user's orders, newest first, with pagination
func (r *OrderRepository) ListByUser(userID uuid.UUID, limit, offset int) ([]models.Order, error) {
	return r.list(`user_id = $1`, userID, limit, offset)
}

// ListByGuest returns a guest's orders matched by contact email
func (r *OrderRepository) ListByGuest(email string, limit, offset int) ([]models.Order, error) {
	return r.list(`guest_email = $1`, email, limit, offset)
}

func (r *OrderRepository) list(where string, arg interface{}, limit, offset int) ([]models.Order, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE ` + where + `
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	var orders []models.Order
	if err := r.db.Select(&orders, query, arg, limit, offset); err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}

	for i := range orders {
		tickets, err := r.getTickets(r.db, orders[i].ID, false)
		if err != nil {
			return nil, err
		}
		orders[i].Tickets = tickets
	}

	return orders, nil
}
