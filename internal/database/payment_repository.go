package database

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/islandtransit/bus-booking-backend/internal/models"
	"github.com/jmoiron/sqlx"
)

// PaymentRepository handles payment database operations
type PaymentRepository struct {
	db *sqlx.DB
}

// NewPaymentRepository creates a new PaymentRepository
func NewPaymentRepository(db *sqlx.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

const paymentColumns = `id, order_id, amount, currency, method_code, status,
	   gateway_ref, gateway_response, expires_at, created_at, updated_at`

// Create inserts a pending payment record for an order. Runs inside the
// booking orchestrator's transaction, after the gateway handshake succeeds.
func (r *PaymentRepository) Create(q Queryer, payment *models.Payment) error {
	query := q.Rebind(`
		INSERT INTO payments (
			order_id, amount, currency, method_code, status,
			gateway_ref, gateway_response, expires_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id, created_at, updated_at
	`)

	err := q.QueryRowx(query,
		payment.OrderID,
		payment.Amount,
		payment.Currency,
		payment.MethodCode,
		payment.Status,
		payment.GatewayRef,
		payment.GatewayResponse,
		payment.ExpiresAt,
	).Scan(&payment.ID, &payment.CreatedAt, &payment.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}

	return nil
}

// GetActiveByOrderID returns the order's single non-terminal payment, or the
// most recent completed one when no pending payment exists. Nil when the
// order has no payment at all.
func (r *PaymentRepository) GetActiveByOrderID(q Queryer, orderID string) (*models.Payment, error) {
	query := q.Rebind(`
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE order_id = ? AND status NOT IN ('failed', 'cancelled', 'expired')
		ORDER BY created_at DESC
		LIMIT 1
	`)

	var payment models.Payment
	err := q.Get(&payment, query, orderID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}

	return &payment, nil
}

// GetByGatewayRef returns the payment carrying a gateway transaction
// reference, used to resolve confirmation callbacks.
func (r *PaymentRepository) GetByGatewayRef(q Queryer, ref string) (*models.Payment, error) {
	var payment models.Payment
	err := q.Get(&payment, q.Rebind(`SELECT `+paymentColumns+` FROM payments WHERE gateway_ref = ?`), ref)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get payment by gateway ref: %w", err)
	}

	return &payment, nil
}

// UpdateStatus sets a payment's status
func (r *PaymentRepository) UpdateStatus(q Queryer, id string, status models.PaymentStatus) error {
	result, err := q.Exec(q.Rebind(`UPDATE payments SET status = ?, updated_at = NOW() WHERE id = ?`), status, id)
	if err != nil {
		return fmt.Errorf("failed to update payment status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read payment update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("payment %s not found", id)
	}

	return nil
}
