package database

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/islandtransit/bus-booking-backend/internal/models"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

// PaymentAuditRepository handles payment audit operations
type PaymentAuditRepository struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// NewPaymentAuditRepository creates a new payment audit repository
func NewPaymentAuditRepository(db *sqlx.DB, logger *logrus.Logger) *PaymentAuditRepository {
	return &PaymentAuditRepository{
		db:     db,
		logger: logger,
	}
}

// Log creates a new payment audit entry
// This should NEVER fail silently - payment events must be logged
func (r *PaymentAuditRepository) Log(q Queryer, audit *models.PaymentAudit) error {
	if audit == nil {
		return fmt.Errorf("audit entry cannot be nil")
	}

	if audit.ID == uuid.Nil {
		audit.ID = uuid.New()
	}
	if audit.CreatedAt.IsZero() {
		audit.CreatedAt = time.Now()
	}

	query := q.Rebind(`
		INSERT INTO payment_audits (
			id, order_id, payment_id,
			event_type, event_source,
			expected_amount, received_amount, currency, amounts_match,
			payment_status, gateway_ref, error_message, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)

	_, err := q.Exec(query,
		audit.ID, audit.OrderID, audit.PaymentID,
		audit.EventType, audit.EventSource,
		audit.ExpectedAmount, audit.ReceivedAmount, audit.Currency, audit.AmountsMatch,
		audit.PaymentStatus, audit.GatewayRef, audit.ErrorMessage, audit.CreatedAt,
	)
	if err != nil {
		r.logger.WithError(err).WithFields(logrus.Fields{
			"event_type": audit.EventType,
			"order_id":   audit.OrderID,
		}).Error("Failed to write payment audit entry")
		return fmt.Errorf("failed to write payment audit: %w", err)
	}

	return nil
}

// ListByOrder returns an order's audit trail, oldest first
func (r *PaymentAuditRepository) ListByOrder(orderID string) ([]models.PaymentAudit, error) {
	query := `
		SELECT id, order_id, payment_id, event_type, event_source,
			   expected_amount, received_amount, currency, amounts_match,
			   payment_status, gateway_ref, error_message, created_at
		FROM payment_audits
		WHERE order_id = $1
		ORDER BY created_at
	`

	var audits []models.PaymentAudit
	if err := r.db.Select(&audits, query, orderID); err != nil {
		return nil, fmt.Errorf("failed to list payment audits: %w", err)
	}

	return audits, nil
}

// LogDirect writes an audit entry on the pool connection, outside any
// transaction. Used for events that must survive a rolled-back scope.
func (r *PaymentAuditRepository) LogDirect(audit *models.PaymentAudit) error {
	return r.Log(r.db, audit)
}
