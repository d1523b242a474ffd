package services

import (
	"github.com/google/uuid"

	"github.com/islandtransit/bus-booking-backend/internal/models"
)

// InitiatePaymentParams contains everything needed to start a payment
type InitiatePaymentParams struct {
	OrderID       string
	InvoiceID     string
	MethodCode    string
	Amount        float64
	Currency      string
	CustomerName  string
	CustomerEmail string
	CustomerPhone string
	Description   string
}

// InitiatePaymentResult is returned by a successful gateway handshake
type InitiatePaymentResult struct {
	PaymentURL  string
	GatewayRef  string
	RawResponse []byte
}

// RefundResult is returned by a successful gateway refund
type RefundResult struct {
	GatewayRef  string
	RawResponse []byte
}

// PaymentGateway is the abstract contract of the external payment provider.
// Both operations are callable from within an open database transaction;
// their failure aborts the enclosing atomic scope.
type PaymentGateway interface {
	Initiate(params InitiatePaymentParams) (*InitiatePaymentResult, error)
	Refund(gatewayRef string, amount float64, reason string) (*RefundResult, error)
}

// Notification is a best-effort message to a purchaser
type Notification struct {
	UserID   *uuid.UUID             `json:"user_id,omitempty"`
	Email    string                 `json:"email,omitempty"`
	Title    string                 `json:"title"`
	Content  string                 `json:"content"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Notifier delivers purchase/refund notifications. Fire-and-forget: callers
// log failures and never let them reach the critical path.
type Notifier interface {
	Notify(n Notification) error
}

// RealtimePublisher fans out seat and order state changes to subscribed
// clients. At-most-once semantics; clients reconcile via polling.
type RealtimePublisher interface {
	PublishSeatUpdate(tripID string, seats []models.SeatUpdate) error
	PublishOrderEvent(orderID string, event string, payload map[string]interface{}) error
}
