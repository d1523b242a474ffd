package models

import (
	"time"

	"github.com/google/uuid"
)

// PaymentEventType represents the type of payment event
type PaymentEventType string

const (
	PaymentEventInitiated       PaymentEventType = "payment_initiated"
	PaymentEventResponse        PaymentEventType = "payment_response"
	PaymentEventSuccess         PaymentEventType = "payment_success"
	PaymentEventFailed          PaymentEventType = "payment_failed"
	PaymentEventCancelled       PaymentEventType = "payment_cancelled"
	PaymentEventRefundInitiated PaymentEventType = "refund_initiated"
	PaymentEventRefundCompleted PaymentEventType = "refund_completed"
	PaymentEventPartialRefund   PaymentEventType = "partial_refund"
	PaymentEventError           PaymentEventType = "error"
)

// PaymentEventSource identifies where the event originated
type PaymentEventSource string

const (
	PaymentSourceBackend PaymentEventSource = "backend"
	PaymentSourceGateway PaymentEventSource = "gateway"
	PaymentSourceSystem  PaymentEventSource = "system"
)

// PaymentAudit is an immutable audit log entry for payment events. One row is
// written per gateway interaction; the amounts-match flag feeds reconciliation.
type PaymentAudit struct {
	ID        uuid.UUID `json:"id" db:"id"`
	OrderID   *string   `json:"order_id,omitempty" db:"order_id"`
	PaymentID *string   `json:"payment_id,omitempty" db:"payment_id"`

	EventType   PaymentEventType   `json:"event_type" db:"event_type"`
	EventSource PaymentEventSource `json:"event_source" db:"event_source"`

	ExpectedAmount *float64 `json:"expected_amount,omitempty" db:"expected_amount"`
	ReceivedAmount *float64 `json:"received_amount,omitempty" db:"received_amount"`
	Currency       *string  `json:"currency,omitempty" db:"currency"`
	AmountsMatch   *bool    `json:"amounts_match,omitempty" db:"amounts_match"`

	PaymentStatus *string `json:"payment_status,omitempty" db:"payment_status"`
	GatewayRef    *string `json:"gateway_ref,omitempty" db:"gateway_ref"`

	ErrorMessage *string `json:"error_message,omitempty" db:"error_message"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// NewPaymentAudit creates a new payment audit entry with required fields
func NewPaymentAudit(eventType PaymentEventType, source PaymentEventSource) *PaymentAudit {
	return &PaymentAudit{
		ID:          uuid.New(),
		EventType:   eventType,
		EventSource: source,
		CreatedAt:   time.Now(),
	}
}

// SetOrder sets the order ID for the audit
func (pa *PaymentAudit) SetOrder(orderID string) *PaymentAudit {
	pa.OrderID = &orderID
	return pa
}

// SetPayment sets the payment record ID
func (pa *PaymentAudit) SetPayment(paymentID string) *PaymentAudit {
	pa.PaymentID = &paymentID
	return pa
}

// SetGatewayRef sets the gateway transaction reference
func (pa *PaymentAudit) SetGatewayRef(ref string) *PaymentAudit {
	pa.GatewayRef = &ref
	return pa
}

// SetAmounts sets and verifies amounts - returns whether they match
func (pa *PaymentAudit) SetAmounts(expected, received float64, currency string) bool {
	pa.ExpectedAmount = &expected
	pa.ReceivedAmount = &received
	pa.Currency = &currency
	match := expected == received
	pa.AmountsMatch = &match
	return match
}

// SetError records a failure message on the audit entry
func (pa *PaymentAudit) SetError(msg string) *PaymentAudit {
	pa.ErrorMessage = &msg
	return pa
}
