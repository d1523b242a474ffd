package models

import (
	"time"
)

// PaymentStatus represents the status of a payment
type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusProcessing PaymentStatus = "processing"
	PaymentStatusCompleted  PaymentStatus = "completed"
	PaymentStatusFailed     PaymentStatus = "failed"
	PaymentStatusCancelled  PaymentStatus = "cancelled"
	PaymentStatusExpired    PaymentStatus = "expired"
)

// Payment is the single active payment record of an order. The raw gateway
// response is stored sealed; it is never served to callers.
type Payment struct {
	ID              string        `json:"id" db:"id"`
	OrderID         string        `json:"order_id" db:"order_id"`
	Amount          float64       `json:"amount" db:"amount"`
	Currency        string        `json:"currency" db:"currency"`
	MethodCode      string        `json:"method_code" db:"method_code"`
	Status          PaymentStatus `json:"status" db:"status"`
	GatewayRef      *string       `json:"gateway_ref,omitempty" db:"gateway_ref"`
	GatewayResponse []byte        `json:"-" db:"gateway_response"`
	ExpiresAt       *time.Time    `json:"expires_at,omitempty" db:"expires_at"`
	CreatedAt       time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at" db:"updated_at"`
}

// IsCompleted reports whether money was actually captured for this payment.
func (p *Payment) IsCompleted() bool {
	return p.Status == PaymentStatusCompleted
}
