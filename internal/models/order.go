package models

import (
	"time"

	"github.com/google/uuid"
)

// OrderStatus represents the status of a purchase order
type OrderStatus string

const (
	OrderStatusPending           OrderStatus = "pending"
	OrderStatusCompleted         OrderStatus = "completed"
	OrderStatusPartiallyRefunded OrderStatus = "partially_refunded"
	OrderStatusRefunded          OrderStatus = "refunded"
	OrderStatusCancelled         OrderStatus = "cancelled"
)

// TicketStatus represents the status of a single ticket
type TicketStatus string

const (
	TicketStatusPending   TicketStatus = "pending"
	TicketStatusBooked    TicketStatus = "booked"
	TicketStatusCompleted TicketStatus = "completed"
	TicketStatusCancelled TicketStatus = "cancelled"
	TicketStatusRefunded  TicketStatus = "refunded"
	TicketStatusInvalid   TicketStatus = "invalid"
)

// IsTerminal reports whether a ticket status accepts no further transitions.
func (s TicketStatus) IsTerminal() bool {
	switch s {
	case TicketStatusCancelled, TicketStatusRefunded, TicketStatusCompleted, TicketStatusInvalid:
		return true
	}
	return false
}

// Order groups one or more tickets bought in a single purchase. UserID is nil
// for guest checkouts, in which case the guest contact fields identify the
// purchaser. Discounts are tracked at order level only, never distributed
// across tickets.
type Order struct {
	ID               string      `json:"id" db:"id"`
	BookingReference string      `json:"booking_reference" db:"booking_reference"`
	UserID           *uuid.UUID  `json:"user_id,omitempty" db:"user_id"`
	GuestName        *string     `json:"guest_name,omitempty" db:"guest_name"`
	GuestEmail       *string     `json:"guest_email,omitempty" db:"guest_email"`
	GuestPhone       *string     `json:"guest_phone,omitempty" db:"guest_phone"`
	TotalBasePrice   float64     `json:"total_base_price" db:"total_base_price"`
	TotalDiscount    float64     `json:"total_discount" db:"total_discount"`
	TotalFinalPrice  float64     `json:"total_final_price" db:"total_final_price"`
	Status           OrderStatus `json:"status" db:"status"`
	DeviceInfo       JSONB       `json:"device_info,omitempty" db:"device_info"`
	CreatedAt        time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at" db:"updated_at"`

	Tickets []Ticket `json:"tickets,omitempty" db:"-"`
}

// PurchaserRef returns the identifier stamped onto reserved seats: the user
// id for authenticated purchases, otherwise the guest email.
func (o *Order) PurchaserRef() string {
	if o.UserID != nil {
		return o.UserID.String()
	}
	if o.GuestEmail != nil {
		return *o.GuestEmail
	}
	return ""
}

// Ticket binds exactly one seat to exactly one order. FinalPrice equals
// BasePrice because discounts live on the order, not the ticket.
type Ticket struct {
	ID         string       `json:"id" db:"id"`
	OrderID    string       `json:"order_id" db:"order_id"`
	SeatID     string       `json:"seat_id" db:"seat_id"`
	BasePrice  float64      `json:"base_price" db:"base_price"`
	FinalPrice float64      `json:"final_price" db:"final_price"`
	Status     TicketStatus `json:"status" db:"status"`
	QRCodeData *string      `json:"qr_code_data,omitempty" db:"qr_code_data"`
	CreatedAt  time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at" db:"updated_at"`
}

// Purchaser identifies who is buying: an authenticated user or a guest with
// at least an email address.
type Purchaser struct {
	UserID     *uuid.UUID `json:"user_id,omitempty"`
	GuestName  *string    `json:"guest_name,omitempty"`
	GuestEmail *string    `json:"guest_email,omitempty"`
	GuestPhone *string    `json:"guest_phone,omitempty"`
}

// CreateOrderRequest is the payload for the booking orchestrator.
type CreateOrderRequest struct {
	TripID        string   `json:"trip_id" binding:"required"`
	SeatIDs       []string `json:"seat_ids" binding:"required,min=1"`
	PaymentMethod string   `json:"payment_method" binding:"required"`
	CouponCode    *string  `json:"coupon_code,omitempty"`
	// Optional sub-segment of a multi-stop route for proportional fares.
	BoardingStopID  *string `json:"boarding_stop_id,omitempty"`
	AlightingStopID *string `json:"alighting_stop_id,omitempty"`

	GuestName  *string `json:"guest_name,omitempty"`
	GuestEmail *string `json:"guest_email,omitempty"`
	GuestPhone *string `json:"guest_phone,omitempty"`
}

// CreateOrderResponse is returned by the booking orchestrator on success.
type CreateOrderResponse struct {
	Order      *Order `json:"order"`
	PaymentURL string `json:"payment_url"`
}

// RefundTicketsRequest targets a subset of an order's tickets for refund.
type RefundTicketsRequest struct {
	TicketIDs []string `json:"ticket_ids" binding:"required,min=1"`
	Reason    string   `json:"reason"`
}

// CancelTicketsRequest targets a subset of an order's tickets for
// cancellation (refund or void depending on payment state).
type CancelTicketsRequest struct {
	TicketIDs []string `json:"ticket_ids" binding:"required,min=1"`
}
