package models

import (
	"time"

	"github.com/google/uuid"
)

// CouponType represents how a coupon's value is applied
type CouponType string

const (
	CouponTypeFixed      CouponType = "fixed"
	CouponTypePercentage CouponType = "percentage"
)

// Coupon defines a discount campaign with an active window and usage caps.
type Coupon struct {
	ID                string     `json:"id" db:"id"`
	Code              string     `json:"code" db:"code"`
	Type              CouponType `json:"type" db:"type"`
	Value             float64    `json:"value" db:"value"`
	StartPeriod       time.Time  `json:"start_period" db:"start_period"`
	EndPeriod         time.Time  `json:"end_period" db:"end_period"`
	IsActive          bool       `json:"is_active" db:"is_active"`
	MaxUsage          int        `json:"max_usage" db:"max_usage"`
	CurrentUsageCount int        `json:"current_usage_count" db:"current_usage_count"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at" db:"updated_at"`
}

// InWindow reports whether the coupon is redeemable at the given time.
func (c *Coupon) InWindow(now time.Time) bool {
	return !now.Before(c.StartPeriod) && !now.After(c.EndPeriod)
}

// Discount computes the discount amount for an order total, clamped so the
// discount never exceeds the total.
func (c *Coupon) Discount(orderTotal float64) float64 {
	var discount float64
	switch c.Type {
	case CouponTypePercentage:
		discount = orderTotal * c.Value / 100
	default:
		discount = c.Value
	}
	if discount > orderTotal {
		discount = orderTotal
	}
	return discount
}

// CouponUsage records one redemption of a coupon against an order. Reversed
// (deleted, with the counter decremented) when the order is fully refunded.
type CouponUsage struct {
	ID             string     `json:"id" db:"id"`
	CouponID       string     `json:"coupon_id" db:"coupon_id"`
	OrderID        string     `json:"order_id" db:"order_id"`
	UserID         *uuid.UUID `json:"user_id,omitempty" db:"user_id"`
	DiscountAmount float64    `json:"discount_amount" db:"discount_amount"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
}

// CouponEvaluation is the outcome of evaluating a coupon code against an
// order total. The usage is only consumed when the enclosing order commits.
type CouponEvaluation struct {
	Coupon         *Coupon
	DiscountAmount float64
}
