package database

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/islandtransit/bus-booking-backend/internal/models"
	"github.com/jmoiron/sqlx"
)

// CouponRepository handles coupon and coupon usage database operations
type CouponRepository struct {
	db *sqlx.DB
}

// NewCouponRepository creates a new CouponRepository
func NewCouponRepository(db *sqlx.DB) *CouponRepository {
	return &CouponRepository{db: db}
}

const couponColumns = `id, code, type, value, start_period, end_period, is_active,
	   max_usage, current_usage_count, created_at, updated_at`

// GetByCodeForUpdate loads a coupon under an exclusive row lock so the usage
// counter can be read-modify-written without lost updates under concurrent
// redemption. Returns nil when the code is unknown.
func (r *CouponRepository) GetByCodeForUpdate(q Queryer, code string) (*models.Coupon, error) {
	var coupon models.Coupon
	err := q.Get(&coupon, q.Rebind(`SELECT `+couponColumns+` FROM coupons WHERE code = ? FOR UPDATE`), code)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to lock coupon: %w", err)
	}

	return &coupon, nil
}

// CountUsagesByUser returns how many times a user has redeemed a coupon
func (r *CouponRepository) CountUsagesByUser(q Queryer, couponID string, userID uuid.UUID) (int, error) {
	var count int
	err := q.Get(&count, q.Rebind(`SELECT COUNT(*) FROM coupon_usages WHERE coupon_id = ? AND user_id = ?`), couponID, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to count coupon usages: %w", err)
	}

	return count, nil
}

// RecordUsage inserts one usage row and increments the coupon's counter. The
// increment is guarded against the cap so the counter can never pass
// max_usage even if the caller's earlier check raced.
func (r *CouponRepository) RecordUsage(q Queryer, usage *models.CouponUsage) error {
	result, err := q.Exec(q.Rebind(`
		UPDATE coupons
		SET current_usage_count = current_usage_count + 1, updated_at = NOW()
		WHERE id = ? AND current_usage_count < max_usage
	`), usage.CouponID)
	if err != nil {
		return fmt.Errorf("failed to increment coupon usage: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read coupon increment result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("coupon usage cap reached")
	}

	err = q.QueryRowx(q.Rebind(`
		INSERT INTO coupon_usages (coupon_id, order_id, user_id, discount_amount)
		VALUES (?, ?, ?, ?)
		RETURNING id, created_at
	`), usage.CouponID, usage.OrderID, usage.UserID, usage.DiscountAmount).
		Scan(&usage.ID, &usage.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record coupon usage: %w", err)
	}

	return nil
}

// ReverseUsageForOrder deletes the usage row of an order and decrements the
// coupon counter. Called when a full refund dissolves the order. No-op when
// the order never used a coupon.
func (r *CouponRepository) ReverseUsageForOrder(q Queryer, orderID string) error {
	var usage models.CouponUsage
	err := q.Get(&usage, q.Rebind(`
		SELECT id, coupon_id, order_id, user_id, discount_amount, created_at
		FROM coupon_usages
		WHERE order_id = ?
		FOR UPDATE
	`), orderID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("failed to load coupon usage: %w", err)
	}

	if _, err := q.Exec(q.Rebind(`DELETE FROM coupon_usages WHERE id = ?`), usage.ID); err != nil {
		return fmt.Errorf("failed to delete coupon usage: %w", err)
	}

	_, err = q.Exec(q.Rebind(`
		UPDATE coupons
		SET current_usage_count = GREATEST(current_usage_count - 1, 0), updated_at = NOW()
		WHERE id = ?
	`), usage.CouponID)
	if err != nil {
		return fmt.Errorf("failed to decrement coupon usage: %w", err)
	}

	return nil
}
