package database

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/islandtransit/bus-booking-backend/internal/models"
)

func couponRow(c models.Coupon) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "code", "type", "value", "start_period", "end_period", "is_active",
		"max_usage", "current_usage_count", "created_at", "updated_at",
	}).AddRow(c.ID, c.Code, c.Type, c.Value, c.StartPeriod, c.EndPeriod, c.IsActive,
		c.MaxUsage, c.CurrentUsageCount, c.CreatedAt, c.UpdatedAt)
}

func TestGetCouponByCodeForUpdate(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCouponRepository(db)
	now := time.Now()

	t.Run("Success", func(t *testing.T) {
		coupon := models.Coupon{
			ID: "coupon-1", Code: "SAVE10", Type: models.CouponTypePercentage, Value: 10,
			StartPeriod: now.Add(-time.Hour), EndPeriod: now.Add(time.Hour),
			IsActive: true, MaxUsage: 100, CurrentUsageCount: 5,
			CreatedAt: now, UpdatedAt: now,
		}

		mock.ExpectQuery(`FROM coupons WHERE code = (.+) FOR UPDATE`).
			WithArgs("SAVE10").
			WillReturnRows(couponRow(coupon))

		got, err := repo.GetByCodeForUpdate(db, "SAVE10")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "SAVE10", got.Code)
		assert.Equal(t, 5, got.CurrentUsageCount)
	})

	t.Run("Unknown Code", func(t *testing.T) {
		mock.ExpectQuery(`FROM coupons WHERE code = (.+) FOR UPDATE`).
			WithArgs("NOPE").
			WillReturnRows(sqlmock.NewRows([]string{
				"id", "code", "type", "value", "start_period", "end_period", "is_active",
				"max_usage", "current_usage_count", "created_at", "updated_at",
			}))

		got, err := repo.GetByCodeForUpdate(db, "NOPE")
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

func TestRecordCouponUsage(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCouponRepository(db)
	userID := uuid.New()

	t.Run("Success", func(t *testing.T) {
		usage := &models.CouponUsage{
			CouponID:       "coupon-1",
			OrderID:        "order-1",
			UserID:         &userID,
			DiscountAmount: 500,
		}

		mock.ExpectExec(`SET current_usage_count = current_usage_count \+ 1`).
			WithArgs("coupon-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(`INSERT INTO coupon_usages`).
			WithArgs("coupon-1", "order-1", sqlmock.AnyArg(), 500.0).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).
				AddRow("usage-1", time.Now()))

		err := repo.RecordUsage(db, usage)
		require.NoError(t, err)
		assert.Equal(t, "usage-1", usage.ID)
	})

	t.Run("Cap Reached", func(t *testing.T) {
		usage := &models.CouponUsage{CouponID: "coupon-1", OrderID: "order-2"}

		mock.ExpectExec(`SET current_usage_count = current_usage_count \+ 1`).
			WithArgs("coupon-1").
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := repo.RecordUsage(db, usage)
		assert.Error(t, err)
	})
}

func TestReverseUsageForOrder(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCouponRepository(db)
	userID := uuid.New()

	t.Run("Success", func(t *testing.T) {
		mock.ExpectQuery(`FROM coupon_usages`).
			WithArgs("order-1").
			WillReturnRows(sqlmock.NewRows([]string{
				"id", "coupon_id", "order_id", "user_id", "discount_amount", "created_at",
			}).AddRow("usage-1", "coupon-1", "order-1", userID, 500.0, time.Now()))
		mock.ExpectExec(`DELETE FROM coupon_usages`).
			WithArgs("usage-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`GREATEST\(current_usage_count - 1, 0\)`).
			WithArgs("coupon-1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, repo.ReverseUsageForOrder(db, "order-1"))
	})

	t.Run("No Usage Is NoOp", func(t *testing.T) {
		mock.ExpectQuery(`FROM coupon_usages`).
			WithArgs("order-2").
			WillReturnRows(sqlmock.NewRows([]string{
				"id", "coupon_id", "order_id", "user_id", "discount_amount", "created_at",
			}))

		assert.NoError(t, repo.ReverseUsageForOrder(db, "order-2"))
	})
}

func TestCountUsagesByUser(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCouponRepository(db)
	userID := uuid.New()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM coupon_usages`).
		WithArgs("coupon-1", userID).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	count, err := repo.CountUsagesByUser(db, "coupon-1", userID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
