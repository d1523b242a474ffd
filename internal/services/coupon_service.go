package services

import (
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/islandtransit/bus-booking-backend/internal/apperrors"
	"github.com/islandtransit/bus-booking-backend/internal/database"
	"github.com/islandtransit/bus-booking-backend/internal/models"
)

// CouponService validates and prices coupon discounts. Evaluation locks the
// coupon row, so it must run inside the booking orchestrator's transaction;
// the usage counter is only consumed when Reserve is called and the scope
// commits.
type CouponService struct {
	couponRepo *database.CouponRepository
	logger     *logrus.Logger
}

// NewCouponService creates a new CouponService
func NewCouponService(couponRepo *database.CouponRepository, logger *logrus.Logger) *CouponService {
	return &CouponService{
		couponRepo: couponRepo,
		logger:     logger,
	}
}

// Evaluate validates a coupon code against an order total and returns the
// discount it would grant. The coupon row stays locked until the enclosing
// transaction ends.
func (s *CouponService) Evaluate(q database.Queryer, code string, orderTotal float64, userID *uuid.UUID, now time.Time) (*models.CouponEvaluation, error) {
	coupon, err := s.couponRepo.GetByCodeForUpdate(q, code)
	if err != nil {
		return nil, err
	}
	if coupon == nil {
		return nil, apperrors.NotFound("coupon %s not found", code)
	}

	if !coupon.IsActive {
		return nil, apperrors.InvalidState("coupon %s is not active", code)
	}
	if !coupon.InWindow(now) {
		return nil, apperrors.InvalidState("coupon %s is outside its validity period", code)
	}

	if coupon.CurrentUsageCount >= coupon.MaxUsage {
		return nil, apperrors.LimitExceeded("coupon %s has reached its usage limit", code)
	}

	if userID != nil {
		userCount, err := s.couponRepo.CountUsagesByUser(q, coupon.ID, *userID)
		if err != nil {
			return nil, err
		}
		if userCount >= coupon.MaxUsage {
			return nil, apperrors.LimitExceeded("coupon %s usage limit reached for this user", code)
		}
	}

	discount := coupon.Discount(orderTotal)

	s.logger.WithFields(logrus.Fields{
		"coupon_code": code,
		"order_total": orderTotal,
		"discount":    discount,
	}).Debug("Coupon evaluated")

	return &models.CouponEvaluation{
		Coupon:         coupon,
		DiscountAmount: discount,
	}, nil
}

// Reserve consumes one usage of the evaluated coupon for an order. Must run
// in the same transaction as Evaluate and the order insert.
func (s *CouponService) Reserve(q database.Queryer, eval *models.CouponEvaluation, orderID string, userID *uuid.UUID) error {
	usage := &models.CouponUsage{
		CouponID:       eval.Coupon.ID,
		OrderID:        orderID,
		UserID:         userID,
		DiscountAmount: eval.DiscountAmount,
	}

	if err := s.couponRepo.RecordUsage(q, usage); err != nil {
		return apperrors.Wrap(apperrors.KindLimitExceeded, err, "coupon %s could not be reserved", eval.Coupon.Code)
	}

	return nil
}

// Release reverses an order's coupon usage on full refund.
func (s *CouponService) Release(q database.Queryer, orderID string) error {
	return s.couponRepo.ReverseUsageForOrder(q, orderID)
}
