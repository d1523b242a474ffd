package services

import (
	"github.com/sirupsen/logrus"

	"github.com/islandtransit/bus-booking-backend/internal/apperrors"
	"github.com/islandtransit/bus-booking-backend/internal/models"
)

// PricingService computes per-seat fares. The trip price is authoritative;
// when the caller books only a sub-segment of a multi-stop route, the fare is
// scaled by the fraction of the route actually traveled.
type PricingService struct {
	logger *logrus.Logger
}

// NewPricingService creates a new PricingService
func NewPricingService(logger *logrus.Logger) *PricingService {
	return &PricingService{logger: logger}
}

// SegmentRatio returns the fraction of the route covered between two stops,
// clamped to [0,1]. A computed ratio of zero on a route with nonzero distance
// means the stop-distance data is missing or degenerate; the caller falls
// back to full fare rather than selling a free ticket.
func (s *PricingService) SegmentRatio(originKm, destKm, totalKm float64) float64 {
	if totalKm <= 0 {
		return 1
	}

	ratio := (destKm - originKm) / totalKm
	if ratio < 0 {
		ratio = 0
	}
	if ratio > 1 {
		ratio = 1
	}
	if ratio == 0 {
		s.logger.WithFields(logrus.Fields{
			"origin_km": originKm,
			"dest_km":   destKm,
			"total_km":  totalKm,
		}).Warn("Segment ratio computed as zero, falling back to full fare")
		return 1
	}

	return ratio
}

// SeatFare returns the fare for one seat. When boarding/alighting stops are
// given they must belong to the trip's route and be in travel order.
func (s *PricingService) SeatFare(seat *models.Seat, trip *models.Trip, boarding, alighting *models.RouteStop) (float64, error) {
	if boarding == nil || alighting == nil {
		return seat.Price, nil
	}

	if boarding.RouteID != trip.RouteID || alighting.RouteID != trip.RouteID {
		return 0, apperrors.Validation("boarding and alighting stops must belong to the trip route")
	}
	if alighting.Sequence <= boarding.Sequence {
		return 0, apperrors.Validation("alighting stop must come after boarding stop")
	}

	ratio := s.SegmentRatio(boarding.DistanceKm, alighting.DistanceKm, trip.RouteDistanceKm)
	return seat.Price * ratio, nil
}
