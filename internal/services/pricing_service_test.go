package services

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/islandtransit/bus-booking-backend/internal/apperrors"
	"github.com/islandtransit/bus-booking-backend/internal/models"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestSegmentRatio(t *testing.T) {
	svc := NewPricingService(testLogger())

	tests := []struct {
		name     string
		originKm float64
		destKm   float64
		totalKm  float64
		want     float64
	}{
		{"Full Route", 0, 100, 100, 1},
		{"Half Route", 25, 75, 100, 0.5},
		{"Zero Total Distance", 0, 50, 0, 1},
		{"Degenerate Stop Data Falls Back To Full Fare", 40, 40, 100, 1},
		{"Reversed Stops Fall Back To Full Fare", 80, 30, 100, 1},
		{"Ratio Clamped To One", 0, 150, 100, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, svc.SegmentRatio(tt.originKm, tt.destKm, tt.totalKm), 1e-9)
		})
	}
}

func TestSeatFare(t *testing.T) {
	svc := NewPricingService(testLogger())

	trip := &models.Trip{ID: "trip-1", RouteID: "route-1", RouteDistanceKm: 200}
	seat := &models.Seat{ID: "seat-a", TripID: "trip-1", Price: 100000}

	t.Run("Full Fare Without Stops", func(t *testing.T) {
		fare, err := svc.SeatFare(seat, trip, nil, nil)
		require.NoError(t, err)
		assert.Equal(t, 100000.0, fare)
	})

	t.Run("Segment Fare", func(t *testing.T) {
		boarding := &models.RouteStop{RouteID: "route-1", Sequence: 1, DistanceKm: 50}
		alighting := &models.RouteStop{RouteID: "route-1", Sequence: 3, DistanceKm: 150}

		fare, err := svc.SeatFare(seat, trip, boarding, alighting)
		require.NoError(t, err)
		assert.InDelta(t, 50000.0, fare, 1e-9)
	})

	t.Run("Stop From Another Route", func(t *testing.T) {
		boarding := &models.RouteStop{RouteID: "route-2", Sequence: 1, DistanceKm: 0}
		alighting := &models.RouteStop{RouteID: "route-1", Sequence: 2, DistanceKm: 100}

		_, err := svc.SeatFare(seat, trip, boarding, alighting)
		require.Error(t, err)
		assert.True(t, apperrors.Is(err, apperrors.KindValidation))
	})

	t.Run("Stops Out Of Travel Order", func(t *testing.T) {
		boarding := &models.RouteStop{RouteID: "route-1", Sequence: 3, DistanceKm: 150}
		alighting := &models.RouteStop{RouteID: "route-1", Sequence: 1, DistanceKm: 50}

		_, err := svc.SeatFare(seat, trip, boarding, alighting)
		require.Error(t, err)
		assert.True(t, apperrors.Is(err, apperrors.KindValidation))
	})
}
