package database

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/islandtransit/bus-booking-backend/internal/models"
	"github.com/jmoiron/sqlx"
)

// TripRepository handles scheduled trip database operations
type TripRepository struct {
	db *sqlx.DB
}

// NewTripRepository creates a new TripRepository
func NewTripRepository(db *sqlx.DB) *TripRepository {
	return &TripRepository{db: db}
}

const tripColumns = `id, route_id, vehicle_id, route_name, departure_datetime,
	   arrival_datetime, base_price, route_distance_km, status, created_at, updated_at`

// Create inserts a new trip and returns it with generated fields
func (r *TripRepository) Create(q Queryer, trip *models.Trip) error {
	query := q.Rebind(`
		INSERT INTO trips (
			route_id, vehicle_id, route_name, departure_datetime, arrival_datetime,
			base_price, route_distance_km, status
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id, created_at, updated_at
	`)

	err := q.QueryRowx(query,
		trip.RouteID,
		trip.VehicleID,
		trip.RouteName,
		trip.DepartureDatetime,
		trip.ArrivalDatetime,
		trip.BasePrice,
		trip.RouteDistanceKm,
		trip.Status,
	).Scan(&trip.ID, &trip.CreatedAt, &trip.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create trip: %w", err)
	}

	return nil
}

// GetByID returns a trip by id, or nil if it does not exist
func (r *TripRepository) GetByID(q Queryer, id string) (*models.Trip, error) {
	var trip models.Trip
	err := q.Get(&trip, q.Rebind(`SELECT `+tripColumns+` FROM trips WHERE id = ?`), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get trip: %w", err)
	}

	return &trip, nil
}

// GetByIDForUpdate loads a trip under an exclusive row lock. Used by the
// trip-cancellation cascade so no booking can slip in mid-cascade.
func (r *TripRepository) GetByIDForUpdate(q Queryer, id string) (*models.Trip, error) {
	var trip models.Trip
	err := q.Get(&trip, q.Rebind(`SELECT `+tripColumns+` FROM trips WHERE id = ? FOR UPDATE`), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to lock trip: %w", err)
	}

	return &trip, nil
}

// UpdateStatus sets a trip's status
func (r *TripRepository) UpdateStatus(q Queryer, id string, status models.TripStatus) error {
	result, err := q.Exec(q.Rebind(`UPDATE trips SET status = ?, updated_at = NOW() WHERE id = ?`), status, id)
	if err != nil {
		return fmt.Errorf("failed to update trip status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read trip update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("trip %s not found", id)
	}

	return nil
}

// GetTripForSeat returns the trip a seat belongs to
func (r *TripRepository) GetTripForSeat(q Queryer, seatID string) (*models.Trip, error) {
	query := q.Rebind(`
		SELECT t.id, t.route_id, t.vehicle_id, t.route_name, t.departure_datetime,
			   t.arrival_datetime, t.base_price, t.route_distance_km, t.status,
			   t.created_at, t.updated_at
		FROM trips t
		JOIN seats s ON s.trip_id = t.id
		WHERE s.id = ?
	`)

	var trip models.Trip
	err := q.Get(&trip, query, seatID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get trip for seat: %w", err)
	}

	return &trip, nil
}

// GetRouteStops returns the stops of a route in travel order
func (r *TripRepository) GetRouteStops(routeID string) ([]models.RouteStop, error) {
	query := `
		SELECT id, route_id, name, sequence, distance_km
		FROM route_stops
		WHERE route_id = $1
		ORDER BY sequence
	`

	var stops []models.RouteStop
	if err := r.db.Select(&stops, query, routeID); err != nil {
		return nil, fmt.Errorf("failed to get route stops: %w", err)
	}

	return stops, nil
}

// GetRouteStop returns a single stop by id, or nil if absent
func (r *TripRepository) GetRouteStop(q Queryer, stopID string) (*models.RouteStop, error) {
	var stop models.RouteStop
	err := q.Get(&stop, q.Rebind(`SELECT id, route_id, name, sequence, distance_km FROM route_stops WHERE id = ?`), stopID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get route stop: %w", err)
	}

	return &stop, nil
}
