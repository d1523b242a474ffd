package database

import (
	"fmt"
	"sort"
	"time"

	"github.com/islandtransit/bus-booking-backend/internal/apperrors"
	"github.com/islandtransit/bus-booking-backend/internal/models"
	"github.com/jmoiron/sqlx"
)

// SeatRepository handles seat database operations. All state transitions are
// guarded in SQL so a row can never skip an edge of the seat state machine.
type SeatRepository struct {
	db *sqlx.DB
}

// NewSeatRepository creates a new SeatRepository
func NewSeatRepository(db *sqlx.DB) *SeatRepository {
	return &SeatRepository{db: db}
}

const seatColumns = `id, trip_id, seat_number, seat_type, floor_number, row_number,
	   column_number, price, status, reserved_by, reserved_until, created_at, updated_at`

// ValidateAndLockSeats loads the requested seats with an exclusive row lock
// and verifies they all belong to the trip and are available. The lock is
// held until the enclosing transaction ends, so two concurrent orders cannot
// both observe the same seat as available. Seat ids are locked in ascending
// order to avoid lock-order deadlocks between partially overlapping orders.
func (r *SeatRepository) ValidateAndLockSeats(q Queryer, seatIDs []string, tripID string) ([]models.Seat, error) {
	if len(seatIDs) == 0 {
		return nil, apperrors.Validation("no seats requested")
	}

	sorted := make([]string, len(seatIDs))
	copy(sorted, seatIDs)
	sort.Strings(sorted)

	query, args, err := sqlx.In(`
		SELECT `+seatColumns+`
		FROM seats
		WHERE id IN (?)
		ORDER BY id
		FOR UPDATE
	`, sorted)
	if err != nil {
		return nil, fmt.Errorf("failed to build seat lock query: %w", err)
	}
	query = q.Rebind(query)

	var seats []models.Seat
	if err := q.Select(&seats, query, args...); err != nil {
		return nil, fmt.Errorf("failed to lock seats: %w", err)
	}

	found := make(map[string]models.Seat, len(seats))
	for _, seat := range seats {
		found[seat.ID] = seat
	}

	for _, id := range sorted {
		seat, ok := found[id]
		if !ok {
			return nil, apperrors.NotFound("seat %s not found", id)
		}
		if seat.TripID != tripID {
			return nil, apperrors.NotFound("seat %s does not belong to trip %s", id, tripID)
		}
		if !seat.IsAvailable() {
			return nil, apperrors.Conflict("seat %s is not available", seat.SeatNumber)
		}
	}

	return seats, nil
}

// Reserve transitions the given seats from available to reserved, stamping
// who holds the reservation and until when. Must run inside the same
// transaction that locked the seats.
func (r *SeatRepository) Reserve(q Queryer, seatIDs []string, reservedBy string, reservedUntil time.Time) error {
	query, args, err := sqlx.In(`
		UPDATE seats
		SET status = 'reserved', reserved_by = ?, reserved_until = ?, updated_at = NOW()
		WHERE id IN (?) AND status = 'available'
	`, reservedBy, reservedUntil, seatIDs)
	if err != nil {
		return fmt.Errorf("failed to build seat reserve query: %w", err)
	}
	query = q.Rebind(query)

	result, err := q.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("failed to reserve seats: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read reserve result: %w", err)
	}
	if int(affected) != len(seatIDs) {
		return apperrors.Conflict("seat is not available")
	}

	return nil
}

// MarkBooked transitions reserved seats to booked on payment completion.
func (r *SeatRepository) MarkBooked(q Queryer, seatIDs []string) error {
	query, args, err := sqlx.In(`
		UPDATE seats
		SET status = 'booked', updated_at = NOW()
		WHERE id IN (?) AND status = 'reserved'
	`, seatIDs)
	if err != nil {
		return fmt.Errorf("failed to build seat booking query: %w", err)
	}
	query = q.Rebind(query)

	result, err := q.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("failed to mark seats booked: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read booking result: %w", err)
	}
	if int(affected) != len(seatIDs) {
		return apperrors.InvalidState("seat is not reserved")
	}

	return nil
}

// Release returns reserved or booked seats to available, clearing the
// reservation fields. Called by refund/cancellation paths.
func (r *SeatRepository) Release(q Queryer, seatIDs []string) error {
	if len(seatIDs) == 0 {
		return nil
	}

	query, args, err := sqlx.In(`
		UPDATE seats
		SET status = 'available', reserved_by = NULL, reserved_until = NULL, updated_at = NOW()
		WHERE id IN (?) AND status IN ('reserved', 'booked')
	`, seatIDs)
	if err != nil {
		return fmt.Errorf("failed to build seat release query: %w", err)
	}
	query = q.Rebind(query)

	if _, err := q.Exec(query, args...); err != nil {
		return fmt.Errorf("failed to release seats: %w", err)
	}

	return nil
}

// CreateSeatsForTrip creates trip seats in bulk from a layout template.
// Called once at trip creation; each seat's price is the trip base price
// scaled by the layout position's price factor.
func (r *SeatRepository) CreateSeatsForTrip(q Queryer, tripID string, basePrice float64, layout []models.LayoutSeat) (int, error) {
	if len(layout) == 0 {
		return 0, apperrors.Validation("seat layout is empty")
	}

	insertQuery := q.Rebind(`
		INSERT INTO seats (
			trip_id, seat_number, seat_type, floor_number, row_number,
			column_number, price, status
		) VALUES (?, ?, ?, ?, ?, ?, ?, 'available')
	`)

	count := 0
	for _, seat := range layout {
		factor := seat.PriceFactor
		if factor <= 0 {
			factor = 1.0
		}
		_, err := q.Exec(insertQuery,
			tripID,
			seat.SeatNumber,
			seat.SeatType,
			seat.FloorNumber,
			seat.RowNumber,
			seat.ColumnNumber,
			basePrice*factor,
		)
		if err != nil {
			return count, fmt.Errorf("failed to insert seat %s: %w", seat.SeatNumber, err)
		}
		count++
	}

	return count, nil
}

// DeleteSeatsForTrip removes all seats for a trip. Refused while any seat is
// still booked, because a booked seat is backed by a live ticket.
func (r *SeatRepository) DeleteSeatsForTrip(q Queryer, tripID string) error {
	var booked int
	err := q.Get(&booked, q.Rebind(`SELECT COUNT(*) FROM seats WHERE trip_id = ? AND status = 'booked'`), tripID)
	if err != nil {
		return fmt.Errorf("failed to count booked seats: %w", err)
	}
	if booked > 0 {
		return apperrors.Conflict("trip has %d booked seats", booked)
	}

	if _, err := q.Exec(q.Rebind(`DELETE FROM seats WHERE trip_id = ?`), tripID); err != nil {
		return fmt.Errorf("failed to delete trip seats: %w", err)
	}

	return nil
}

// GetByTripID returns all seats for a trip ordered by position
func (r *SeatRepository) GetByTripID(tripID string) ([]models.Seat, error) {
	query := `
		SELECT ` + seatColumns + `
		FROM seats
		WHERE trip_id = $1
		ORDER BY floor_number, row_number, column_number
	`

	var seats []models.Seat
	if err := r.db.Select(&seats, query, tripID); err != nil {
		return nil, fmt.Errorf("failed to get trip seats: %w", err)
	}

	return seats, nil
}

// GetByIDs returns seats by id without locking
func (r *SeatRepository) GetByIDs(q Queryer, ids []string) ([]models.Seat, error) {
	if len(ids) == 0 {
		return []models.Seat{}, nil
	}

	query, args, err := sqlx.In(`
		SELECT `+seatColumns+`
		FROM seats
		WHERE id IN (?)
		ORDER BY id
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to build seat query: %w", err)
	}
	query = q.Rebind(query)

	var seats []models.Seat
	if err := q.Select(&seats, query, args...); err != nil {
		return nil, fmt.Errorf("failed to get seats: %w", err)
	}

	return seats, nil
}
