package database

import (
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/islandtransit/bus-booking-backend/internal/apperrors"
	"github.com/islandtransit/bus-booking-backend/internal/models"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "postgres"), mock
}

func seatRows(seats ...models.Seat) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{
		"id", "trip_id", "seat_number", "seat_type", "floor_number", "row_number",
		"column_number", "price", "status", "reserved_by", "reserved_until",
		"created_at", "updated_at",
	})
	for _, s := range seats {
		rows.AddRow(s.ID, s.TripID, s.SeatNumber, s.SeatType, s.FloorNumber, s.RowNumber,
			s.ColumnNumber, s.Price, s.Status, s.ReservedBy, s.ReservedUntil,
			s.CreatedAt, s.UpdatedAt)
	}
	return rows
}

func availableSeat(id, tripID, number string, price float64) models.Seat {
	now := time.Now()
	return models.Seat{
		ID: id, TripID: tripID, SeatNumber: number, SeatType: "standard",
		FloorNumber: 1, RowNumber: 1, ColumnNumber: 1, Price: price,
		Status: models.SeatStatusAvailable, CreatedAt: now, UpdatedAt: now,
	}
}

func TestValidateAndLockSeats(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSeatRepository(db)

	t.Run("Success", func(t *testing.T) {
		s1 := availableSeat("seat-a", "trip-1", "1A", 1000)
		s2 := availableSeat("seat-b", "trip-1", "1B", 1200)

		mock.ExpectQuery(`FOR UPDATE`).
			WithArgs("seat-a", "seat-b").
			WillReturnRows(seatRows(s1, s2))

		// ids passed out of order, locked in ascending order
		seats, err := repo.ValidateAndLockSeats(db, []string{"seat-b", "seat-a"}, "trip-1")
		require.NoError(t, err)
		assert.Len(t, seats, 2)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Seat Missing", func(t *testing.T) {
		s1 := availableSeat("seat-a", "trip-1", "1A", 1000)

		mock.ExpectQuery(`FROM seats`).
			WithArgs("seat-a", "seat-b").
			WillReturnRows(seatRows(s1))

		_, err := repo.ValidateAndLockSeats(db, []string{"seat-a", "seat-b"}, "trip-1")
		require.Error(t, err)
		assert.True(t, apperrors.Is(err, apperrors.KindNotFound))
	})

	t.Run("Wrong Trip", func(t *testing.T) {
		s1 := availableSeat("seat-a", "trip-2", "1A", 1000)

		mock.ExpectQuery(`FROM seats`).
			WithArgs("seat-a").
			WillReturnRows(seatRows(s1))

		_, err := repo.ValidateAndLockSeats(db, []string{"seat-a"}, "trip-1")
		require.Error(t, err)
		assert.True(t, apperrors.Is(err, apperrors.KindNotFound))
	})

	t.Run("Seat Not Available", func(t *testing.T) {
		s1 := availableSeat("seat-a", "trip-1", "1A", 1000)
		s1.Status = models.SeatStatusReserved

		mock.ExpectQuery(`FROM seats`).
			WithArgs("seat-a").
			WillReturnRows(seatRows(s1))

		_, err := repo.ValidateAndLockSeats(db, []string{"seat-a"}, "trip-1")
		require.Error(t, err)
		assert.True(t, apperrors.Is(err, apperrors.KindConflict))
	})

	t.Run("No Seats Requested", func(t *testing.T) {
		_, err := repo.ValidateAndLockSeats(db, nil, "trip-1")
		require.Error(t, err)
		assert.True(t, apperrors.Is(err, apperrors.KindValidation))
	})
}

func TestReserveSeats(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSeatRepository(db)
	until := time.Now().Add(15 * time.Minute)

	t.Run("Success", func(t *testing.T) {
		mock.ExpectExec(`SET status = 'reserved'`).
			WithArgs("order-ref", until, "seat-a", "seat-b").
			WillReturnResult(sqlmock.NewResult(0, 2))

		err := repo.Reserve(db, []string{"seat-a", "seat-b"}, "order-ref", until)
		assert.NoError(t, err)
	})

	t.Run("Seat Taken Concurrently", func(t *testing.T) {
		mock.ExpectExec(`SET status = 'reserved'`).
			WithArgs("order-ref", until, "seat-a", "seat-b").
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := repo.Reserve(db, []string{"seat-a", "seat-b"}, "order-ref", until)
		require.Error(t, err)
		assert.True(t, apperrors.Is(err, apperrors.KindConflict))
	})
}

func TestMarkBooked(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSeatRepository(db)

	t.Run("Success", func(t *testing.T) {
		mock.ExpectExec(`SET status = 'booked'`).
			WithArgs("seat-a").
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, repo.MarkBooked(db, []string{"seat-a"}))
	})

	t.Run("Seat Not Reserved", func(t *testing.T) {
		mock.ExpectExec(`SET status = 'booked'`).
			WithArgs("seat-a").
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := repo.MarkBooked(db, []string{"seat-a"})
		require.Error(t, err)
		assert.True(t, apperrors.Is(err, apperrors.KindInvalidState))
	})
}

func TestReleaseSeats(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSeatRepository(db)

	t.Run("Success", func(t *testing.T) {
		mock.ExpectExec(`SET status = 'available'`).
			WithArgs("seat-a", "seat-b").
			WillReturnResult(sqlmock.NewResult(0, 2))

		assert.NoError(t, repo.Release(db, []string{"seat-a", "seat-b"}))
	})

	t.Run("Empty List Is NoOp", func(t *testing.T) {
		assert.NoError(t, repo.Release(db, nil))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestCreateSeatsForTrip(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSeatRepository(db)

	layout := []models.LayoutSeat{
		{SeatNumber: "1A", SeatType: "standard", FloorNumber: 1, RowNumber: 1, ColumnNumber: 1, PriceFactor: 1.0},
		{SeatNumber: "1B", SeatType: "premium", FloorNumber: 1, RowNumber: 1, ColumnNumber: 2, PriceFactor: 1.2},
	}

	t.Run("Success", func(t *testing.T) {
		mock.ExpectExec(`INSERT INTO seats`).
			WithArgs("trip-1", "1A", "standard", 1, 1, 1, 100000.0).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO seats`).
			WithArgs("trip-1", "1B", "premium", 1, 1, 2, 120000.0).
			WillReturnResult(sqlmock.NewResult(0, 1))

		count, err := repo.CreateSeatsForTrip(db, "trip-1", 100000, layout)
		require.NoError(t, err)
		assert.Equal(t, 2, count)
	})

	t.Run("Empty Layout", func(t *testing.T) {
		_, err := repo.CreateSeatsForTrip(db, "trip-1", 100000, nil)
		require.Error(t, err)
		assert.True(t, apperrors.Is(err, apperrors.KindValidation))
	})

	t.Run("Database Error", func(t *testing.T) {
		mock.ExpectExec(`INSERT INTO seats`).
			WithArgs("trip-1", "1A", "standard", 1, 1, 1, 100000.0).
			WillReturnError(fmt.Errorf("database error"))

		_, err := repo.CreateSeatsForTrip(db, "trip-1", 100000, layout)
		assert.Error(t, err)
	})
}

func TestDeleteSeatsForTrip(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSeatRepository(db)

	t.Run("Refused While Booked", func(t *testing.T) {
		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM seats`).
			WithArgs("trip-1").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

		err := repo.DeleteSeatsForTrip(db, "trip-1")
		require.Error(t, err)
		assert.True(t, apperrors.Is(err, apperrors.KindConflict))
	})

	t.Run("Success", func(t *testing.T) {
		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM seats`).
			WithArgs("trip-1").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
		mock.ExpectExec(`DELETE FROM seats`).
			WithArgs("trip-1").
			WillReturnResult(sqlmock.NewResult(0, 10))

		assert.NoError(t, repo.DeleteSeatsForTrip(db, "trip-1"))
	})
}
