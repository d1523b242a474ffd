package models

import (
	"time"
)

// SeatStatus represents the lifecycle state of a trip seat
type SeatStatus string

const (
	SeatStatusAvailable   SeatStatus = "available"
	SeatStatusReserved    SeatStatus = "reserved"
	SeatStatusBooked      SeatStatus = "booked"
	SeatStatusMaintenance SeatStatus = "maintenance"
	SeatStatusDisabled    SeatStatus = "disabled"
)

// Seat represents one sellable seat on a scheduled trip. Seats are created in
// bulk from a layout template when the trip is created and outlive any order
// sold against them.
type Seat struct {
	ID            string     `json:"id" db:"id"`
	TripID        string     `json:"trip_id" db:"trip_id"`
	SeatNumber    string     `json:"seat_number" db:"seat_number"`
	SeatType      string     `json:"seat_type" db:"seat_type"` // standard, window, aisle, premium, accessible
	FloorNumber   int        `json:"floor_number" db:"floor_number"`
	RowNumber     int        `json:"row_number" db:"row_number"`
	ColumnNumber  int        `json:"column_number" db:"column_number"`
	Price         float64    `json:"price" db:"price"`
	Status        SeatStatus `json:"status" db:"status"`
	ReservedBy    *string    `json:"reserved_by,omitempty" db:"reserved_by"`
	ReservedUntil *time.Time `json:"reserved_until,omitempty" db:"reserved_until"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
}

// IsAvailable reports whether the seat can enter a new reservation.
func (s *Seat) IsAvailable() bool {
	return s.Status == SeatStatusAvailable
}

// LayoutSeat describes one seat position in a layout template used to seed
// trip seats at trip-creation time.
type LayoutSeat struct {
	SeatNumber   string  `json:"seat_number" db:"seat_number"`
	SeatType     string  `json:"seat_type" db:"seat_type"`
	FloorNumber  int     `json:"floor_number" db:"floor_number"`
	RowNumber    int     `json:"row_number" db:"row_number"`
	ColumnNumber int     `json:"column_number" db:"column_number"`
	PriceFactor  float64 `json:"price_factor" db:"price_factor"` // multiplier over trip base price, 1.0 for standard
}

// SeatUpdate is the realtime payload published after a seat changes state.
type SeatUpdate struct {
	SeatID     string     `json:"seat_id"`
	SeatNumber string     `json:"seat_number"`
	Status     SeatStatus `json:"status"`
}
