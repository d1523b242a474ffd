package models

import (
	"time"
)

// TripStatus represents the status of a scheduled trip
type TripStatus string

const (
	TripStatusScheduled TripStatus = "scheduled"
	TripStatusDeparted  TripStatus = "departed"
	TripStatusCompleted TripStatus = "completed"
	TripStatusCancelled TripStatus = "cancelled"
)

// Trip represents one scheduled departure of a vehicle on a route. The base
// price is fixed at creation time as route base price plus vehicle-type price.
type Trip struct {
	ID                string     `json:"id" db:"id"`
	RouteID           string     `json:"route_id" db:"route_id"`
	VehicleID         string     `json:"vehicle_id" db:"vehicle_id"`
	RouteName         string     `json:"route_name" db:"route_name"`
	DepartureDatetime time.Time  `json:"departure_datetime" db:"departure_datetime"`
	ArrivalDatetime   *time.Time `json:"arrival_datetime,omitempty" db:"arrival_datetime"`
	BasePrice         float64    `json:"base_price" db:"base_price"`
	RouteDistanceKm   float64    `json:"route_distance_km" db:"route_distance_km"`
	Status            TripStatus `json:"status" db:"status"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at" db:"updated_at"`
}

// HasDeparted reports whether the trip is no longer bookable by time.
func (t *Trip) HasDeparted(now time.Time) bool {
	return !t.DepartureDatetime.After(now)
}

// IsTerminal reports whether the trip reached a state that forbids further
// lifecycle transitions.
func (t *Trip) IsTerminal() bool {
	return t.Status == TripStatusCompleted || t.Status == TripStatusCancelled
}

// RouteStop is a stop on a multi-stop route with its cumulative distance from
// the route origin. Used for proportional sub-segment fares.
type RouteStop struct {
	ID         string  `json:"id" db:"id"`
	RouteID    string  `json:"route_id" db:"route_id"`
	Name       string  `json:"name" db:"name"`
	Sequence   int     `json:"sequence" db:"sequence"`
	DistanceKm float64 `json:"distance_km" db:"distance_km"`
}

// CreateTripRequest is used to create a trip together with its seats.
type CreateTripRequest struct {
	RouteID           string       `json:"route_id" binding:"required"`
	VehicleID         string       `json:"vehicle_id" binding:"required"`
	RouteName         string       `json:"route_name" binding:"required"`
	DepartureDatetime time.Time    `json:"departure_datetime" binding:"required"`
	ArrivalDatetime   *time.Time   `json:"arrival_datetime"`
	BasePrice         float64      `json:"base_price" binding:"required,gt=0"`
	RouteDistanceKm   float64      `json:"route_distance_km" binding:"gte=0"`
	Layout            []LayoutSeat `json:"layout" binding:"required,min=1"`
}
