package model

import "time"

// Route is one bus line students can reserve seats on.
type Route struct {
	ID             uint64    `json:"id"`
	RouteID        string    `json:"route_id"`
	RouteName      string    `json:"route_name"`
	BusType        string    `json:"bus_type"`
	DepartureTime  string    `json:"departure_time"`
	TotalSeats     int       `json:"total_seats"`
	AvailableSeats int       `json:"available_seats"`
	IsOpen         bool      `json:"is_open"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

const (
	BusTypeToSchool   = "to_school"
	BusTypeFromSchool = "from_school"
)

// BookedSeats is the number of seats already consumed by bookings.
func (r *Route) BookedSeats() int {
	return r.TotalSeats - r.AvailableSeats
}

// AnyOpen reports the aggregate gate value for a route collection.
func AnyOpen(routes []*Route) bool {
	for _, r := range routes {
		if r != nil && r.IsOpen {
			return true
		}
	}
	return false
}

// OpenRoutes returns the routes whose reservation is currently open.
func OpenRoutes(routes []*Route) []*Route {
	var open []*Route
	for _, r := range routes {
		if r != nil && r.IsOpen {
			open = append(open, r)
		}
	}
	return open
}
