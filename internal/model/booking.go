package model

import "time"

// Booking is a student's seat reservation on a route.
type Booking struct {
	ID        string    `json:"id"`
	StudentID string    `json:"student_id"`
	RouteID   string    `json:"route_id"`
	SeatCount int       `json:"seat_count"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

const (
	BookingConfirmed = "confirmed"
	BookingCancelled = "cancelled"
)
