package model

// AdminSummary backs the admin dashboard counters.
type AdminSummary struct {
	Gate          GateView `json:"gate"`
	TotalRoutes   int      `json:"total_routes"`
	OpenRoutes    int      `json:"open_routes"`
	TotalSeats    int      `json:"total_seats"`
	BookedSeats   int      `json:"booked_seats"`
	Subscriptions int      `json:"subscriptions"`
}
