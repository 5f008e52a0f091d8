package model

import (
	"fmt"
	"time"
)

// ReservationGate is the aggregate "is reservation open at all" flag.
type ReservationGate struct {
	IsOpen    bool      `json:"is_open"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GateView is the wire shape of GET /api/reservation/status.
// UpdatedAt is null until the gate has been written once.
type GateView struct {
	IsOpen    bool       `json:"is_open"`
	UpdatedAt *time.Time `json:"updated_at"`
}

// View converts the stored gate into its wire shape.
func (g ReservationGate) View() GateView {
	view := GateView{IsOpen: g.IsOpen}
	if !g.UpdatedAt.IsZero() {
		at := g.UpdatedAt
		view.UpdatedAt = &at
	}
	return view
}

const defaultOpenTag = "reservation-open"

// OpenTag is the presenter dedup key for the closed->open transition that
// happened at the given gate timestamp. Push and poll paths derive the same
// value from the same persisted updated_at.
func OpenTag(at time.Time) string {
	if at.IsZero() {
		return defaultOpenTag
	}
	return fmt.Sprintf("%s-%d", defaultOpenTag, at.UnixNano())
}

// OpenTagFor is OpenTag over the wire shape.
func OpenTagFor(view GateView) string {
	if view.UpdatedAt == nil {
		return defaultOpenTag
	}
	return OpenTag(*view.UpdatedAt)
}
