package model

import "time"

// ActionOpenRoute asks the presenter to deep link into a single route.
const ActionOpenRoute = "open_route"

// NotificationData carries the deep-link hints of a notification.
type NotificationData struct {
	RouteID string `json:"route_id,omitempty"`
	Action  string `json:"action,omitempty"`
}

// NotificationEvent is the payload delivered to devices and rendered by the presenter.
type NotificationEvent struct {
	Title              string           `json:"title"`
	Body               string           `json:"body"`
	Icon               string           `json:"icon,omitempty"`
	Badge              string           `json:"badge,omitempty"`
	Tag                string           `json:"tag"`
	RequireInteraction bool             `json:"requireInteraction"`
	Data               NotificationData `json:"data"`
	Timestamp          time.Time        `json:"timestamp"`
}

const (
	openTitle = "Bus reservation is open"
	openBody  = "Seat reservations are now open. Book your seat before they run out."
)

// OpenEvent is the generic reservation-open alert for a gate transition.
func OpenEvent(gate ReservationGate) NotificationEvent {
	return NotificationEvent{
		Title:              openTitle,
		Body:               openBody,
		Tag:                OpenTag(gate.UpdatedAt),
		RequireInteraction: true,
		Timestamp:          gate.UpdatedAt,
	}
}

// OpenEventFor is OpenEvent over the wire shape returned by the status endpoint.
func OpenEventFor(view GateView) NotificationEvent {
	gate := ReservationGate{IsOpen: view.IsOpen}
	if view.UpdatedAt != nil {
		gate.UpdatedAt = *view.UpdatedAt
	}
	return OpenEvent(gate)
}
