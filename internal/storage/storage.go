package storage

import (
	"context"

	"github.com/schoolbus-labs/busreserve/internal/model"
)

// Store abstracts route, gate, subscription, booking and dispatch log persistence.
type Store interface {
	CreateRoute(ctx context.Context, route *model.Route) error
	GetRoute(ctx context.Context, routeID string) (*model.Route, error)
	ListRoutes(ctx context.Context) ([]*model.Route, error)
	// UpdateRoute loads the route, applies fn and writes it back in one transaction.
	UpdateRoute(ctx context.Context, routeID string, fn func(*model.Route) error) (*model.Route, error)
	// DeleteRoute removes the route when guard (if non-nil) accepts it.
	DeleteRoute(ctx context.Context, routeID string, guard func(*model.Route) error) error

	GetGate(ctx context.Context) (model.ReservationGate, error)
	PutGate(ctx context.Context, gate model.ReservationGate) error

	UpsertSubscription(ctx context.Context, sub *model.Subscription) error
	GetSubscription(ctx context.Context, subscriberID string) (*model.Subscription, error)
	ListSubscriptions(ctx context.Context) ([]*model.Subscription, error)
	DeleteSubscription(ctx context.Context, subscriberID string) (bool, error)
	// DeleteSubscriptionIf removes the subscription only while it still points at endpoint.
	DeleteSubscriptionIf(ctx context.Context, subscriberID, endpoint string) (bool, error)

	// CreateBooking stores the booking and the route mutated by reserve atomically.
	CreateBooking(ctx context.Context, booking *model.Booking, reserve func(*model.Route) error) error
	GetBooking(ctx context.Context, id string) (*model.Booking, error)
	// CancelBooking marks the booking cancelled and applies release to its route atomically.
	CancelBooking(ctx context.Context, id string, release func(*model.Route, *model.Booking) error) (*model.Booking, error)
	ListBookingsByStudent(ctx context.Context, studentID string) ([]*model.Booking, error)

	AppendDispatchLog(ctx context.Context, log *model.DispatchLog) error
	ListDispatchLogs(ctx context.Context) ([]*model.DispatchLog, error)

	Close() error
}
