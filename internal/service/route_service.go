package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/schoolbus-labs/busreserve/internal/model"
	"github.com/schoolbus-labs/busreserve/internal/storage"
)

var (
	// ErrValidation wraps every input validation failure.
	ErrValidation = errors.New("invalid request")
	// ErrRouteOpen rejects deleting a route that still accepts reservations.
	ErrRouteOpen = errors.New("route is open for reservation")
)

// RouteRequest carries create/update fields. Nil pointers leave a field unchanged.
type RouteRequest struct {
	RouteID        string `json:"route_id"`
	RouteName      string `json:"route_name"`
	BusType        string `json:"bus_type"`
	DepartureTime  string `json:"departure_time"`
	TotalSeats     *int   `json:"total_seats"`
	AvailableSeats *int   `json:"available_seats"`
	IsOpen         *bool  `json:"is_open"`
}

// RouteResult is a route mutation together with the gate evaluation it caused.
type RouteResult struct {
	Route *model.Route
	Gate  *GateChange
}

// RouteService manages the route collection. Changes that can move the
// aggregate gate go through GateService.Apply.
type RouteService struct {
	store storage.Store
	gate  *GateService
}

// NewRouteService builds RouteService.
func NewRouteService(store storage.Store, gate *GateService) *RouteService {
	return &RouteService{store: store, gate: gate}
}

// List returns every route.
func (s *RouteService) List(ctx context.Context) ([]*model.Route, error) {
	return s.store.ListRoutes(ctx)
}

// Get returns one route.
func (s *RouteService) Get(ctx context.Context, routeID string) (*model.Route, error) {
	return s.store.GetRoute(ctx, strings.TrimSpace(routeID))
}

// Create adds a closed route with every seat available.
func (s *RouteService) Create(ctx context.Context, req RouteRequest) (*RouteResult, error) {
	route := &model.Route{
		RouteID:       strings.TrimSpace(req.RouteID),
		RouteName:     strings.TrimSpace(req.RouteName),
		BusType:       firstNonEmpty(strings.TrimSpace(req.BusType), model.BusTypeToSchool),
		DepartureTime: strings.TrimSpace(req.DepartureTime),
	}
	if route.RouteID == "" {
		return nil, fmt.Errorf("%w: route_id is required", ErrValidation)
	}
	if route.RouteName == "" {
		return nil, fmt.Errorf("%w: route_name is required", ErrValidation)
	}
	if req.TotalSeats == nil || *req.TotalSeats < 0 {
		return nil, fmt.Errorf("%w: total_seats must be zero or more", ErrValidation)
	}
	route.TotalSeats = *req.TotalSeats
	route.AvailableSeats = route.TotalSeats

	change, err := s.gate.Apply(ctx, CauseRouteCreate, func(ctx context.Context) (*model.Route, error) {
		return nil, s.store.CreateRoute(ctx, route)
	})
	if err != nil {
		return nil, err
	}
	return &RouteResult{Route: route, Gate: change}, nil
}

// Update edits a route. Seat changes keep the number of booked seats intact.
func (s *RouteService) Update(ctx context.Context, routeID string, req RouteRequest) (*RouteResult, error) {
	var updated *model.Route
	change, err := s.gate.Apply(ctx, CauseRouteUpdate, func(ctx context.Context) (*model.Route, error) {
		var opened *model.Route
		route, err := s.store.UpdateRoute(ctx, strings.TrimSpace(routeID), func(r *model.Route) error {
			wasOpen := r.IsOpen
			if err := applyRouteRequest(r, req); err != nil {
				return err
			}
			if !wasOpen && r.IsOpen {
				opened = r
			}
			return nil
		})
		updated = route
		return opened, err
	})
	if err != nil {
		return nil, err
	}
	return &RouteResult{Route: updated, Gate: change}, nil
}

// Toggle flips a route's is_open flag.
func (s *RouteService) Toggle(ctx context.Context, routeID string) (*RouteResult, error) {
	var updated *model.Route
	change, err := s.gate.Apply(ctx, CauseRouteToggle, func(ctx context.Context) (*model.Route, error) {
		route, err := s.store.UpdateRoute(ctx, strings.TrimSpace(routeID), func(r *model.Route) error {
			r.IsOpen = !r.IsOpen
			return nil
		})
		if err != nil {
			return nil, err
		}
		updated = route
		if route.IsOpen {
			return route, nil
		}
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	return &RouteResult{Route: updated, Gate: change}, nil
}

// Delete removes a closed route.
func (s *RouteService) Delete(ctx context.Context, routeID string) (*GateChange, error) {
	return s.gate.Apply(ctx, CauseRouteDelete, func(ctx context.Context) (*model.Route, error) {
		return nil, s.store.DeleteRoute(ctx, strings.TrimSpace(routeID), func(r *model.Route) error {
			if r.IsOpen {
				return fmt.Errorf("delete %s: %w", r.RouteID, ErrRouteOpen)
			}
			return nil
		})
	})
}

// Summary aggregates dashboard counters.
func (s *RouteService) Summary(ctx context.Context) (*model.AdminSummary, error) {
	routes, err := s.store.ListRoutes(ctx)
	if err != nil {
		return nil, err
	}
	gate, err := s.store.GetGate(ctx)
	if err != nil {
		return nil, err
	}
	subs, err := s.store.ListSubscriptions(ctx)
	if err != nil {
		return nil, err
	}
	summary := &model.AdminSummary{
		Gate:          gate.View(),
		TotalRoutes:   len(routes),
		OpenRoutes:    len(model.OpenRoutes(routes)),
		Subscriptions: len(subs),
	}
	for _, r := range routes {
		summary.TotalSeats += r.TotalSeats
		summary.BookedSeats += r.BookedSeats()
	}
	return summary, nil
}

func applyRouteRequest(r *model.Route, req RouteRequest) error {
	if name := strings.TrimSpace(req.RouteName); name != "" {
		r.RouteName = name
	}
	if busType := strings.TrimSpace(req.BusType); busType != "" {
		r.BusType = busType
	}
	if dep := strings.TrimSpace(req.DepartureTime); dep != "" {
		r.DepartureTime = dep
	}
	if req.TotalSeats != nil {
		total := *req.TotalSeats
		booked := r.BookedSeats()
		if total < booked {
			return fmt.Errorf("%w: total_seats %d is below the %d seats already booked", ErrValidation, total, booked)
		}
		r.TotalSeats = total
		r.AvailableSeats = total - booked
	}
	if req.AvailableSeats != nil {
		available := *req.AvailableSeats
		if available < 0 || available > r.TotalSeats {
			return fmt.Errorf("%w: available_seats must be between 0 and %d", ErrValidation, r.TotalSeats)
		}
		r.AvailableSeats = available
	}
	if req.IsOpen != nil {
		r.IsOpen = *req.IsOpen
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
