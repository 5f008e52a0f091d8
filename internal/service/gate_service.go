package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/schoolbus-labs/busreserve/internal/config"
	"github.com/schoolbus-labs/busreserve/internal/metrics"
	"github.com/schoolbus-labs/busreserve/internal/model"
	"github.com/schoolbus-labs/busreserve/internal/storage"
)

// Cause labels what triggered a gate evaluation.
type Cause string

const (
	CauseAdminOverride Cause = "admin_override"
	CauseRouteCreate   Cause = "route_create"
	CauseRouteUpdate   Cause = "route_update"
	CauseRouteToggle   Cause = "route_toggle"
	CauseRouteDelete   Cause = "route_delete"
)

// Broadcaster is the part of the Dispatcher the gate needs.
type Broadcaster interface {
	Broadcast(ctx context.Context, event model.NotificationEvent) model.DispatchSummary
}

// GateChange reports the outcome of one gate evaluation.
type GateChange struct {
	Gate    model.ReservationGate
	Changed bool
	Opened  bool
	Event   *model.NotificationEvent
	Push    *model.DispatchSummary
}

// GateService owns the aggregate reservation gate and detects closed->open edges.
//
// Every path that can change the aggregate (admin override, route create,
// update, toggle and delete) runs inside mu, so read-compare-persist-decide
// is atomic and each transition is observed exactly once.
type GateService struct {
	mu sync.Mutex

	store           storage.Store
	dispatcher      Broadcaster
	metrics         *metrics.Metrics
	icon            string
	badge           string
	dispatchTimeout time.Duration
	now             func() time.Time
}

// NewGateService builds GateService.
func NewGateService(store storage.Store, dispatcher Broadcaster, m *metrics.Metrics, cfg *config.Config) *GateService {
	timeout := cfg.Push.DispatchTimeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &GateService{
		store:           store,
		dispatcher:      dispatcher,
		metrics:         m,
		icon:            cfg.Push.Icon,
		badge:           cfg.Push.Badge,
		dispatchTimeout: timeout,
		now:             time.Now,
	}
}

// Status returns the persisted gate.
func (s *GateService) Status(ctx context.Context) (model.ReservationGate, error) {
	return s.store.GetGate(ctx)
}

// SyncMetrics publishes the persisted gate value, so the gauge is right
// after a restart before any write happens.
func (s *GateService) SyncMetrics(ctx context.Context) error {
	gate, err := s.store.GetGate(ctx)
	if err != nil {
		return fmt.Errorf("read gate: %w", err)
	}
	s.metrics.GateState(gate.IsOpen)
	return nil
}

// Set forces the gate to isOpen regardless of the route collection.
func (s *GateService) Set(ctx context.Context, isOpen bool) (*GateChange, error) {
	return s.run(ctx, CauseAdminOverride, func(context.Context) (bool, *model.Route, error) {
		var attributed *model.Route
		if isOpen {
			routes, err := s.store.ListRoutes(ctx)
			if err != nil {
				return false, nil, err
			}
			if open := model.OpenRoutes(routes); len(open) == 1 {
				attributed = open[0]
			}
		}
		return isOpen, attributed, nil
	})
}

// Recompute re-derives the gate as the OR of every route's is_open flag.
func (s *GateService) Recompute(ctx context.Context, cause Cause) (*GateChange, error) {
	return s.Apply(ctx, cause, nil)
}

// Apply runs mutate inside the gate critical section and then recomputes the
// aggregate. mutate returns the route it opened, if any, so the resulting
// notification can deep link to it.
func (s *GateService) Apply(ctx context.Context, cause Cause, mutate func(context.Context) (*model.Route, error)) (*GateChange, error) {
	return s.run(ctx, cause, func(ctx context.Context) (bool, *model.Route, error) {
		var opened *model.Route
		if mutate != nil {
			var err error
			if opened, err = mutate(ctx); err != nil {
				return false, nil, err
			}
		}
		routes, err := s.store.ListRoutes(ctx)
		if err != nil {
			return false, nil, err
		}
		if opened == nil {
			if open := model.OpenRoutes(routes); len(open) == 1 {
				opened = open[0]
			}
		}
		return model.AnyOpen(routes), opened, nil
	})
}

func (s *GateService) run(ctx context.Context, cause Cause, decide func(context.Context) (bool, *model.Route, error)) (*GateChange, error) {
	change, err := s.transition(ctx, cause, decide)
	if err != nil {
		return nil, err
	}
	if change.Event != nil {
		summary := s.dispatch(ctx, *change.Event)
		change.Push = &summary
	}
	return change, nil
}

func (s *GateService) transition(ctx context.Context, cause Cause, decide func(context.Context) (bool, *model.Route, error)) (*GateChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, route, err := decide(ctx)
	if err != nil {
		return nil, err
	}
	prev, err := s.store.GetGate(ctx)
	if err != nil {
		return nil, fmt.Errorf("read gate: %w", err)
	}
	if prev.IsOpen == next {
		return &GateChange{Gate: prev}, nil
	}

	at := s.now().UTC()
	if !at.After(prev.UpdatedAt) {
		at = prev.UpdatedAt.Add(time.Nanosecond)
	}
	gate := model.ReservationGate{IsOpen: next, UpdatedAt: at}
	if err := s.store.PutGate(ctx, gate); err != nil {
		return nil, fmt.Errorf("persist gate: %w", err)
	}
	s.metrics.GateWrite(string(cause), next)
	log.Infof("gate: %s %t -> %t at %s", cause, prev.IsOpen, next, at.Format(time.RFC3339Nano))

	change := &GateChange{Gate: gate, Changed: true}
	if !prev.IsOpen && next {
		change.Opened = true
		event := s.buildEvent(gate, route)
		change.Event = &event
		s.metrics.OpenEdge()
	}
	return change, nil
}

// dispatch is bounded by its own timeout and detached from the caller's
// cancellation; the mutation is already persisted at this point.
func (s *GateService) dispatch(ctx context.Context, event model.NotificationEvent) model.DispatchSummary {
	if s.dispatcher == nil {
		return model.DispatchSummary{Tag: event.Tag}
	}
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.dispatchTimeout)
	defer cancel()
	return s.dispatcher.Broadcast(dctx, event)
}

func (s *GateService) buildEvent(gate model.ReservationGate, route *model.Route) model.NotificationEvent {
	event := model.OpenEvent(gate)
	event.Icon = s.icon
	event.Badge = s.badge
	if route != nil {
		name := route.RouteName
		if name == "" {
			name = route.RouteID
		}
		event.Body = fmt.Sprintf("%s is now accepting reservations.", name)
		if route.DepartureTime != "" {
			event.Body = fmt.Sprintf("%s (%s) is now accepting reservations.", name, route.DepartureTime)
		}
		event.Data = model.NotificationData{RouteID: route.RouteID, Action: model.ActionOpenRoute}
	}
	return event
}
