package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/gofiber/fiber/v2/log"
	"github.com/schoolbus-labs/busreserve/internal/model"
)

// Permission is the user's answer to the notification prompt.
type Permission string

const (
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
	PermissionDefault Permission = "default"
)

// Platform is the device side of push registration.
type Platform interface {
	RequestPermission(ctx context.Context) (Permission, error)
	CreateChannel(ctx context.Context, applicationServerKey string) (model.Channel, error)
}

// Backend is the server side of push registration.
type Backend interface {
	VAPIDPublicKey(ctx context.Context) (string, error)
	Subscribe(ctx context.Context, studentID string, channel model.Channel, device model.DeviceClass) error
}

// Outcome reports how a session will receive alerts.
type Outcome int

const (
	// Registered: background push is set up; polling still runs as a second producer.
	Registered Outcome = iota + 1
	// PollingOnly: no background channel, alerts come from the poller while in the foreground.
	PollingOnly
)

// PushSubscriber registers the session's push channel according to its capability.
type PushSubscriber struct {
	env      Environment
	cap      Capability
	platform Platform
	backend  Backend

	mu     sync.Mutex
	denied bool
}

// NewPushSubscriber resolves the capability once for the session.
func NewPushSubscriber(env Environment, platform Platform, backend Backend) *PushSubscriber {
	return &PushSubscriber{
		env:      env,
		cap:      Resolve(env),
		platform: platform,
		backend:  backend,
	}
}

// Capability returns the resolved capability.
func (s *PushSubscriber) Capability() Capability {
	return s.cap
}

// Subscribe asks for permission and, where background push exists, creates
// and registers the channel. A denial is remembered and never re-prompted.
func (s *PushSubscriber) Subscribe(ctx context.Context, studentID string) (Outcome, error) {
	if !s.cap.CanPresent() {
		return 0, s.cap.Reason
	}
	if strings.TrimSpace(studentID) == "" {
		return 0, fmt.Errorf("student id is required")
	}

	s.mu.Lock()
	denied := s.denied
	s.mu.Unlock()
	if denied {
		return 0, ErrPermissionDenied
	}

	perm, err := s.platform.RequestPermission(ctx)
	if err != nil {
		return 0, fmt.Errorf("request permission: %w", err)
	}
	switch perm {
	case PermissionGranted:
	case PermissionDenied:
		s.mu.Lock()
		s.denied = true
		s.mu.Unlock()
		return 0, ErrPermissionDenied
	default:
		// prompt dismissed, the user may still be asked again later
		return 0, ErrPermissionDenied
	}

	if !s.cap.CanSubscribe() {
		log.Infof("subscriber: %s session, relying on polling", s.cap.Kind)
		return PollingOnly, nil
	}

	key, err := s.backend.VAPIDPublicKey(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetch vapid key: %w", err)
	}
	channel, err := s.platform.CreateChannel(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("create push channel: %w", err)
	}
	if err := s.backend.Subscribe(ctx, studentID, channel, s.env.DeviceClass); err != nil {
		return 0, fmt.Errorf("register push channel: %w", err)
	}
	log.Infof("subscriber: registered %s channel for %s", s.env.DeviceClass, studentID)
	return Registered, nil
}
