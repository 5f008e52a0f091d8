package service

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/schoolbus-labs/busreserve/internal/config"
	"github.com/schoolbus-labs/busreserve/internal/metrics"
	"github.com/schoolbus-labs/busreserve/internal/model"
	"github.com/schoolbus-labs/busreserve/internal/pushclient"
	"github.com/schoolbus-labs/busreserve/internal/storage"
	"github.com/schoolbus-labs/busreserve/internal/storage/bolt"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	mu      sync.Mutex
	invalid map[string]bool
	fail    map[string]error
	sent    []string
	events  []model.NotificationEvent
	onSend  func(sub *model.Subscription)
}

func (f *fakeSender) Send(_ context.Context, sub *model.Subscription, event model.NotificationEvent) error {
	if f.onSend != nil {
		f.onSend(sub)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sub.SubscriberID)
	f.events = append(f.events, event)
	if f.invalid[sub.SubscriberID] {
		return fmt.Errorf("push service 410 Gone: %w", pushclient.ErrChannelInvalid)
	}
	if err := f.fail[sub.SubscriberID]; err != nil {
		return err
	}
	return nil
}

func (f *fakeSender) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// recordingBroadcaster captures events instead of delivering them.
type recordingBroadcaster struct {
	mu     sync.Mutex
	events []model.NotificationEvent
}

func (r *recordingBroadcaster) Broadcast(_ context.Context, event model.NotificationEvent) model.DispatchSummary {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return model.DispatchSummary{Tag: event.Tag}
}

func (r *recordingBroadcaster) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func newStore(t *testing.T) storage.Store {
	t.Helper()
	st, err := bolt.New(filepath.Join(t.TempDir(), "busreserve.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Push.Concurrency = 4
	cfg.Push.DispatchTimeout = 5 * time.Second
	cfg.Push.Icon = "/icon-192.png"
	cfg.Push.Badge = "/badge-72.png"
	cfg.Auth.Enabled = true
	cfg.Auth.Username = "admin"
	cfg.Auth.Password = "secret"
	cfg.Auth.JWTSecret = "test-secret"
	cfg.Auth.TokenTTL = time.Hour
	return cfg
}

type fixture struct {
	store    storage.Store
	sender   *fakeSender
	gate     *GateService
	routes   *RouteService
	subs     *SubscriptionService
	bookings *BookingService
	logs     *DispatchLogService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := newStore(t)
	cfg := testConfig()
	sender := &fakeSender{invalid: map[string]bool{}, fail: map[string]error{}}
	m := metrics.New()
	dispatcher := NewDispatcher(st, sender, m, cfg.Push.Concurrency)
	gate := NewGateService(st, dispatcher, m, cfg)
	return &fixture{
		store:    st,
		sender:   sender,
		gate:     gate,
		routes:   NewRouteService(st, gate),
		subs:     NewSubscriptionService(st),
		bookings: NewBookingService(st),
		logs:     NewDispatchLogService(st),
	}
}

func (f *fixture) subscribe(t *testing.T, ids ...string) {
	t.Helper()
	for _, id := range ids {
		_, err := f.subs.Subscribe(context.Background(), SubscribeRequest{
			StudentID: id,
			Subscription: model.Channel{
				Endpoint: "https://fcm.googleapis.com/fcm/send/" + id,
				Keys:     model.ChannelKeys{P256dh: "p256-" + id, Auth: "auth-" + id},
			},
			DeviceType: "android",
		})
		require.NoError(t, err)
	}
}

func (f *fixture) createRoute(t *testing.T, id string, seats int) *model.Route {
	t.Helper()
	res, err := f.routes.Create(context.Background(), RouteRequest{
		RouteID:       id,
		RouteName:     "Route " + id,
		DepartureTime: "07:30",
		TotalSeats:    &seats,
	})
	require.NoError(t, err)
	return res.Route
}

func ptr[T any](v T) *T { return &v }
