package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/schoolbus-labs/busreserve/internal/metrics"
	"github.com/schoolbus-labs/busreserve/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGateFiresOnlyOnClosedToOpenEdges(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	rec := &recordingBroadcaster{}
	gate := NewGateService(st, rec, nil, testConfig())

	for _, v := range []bool{false, false, true, true, false, true} {
		_, err := gate.Set(ctx, v)
		require.NoError(t, err)
	}

	require.Equal(t, 2, rec.count())
	assert.NotEqual(t, rec.events[0].Tag, rec.events[1].Tag)

	status, err := gate.Status(ctx)
	require.NoError(t, err)
	assert.True(t, status.IsOpen)
	assert.Equal(t, model.OpenTag(status.UpdatedAt), rec.events[1].Tag)
}

func TestGateNoopWriteIsNotPersisted(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	gate := NewGateService(st, &recordingBroadcaster{}, nil, testConfig())

	change, err := gate.Set(ctx, false)
	require.NoError(t, err)
	assert.False(t, change.Changed)

	stored, err := st.GetGate(ctx)
	require.NoError(t, err)
	assert.True(t, stored.UpdatedAt.IsZero())
}

func TestGateUpdatedAtStrictlyIncreasesWithFrozenClock(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	gate := NewGateService(st, &recordingBroadcaster{}, nil, testConfig())
	frozen := time.Date(2024, 9, 1, 7, 0, 0, 0, time.UTC)
	gate.now = func() time.Time { return frozen }

	var stamps []time.Time
	for _, v := range []bool{true, false, true} {
		change, err := gate.Set(ctx, v)
		require.NoError(t, err)
		stamps = append(stamps, change.Gate.UpdatedAt)
	}
	assert.True(t, stamps[1].After(stamps[0]))
	assert.True(t, stamps[2].After(stamps[1]))
}

func TestGateConcurrentOpenFiresOnce(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	rec := &recordingBroadcaster{}
	gate := NewGateService(st, rec, nil, testConfig())

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := gate.Set(ctx, true)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, rec.count())
}

func TestGateAggregateFollowsRoutes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.createRoute(t, "A", 10)
	f.createRoute(t, "B", 10)

	res, err := f.routes.Toggle(ctx, "A")
	require.NoError(t, err)
	assert.True(t, res.Gate.Opened)

	// a second open route keeps the gate open without a new edge
	res, err = f.routes.Toggle(ctx, "B")
	require.NoError(t, err)
	assert.False(t, res.Gate.Changed)

	res, err = f.routes.Toggle(ctx, "A")
	require.NoError(t, err)
	assert.False(t, res.Gate.Changed)
	assert.True(t, res.Gate.Gate.IsOpen)

	res, err = f.routes.Toggle(ctx, "B")
	require.NoError(t, err)
	assert.True(t, res.Gate.Changed)
	assert.False(t, res.Gate.Gate.IsOpen)
}

func TestRouteOpenScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.subscribe(t, "S1", "S2", "S3")
	f.createRoute(t, "ROUTE_001", 40)

	res, err := f.routes.Toggle(ctx, "ROUTE_001")
	require.NoError(t, err)
	require.True(t, res.Route.IsOpen)
	require.True(t, res.Gate.Opened)
	require.NotNil(t, res.Gate.Push)
	assert.Equal(t, 3, res.Gate.Push.SuccessCount)
	assert.Equal(t, 0, res.Gate.Push.FailureCount)

	require.Len(t, f.sender.events, 3)
	first := f.sender.events[0]
	assert.Equal(t, "ROUTE_001", first.Data.RouteID)
	assert.Equal(t, model.ActionOpenRoute, first.Data.Action)
	assert.True(t, first.RequireInteraction)
	for _, ev := range f.sender.events {
		assert.Equal(t, first.Tag, ev.Tag)
	}

	res, err = f.routes.Toggle(ctx, "ROUTE_001")
	require.NoError(t, err)
	assert.False(t, res.Gate.Gate.IsOpen)
	assert.Nil(t, res.Gate.Push)
	assert.Equal(t, 3, f.sender.sentCount())

	res, err = f.routes.Toggle(ctx, "ROUTE_001")
	require.NoError(t, err)
	require.NotNil(t, res.Gate.Push)
	assert.Equal(t, 6, f.sender.sentCount())
	assert.NotEqual(t, first.Tag, f.sender.events[5].Tag)
}

func TestAdminOverrideWithoutRoutesHasNoDeepLink(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	rec := &recordingBroadcaster{}
	gate := NewGateService(st, rec, nil, testConfig())

	_, err := gate.Set(ctx, true)
	require.NoError(t, err)
	require.Equal(t, 1, rec.count())
	assert.Empty(t, rec.events[0].Data.RouteID)
	assert.Empty(t, rec.events[0].Data.Action)
	assert.Equal(t, "/icon-192.png", rec.events[0].Icon)
}

func TestRecomputeAfterOverrideRestoresAggregate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.createRoute(t, "A", 5)

	_, err := f.gate.Set(ctx, true)
	require.NoError(t, err)

	change, err := f.gate.Recompute(ctx, CauseRouteUpdate)
	require.NoError(t, err)
	assert.True(t, change.Changed)
	assert.False(t, change.Gate.IsOpen)
}

func TestConcurrentRouteTogglesFireOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.subscribe(t, "S1")
	ids := []string{"R1", "R2", "R3", "R4", "R5", "R6", "R7", "R8"}
	for _, id := range ids {
		f.createRoute(t, id, 10)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	opened := 0
	for _, id := range ids {
		id := id
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.routes.Toggle(ctx, id)
			if !assert.NoError(t, err) {
				return
			}
			if res.Gate.Opened {
				mu.Lock()
				opened++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, opened)
	assert.Equal(t, 1, f.sender.sentCount())
	gate, err := f.gate.Status(ctx)
	require.NoError(t, err)
	assert.True(t, gate.IsOpen)
}

func TestSyncMetricsSeedsGateGauge(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	require.NoError(t, st.PutGate(ctx, model.ReservationGate{IsOpen: true, UpdatedAt: time.Now().UTC()}))

	m := metrics.New()
	gate := NewGateService(st, nil, m, testConfig())
	require.NoError(t, gate.SyncMetrics(ctx))

	expected := `
# HELP busreserve_gate_open Current aggregate gate value (1 open, 0 closed).
# TYPE busreserve_gate_open gauge
busreserve_gate_open 1
`
	assert.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "busreserve_gate_open"))
}
