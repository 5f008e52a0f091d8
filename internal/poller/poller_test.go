package poller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/schoolbus-labs/busreserve/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const interval = 30 * time.Second

type fakeTicker struct {
	ch      chan time.Time
	stopped atomic.Bool
}

func (f *fakeTicker) C() <-chan time.Time { return f.ch }
func (f *fakeTicker) Stop()               { f.stopped.Store(true) }

type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers chan *fakeTicker
}

func newFakeClock() *fakeClock {
	return &fakeClock{
		now:     time.Date(2024, 9, 1, 7, 0, 0, 0, time.UTC),
		tickers: make(chan *fakeTicker, 8),
	}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) NewTicker(time.Duration) Ticker {
	t := &fakeTicker{ch: make(chan time.Time)}
	c.tickers <- t
	return t
}

// advance moves simulated time by one interval and delivers the tick.
// It reports whether the loop accepted it.
func (c *fakeClock) advance(tk *fakeTicker) bool {
	c.mu.Lock()
	c.now = c.now.Add(interval)
	now := c.now
	c.mu.Unlock()
	select {
	case tk.ch <- now:
		return true
	case <-time.After(100 * time.Millisecond):
		return false
	}
}

type result struct {
	open bool
	err  error
}

type scriptedFetcher struct {
	mu     sync.Mutex
	script []result
	calls  int
	called chan struct{}
	block  bool
}

func newScriptedFetcher(script ...result) *scriptedFetcher {
	return &scriptedFetcher{script: script, called: make(chan struct{}, 64)}
}

func (f *scriptedFetcher) Status(ctx context.Context) (model.GateView, error) {
	f.mu.Lock()
	idx := min(f.calls, len(f.script)-1)
	f.calls++
	block := f.block
	f.mu.Unlock()
	f.called <- struct{}{}
	if block {
		<-ctx.Done()
	}
	r := f.script[idx]
	at := time.Unix(0, int64(idx+1)*1_000_000_000)
	return model.GateView{IsOpen: r.open, UpdatedAt: &at}, r.err
}

func (f *scriptedFetcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *scriptedFetcher) waitCall(t *testing.T) {
	t.Helper()
	select {
	case <-f.called:
	case <-time.After(2 * time.Second):
		t.Fatal("expected a status fetch")
	}
}

type recordingSink struct {
	mu     sync.Mutex
	events []model.NotificationEvent
}

func (r *recordingSink) Present(event model.NotificationEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func runScript(t *testing.T, p *Poller, f *scriptedFetcher, clock *fakeClock, ticks int) {
	t.Helper()
	require.NoError(t, p.Start(context.Background()))
	f.waitCall(t)
	tk := <-clock.tickers
	for i := 0; i < ticks; i++ {
		require.True(t, clock.advance(tk))
		f.waitCall(t)
	}
	p.Stop()
}

func TestPollerRaisesAlertOnlyOnRisingEdge(t *testing.T) {
	clock := newFakeClock()
	f := newScriptedFetcher(
		result{open: false}, result{open: false}, result{open: true},
		result{open: true}, result{open: false}, result{open: true},
	)
	sink := &recordingSink{}
	p := New(f, sink, interval, WithClock(clock))

	runScript(t, p, f, clock, 5)

	require.Equal(t, 2, sink.count())
	assert.NotEqual(t, sink.events[0].Tag, sink.events[1].Tag)
	assert.True(t, sink.events[0].RequireInteraction)

	st := p.Stats()
	assert.Equal(t, 6, st.Checks)
	assert.Equal(t, 2, st.Alerts)
	assert.False(t, st.Running)
	require.NotNil(t, st.LastStatus)
	assert.True(t, st.LastStatus.IsOpen)
}

func TestPollerFirstObservationOpenAlerts(t *testing.T) {
	clock := newFakeClock()
	f := newScriptedFetcher(result{open: true})
	sink := &recordingSink{}
	p := New(f, sink, interval, WithClock(clock))

	runScript(t, p, f, clock, 2)
	assert.Equal(t, 1, sink.count())
}

func TestPollerErrorsKeepPreviousAndContinue(t *testing.T) {
	clock := newFakeClock()
	boom := errors.New("connection refused")
	f := newScriptedFetcher(result{open: true}, result{err: boom}, result{open: true}, result{open: false}, result{err: boom}, result{open: true})
	sink := &recordingSink{}
	p := New(f, sink, interval, WithClock(clock))

	runScript(t, p, f, clock, 5)

	assert.Equal(t, 2, sink.count())
	st := p.Stats()
	assert.Equal(t, 2, st.Failures)
	assert.Equal(t, 6, st.Checks)
	assert.Empty(t, st.LastError)
}

func TestPollerNoFetchAfterStop(t *testing.T) {
	clock := newFakeClock()
	f := newScriptedFetcher(result{open: false})
	p := New(f, &recordingSink{}, interval, WithClock(clock))

	require.NoError(t, p.Start(context.Background()))
	f.waitCall(t)
	tk := <-clock.tickers
	require.True(t, clock.advance(tk))
	f.waitCall(t)

	p.Stop()
	assert.Equal(t, Idle, p.State())
	assert.True(t, tk.stopped.Load())

	calls := f.count()
	assert.False(t, clock.advance(tk), "stopped loop must not accept ticks")
	assert.False(t, clock.advance(tk))
	assert.Equal(t, calls, f.count())

	p.Stop()
}

func TestPollerStopDuringFetchDiscardsResult(t *testing.T) {
	clock := newFakeClock()
	f := newScriptedFetcher(result{open: true})
	f.block = true
	sink := &recordingSink{}
	p := New(f, sink, interval, WithClock(clock))

	require.NoError(t, p.Start(context.Background()))
	f.waitCall(t)
	p.Stop()

	assert.Equal(t, 0, sink.count())
	assert.Equal(t, 0, p.Stats().Checks)
}

func TestPollerPreviousSurvivesRestart(t *testing.T) {
	clock := newFakeClock()
	f := newScriptedFetcher(result{open: true})
	sink := &recordingSink{}
	p := New(f, sink, interval, WithClock(clock))

	runScript(t, p, f, clock, 0)
	assert.Equal(t, 1, sink.count())

	runScript(t, p, f, clock, 1)
	assert.Equal(t, 1, sink.count())
}

func TestPollerStartTwice(t *testing.T) {
	clock := newFakeClock()
	f := newScriptedFetcher(result{open: false})
	p := New(f, &recordingSink{}, interval, WithClock(clock))

	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()
	f.waitCall(t)
	assert.ErrorIs(t, p.Start(context.Background()), ErrAlreadyRunning)
	assert.Equal(t, Polling, p.State())
}

func TestPollerParentCancelEndsLoop(t *testing.T) {
	clock := newFakeClock()
	f := newScriptedFetcher(result{open: false})
	p := New(f, &recordingSink{}, interval, WithClock(clock))

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, p.Start(ctx))
	f.waitCall(t)
	<-clock.tickers
	cancel()

	require.Eventually(t, func() bool { return p.State() == Idle }, time.Second, 5*time.Millisecond)
	require.NoError(t, p.Start(context.Background()))
	p.Stop()
}

func TestPollManual(t *testing.T) {
	f := newScriptedFetcher(result{open: true})
	sink := &recordingSink{}
	p := New(f, sink, interval)

	require.NoError(t, p.Poll(context.Background()))
	require.NoError(t, p.Poll(context.Background()))
	assert.Equal(t, 1, sink.count())
	assert.Equal(t, model.OpenTag(time.Unix(1, 0)), sink.events[0].Tag)
}

func TestPollWithoutSinkTracksStatus(t *testing.T) {
	f := newScriptedFetcher(result{open: false}, result{open: true})
	p := New(f, nil, interval)

	require.NoError(t, p.Poll(context.Background()))
	require.NoError(t, p.Poll(context.Background()))
	st := p.Stats()
	assert.Equal(t, 1, st.Alerts)
	require.NotNil(t, st.LastStatus)
	assert.True(t, st.LastStatus.IsOpen)
}
