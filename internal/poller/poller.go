package poller

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/schoolbus-labs/busreserve/internal/model"
)

// ErrAlreadyRunning is returned by Start while the loop is active.
var ErrAlreadyRunning = errors.New("poller already running")

// State is the lifecycle state of a Poller.
type State int

const (
	Idle State = iota
	Polling
)

func (s State) String() string {
	if s == Polling {
		return "polling"
	}
	return "idle"
}

// StatusFetcher reads the aggregate gate from the backend.
type StatusFetcher interface {
	Status(ctx context.Context) (model.GateView, error)
}

// Sink receives the alert raised on a closed->open transition.
type Sink interface {
	Present(event model.NotificationEvent)
}

// Stats is a snapshot of the poller's bookkeeping.
type Stats struct {
	State      string          `json:"state"`
	Running    bool            `json:"running"`
	Interval   time.Duration   `json:"interval"`
	Checks     int             `json:"checks"`
	Failures   int             `json:"failures"`
	Alerts     int             `json:"alerts"`
	LastStatus *model.GateView `json:"last_status,omitempty"`
	LastCheck  time.Time       `json:"last_check"`
	LastError  string          `json:"last_error,omitempty"`
}

// Option customises a Poller.
type Option func(*Poller)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(p *Poller) { p.clock = c }
}

// Poller periodically fetches the gate and raises an alert when it observes
// closed->open. It is the fallback path for devices without background push.
type Poller struct {
	fetcher  StatusFetcher
	sink     Sink
	clock    Clock
	interval time.Duration

	// runMu serialises Start and Stop.
	runMu  sync.Mutex
	state  State
	cancel context.CancelFunc
	done   chan struct{}

	mu         sync.Mutex
	previous   bool
	checks     int
	failures   int
	alerts     int
	lastStatus *model.GateView
	lastCheck  time.Time
	lastErr    error
}

// New builds an idle Poller. The remembered previous value starts closed and
// survives Stop/Start cycles.
func New(fetcher StatusFetcher, sink Sink, interval time.Duration, opts ...Option) *Poller {
	p := &Poller{
		fetcher:  fetcher,
		sink:     sink,
		clock:    realClock{},
		interval: interval,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start fetches immediately and then once per interval until Stop or ctx is done.
func (p *Poller) Start(ctx context.Context) error {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	if p.running() {
		return ErrAlreadyRunning
	}
	if p.cancel != nil {
		// the parent context ended the previous loop
		p.cancel()
	}
	if p.interval <= 0 {
		return errors.New("poll interval must be positive")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.state = Polling
	go p.loop(loopCtx, p.done)
	log.Infof("poller: started, interval %s", p.interval)
	return nil
}

// Stop cancels the loop and waits for it to exit. No fetch or edge check
// happens after Stop returns. Stopping an idle poller is a no-op.
func (p *Poller) Stop() {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	if p.state != Polling {
		return
	}
	p.cancel()
	<-p.done
	p.state = Idle
	p.cancel = nil
	log.Infof("poller: stopped")
}

// State reports the lifecycle state.
func (p *Poller) State() State {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	if p.running() {
		return Polling
	}
	return Idle
}

// running must be called with runMu held.
func (p *Poller) running() bool {
	if p.state != Polling {
		return false
	}
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// Poll runs one check synchronously.
func (p *Poller) Poll(ctx context.Context) error {
	return p.check(ctx)
}

// Stats returns a snapshot of the poller's counters.
func (p *Poller) Stats() Stats {
	state := p.State()
	p.mu.Lock()
	defer p.mu.Unlock()
	st := Stats{
		State:     state.String(),
		Running:   state == Polling,
		Interval:  p.interval,
		Checks:    p.checks,
		Failures:  p.failures,
		Alerts:    p.alerts,
		LastCheck: p.lastCheck,
	}
	if p.lastStatus != nil {
		last := *p.lastStatus
		st.LastStatus = &last
	}
	if p.lastErr != nil {
		st.LastError = p.lastErr.Error()
	}
	return st
}

func (p *Poller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	_ = p.check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			// a tick and cancellation can be ready together
			if ctx.Err() != nil {
				return
			}
			_ = p.check(ctx)
		}
	}
}

func (p *Poller) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	view, err := p.fetcher.Status(ctx)
	if ctx.Err() != nil {
		// stopped mid-fetch: the result belongs to no live session
		return ctx.Err()
	}

	p.mu.Lock()
	p.checks++
	p.lastCheck = p.clock.Now()
	if err != nil {
		p.failures++
		p.lastErr = err
		p.mu.Unlock()
		log.Warnf("poller: fetch status: %v", err)
		return err
	}
	p.lastErr = nil
	p.lastStatus = &view
	rising := !p.previous && view.IsOpen
	p.previous = view.IsOpen
	if rising {
		p.alerts++
	}
	p.mu.Unlock()

	if rising {
		event := model.OpenEventFor(view)
		log.Infof("poller: reservation opened, tag %s", event.Tag)
		if p.sink != nil {
			p.sink.Present(event)
		}
	}
	return nil
}
