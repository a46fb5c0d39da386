// Package connectivity tracks whether the authority is reachable and
// notifies subscribers on every change.
package connectivity

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/tariku1234/ticketdesk/internal/metrics"
)

const defaultInterval = 5 * time.Second

// Prober answers whether the authority responds right now.
type Prober interface {
	Ping(ctx context.Context) bool
}

// Handler receives reachability transitions.
type Handler interface {
	BecameReachable(ctx context.Context)
	BecameUnreachable(ctx context.Context)
}

// Monitor polls a Prober and turns its answers into transitions. Each flip
// is delivered exactly once to every subscriber, in subscription order.
type Monitor struct {
	prober   Prober
	clock    clockwork.Clock
	interval time.Duration
	metrics  *metrics.Metrics
	logger   *slog.Logger

	mu        sync.Mutex
	known     bool
	reachable bool
	handlers  []Handler

	// dispatch serialises transitions so subscribers never see two flips
	// interleave.
	dispatch sync.Mutex
}

// Option configures a Monitor.
type Option func(*Monitor)

func WithClock(c clockwork.Clock) Option { return func(m *Monitor) { m.clock = c } }

func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

func WithMetrics(mt *metrics.Metrics) Option { return func(m *Monitor) { m.metrics = mt } }

func WithLogger(l *slog.Logger) Option { return func(m *Monitor) { m.logger = l } }

// New creates a Monitor. The state is unknown, and reported unreachable,
// until the first probe or Report.
func New(p Prober, opts ...Option) *Monitor {
	m := &Monitor{
		prober:   p,
		clock:    clockwork.NewRealClock(),
		interval: defaultInterval,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Subscribe adds h to the transition subscribers.
func (m *Monitor) Subscribe(h Handler) {
	m.mu.Lock()
	m.handlers = append(m.handlers, h)
	m.mu.Unlock()
}

// Reachable returns the last known state.
func (m *Monitor) Reachable() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reachable
}

// Report records an observed state. Subscribers are called synchronously
// when it differs from the previous one, or when it is the first.
func (m *Monitor) Report(ctx context.Context, reachable bool) {
	m.dispatch.Lock()
	defer m.dispatch.Unlock()

	m.mu.Lock()
	changed := !m.known || m.reachable != reachable
	m.known = true
	m.reachable = reachable
	handlers := append([]Handler(nil), m.handlers...)
	m.mu.Unlock()

	if !changed {
		return
	}

	m.metrics.Reachable(reachable)
	if reachable {
		m.logger.Info("authority reachable")
	} else {
		m.logger.Warn("authority unreachable")
	}
	for _, h := range handlers {
		if reachable {
			h.BecameReachable(ctx)
		} else {
			h.BecameUnreachable(ctx)
		}
	}
}

// ProbeOnce probes the authority and reports the result.
func (m *Monitor) ProbeOnce(ctx context.Context) bool {
	ok := m.prober.Ping(ctx)
	if ctx.Err() != nil {
		return ok
	}
	m.Report(ctx, ok)
	return ok
}

// Run probes immediately and then on every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	m.ProbeOnce(ctx)

	ticker := m.clock.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
			m.ProbeOnce(ctx)
		}
	}
}
