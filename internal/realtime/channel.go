package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/tariku1234/ticketdesk/internal/metrics"
	"github.com/tariku1234/ticketdesk/internal/ticket"
)

// State of the push connection.
type State int

const (
	StateClosed State = iota
	StateConnecting
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "Closed"
	case StateConnecting:
		return "Connecting"
	case StateOpen:
		return "Open"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

func (s State) validateTransitionTo(next State) error {
	switch s {
	case StateClosed:
		switch next {
		case StateClosed, StateConnecting:
			return nil
		}
	case StateConnecting:
		switch next {
		case StateOpen, StateClosed:
			return nil
		}
	case StateOpen:
		switch next {
		case StateClosed, StateConnecting:
			return nil
		}
	}
	return fmt.Errorf("invalid state transition from %s to %s", s, next)
}

// EventHandler receives every ticket announced on the stream.
type EventHandler interface {
	ApplyPushed(ctx context.Context, t ticket.Ticket)
}

// Channel keeps one push connection open while active. On failure it closes
// and schedules exactly one reconnect after the Retryer delay.
type Channel struct {
	dialer  Dialer
	handler EventHandler
	retryer Retryer
	clock   clockwork.Clock
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu      sync.Mutex
	state   State
	active  bool
	baseCtx context.Context
	cancel  context.CancelFunc
	timer   clockwork.Timer
	attempt int
	// gen identifies the current connection and its reconnect timer;
	// callbacks carrying an older gen are ignored.
	gen int
	wg  sync.WaitGroup
}

// Option configures a Channel.
type Option func(*Channel)

func WithRetryer(r Retryer) Option { return func(c *Channel) { c.retryer = r } }

func WithClock(cl clockwork.Clock) Option { return func(c *Channel) { c.clock = cl } }

func WithMetrics(m *metrics.Metrics) Option { return func(c *Channel) { c.metrics = m } }

func WithLogger(l *slog.Logger) Option { return func(c *Channel) { c.logger = l } }

// NewChannel creates an inactive Channel.
func NewChannel(d Dialer, h EventHandler, opts ...Option) *Channel {
	c := &Channel{
		dialer:  d,
		handler: h,
		retryer: FixedDelayRetryer{Delay: DefaultReconnectDelay},
		clock:   clockwork.NewRealClock(),
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// State returns the current connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ReconnectPending reports whether a reconnect timer is outstanding.
func (c *Channel) ReconnectPending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timer != nil
}

// Start activates the channel and opens a connection. Starting an active
// channel does nothing.
func (c *Channel) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active {
		return
	}
	c.active = true
	c.baseCtx = context.WithoutCancel(ctx)
	c.attempt = 0
	c.connectLocked()
}

// Stop deactivates the channel, cancels any pending reconnect, closes the
// connection and waits for the reader to exit.
func (c *Channel) Stop() {
	c.mu.Lock()
	c.active = false
	c.stopTimerLocked()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.gen++
	c.transitionLocked(StateClosed)
	c.mu.Unlock()

	c.wg.Wait()
}

func (c *Channel) BecameReachable(ctx context.Context) { c.Start(ctx) }

func (c *Channel) BecameUnreachable(context.Context) { c.Stop() }

func (c *Channel) transitionLocked(next State) {
	if err := c.state.validateTransitionTo(next); err != nil {
		c.logger.Error("push channel state", "error", err)
		return
	}
	if c.state != next {
		c.logger.Debug("push channel state transitioned", "from", c.state, "to", next)
	}
	c.state = next
}

func (c *Channel) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Channel) connectLocked() {
	c.stopTimerLocked()
	if c.cancel != nil {
		c.cancel()
	}
	c.transitionLocked(StateConnecting)

	ctx, cancel := context.WithCancel(c.baseCtx)
	c.cancel = cancel
	c.gen++
	gen := c.gen

	c.wg.Add(1)
	go c.run(ctx, gen)
}

func (c *Channel) run(ctx context.Context, gen int) {
	defer c.wg.Done()

	stream, err := c.dialer.Dial(ctx)
	if err != nil {
		c.failed(gen, err)
		return
	}
	defer stream.Close()

	if !c.opened(gen) {
		return
	}

	for {
		payload, err := stream.Next()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.failed(gen, err)
			return
		}
		c.dispatch(ctx, payload)
	}
}

func (c *Channel) opened(gen int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || !c.active {
		return false
	}
	c.stopTimerLocked()
	c.transitionLocked(StateOpen)
	c.attempt = 0
	c.retryer.Reset()
	c.logger.Info("push stream open")
	return true
}

func (c *Channel) failed(gen int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || !c.active {
		return
	}
	c.transitionLocked(StateClosed)
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.timer != nil {
		return
	}

	delay, ok := c.retryer.NextDelay(c.attempt, err)
	if !ok {
		c.logger.Error("push stream failed, giving up", "attempts", c.attempt, "error", err)
		return
	}
	if delay <= 0 {
		delay = time.Millisecond
	}
	c.attempt++
	c.metrics.StreamReconnect()
	c.logger.Warn("push stream failed, reconnecting", "delay", delay, "error", err)
	c.timer = c.clock.AfterFunc(delay, func() { c.reconnect(gen) })
}

// reconnect runs when the timer scheduled by the failure of connection gen
// fires. A Stop or a newer connection since then makes it stale.
func (c *Channel) reconnect(gen int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return
	}
	c.timer = nil
	if !c.active || c.state != StateClosed {
		return
	}
	c.connectLocked()
}

func (c *Channel) dispatch(ctx context.Context, payload []byte) {
	ev, err := Decode(payload)
	if err != nil {
		var me *MalformedEventError
		if errors.As(err, &me) {
			c.metrics.PushEvent("malformed")
			c.logger.Warn("dropping push event", "error", err)
		}
		return
	}
	if ev.Type != EventNewTicket {
		c.metrics.PushEvent("ignored")
		c.logger.Debug("ignoring push event", "type", ev.Type)
		return
	}
	c.handler.ApplyPushed(ctx, *ev.Ticket)
}
