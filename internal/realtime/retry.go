package realtime

import (
	"math"
	"math/rand/v2"
	"time"
)

// DefaultReconnectDelay is the pause before reopening a failed stream.
const DefaultReconnectDelay = 5 * time.Second

// Retryer decides how long to wait before the next reconnect attempt.
type Retryer interface {
	// NextDelay is called with a 0-based attempt count. It returns false
	// to stop reconnecting.
	NextDelay(attempt int, lastErr error) (time.Duration, bool)

	// Reset is called once the stream is open again.
	Reset()
}

// FixedDelayRetryer waits the same delay before every attempt, forever.
type FixedDelayRetryer struct {
	Delay time.Duration
}

func (r FixedDelayRetryer) NextDelay(int, error) (time.Duration, bool) {
	if r.Delay <= 0 {
		return DefaultReconnectDelay, true
	}
	return r.Delay, true
}

func (FixedDelayRetryer) Reset() {}

// ExponentialBackoffRetryer doubles the delay on each attempt up to MaxDelay.
type ExponentialBackoffRetryer struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	// MaxRetries of 0 retries forever.
	MaxRetries int
	// JitterFactor spreads each delay by up to this fraction either way.
	JitterFactor float64
}

func NewExponentialBackoffRetryer() *ExponentialBackoffRetryer {
	return &ExponentialBackoffRetryer{
		InitialDelay: time.Second,
		MaxDelay:     time.Minute,
		Multiplier:   2,
		JitterFactor: 0.2,
	}
}

func (r *ExponentialBackoffRetryer) NextDelay(attempt int, _ error) (time.Duration, bool) {
	if r.MaxRetries > 0 && attempt >= r.MaxRetries {
		return 0, false
	}
	delay := float64(r.InitialDelay) * math.Pow(r.Multiplier, float64(attempt))
	if delay > float64(r.MaxDelay) {
		delay = float64(r.MaxDelay)
	}
	if r.JitterFactor > 0 {
		delay += delay * r.JitterFactor * (2*rand.Float64() - 1)
	}
	if delay <= 0 {
		delay = float64(r.InitialDelay)
	}
	return time.Duration(delay), true
}

func (*ExponentialBackoffRetryer) Reset() {}
