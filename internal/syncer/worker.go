package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
)

// Syncer is the part of the Orchestrator the Worker drives.
type Syncer interface {
	Reachable() bool
	Sync(ctx context.Context) (Report, error)
}

// QueueCounter reports how many mutations wait for the authority.
type QueueCounter interface {
	CountMutations() (int, error)
}

// Worker retries the mutation queue periodically, so a mutation that
// failed while the authority stayed reachable is not left waiting for the
// next connectivity flip.
type Worker struct {
	syncer Syncer
	queue  QueueCounter
	clock  clockwork.Clock
	poll   time.Duration
	logger *slog.Logger
}

// NewWorker creates a Worker. An interval of 0 or less disables it: Run
// returns at once.
func NewWorker(s Syncer, q QueueCounter, c clockwork.Clock, interval time.Duration) *Worker {
	if c == nil {
		c = clockwork.NewRealClock()
	}
	return &Worker{
		syncer: s,
		queue:  q,
		clock:  c,
		poll:   interval,
		logger: slog.Default(),
	}
}

// Enabled reports whether Run will retry periodically.
func (w *Worker) Enabled() bool { return w.poll > 0 }

// Run retries on every interval until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	if !w.Enabled() {
		w.logger.Info("periodic retry disabled")
		return
	}
	ticker := w.clock.NewTicker(w.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
		}
		if _, err := w.RunOnce(ctx); err != nil {
			w.logger.Error("retry iteration failed", "error", err)
		}
	}
}

// RunOnce syncs if the authority is reachable and the queue is non-empty.
// It reports whether a sync pass ran.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	if !w.syncer.Reachable() {
		return false, nil
	}
	n, err := w.queue.CountMutations()
	if err != nil {
		return false, fmt.Errorf("counting queued mutations: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	rep, err := w.syncer.Sync(ctx)
	if err != nil {
		return false, fmt.Errorf("syncing: %w", err)
	}
	if rep.Skipped {
		return false, nil
	}
	w.logger.Info("retried queued tickets", "confirmed", rep.Confirmed, "failed", rep.Failed)
	return true, nil
}
