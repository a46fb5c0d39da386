package syncer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

type mockSyncer struct {
	reachable bool
	syncFn    func(ctx context.Context) (Report, error)
	calls     int
}

func (m *mockSyncer) Reachable() bool { return m.reachable }

func (m *mockSyncer) Sync(ctx context.Context) (Report, error) {
	m.calls++
	if m.syncFn != nil {
		return m.syncFn(ctx)
	}
	return Report{}, nil
}

type mockQueue struct {
	n   int
	err error
}

func (q mockQueue) CountMutations() (int, error) { return q.n, q.err }

func TestWorkerRunOnce(t *testing.T) {
	tests := []struct {
		name      string
		reachable bool
		queue     mockQueue
		report    Report
		wantRan   bool
		wantCalls int
		wantErr   bool
	}{
		{name: "unreachable", reachable: false, queue: mockQueue{n: 2}},
		{name: "empty queue", reachable: true, queue: mockQueue{n: 0}},
		{name: "syncs", reachable: true, queue: mockQueue{n: 2}, report: Report{Confirmed: 2}, wantRan: true, wantCalls: 1},
		{name: "skipped", reachable: true, queue: mockQueue{n: 1}, report: Report{Skipped: true}, wantCalls: 1},
		{name: "count error", reachable: true, queue: mockQueue{err: errors.New("disk")}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &mockSyncer{reachable: tt.reachable, syncFn: func(context.Context) (Report, error) { return tt.report, nil }}
			w := NewWorker(s, tt.queue, nil, time.Second)

			ran, err := w.RunOnce(context.Background())
			if (err != nil) != tt.wantErr {
				t.Fatalf("RunOnce() error = %v, wantErr %v", err, tt.wantErr)
			}
			if ran != tt.wantRan {
				t.Errorf("RunOnce() = %v, want %v", ran, tt.wantRan)
			}
			if s.calls != tt.wantCalls {
				t.Errorf("Sync calls = %d, want %d", s.calls, tt.wantCalls)
			}
		})
	}
}

func TestWorkerRunStopsOnCancel(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	w := NewWorker(h.o, h.store, h.clock, time.Second)

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	waitCtx, stop := context.WithTimeout(ctx, time.Second)
	defer stop()
	if err := h.clock.BlockUntilContext(waitCtx, 1); err != nil {
		t.Fatalf("ticker never started: %v", err)
	}
	h.clock.Advance(time.Second)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestWorkerZeroIntervalIsDisabled(t *testing.T) {
	s := &mockSyncer{reachable: true}
	fc := clockwork.NewFakeClock()
	w := NewWorker(s, mockQueue{n: 1}, fc, 0)
	if w.Enabled() {
		t.Fatal("Enabled() = true for a zero interval")
	}

	done := make(chan struct{})
	go func() {
		w.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return for a disabled worker")
	}

	fc.Advance(time.Hour)
	if s.calls != 0 {
		t.Errorf("Sync calls = %d, want 0", s.calls)
	}
}
