// Package syncer reconciles locally created tickets with the authority and
// keeps the in-memory view consistent with the cache, the mutation queue and
// the push stream.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/tariku1234/ticketdesk/internal/authority"
	"github.com/tariku1234/ticketdesk/internal/correlation"
	"github.com/tariku1234/ticketdesk/internal/metrics"
	"github.com/tariku1234/ticketdesk/internal/ticket"
)

// ErrUnreachable is returned by Sync when the authority is known to be down.
var ErrUnreachable = errors.New("authority unreachable")

// Store is the durable side: the ticket cache and the mutation queue.
type Store interface {
	AllTickets() ([]ticket.Ticket, error)
	UpsertTicket(t ticket.Ticket) error
	StageOffline(m ticket.PendingMutation) error
	PromoteToOffline(oldID string, m ticket.PendingMutation) error
	PendingMutations() ([]ticket.PendingMutation, error)
	CountMutations() (int, error)
	RecordMutationFailure(id, errMsg string) error
	ReconcileMutation(placeholderID string, confirmed ticket.Ticket) error
}

// Authority is the remote source of truth.
type Authority interface {
	ListTickets(ctx context.Context, f ticket.Filter) ([]ticket.Ticket, error)
	CreateTicket(ctx context.Context, d ticket.Draft, idempotencyKey string) (ticket.Ticket, error)
}

// Reachability reports the current connectivity state.
type Reachability interface {
	Reachable() bool
}

// Report summarises one sync pass.
type Report struct {
	Skipped       bool      `json:"skipped"`
	Confirmed     int       `json:"confirmed"`
	Failed        int       `json:"failed"`
	Refreshed     int       `json:"refreshed"`
	RefreshFailed bool      `json:"refresh_failed"`
	// Interrupted is set when the drain stopped early because the
	// authority went away; the rest of the queue waits for the next pass.
	Interrupted   bool      `json:"interrupted"`
	FinishedAt    time.Time `json:"finished_at"`
}

// Status is a point-in-time snapshot for the local API.
type Status struct {
	Reachable bool      `json:"reachable"`
	Syncing   bool      `json:"syncing"`
	Pending   int       `json:"pending"`
	Tickets   int       `json:"tickets"`
	LastSync  time.Time `json:"last_sync,omitempty"`
}

// Options configures an Orchestrator.
type Options struct {
	// Scope is the filter sent to the authority on refresh.
	Scope   ticket.Filter
	Clock   clockwork.Clock
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Orchestrator owns the in-memory view and drives all reconciliation.
type Orchestrator struct {
	store     Store
	authority Authority
	reach     Reachability
	corr      *correlation.Table
	scope     ticket.Filter
	clock     clockwork.Clock
	metrics   *metrics.Metrics
	logger    *slog.Logger

	syncing atomic.Bool

	mu       sync.Mutex
	view     []ticket.Ticket
	lastSync time.Time
}

// New creates an Orchestrator. corr is shared with nothing else; it is
// passed in so tests can observe it.
func New(store Store, auth Authority, reach Reachability, corr *correlation.Table, opts Options) *Orchestrator {
	o := &Orchestrator{
		store:     store,
		authority: auth,
		reach:     reach,
		corr:      corr,
		scope:     opts.Scope,
		clock:     opts.Clock,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
	}
	if o.corr == nil {
		o.corr = correlation.New()
	}
	if o.clock == nil {
		o.clock = clockwork.NewRealClock()
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}

// Load fills the view from the cache. A storage failure leaves the view empty.
func (o *Orchestrator) Load() {
	all, err := o.store.AllTickets()
	if err != nil {
		o.logger.Warn("loading cached tickets", "error", err)
		all = nil
	}
	o.mu.Lock()
	o.view = all
	o.mu.Unlock()
	o.updateQueueDepth()
}

// Tickets returns the view narrowed by f, newest first.
func (o *Orchestrator) Tickets(f ticket.Filter) []ticket.Ticket {
	o.mu.Lock()
	snapshot := append([]ticket.Ticket(nil), o.view...)
	o.mu.Unlock()
	ticket.SortNewestFirst(snapshot)
	return f.Apply(snapshot)
}

// Reachable reports the connectivity flag shown to the user.
func (o *Orchestrator) Reachable() bool {
	return o.reach.Reachable()
}

// Pending returns the queued mutations.
func (o *Orchestrator) Pending() ([]ticket.PendingMutation, error) {
	return o.store.PendingMutations()
}

func (o *Orchestrator) Status() Status {
	n, err := o.store.CountMutations()
	if err != nil {
		o.logger.Warn("counting queued mutations", "error", err)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return Status{
		Reachable: o.reach.Reachable(),
		Syncing:   o.syncing.Load(),
		Pending:   n,
		Tickets:   len(o.view),
		LastSync:  o.lastSync,
	}
}

// BecameReachable runs one sync pass.
func (o *Orchestrator) BecameReachable(ctx context.Context) {
	rep, err := o.Sync(ctx)
	if err != nil {
		o.logger.Warn("sync on reconnect", "error", err)
		return
	}
	if !rep.Skipped {
		o.logger.Info("sync complete", "confirmed", rep.Confirmed, "failed", rep.Failed, "refreshed", rep.Refreshed)
	}
}

// BecameUnreachable needs no action: creation routing reads the current
// state on every call.
func (o *Orchestrator) BecameUnreachable(context.Context) {}

// Create records a new ticket. While reachable it is submitted at once with
// an optimistic placeholder in the view; otherwise it is staged in the cache
// and the mutation queue.
func (o *Orchestrator) Create(ctx context.Context, d ticket.Draft) (ticket.Ticket, error) {
	d, err := d.Normalize()
	if err != nil {
		return ticket.Ticket{}, err
	}
	if !o.reach.Reachable() {
		return o.createOffline(d, ticket.NewIdempotencyKey(), "")
	}
	return o.createOptimistic(ctx, d)
}

func (o *Orchestrator) newTicket(id string, d ticket.Draft) ticket.Ticket {
	return ticket.Ticket{
		ID:        id,
		Title:     d.Title,
		Category:  d.Category,
		Priority:  d.Priority,
		CreatedAt: o.clock.Now().UTC(),
	}
}

func (o *Orchestrator) createOffline(d ticket.Draft, key, replaces string) (ticket.Ticket, error) {
	m := ticket.PendingMutation{
		Ticket:         o.newTicket(ticket.NewOfflineID(), d),
		IdempotencyKey: key,
	}
	if err := o.store.PromoteToOffline(replaces, m); err != nil {
		return ticket.Ticket{}, fmt.Errorf("staging offline ticket: %w", err)
	}

	o.mu.Lock()
	if replaces != "" {
		o.replaceLocked(replaces, m.Ticket)
	} else {
		o.upsertLocked(m.Ticket)
	}
	o.mu.Unlock()

	if replaces != "" {
		o.metrics.Create("requeued")
	} else {
		o.metrics.Create("offline")
	}
	o.updateQueueDepth()
	o.logger.Debug("ticket staged offline", "ticket_id", m.ID)
	return m.Ticket, nil
}

func (o *Orchestrator) createOptimistic(ctx context.Context, d ticket.Draft) (ticket.Ticket, error) {
	placeholder := o.newTicket(ticket.NewOptimisticID(), d)
	key := ticket.NewIdempotencyKey()

	o.corr.MarkPending(placeholder.ID)
	o.mu.Lock()
	o.upsertLocked(placeholder)
	o.mu.Unlock()

	confirmed, err := o.authority.CreateTicket(ctx, d, key)
	if err != nil {
		return o.optimisticFailed(placeholder, d, key, err)
	}

	o.mu.Lock()
	if _, ok := o.indexLocked(placeholder.ID); ok {
		o.corr.Resolve(placeholder.ID, confirmed.ID)
	} else {
		// The echo already arrived and took the placeholder's place.
		o.corr.Release(placeholder.ID)
	}
	o.replaceLocked(placeholder.ID, confirmed)
	o.mu.Unlock()
	if err := o.store.UpsertTicket(confirmed); err != nil {
		o.logger.Warn("caching confirmed ticket", "ticket_id", confirmed.ID, "error", err)
	}
	o.metrics.Create("online")
	return confirmed, nil
}

// optimisticFailed moves a failed online create into the mutation queue,
// reusing its idempotency key, so the next sync pass retries it. If a push
// event already replaced the placeholder the authority has the ticket and
// nothing is requeued.
func (o *Orchestrator) optimisticFailed(placeholder ticket.Ticket, d ticket.Draft, key string, cause error) (ticket.Ticket, error) {
	o.corr.Release(placeholder.ID)

	o.mu.Lock()
	_, stillShown := o.indexLocked(placeholder.ID)
	o.mu.Unlock()
	if !stillShown {
		o.logger.Warn("create failed after push confirmed it", "ticket_id", placeholder.ID, "error", cause)
		return ticket.Ticket{}, fmt.Errorf("creating ticket: %w", cause)
	}

	o.logger.Warn("create failed, queueing for retry", "ticket_id", placeholder.ID, "error", cause)
	t, err := o.createOffline(d, key, placeholder.ID)
	if err != nil {
		o.logger.Error("requeueing failed create", "ticket_id", placeholder.ID, "error", err)
		return placeholder, fmt.Errorf("creating ticket: %w", cause)
	}
	return t, nil
}

// Sync drains the mutation queue in order and then refreshes the view from
// the authority. A call made while another pass runs returns a skipped
// report.
func (o *Orchestrator) Sync(ctx context.Context) (Report, error) {
	if !o.reach.Reachable() {
		o.metrics.SyncRun("unreachable")
		return Report{}, ErrUnreachable
	}
	if !o.syncing.CompareAndSwap(false, true) {
		o.metrics.SyncRun("skipped")
		return Report{Skipped: true}, nil
	}
	defer o.syncing.Store(false)
	defer o.metrics.ObserveSync()()

	var rep Report
	o.drain(ctx, &rep)
	if rep.Interrupted {
		rep.RefreshFailed = true
	} else {
		o.refresh(ctx, &rep)
	}

	rep.FinishedAt = o.clock.Now().UTC()
	o.mu.Lock()
	o.lastSync = rep.FinishedAt
	o.mu.Unlock()
	o.updateQueueDepth()
	o.metrics.SyncRun("completed")
	return rep, nil
}

func (o *Orchestrator) drain(ctx context.Context, rep *Report) {
	pending, err := o.store.PendingMutations()
	if err != nil {
		o.logger.Warn("reading mutation queue", "error", err)
		return
	}

	for i, m := range pending {
		if ctx.Err() != nil {
			return
		}
		if !o.reach.Reachable() {
			rep.Interrupted = true
			o.logger.Info("authority went away, stopping drain", "remaining", len(pending)-i)
			return
		}
		confirmed, err := o.authority.CreateTicket(ctx, m.Draft(), m.IdempotencyKey)
		if err != nil {
			rep.Failed++
			o.metrics.Mutation("failed")
			o.logger.Warn("submitting queued ticket", "ticket_id", m.ID, "attempt", m.Attempts+1, "error", err)
			if ferr := o.store.RecordMutationFailure(m.ID, err.Error()); ferr != nil {
				o.logger.Error("recording mutation failure", "ticket_id", m.ID, "error", ferr)
			}
			// The rest would wait out the same timeout one by one.
			if authority.IsNetwork(err) {
				rep.Interrupted = true
				o.logger.Info("authority unreachable, stopping drain", "remaining", len(pending)-i-1)
				return
			}
			continue
		}

		if err := o.store.ReconcileMutation(m.ID, confirmed); err != nil {
			o.logger.Error("reconciling queued ticket", "ticket_id", m.ID, "confirmed_id", confirmed.ID, "error", err)
		}
		o.mu.Lock()
		o.replaceLocked(m.ID, confirmed)
		o.mu.Unlock()
		rep.Confirmed++
		o.metrics.Mutation("confirmed")
	}
}

func (o *Orchestrator) refresh(ctx context.Context, rep *Report) {
	fetched, err := o.authority.ListTickets(ctx, o.scope)
	if err != nil {
		rep.RefreshFailed = true
		o.logger.Debug("refresh dropped", "error", err)
		return
	}

	for _, t := range fetched {
		if err := o.store.UpsertTicket(t); err != nil {
			o.logger.Warn("caching refreshed ticket", "ticket_id", t.ID, "error", err)
			break
		}
	}
	rep.Refreshed = len(fetched)

	o.mu.Lock()
	defer o.mu.Unlock()
	next := append([]ticket.Ticket(nil), fetched...)
	seen := make(map[string]bool, len(next))
	for _, t := range next {
		seen[t.ID] = true
	}
	// Keep what the user created and the authority has not confirmed yet.
	for _, t := range o.view {
		if seen[t.ID] {
			continue
		}
		switch ticket.OriginOf(t.ID) {
		case ticket.OriginOffline:
			next = append(next, t)
		case ticket.OriginOptimistic:
			if o.corr.Has(t.ID) {
				next = append(next, t)
			}
		}
	}
	o.view = next
}

// Refresh re-reads the authority's ticket set without draining the queue.
// Network failures are dropped.
func (o *Orchestrator) Refresh(ctx context.Context) {
	var rep Report
	o.refresh(ctx, &rep)
}

// ApplyPushed handles a ticket announced on the push stream.
func (o *Orchestrator) ApplyPushed(ctx context.Context, t ticket.Ticket) {
	if o.corr.Claim(t.ID) {
		o.metrics.PushEvent("echo")
		o.logger.Debug("dropping echo of own create", "ticket_id", t.ID)
		return
	}

	o.mu.Lock()
	for i, v := range o.view {
		if ticket.IsOptimistic(v.ID) && v.Title == t.Title {
			o.logger.Debug("push replaces optimistic placeholder", "placeholder_id", v.ID, "ticket_id", t.ID)
			o.view = append(o.view[:i], o.view[i+1:]...)
			break
		}
	}
	o.upsertLocked(t)
	o.mu.Unlock()

	if err := o.store.UpsertTicket(t); err != nil {
		o.logger.Warn("caching pushed ticket", "ticket_id", t.ID, "error", err)
	}
	o.metrics.PushEvent("applied")
}

func (o *Orchestrator) indexLocked(id string) (int, bool) {
	for i, v := range o.view {
		if v.ID == id {
			return i, true
		}
	}
	return -1, false
}

// upsertLocked replaces the view entry with t's id or prepends t.
func (o *Orchestrator) upsertLocked(t ticket.Ticket) {
	if i, ok := o.indexLocked(t.ID); ok {
		o.view[i] = t
		return
	}
	o.view = append([]ticket.Ticket{t}, o.view...)
}

// replaceLocked swaps the placeholder oldID for t, dropping any other entry
// that already carries t's id.
func (o *Orchestrator) replaceLocked(oldID string, t ticket.Ticket) {
	if i, ok := o.indexLocked(t.ID); ok && t.ID != oldID {
		o.view = append(o.view[:i], o.view[i+1:]...)
	}
	if i, ok := o.indexLocked(oldID); ok {
		o.view[i] = t
		return
	}
	o.upsertLocked(t)
}

func (o *Orchestrator) updateQueueDepth() {
	if n, err := o.store.CountMutations(); err == nil {
		o.metrics.QueueDepth(n)
	}
}
