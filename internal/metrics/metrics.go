// Package metrics exposes Prometheus instrumentation for the sync engine.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors registered for one engine instance.
type Metrics struct {
	registry *prometheus.Registry

	syncRuns         *prometheus.CounterVec
	syncDuration     prometheus.Histogram
	mutations        *prometheus.CounterVec
	queueDepth       prometheus.Gauge
	reachable        prometheus.Gauge
	pushEvents       *prometheus.CounterVec
	streamReconnects prometheus.Counter
	creates          *prometheus.CounterVec
}

// New registers collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		syncRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ticketdesk_sync_runs_total",
			Help: "Sync passes by outcome (completed, skipped, unreachable).",
		}, []string{"outcome"}),
		syncDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "ticketdesk_sync_duration_seconds",
			Help:    "Duration of completed sync passes.",
			Buckets: prometheus.DefBuckets,
		}),
		mutations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ticketdesk_mutations_total",
			Help: "Queued mutations submitted during sync by result (confirmed, failed).",
		}, []string{"result"}),
		queueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "ticketdesk_queue_depth",
			Help: "Mutations waiting for the authority.",
		}),
		reachable: f.NewGauge(prometheus.GaugeOpts{
			Name: "ticketdesk_authority_reachable",
			Help: "1 when the authority is reachable.",
		}),
		pushEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ticketdesk_push_events_total",
			Help: "Push events by disposition (applied, echo, malformed, ignored).",
		}, []string{"disposition"}),
		streamReconnects: f.NewCounter(prometheus.CounterOpts{
			Name: "ticketdesk_stream_reconnects_total",
			Help: "Reconnect attempts scheduled for the push stream.",
		}),
		creates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ticketdesk_creates_total",
			Help: "Ticket creations by path (online, offline, requeued).",
		}, []string{"path"}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry, for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) SyncRun(outcome string) {
	if m != nil {
		m.syncRuns.WithLabelValues(outcome).Inc()
	}
}

// ObserveSync returns a function that records the elapsed sync duration.
func (m *Metrics) ObserveSync() func() {
	if m == nil {
		return func() {}
	}
	t := prometheus.NewTimer(m.syncDuration)
	return func() { t.ObserveDuration() }
}

func (m *Metrics) Mutation(result string) {
	if m != nil {
		m.mutations.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) QueueDepth(n int) {
	if m != nil {
		m.queueDepth.Set(float64(n))
	}
}

func (m *Metrics) Reachable(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.reachable.Set(1)
	} else {
		m.reachable.Set(0)
	}
}

func (m *Metrics) PushEvent(disposition string) {
	if m != nil {
		m.pushEvents.WithLabelValues(disposition).Inc()
	}
}

func (m *Metrics) StreamReconnect() {
	if m != nil {
		m.streamReconnects.Inc()
	}
}

func (m *Metrics) Create(path string) {
	if m != nil {
		m.creates.WithLabelValues(path).Inc()
	}
}
