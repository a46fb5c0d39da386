package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.SyncRun("completed")
	m.ObserveSync()()
	m.Mutation("confirmed")
	m.QueueDepth(3)
	m.Reachable(true)
	m.PushEvent("applied")
	m.StreamReconnect()
	m.Create("offline")
}

func TestCounters(t *testing.T) {
	m := New()
	m.Mutation("confirmed")
	m.Mutation("confirmed")
	m.Mutation("failed")
	m.QueueDepth(4)

	if got := testutil.ToFloat64(m.mutations.WithLabelValues("confirmed")); got != 2 {
		t.Errorf("confirmed = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.queueDepth); got != 4 {
		t.Errorf("queue depth = %v, want 4", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.Reachable(true)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "ticketdesk_authority_reachable 1") {
		t.Errorf("exposition missing reachable gauge:\n%s", body)
	}
}
