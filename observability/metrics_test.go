package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"

	"github.com/netsys-lab/multipath-uplink/pathmon"
)

func TestCollectorRecordsDeliveryCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewUplinkCollector(reg)
	if err != nil {
		t.Fatalf("NewUplinkCollector: %v", err)
	}

	c.IncSent()
	c.IncSent()
	c.IncQueued()
	c.AddDropped(3)
	c.AddDropped(0) // no-op
	c.IncReconnects()
	c.SetBufferLength(7)

	if got := testutil.ToFloat64(c.FixesSent); got != 2 {
		t.Fatalf("uplink_fixes_sent_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.FixesQueued); got != 1 {
		t.Fatalf("uplink_fixes_queued_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.FixesDropped); got != 3 {
		t.Fatalf("uplink_fixes_dropped_total = %v, want 3", got)
	}
	if got := testutil.ToFloat64(c.Reconnects); got != 1 {
		t.Fatalf("uplink_reconnects_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.BufferLength); got != 7 {
		t.Fatalf("uplink_retry_buffer_length = %v, want 7", got)
	}
}

func TestCollectorImplementsPathObserver(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewUplinkCollector(reg)
	if err != nil {
		t.Fatalf("NewUplinkCollector: %v", err)
	}
	var _ pathmon.Observer = c

	c.PathStateChanged("wwan0", pathmon.Up, pathmon.Degraded)
	c.ProbeFailed("wwan0")
	c.ProbeFailed("wwan0")

	if got := testutil.ToFloat64(c.PathState.WithLabelValues("wwan0")); got != float64(pathmon.Degraded) {
		t.Fatalf("uplink_path_state{path=wwan0} = %v, want %v", got, float64(pathmon.Degraded))
	}
	if got := testutil.ToFloat64(c.ProbeFailures.WithLabelValues("wwan0")); got != 2 {
		t.Fatalf("uplink_probe_failures_total{path=wwan0} = %v, want 2", got)
	}

	// The path label must survive gathering.
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	var stateFamily *dto.MetricFamily
	for _, f := range families {
		if f.GetName() == "uplink_path_state" {
			stateFamily = f
		}
	}
	if stateFamily == nil {
		t.Fatal("uplink_path_state not gathered")
	}
	labels := stateFamily.GetMetric()[0].GetLabel()
	if len(labels) != 1 || labels[0].GetName() != "path" || labels[0].GetValue() != "wwan0" {
		t.Fatalf("uplink_path_state labels = %v, want path=wwan0", labels)
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewUplinkCollector(reg)
	if err != nil {
		t.Fatalf("NewUplinkCollector: %v", err)
	}
	c.IncSent()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	c.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("GET /metrics = %d, want 200", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "uplink_fixes_sent_total 1") {
		t.Fatalf("metrics output missing sent counter:\n%s", rr.Body.String())
	}
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *UplinkCollector
	c.IncSent()
	c.IncQueued()
	c.AddDropped(5)
	c.IncReconnects()
	c.SetBufferLength(1)
	c.PathStateChanged("wwan0", pathmon.Up, pathmon.Down)
	c.ProbeFailed("wwan0")
}
