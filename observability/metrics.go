// Package observability bundles the Prometheus metrics of the uplink
// so deployments can scrape delivery and path health counters.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/netsys-lab/multipath-uplink/pathmon"
)

// UplinkCollector carries every metric the uplink emits. A nil
// collector is valid and turns all recording helpers into no-ops.
type UplinkCollector struct {
	gatherer prometheus.Gatherer

	FixesSent     prometheus.Counter
	FixesQueued   prometheus.Counter
	FixesDropped  prometheus.Counter
	Reconnects    prometheus.Counter
	ProbeFailures *prometheus.CounterVec
	PathState     *prometheus.GaugeVec
	BufferLength  prometheus.Gauge
}

// NewUplinkCollector registers the uplink metrics against reg,
// defaulting to the global Prometheus registry when nil.
func NewUplinkCollector(reg prometheus.Registerer) (*UplinkCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &UplinkCollector{
		gatherer: gatherer,
		FixesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "uplink_fixes_sent_total",
			Help: "Fixes fully written to the transport.",
		}),
		FixesQueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "uplink_fixes_queued_total",
			Help: "Fixes handed to the retry buffer after a transient send failure.",
		}),
		FixesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "uplink_fixes_dropped_total",
			Help: "Fixes evicted from the retry buffer before they could be sent.",
		}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "uplink_reconnects_total",
			Help: "Successful re-establishments of the uplink connection.",
		}),
		ProbeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "uplink_probe_failures_total",
			Help: "Failed path probes, labeled by path.",
		}, []string{"path"}),
		PathState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "uplink_path_state",
			Help: "Current path state: 0 down, 1 degraded, 2 up.",
		}, []string{"path"}),
		BufferLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "uplink_retry_buffer_length",
			Help: "Fixes currently held in the retry buffer.",
		}),
	}

	collectors := []prometheus.Collector{
		c.FixesSent, c.FixesQueued, c.FixesDropped, c.Reconnects,
		c.ProbeFailures, c.PathState, c.BufferLength,
	}
	for _, col := range collectors {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Handler exposes the collector's registry for scraping.
func (c *UplinkCollector) Handler() http.Handler {
	if c == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

func (c *UplinkCollector) IncSent() {
	if c != nil {
		c.FixesSent.Inc()
	}
}

func (c *UplinkCollector) IncQueued() {
	if c != nil {
		c.FixesQueued.Inc()
	}
}

// AddDropped also covers the fixes discarded when the shutdown drain
// times out, hence the delta form.
func (c *UplinkCollector) AddDropped(n int) {
	if c != nil && n > 0 {
		c.FixesDropped.Add(float64(n))
	}
}

func (c *UplinkCollector) IncReconnects() {
	if c != nil {
		c.Reconnects.Inc()
	}
}

func (c *UplinkCollector) SetBufferLength(n int) {
	if c != nil {
		c.BufferLength.Set(float64(n))
	}
}

// PathStateChanged and ProbeFailed implement pathmon.Observer.

func (c *UplinkCollector) PathStateChanged(id string, from, to pathmon.State) {
	if c != nil {
		c.PathState.WithLabelValues(id).Set(float64(to))
	}
}

func (c *UplinkCollector) ProbeFailed(id string) {
	if c != nil {
		c.ProbeFailures.WithLabelValues(id).Inc()
	}
}
