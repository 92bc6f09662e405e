package pathmon

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// ErrNoPathsConfigured is a fatal configuration error, reported once
// at startup. It is distinct from the transient runtime condition of
// all configured paths being Down, which UsablePaths signals with an
// empty slice.
var ErrNoPathsConfigured = errors.New("no paths configured")

// Observer is notified about probe outcomes and state transitions.
// Callbacks run on the prober goroutines and must not block.
type Observer interface {
	PathStateChanged(id string, from, to State)
	ProbeFailed(id string)
}

type MonitorOptions struct {
	ProbeInterval time.Duration // default 5s
	DownThreshold int           // consecutive failures before Degraded becomes Down, default 3
	LatencyAlpha  float64       // EWMA weight of a new RTT sample, default 0.3
}

var defaultMonitorOptions = MonitorOptions{
	ProbeInterval: 5 * time.Second,
	DownThreshold: 3,
	LatencyAlpha:  0.3,
}

// Monitor tracks liveness and latency of every configured path. Each
// path is probed periodically by its own goroutine; none of them ever
// blocks the send loop.
type Monitor struct {
	mu       sync.Mutex
	paths    []*Path
	prober   Prober
	opts     MonitorOptions
	observer Observer
}

func NewMonitor(paths []Path, prober Prober, observer Observer, opts *MonitorOptions) (*Monitor, error) {
	if len(paths) == 0 {
		return nil, ErrNoPathsConfigured
	}

	o := defaultMonitorOptions
	if opts != nil {
		o = *opts
		if o.ProbeInterval <= 0 {
			o.ProbeInterval = defaultMonitorOptions.ProbeInterval
		}
		if o.DownThreshold <= 0 {
			o.DownThreshold = defaultMonitorOptions.DownThreshold
		}
		if o.LatencyAlpha <= 0 || o.LatencyAlpha > 1 {
			o.LatencyAlpha = defaultMonitorOptions.LatencyAlpha
		}
	}

	m := &Monitor{
		prober:   prober,
		opts:     o,
		observer: observer,
	}
	for i := range paths {
		p := paths[i]
		p.State = Up
		m.paths = append(m.paths, &p)
	}
	return m, nil
}

// Start launches one probe loop per path. The loops stop when ctx is
// cancelled.
func (m *Monitor) Start(ctx context.Context) {
	for _, p := range m.paths {
		go m.probeLoop(ctx, p)
	}
}

func (m *Monitor) probeLoop(ctx context.Context, p *Path) {
	ticker := time.NewTicker(m.opts.ProbeInterval)
	defer ticker.Stop()

	m.probeOnce(ctx, p)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probeOnce(ctx, p)
		}
	}
}

func (m *Monitor) probeOnce(ctx context.Context, p *Path) {
	rtt, err := m.prober.Probe(ctx, *m.snapshot(p))
	if err != nil {
		m.recordFailure(p, err)
		return
	}
	m.recordSuccess(p, rtt)
}

func (m *Monitor) snapshot(p *Path) *Path {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *p
	return &c
}

func (m *Monitor) recordSuccess(p *Path, rtt time.Duration) {
	m.mu.Lock()
	from := p.State
	p.State = Up
	p.ConsecutiveFailures = 0
	p.LastProbeAt = time.Now()
	if p.Latency == 0 {
		p.Latency = rtt
	} else {
		a := m.opts.LatencyAlpha
		p.Latency = time.Duration(a*float64(rtt) + (1-a)*float64(p.Latency))
	}
	m.mu.Unlock()

	log.Tracef("[PathMonitor] Probe on %s succeeded, rtt %v", p.Id, rtt)
	m.notifyState(p.Id, from, Up)
}

func (m *Monitor) recordFailure(p *Path, err error) {
	m.mu.Lock()
	from := p.State
	p.ConsecutiveFailures++
	p.LastProbeAt = time.Now()
	to := from
	switch {
	case from == Up:
		to = Degraded
	case from == Degraded && p.ConsecutiveFailures >= m.opts.DownThreshold:
		to = Down
	}
	p.State = to
	fails := p.ConsecutiveFailures
	m.mu.Unlock()

	log.Debugf("[PathMonitor] Probe on %s failed (%d consecutive): %v", p.Id, fails, err)
	if m.observer != nil {
		m.observer.ProbeFailed(p.Id)
	}
	m.notifyState(p.Id, from, to)
}

func (m *Monitor) notifyState(id string, from, to State) {
	if from == to {
		return
	}
	log.Infof("[PathMonitor] Path %s: %s -> %s", id, from, to)
	if m.observer != nil {
		m.observer.PathStateChanged(id, from, to)
	}
}

// UsablePaths returns the Up and Degraded paths ordered by ascending
// smoothed latency. Down paths are excluded; when every path is Down
// the slice is empty, which callers must treat as a transient
// condition, not a configuration error.
func (m *Monitor) UsablePaths() []Path {
	m.mu.Lock()
	usable := make([]Path, 0, len(m.paths))
	for _, p := range m.paths {
		if p.State == Down {
			continue
		}
		usable = append(usable, *p)
	}
	m.mu.Unlock()

	sortByLatency(usable)
	return usable
}

// Paths returns a snapshot of every configured path, regardless of
// state.
func (m *Monitor) Paths() []Path {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := make([]Path, 0, len(m.paths))
	for _, p := range m.paths {
		all = append(all, *p)
	}
	return all
}
