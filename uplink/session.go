package uplink

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/netsys-lab/multipath-uplink/fix"
	"github.com/netsys-lab/multipath-uplink/observability"
	"github.com/netsys-lab/multipath-uplink/pathmon"
	"github.com/netsys-lab/multipath-uplink/retrybuf"
)

// Result describes what happened to a fix handed to Send.
type Result int

const (
	// Sent: the record was fully written to the transport.
	Sent Result = iota
	// Queued: a transient failure occurred and the fix waits in the
	// retry buffer for the next reconnect.
	Queued
	// Dropped: queueing this fix evicted the oldest buffered fix. The
	// new fix itself is queued; the eviction is the designed lossy
	// degradation under a sustained outage, not an error.
	Dropped
)

func (r Result) String() string {
	switch r {
	case Sent:
		return "sent"
	case Queued:
		return "queued"
	default:
		return "dropped"
	}
}

// PathLister reports the currently usable paths, fastest first.
// *pathmon.Monitor implements it.
type PathLister interface {
	UsablePaths() []pathmon.Path
}

type SessionOptions struct {
	SendTimeout   time.Duration // max time a single record write may block, default 2s
	DialTimeout   time.Duration // default 5s
	BackoffBase   time.Duration // default 1s
	BackoffCap    time.Duration // default 30s
	BackoffJitter float64       // relative ± spread, default 0.2
}

var defaultSessionOptions = SessionOptions{
	SendTimeout:   2 * time.Second,
	DialTimeout:   5 * time.Second,
	BackoffBase:   1 * time.Second,
	BackoffCap:    30 * time.Second,
	BackoffJitter: 0.2,
}

// Session owns the logical connection to the ingestion endpoint. It
// serializes fixes into line records, keeps transmission order equal
// to capture order across outages, and never blocks the caller longer
// than the send timeout.
type Session struct {
	transport Transport
	paths     PathLister
	buf       *retrybuf.Buffer
	metrics   *observability.UplinkCollector
	opts      SessionOptions

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	conn         *MonitoredConn
	reconnecting bool
}

func NewSession(transport Transport, paths PathLister, buf *retrybuf.Buffer, metrics *observability.UplinkCollector, opts *SessionOptions) *Session {
	o := defaultSessionOptions
	if opts != nil {
		o = *opts
		if o.SendTimeout <= 0 {
			o.SendTimeout = defaultSessionOptions.SendTimeout
		}
		if o.DialTimeout <= 0 {
			o.DialTimeout = defaultSessionOptions.DialTimeout
		}
		if o.BackoffBase <= 0 {
			o.BackoffBase = defaultSessionOptions.BackoffBase
		}
		if o.BackoffCap <= 0 {
			o.BackoffCap = defaultSessionOptions.BackoffCap
		}
	}

	return &Session{
		transport: transport,
		paths:     paths,
		buf:       buf,
		metrics:   metrics,
		opts:      o,
	}
}

// Start binds the session lifecycle to ctx and attempts the initial
// connect. A failed initial connect is not fatal: the session starts
// in buffering mode and retries with backoff.
func (s *Session) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	if err := s.connect(); err != nil {
		log.Warnf("[UplinkSession] Initial connect failed, buffering until retry: %v", err)
		s.scheduleReconnect()
	}
}

// Send delivers one fix, or hands it to the retry buffer when the
// uplink cannot make progress right now. It never blocks longer than
// the send timeout.
func (s *Session) Send(f fix.Fix) Result {
	s.mu.Lock()
	conn := s.conn
	reconnecting := s.reconnecting
	s.mu.Unlock()

	if conn == nil || reconnecting {
		return s.queue(f)
	}

	if len(s.paths.UsablePaths()) == 0 {
		// Complete connectivity loss. Buffer instead of pushing bytes
		// into a socket that cannot make progress.
		log.Debug("[UplinkSession] All paths down, switching to buffering mode")
		s.teardown(conn)
		s.scheduleReconnect()
		return s.queue(f)
	}

	// Any backlog goes out first so transmission order matches
	// capture order.
	if s.buf.Len() > 0 {
		if err := s.drainInto(conn); err != nil {
			log.Warnf("[UplinkSession] Backlog drain failed: %v", err)
			s.teardown(conn)
			s.scheduleReconnect()
			return s.queue(f)
		}
	}

	if err := s.writeRecord(conn, f); err != nil {
		log.Warnf("[UplinkSession] Send failed, scheduling reconnect: %v", err)
		s.teardown(conn)
		s.scheduleReconnect()
		return s.queue(f)
	}

	s.metrics.IncSent()
	return Sent
}

// Flush delivers the remaining backlog best-effort, bounded by ctx.
// Whatever is still buffered when ctx expires is discarded and
// counted, not retried indefinitely.
func (s *Session) Flush(ctx context.Context) (flushed, discarded int) {
	for s.buf.Len() > 0 && ctx.Err() == nil {
		s.mu.Lock()
		conn := s.conn
		reconnecting := s.reconnecting
		s.mu.Unlock()

		if conn == nil || reconnecting {
			// Give the reconnect loop a chance to bring the uplink back
			// within the drain window.
			select {
			case <-ctx.Done():
			case <-time.After(50 * time.Millisecond):
			}
			continue
		}

		f, ok := s.buf.Pop()
		if !ok {
			break
		}
		if err := s.writeRecord(conn, f); err != nil {
			s.buf.Requeue(f)
			s.teardown(conn)
			s.scheduleReconnect()
			continue
		}
		flushed++
		s.metrics.IncSent()
	}

	discarded = len(s.buf.Drain())
	s.metrics.AddDropped(discarded)
	s.metrics.SetBufferLength(0)
	if discarded > 0 {
		log.Warnf("[UplinkSession] Drain window expired, discarded %d buffered fixes", discarded)
	}
	return flushed, discarded
}

// Metrics returns the counters of the current connection, zero when
// the session is disconnected.
func (s *Session) Metrics() ConnMetrics {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ConnMetrics{}
	}
	return conn.Metrics()
}

func (s *Session) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// connect dials the transport and drains the backlog into the fresh
// connection before publishing it, so buffered fixes always precede
// newly arriving ones.
func (s *Session) connect() error {
	dialCtx, cancel := context.WithTimeout(s.ctx, s.opts.DialTimeout)
	defer cancel()

	conn, err := s.transport.Dial(dialCtx)
	if err != nil {
		return err
	}
	mc := NewMonitoredConn(conn)
	if err := s.drainInto(mc); err != nil {
		mc.Close()
		return err
	}

	s.mu.Lock()
	s.conn = mc
	s.reconnecting = false
	s.mu.Unlock()
	return nil
}

func (s *Session) drainInto(mc *MonitoredConn) error {
	for {
		f, ok := s.buf.Pop()
		if !ok {
			s.metrics.SetBufferLength(0)
			return nil
		}
		if err := s.writeRecord(mc, f); err != nil {
			s.buf.Requeue(f)
			return err
		}
		s.metrics.IncSent()
		s.metrics.SetBufferLength(s.buf.Len())
	}
}

// writeRecord frames and writes one fix all-or-nothing. A short write
// is an error: the caller must tear the connection down so the wire
// never carries a partial record followed by another one.
func (s *Session) writeRecord(mc *MonitoredConn, f fix.Fix) error {
	rec := MarshalRecord(f)
	if err := mc.SetWriteDeadline(time.Now().Add(s.opts.SendTimeout)); err != nil {
		return err
	}
	n, err := mc.Write(rec)
	if err == nil && n < len(rec) {
		err = io.ErrShortWrite
	}
	if err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	return nil
}

func (s *Session) queue(f fix.Fix) Result {
	_, dropped := s.buf.Enqueue(f)
	s.metrics.IncQueued()
	s.metrics.SetBufferLength(s.buf.Len())
	if dropped {
		s.metrics.AddDropped(1)
		return Dropped
	}
	return Queued
}

func (s *Session) teardown(conn *MonitoredConn) {
	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	s.mu.Unlock()
	conn.Close()
}

// scheduleReconnect starts the backoff loop unless one is already
// running. A reconnect in progress never stalls Send: callers keep
// getting Queued immediately.
func (s *Session) scheduleReconnect() {
	s.mu.Lock()
	if s.reconnecting {
		s.mu.Unlock()
		return
	}
	s.reconnecting = true
	s.mu.Unlock()

	go s.reconnectLoop()
}

func (s *Session) reconnectLoop() {
	bo := newBackoff(s.opts.BackoffBase, s.opts.BackoffCap, s.opts.BackoffJitter)
	for {
		delay := bo.Next()
		log.Debugf("[UplinkSession] Next reconnect attempt in %v", delay)
		select {
		case <-s.ctx.Done():
			return
		case <-time.After(delay):
		}

		if len(s.paths.UsablePaths()) == 0 {
			log.Debug("[UplinkSession] Still no usable path, backing off")
			continue
		}
		if err := s.connect(); err != nil {
			log.Warnf("[UplinkSession] Reconnect failed: %v", err)
			continue
		}

		log.Info("[UplinkSession] Uplink re-established, backlog drained")
		s.metrics.IncReconnects()
		return
	}
}
