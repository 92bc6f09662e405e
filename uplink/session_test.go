package uplink

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/netsys-lab/multipath-uplink/fix"
	"github.com/netsys-lab/multipath-uplink/pathmon"
	"github.com/netsys-lab/multipath-uplink/retrybuf"
)

type fakeConn struct {
	mu       sync.Mutex
	buf      bytes.Buffer
	deadline time.Time
	stall    time.Duration
	short    bool
	closed   bool
}

var errWriteTimeout = errors.New("write deadline exceeded")

func (c *fakeConn) Write(b []byte) (int, error) {
	c.mu.Lock()
	stall := c.stall
	deadline := c.deadline
	short := c.short
	c.mu.Unlock()

	if stall > 0 {
		remaining := time.Until(deadline)
		if remaining < stall {
			if remaining > 0 {
				time.Sleep(remaining)
			}
			return 0, errWriteTimeout
		}
		time.Sleep(stall)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if short && len(b) > 1 {
		return c.buf.Write(b[:len(b)-1])
	}
	return c.buf.Write(b)
}

func (c *fakeConn) SetWriteDeadline(t time.Time) error {
	c.mu.Lock()
	c.deadline = t
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fakeTransport struct {
	mu       sync.Mutex
	conns    []*fakeConn
	failDial bool
	stall    time.Duration
	short    bool
}

func (t *fakeTransport) Dial(ctx context.Context) (Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failDial {
		return nil, errors.New("dial refused")
	}
	c := &fakeConn{stall: t.stall, short: t.short}
	t.conns = append(t.conns, c)
	return c, nil
}

func (t *fakeTransport) conn(i int) *fakeConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conns[i]
}

func (t *fakeTransport) setFailDial(fail bool) {
	t.mu.Lock()
	t.failDial = fail
	t.mu.Unlock()
}

// lines returns every complete record written across all connections,
// in dial order.
func (t *fakeTransport) lines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var all []string
	for _, c := range t.conns {
		c.mu.Lock()
		content := c.buf.String()
		c.mu.Unlock()
		for _, l := range strings.Split(content, "\n") {
			if l != "" {
				all = append(all, l)
			}
		}
	}
	return all
}

type staticPaths struct {
	mu    sync.Mutex
	paths []pathmon.Path
}

func (s *staticPaths) UsablePaths() []pathmon.Path {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]pathmon.Path(nil), s.paths...)
}

func (s *staticPaths) set(paths ...pathmon.Path) {
	s.mu.Lock()
	s.paths = paths
	s.mu.Unlock()
}

func onePathUp() *staticPaths {
	return &staticPaths{paths: []pathmon.Path{{Id: "wwan0", State: pathmon.Up}}}
}

func fastOptions() *SessionOptions {
	return &SessionOptions{
		SendTimeout: 200 * time.Millisecond,
		DialTimeout: 200 * time.Millisecond,
		BackoffBase: 10 * time.Millisecond,
		BackoffCap:  50 * time.Millisecond,
	}
}

func connected(s *Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil && !s.reconnecting
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestSendWritesRecordsInOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	transport := &fakeTransport{}
	s := NewSession(transport, onePathUp(), retrybuf.New(16), nil, fastOptions())
	s.Start(ctx)
	defer s.Close()

	for i := 1; i <= 5; i++ {
		f := fix.Fix{Latitude: float64(i), Longitude: float64(-i)}
		if res := s.Send(f); res != Sent {
			t.Fatalf("Send(%d) = %v, want Sent", i, res)
		}
	}

	got := transport.lines()
	want := []string{
		"1.000000,-1.000000", "2.000000,-2.000000", "3.000000,-3.000000",
		"4.000000,-4.000000", "5.000000,-5.000000",
	}
	if len(got) != len(want) {
		t.Fatalf("wire carries %d records, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("record[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSendQueuesWhileDisconnectedAndDrainsInOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	transport := &fakeTransport{failDial: true}
	buf := retrybuf.New(16)
	s := NewSession(transport, onePathUp(), buf, nil, fastOptions())
	s.Start(ctx)
	defer s.Close()

	for i := 1; i <= 3; i++ {
		if res := s.Send(fix.Fix{Latitude: float64(i)}); res != Queued {
			t.Fatalf("Send(%d) while disconnected = %v, want Queued", i, res)
		}
	}
	if buf.Len() != 3 {
		t.Fatalf("buffer length = %d, want 3", buf.Len())
	}

	// Let the endpoint come back; the reconnect loop must drain the
	// backlog before any newly arriving fix goes out.
	transport.setFailDial(false)
	waitFor(t, func() bool { return buf.Len() == 0 && connected(s) }, "backlog drain after reconnect")

	if res := s.Send(fix.Fix{Latitude: 4}); res != Sent {
		t.Fatalf("Send after reconnect = %v, want Sent", res)
	}

	got := transport.lines()
	want := []string{"1.000000,0.000000", "2.000000,0.000000", "3.000000,0.000000", "4.000000,0.000000"}
	if len(got) != len(want) {
		t.Fatalf("wire carries %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("record[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSendTimeoutReturnsQueued(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The network stalls for much longer than the send timeout.
	transport := &fakeTransport{stall: 2 * time.Second}
	opts := fastOptions()
	opts.SendTimeout = 100 * time.Millisecond
	s := NewSession(transport, onePathUp(), retrybuf.New(16), nil, opts)
	s.Start(ctx)
	defer s.Close()

	start := time.Now()
	res := s.Send(fix.Fix{Latitude: 1})
	elapsed := time.Since(start)

	if res != Queued {
		t.Fatalf("Send on stalled conn = %v, want Queued", res)
	}
	if elapsed > 500*time.Millisecond {
		t.Fatalf("Send blocked %v, want roughly the 100ms timeout", elapsed)
	}
}

func TestSendAllPathsDownSwitchesToBuffering(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	transport := &fakeTransport{}
	paths := onePathUp()
	s := NewSession(transport, paths, retrybuf.New(16), nil, fastOptions())
	s.Start(ctx)
	defer s.Close()

	if res := s.Send(fix.Fix{Latitude: 1}); res != Sent {
		t.Fatalf("Send with path up = %v, want Sent", res)
	}

	paths.set() // all paths down
	if res := s.Send(fix.Fix{Latitude: 2}); res != Queued {
		t.Fatalf("Send with all paths down = %v, want Queued", res)
	}
	if !transport.conn(0).isClosed() {
		t.Fatal("connection not torn down on connectivity loss")
	}
}

func TestBufferOverflowReturnsDropped(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	transport := &fakeTransport{failDial: true}
	buf := retrybuf.New(2)
	s := NewSession(transport, onePathUp(), buf, nil, fastOptions())
	s.Start(ctx)
	defer s.Close()

	if res := s.Send(fix.Fix{Latitude: 1}); res != Queued {
		t.Fatalf("first Send = %v, want Queued", res)
	}
	if res := s.Send(fix.Fix{Latitude: 2}); res != Queued {
		t.Fatalf("second Send = %v, want Queued", res)
	}
	if res := s.Send(fix.Fix{Latitude: 3}); res != Dropped {
		t.Fatalf("third Send into full buffer = %v, want Dropped", res)
	}
	if buf.Len() != 2 {
		t.Fatalf("buffer length = %d, want 2", buf.Len())
	}
}

func TestShortWriteTearsConnectionDown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	transport := &fakeTransport{short: true}
	s := NewSession(transport, onePathUp(), retrybuf.New(16), nil, fastOptions())
	s.Start(ctx)
	defer s.Close()

	if res := s.Send(fix.Fix{Latitude: 1}); res != Queued {
		t.Fatalf("Send with partial write = %v, want Queued", res)
	}
	if !transport.conn(0).isClosed() {
		t.Fatal("connection with a partial record on the wire not closed")
	}
}

func TestFlushDeliversBacklog(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	transport := &fakeTransport{}
	buf := retrybuf.New(16)
	s := NewSession(transport, onePathUp(), buf, nil, fastOptions())
	s.Start(ctx)
	defer s.Close()

	buf.Enqueue(fix.Fix{Latitude: 1})
	buf.Enqueue(fix.Fix{Latitude: 2})

	flushCtx, flushCancel := context.WithTimeout(ctx, time.Second)
	defer flushCancel()
	flushed, discarded := s.Flush(flushCtx)
	if flushed != 2 || discarded != 0 {
		t.Fatalf("Flush = %d flushed, %d discarded, want 2, 0", flushed, discarded)
	}

	got := transport.lines()
	if len(got) != 2 || got[0] != "1.000000,0.000000" || got[1] != "2.000000,0.000000" {
		t.Fatalf("flushed records = %v, want backlog in order", got)
	}
}

func TestFlushDiscardsLeftoversOnTimeout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	transport := &fakeTransport{failDial: true}
	buf := retrybuf.New(16)
	s := NewSession(transport, onePathUp(), buf, nil, fastOptions())
	s.Start(ctx)
	defer s.Close()

	for i := 1; i <= 3; i++ {
		s.Send(fix.Fix{Latitude: float64(i)})
	}

	flushCtx, flushCancel := context.WithTimeout(ctx, 150*time.Millisecond)
	defer flushCancel()
	flushed, discarded := s.Flush(flushCtx)
	if flushed != 0 {
		t.Fatalf("Flush on dead uplink flushed %d, want 0", flushed)
	}
	if discarded != 3 {
		t.Fatalf("Flush discarded %d, want 3", discarded)
	}
	if buf.Len() != 0 {
		t.Fatalf("buffer length after Flush = %d, want 0", buf.Len())
	}
}
