// Package retrybuf holds fixes that could not be delivered yet in a
// bounded in-memory FIFO. When the buffer is full the oldest entry is
// evicted before a new enqueue: for live-position telemetry a stale
// fix has low value, so recency wins over completeness.
package retrybuf

import (
	"sync"
	"time"

	"github.com/netsys-lab/multipath-uplink/fix"
)

type entry struct {
	fix        fix.Fix
	enqueuedAt time.Time
}

// Buffer is a bounded FIFO over a ring of fixed capacity. All
// operations take the buffer mutex; none holds it across I/O.
type Buffer struct {
	mu    sync.Mutex
	ring  []entry
	head  int // index of the oldest entry
	count int
}

func New(capacity int) *Buffer {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer{ring: make([]entry, capacity)}
}

// Enqueue appends f. When the buffer is full the oldest entry is
// evicted first and returned with dropped=true.
func (b *Buffer) Enqueue(f fix.Fix) (evicted fix.Fix, dropped bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == len(b.ring) {
		evicted = b.ring[b.head].fix
		dropped = true
		b.head = (b.head + 1) % len(b.ring)
		b.count--
	}

	tail := (b.head + b.count) % len(b.ring)
	b.ring[tail] = entry{fix: f, enqueuedAt: time.Now()}
	b.count++
	return evicted, dropped
}

// Peek returns the oldest fix without removing it, so a caller can
// attempt a send and only Pop once the write succeeded.
func (b *Buffer) Peek() (fix.Fix, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		return fix.Fix{}, false
	}
	return b.ring[b.head].fix, true
}

// Pop removes and returns the oldest fix.
func (b *Buffer) Pop() (fix.Fix, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		return fix.Fix{}, false
	}
	f := b.ring[b.head].fix
	b.ring[b.head] = entry{}
	b.head = (b.head + 1) % len(b.ring)
	b.count--
	return f, true
}

// Requeue puts f back at the front of the queue after a failed send
// attempt, preserving FIFO order for the next drain. When the buffer
// filled up in the meantime, f is the oldest entry around and the
// drop-oldest policy discards it: Requeue reports false.
func (b *Buffer) Requeue(f fix.Fix) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == len(b.ring) {
		return false
	}
	b.head = (b.head - 1 + len(b.ring)) % len(b.ring)
	b.ring[b.head] = entry{fix: f, enqueuedAt: time.Now()}
	b.count++
	return true
}

// Drain removes all buffered fixes and returns them oldest first.
// Draining an already drained buffer yields an empty slice.
func (b *Buffer) Drain() []fix.Fix {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]fix.Fix, 0, b.count)
	for b.count > 0 {
		out = append(out, b.ring[b.head].fix)
		b.ring[b.head] = entry{}
		b.head = (b.head + 1) % len(b.ring)
		b.count--
	}
	return out
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

func (b *Buffer) Cap() int {
	return len(b.ring)
}
