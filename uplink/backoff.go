package uplink

import (
	"math/rand"
	"time"
)

// backoff computes reconnect delays: exponential growth from Base up
// to Cap with a ±Jitter relative spread. Without the jitter, a fleet
// of vehicles losing the same network would reconnect in lockstep.
type backoff struct {
	Base   time.Duration
	Cap    time.Duration
	Jitter float64

	attempt int
	rnd     *rand.Rand
}

func newBackoff(base, cap time.Duration, jitter float64) *backoff {
	return &backoff{
		Base:   base,
		Cap:    cap,
		Jitter: jitter,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (b *backoff) Next() time.Duration {
	d := b.Base
	for i := 0; i < b.attempt && d < b.Cap; i++ {
		d *= 2
	}
	if d > b.Cap {
		d = b.Cap
	}
	b.attempt++

	if b.Jitter > 0 {
		spread := (b.rnd.Float64()*2 - 1) * b.Jitter * float64(d)
		d += time.Duration(spread)
	}
	return d
}

func (b *backoff) Reset() {
	b.attempt = 0
}
