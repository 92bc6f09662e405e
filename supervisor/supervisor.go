// Package supervisor drives the acquisition/send loop and owns the
// shutdown sequence of the uplink.
package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/netsys-lab/multipath-uplink/fix"
	"github.com/netsys-lab/multipath-uplink/uplink"
)

// Supervisor states. The loop moves strictly forward:
// Running -> Draining -> Terminated.
type State int32

const (
	Running State = iota
	Draining
	Terminated
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Draining:
		return "draining"
	default:
		return "terminated"
	}
}

// Sender is the slice of the uplink session the supervisor needs.
// *uplink.Session implements it.
type Sender interface {
	Send(f fix.Fix) uplink.Result
	Flush(ctx context.Context) (flushed, discarded int)
}

type Options struct {
	DrainTimeout time.Duration // bound on the shutdown drain, default 5s
	// OnFix runs for every fix accepted from the source, before it is
	// handed to the sender. Used for local fanout; must not block.
	OnFix func(f fix.Fix)
}

// Supervisor pulls fixes from the source and hands them to the
// sender, one at a time. Cancellation is cooperative: it is checked
// between a Next/Send pair, never preemptively mid-send.
type Supervisor struct {
	source       fix.Source
	sender       Sender
	drainTimeout time.Duration
	onFix        func(f fix.Fix)
	state        int32
}

func New(source fix.Source, sender Sender, opts *Options) *Supervisor {
	s := &Supervisor{
		source:       source,
		sender:       sender,
		drainTimeout: 5 * time.Second,
	}
	if opts != nil {
		if opts.DrainTimeout > 0 {
			s.drainTimeout = opts.DrainTimeout
		}
		s.onFix = opts.OnFix
	}
	return s
}

func (s *Supervisor) State() State {
	return State(atomic.LoadInt32(&s.state))
}

func (s *Supervisor) setState(st State) {
	atomic.StoreInt32(&s.state, int32(st))
	log.Debugf("[Supervisor] State is now %s", st)
}

// Run blocks until the source stops or ctx is cancelled, then drains
// the retry buffer best-effort within the drain timeout and returns.
func (s *Supervisor) Run(ctx context.Context) error {
	s.setState(Running)

	for {
		select {
		case <-ctx.Done():
			log.Info("[Supervisor] Cancelled, entering drain phase")
			return s.drain()
		default:
		}

		f, err := s.source.Next()
		if errors.Is(err, fix.ErrSourceStopped) {
			log.Info("[Supervisor] Fix source stopped, entering drain phase")
			return s.drain()
		}
		if err != nil {
			log.Warnf("[Supervisor] Fix source error: %v", err)
			continue
		}

		if s.onFix != nil {
			s.onFix(f)
		}

		result := s.sender.Send(f)
		log.Debugf("[Supervisor] Fix %f,%f -> %s", f.Latitude, f.Longitude, result)
	}
}

// drain flushes whatever the session still buffers, bounded by the
// drain timeout. The bound uses a fresh context on purpose: the
// parent one is usually already cancelled at this point.
func (s *Supervisor) drain() error {
	s.setState(Draining)

	drainCtx, cancel := context.WithTimeout(context.Background(), s.drainTimeout)
	defer cancel()
	flushed, discarded := s.sender.Flush(drainCtx)
	log.Infof("[Supervisor] Drain finished: %d flushed, %d discarded", flushed, discarded)

	s.setState(Terminated)
	return nil
}
