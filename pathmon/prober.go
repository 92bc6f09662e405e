package pathmon

import (
	"context"
	"net"
	"time"
)

// Prober measures one round trip over a path. An error marks the
// probe as failed; the duration is only meaningful on success.
type Prober interface {
	Probe(ctx context.Context, p Path) (time.Duration, error)
}

// TCPProber measures path liveness by completing a TCP handshake with
// the probe target, sourced from the path's local interface address.
// Routing the connection out of the right interface is deployment
// policy (ip rule / fwmark); the prober only pins the source address.
type TCPProber struct {
	Target  string
	Timeout time.Duration
}

func NewTCPProber(target string) *TCPProber {
	return &TCPProber{
		Target:  target,
		Timeout: 2 * time.Second,
	}
}

func (pr *TCPProber) Probe(ctx context.Context, p Path) (time.Duration, error) {
	dialer := net.Dialer{Timeout: pr.Timeout}
	if p.LocalAddr != "" {
		laddr, err := net.ResolveTCPAddr("tcp", net.JoinHostPort(p.LocalAddr, "0"))
		if err != nil {
			return 0, err
		}
		dialer.LocalAddr = laddr
	}

	start := time.Now()
	conn, err := dialer.DialContext(ctx, "tcp", pr.Target)
	if err != nil {
		return 0, err
	}
	conn.Close()
	return time.Since(start), nil
}
