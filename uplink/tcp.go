package uplink

import (
	"context"
	"net"
	"time"
)

var _ Transport = (*TCPTransport)(nil)

// TCPTransport dials the ingestion endpoint over a plain stream
// socket. On hosts with MPTCP enabled the kernel aggregates the
// configured subflows underneath this single connection; the session
// sees an ordinary byte stream either way.
type TCPTransport struct {
	Remote    string
	LocalAddr string // optional source address to pin the initial subflow
}

func NewTCPTransport(remote string) *TCPTransport {
	return &TCPTransport{Remote: remote}
}

func (t *TCPTransport) Dial(ctx context.Context) (Conn, error) {
	dialer := net.Dialer{KeepAlive: 15 * time.Second}
	if t.LocalAddr != "" {
		laddr, err := net.ResolveTCPAddr("tcp", net.JoinHostPort(t.LocalAddr, "0"))
		if err != nil {
			return nil, err
		}
		dialer.LocalAddr = laddr
	}
	return dialer.DialContext(ctx, "tcp", t.Remote)
}
