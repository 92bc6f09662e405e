package uplink

import (
	"context"

	"github.com/netsec-ethz/scion-apps/pkg/pan"
	"github.com/scionproto/scion/go/lib/snet"
	"inet.af/netaddr"
)

var _ Transport = (*SCIONTransport)(nil)

// SCIONTransport sends each record as one pan datagram, which keeps
// the per-record atomicity trivially. pan performs the actual
// path-level scheduling and failover underneath.
type SCIONTransport struct {
	Remote string
	remote *snet.UDPAddr
}

func NewSCIONTransport(remote string) (*SCIONTransport, error) {
	// Parse eagerly so a bad address is a startup error, not a
	// reconnect-loop one.
	addr, err := snet.ParseUDPAddr(remote)
	if err != nil {
		return nil, err
	}
	return &SCIONTransport{Remote: remote, remote: addr}, nil
}

func (t *SCIONTransport) Dial(ctx context.Context) (Conn, error) {
	pAddr, err := pan.ResolveUDPAddr(t.Remote)
	if err != nil {
		return nil, err
	}
	conn, err := pan.DialUDP(ctx, netaddr.IPPort{}, pAddr, nil, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
