package uplink

import (
	"context"
	"crypto/tls"
	"time"

	quic "github.com/lucas-clemente/quic-go"
)

const quicNextProto = "multipath-uplink"

var _ Transport = (*QUICTransport)(nil)

// QUICTransport carries the record stream over a single QUIC stream.
type QUICTransport struct {
	Remote    string
	TLSConfig *tls.Config
}

func NewQUICTransport(remote string, tlsConf *tls.Config) *QUICTransport {
	if tlsConf == nil {
		tlsConf = &tls.Config{InsecureSkipVerify: true}
	}
	if len(tlsConf.NextProtos) == 0 {
		tlsConf.NextProtos = []string{quicNextProto}
	}
	return &QUICTransport{Remote: remote, TLSConfig: tlsConf}
}

func (t *QUICTransport) Dial(ctx context.Context) (Conn, error) {
	session, err := quic.DialAddrContext(ctx, t.Remote, t.TLSConfig, &quic.Config{
		KeepAlive: true,
	})
	if err != nil {
		return nil, err
	}
	stream, err := session.OpenStreamSync(ctx)
	if err != nil {
		session.CloseWithError(quic.ApplicationErrorCode(0), "no stream")
		return nil, err
	}
	return &quicConn{session: session, stream: stream}, nil
}

type quicConn struct {
	session quic.Session
	stream  quic.Stream
}

func (qc *quicConn) Write(b []byte) (int, error) {
	return qc.stream.Write(b)
}

func (qc *quicConn) SetWriteDeadline(t time.Time) error {
	return qc.stream.SetWriteDeadline(t)
}

func (qc *quicConn) Close() error {
	qc.stream.Close()
	return qc.session.CloseWithError(quic.ApplicationErrorCode(0), "closed")
}
