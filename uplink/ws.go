package uplink

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

var _ Transport = (*WSTransport)(nil)

// WSTransport tunnels records through a WebSocket, one binary message
// per record, for deployments where only HTTP egress is open.
type WSTransport struct {
	URL    string // ws:// or wss://
	Dialer *websocket.Dialer
}

func NewWSTransport(url string) *WSTransport {
	return &WSTransport{URL: url}
}

func (t *WSTransport) Dial(ctx context.Context) (Conn, error) {
	dialer := t.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, t.URL, nil)
	if err != nil {
		return nil, err
	}
	return &wsConn{conn: conn}, nil
}

type wsConn struct {
	conn *websocket.Conn
}

// Write sends b as one message, so a record can never be interleaved
// with another one on the wire.
func (w *wsConn) Write(b []byte) (int, error) {
	if err := w.conn.WriteMessage(websocket.BinaryMessage, b); err != nil {
		return 0, err
	}
	return len(b), nil
}

func (w *wsConn) SetWriteDeadline(t time.Time) error {
	return w.conn.SetWriteDeadline(t)
}

func (w *wsConn) Close() error {
	w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return w.conn.Close()
}
