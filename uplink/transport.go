package uplink

import (
	"context"
	"sync"
	"time"
)

// Conn is the write side of the byte stream a transport provides. The
// uplink is fire-and-forget, so the read direction is not part of the
// contract.
type Conn interface {
	Write([]byte) (int, error)
	SetWriteDeadline(time.Time) error
	Close() error
}

// Transport dials the ingestion endpoint over the multipath underlay.
type Transport interface {
	Dial(ctx context.Context) (Conn, error)
}

// ConnMetrics are collected per connection. Since the session holds
// one logical connection at a time, these are also uplink metrics.
type ConnMetrics struct {
	WrittenBytes   int64
	WrittenRecords int64
	OpenedAt       time.Time
	LastWriteAt    time.Time
}

// MonitoredConn wraps a transport connection to collect metrics for
// each write passing through it.
type MonitoredConn struct {
	internalConn Conn

	mu      sync.Mutex
	metrics ConnMetrics
}

func NewMonitoredConn(conn Conn) *MonitoredConn {
	return &MonitoredConn{
		internalConn: conn,
		metrics:      ConnMetrics{OpenedAt: time.Now()},
	}
}

func (mc *MonitoredConn) Write(b []byte) (int, error) {
	n, err := mc.internalConn.Write(b)
	mc.mu.Lock()
	mc.metrics.WrittenBytes += int64(n)
	if err == nil && n == len(b) {
		mc.metrics.WrittenRecords++
	}
	mc.metrics.LastWriteAt = time.Now()
	mc.mu.Unlock()
	return n, err
}

func (mc *MonitoredConn) SetWriteDeadline(t time.Time) error {
	return mc.internalConn.SetWriteDeadline(t)
}

func (mc *MonitoredConn) Close() error {
	return mc.internalConn.Close()
}

func (mc *MonitoredConn) Metrics() ConnMetrics {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.metrics
}
