package fix

import (
	"bufio"
	"encoding/json"
	"net"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

const gpsdWatchCommand = `?WATCH={"enable":true,"json":true}` + "\n"

// tpvReport is the subset of gpsd's TPV class we consume. All NMEA and
// device handling stays inside the daemon; this client only decodes
// the daemon's JSON stream.
type tpvReport struct {
	Class string  `json:"class"`
	Mode  int     `json:"mode"` // 0/1 no fix, 2 2D, 3 3D
	Time  string  `json:"time"` // RFC3339
	Lat   float64 `json:"lat"`
	Lon   float64 `json:"lon"`
}

// GpsdSource consumes fixes from a gpsd daemon over its TCP JSON
// watch stream. It is not safe for concurrent Next calls.
type GpsdSource struct {
	Addr        string
	DialTimeout time.Duration

	conn    net.Conn
	reader  *bufio.Reader
	stopped bool
}

func NewGpsdSource(addr string) *GpsdSource {
	return &GpsdSource{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
		stopped:     true,
	}
}

// Restart establishes (or re-establishes) the daemon session. It is an
// explicit state transition: until it succeeds, Next keeps returning
// ErrSourceStopped.
func (s *GpsdSource) Restart() error {
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}

	conn, err := net.DialTimeout("tcp", s.Addr, s.DialTimeout)
	if err != nil {
		return err
	}
	if _, err := conn.Write([]byte(gpsdWatchCommand)); err != nil {
		conn.Close()
		return err
	}

	s.conn = conn
	s.reader = bufio.NewReader(conn)
	s.stopped = false
	log.Debugf("[GpsdSource] Watching gpsd at %s", s.Addr)
	return nil
}

// Next blocks until the daemon reports the next position. Reports that
// are not TPV, or TPV reports without a position, are skipped.
func (s *GpsdSource) Next() (Fix, error) {
	if s.stopped {
		return Fix{}, ErrSourceStopped
	}

	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			log.Warnf("[GpsdSource] Session ended: %v", err)
			s.stopped = true
			s.conn.Close()
			return Fix{}, ErrSourceStopped
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		var tpv tpvReport
		if err := json.Unmarshal([]byte(line), &tpv); err != nil {
			// gpsd interleaves VERSION/DEVICES/SKY reports; some carry
			// fields that do not decode into tpvReport. Skip them.
			continue
		}
		if tpv.Class != "TPV" || tpv.Mode < 2 {
			continue
		}

		return Fix{
			CapturedAt: parseTPVTime(tpv.Time),
			Latitude:   tpv.Lat,
			Longitude:  tpv.Lon,
			Quality:    qualityFromMode(tpv.Mode),
		}, nil
	}
}

func (s *GpsdSource) Close() error {
	s.stopped = true
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

func qualityFromMode(mode int) Quality {
	switch mode {
	case 2:
		return Fix2D
	case 3:
		return Fix3D
	default:
		return NoFix
	}
}

// parseTPVTime falls back to the local clock when the daemon omits or
// mangles the timestamp, so a fix is never produced without one.
func parseTPVTime(s string) time.Time {
	if s == "" {
		return time.Now().UTC()
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Now().UTC()
	}
	return t
}
