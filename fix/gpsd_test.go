package fix

import (
	"bufio"
	"errors"
	"net"
	"strings"
	"testing"
	"time"
)

// fakeGpsd accepts one client, checks the watch command and plays back
// the given report lines before closing the connection.
func fakeGpsd(t *testing.T, lines []string) (addr string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		cmd, err := bufio.NewReader(conn).ReadString('\n')
		if err != nil || !strings.HasPrefix(cmd, "?WATCH=") {
			return
		}
		for _, l := range lines {
			conn.Write([]byte(l + "\n"))
		}
	}()

	return ln.Addr().String()
}

func TestGpsdSourceNext(t *testing.T) {
	addr := fakeGpsd(t, []string{
		`{"class":"VERSION","release":"3.17"}`,
		`{"class":"TPV","mode":1}`,
		`{"class":"TPV","mode":3,"time":"2026-08-27T10:00:00Z","lat":52.52,"lon":13.405}`,
		`{"class":"TPV","mode":2,"lat":52.53,"lon":13.41}`,
	})

	src := NewGpsdSource(addr)
	if err := src.Restart(); err != nil {
		t.Fatalf("Restart: %v", err)
	}
	defer src.Close()

	f, err := src.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if f.Latitude != 52.52 || f.Longitude != 13.405 {
		t.Fatalf("first fix = %v,%v, want 52.52,13.405", f.Latitude, f.Longitude)
	}
	if f.Quality != Fix3D {
		t.Fatalf("first fix quality = %v, want Fix3D", f.Quality)
	}
	want := time.Date(2026, 8, 27, 10, 0, 0, 0, time.UTC)
	if !f.CapturedAt.Equal(want) {
		t.Fatalf("first fix captured at %v, want %v", f.CapturedAt, want)
	}

	f, err = src.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if f.Quality != Fix2D {
		t.Fatalf("second fix quality = %v, want Fix2D", f.Quality)
	}
	if f.CapturedAt.IsZero() {
		t.Fatal("second fix has no timestamp despite missing TPV time")
	}
}

func TestGpsdSourceStopped(t *testing.T) {
	addr := fakeGpsd(t, []string{
		`{"class":"TPV","mode":3,"lat":1,"lon":2}`,
	})

	src := NewGpsdSource(addr)
	if err := src.Restart(); err != nil {
		t.Fatalf("Restart: %v", err)
	}
	defer src.Close()

	if _, err := src.Next(); err != nil {
		t.Fatalf("Next: %v", err)
	}

	// The fake closes the connection after its last line.
	if _, err := src.Next(); !errors.Is(err, ErrSourceStopped) {
		t.Fatalf("Next after close = %v, want ErrSourceStopped", err)
	}
	// Terminal until restarted.
	if _, err := src.Next(); !errors.Is(err, ErrSourceStopped) {
		t.Fatalf("repeated Next = %v, want ErrSourceStopped", err)
	}
}

func TestGpsdSourceRestartBeforeFirstUse(t *testing.T) {
	src := NewGpsdSource("127.0.0.1:1")
	if _, err := src.Next(); !errors.Is(err, ErrSourceStopped) {
		t.Fatalf("Next before Restart = %v, want ErrSourceStopped", err)
	}
}
