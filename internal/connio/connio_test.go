package connio

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func TestExpandLogTemplate(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	got := ExpandLogTemplate("/var/log/%N-%D.log", "router1", now)
	want := "/var/log/router1-2026-08-01.log"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestOpenLogfileLockCollision(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c1.log")

	f1, err := OpenLogfile(path, false)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	defer f1.Close()

	if _, err := OpenLogfile(path, false); err == nil {
		t.Fatalf("expected second open of the same logfile to fail on the advisory lock")
	}
}

func TestOpenLogfileTruncateOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c1.log")
	if err := os.WriteFile(path, []byte("stale data"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	f, err := OpenLogfile(path, true)
	if err != nil {
		t.Fatalf("open with truncate: %v", err)
	}
	defer f.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if len(data) != 0 {
		t.Fatalf("expected truncated file, got %q", data)
	}
}

func TestBackoffScheduleIsBoundedAndResettable(t *testing.T) {
	bo := NewBackoff()
	var delays []time.Duration
	for i := 0; i < 4; i++ {
		delays = append(delays, bo.Next())
	}
	for i := 1; i < len(delays); i++ {
		if delays[i] < delays[i-1] {
			t.Fatalf("expected non-decreasing back-off, got %v", delays)
		}
	}
	for i := 0; i < 10; i++ {
		if d := bo.Next(); d > 60*time.Second {
			t.Fatalf("expected back-off capped at 60s, got %v", d)
		}
	}

	bo.ResetFloor()
	afterReset := bo.Next()
	if afterReset > delays[0]+500*time.Millisecond {
		t.Fatalf("expected reset to return to the floor, got %v after first delay %v", afterReset, delays[0])
	}
}

func TestBeginTelnetConnectAndCheckConnect(t *testing.T) {
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	accepted := make(chan struct{})
	go func() {
		c, err := ln.Accept()
		if err == nil {
			close(accepted)
			c.Close()
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	fd, err := BeginTelnetConnect("127.0.0.1", addr.Port)
	if err != nil {
		t.Fatalf("BeginTelnetConnect: %v", err)
	}
	defer unix.Close(fd)

	// Poll briefly for the connect to complete, mirroring what the
	// multiplexor loop would do once the fd signals writable.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		ok, sockErr := CheckConnect(fd)
		if ok && sockErr == nil {
			select {
			case <-accepted:
				return
			case <-time.After(2 * time.Second):
				t.Fatalf("connect succeeded but server never saw accept")
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("connect never completed")
}
