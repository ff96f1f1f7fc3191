package control

import (
	"io"
	"os"
	"syscall"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/consolemux/consolemux/internal/logging"
)

func TestSIGHUPSetsReconfigAndWakesSelfPipe(t *testing.T) {
	logf := logging.New(io.Discard, logging.Debug)
	p, err := New(logf)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Stop()
	p.Start()

	proc, err := os.FindProcess(os.Getpid())
	if err != nil {
		t.Fatalf("FindProcess: %v", err)
	}
	if err := proc.Signal(syscall.SIGHUP); err != nil {
		t.Fatalf("signal: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if p.TestAndClearReconfig() {
			goto sawReconfig
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected reconfig flag to be set after SIGHUP")

sawReconfig:
	buf := make([]byte, 4)
	n, _ := unix.Read(p.SelfPipeFD(), buf)
	if n == 0 {
		t.Fatalf("expected the self-pipe to have been woken by the signal handler")
	}
}

func TestSIGINTSetsDone(t *testing.T) {
	logf := logging.New(io.Discard, logging.Debug)
	p, err := New(logf)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Stop()
	p.Start()

	proc, _ := os.FindProcess(os.Getpid())
	_ = proc.Signal(syscall.SIGINT)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if p.Done() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected done flag to be set after SIGINT")
}
