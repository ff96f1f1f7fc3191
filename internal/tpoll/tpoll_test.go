package tpoll

import (
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func TestSetAndIsSetReadable(t *testing.T) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	p := New()
	p.ZeroFDs()
	p.Set(fds[0], Readable)

	if _, err := unix.Write(fds[1], []byte("x")); err != nil {
		t.Fatalf("write: %v", err)
	}

	n, err := p.Wait(1000)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 ready fd, got %d", n)
	}
	if !p.IsSet(fds[0], Readable) {
		t.Fatalf("expected read end to be readable")
	}
	if p.IsSet(fds[0], Writable) {
		t.Fatalf("did not register writable interest, should not report it")
	}
}

func TestZeroFDsClearsInterest(t *testing.T) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	p := New()
	p.ZeroFDs()
	p.Set(fds[0], Readable)
	p.ZeroFDs()

	if p.IsSet(fds[0], Readable) {
		t.Fatalf("expected no interest to be registered after ZeroFDs")
	}
}

func TestTimerFiresInDeadlineOrder(t *testing.T) {
	p := New()
	var fired []string

	p.TimerRelative(30, func(arg any) { fired = append(fired, arg.(string)) }, "second")
	p.TimerRelative(10, func(arg any) { fired = append(fired, arg.(string)) }, "first")

	deadline := time.Now().Add(50 * time.Millisecond)
	for time.Now().Before(deadline) && len(fired) < 2 {
		p.ZeroFDs()
		p.Wait(5)
		p.DispatchTimers(time.Now())
	}

	if len(fired) != 2 || fired[0] != "first" || fired[1] != "second" {
		t.Fatalf("expected [first second], got %v", fired)
	}
}

func TestTimerCancelPreventsFire(t *testing.T) {
	p := New()
	fired := false
	id := p.TimerRelative(10, func(arg any) { fired = true }, nil)
	p.TimerCancel(id)

	deadline := time.Now().Add(50 * time.Millisecond)
	for time.Now().Before(deadline) {
		p.ZeroFDs()
		p.Wait(5)
		p.DispatchTimers(time.Now())
	}

	if fired {
		t.Fatalf("cancelled timer must not fire")
	}
}

func TestWaitShortensForPendingTimer(t *testing.T) {
	p := New()
	p.TimerRelative(5, func(arg any) {}, nil)

	start := time.Now()
	p.ZeroFDs()
	p.Wait(5000) // should return promptly because of the 5ms timer, not wait 5s
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("expected wait to be shortened by pending timer, took %v", elapsed)
	}
}
