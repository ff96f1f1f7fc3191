// Package control implements the signal and control plane: the atomic
// done/reconfig flags, a self-pipe that wakes the multiplexor's tpoll
// wait immediately on a signal instead of waiting out the 1-second tick
// cap, and the SIGCHLD reaper.
//
// Go delivers signals to a channel via a runtime-managed goroutine
// (os/signal), which already satisfies "handlers need only atomic
// writes" without the POSIX async-signal-safety constraints the original
// design note is guarding against in C. The self-pipe is kept anyway
// because it lets a signal wake the blocked tpoll.Wait immediately
// rather than after up to a second.
package control

import (
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/consolemux/consolemux/internal/logging"
)

// Plane owns the two control-plane flags and the self-pipe that surfaces
// signal activity to tpoll.
type Plane struct {
	done     int32
	reconfig int32

	pipeR, pipeW int
	sigCh        chan os.Signal
	logf         *logging.Logger
}

// New builds a Plane with an armed self-pipe. Call Start to begin
// listening for signals.
func New(logf *logging.Logger) (*Plane, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return nil, err
	}
	return &Plane{pipeR: fds[0], pipeW: fds[1], logf: logf}, nil
}

// SelfPipeFD is the read end the multiplexor loop registers with tpoll
// (Readable) every tick, alongside the listener and every live object.
func (p *Plane) SelfPipeFD() int { return p.pipeR }

// DrainSelfPipe discards whatever bytes have accumulated; called once the
// loop observes the self-pipe readable, before re-checking the flags.
func (p *Plane) DrainSelfPipe() {
	buf := make([]byte, 64)
	for {
		n, err := unix.Read(p.pipeR, buf)
		if n <= 0 || err != nil {
			return
		}
	}
}

// Done reports whether an orderly shutdown has been requested
// (SIGINT/SIGTERM).
func (p *Plane) Done() bool { return atomic.LoadInt32(&p.done) != 0 }

// TestAndClearReconfig reports whether SIGHUP fired since the last call,
// clearing the flag. The multiplexor loop calls this at the top of every
// tick.
func (p *Plane) TestAndClearReconfig() bool {
	return atomic.CompareAndSwapInt32(&p.reconfig, 1, 0)
}

// Start installs signal handlers for SIGINT/SIGTERM (orderly exit),
// SIGHUP (reconfig), SIGCHLD (reap) and SIGPIPE (ignore), and begins
// reaping children in the background.
func (p *Plane) Start() {
	p.sigCh = make(chan os.Signal, 8)
	signal.Notify(p.sigCh,
		syscall.SIGINT, syscall.SIGTERM,
		syscall.SIGHUP,
		syscall.SIGCHLD,
		syscall.SIGPIPE,
	)
	go p.loop()
}

// Stop releases the signal channel and closes the self-pipe.
func (p *Plane) Stop() {
	signal.Stop(p.sigCh)
	unix.Close(p.pipeW)
	unix.Close(p.pipeR)
}

func (p *Plane) loop() {
	for sig := range p.sigCh {
		switch sig {
		case syscall.SIGINT, syscall.SIGTERM:
			atomic.StoreInt32(&p.done, 1)
			p.wake()
		case syscall.SIGHUP:
			atomic.StoreInt32(&p.reconfig, 1)
			p.wake()
		case syscall.SIGCHLD:
			p.reapAll()
			p.wake()
		case syscall.SIGPIPE:
			// ignored: a write to a dead client socket must not kill the daemon
		}
	}
}

// wake writes a single byte to the self-pipe, non-blocking; if the pipe
// is momentarily full the loop will still notice the flag on its next
// 1-second tick cap, so a dropped wake byte is harmless.
func (p *Plane) wake() {
	_, _ = unix.Write(p.pipeW, []byte{0})
}

// reapAll drains every exited child with a non-blocking wait-any loop, so
// that after any sequence of reset-command spawns followed by shutdown,
// no zombie processes remain.
func (p *Plane) reapAll() {
	for {
		var ws syscall.WaitStatus
		pid, err := syscall.Wait4(-1, &ws, syscall.WNOHANG, nil)
		if err != nil || pid <= 0 {
			return
		}
		if p.logf != nil {
			p.logf.SignalSafe("reaped child pid " + strconv.Itoa(pid))
		}
	}
}
