package aux

import (
	"os/exec"
	"syscall"
	"time"

	"github.com/consolemux/consolemux/internal/connio"
	"github.com/consolemux/consolemux/internal/logging"
	"github.com/consolemux/consolemux/internal/object"
	"github.com/consolemux/consolemux/internal/tpoll"
)

// ResetSupervisor implements the reset-subprocess lifecycle: fork a
// detached shell running the console's reset command in its own process
// group, and arm a watchdog that SIGKILLs the whole group if it outlives
// its timeout.
//
// The fork/exec shape (std{in,out,err} left nil, which os/exec connects
// to /dev/null rather than closing; exec /bin/sh -c <cmd>; put the child
// in its own process group so a timeout can target -pid) is
// deliberately not routed through any higher-level subprocess-management
// library: a reset command's output is never needed by the daemon, so
// buffering it would be pure waste, and os/exec + syscall.SysProcAttr is
// used directly.
type ResetSupervisor struct {
	poll *tpoll.Poll
	logf *logging.Logger
}

// NewResetSupervisor builds a supervisor bound to the multiplexor's tpoll
// instance, used to arm the watchdog timer.
func NewResetSupervisor(poll *tpoll.Poll, logf *logging.Logger) *ResetSupervisor {
	return &ResetSupervisor{poll: poll, logf: logf}
}

// Spawn runs cmdTemplate (with %N expanded to consoleName) as
// /bin/sh -c <cmd>, in a new process group, and arms a watchdog that
// SIGKILLs the group after timeout. It returns immediately; reaping
// happens out-of-band via the SIGCHLD handler in internal/control.
func (r *ResetSupervisor) Spawn(consoleName, cmdTemplate string, timeout time.Duration) (*object.ProcessAux, error) {
	expanded := connio.ExpandLogTemplate(cmdTemplate, consoleName, time.Now())

	cmd := exec.Command("/bin/sh", "-c", expanded)
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	// Setpgid:true makes the fork+exec wrapper set the child's pgid to
	// its own pid before exec; the explicit Setpgid call below is a
	// belt-and-suspenders double set, guarding against callers that read
	// cmd.Process.Pid before the child's own setpgid has landed.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return nil, err
	}
	pid := cmd.Process.Pid
	_ = syscall.Setpgid(pid, pid)

	deadline := time.Now().Add(timeout)
	r.poll.TimerAbsolute(deadline, func(any) { r.killIfAlive(consoleName, pid) }, nil)

	return &object.ProcessAux{PID: pid, ExpectedDeadline: deadline}, nil
}

// killIfAlive implements the watchdog fire: if the pid still exists,
// send SIGKILL to the entire process group (negative pid) to reap
// runaway descendants.
func (r *ResetSupervisor) killIfAlive(consoleName string, pid int) {
	if err := syscall.Kill(pid, 0); err != nil {
		return // already exited; the SIGCHLD reaper will have collected it
	}
	r.logf.Noticef("reset command for console %s exceeded its timeout, sending SIGKILL to process group %d", consoleName, pid)
	_ = syscall.Kill(-pid, syscall.SIGKILL)
}
