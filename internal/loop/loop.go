// Package loop implements the multiplexor loop: the single-threaded
// event loop that ties every other component together into one
// iteration contract.
package loop

import (
	"io"
	"time"

	"golang.org/x/sys/unix"

	"github.com/consolemux/consolemux/internal/aux"
	"github.com/consolemux/consolemux/internal/client"
	"github.com/consolemux/consolemux/internal/config"
	"github.com/consolemux/consolemux/internal/connio"
	"github.com/consolemux/consolemux/internal/control"
	"github.com/consolemux/consolemux/internal/engine"
	"github.com/consolemux/consolemux/internal/logging"
	"github.com/consolemux/consolemux/internal/object"
	"github.com/consolemux/consolemux/internal/tpoll"
)

// Loop is the multiplexor. It owns the object set, the tpoll instance
// and every auxiliary service the tick contract touches, and is the
// sole thread that mutates object state.
type Loop struct {
	Poll    *tpoll.Poll
	Objects *object.Set
	Ctrl    *control.Plane
	Logf    *logging.Logger
	Cfg     *config.Record

	ListenerFD int  // -1 disables accept handling, used by unit tests
	KeepAlive  bool // apply SO_KEEPALIVE to each accepted client socket

	ResetSup *aux.ResetSupervisor
	TSSched  *aux.TimestampScheduler

	// files retains the handle (an *os.File for logfiles, connio's
	// termios-restoring serial handle for serial consoles) each object's
	// raw FD is backed by, so the handle's finalizer never closes a
	// descriptor the loop still considers live (Object only stores the raw
	// fd). The listener fd is a raw socket and has no entry here.
	files map[uint64]io.Closer

	acceptResults chan acceptOutcome
}

type acceptOutcome struct {
	fd     int
	remote string
	res    *client.Result
	err    error
}

// New builds a Loop ready to run Tick. Callers finish wiring by adding
// objects to Objects and, in production, calling Bootstrap first.
func New(poll *tpoll.Poll, objects *object.Set, ctrl *control.Plane, logf *logging.Logger, cfg *config.Record) *Loop {
	l := &Loop{
		Poll:          poll,
		Objects:       objects,
		Ctrl:          ctrl,
		Logf:          logf,
		Cfg:           cfg,
		ListenerFD:    -1,
		files:         make(map[uint64]io.Closer),
		acceptResults: make(chan acceptOutcome, 64),
	}
	l.ResetSup = aux.NewResetSupervisor(poll, logf)
	return l
}

// Retain keeps f alive for as long as obj is in the object set, undoing
// the finalizer-closes-the-fd behavior of the handle types (*os.File,
// connio's serial handle) wrapping a raw fd handed to Object.
func (l *Loop) Retain(obj *object.Object, f io.Closer) { l.files[obj.ID] = f }

func (l *Loop) release(obj *object.Object) {
	if f, ok := l.files[obj.ID]; ok {
		f.Close()
		delete(l.files, obj.ID)
	}
}

// Run drives ticks until the control plane's done flag is set, then
// tears every object down in registration order; the listener is
// closed last.
func (l *Loop) Run() {
	for !l.Ctrl.Done() {
		l.Tick()
	}
	l.shutdown()
}

func (l *Loop) shutdown() {
	for _, o := range l.Objects.All() {
		if o.Kind == object.Listener {
			continue
		}
		l.teardown(o)
	}
	if l.ListenerFD >= 0 {
		unix.Close(l.ListenerFD)
	}
}

// Tick runs exactly one iteration of the multiplexor's event loop.
func (l *Loop) Tick() {
	if l.Ctrl != nil && l.Ctrl.TestAndClearReconfig() {
		l.reopenLogs()
	}

	l.Poll.ZeroFDs()
	if l.ListenerFD >= 0 {
		l.Poll.Set(l.ListenerFD, tpoll.Readable)
	}
	if l.Ctrl != nil {
		l.Poll.Set(l.Ctrl.SelfPipeFD(), tpoll.Readable)
	}

	all := l.Objects.All()
	l.reapFinishedProcesses(all)
	for _, o := range all {
		if o.GotReset {
			o.GotReset = false
			l.spawnReset(o)
		}
		if o.FD < 0 {
			continue
		}
		l.registerInterest(o)
	}

	n, err := l.Poll.Wait(1000)
	if err == tpoll.ErrInterrupted {
		return
	}
	if err != nil {
		l.Logf.Errorf("tpoll wait failed: %v", err)
		return
	}

	l.Logf.DrainSignalQueue()

	if l.Ctrl != nil && l.Poll.IsSet(l.Ctrl.SelfPipeFD(), tpoll.Readable) {
		l.Ctrl.DrainSelfPipe()
	}

	if n > 0 {
		if l.ListenerFD >= 0 && l.Poll.IsSet(l.ListenerFD, tpoll.Readable) {
			l.acceptAll()
		}
		for _, o := range l.Objects.All() {
			if o.FD < 0 {
				continue
			}
			l.dispatch(o)
		}
	}
	l.drainAcceptQueue()

	l.Poll.DispatchTimers(time.Now())
}

// registerInterest sets the tpoll interest bits appropriate to an
// object's kind and state.
func (l *Loop) registerInterest(o *object.Object) {
	switch o.Kind {
	case object.Serial, object.Client:
		l.Poll.Set(o.FD, tpoll.Readable)
	case object.Telnet:
		ta := o.Aux.(*object.TelnetAux)
		switch ta.State {
		case object.TelnetUp:
			l.Poll.Set(o.FD, tpoll.Readable)
		case object.TelnetPending:
			l.Poll.Set(o.FD, tpoll.Readable|tpoll.Writable)
		}
	}

	suspended := o.Kind == object.Client && o.GotSuspend
	if (!o.Out.IsEmpty() || o.GotEOF) && !suspended {
		l.Poll.Set(o.FD, tpoll.Writable)
	}
}

// dispatch services one ready object: telnet connect advancement
// takes priority, then a read, then (if the object survived) a write.
func (l *Loop) dispatch(o *object.Object) {
	if o.Kind == object.Telnet {
		ta := o.Aux.(*object.TelnetAux)
		if ta.State == object.TelnetPending {
			if l.Poll.IsSet(o.FD, tpoll.Readable) || l.Poll.IsSet(o.FD, tpoll.Writable) {
				l.advanceTelnetConnect(o, ta)
			}
			return
		}
	}

	if l.Poll.IsSet(o.FD, tpoll.Readable) {
		if !l.handleVerdict(o, engine.ReadFromObj(o, l.Logf)) {
			return
		}
	}
	if o.FD >= 0 && l.Poll.IsSet(o.FD, tpoll.Writable) {
		l.handleVerdict(o, engine.WriteToObj(o))
	}
}

// handleVerdict applies an engine verdict. It is the only place besides
// Tick's accept/reconnect paths that mutates the object set. Returns
// false if the object was removed or put into reconnect limbo (fd < 0)
// and should not be dispatched further this tick.
func (l *Loop) handleVerdict(o *object.Object, v engine.Verdict) bool {
	switch v {
	case engine.Ok:
		return true
	case engine.DrainThenClose:
		if !o.Out.IsEmpty() {
			return true // let the write half finish draining first
		}
		l.disposeOrReconnect(o)
		return false
	case engine.Dispose:
		l.disposeOrReconnect(o)
		return false
	default:
		return true
	}
}

func (l *Loop) disposeOrReconnect(o *object.Object) {
	if o.Kind == object.Telnet {
		l.downAndScheduleReconnect(o)
		return
	}
	l.teardown(o)
}

// teardown closes o's descriptor (through its retained handle when it
// has one, so a serial line gets its termios restored first), and
// removes it from the object set.
func (l *Loop) teardown(o *object.Object) {
	if _, ok := l.files[o.ID]; ok {
		l.release(o)
	} else if o.FD >= 0 {
		unix.Close(o.FD)
	}
	o.FD = -1
	l.Objects.Remove(o)
	l.Logf.Noticef("object %s destroyed", o.Name)
}

func (l *Loop) reapFinishedProcesses(all []*object.Object) {
	for _, o := range all {
		if o.Kind != object.Process {
			continue
		}
		pa, ok := o.Aux.(*object.ProcessAux)
		if !ok {
			continue
		}
		if err := unix.Kill(pa.PID, 0); err != nil {
			l.Objects.Remove(o)
		}
	}
}

func (l *Loop) spawnReset(console *object.Object) {
	timeout := time.Duration(l.Cfg.ResetTimeoutSeconds) * time.Second
	pa, err := l.ResetSup.Spawn(console.Name, l.Cfg.ResetCmd, timeout)
	if err != nil {
		l.Logf.Errorf("reset command for console %s failed to start: %v", console.Name, err)
		return
	}
	pa.Console = console
	proc := object.New(console.Name+"-reset", object.Process, 0)
	proc.Aux = pa
	l.Objects.Add(proc)
	l.Logf.Noticef("reset command spawned for console %s, pid %d", console.Name, pa.PID)
}

func (l *Loop) downAndScheduleReconnect(o *object.Object) {
	if o.FD >= 0 {
		unix.Close(o.FD)
		o.FD = -1
	}
	ta := o.Aux.(*object.TelnetAux)
	ta.State = object.TelnetDown
	bo := ta.Backoff.(*connio.Backoff)
	delay := bo.Next()
	l.Logf.Noticef("telnet console %s down, retrying in %v", o.Name, delay)
	l.Poll.TimerRelative(int(delay/time.Millisecond), func(any) { l.beginTelnetConnect(o) }, nil)
}

func (l *Loop) beginTelnetConnect(o *object.Object) {
	ta := o.Aux.(*object.TelnetAux)
	fd, err := connio.BeginTelnetConnect(ta.Host, ta.Port)
	if err != nil {
		l.Logf.Warningf("telnet console %s: connect failed immediately: %v", o.Name, err)
		l.downAndScheduleReconnect(o)
		return
	}
	o.FD = fd
	ta.State = object.TelnetPending
}

func (l *Loop) advanceTelnetConnect(o *object.Object, ta *object.TelnetAux) {
	ok, sockErr := connio.CheckConnect(o.FD)
	if !ok {
		l.Logf.Warningf("telnet console %s: connect failed: %v", o.Name, sockErr)
		l.downAndScheduleReconnect(o)
		return
	}
	ta.State = object.TelnetUp
	ta.Backoff.(*connio.Backoff).ResetFloor()
	l.Logf.Noticef("telnet console %s up", o.Name)
}

// reopenLogs implements the SIGHUP reconfig path: reopen every
// per-console logfile in append mode, never truncating. Deliberately
// does *not* resurrect downed serial objects or reset telnet back-off —
// see DESIGN.md's Open Question decision.
func (l *Loop) reopenLogs() {
	l.Logf.Noticef("SIGHUP: reopening log files")
	for _, o := range l.Objects.All() {
		if o.Kind != object.Logfile {
			continue
		}
		la := o.Aux.(*object.LogfileAux)
		consoleName := o.Name
		if la.Console != nil {
			consoleName = la.Console.Name
		}
		path := connio.ExpandLogTemplate(la.Path, consoleName, time.Now())
		// Close the old handle first: it holds the advisory lock on the
		// old open, and dropping it unclosed would leave its finalizer to
		// close whatever fd later reuses its number.
		if _, ok := l.files[o.ID]; ok {
			l.release(o)
		} else if o.FD >= 0 {
			unix.Close(o.FD)
		}
		o.FD = -1
		f, err := connio.ReopenLogfile(path)
		if err != nil {
			l.Logf.Errorf("reopen logfile %s: %v", path, err)
			continue
		}
		o.FD = int(f.Fd())
		l.Retain(o, f)
	}
}
