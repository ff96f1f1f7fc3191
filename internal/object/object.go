// Package object implements the buffered-object data model: the
// heterogeneous, peer-linked endpoints the multiplexor loop drives.
package object

import (
	"time"

	"github.com/consolemux/consolemux/internal/ringbuf"
)

// Kind identifies what an Object represents.
type Kind int

const (
	Listener Kind = iota
	Client
	Serial
	Telnet
	Logfile
	Process
)

func (k Kind) String() string {
	switch k {
	case Listener:
		return "listener"
	case Client:
		return "client"
	case Serial:
		return "serial"
	case Telnet:
		return "telnet"
	case Logfile:
		return "logfile"
	case Process:
		return "process"
	default:
		return "unknown"
	}
}

// TelnetState is the connect-state of a Telnet object.
type TelnetState int

const (
	TelnetDown TelnetState = iota
	TelnetPending
	TelnetUp
)

func (s TelnetState) String() string {
	switch s {
	case TelnetDown:
		return "DOWN"
	case TelnetPending:
		return "PENDING"
	case TelnetUp:
		return "UP"
	default:
		return "?"
	}
}

// Object is the central entity of the data model. Every field is touched
// exclusively by the multiplexor loop thread, with two exceptions: a
// handshake worker briefly owns a just-accepted socket before handing it
// to the loop, and the control plane's done/reconfig flags are atomic.
type Object struct {
	ID   uint64
	Name string
	Kind Kind

	FD int // -1 when closed/awaiting reconnect

	In  *ringbuf.Buffer
	Out *ringbuf.Buffer

	GotEOF     bool
	GotReset   bool // console has been asked to run its reset command
	GotSuspend bool // client only: outbound flow paused by user command

	// WriterPeers are the sinks this object's input is fanned out into
	// for each writer peer w, its input is copied into w.Out. ReaderPeers
	// is the reverse index, held so that destruction can detach an object
	// from every peer list that might reference it without a full
	// object-set scan.
	WriterPeers []*Object
	ReaderPeers []*Object

	Aux any

	// TimerID is a slot for a tpoll timer id associated with this object,
	// 0 when unset. Nothing assigns it: the telnet reconnect timer and
	// the reset-command watchdog are scheduled without recording their
	// ids, so it stays 0. Defined as uint64 here rather than importing
	// package tpoll, to avoid an import cycle — tpoll has no notion of
	// objects, only opaque ids.
	TimerID uint64
}

// New constructs an Object with fresh ring buffers. ringSize is applied to
// both the input and output buffer, per the single ring-size configuration
// knob.
func New(name string, kind Kind, ringSize int) *Object {
	return &Object{
		Name: name,
		Kind: kind,
		FD:   -1,
		In:   ringbuf.New(ringSize),
		Out:  ringbuf.New(ringSize),
	}
}

// AddWriterPeer subscribes w to this object's input stream and records the
// reverse link on w, maintaining registration order: peers are served
// in the order they were added.
func AddWriterPeer(src, w *Object) {
	src.WriterPeers = append(src.WriterPeers, w)
	w.ReaderPeers = append(w.ReaderPeers, src)
}

// DetachFrom removes every reference to dead from the peer lists of the
// other objects in all; dead's own peer lists are left as they are.
// Called by the object set immediately before a destroyed object's
// storage is released.
func DetachFrom(dead *Object, all []*Object) {
	for _, o := range all {
		if o == dead {
			continue
		}
		o.WriterPeers = removePeer(o.WriterPeers, dead)
		o.ReaderPeers = removePeer(o.ReaderPeers, dead)
	}
}

func removePeer(peers []*Object, dead *Object) []*Object {
	out := peers[:0]
	for _, p := range peers {
		if p != dead {
			out = append(out, p)
		}
	}
	return out
}

// ListenerAux is the auxiliary state of a Listener object.
type ListenerAux struct {
	Port         int
	LoopbackOnly bool
}

// ClientAux is the auxiliary state of a Client object.
type ClientAux struct {
	Remote   string // remote identity string
	Consoles []*Object
}

// SerialAux is the auxiliary state of a Serial object.
type SerialAux struct {
	Device string
	Baud   int
	Bits   int
	Parity string
	Flow   string

	// SavedTermios holds an opaque snapshot of the line's prior settings,
	// restored on close. Typed any to keep this package free of the
	// platform-specific golang.org/x/sys/unix dependency that owns the
	// actual termios layout; internal/connio populates and restores it.
	SavedTermios any
}

// TelnetAux is the auxiliary state of a Telnet object.
type TelnetAux struct {
	Host string
	Port int

	State TelnetState

	// Backoff holds the bounded exponential reconnect schedule, an
	// internal/connio *Backoff wrapper, stored here as an opaque handle
	// so this package needn't import the backoff library.
	Backoff any

	IACState any // internal/engine's telnet option-negotiation sub-state
}

// LogfileAux is the auxiliary state of a Logfile object.
type LogfileAux struct {
	Console          *Object // owning console
	TruncateOnce     bool
	PendingTimestamp bool
	Path             string
}

// ProcessAux is the auxiliary state of a reset-command subprocess object.
type ProcessAux struct {
	PID              int
	Console          *Object
	ExpectedDeadline time.Time
}
