// Package engine implements the read/write engine: one non-blocking
// read or write per object per tick, fanning a source's input out to
// every writer peer's output buffer and surfacing a verdict the loop
// uses to decide whether to keep polling the object.
//
// Each operation is a single golang.org/x/sys/unix.Read/Write call,
// handling EAGAIN/EINTR and accumulating partial transfers across ticks
// rather than retrying in a blocking loop.
package engine

import (
	"golang.org/x/sys/unix"

	"github.com/consolemux/consolemux/internal/logging"
	"github.com/consolemux/consolemux/internal/object"
)

// Verdict is the engine's report back to the multiplexor loop, which is
// the sole site permitted to mutate the master object list: the
// read/write engine only surfaces verdicts, it never mutates the object
// set itself.
type Verdict int

const (
	// Ok: no change in the object's lifecycle; keep it as-is.
	Ok Verdict = iota
	// DrainThenClose: peer hung up (EOF) or has been fully drained after
	// EOF; the object's output should finish draining before teardown.
	DrainThenClose
	// Dispose: unrecoverable error; the loop should tear the object down
	// immediately (telnet objects are retried instead).
	Dispose
)

const readChunk = 8192

// ReadFromObj issues one non-blocking read into obj's input buffer and
// fans the bytes out to every writer peer.
func ReadFromObj(obj *object.Object, logf *logging.Logger) Verdict {
	buf := make([]byte, readChunk)
	n, err := unix.Read(obj.FD, buf)
	switch {
	case err == unix.EAGAIN:
		return Ok
	case err == unix.EINTR:
		return Ok // caller re-checks control flags next tick
	case err != nil:
		return Dispose
	case n == 0:
		obj.GotEOF = true
		return DrainThenClose
	}

	data := buf[:n]
	if obj.Kind == object.Telnet {
		data = FilterTelnetIAC(obj)(data)
	}

	obj.In.Enqueue(data)
	fanOut(obj, data, logf)
	return Ok
}

// fanOut copies data into every writer peer's output buffer, in
// registration order, applying the per-object overrun policy
// independently so a slow peer cannot stall a fast one.
func fanOut(src *object.Object, data []byte, logf *logging.Logger) {
	for _, w := range src.WriterPeers {
		evicted := w.Out.Enqueue(data)
		if w.Out.BeganOverrunBurst(evicted) {
			logf.Warningf("object %s: output buffer overrun, dropped %d bytes (source %s)", w.Name, evicted, src.Name)
		}
	}
}

// WriteToObj issues one non-blocking write from obj's output buffer,
// advancing it by however much the kernel accepted. If the buffer empties
// after a paired EOF was recorded, it signals DrainThenClose so the loop
// can complete teardown.
func WriteToObj(obj *object.Object) Verdict {
	first, second := obj.Out.View()
	if len(first) == 0 && len(second) == 0 {
		if obj.GotEOF {
			return DrainThenClose
		}
		return Ok
	}

	var n int
	var err error
	if len(second) == 0 {
		n, err = unix.Write(obj.FD, first)
	} else {
		// the unread region wraps; one copy into a contiguous scratch
		// buffer is unavoidable to hand the kernel a single write(2).
		merged := make([]byte, len(first)+len(second))
		copy(merged, first)
		copy(merged[len(first):], second)
		n, err = unix.Write(obj.FD, merged)
	}

	switch {
	case err == unix.EAGAIN:
		return Ok
	case err == unix.EINTR:
		return Ok
	case err != nil:
		return Dispose
	}

	obj.Out.Advance(n)
	if obj.Out.IsEmpty() && obj.GotEOF {
		return DrainThenClose
	}
	return Ok
}
