// Package client implements the per-connection greeting handshake: it
// runs in a worker goroutine and, on success, hands back a fully formed
// client Object for the multiplexor loop to adopt.
//
// The wire protocol itself — greeting text, console-selection syntax,
// escape characters, monitor/read-write/force mode negotiation — is
// intentionally minimal: this package implements only the contract the
// core cares about, accept a console name line, reply with an
// acknowledgement, and return an Object whose peer links the loop still
// has to wire to the named console.
package client

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/consolemux/consolemux/internal/object"
)

// Mode is the session mode a client requested.
type Mode int

const (
	Monitor Mode = iota // read-only
	ReadWrite
	Force // read-write; adopted exactly like ReadWrite, an existing writer is not pre-empted
)

func (m Mode) String() string {
	switch m {
	case ReadWrite:
		return "read-write"
	case Force:
		return "force"
	default:
		return "monitor"
	}
}

// Result is what a successful handshake hands back to the caller that
// dispatched the worker.
type Result struct {
	Obj         *object.Object
	ConsoleName string
	Mode        Mode
}

// Handshake performs the blocking line-based handshake on fd: it expects
// a line of the form "<console-name> [rw|force]", and replies with a
// one-line acknowledgement. fd is temporarily switched to blocking mode
// for the duration of the handshake — a newly accepted socket is owned
// briefly by a handshake worker — and switched back to non-blocking
// before being handed to the loop.
//
// Reads and writes go through raw unix.Read/Write on fd directly, never
// through os.NewFile: wrapping fd in an *os.File here would install a
// finalizer that closes fd once the *os.File is collected, with nothing
// retaining it past this function's return to stop that from happening
// out from under the object the loop is about to adopt.
func Handshake(fd int, remote string, ringSize int) (*Result, error) {
	if err := unix.SetNonblock(fd, false); err != nil {
		return nil, fmt.Errorf("client: set blocking for handshake: %w", err)
	}
	defer unix.SetNonblock(fd, true)

	r := bufio.NewReader(fdReader{fd})

	line, err := r.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("client: handshake read: %w", err)
	}
	name, mode := parseSelection(line)
	if name == "" {
		return nil, fmt.Errorf("client: empty console selection")
	}

	ack := fmt.Sprintf("OK %s %s\r\n", name, mode)
	if err := writeFull(fd, []byte(ack)); err != nil {
		return nil, fmt.Errorf("client: handshake write: %w", err)
	}

	obj := object.New(remote, object.Client, ringSize)
	obj.FD = fd
	obj.Aux = &object.ClientAux{Remote: remote}

	return &Result{Obj: obj, ConsoleName: name, Mode: mode}, nil
}

// fdReader adapts a raw blocking fd to io.Reader for bufio.Reader,
// without the os.File finalizer that would close fd on GC.
type fdReader struct{ fd int }

func (r fdReader) Read(p []byte) (int, error) {
	n, err := unix.Read(r.fd, p)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

func writeFull(fd int, p []byte) error {
	for len(p) > 0 {
		n, err := unix.Write(fd, p)
		if err != nil {
			return err
		}
		p = p[n:]
	}
	return nil
}

func parseSelection(line string) (name string, mode Mode) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", Monitor
	}
	name = fields[0]
	mode = Monitor
	if len(fields) > 1 {
		switch strings.ToLower(fields[1]) {
		case "rw":
			mode = ReadWrite
		case "force":
			mode = Force
		}
	}
	return name, mode
}
