package engine

import (
	"testing"

	"golang.org/x/sys/unix"

	"github.com/consolemux/consolemux/internal/logging"
	"github.com/consolemux/consolemux/internal/object"
)

func socketPair(t *testing.T) (a, b int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func testLogger(t *testing.T) *logging.Logger {
	return logging.New(&discard{}, logging.Debug)
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func TestReadFromObjFansOutToPeers(t *testing.T) {
	srcFD, peerFD := socketPair(t)

	src := object.New("console", object.Serial, 4096)
	src.FD = srcFD

	sink1 := object.New("client1", object.Client, 4096)
	sink2 := object.New("logfile", object.Logfile, 4096)
	object.AddWriterPeer(src, sink1)
	object.AddWriterPeer(src, sink2)

	logf := testLogger(t)

	if _, err := unix.Write(peerFD, []byte("HELLO\r\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	if v := ReadFromObj(src, logf); v != Ok {
		t.Fatalf("expected Ok verdict, got %v", v)
	}

	for _, sink := range []*object.Object{sink1, sink2} {
		first, second := sink.Out.View()
		got := append(append([]byte(nil), first...), second...)
		if string(got) != "HELLO\r\n" {
			t.Fatalf("sink %s got %q, want HELLO\\r\\n", sink.Name, got)
		}
	}
}

func TestReadFromObjReturnsOkOnEAGAIN(t *testing.T) {
	fd, _ := socketPair(t)
	obj := object.New("console", object.Serial, 4096)
	obj.FD = fd

	if v := ReadFromObj(obj, testLogger(t)); v != Ok {
		t.Fatalf("expected Ok on EAGAIN, got %v", v)
	}
}

func TestReadFromObjDetectsEOF(t *testing.T) {
	fd, peer := socketPair(t)
	obj := object.New("console", object.Serial, 4096)
	obj.FD = fd

	unix.Close(peer) // causes fd to see EOF (read returns 0)

	v := ReadFromObj(obj, testLogger(t))
	if v != DrainThenClose {
		t.Fatalf("expected DrainThenClose on EOF, got %v", v)
	}
	if !obj.GotEOF {
		t.Fatalf("expected GotEOF to be set")
	}
}

func TestWriteToObjDrainsBuffer(t *testing.T) {
	fd, peer := socketPair(t)
	obj := object.New("console", object.Serial, 4096)
	obj.FD = fd
	obj.Out.Enqueue([]byte("OUTPUT"))

	if v := WriteToObj(obj); v != Ok {
		t.Fatalf("expected Ok, got %v", v)
	}
	if !obj.Out.IsEmpty() {
		t.Fatalf("expected output buffer drained")
	}

	buf := make([]byte, 16)
	n, err := unix.Read(peer, buf)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(buf[:n]) != "OUTPUT" {
		t.Fatalf("got %q", buf[:n])
	}
}

func TestWriteToObjSignalsDrainThenCloseAfterEOF(t *testing.T) {
	fd, _ := socketPair(t)
	obj := object.New("console", object.Serial, 4096)
	obj.FD = fd
	obj.GotEOF = true // paired reader already saw EOF

	if v := WriteToObj(obj); v != DrainThenClose {
		t.Fatalf("expected DrainThenClose on empty buffer with GotEOF, got %v", v)
	}
}

func TestFilterTelnetIACStripsNegotiationAndPreservesData(t *testing.T) {
	obj := object.New("telnetconsole", object.Telnet, 4096)
	obj.Aux = &object.TelnetAux{}

	filter := FilterTelnetIAC(obj)
	// IAC DO ECHO(1), then plain data, then an escaped 0xFF byte.
	in := []byte{iacIAC, iacDO, 1, 'H', 'I', iacIAC, iacIAC}
	out := filter(in)

	if string(out) != "HI\xff" {
		t.Fatalf("got %q, want stripped negotiation with data + escaped 0xff preserved", out)
	}

	// the refusal should have been queued on the object's own output buffer
	first, second := obj.Out.View()
	got := append(append([]byte(nil), first...), second...)
	want := []byte{iacIAC, iacWONT, 1}
	if string(got) != string(want) {
		t.Fatalf("got reply %v, want %v", got, want)
	}
}
