package client

import (
	"bufio"
	"os"
	"testing"

	"golang.org/x/sys/unix"
)

func TestHandshakeParsesSelectionAndAcks(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	serverFD, clientFD := fds[0], fds[1]

	done := make(chan struct {
		res *Result
		err error
	}, 1)
	go func() {
		res, err := Handshake(serverFD, "127.0.0.1:9999", 4096)
		done <- struct {
			res *Result
			err error
		}{res, err}
	}()

	peer := os.NewFile(uintptr(clientFD), "peer")
	defer peer.Close()

	if _, err := peer.WriteString("console1 rw\n"); err != nil {
		t.Fatalf("write selection: %v", err)
	}

	r := bufio.NewReader(peer)
	ack, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read ack: %v", err)
	}
	if ack != "OK console1 read-write\r\n" {
		t.Fatalf("got ack %q", ack)
	}

	out := <-done
	if out.err != nil {
		t.Fatalf("Handshake: %v", out.err)
	}
	if out.res.ConsoleName != "console1" || out.res.Mode != ReadWrite {
		t.Fatalf("got %+v", out.res)
	}
}
