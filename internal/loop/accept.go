package loop

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/consolemux/consolemux/internal/client"
	"github.com/consolemux/consolemux/internal/object"
)

// acceptAll drains every pending connection on the listener, handing
// each off to a handshake worker goroutine — a newly accepted socket is
// owned briefly by that worker. The loop thread itself never blocks on
// a handshake.
func (l *Loop) acceptAll() {
	for {
		fd, sa, err := unix.Accept4(l.ListenerFD, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			if err == unix.EAGAIN {
				return
			}
			l.Logf.Warningf("accept: %v", err)
			return
		}
		if l.KeepAlive {
			_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1)
		}
		remote := remoteString(sa)
		go l.runHandshake(fd, remote)
	}
}

func (l *Loop) runHandshake(fd int, remote string) {
	res, err := client.Handshake(fd, remote, l.Cfg.RingSize)
	l.acceptResults <- acceptOutcome{fd: fd, remote: remote, res: res, err: err}
}

// drainAcceptQueue adopts every handshake result that has arrived since
// the last tick. This, and handleVerdict, are the only two places the
// object set is mutated outside of Tick's own call frame, and both run
// on the loop goroutine only.
func (l *Loop) drainAcceptQueue() {
	for {
		select {
		case out := <-l.acceptResults:
			l.adoptClient(out)
		default:
			return
		}
	}
}

func (l *Loop) adoptClient(out acceptOutcome) {
	if out.err != nil {
		l.Logf.Warningf("client handshake from %s failed: %v", out.remote, out.err)
		unix.Close(out.fd)
		return
	}

	console, ok := l.Objects.ByName(out.res.ConsoleName)
	if !ok {
		l.Logf.Warningf("client %s requested unknown console %q", out.remote, out.res.ConsoleName)
		unix.Close(out.res.Obj.FD)
		return
	}

	clientObj := out.res.Obj
	l.Objects.Add(clientObj)
	object.AddWriterPeer(console, clientObj)
	if out.res.Mode != client.Monitor {
		object.AddWriterPeer(clientObj, console)
	}
	l.Logf.Noticef("client %s attached to console %s (%s)", out.remote, console.Name, out.res.Mode)
}

func remoteString(sa unix.Sockaddr) string {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return fmt.Sprintf("%d.%d.%d.%d:%d", a.Addr[0], a.Addr[1], a.Addr[2], a.Addr[3], a.Port)
	case *unix.SockaddrInet6:
		return fmt.Sprintf("[%x]:%d", a.Addr, a.Port)
	default:
		return "unknown"
	}
}
