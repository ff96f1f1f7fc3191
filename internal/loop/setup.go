package loop

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"github.com/consolemux/consolemux/internal/aux"
	"github.com/consolemux/consolemux/internal/config"
	"github.com/consolemux/consolemux/internal/connio"
	"github.com/consolemux/consolemux/internal/object"
)

// Bootstrap builds the listener and the initial object graph from cfg
// and wires it into l: open every configured serial/telnet/logfile
// object, link WritesTo peers, raise the process's open-file limit, and
// bind the listening socket last so a config error never leaves a port
// bound.
func Bootstrap(l *Loop, cfg *config.Record) error {
	if err := raiseFileLimit(len(cfg.Objects)); err != nil {
		l.Logf.Warningf("raise open-file limit: %v", err)
	}

	for _, spec := range cfg.Objects {
		var obj *object.Object
		switch spec.Kind {
		case "serial":
			o, handle, err := connio.OpenSerial(spec.Name, object.SerialAux{
				Device: spec.Device,
				Baud:   spec.Baud,
				Bits:   spec.Bits,
				Parity: spec.Parity,
				Flow:   spec.Flow,
			}, cfg.RingSize)
			if err != nil {
				return fmt.Errorf("loop: open serial console %q: %w", spec.Name, err)
			}
			l.Retain(o, handle)
			obj = o
		case "telnet":
			obj = connio.NewTelnetObject(spec.Name, spec.Host, spec.Port, cfg.RingSize)
			l.Objects.Add(obj)
			l.beginTelnetConnect(obj)
			continue
		case "logfile":
			// Console back-reference is patched in a second pass below,
			// once every named object exists.
			o := connio.NewLogfileObject(spec.Name, nil, spec.Path, cfg.RingSize)
			// %N names the console writing to this logfile (the same
			// object the second pass links as its Console), falling back
			// to the logfile's own name, as reopenLogs does.
			consoleName := spec.Name
			for _, other := range cfg.Objects {
				for _, peerName := range other.WritesTo {
					if peerName == spec.Name {
						consoleName = other.Name
					}
				}
			}
			path := connio.ExpandLogTemplate(spec.Path, consoleName, time.Now())
			f, err := connio.OpenLogfile(path, cfg.EnableZeroLogs)
			if err != nil {
				return fmt.Errorf("loop: open logfile %q: %w", spec.Name, err)
			}
			o.FD = int(f.Fd())
			l.Retain(o, f)
			obj = o
		default:
			return fmt.Errorf("loop: object %q has unknown kind %q", spec.Name, spec.Kind)
		}
		l.Objects.Add(obj)
	}

	for _, spec := range cfg.Objects {
		src, ok := l.Objects.ByName(spec.Name)
		if !ok {
			continue
		}
		for _, peerName := range spec.WritesTo {
			dst, ok := l.Objects.ByName(peerName)
			if !ok {
				return fmt.Errorf("loop: object %q writes to unknown peer %q", spec.Name, peerName)
			}
			object.AddWriterPeer(src, dst)
			if dst.Kind == object.Logfile {
				dst.Aux.(*object.LogfileAux).Console = src
			}
		}
	}

	fd, err := bindListener(cfg.Port, cfg.EnableLoopBack)
	if err != nil {
		return fmt.Errorf("loop: bind listener: %w", err)
	}
	l.ListenerFD = fd
	l.KeepAlive = cfg.EnableKeepAlive

	if cfg.TStampMinutes > 0 {
		l.TSSched = aux.NewTimestampScheduler(cfg.TStampMinutes, "", "", l.Poll)
		l.TSSched.Start(l.Objects.All)
	}

	return nil
}

// bindListener opens the console-access TCP listener, non-blocking and
// close-on-exec, bound to loopback only when configured.
func bindListener(port int, loopbackOnly bool) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, err
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, err
	}

	sa := &unix.SockaddrInet4{Port: port}
	if loopbackOnly {
		sa.Addr = [4]byte{127, 0, 0, 1}
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, err
	}
	if err := unix.Listen(fd, 64); err != nil {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

// raiseFileLimit raises the open-files soft limit to
// max(current, 2*object_count) so that serial, telnet, logfile and
// per-client fds never run the process out of descriptors under a
// fully loaded configuration.
func raiseFileLimit(objectCount int) error {
	var rl unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rl); err != nil {
		return err
	}
	want := uint64(2 * objectCount)
	if want < rl.Cur {
		return nil
	}
	if want > rl.Max {
		want = rl.Max
	}
	rl.Cur = want
	return unix.Setrlimit(unix.RLIMIT_NOFILE, &rl)
}
