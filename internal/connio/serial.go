// Package connio implements the object openers and connectors: the
// initial open of serial and logfile endpoints, and the non-blocking
// connect/back-off dance for telnet consoles.
package connio

import (
	"fmt"
	"io"

	"golang.org/x/sys/unix"

	"github.com/consolemux/consolemux/internal/object"
)

// OpenSerial opens the serial device named by spec, applies its line
// settings via termios, and returns a live Serial object with fd >= 0
// plus a handle that restores the line's prior settings and closes the
// fd.
//
// The device is opened directly with unix.Open and configured with
// unix.IoctlGetTermios/SetTermios rather than through a wrapping
// library: the object needs a real non-blocking fd it owns outright for
// tpoll registration, and no serial library in reach exposes one — they
// hand back an io.ReadWriteCloser with the fd hidden inside.
func OpenSerial(name string, spec object.SerialAux, ringSize int) (*object.Object, io.Closer, error) {
	fd, err := unix.Open(spec.Device, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("connio: open serial %s (%s): %w", name, spec.Device, err)
	}

	saved, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		unix.Close(fd)
		return nil, nil, fmt.Errorf("connio: get termios for %s: %w", spec.Device, err)
	}

	t := *saved
	if err := applySerialSettings(&t, spec); err != nil {
		unix.Close(fd)
		return nil, nil, fmt.Errorf("connio: configure %s: %w", spec.Device, err)
	}
	if err := unix.IoctlSetTermios(fd, unix.TCSETS, &t); err != nil {
		unix.Close(fd)
		return nil, nil, fmt.Errorf("connio: set termios for %s: %w", spec.Device, err)
	}

	specCopy := spec
	specCopy.SavedTermios = *saved
	obj := object.New(name, object.Serial, ringSize)
	obj.FD = fd
	obj.Aux = &specCopy

	return obj, &serialHandle{fd: fd, saved: *saved}, nil
}

// serialHandle restores the line's original termios before closing the
// fd, undoing OpenSerial's raw-mode configuration.
type serialHandle struct {
	fd    int
	saved unix.Termios
}

func (h *serialHandle) Close() error {
	_ = unix.IoctlSetTermios(h.fd, unix.TCSETS, &h.saved)
	return unix.Close(h.fd)
}

// applySerialSettings puts t into raw mode (no echo, no line editing, no
// signal generation, 8-bit clean) and then applies spec's baud, word
// size, parity and flow control on top.
func applySerialSettings(t *unix.Termios, spec object.SerialAux) error {
	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB | unix.PARODD | unix.CSTOPB | unix.CRTSCTS
	t.Cflag |= unix.CREAD | unix.CLOCAL
	t.Cc[unix.VMIN] = 1
	t.Cc[unix.VTIME] = 0

	baud, err := baudConst(nonZero(spec.Baud, 9600))
	if err != nil {
		return err
	}
	t.Cflag &^= unix.CBAUD
	t.Cflag |= baud
	t.Ispeed = baud
	t.Ospeed = baud

	bits, err := bitsConst(nonZero(spec.Bits, 8))
	if err != nil {
		return err
	}
	t.Cflag |= bits

	switch spec.Parity {
	case "", "N":
	case "E":
		t.Cflag |= unix.PARENB
	case "O":
		t.Cflag |= unix.PARENB | unix.PARODD
	default:
		return fmt.Errorf("unknown parity %q", spec.Parity)
	}

	switch spec.Flow {
	case "", "none":
	case "hardware":
		t.Cflag |= unix.CRTSCTS
	case "software":
		t.Iflag |= unix.IXON | unix.IXOFF
	default:
		return fmt.Errorf("unknown flow control %q", spec.Flow)
	}

	return nil
}

func baudConst(baud int) (uint32, error) {
	switch baud {
	case 50:
		return unix.B50, nil
	case 110:
		return unix.B110, nil
	case 300:
		return unix.B300, nil
	case 600:
		return unix.B600, nil
	case 1200:
		return unix.B1200, nil
	case 2400:
		return unix.B2400, nil
	case 4800:
		return unix.B4800, nil
	case 9600:
		return unix.B9600, nil
	case 19200:
		return unix.B19200, nil
	case 38400:
		return unix.B38400, nil
	case 57600:
		return unix.B57600, nil
	case 115200:
		return unix.B115200, nil
	case 230400:
		return unix.B230400, nil
	default:
		return 0, fmt.Errorf("unsupported baud rate %d", baud)
	}
}

func bitsConst(bits int) (uint32, error) {
	switch bits {
	case 5:
		return unix.CS5, nil
	case 6:
		return unix.CS6, nil
	case 7:
		return unix.CS7, nil
	case 8:
		return unix.CS8, nil
	default:
		return 0, fmt.Errorf("unsupported word size %d", bits)
	}
}

func nonZero(v, fallback int) int {
	if v == 0 {
		return fallback
	}
	return v
}
