package connio

import (
	"fmt"
	"net"
	"time"

	"github.com/cenkalti/backoff"
	"golang.org/x/sys/unix"

	"github.com/consolemux/consolemux/internal/object"
)

// Backoff wraps github.com/cenkalti/backoff to provide the bounded
// exponential reconnect schedule: 1s, 2s, 4s, 8s, ... capped at 60s,
// reset to the floor on every successful UP transition.
type Backoff struct {
	b *backoff.ExponentialBackOff
}

// NewBackoff builds the reconnect schedule.
func NewBackoff() *Backoff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 1 * time.Second
	b.Multiplier = 2
	b.MaxInterval = 60 * time.Second
	b.MaxElapsedTime = 0 // retry forever; the daemon decides when to give up, backoff never does
	b.RandomizationFactor = 0 // deterministic 1,2,4,8...60s schedule, no jitter
	b.Reset()
	return &Backoff{b: b}
}

// Next returns the next delay and advances the schedule.
func (bo *Backoff) Next() time.Duration { return bo.b.NextBackOff() }

// ResetFloor resets the schedule to its initial interval, called when a
// telnet object transitions PENDING -> UP.
func (bo *Backoff) ResetFloor() { bo.b.Reset() }

// BeginTelnetConnect opens a non-blocking socket and issues connect(2)
// toward host:port, returning immediately with the new fd. The caller
// registers the fd with tpoll for Readable|Writable; CheckConnect
// resolves the outcome once the fd signals either.
//
// A raw non-blocking socket is used instead of net.DialTimeout because
// the multiplexor loop must poll the connect across many ticks rather
// than block a goroutine on it.
func BeginTelnetConnect(host string, port int) (fd int, err error) {
	addrs, err := resolveIPv4(host)
	if err != nil {
		return -1, err
	}

	fd, err = unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("connio: socket: %w", err)
	}

	sa := &unix.SockaddrInet4{Port: port}
	copy(sa.Addr[:], addrs)

	err = unix.Connect(fd, sa)
	if err != nil && err != unix.EINPROGRESS {
		unix.Close(fd)
		return -1, fmt.Errorf("connio: connect %s:%d: %w", host, port, err)
	}
	return fd, nil
}

// CheckConnect inspects a PENDING telnet socket once it signals readable
// or writable: on success the caller transitions PENDING -> UP; on
// failure, to DOWN.
func CheckConnect(fd int) (ok bool, sockErr error) {
	errno, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return false, err
	}
	if errno != 0 {
		return false, unix.Errno(errno)
	}
	return true, nil
}

func resolveIPv4(host string) ([4]byte, error) {
	var out [4]byte
	ip := net.ParseIP(host)
	if ip == nil {
		ips, err := net.LookupIP(host)
		if err != nil {
			return out, fmt.Errorf("connio: resolve %s: %w", host, err)
		}
		ip = ips[0]
	}
	v4 := ip.To4()
	if v4 == nil {
		return out, fmt.Errorf("connio: %s has no IPv4 address", host)
	}
	copy(out[:], v4)
	return out, nil
}

// NewTelnetObject builds a Telnet object in the DOWN state, ready for the
// multiplexor loop's connector to dial it.
func NewTelnetObject(name, host string, port, ringSize int) *object.Object {
	obj := object.New(name, object.Telnet, ringSize)
	obj.Aux = &object.TelnetAux{
		Host:    host,
		Port:    port,
		State:   object.TelnetDown,
		Backoff: NewBackoff(),
	}
	return obj
}
