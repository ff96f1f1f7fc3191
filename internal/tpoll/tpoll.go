// Package tpoll implements the unified readiness-and-timer service: one
// poll(2) wait per multiplexor tick drives both fd readiness and
// one-shot timer callbacks, so reconnect back-off, timestamp scheduling
// and reset-command watchdogs need no separate goroutine or ticker.
//
// The core loop shape builds an interest set fresh each tick, waits,
// then dispatches: a timeout min-heap (container/heap) driving one-shot
// callbacks alongside fd readiness. This package uses poll(2) via
// golang.org/x/sys/unix rather than epoll, because the required
// contract — zero the interest set, then set(fd, events) for every
// object, then wait — is the build-fresh-each-tick shape of poll(2),
// not epoll's persistent add/mod/delete interest set, which fits a
// different usage pattern: a long-lived, rarely-changing connection set
// rather than a small, frequently rebuilt object list.
package tpoll

import (
	"container/heap"
	"errors"
	"time"

	"golang.org/x/sys/unix"
)

// Events is a bitmask of readiness conditions.
type Events uint32

const (
	Readable Events = 1 << iota
	Writable
	errorOrHangup // internal: POLLERR|POLLHUP|POLLNVAL observed on last wait
)

// ErrInterrupted is returned by Wait when the underlying poll(2) call was
// interrupted by a signal; the caller treats that as "re-check control
// flags and retry".
var ErrInterrupted = errors.New("tpoll: wait interrupted")

// Poll is the unified readiness-and-timer service. It is not safe for
// concurrent use; it is confined to the single loop thread.
type Poll struct {
	fds   []unix.PollFd
	index map[int]int // fd -> index into fds, valid only until the next ZeroFDs

	timers      timerHeap
	timerByID   map[TimerID]*timerEntry
	nextTimerID TimerID
	seq         uint64
}

// New constructs an empty Poll.
func New() *Poll {
	return &Poll{
		index:     make(map[int]int),
		timerByID: make(map[TimerID]*timerEntry),
	}
}

// ZeroFDs clears all fd interest for the coming tick. Timers are untouched.
func (p *Poll) ZeroFDs() {
	p.fds = p.fds[:0]
	for k := range p.index {
		delete(p.index, k)
	}
}

// Set unions ev into the interest set for fd.
func (p *Poll) Set(fd int, ev Events) {
	want := toPollEvents(ev)
	if idx, ok := p.index[fd]; ok {
		p.fds[idx].Events |= want
		return
	}
	p.index[fd] = len(p.fds)
	p.fds = append(p.fds, unix.PollFd{Fd: int32(fd), Events: want})
}

// IsSet reports whether any of the given event bits fired for fd on the
// last Wait. POLLERR/POLLHUP/POLLNVAL activity on fd is reported as true
// whichever bits are passed.
func (p *Poll) IsSet(fd int, ev Events) bool {
	idx, ok := p.index[fd]
	if !ok {
		return false
	}
	revents := p.fds[idx].Revents
	if revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
		return true
	}
	return revents&toPollEvents(ev) != 0
}

// IsErrorOrHangup reports whether fd signaled POLLERR, POLLHUP or
// POLLNVAL with no accompanying readable data on the last Wait — a hard
// error the engine treats as unrecoverable.
func (p *Poll) IsErrorOrHangup(fd int) bool {
	idx, ok := p.index[fd]
	if !ok {
		return false
	}
	revents := p.fds[idx].Revents
	return revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 && revents&unix.POLLIN == 0
}

// Wait blocks until any registered fd is ready, the next timer expires, or
// timeoutMS elapses, then reports the number of ready fds. The wait is
// shortened internally to the next timer deadline if that is sooner than
// timeoutMS.
func (p *Poll) Wait(timeoutMS int) (int, error) {
	effective := timeoutMS
	if p.timers.Len() > 0 {
		until := int(time.Until(p.timers[0].deadline) / time.Millisecond)
		if until < 0 {
			until = 0
		}
		if effective < 0 || until < effective {
			effective = until
		}
	}

	n, err := unix.Poll(p.fds, effective)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return 0, ErrInterrupted
		}
		return 0, err
	}
	return n, nil
}

// TimerAbsolute schedules callback(arg) to fire at deadline, invoked from
// the main loop after the fd-dispatch phase of the tick whose Wait
// returned after the deadline.
func (p *Poll) TimerAbsolute(deadline time.Time, callback func(arg any), arg any) TimerID {
	p.nextTimerID++
	p.seq++
	e := &timerEntry{
		id:       p.nextTimerID,
		deadline: deadline,
		seq:      p.seq,
		valid:    true,
		callback: callback,
		arg:      arg,
	}
	heap.Push(&p.timers, e)
	p.timerByID[e.id] = e
	return e.id
}

// TimerRelative schedules callback(arg) to fire delayMS from now.
func (p *Poll) TimerRelative(delayMS int, callback func(arg any), arg any) TimerID {
	return p.TimerAbsolute(time.Now().Add(time.Duration(delayMS)*time.Millisecond), callback, arg)
}

// TimerCancel best-effort cancels id. Cancellation races with firing are
// resolved by DispatchTimers checking the entry's validity bit.
func (p *Poll) TimerCancel(id TimerID) {
	if e, ok := p.timerByID[id]; ok {
		e.valid = false
		delete(p.timerByID, id)
	}
}

// DispatchTimers fires every timer whose deadline is not after now, in
// deadline order (ties broken by insertion order), removing it from the
// schedule whether or not it was still valid. Called once per tick, after
// fd-dispatch.
func (p *Poll) DispatchTimers(now time.Time) {
	for p.timers.Len() > 0 {
		e := p.timers[0]
		if now.Before(e.deadline) {
			return
		}
		heap.Pop(&p.timers)
		delete(p.timerByID, e.id)
		if e.valid {
			e.callback(e.arg)
		}
	}
}

// NextDeadline reports the earliest outstanding timer deadline, if any.
func (p *Poll) NextDeadline() (time.Time, bool) {
	if p.timers.Len() == 0 {
		return time.Time{}, false
	}
	return p.timers[0].deadline, true
}

func toPollEvents(ev Events) int16 {
	var out int16
	if ev&Readable != 0 {
		out |= unix.POLLIN
	}
	if ev&Writable != 0 {
		out |= unix.POLLOUT
	}
	return out
}
