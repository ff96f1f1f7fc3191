// Package aux implements the auxiliary actions: the timestamp scheduler
// and the reset-command subprocess supervisor.
package aux

import (
	"fmt"
	"time"

	"github.com/consolemux/consolemux/internal/object"
	"github.com/consolemux/consolemux/internal/tpoll"
)

// longTimeFormat renders the long-form time string used in the
// timestamp line, e.g. "Sat Aug  1 09:15:00 2026".
const longTimeFormat = "Mon Jan _2 15:04:05 2006"

// TimestampScheduler enqueues a timestamp line into every logfile
// object's output buffer every m minutes, on wall-clock boundaries: the
// k-th timestamp fires at start-of-day + k*m minutes, within one tick,
// regardless of any drift in how the previous timer actually fired.
type TimestampScheduler struct {
	minutes        int
	prefix, suffix string
	poll           *tpoll.Poll

	// objects is re-queried on every fire rather than captured once, so
	// consoles added or removed between fires are picked up.
	objects func() []*object.Object

	lastDeadline time.Time
}

// NewTimestampScheduler constructs a scheduler for the given cadence. A
// minutes value <= 0 means the feature is disabled.
func NewTimestampScheduler(minutes int, prefix, suffix string, poll *tpoll.Poll) *TimestampScheduler {
	return &TimestampScheduler{minutes: minutes, prefix: prefix, suffix: suffix, poll: poll}
}

// Start arms the first deadline: the next wall-clock instant that is a
// multiple of m minutes past local midnight. No-op if disabled.
func (s *TimestampScheduler) Start(objects func() []*object.Object) {
	if s.minutes <= 0 {
		return
	}
	s.objects = objects
	now := time.Now()
	s.lastDeadline = nextBoundary(now, s.minutes)
	s.poll.TimerAbsolute(s.lastDeadline, s.fire, nil)
}

// nextBoundary returns the first instant strictly after now that is a
// multiple of m minutes past local midnight (now itself, if on a
// boundary, yields the following one).
func nextBoundary(now time.Time, m int) time.Time {
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	elapsed := now.Sub(midnight)
	step := time.Duration(m) * time.Minute
	n := elapsed / step
	next := midnight.Add((n + 1) * step)
	return next
}

func (s *TimestampScheduler) fire(_ any) {
	now := time.Now()
	line := fmt.Sprintf("%sConsole [%%s] log at %s%s\r\n", s.prefix, now.Format(longTimeFormat), s.suffix)

	for _, o := range s.objects() {
		if o.Kind != object.Logfile {
			continue
		}
		aux, ok := o.Aux.(*object.LogfileAux)
		name := o.Name
		if ok && aux.Console != nil {
			name = aux.Console.Name
		}
		o.Out.Enqueue([]byte(fmt.Sprintf(line, name)))
	}

	// Schedule the next deadline from the *intended* previous deadline,
	// not from "now", so timer-dispatch jitter never accumulates.
	s.lastDeadline = s.lastDeadline.Add(time.Duration(s.minutes) * time.Minute)
	s.poll.TimerAbsolute(s.lastDeadline, s.fire, nil)
}
