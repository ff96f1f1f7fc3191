package aux

import (
	"testing"
	"time"

	"github.com/consolemux/consolemux/internal/object"
	"github.com/consolemux/consolemux/internal/tpoll"
)

func TestNextBoundaryAlignsToMultipleOfMinutes(t *testing.T) {
	loc := time.UTC
	now := time.Date(2026, 8, 1, 10, 7, 30, 0, loc)
	got := nextBoundary(now, 15)
	want := time.Date(2026, 8, 1, 10, 15, 0, 0, loc)
	if !got.Equal(want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestNextBoundaryAtExactBoundary(t *testing.T) {
	loc := time.UTC
	now := time.Date(2026, 8, 1, 10, 15, 0, 0, loc)
	got := nextBoundary(now, 15)
	want := time.Date(2026, 8, 1, 10, 30, 0, 0, loc)
	if !got.Equal(want) {
		t.Fatalf("got %v want %v (boundary instant should schedule the *next* one)", got, want)
	}
}

func TestTimestampScheduleAbsorbsDriftFromIntendedDeadline(t *testing.T) {
	s := &TimestampScheduler{
		minutes: 15,
		poll:    tpoll.New(),
		objects: func() []*object.Object { return nil },
	}
	s.lastDeadline = time.Date(2026, 8, 1, 10, 15, 0, 0, time.UTC)

	// fire() runs well after the intended deadline; the next deadline must
	// still be computed from the intended one, not from "now".
	s.fire(nil)

	want := time.Date(2026, 8, 1, 10, 30, 0, 0, time.UTC)
	if !s.lastDeadline.Equal(want) {
		t.Fatalf("got %v want %v", s.lastDeadline, want)
	}
}
