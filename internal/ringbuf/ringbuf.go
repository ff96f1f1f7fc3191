// Package ringbuf implements the fixed-size, wrap-around byte ring that
// backs every Buffered Object's input and output buffers.
//
// The required contract is more specific than a generic byte-stream ring:
// reads must be able to view the unread bytes contiguously without
// copying, the buffer must distinguish "empty" from "full" without wasting
// a byte on a sentinel write, and an overrun must silently evict the
// oldest unread bytes rather than block or error. Generic ring-buffer
// libraries such as github.com/smallnest/ringbuffer expose an
// io.Reader/io.Writer pair with no eviction policy and no contiguous
// zero-copy peek, so this type is hand-rolled; see DESIGN.md.
package ringbuf

// Buffer is a single-producer, single-consumer byte ring. It is not
// goroutine-safe: every Buffer is owned by exactly one Object and is only
// ever touched by the multiplexor loop thread.
type Buffer struct {
	data  []byte
	head  int // next byte to read
	count int // number of unread bytes; distinguishes empty (0) from full (len(data))

	overrunBurst bool // an overrun is already in progress this burst
}

// New allocates a ring of the given capacity. Capacity is configuration
// derived; low tens of KiB per object is a reasonable default.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = 32 * 1024
	}
	return &Buffer{data: make([]byte, capacity)}
}

// Len reports the number of unread bytes.
func (b *Buffer) Len() int { return b.count }

// Cap reports the ring's fixed capacity.
func (b *Buffer) Cap() int { return len(b.data) }

// Free reports the number of bytes that can be written before an overrun.
func (b *Buffer) Free() int { return len(b.data) - b.count }

// IsEmpty reports whether there are no unread bytes.
func (b *Buffer) IsEmpty() bool { return b.count == 0 }

// IsFull reports whether the ring has no room left.
func (b *Buffer) IsFull() bool { return b.count == len(b.data) }

// Enqueue appends p to the ring. Under the overrun policy, when p would
// not fit the oldest unread bytes are dropped to make room — console
// output must never be able to stall the daemon by going unread. It
// reports how many previously-buffered bytes were evicted to make room;
// callers use a non-zero return to drive the "log once per burst"
// suppression.
func (b *Buffer) Enqueue(p []byte) (evicted int) {
	if len(p) == 0 {
		return 0
	}
	cap := len(b.data)
	// A single enqueue larger than the whole ring only keeps its tail.
	if len(p) > cap {
		evicted += b.count
		p = p[len(p)-cap:]
		b.head, b.count = 0, 0
	}

	need := len(p) - b.Free()
	if need > 0 {
		b.advanceRead(need)
		evicted += need
	}

	writeAt := (b.head + b.count) % cap
	n := copy(b.data[writeAt:], p)
	if n < len(p) {
		copy(b.data, p[n:])
	}
	b.count += len(p)
	return evicted
}

// BeganOverrunBurst reports whether this call is the first overrun of a
// burst (evicted > 0 and the previous call did not evict), and records
// that the burst is now active. Callers log a warning only on the first
// call in a run of overruns, to suppress floods; once a tick passes with
// no eviction, the next overrun is treated as a new burst again.
func (b *Buffer) BeganOverrunBurst(evicted int) bool {
	if evicted == 0 {
		b.overrunBurst = false
		return false
	}
	if b.overrunBurst {
		return false
	}
	b.overrunBurst = true
	return true
}

func (b *Buffer) advanceRead(n int) {
	if n >= b.count {
		b.head = (b.head + b.count) % len(b.data)
		b.count = 0
		return
	}
	b.head = (b.head + n) % len(b.data)
	b.count -= n
}

// View returns the unread bytes as up to two slices: the first runs from
// the read cursor to either the end of the data or the end of the unread
// region, the second (possibly nil) holds any bytes that wrapped around to
// the start of the ring. Both slices alias the ring's storage; callers
// must not retain them across a call to Enqueue or Advance.
func (b *Buffer) View() (first, second []byte) {
	if b.count == 0 {
		return nil, nil
	}
	cap := len(b.data)
	if b.head+b.count <= cap {
		return b.data[b.head : b.head+b.count], nil
	}
	firstLen := cap - b.head
	return b.data[b.head:cap], b.data[:b.count-firstLen]
}

// Advance consumes n bytes from the front of the unread region, as read by
// a prior View(). n must not exceed Len().
func (b *Buffer) Advance(n int) {
	if n <= 0 {
		return
	}
	if n > b.count {
		n = b.count
	}
	b.advanceRead(n)
}

// Reset empties the buffer without reallocating its backing storage.
func (b *Buffer) Reset() {
	b.head, b.count, b.overrunBurst = 0, 0, false
}
