package delivery

import (
	"sync"
	"time"
)

// history is a fixed-size ring of a tenant's most recent send times.
type history struct {
	mu   sync.Mutex
	buf  []time.Time
	next int
	full bool
}

func newHistory(size int) *history {
	if size <= 0 {
		size = 1
	}
	return &history{buf: make([]time.Time, size)}
}

func (h *history) Add(t time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.buf[h.next] = t
	h.next = (h.next + 1) % len(h.buf)
	if h.next == 0 {
		h.full = true
	}
}

// Snapshot returns the recorded times, oldest first.
func (h *history) Snapshot() []time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.full {
		return append([]time.Time(nil), h.buf[:h.next]...)
	}
	out := make([]time.Time, 0, len(h.buf))
	out = append(out, h.buf[h.next:]...)
	return append(out, h.buf[:h.next]...)
}

// Last returns the most recent send time, or the zero time.
func (h *history) Last() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.full && h.next == 0 {
		return time.Time{}
	}
	return h.buf[(h.next-1+len(h.buf))%len(h.buf)]
}
