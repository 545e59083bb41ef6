package events

import "sync"

// feedLog holds the most recent events in arrival order. Appending past the
// capacity evicts from the front, so a snapshot is always oldest first.
type feedLog struct {
	mu  sync.RWMutex
	cap int
	buf []Event
}

func newFeedLog(capacity int) *feedLog {
	if capacity < 1 {
		capacity = 1
	}
	return &feedLog{cap: capacity}
}

func (l *feedLog) append(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.buf = append(l.buf, e)
	if over := len(l.buf) - l.cap; over > 0 {
		l.buf = append(l.buf[:0], l.buf[over:]...)
	}
}

// tail copies out the last n events, oldest first. n <= 0 or n larger than
// the log returns everything.
func (l *feedLog) tail(n int) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if n <= 0 || n > len(l.buf) {
		n = len(l.buf)
	}
	out := make([]Event, n)
	copy(out, l.buf[len(l.buf)-n:])
	return out
}

func (l *feedLog) size() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.buf)
}

func (l *feedLog) reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf = nil
}
