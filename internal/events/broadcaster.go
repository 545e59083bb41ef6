package events

import (
	"sync"

	"github.com/google/uuid"
)

// tapBuffer is how far a subscriber may lag before it starts losing events.
const tapBuffer = 64

// Subscription is a live tap on the event feed. Events arrive on C in emit
// order. Close detaches the tap and closes C.
type Subscription struct {
	ID string
	C  <-chan Event
}

var feed = struct {
	mu   sync.RWMutex
	taps map[string]chan Event
}{taps: make(map[string]chan Event)}

// Subscribe attaches a new tap to the feed.
func Subscribe() *Subscription {
	ch := make(chan Event, tapBuffer)
	id := uuid.NewString()

	feed.mu.Lock()
	feed.taps[id] = ch
	feed.mu.Unlock()

	return &Subscription{ID: id, C: ch}
}

// Close detaches the subscription and closes its channel. Calling it twice
// is harmless.
func (s *Subscription) Close() {
	feed.mu.Lock()
	ch, ok := feed.taps[s.ID]
	delete(feed.taps, s.ID)
	feed.mu.Unlock()

	if ok {
		close(ch)
	}
}

// CloseAllSubscribers detaches every tap. Called on shutdown so /ws/events
// handlers unblock.
func CloseAllSubscribers() {
	feed.mu.Lock()
	taps := feed.taps
	feed.taps = make(map[string]chan Event)
	feed.mu.Unlock()

	for _, ch := range taps {
		close(ch)
	}
}

// broadcast delivers e to every tap without blocking. A tap whose buffer is
// full misses the event.
func broadcast(e Event) {
	feed.mu.RLock()
	defer feed.mu.RUnlock()

	for _, ch := range feed.taps {
		select {
		case ch <- e:
		default:
		}
	}
}

// SubscriberCount reports how many taps are attached.
func SubscriberCount() int {
	feed.mu.RLock()
	defer feed.mu.RUnlock()
	return len(feed.taps)
}

// RecentEvents returns up to n of the latest events, oldest first. n <= 0
// returns the whole buffer.
func RecentEvents(n int) []Event {
	return recent.tail(n)
}
