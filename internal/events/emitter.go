// Package events is the engine's event feed: validated, ring-buffered,
// fanned out to live subscribers, mirrored to the structured log, and
// optionally persisted. Turn and transition records ride this feed, so the
// archive doubles as the conversation transcript store.
package events

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

var recent = newFeedLog(1000)

// Store persists events. A nil store disables persistence.
type Store interface {
	Append(ts time.Time, level, name, msg string, fields map[string]interface{}) error
}

var (
	storeMu          sync.RWMutex
	store            Store
	storeErrorLogged bool

	logMu  sync.RWMutex
	logger = zap.NewNop()
)

// SetStore installs the persistence backend.
func SetStore(s Store) {
	storeMu.Lock()
	store = s
	storeErrorLogged = false
	storeMu.Unlock()
}

// SetLogger installs the zap logger events are mirrored to.
func SetLogger(l *zap.Logger) {
	logMu.Lock()
	logger = l
	logMu.Unlock()
}

// Event is one entry in the feed. The JSON shape is what /ws/events clients
// and the archive see.
type Event struct {
	Timestamp string                 `json:"ts"`
	Level     string                 `json:"level"`
	Name      string                 `json:"event"`
	Message   string                 `json:"msg,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// Emit records an event. Names must be registered (registry.go); an unknown
// name becomes an engine.error event instead, so typos surface in the feed
// rather than vanishing.
func Emit(level, name, msg string, fields map[string]interface{}) {
	ts := time.Now().UTC()

	if err := Validate(name); err != nil {
		bad := Event{
			Timestamp: ts.Format(time.RFC3339Nano),
			Level:     "error",
			Name:      "engine.error",
			Message:   err.Error(),
		}
		recent.append(bad)
		broadcast(bad)
		mirror(bad)
		return
	}

	e := Event{
		Timestamp: ts.Format(time.RFC3339Nano),
		Level:     level,
		Name:      name,
		Message:   msg,
		Fields:    fields,
	}

	recent.append(e)
	broadcast(e)
	mirror(e)
	persist(ts, e)
}

// persist appends to the store. A failing store is reported once via a
// direct buffer add, never through Emit, to avoid recursing while the store
// stays down.
func persist(ts time.Time, e Event) {
	storeMu.RLock()
	s := store
	errorLogged := storeErrorLogged
	storeMu.RUnlock()

	if s == nil {
		return
	}

	if err := s.Append(ts, e.Level, e.Name, e.Message, e.Fields); err != nil {
		if errorLogged {
			return
		}
		storeMu.Lock()
		alreadyLogged := storeErrorLogged
		storeErrorLogged = true
		storeMu.Unlock()
		if alreadyLogged {
			return
		}

		bad := Event{
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
			Level:     "error",
			Name:      "engine.error",
			Message:   "event store append failed",
			Fields:    map[string]interface{}{"error": err.Error()},
		}
		recent.append(bad)
		broadcast(bad)
		mirror(bad)
	}
}

func mirror(e Event) {
	logMu.RLock()
	l := logger
	logMu.RUnlock()

	f := []zap.Field{zap.String("event", e.Name)}
	if e.Fields != nil {
		f = append(f, zap.Any("fields", e.Fields))
	}
	switch e.Level {
	case "error":
		l.Error(e.Message, f...)
	case "warning":
		l.Warn(e.Message, f...)
	default:
		l.Info(e.Message, f...)
	}
}

// Snapshot returns the buffered events, oldest first.
func Snapshot() []Event {
	return recent.tail(0)
}

// Clear empties the recent-event log. Tests use it to start from silence.
func Clear() {
	recent.reset()
}
