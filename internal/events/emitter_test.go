package events

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestEmitBuffersEvent(t *testing.T) {
	Clear()

	Emit("info", "session.started", "session started", map[string]interface{}{"scene": "town_start"})

	snap := Snapshot()
	if len(snap) != 1 {
		t.Fatalf("expected 1 buffered event, got %d", len(snap))
	}
	e := snap[0]
	if e.Name != "session.started" {
		t.Errorf("expected name 'session.started', got '%s'", e.Name)
	}
	if e.Level != "info" {
		t.Errorf("expected level 'info', got '%s'", e.Level)
	}
	if e.Message != "session started" {
		t.Errorf("expected message 'session started', got '%s'", e.Message)
	}
	if _, err := time.Parse(time.RFC3339Nano, e.Timestamp); err != nil {
		t.Errorf("timestamp not RFC3339Nano: %v", err)
	}
}

func TestEmitUnknownNameBecomesEngineError(t *testing.T) {
	Clear()
	sub := Subscribe()
	defer sub.Close()

	Emit("info", "session.exploded", "", nil)

	e := receiveOne(t, sub)
	if e.Name != "engine.error" {
		t.Errorf("expected unknown name to surface as 'engine.error', got '%s'", e.Name)
	}
	if e.Level != "error" {
		t.Errorf("expected level 'error', got '%s'", e.Level)
	}

	snap := Snapshot()
	for _, e := range snap {
		if e.Name == "session.exploded" {
			t.Error("unregistered event name must never reach the buffer")
		}
	}
}

func TestValidateRegistry(t *testing.T) {
	known := []string{
		"session.started", "session.reset", "session.undo",
		"turn.started", "turn.completed", "turn.failed", "turn.degraded",
		"page.transitioned", "transition.rejected", "mood.coerced",
		"voice.turn_started", "voice.turn_completed", "voice.analysis_failed",
		"display.connected", "display.disconnected",
		"scenario.loaded", "engine.startup", "engine.shutdown", "engine.error",
		"operator.move", "operator.command",
	}
	for _, name := range known {
		if err := Validate(name); err != nil {
			t.Errorf("expected '%s' to be registered, got %v", name, err)
		}
	}
	if err := Validate("node.started"); err == nil {
		t.Error("expected 'node.started' to be rejected")
	}
}

type fakeStore struct {
	mu    sync.Mutex
	rows  []string
	fail  bool
	calls int
}

func (s *fakeStore) Append(ts time.Time, level, name, msg string, fields map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.fail {
		return errors.New("connection refused")
	}
	s.rows = append(s.rows, name)
	return nil
}

func TestEmitPersistsToStore(t *testing.T) {
	Clear()
	store := &fakeStore{}
	SetStore(store)
	defer SetStore(nil)

	Emit("info", "turn.completed", "", map[string]interface{}{"turn_id": "t1"})
	Emit("info", "turn.completed", "", map[string]interface{}{"turn_id": "t2"})

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.rows) != 2 {
		t.Fatalf("expected 2 persisted events, got %d", len(store.rows))
	}
	if store.rows[0] != "turn.completed" {
		t.Errorf("expected persisted name 'turn.completed', got '%s'", store.rows[0])
	}
}

func TestStoreFailureReportedOnce(t *testing.T) {
	Clear()
	store := &fakeStore{fail: true}
	SetStore(store)
	defer SetStore(nil)

	Emit("info", "turn.completed", "", nil)
	Emit("info", "turn.completed", "", nil)
	Emit("info", "turn.completed", "", nil)

	errorCount := 0
	for _, e := range Snapshot() {
		if e.Name == "engine.error" {
			errorCount++
		}
	}
	if errorCount != 1 {
		t.Errorf("expected store failure reported once, got %d engine.error events", errorCount)
	}
}

func TestFeedLogEviction(t *testing.T) {
	l := newFeedLog(3)
	for i := 0; i < 5; i++ {
		l.append(Event{Message: string(rune('a' + i))})
	}

	if l.size() != 3 {
		t.Fatalf("expected 3 buffered events, got %d", l.size())
	}
	snap := l.tail(0)
	if snap[0].Message != "c" || snap[2].Message != "e" {
		t.Errorf("expected oldest 'c' and newest 'e', got '%s' and '%s'", snap[0].Message, snap[2].Message)
	}

	l.reset()
	if l.size() != 0 {
		t.Errorf("expected empty log after reset, got %d", l.size())
	}
}
