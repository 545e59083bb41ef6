package events

import (
	"testing"
	"time"
)

func receiveOne(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case e := <-sub.C:
		return e
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for event")
		return Event{}
	}
}

func TestSubscriptionLifecycle(t *testing.T) {
	CloseAllSubscribers()

	sub1 := Subscribe()
	sub2 := Subscribe()
	if sub1.ID == sub2.ID {
		t.Error("expected distinct subscription IDs")
	}
	if n := SubscriberCount(); n != 2 {
		t.Errorf("expected 2 taps, got %d", n)
	}

	sub1.Close()
	if n := SubscriberCount(); n != 1 {
		t.Errorf("expected 1 tap after close, got %d", n)
	}

	// Closing twice must not panic or double-close.
	sub1.Close()

	sub2.Close()
	if n := SubscriberCount(); n != 0 {
		t.Errorf("expected 0 taps after all closed, got %d", n)
	}
}

func TestSubscriptionReceivesEmittedEvent(t *testing.T) {
	sub := Subscribe()
	defer sub.Close()

	Emit("info", "turn.started", "test", map[string]interface{}{"turn_id": "turn_1"})

	e := receiveOne(t, sub)
	if e.Name != "turn.started" {
		t.Errorf("expected event name 'turn.started', got '%s'", e.Name)
	}
	if e.Fields["turn_id"] != "turn_1" {
		t.Errorf("expected turn_id 'turn_1', got '%v'", e.Fields["turn_id"])
	}
}

func TestEveryTapSeesTheEvent(t *testing.T) {
	sub1 := Subscribe()
	sub2 := Subscribe()
	defer sub1.Close()
	defer sub2.Close()

	Emit("info", "page.transitioned", "", map[string]interface{}{"page_id": "driving"})

	for _, sub := range []*Subscription{sub1, sub2} {
		e := receiveOne(t, sub)
		if e.Name != "page.transitioned" {
			t.Errorf("expected 'page.transitioned', got '%s'", e.Name)
		}
	}
}

func TestCloseClosesChannel(t *testing.T) {
	sub := Subscribe()
	sub.Close()

	if _, ok := <-sub.C; ok {
		t.Error("expected channel to be closed after Close")
	}
}

func TestCloseAllSubscribersDetachesEveryTap(t *testing.T) {
	CloseAllSubscribers()

	subs := []*Subscription{Subscribe(), Subscribe(), Subscribe()}
	if n := SubscriberCount(); n != 3 {
		t.Fatalf("expected 3 taps, got %d", n)
	}

	CloseAllSubscribers()

	for i, sub := range subs {
		if _, ok := <-sub.C; ok {
			t.Errorf("tap %d: expected closed channel", i)
		}
	}
	if n := SubscriberCount(); n != 0 {
		t.Errorf("expected 0 taps after CloseAllSubscribers, got %d", n)
	}
}

func TestRecentEventsWindows(t *testing.T) {
	Clear()

	for i := 0; i < 10; i++ {
		Emit("info", "turn.completed", "", map[string]interface{}{"i": i})
	}

	recent := RecentEvents(5)
	if len(recent) != 5 {
		t.Fatalf("expected 5 recent events, got %d", len(recent))
	}
	// Last 5 of 10 starts at i=5.
	if recent[0].Fields["i"] != 5 {
		t.Errorf("expected window to start at i=5, got %v", recent[0].Fields["i"])
	}
	if recent[4].Fields["i"] != 9 {
		t.Errorf("expected window to end at i=9, got %v", recent[4].Fields["i"])
	}

	if got := RecentEvents(100); len(got) != 10 {
		t.Errorf("expected 10 events when asking for 100, got %d", len(got))
	}
	if got := RecentEvents(0); len(got) != 10 {
		t.Errorf("expected 0 to mean everything, got %d events", len(got))
	}
}
