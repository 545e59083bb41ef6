package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/paper-theater/kamishibai/internal/events"
)

// clearTLSEnv keeps stray cert env vars from leaking into these tests.
func clearTLSEnv(t *testing.T) {
	t.Setenv("KAMISHIBAI_TLS_CERT", "")
	t.Setenv("KAMISHIBAI_TLS_KEY", "")
	SetTLSFilesForTest("", "")
}

// dialEventsFeed spins up the /ws/events handler and connects a client to it.
func dialEventsFeed(t *testing.T) *websocket.Conn {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(wsEventsHandler))
	t.Cleanup(server.Close)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	return conn
}

// readEvent reads and decodes one event frame.
func readEvent(t *testing.T, conn *websocket.Conn) events.Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read event frame: %v", err)
	}
	var e events.Event
	if err := json.Unmarshal(msg, &e); err != nil {
		t.Fatalf("failed to unmarshal event: %v", err)
	}
	return e
}

// eventually retries cond every 25ms and fails the test if it never holds.
func eventually(t *testing.T, within time.Duration, desc string, cond func() bool) {
	t.Helper()
	tick := time.NewTicker(25 * time.Millisecond)
	defer tick.Stop()
	expire := time.After(within)
	for {
		if cond() {
			return
		}
		select {
		case <-expire:
			t.Errorf("gave up after %v: %s", within, desc)
			return
		case <-tick.C:
		}
	}
}

func TestEventsFeedReplaysRecentOnConnect(t *testing.T) {
	clearTLSEnv(t)
	events.Clear()

	for i := 0; i < 5; i++ {
		events.Emit("info", "turn.started", "", map[string]interface{}{"i": i})
	}

	conn := dialEventsFeed(t)
	defer conn.Close()

	for i := 0; i < 5; i++ {
		e := readEvent(t, conn)
		if e.Name != "turn.started" {
			t.Errorf("replay %d: expected 'turn.started', got '%s'", i, e.Name)
		}
	}
}

func TestEventsFeedDeliversLiveEvents(t *testing.T) {
	clearTLSEnv(t)
	events.Clear()

	conn := dialEventsFeed(t)
	defer conn.Close()

	go func() {
		time.Sleep(50 * time.Millisecond)
		events.Emit("info", "page.transitioned", "", map[string]interface{}{"to": "gas_station:refueling"})
	}()

	e := readEvent(t, conn)
	if e.Name != "page.transitioned" {
		t.Errorf("expected 'page.transitioned', got '%s'", e.Name)
	}
	if e.Fields["to"] != "gas_station:refueling" {
		t.Errorf("expected to 'gas_station:refueling', got '%v'", e.Fields["to"])
	}
}

func TestEventsFeedDetachesTapOnDisconnect(t *testing.T) {
	clearTLSEnv(t)
	events.Clear()
	events.CloseAllSubscribers()

	conn := dialEventsFeed(t)

	// Prove the tap is live before hanging up.
	go func() {
		time.Sleep(20 * time.Millisecond)
		events.Emit("info", "turn.started", "", map[string]interface{}{"test": "cleanup"})
	}()
	if e := readEvent(t, conn); e.Name != "turn.started" {
		t.Errorf("expected 'turn.started', got '%s'", e.Name)
	}

	conn.Close()

	// Keep emitting so the writer notices the dead socket.
	for i := 0; i < 5; i++ {
		events.Emit("info", "turn.started", "", nil)
		time.Sleep(50 * time.Millisecond)
	}

	eventually(t, 5*time.Second, "tap still registered after hangup", func() bool {
		return events.SubscriberCount() == 0
	})
}

func TestEventsFeedFansOutToAllClients(t *testing.T) {
	clearTLSEnv(t)
	events.Clear()

	conn1 := dialEventsFeed(t)
	defer conn1.Close()
	conn2 := dialEventsFeed(t)
	defer conn2.Close()

	go func() {
		time.Sleep(50 * time.Millisecond)
		events.Emit("info", "turn.completed", "", map[string]interface{}{"scene": "town_start"})
	}()

	for i, conn := range []*websocket.Conn{conn1, conn2} {
		e := readEvent(t, conn)
		if e.Name != "turn.completed" {
			t.Errorf("client %d: expected 'turn.completed', got '%s'", i+1, e.Name)
		}
	}
}
