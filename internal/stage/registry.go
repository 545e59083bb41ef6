package stage

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/paper-theater/kamishibai/internal/events"
)

// Hello is a display's announcement on the hello topic.
type Hello struct {
	Version      int      `json:"version"`
	DisplayID    string   `json:"display_id"`
	Caps         []string `json:"caps"`
	HeartbeatSec int      `json:"heartbeat_sec"`
}

// ParseHello parses a hello payload from JSON bytes.
func ParseHello(data []byte) (*Hello, error) {
	var h Hello
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("invalid hello JSON: %w", err)
	}

	if h.Version != 1 {
		return nil, fmt.Errorf("unsupported hello version: %d", h.Version)
	}

	if h.DisplayID == "" {
		return nil, fmt.Errorf("display_id is required")
	}

	return &h, nil
}

// heartbeat is the periodic keepalive payload.
type heartbeat struct {
	DisplayID string `json:"display_id"`
}

// DisplayState tracks a registered display's health.
type DisplayState struct {
	DisplayID    string
	Caps         []string
	HeartbeatSec int
	LastSeen     time.Time
	Connected    bool
}

// Registry tracks display registration and health.
type Registry struct {
	mu        sync.RWMutex
	displays  map[string]*DisplayState
	tolerance float64 // heartbeat intervals a display may miss before it counts as gone
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// NewRegistry creates a display registry. A display is marked disconnected
// after tolerance times its own heartbeat interval passes without a beat.
func NewRegistry(tolerance float64) *Registry {
	if tolerance <= 1.0 {
		tolerance = 2.0
	}
	return &Registry{
		displays:  make(map[string]*DisplayState),
		tolerance: tolerance,
		stopCh:    make(chan struct{}),
	}
}

// HandleHello registers or refreshes a display and emits display.connected.
func (r *Registry) HandleHello(h *Hello) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, known := r.displays[h.DisplayID]
	isReconnect := known && !existing.Connected

	hbSec := h.HeartbeatSec
	if hbSec <= 0 {
		hbSec = 5
	}

	r.displays[h.DisplayID] = &DisplayState{
		DisplayID:    h.DisplayID,
		Caps:         append([]string{}, h.Caps...),
		HeartbeatSec: hbSec,
		LastSeen:     time.Now(),
		Connected:    true,
	}

	events.Emit("info", "display.connected", "", map[string]interface{}{
		"display_id": h.DisplayID,
		"caps":       h.Caps,
		"reconnect":  isReconnect,
	})
}

// HandleHeartbeat refreshes a display's last-seen time. A heartbeat from a
// display that timed out revives it; one from an unknown display is ignored
// until it says hello.
func (r *Registry) HandleHeartbeat(displayID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.displays[displayID]
	if !ok {
		return
	}

	wasDisconnected := !state.Connected
	state.LastSeen = time.Now()
	state.Connected = true

	if wasDisconnected {
		events.Emit("info", "display.connected", "", map[string]interface{}{
			"display_id": displayID,
			"reconnect":  true,
		})
	}
}

// Start launches the timeout sweep on the given interval.
func (r *Registry) Start(checkInterval time.Duration) {
	r.wg.Add(1)
	go r.healthCheckLoop(checkInterval)
}

// Stop ends the sweep and waits for it to exit.
func (r *Registry) Stop() {
	close(r.stopCh)
	r.wg.Wait()
}

func (r *Registry) healthCheckLoop(interval time.Duration) {
	defer r.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.checkHealth()
		}
	}
}

func (r *Registry) checkHealth() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()

	for id, state := range r.displays {
		if !state.Connected {
			continue
		}

		timeout := time.Duration(float64(state.HeartbeatSec)*r.tolerance) * time.Second
		if now.Sub(state.LastSeen) > timeout {
			state.Connected = false

			events.Emit("warning", "display.disconnected", "heartbeat timeout", map[string]interface{}{
				"display_id":  id,
				"last_seen":   state.LastSeen.Format(time.RFC3339),
				"timeout_sec": timeout.Seconds(),
			})
		}
	}
}

// Get returns the state of a display, or nil if unknown.
func (r *Registry) Get(displayID string) *DisplayState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if state, ok := r.displays[displayID]; ok {
		cpy := *state
		cpy.Caps = append([]string{}, state.Caps...)
		return &cpy
	}
	return nil
}

// Connected returns a list of currently connected display IDs.
func (r *Registry) Connected() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []string
	for id, state := range r.displays {
		if state.Connected {
			ids = append(ids, id)
		}
	}
	return ids
}

// Count returns the number of connected displays.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, state := range r.displays {
		if state.Connected {
			n++
		}
	}
	return n
}

// Attach subscribes the registry to the hello and heartbeat topics on the
// given client. Malformed payloads are reported on the event feed and
// dropped.
func (r *Registry) Attach(client *Client) error {
	if err := client.Subscribe(HelloTopic, r.helloHandler()); err != nil {
		return err
	}
	return client.Subscribe(HeartbeatTopic, r.heartbeatHandler())
}

func (r *Registry) helloHandler() paho.MessageHandler {
	return func(_ paho.Client, msg paho.Message) {
		h, err := ParseHello(msg.Payload())
		if err != nil {
			events.Emit("error", "engine.error", "bad display hello", map[string]interface{}{
				"topic": msg.Topic(),
				"error": err.Error(),
			})
			return
		}
		r.HandleHello(h)
	}
}

func (r *Registry) heartbeatHandler() paho.MessageHandler {
	return func(_ paho.Client, msg paho.Message) {
		var hb heartbeat
		if err := json.Unmarshal(msg.Payload(), &hb); err != nil || hb.DisplayID == "" {
			return
		}
		r.HandleHeartbeat(hb.DisplayID)
	}
}
