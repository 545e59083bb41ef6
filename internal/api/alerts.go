package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/paper-theater/kamishibai/internal/events"
)

// Alert severity levels.
const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
	SeverityInfo     = "info"
)

// Alert event types.
const (
	AlertMQTTDisconnected    = "mqtt_disconnected"
	AlertPostgresUnavailable = "postgres_unavailable"
	AlertLLMFailureStreak    = "llm_failure_streak"
)

// AlertPayload is the JSON body posted to the webhook.
type AlertPayload struct {
	Engine    string                 `json:"engine"`
	Event     string                 `json:"event"`
	Timestamp string                 `json:"timestamp"`
	Severity  string                 `json:"severity"`
	Message   string                 `json:"message,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// outageTracker debounces a binary up/down signal. An alert fires once the
// signal has been down for the grace period; the first up after an alert
// reports a recovery.
type outageTracker struct {
	grace     time.Duration
	downSince time.Time
	wasUp     bool
	alerted   bool
}

func newOutageTracker(grace time.Duration) *outageTracker {
	return &outageTracker{grace: grace, wasUp: true}
}

// observe feeds the current state. alert is true when the outage just
// crossed the grace period, recovered when the signal came back after an
// alert had fired.
func (o *outageTracker) observe(now time.Time, up bool) (alert, recovered bool) {
	if up {
		recovered = !o.wasUp && o.alerted
		o.downSince = time.Time{}
		o.alerted = false
		o.wasUp = true
		return false, recovered
	}

	if o.wasUp {
		o.downSince = now
	}
	o.wasUp = false

	if !o.alerted && !o.downSince.IsZero() && now.Sub(o.downSince) >= o.grace {
		o.alerted = true
		return true, false
	}
	return false, false
}

// downFor reports how long the signal has been down.
func (o *outageTracker) downFor(now time.Time) time.Duration {
	if o.downSince.IsZero() {
		return 0
	}
	return now.Sub(o.downSince)
}

// alertMonitor watches broker and archive connectivity plus the turn failure
// streak, and posts webhook notifications for sustained problems.
type alertMonitor struct {
	mu         sync.Mutex
	webhookURL string
	broker     *outageTracker
	archive    *outageTracker
	streakMax  int
	streak     int
	streakSent bool
	ready      bool
}

var alerts = &alertMonitor{}

// InitAlerts configures the webhook and thresholds from the environment.
func InitAlerts() {
	alerts.mu.Lock()
	defer alerts.mu.Unlock()

	alerts.webhookURL = os.Getenv("KAMISHIBAI_ALERT_WEBHOOK_URL")
	alerts.broker = newOutageTracker(envDuration("KAMISHIBAI_MQTT_ALERT_DELAY", 30*time.Second))
	alerts.archive = newOutageTracker(envDuration("KAMISHIBAI_POSTGRES_ALERT_DELAY", 5*time.Second))
	alerts.streakMax = envCount("KAMISHIBAI_LLM_ALERT_STREAK", 3)
	alerts.streak = 0
	alerts.streakSent = false
	alerts.ready = true

	if alerts.webhookURL != "" {
		logger.Info("alerts enabled",
			zap.Duration("mqtt_delay", alerts.broker.grace),
			zap.Duration("pg_delay", alerts.archive.grace),
			zap.Int("llm_streak", alerts.streakMax))
	}
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if raw := os.Getenv(key); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil {
			return d
		}
	}
	return fallback
}

func envCount(key string, fallback int) int {
	if raw := os.Getenv(key); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

// SendAlert posts an alert to the configured webhook, asynchronously. With
// no webhook configured the alert lands in the log instead.
func SendAlert(event, severity, message string, details map[string]interface{}) {
	alerts.mu.Lock()
	url := alerts.webhookURL
	alerts.mu.Unlock()

	if url == "" {
		logger.Warn("alert",
			zap.String("alert_event", event),
			zap.String("severity", severity),
			zap.String("message", message),
			zap.Any("details", details))
		return
	}

	engine := GetEngineName()
	if engine == "" {
		engine = "unknown"
	}

	payload := AlertPayload{
		Engine:    engine,
		Event:     event,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Severity:  severity,
		Message:   message,
		Details:   details,
	}
	go postAlert(url, payload)
}

func postAlert(url string, payload AlertPayload) {
	body, err := json.Marshal(payload)
	if err != nil {
		logger.Error("alert: marshal payload", zap.Error(err))
		return
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		logger.Warn("alert: webhook POST failed", zap.Error(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		logger.Warn("alert: webhook returned error status", zap.Int("status", resp.StatusCode))
	}
}

// checkBroker feeds broker connectivity through its outage tracker.
func (m *alertMonitor) checkBroker(connected bool) {
	m.mu.Lock()
	if !m.ready {
		m.mu.Unlock()
		return
	}
	now := time.Now()
	alert, recovered := m.broker.observe(now, connected)
	since := m.broker.downSince
	down := m.broker.downFor(now)
	m.mu.Unlock()

	switch {
	case alert:
		SendAlert(AlertMQTTDisconnected, SeverityWarning, "MQTT broker disconnected",
			map[string]interface{}{
				"disconnected_since":   since.UTC().Format(time.RFC3339),
				"disconnected_seconds": int(down.Seconds()),
			})
	case recovered:
		SendAlert(AlertMQTTDisconnected, SeverityInfo, "MQTT connection restored",
			map[string]interface{}{"recovered_at": now.UTC().Format(time.RFC3339)})
	}
}

// checkArchive feeds archive connectivity through its outage tracker.
func (m *alertMonitor) checkArchive(connected bool) {
	m.mu.Lock()
	if !m.ready {
		m.mu.Unlock()
		return
	}
	now := time.Now()
	alert, recovered := m.archive.observe(now, connected)
	since := m.archive.downSince
	down := m.archive.downFor(now)
	m.mu.Unlock()

	switch {
	case alert:
		SendAlert(AlertPostgresUnavailable, SeverityCritical, "PostgreSQL unavailable",
			map[string]interface{}{
				"disconnected_since":   since.UTC().Format(time.RFC3339),
				"disconnected_seconds": int(down.Seconds()),
			})
	case recovered:
		SendAlert(AlertPostgresUnavailable, SeverityInfo, "PostgreSQL connection restored",
			map[string]interface{}{"recovered_at": now.UTC().Format(time.RFC3339)})
	}
}

// recordTurnOutcome counts consecutive failed turns. Crossing the configured
// streak fires a warning; the first success afterwards sends a recovery
// notice.
func (m *alertMonitor) recordTurnOutcome(failed bool) {
	m.mu.Lock()
	if !m.ready {
		m.mu.Unlock()
		return
	}

	var fire, recovered bool
	var streak int
	if failed {
		m.streak++
		if !m.streakSent && m.streak >= m.streakMax {
			m.streakSent = true
			fire = true
			streak = m.streak
		}
	} else {
		recovered = m.streakSent
		m.streak = 0
		m.streakSent = false
	}
	m.mu.Unlock()

	if fire {
		SendAlert(AlertLLMFailureStreak, SeverityWarning, "consecutive LLM turn failures",
			map[string]interface{}{"streak": streak})
	}
	if recovered {
		SendAlert(AlertLLMFailureStreak, SeverityInfo, "LLM turns recovered",
			map[string]interface{}{"recovered_at": time.Now().UTC().Format(time.RFC3339)})
	}
}

// watchTurnOutcomes follows the event feed and maps turn results onto the
// failure streak.
func (m *alertMonitor) watchTurnOutcomes() {
	sub := events.Subscribe()
	defer sub.Close()
	for e := range sub.C {
		switch e.Name {
		case "turn.failed":
			m.recordTurnOutcome(true)
		case "turn.completed", "voice.turn_completed":
			m.recordTurnOutcome(false)
		}
	}
}

// StartAlertMonitor launches the background watchers: a ticker for broker
// and archive connectivity and a feed tap for turn outcomes.
func StartAlertMonitor(checkInterval time.Duration) {
	go alerts.watchTurnOutcomes()
	go func() {
		ticker := time.NewTicker(checkInterval)
		defer ticker.Stop()

		for range ticker.C {
			mqttUp, postgresUp := dependencyStates()
			alerts.checkBroker(mqttUp)
			alerts.checkArchive(postgresUp)
		}
	}()
}
