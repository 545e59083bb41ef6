package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
)

// readinessState tracks the dependencies the /ready endpoint reports on.
// The orchestrator check covers the conversation session: it is ready once a
// scenario is loaded and the session is wired. MQTT and Postgres can be
// marked optional, in which case an outage reports "unavailable" without
// failing readiness.
type readinessState struct {
	mu                sync.RWMutex
	orchestratorReady bool
	mqttConnected     bool
	mqttOptional      bool
	postgresConnected bool
	postgresOptional  bool
}

var readiness = &readinessState{}

// Check is one dependency's readiness status: "ok", "not_ready", or
// "unavailable" (optional dependency down).
type Check struct {
	Status   string `json:"status"`
	Optional bool   `json:"optional,omitempty"`
}

// ReadinessResponse is the /ready payload.
type ReadinessResponse struct {
	Ready       bool             `json:"ready"`
	Checks      map[string]Check `json:"checks"`
	NotReadyMsg string           `json:"message,omitempty"`
}

// SetOrchestratorReady marks the conversation orchestrator as ready to serve.
func SetOrchestratorReady(ready bool) {
	readiness.mu.Lock()
	readiness.orchestratorReady = ready
	readiness.mu.Unlock()
}

// SetMQTTState records broker connectivity. Optional means a down broker
// degrades the stage to log-only instead of failing readiness.
func SetMQTTState(connected, optional bool) {
	readiness.mu.Lock()
	readiness.mqttConnected = connected
	readiness.mqttOptional = optional
	readiness.mu.Unlock()
}

// SetPostgresState records archive connectivity.
func SetPostgresState(connected, optional bool) {
	readiness.mu.Lock()
	readiness.postgresConnected = connected
	readiness.postgresOptional = optional
	readiness.mu.Unlock()
}

// dependencyStates reports current broker and archive connectivity for the
// alert monitor.
func dependencyStates() (mqttConnected, postgresConnected bool) {
	readiness.mu.RLock()
	defer readiness.mu.RUnlock()
	return readiness.mqttConnected, readiness.postgresConnected
}

func readyHandler(w http.ResponseWriter, r *http.Request) {
	readiness.mu.RLock()
	orchestratorReady := readiness.orchestratorReady
	mqttConnected := readiness.mqttConnected
	mqttOptional := readiness.mqttOptional
	postgresConnected := readiness.postgresConnected
	postgresOptional := readiness.postgresOptional
	readiness.mu.RUnlock()

	checks := make(map[string]Check, 3)
	var reasons []string

	if orchestratorReady {
		checks["orchestrator"] = Check{Status: "ok"}
	} else {
		checks["orchestrator"] = Check{Status: "not_ready"}
		reasons = append(reasons, "orchestrator not ready")
	}

	checks["mqtt"] = dependencyCheck(mqttConnected, mqttOptional)
	if !mqttConnected && !mqttOptional {
		reasons = append(reasons, "mqtt not connected")
	}

	checks["postgres"] = dependencyCheck(postgresConnected, postgresOptional)
	if !postgresConnected && !postgresOptional {
		reasons = append(reasons, "postgres not connected")
	}

	resp := ReadinessResponse{
		Ready:  len(reasons) == 0,
		Checks: checks,
	}
	if !resp.Ready {
		resp.NotReadyMsg = strings.Join(reasons, "; ")
	}

	w.Header().Set("Content-Type", "application/json")
	if !resp.Ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// dependencyCheck maps a connection flag onto a check status. Optional
// dependencies report "unavailable" rather than "not_ready" when down.
func dependencyCheck(connected, optional bool) Check {
	switch {
	case connected:
		return Check{Status: "ok", Optional: optional}
	case optional:
		return Check{Status: "unavailable", Optional: true}
	default:
		return Check{Status: "not_ready"}
	}
}
