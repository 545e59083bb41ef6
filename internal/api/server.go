// Package api is the engine's HTTP/WS surface: the conversation endpoints,
// readiness and health probes, the operator console, the live event stream,
// and the Prometheus exposition.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/paper-theater/kamishibai/internal/conversation"
	"github.com/paper-theater/kamishibai/internal/events"
	"github.com/paper-theater/kamishibai/internal/metrics"
	"github.com/paper-theater/kamishibai/internal/navigator"
	"github.com/paper-theater/kamishibai/internal/scenario"
	"github.com/paper-theater/kamishibai/internal/stage"
	"github.com/paper-theater/kamishibai/internal/storage/postgres"
)

// EventArchive reads back persisted events for /events?source=archive.
// *postgres.Client satisfies it.
type EventArchive interface {
	Recent(limit int) ([]postgres.EventRow, error)
}

var (
	logger = zap.NewNop()

	session  *conversation.Session
	stagePub *stage.Publisher

	archiveMu sync.RWMutex
	archive   EventArchive

	identityMu    sync.RWMutex
	engineName    string
	scenarioTitle string
	assetDir      string
)

// SetLogger installs the zap logger the API logs through.
func SetLogger(l *zap.Logger) {
	logger = l.With(zap.String("component", "api"))
}

// SetSession wires the conversation session the endpoints drive.
func SetSession(s *conversation.Session) {
	session = s
}

// SetStagePublisher wires the display directive publisher. May be nil when
// MQTT is disabled; turns then render only in the HTTP responses.
func SetStagePublisher(p *stage.Publisher) {
	stagePub = p
}

// SetEventArchive wires the persisted event store behind
// /events?source=archive. May be nil when Postgres is disabled.
func SetEventArchive(a EventArchive) {
	archiveMu.Lock()
	archive = a
	archiveMu.Unlock()
}

// SetEngineIdentity records the engine name, scenario title, and asset
// directory reported by /status and served under /assets/.
func SetEngineIdentity(engine, scenario, assets string) {
	identityMu.Lock()
	engineName = engine
	scenarioTitle = scenario
	assetDir = assets
	identityMu.Unlock()
}

// GetEngineName returns the configured engine name.
func GetEngineName() string {
	identityMu.RLock()
	defer identityMu.RUnlock()
	return engineName
}

type HealthResponse struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Hostname  string `json:"hostname"`
	Timestamp string `json:"ts"`
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	host, _ := os.Hostname()
	resp := HealthResponse{
		Status:    "ok",
		Service:   "kamishibai",
		Hostname:  host,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// TurnResponse is the flat JSON a turn renders to: the reply line plus the
// render directive fields a display needs.
type TurnResponse struct {
	OK           bool   `json:"ok"`
	Error        string `json:"error,omitempty"`
	TurnID       string `json:"turn_id,omitempty"`
	Reply        string `json:"reply,omitempty"`
	Mood         string `json:"mood,omitempty"`
	Image        string `json:"image,omitempty"`
	Background   string `json:"background,omitempty"`
	Scene        string `json:"scene,omitempty"`
	Page         string `json:"page,omitempty"`
	Transitioned bool   `json:"transitioned,omitempty"`
	Opening      bool   `json:"opening,omitempty"`
	Degraded     bool   `json:"degraded,omitempty"`
}

func turnResponse(t *conversation.Turn) TurnResponse {
	return TurnResponse{
		OK:           true,
		TurnID:       t.ID,
		Reply:        t.Text,
		Mood:         t.Mood,
		Image:        scenario.ResolveAsset(scenario.AssetMount, t.MoodImage),
		Background:   scenario.ResolveAsset(scenario.AssetMount, t.Background),
		Scene:        t.SceneID,
		Page:         t.PageID,
		Transitioned: t.Transitioned,
		Opening:      t.Opening,
		Degraded:     t.Degraded,
	}
}

type errorResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{OK: false, Error: msg})
}

// writeTurnError maps the session error taxonomy onto HTTP statuses.
func writeTurnError(w http.ResponseWriter, err error) {
	var unknown *navigator.UnknownTargetError
	var confErr *navigator.ConfigurationError
	switch {
	case errors.Is(err, navigator.ErrNotStarted):
		writeError(w, http.StatusConflict, "session not started")
	case errors.Is(err, conversation.ErrTurnInFlight):
		writeError(w, http.StatusConflict, "a turn is already in flight")
	case errors.As(err, &unknown):
		writeError(w, http.StatusNotFound, fmt.Sprintf("target not found: %s", unknown.Target))
	case errors.As(err, &confErr):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// publishTurn mirrors a turn to the stage display. Best-effort: a failed
// publish is logged and the HTTP response still carries the turn.
func publishTurn(t *conversation.Turn) {
	if stagePub == nil || t == nil {
		return
	}
	err := stagePub.ShowDirective(stage.Directive{
		Mood:       t.Mood,
		ImageRef:   t.MoodImage,
		Background: t.Background,
		Text:       t.Text,
		SceneID:    t.SceneID,
		PageID:     t.PageID,
	})
	if err != nil {
		logger.Warn("stage publish failed", zap.Error(err))
	}
}

type StatusResponse struct {
	OK           bool                `json:"ok"`
	Engine       string              `json:"engine,omitempty"`
	Scenario     string              `json:"scenario,omitempty"`
	AuthRequired bool                `json:"auth_required"`
	Session      conversation.Status `json:"session"`
}

func statusHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if session == nil {
		writeError(w, http.StatusServiceUnavailable, "session not configured")
		return
	}
	identityMu.RLock()
	resp := StatusResponse{
		OK:           true,
		Engine:       engineName,
		Scenario:     scenarioTitle,
		AuthRequired: IsAuthEnabled(),
		Session:      session.Status(),
	}
	identityMu.RUnlock()
	_ = json.NewEncoder(w).Encode(resp)
}

type StartRequest struct {
	SceneID string `json:"scene_id"`
}

func sessionStartHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if session == nil {
		writeError(w, http.StatusServiceUnavailable, "session not configured")
		return
	}

	var req StartRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}

	turn, err := session.Start(r.Context(), req.SceneID)
	if err != nil {
		writeTurnError(w, err)
		return
	}

	publishTurn(turn)
	_ = json.NewEncoder(w).Encode(turnResponse(turn))
}

type ChatRequest struct {
	Message string `json:"message"`
}

func chatHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if session == nil {
		writeError(w, http.StatusServiceUnavailable, "session not configured")
		return
	}

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message required")
		return
	}

	turn, err := session.HandleText(r.Context(), req.Message)
	if err != nil {
		writeTurnError(w, err)
		return
	}

	publishTurn(turn)
	_ = json.NewEncoder(w).Encode(turnResponse(turn))
}

type MoveRequest struct {
	Target string `json:"target"`
}

func moveHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if session == nil {
		writeError(w, http.StatusServiceUnavailable, "session not configured")
		return
	}

	var req MoveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Target == "" {
		writeError(w, http.StatusBadRequest, "target required")
		return
	}

	turn, err := session.MoveTo(r.Context(), req.Target)
	if err != nil {
		writeTurnError(w, err)
		return
	}

	publishTurn(turn)
	_ = json.NewEncoder(w).Encode(turnResponse(turn))
}

func undoHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if session == nil {
		writeError(w, http.StatusServiceUnavailable, "session not configured")
		return
	}

	turn, ok := session.Undo(r.Context())
	if !ok {
		writeError(w, http.StatusConflict, "nothing to undo")
		return
	}

	events.Emit("info", "operator.command", "undo", map[string]interface{}{
		"scene": turn.SceneID,
		"page":  turn.PageID,
	})
	publishTurn(turn)
	_ = json.NewEncoder(w).Encode(turnResponse(turn))
}

func resetHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if session == nil {
		writeError(w, http.StatusServiceUnavailable, "session not configured")
		return
	}

	session.Reset()
	events.Emit("info", "operator.command", "reset", nil)
	if stagePub != nil {
		if err := stagePub.Clear(); err != nil {
			logger.Warn("stage clear failed", zap.Error(err))
		}
	}
	_ = json.NewEncoder(w).Encode(errorResponse{OK: true})
}

type HistoryResponse struct {
	OK      bool                 `json:"ok"`
	Track   string               `json:"track"`
	Entries []conversation.Entry `json:"entries"`
}

func historyHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if session == nil {
		writeError(w, http.StatusServiceUnavailable, "session not configured")
		return
	}

	track := r.URL.Query().Get("track")
	if track == "" {
		track = "display"
	}

	var entries []conversation.Entry
	switch track {
	case "display":
		entries = session.DisplayHistory()
	case "model":
		entries = session.ModelHistory()
	default:
		writeError(w, http.StatusBadRequest, "track must be display or model")
		return
	}

	_ = json.NewEncoder(w).Encode(HistoryResponse{OK: true, Track: track, Entries: entries})
}

func eventsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	switch r.URL.Query().Get("source") {
	case "", "buffer":
	case "archive":
		archiveMu.RLock()
		a := archive
		archiveMu.RUnlock()
		if a == nil {
			writeError(w, http.StatusServiceUnavailable, "event archive not configured")
			return
		}
		rows, err := a.Recent(limit)
		if err != nil {
			logger.Error("archive read failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "archive read failed")
			return
		}
		_ = json.NewEncoder(w).Encode(rows)
		return
	default:
		writeError(w, http.StatusBadRequest, "source must be buffer or archive")
		return
	}

	if limit > 0 {
		_ = json.NewEncoder(w).Encode(events.RecentEvents(limit))
		return
	}
	_ = json.NewEncoder(w).Encode(events.Snapshot())
}

func buildMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/ready", readyHandler)
	mux.HandleFunc("/status", statusHandler)
	mux.HandleFunc("/session/start", sessionStartHandler)
	mux.HandleFunc("/chat", chatHandler)
	mux.HandleFunc("/move", RequireOperator(moveHandler))
	mux.HandleFunc("/undo", RequireOperator(undoHandler))
	mux.HandleFunc("/reset", RequireOperator(resetHandler))
	mux.HandleFunc("/history", historyHandler)
	mux.HandleFunc("/events", eventsHandler)
	mux.HandleFunc("/ws/events", wsEventsHandler)
	mux.HandleFunc("/ws/voice", wsVoiceHandler)
	mux.HandleFunc("/ui", uiHandler)
	mux.Handle("/metrics", metrics.Handler())

	identityMu.RLock()
	assets := assetDir
	identityMu.RUnlock()
	if assets != "" {
		mux.Handle("/assets/", http.StripPrefix("/assets/", http.FileServer(http.Dir(assets))))
	}

	return mux
}

func listen(srv *http.Server) error {
	if !IsTLSEnabled() {
		logger.Info("API listening", zap.String("addr", srv.Addr))
		return srv.ListenAndServe()
	}

	cfg := ServerTLSConfig()
	if cfg == nil {
		return errors.New("api: TLS configured but certificate failed to load")
	}
	srv.TLSConfig = cfg
	logger.Info("API listening", zap.String("addr", srv.Addr), zap.Bool("tls", true))
	return srv.ListenAndServeTLS("", "")
}

// Serve runs the API server until ctx is canceled, then drains in-flight
// requests before returning. TLS is used when configured via InitTLS.
func Serve(ctx context.Context, port int) error {
	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: buildMux()}

	errCh := make(chan error, 1)
	go func() { errCh <- listen(srv) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
