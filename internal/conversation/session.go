// Package conversation runs the turn state machine: it holds the navigator,
// the two history tracks, and the undo surface, talks to the LLM boundaries,
// and converts every per-turn failure into a degraded reply instead of an
// error. One session is one conversation.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/paper-theater/kamishibai/internal/events"
	"github.com/paper-theater/kamishibai/internal/interpret"
	"github.com/paper-theater/kamishibai/internal/llm"
	"github.com/paper-theater/kamishibai/internal/metrics"
	"github.com/paper-theater/kamishibai/internal/mood"
	"github.com/paper-theater/kamishibai/internal/navigator"
	"github.com/paper-theater/kamishibai/internal/prompt"
	"github.com/paper-theater/kamishibai/internal/realtime"
	"github.com/paper-theater/kamishibai/internal/scenario"
)

// Phase is the turn state: after a start, transition, or undo the next turn
// delivers the destination page's opening line instead of invoking the LLM.
type Phase string

const (
	PhaseAwaitingOpening Phase = "awaiting_opening"
	PhaseNormal          Phase = "normal"
)

// ErrTurnInFlight rejects a second turn submitted before the first finishes.
var ErrTurnInFlight = errors.New("a turn is already in flight")

// ErrVoiceUnavailable rejects voice turns when no realtime dialer is wired.
var ErrVoiceUnavailable = errors.New("voice transport not configured")

// Turn is the outcome of one interaction: the reply and the render directive.
type Turn struct {
	ID           string `json:"id"`
	Text         string `json:"text"`
	Mood         string `json:"mood"`
	MoodImage    string `json:"mood_image,omitempty"`
	Background   string `json:"background,omitempty"`
	SceneID      string `json:"scene"`
	PageID       string `json:"page"`
	Transitioned bool   `json:"transitioned,omitempty"`
	Opening      bool   `json:"opening,omitempty"`
	Degraded     bool   `json:"degraded,omitempty"`
}

// Deps wires a session. Graph, Palette and Completer are required; Analyzer
// falls back to Completer, Dialer may be nil (voice disabled), Logger may be
// nil.
type Deps struct {
	Graph        *scenario.Graph
	Palette      *mood.Palette
	Completer    llm.Completer
	Analyzer     llm.Completer
	Dialer       realtime.Dialer
	BaseTemplate string
	VoicePersona string
	Logger       *zap.Logger
}

// Session owns one conversation: position, phase, histories, checkpoint.
type Session struct {
	ID string

	mu       sync.Mutex
	inFlight bool

	graph     *scenario.Graph
	nav       *navigator.Navigator
	palette   *mood.Palette
	completer llm.Completer
	analyzer  llm.Completer
	dialer    realtime.Dialer

	base         string
	voicePersona string
	history      *History
	phase        Phase

	log *zap.Logger
}

func New(deps Deps) *Session {
	palette := deps.Palette
	if palette == nil {
		palette = mood.New(deps.Graph.MoodImages)
	}
	analyzer := deps.Analyzer
	if analyzer == nil {
		analyzer = deps.Completer
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Session{
		ID:           uuid.NewString(),
		graph:        deps.Graph,
		nav:          navigator.New(deps.Graph, palette.DefaultMood()),
		palette:      palette,
		completer:    deps.Completer,
		analyzer:     analyzer,
		dialer:       deps.Dialer,
		base:         prompt.BuildBase(deps.BaseTemplate, deps.Graph.BasePrompt, palette.Guide()),
		voicePersona: deps.VoicePersona,
		history:      NewHistory(),
		phase:        "",
		log:          logger.With(zap.String("component", "conversation")),
	}
}

// begin claims the single turn slot; end releases it.
func (s *Session) begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight {
		return ErrTurnInFlight
	}
	s.inFlight = true
	return nil
}

func (s *Session) end() {
	s.mu.Lock()
	s.inFlight = false
	s.mu.Unlock()
}

// Start positions the session at the given scene's start page (empty means
// the scenario's configured start scene), clears both histories, and delivers
// the page's opening line as the first turn. The LLM is not involved.
func (s *Session) Start(ctx context.Context, sceneID string) (*Turn, error) {
	if err := s.begin(); err != nil {
		return nil, err
	}
	defer s.end()

	s.mu.Lock()
	defer s.mu.Unlock()

	view, err := s.nav.Start(sceneID)
	if err != nil {
		return nil, err
	}

	s.history.Reset()
	s.phase = PhaseAwaitingOpening

	events.Emit("info", "session.started", "session started", map[string]interface{}{
		"session_id": s.ID,
		"scene":      view.SceneID,
		"page":       view.PageID,
	})

	return s.deliverOpening(view, ""), nil
}

// deliverOpening emits the page's opening line as an assistant turn on both
// tracks and flips the phase to Normal. Callers hold s.mu. An empty opening
// falls back to the given text; when both are empty nothing is recorded but
// the phase still advances.
func (s *Session) deliverOpening(view navigator.PageView, fallback string) *Turn {
	text := view.OpeningMessage
	if text == "" {
		text = fallback
	}
	if text != "" {
		s.history.AppendAssistant(text, text)
	}
	s.phase = PhaseNormal

	openingMood := s.palette.Validate(view.Mood, nil)
	s.log.Info("opening delivered",
		zap.String("scene", view.SceneID),
		zap.String("page", view.PageID),
		zap.String("mood", openingMood))

	return &Turn{
		ID:         uuid.NewString(),
		Text:       text,
		Mood:       openingMood,
		MoodImage:  s.palette.ImageRef(openingMood),
		Background: view.Background,
		SceneID:    view.SceneID,
		PageID:     view.PageID,
		Opening:    true,
	}
}

// HandleText runs one text turn. In AwaitingOpening the user message is
// consumed by the page announcement and not recorded; otherwise the LLM is
// called with the model-context history and the reply drives mood and
// navigation. Transport failures degrade to a localized error reply and the
// troubled mood; the failed turn never touches position or histories.
func (s *Session) HandleText(ctx context.Context, userText string) (*Turn, error) {
	if err := s.begin(); err != nil {
		return nil, err
	}
	defer s.end()

	s.mu.Lock()
	view, err := s.nav.Current()
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}

	if s.phase == PhaseAwaitingOpening {
		turn := s.deliverOpening(view, "")
		s.mu.Unlock()
		return turn, nil
	}

	system := prompt.Compose(view, s.base)
	messages := make([]llm.Message, 0, s.history.Len()+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: system})
	messages = append(messages, s.history.ModelMessages()...)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: userText})
	s.mu.Unlock()

	events.Emit("info", "turn.started", "", map[string]interface{}{
		"session_id": s.ID,
		"mode":       "text",
		"scene":      view.SceneID,
		"page":       view.PageID,
	})
	metrics.TurnsTotal.WithLabelValues("text").Inc()

	raw, err := s.completer.Complete(ctx, messages)
	if err != nil {
		return s.failTurn(view, err), nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	reply := interpret.Parse(raw, s.palette.DefaultMood())
	if reply.Degraded {
		events.Emit("warning", "turn.degraded", "reply did not follow the envelope", map[string]interface{}{
			"session_id": s.ID,
			"scene":      view.SceneID,
			"page":       view.PageID,
		})
		metrics.TurnFailures.WithLabelValues("format").Inc()
	}
	s.history.AppendUser(userText)
	s.history.AppendAssistant(reply.Text, raw)

	destView, transitioned := s.applyTransition(view, reply.Transition)

	validated := s.palette.Validate(reply.Mood, destView.AllowedMoods)
	if validated != reply.Mood {
		events.Emit("info", "mood.coerced", "", map[string]interface{}{
			"requested": reply.Mood,
			"rendered":  validated,
			"page":      destView.PageID,
		})
		metrics.MoodsCoerced.Inc()
	}

	turn := &Turn{
		ID:           uuid.NewString(),
		Text:         reply.Text,
		Mood:         validated,
		MoodImage:    s.palette.ImageRef(validated),
		Background:   destView.Background,
		SceneID:      destView.SceneID,
		PageID:       destView.PageID,
		Transitioned: transitioned,
	}

	events.Emit("info", "turn.completed", "", map[string]interface{}{
		"session_id":   s.ID,
		"turn_id":      turn.ID,
		"mode":         "text",
		"scene":        turn.SceneID,
		"page":         turn.PageID,
		"mood":         turn.Mood,
		"transitioned": transitioned,
		"user":         userText,
		"assistant":    reply.Text,
	})

	return turn, nil
}

// failTurn converts a transport failure into the degraded reply: localized
// error text, troubled mood, state untouched.
func (s *Session) failTurn(view navigator.PageView, err error) *Turn {
	cause := err.Error()
	var te *llm.TransportError
	if errors.As(err, &te) {
		cause = te.Err.Error()
	}

	s.log.Error("turn failed", zap.Error(err),
		zap.String("scene", view.SceneID),
		zap.String("page", view.PageID))
	events.Emit("error", "turn.failed", cause, map[string]interface{}{
		"session_id": s.ID,
		"scene":      view.SceneID,
		"page":       view.PageID,
	})
	metrics.TurnFailures.WithLabelValues("transport").Inc()

	troubled := s.palette.TroubledMood()
	return &Turn{
		ID:         uuid.NewString(),
		Text:       fmt.Sprintf("エラーが発生しました: %s", cause),
		Mood:       troubled,
		MoodImage:  s.palette.ImageRef(troubled),
		Background: view.Background,
		SceneID:    view.SceneID,
		PageID:     view.PageID,
		Degraded:   true,
	}
}

// applyTransition resolves and applies a requested transition. Unresolvable
// or unknown targets are rejected without moving; a successful move arms the
// next opening. Callers hold s.mu.
func (s *Session) applyTransition(view navigator.PageView, target string) (navigator.PageView, bool) {
	if target == "" {
		return view, false
	}

	ref := s.nav.ResolveTarget(target)
	if ref == "" {
		s.log.Warn("transition rejected", zap.String("target", target), zap.String("reason", "unresolved"))
		events.Emit("warning", "transition.rejected", "target not resolvable", map[string]interface{}{
			"target": target,
			"scene":  view.SceneID,
			"page":   view.PageID,
		})
		metrics.TransitionsTotal.WithLabelValues("rejected").Inc()
		return view, false
	}

	next, err := s.nav.Apply(ref)
	if err != nil {
		s.log.Warn("transition rejected", zap.String("target", ref), zap.Error(err))
		events.Emit("warning", "transition.rejected", err.Error(), map[string]interface{}{
			"target": ref,
			"scene":  view.SceneID,
			"page":   view.PageID,
		})
		metrics.TransitionsTotal.WithLabelValues("rejected").Inc()
		return view, false
	}

	s.phase = PhaseAwaitingOpening
	s.log.Info("page transitioned",
		zap.String("from", view.Ref()),
		zap.String("to", next.Ref()))
	events.Emit("info", "page.transitioned", "", map[string]interface{}{
		"from": view.Ref(),
		"to":   next.Ref(),
	})
	metrics.TransitionsTotal.WithLabelValues("applied").Inc()
	return next, true
}

// MoveTo is the operator's direct navigation: resolve, apply, and deliver the
// destination's opening immediately. Unresolvable targets come back as
// UnknownTargetError, never a guess.
func (s *Session) MoveTo(ctx context.Context, rawTarget string) (*Turn, error) {
	if err := s.begin(); err != nil {
		return nil, err
	}
	defer s.end()

	s.mu.Lock()
	defer s.mu.Unlock()

	view, err := s.nav.Current()
	if err != nil {
		return nil, err
	}

	ref := s.nav.ResolveTarget(rawTarget)
	if ref == "" {
		events.Emit("warning", "transition.rejected", "operator target not found", map[string]interface{}{
			"target": rawTarget,
		})
		return nil, &navigator.UnknownTargetError{Target: rawTarget}
	}

	next, err := s.nav.Apply(ref)
	if err != nil {
		return nil, err
	}

	s.phase = PhaseAwaitingOpening
	events.Emit("info", "operator.move", "", map[string]interface{}{
		"from": view.Ref(),
		"to":   next.Ref(),
	})
	events.Emit("info", "page.transitioned", "", map[string]interface{}{
		"from": view.Ref(),
		"to":   next.Ref(),
	})
	metrics.TransitionsTotal.WithLabelValues("applied").Inc()

	fallback := fmt.Sprintf("移動しました: %s/%s", next.SceneID, next.PageID)
	turn := s.deliverOpening(next, fallback)
	turn.Transitioned = true
	return turn, nil
}

// Undo restores the single-level checkpoint and redelivers the restored
// page's opening. Returns (nil, false) when no checkpoint exists.
func (s *Session) Undo(ctx context.Context) (*Turn, bool) {
	if err := s.begin(); err != nil {
		return nil, false
	}
	defer s.end()

	s.mu.Lock()
	defer s.mu.Unlock()

	view, ok := s.nav.Undo()
	if !ok {
		return nil, false
	}

	s.phase = PhaseAwaitingOpening
	events.Emit("info", "session.undo", "", map[string]interface{}{
		"restored": view.Ref(),
	})
	metrics.UndoTotal.Inc()

	return s.deliverOpening(view, ""), true
}

// Reset returns the session to the pre-start condition: histories cleared,
// checkpoint gone, position unset. The next Start redelivers the first
// opening.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, started := s.nav.Position()

	s.history.Reset()
	s.nav.Reset()
	s.phase = ""

	fields := map[string]interface{}{"session_id": s.ID}
	if started {
		fields["scene"] = pos.SceneID
		fields["page"] = pos.PageID
	}
	events.Emit("info", "session.reset", "", fields)
	s.log.Info("session reset")
}

// Status is the session snapshot for the API status line.
type Status struct {
	SessionID    string `json:"session_id"`
	Started      bool   `json:"started"`
	SceneID      string `json:"scene,omitempty"`
	PageID       string `json:"page,omitempty"`
	Mood         string `json:"mood,omitempty"`
	Phase        Phase  `json:"phase,omitempty"`
	DisplayTurns int    `json:"display_turns"`
	ModelTurns   int    `json:"model_turns"`
	Voice        bool   `json:"voice_available"`
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		SessionID:    s.ID,
		Started:      s.nav.Started(),
		Phase:        s.phase,
		DisplayTurns: len(s.history.display),
		ModelTurns:   len(s.history.model),
		Voice:        s.dialer != nil,
	}
	view, err := s.nav.Current()
	if err != nil {
		return st
	}
	st.SceneID = view.SceneID
	st.PageID = view.PageID
	st.Mood = s.palette.Validate(view.Mood, nil)
	return st
}

// DisplayHistory returns a copy of the user-facing log.
func (s *Session) DisplayHistory() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.Display()
}

// ModelHistory returns a copy of the model-context log.
func (s *Session) ModelHistory() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.Model()
}

// CurrentView exposes the merged page view for display refreshes.
func (s *Session) CurrentView() (navigator.PageView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nav.Current()
}
