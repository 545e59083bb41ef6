package conversation

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/paper-theater/kamishibai/internal/events"
	"github.com/paper-theater/kamishibai/internal/llm"
	"github.com/paper-theater/kamishibai/internal/metrics"
	"github.com/paper-theater/kamishibai/internal/navigator"
	"github.com/paper-theater/kamishibai/internal/prompt"
	"github.com/paper-theater/kamishibai/internal/realtime"
)

// VoiceResult is the post-audio outcome of a voice turn: transcripts plus
// the mood/navigation the analysis pass recovered.
type VoiceResult struct {
	UserTranscript      string `json:"user_transcript"`
	AssistantTranscript string `json:"assistant_transcript"`
	Mood                string `json:"mood"`
	MoodImage           string `json:"mood_image,omitempty"`
	Background          string `json:"background,omitempty"`
	SceneID             string `json:"scene"`
	PageID              string `json:"page"`
	Transitioned        bool   `json:"transitioned,omitempty"`
	Err                 error  `json:"-"`
}

// VoiceTurn exposes a voice turn's two outputs separately: the audio stream,
// forwarded chunk by chunk as it arrives, and a result delivered once after
// the stream closes.
type VoiceTurn struct {
	ID    string
	Audio <-chan realtime.Frame
	Done  <-chan VoiceResult
}

// HandleVoice runs one voice exchange. Input frames are read from in until
// it closes; output audio streams on the returned turn's Audio channel. The
// transcript analysis, history append, and transition application all happen
// after the audio drains and never delay it.
func (s *Session) HandleVoice(ctx context.Context, in <-chan realtime.Frame) (*VoiceTurn, error) {
	if s.dialer == nil {
		return nil, ErrVoiceUnavailable
	}
	if err := s.begin(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	view, err := s.nav.Current()
	if err != nil {
		s.mu.Unlock()
		s.end()
		return nil, err
	}
	instructions := prompt.ComposeVoice(view, s.voicePersona)
	s.mu.Unlock()

	ex, err := s.dialer.Dial(ctx, instructions)
	if err != nil {
		s.end()
		events.Emit("error", "turn.failed", err.Error(), map[string]interface{}{
			"session_id": s.ID,
			"mode":       "voice",
		})
		metrics.TurnFailures.WithLabelValues("voice_dial").Inc()
		return nil, &llm.TransportError{Err: err}
	}

	turnID := uuid.NewString()
	out := make(chan realtime.Frame, 32)
	done := make(chan VoiceResult, 1)

	events.Emit("info", "voice.turn_started", "", map[string]interface{}{
		"session_id": s.ID,
		"turn_id":    turnID,
		"scene":      view.SceneID,
		"page":       view.PageID,
	})
	metrics.TurnsTotal.WithLabelValues("voice").Inc()

	go s.runVoiceTurn(ctx, ex, view, in, out, done, turnID)

	return &VoiceTurn{ID: turnID, Audio: out, Done: done}, nil
}

func (s *Session) runVoiceTurn(ctx context.Context, ex realtime.Exchange, view navigator.PageView, in <-chan realtime.Frame, out chan realtime.Frame, done chan VoiceResult, turnID string) {
	var res VoiceResult

	// Deferred in this order so that by the time the result is delivered the
	// exchange is closed and the turn slot is free again.
	defer func() {
		done <- res
		close(done)
	}()
	defer s.end()
	defer ex.Close()

	g, gctx := errgroup.WithContext(ctx)

	// Forward caller frames into the exchange, commit when input ends.
	g.Go(func() error {
		for {
			select {
			case f, ok := <-in:
				if !ok {
					return ex.Commit()
				}
				if err := ex.SendAudio(f); err != nil {
					return err
				}
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	// Forward exchange audio to the caller in arrival order.
	g.Go(func() error {
		defer close(out)
		for f := range ex.Audio() {
			select {
			case out <- f:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	ferr := g.Wait()
	if ferr != nil {
		// Unblock the read loop so the result channel resolves.
		ex.Close()
	}
	exResult := <-ex.Result()

	transportErr := exResult.Err
	if transportErr == nil {
		transportErr = ferr
	}

	userT := exResult.UserTranscript
	assistantT := exResult.AssistantTranscript

	res = VoiceResult{
		UserTranscript:      userT,
		AssistantTranscript: assistantT,
		Mood:                s.palette.DefaultMood(),
		SceneID:             view.SceneID,
		PageID:              view.PageID,
		Background:          view.Background,
	}
	res.MoodImage = s.palette.ImageRef(res.Mood)

	if userT == "" && assistantT == "" {
		// No speech survived the exchange; nothing to record or analyze.
		if transportErr != nil {
			res.Err = &llm.TransportError{Err: transportErr}
			s.log.Error("voice turn failed", zap.Error(transportErr))
			events.Emit("error", "turn.failed", transportErr.Error(), map[string]interface{}{
				"session_id": s.ID,
				"turn_id":    turnID,
				"mode":       "voice",
			})
			metrics.TurnFailures.WithLabelValues("voice_transport").Inc()
		}
		return
	}

	moodName, transition, analyzed := analyzeTranscript(ctx, s.analyzer, view, userT, assistantT, s.palette.DefaultMood())
	if !analyzed {
		s.log.Warn("voice analysis degraded",
			zap.String("turn_id", turnID))
		events.Emit("warning", "voice.analysis_failed", "analysis degraded to defaults", map[string]interface{}{
			"session_id": s.ID,
			"turn_id":    turnID,
		})
		metrics.VoiceAnalysisFailures.Inc()
	}

	s.mu.Lock()
	if userT != "" {
		s.history.AppendUser(userT)
	}
	if assistantT != "" {
		// Voice has no envelope; both tracks get the plain transcript.
		s.history.AppendAssistant(assistantT, assistantT)
	}

	destView, transitioned := s.applyTransition(view, transition)

	validated := s.palette.Validate(moodName, destView.AllowedMoods)
	if validated != moodName {
		events.Emit("info", "mood.coerced", "", map[string]interface{}{
			"requested": moodName,
			"rendered":  validated,
			"page":      destView.PageID,
		})
		metrics.MoodsCoerced.Inc()
	}
	s.mu.Unlock()

	res.Mood = validated
	res.MoodImage = s.palette.ImageRef(validated)
	res.Background = destView.Background
	res.SceneID = destView.SceneID
	res.PageID = destView.PageID
	res.Transitioned = transitioned

	events.Emit("info", "voice.turn_completed", "", map[string]interface{}{
		"session_id":   s.ID,
		"turn_id":      turnID,
		"scene":        res.SceneID,
		"page":         res.PageID,
		"mood":         res.Mood,
		"transitioned": transitioned,
		"user":         userT,
		"assistant":    assistantT,
	})
}
