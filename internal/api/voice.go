package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/paper-theater/kamishibai/internal/conversation"
	"github.com/paper-theater/kamishibai/internal/navigator"
	"github.com/paper-theater/kamishibai/internal/realtime"
	"github.com/paper-theater/kamishibai/internal/scenario"
	"github.com/paper-theater/kamishibai/internal/stage"
)

// Voice wire protocol on /ws/voice:
//
//	client -> server: binary PCM16 utterance frames (mono little-endian),
//	                  then {"type":"commit"} to end the utterance
//	server -> client: binary PCM16 reply audio as it streams, then
//	                  {"type":"turn_complete", ...} or {"type":"error", ...}
//
// One connection carries any number of turns in sequence. The client sample
// rate comes from the ?rate= query parameter; clients that omit it get the
// configured engine rate. Frames are resampled at this boundary in both
// directions.

const voiceInputBuffer = 32

// defaultClientRate applies to connections that omit ?rate=.
var defaultClientRate = realtime.EngineRate

// SetVoiceClientRate sets the sample rate assumed for voice clients that do
// not declare one. Rates below 1 are ignored.
func SetVoiceClientRate(rate int) {
	if rate > 0 {
		defaultClientRate = rate
	}
}

type voiceControl struct {
	Type string `json:"type"`
}

type voiceTurnComplete struct {
	Type                string `json:"type"`
	TurnID              string `json:"turn_id"`
	UserTranscript      string `json:"user_transcript"`
	AssistantTranscript string `json:"assistant_transcript"`
	Mood                string `json:"mood"`
	Image               string `json:"image,omitempty"`
	Background          string `json:"background,omitempty"`
	Scene               string `json:"scene"`
	Page                string `json:"page"`
	Transitioned        bool   `json:"transitioned,omitempty"`
}

type voiceErrorMsg struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

type wsInbound struct {
	kind int
	data []byte
}

// voiceReadPump feeds incoming WebSocket messages into inbox until the peer
// disconnects.
func voiceReadPump(conn *websocket.Conn, inbox chan<- wsInbound) {
	defer close(inbox)
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		inbox <- wsInbound{kind: kind, data: data}
	}
}

func wsVoiceHandler(w http.ResponseWriter, r *http.Request) {
	if session == nil {
		http.Error(w, "session not configured", http.StatusServiceUnavailable)
		return
	}

	clientRate := defaultClientRate
	if raw := r.URL.Query().Get("rate"); raw != "" {
		if rate, err := strconv.Atoi(raw); err == nil && rate > 0 {
			clientRate = rate
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("voice ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	inbox := make(chan wsInbound, 8)
	go voiceReadPump(conn, inbox)

	var (
		inboxCh   = inbox // nil once the peer disconnects
		turn      *conversation.VoiceTurn
		in        chan realtime.Frame
		audio     <-chan realtime.Frame
		done      <-chan conversation.VoiceResult
		sentAudio bool
		peerGone  bool
	)

	writeJSON := func(v interface{}) {
		if peerGone {
			return
		}
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(v); err != nil {
			peerGone = true
		}
	}
	writeFrame := func(f realtime.Frame) {
		if peerGone {
			return
		}
		out := realtime.Resample(f, clientRate)
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.BinaryMessage, realtime.EncodePCM16(out.Samples)); err != nil {
			peerGone = true
		}
	}

	for {
		select {
		case m, ok := <-inboxCh:
			if !ok {
				// Peer disconnected. Commit any open utterance so a running
				// turn can finish; bail out if none is running.
				inboxCh = nil
				peerGone = true
				if in != nil {
					close(in)
					in = nil
				}
				if turn == nil {
					return
				}
				continue
			}

			switch m.kind {
			case websocket.BinaryMessage:
				if turn == nil {
					in = make(chan realtime.Frame, voiceInputBuffer)
					t, err := session.HandleVoice(r.Context(), in)
					if err != nil {
						in = nil
						writeFrame(realtime.Silence(100))
						writeJSON(voiceErrorMsg{Type: "error", Error: voiceErrText(err)})
						if errors.Is(err, conversation.ErrVoiceUnavailable) {
							return
						}
						continue
					}
					turn = t
					audio = t.Audio
					done = t.Done
					sentAudio = false
				}
				if in == nil {
					// Frames after commit are dropped until the turn ends.
					continue
				}
				samples := realtime.DecodePCM16(m.data)
				if len(samples) > 0 {
					in <- realtime.Frame{Rate: clientRate, Samples: samples}
				}

			case websocket.TextMessage:
				var ctl voiceControl
				if err := json.Unmarshal(m.data, &ctl); err != nil {
					continue
				}
				if ctl.Type == "commit" && in != nil {
					close(in)
					in = nil
				}
			}

		case f, ok := <-audio:
			if !ok {
				audio = nil
				continue
			}
			writeFrame(f)
			sentAudio = true

		case res := <-done:
			// The audio channel is closed before the result is delivered;
			// drain whatever the client has not consumed yet.
			if audio != nil {
				for f := range audio {
					writeFrame(f)
					sentAudio = true
				}
			}
			// Every turn yields at least one frame; turns that produced no
			// speech pad with 100ms of silence.
			if !sentAudio {
				writeFrame(realtime.Silence(100))
			}
			turnID := turn.ID
			turn, audio, done = nil, nil, nil
			if in != nil {
				close(in)
				in = nil
			}

			if res.Err != nil {
				writeJSON(voiceErrorMsg{Type: "error", Error: res.Err.Error()})
			} else {
				publishVoiceResult(res)
				writeJSON(voiceTurnComplete{
					Type:                "turn_complete",
					TurnID:              turnID,
					UserTranscript:      res.UserTranscript,
					AssistantTranscript: res.AssistantTranscript,
					Mood:                res.Mood,
					Image:               scenario.ResolveAsset(scenario.AssetMount, res.MoodImage),
					Background:          scenario.ResolveAsset(scenario.AssetMount, res.Background),
					Scene:               res.SceneID,
					Page:                res.PageID,
					Transitioned:        res.Transitioned,
				})
			}

			if inboxCh == nil || peerGone {
				return
			}
		}
	}
}

// publishVoiceResult mirrors a completed voice turn to the stage display.
func publishVoiceResult(res conversation.VoiceResult) {
	if stagePub == nil {
		return
	}
	err := stagePub.ShowDirective(stage.Directive{
		Mood:       res.Mood,
		ImageRef:   res.MoodImage,
		Background: res.Background,
		Text:       res.AssistantTranscript,
		SceneID:    res.SceneID,
		PageID:     res.PageID,
	})
	if err != nil {
		logger.Warn("stage publish failed", zap.Error(err))
	}
}

func voiceErrText(err error) string {
	switch {
	case errors.Is(err, conversation.ErrVoiceUnavailable):
		return "voice transport not configured"
	case errors.Is(err, conversation.ErrTurnInFlight):
		return "a turn is already in flight"
	case errors.Is(err, navigator.ErrNotStarted):
		return "session not started"
	default:
		return err.Error()
	}
}
