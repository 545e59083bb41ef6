package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/paper-theater/kamishibai/internal/conversation"
	"github.com/paper-theater/kamishibai/internal/events"
	"github.com/paper-theater/kamishibai/internal/realtime"
	"github.com/paper-theater/kamishibai/internal/scenario"
)

// fakeExchange plays back a scripted reply. Input frames are recorded as the
// bridge delivered them, rate stamp included; Commit (or an early Close)
// releases the reply audio and then the transcripts, mirroring the real
// read loop's ordering.
type fakeExchange struct {
	mu       sync.Mutex
	received []realtime.Frame

	reply  []realtime.Frame
	res    realtime.Result
	audio  chan realtime.Frame
	result chan realtime.Result
	once   sync.Once
}

func newFakeExchange(reply []realtime.Frame, res realtime.Result) *fakeExchange {
	return &fakeExchange{
		reply:  reply,
		res:    res,
		audio:  make(chan realtime.Frame, len(reply)+1),
		result: make(chan realtime.Result, 1),
	}
}

func (f *fakeExchange) SendAudio(fr realtime.Frame) error {
	f.mu.Lock()
	f.received = append(f.received, fr)
	f.mu.Unlock()
	return nil
}

func (f *fakeExchange) Commit() error {
	f.finish()
	return nil
}

func (f *fakeExchange) Close() error {
	f.finish()
	return nil
}

func (f *fakeExchange) finish() {
	f.once.Do(func() {
		for _, fr := range f.reply {
			f.audio <- fr
		}
		close(f.audio)
		f.result <- f.res
		close(f.result)
	})
}

func (f *fakeExchange) Audio() <-chan realtime.Frame   { return f.audio }
func (f *fakeExchange) Result() <-chan realtime.Result { return f.result }

func (f *fakeExchange) inputFrames() []realtime.Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]realtime.Frame, len(f.received))
	copy(out, f.received)
	return out
}

// fakeDialer hands out scripted exchanges one per turn and remembers the
// session instructions each dial carried.
type fakeDialer struct {
	mu           sync.Mutex
	exchanges    []*fakeExchange
	instructions []string
}

func (d *fakeDialer) Dial(ctx context.Context, instructions string) (realtime.Exchange, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.instructions = append(d.instructions, instructions)
	if len(d.exchanges) == 0 {
		return nil, errors.New("no exchange scripted")
	}
	ex := d.exchanges[0]
	d.exchanges = d.exchanges[1:]
	return ex, nil
}

// setupVoiceSession wires a started session whose voice turns run against the
// given dialer. The analyzer replies come from analysisReplies in order.
func setupVoiceSession(t *testing.T, dialer realtime.Dialer, analysisReplies ...string) *conversation.Session {
	t.Helper()
	clearTLSEnvServer(t)
	events.Clear()

	graph, err := scenario.Parse([]byte(apiTestScenario))
	if err != nil {
		t.Fatalf("failed to parse test scenario: %v", err)
	}
	s := conversation.New(conversation.Deps{
		Graph:     graph,
		Completer: &scriptedCompleter{},
		Analyzer:  &scriptedCompleter{replies: analysisReplies},
		Dialer:    dialer,
	})
	if _, err := s.Start(context.Background(), ""); err != nil {
		t.Fatalf("failed to start session: %v", err)
	}

	auth = &operatorGate{}
	stagePub = nil
	SetSession(s)
	t.Cleanup(func() { session = nil })
	return s
}

// dialVoice spins up the /ws/voice handler and connects a client to it.
// query is appended verbatim, e.g. "?rate=8000".
func dialVoice(t *testing.T, query string) *websocket.Conn {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(wsVoiceHandler))
	t.Cleanup(server.Close)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + query
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	return conn
}

// speakAndCommit sends one utterance of silent samples and ends it.
func speakAndCommit(t *testing.T, conn *websocket.Conn, samples int) {
	t.Helper()
	buf := realtime.EncodePCM16(make([]int16, samples))
	if err := conn.WriteMessage(websocket.BinaryMessage, buf); err != nil {
		t.Fatalf("failed to send audio: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"commit"}`)); err != nil {
		t.Fatalf("failed to send commit: %v", err)
	}
}

// collectTurn drains reply audio until the turn_complete control arrives,
// returning the total audio byte count alongside it.
func collectTurn(t *testing.T, conn *websocket.Conn) (int, voiceTurnComplete) {
	t.Helper()
	audioBytes := 0
	for {
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		kind, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("failed to read voice frame: %v", err)
		}
		if kind == websocket.BinaryMessage {
			audioBytes += len(data)
			continue
		}
		var done voiceTurnComplete
		if err := json.Unmarshal(data, &done); err != nil {
			t.Fatalf("failed to unmarshal control message: %v", err)
		}
		if done.Type != "turn_complete" {
			t.Fatalf("expected turn_complete, got %s", string(data))
		}
		return audioBytes, done
	}
}

func TestVoiceTurnStreamsAudioAndCompletes(t *testing.T) {
	ex := newFakeExchange(
		[]realtime.Frame{{Rate: realtime.EngineRate, Samples: make([]int16, 480)}},
		realtime.Result{UserTranscript: "こんにちは", AssistantTranscript: "ようこそ、出発しましょう"},
	)
	dialer := &fakeDialer{exchanges: []*fakeExchange{ex}}
	setupVoiceSession(t, dialer, `{"mood": "運転", "transition": null}`)

	conn := dialVoice(t, "")
	defer conn.Close()

	speakAndCommit(t, conn, 320)
	audioBytes, done := collectTurn(t, conn)

	// 480 engine-rate samples reach a same-rate client untouched.
	if audioBytes != 960 {
		t.Errorf("expected 960 audio bytes, got %d", audioBytes)
	}
	if done.UserTranscript != "こんにちは" {
		t.Errorf("expected user transcript 'こんにちは', got '%s'", done.UserTranscript)
	}
	if done.AssistantTranscript != "ようこそ、出発しましょう" {
		t.Errorf("unexpected assistant transcript '%s'", done.AssistantTranscript)
	}
	if done.Mood != "運転" {
		t.Errorf("expected mood '運転', got '%s'", done.Mood)
	}
	if done.Image != "assets/images/driving.png" {
		t.Errorf("unexpected mood image '%s'", done.Image)
	}
	if done.Scene != "town_start" || done.Page != "driving" {
		t.Errorf("expected town_start:driving, got %s:%s", done.Scene, done.Page)
	}
	if done.Transitioned {
		t.Error("expected no transition")
	}
	if done.TurnID == "" {
		t.Error("expected a turn id")
	}

	frames := ex.inputFrames()
	if len(frames) != 1 {
		t.Fatalf("expected 1 input frame, got %d", len(frames))
	}
	if frames[0].Rate != realtime.EngineRate {
		t.Errorf("expected input stamped at %d, got %d", realtime.EngineRate, frames[0].Rate)
	}
	if len(frames[0].Samples) != 320 {
		t.Errorf("expected 320 input samples, got %d", len(frames[0].Samples))
	}

	if len(dialer.instructions) != 1 || !strings.Contains(dialer.instructions[0], "運転中の雑談をします。") {
		t.Errorf("expected dial instructions to carry the page prompt, got %q", dialer.instructions)
	}
}

func TestVoiceTurnAppliesAnalyzedTransition(t *testing.T) {
	ex := newFakeExchange(
		nil,
		realtime.Result{UserTranscript: "ガソリンがない", AssistantTranscript: "スタンドに寄りましょう"},
	)
	dialer := &fakeDialer{exchanges: []*fakeExchange{ex}}
	setupVoiceSession(t, dialer, `{"mood": "給油", "transition": "gas_station:refueling"}`)

	conn := dialVoice(t, "")
	defer conn.Close()

	speakAndCommit(t, conn, 160)
	audioBytes, done := collectTurn(t, conn)

	// A turn with no reply audio pads with 100ms of silence (2400 samples).
	if audioBytes != 4800 {
		t.Errorf("expected 4800 bytes of padding silence, got %d", audioBytes)
	}
	if !done.Transitioned {
		t.Error("expected the analyzed transition to apply")
	}
	if done.Scene != "gas_station" || done.Page != "refueling" {
		t.Errorf("expected gas_station:refueling, got %s:%s", done.Scene, done.Page)
	}
	if done.Mood != "給油" {
		t.Errorf("expected mood '給油', got '%s'", done.Mood)
	}
}

func TestVoiceClientRateFromQuery(t *testing.T) {
	ex := newFakeExchange(
		[]realtime.Frame{{Rate: realtime.EngineRate, Samples: make([]int16, 480)}},
		realtime.Result{UserTranscript: "あ", AssistantTranscript: "はい"},
	)
	dialer := &fakeDialer{exchanges: []*fakeExchange{ex}}
	setupVoiceSession(t, dialer, `{"mood": "基本スタイル", "transition": null}`)

	conn := dialVoice(t, "?rate=8000")
	defer conn.Close()

	speakAndCommit(t, conn, 240)
	audioBytes, _ := collectTurn(t, conn)

	// 480 samples at 24000 resample to 160 at 8000.
	if audioBytes != 320 {
		t.Errorf("expected 320 audio bytes after downsampling, got %d", audioBytes)
	}

	frames := ex.inputFrames()
	if len(frames) != 1 {
		t.Fatalf("expected 1 input frame, got %d", len(frames))
	}
	if frames[0].Rate != 8000 {
		t.Errorf("expected input stamped at 8000, got %d", frames[0].Rate)
	}
}

func TestVoiceConfiguredDefaultRate(t *testing.T) {
	SetVoiceClientRate(48000)
	t.Cleanup(func() { defaultClientRate = realtime.EngineRate })

	ex := newFakeExchange(
		[]realtime.Frame{{Rate: realtime.EngineRate, Samples: make([]int16, 480)}},
		realtime.Result{UserTranscript: "あ", AssistantTranscript: "はい"},
	)
	dialer := &fakeDialer{exchanges: []*fakeExchange{ex}}
	setupVoiceSession(t, dialer, `{"mood": "基本スタイル", "transition": null}`)

	// No ?rate= on the dial; the configured default applies.
	conn := dialVoice(t, "")
	defer conn.Close()

	speakAndCommit(t, conn, 480)
	audioBytes, _ := collectTurn(t, conn)

	// 480 samples at 24000 resample to 960 at 48000.
	if audioBytes != 1920 {
		t.Errorf("expected 1920 audio bytes after upsampling, got %d", audioBytes)
	}

	frames := ex.inputFrames()
	if len(frames) != 1 {
		t.Fatalf("expected 1 input frame, got %d", len(frames))
	}
	if frames[0].Rate != 48000 {
		t.Errorf("expected input stamped at 48000, got %d", frames[0].Rate)
	}
}

func TestVoiceRejectedWithoutDialer(t *testing.T) {
	setupVoiceSession(t, nil)

	conn := dialVoice(t, "")
	defer conn.Close()

	speakAndCommit(t, conn, 160)

	// The rejection is padded with silence, then reported.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	kind, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read padding frame: %v", err)
	}
	if kind != websocket.BinaryMessage || len(data) != 4800 {
		t.Errorf("expected 4800 bytes of padding silence, got kind %d with %d bytes", kind, len(data))
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err = conn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read error frame: %v", err)
	}
	var msg voiceErrorMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("failed to unmarshal error message: %v", err)
	}
	if msg.Type != "error" {
		t.Errorf("expected type 'error', got '%s'", msg.Type)
	}
	if msg.Error != "voice transport not configured" {
		t.Errorf("unexpected error text '%s'", msg.Error)
	}
}
