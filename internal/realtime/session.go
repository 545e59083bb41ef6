package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// writeWait bounds each outbound frame; readWait is how long the server
	// may stay silent before the exchange is abandoned.
	writeWait = 10 * time.Second
	readWait  = 90 * time.Second

	defaultRealtimeURL = "wss://api.openai.com/v1/realtime"
	defaultModel       = "gpt-4o-realtime-preview"
	defaultVoice       = "alloy"
)

// Result carries the transcripts of a finished exchange.
type Result struct {
	UserTranscript      string
	AssistantTranscript string
	Err                 error
}

// Dialer opens a voice exchange configured with session instructions.
type Dialer interface {
	Dial(ctx context.Context, instructions string) (Exchange, error)
}

// Exchange is one request/response cycle against the voice model. Callers
// send input frames, commit, then drain Audio until it closes; Result
// delivers the transcripts afterwards.
type Exchange interface {
	SendAudio(f Frame) error
	Commit() error
	Audio() <-chan Frame
	Result() <-chan Result
	Close() error
}

// DialOptions configure the OpenAI realtime dialer. URL overrides the
// endpoint, which lets tests point at a local server.
type DialOptions struct {
	Model string
	Voice string
	URL   string
}

// OpenAIDialer connects to the OpenAI Realtime API over WebSocket.
type OpenAIDialer struct {
	apiKey string
	model  string
	voice  string
	url    string
}

func NewOpenAIDialer(apiKey string, opts DialOptions) *OpenAIDialer {
	model := opts.Model
	if model == "" {
		model = defaultModel
	}
	voice := opts.Voice
	if voice == "" {
		voice = defaultVoice
	}
	url := opts.URL
	if url == "" {
		url = defaultRealtimeURL
	}
	return &OpenAIDialer{apiKey: apiKey, model: model, voice: voice, url: url}
}

// Dial opens the WebSocket, configures the session for PCM16 in/out with
// input transcription, and starts the event read loop.
func (d *OpenAIDialer) Dial(ctx context.Context, instructions string) (Exchange, error) {
	url := fmt.Sprintf("%s?model=%s", d.url, d.model)
	header := http.Header{}
	header.Set("Authorization", "Bearer "+d.apiKey)
	header.Set("OpenAI-Beta", "realtime=v1")

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("realtime dial failed (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("realtime dial failed: %w", err)
	}

	ex := &openAIExchange{
		conn:   conn,
		audio:  make(chan Frame, 32),
		result: make(chan Result, 1),
		done:   make(chan struct{}),
	}

	update := map[string]interface{}{
		"type": "session.update",
		"session": map[string]interface{}{
			"instructions":        instructions,
			"voice":               d.voice,
			"input_audio_format":  "pcm16",
			"output_audio_format": "pcm16",
			"turn_detection": map[string]interface{}{
				"type":                "server_vad",
				"threshold":           0.5,
				"prefix_padding_ms":   300,
				"silence_duration_ms": 500,
			},
			"input_audio_transcription": map[string]interface{}{
				"model": "whisper-1",
			},
		},
	}
	if err := ex.writeJSON(update); err != nil {
		conn.Close()
		return nil, fmt.Errorf("realtime session.update failed: %w", err)
	}

	go ex.readLoop()
	return ex, nil
}

type openAIExchange struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	audio  chan Frame
	result chan Result

	closeOnce sync.Once
	done      chan struct{}
}

func (ex *openAIExchange) writeJSON(v interface{}) error {
	ex.writeMu.Lock()
	defer ex.writeMu.Unlock()
	ex.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return ex.conn.WriteJSON(v)
}

// SendAudio appends one input frame, resampling to EngineRate and splitting
// into 20ms appends.
func (ex *openAIExchange) SendAudio(f Frame) error {
	if len(f.Samples) == 0 {
		return nil
	}
	f = Resample(f, EngineRate)
	for _, chunk := range Split(f, ChunkSamples) {
		err := ex.writeJSON(map[string]interface{}{
			"type":  "input_audio_buffer.append",
			"audio": encodeAudio(chunk.Samples),
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Commit closes the input buffer and requests the response.
func (ex *openAIExchange) Commit() error {
	if err := ex.writeJSON(map[string]interface{}{"type": "input_audio_buffer.commit"}); err != nil {
		return err
	}
	return ex.writeJSON(map[string]interface{}{"type": "response.create"})
}

func (ex *openAIExchange) Audio() <-chan Frame {
	return ex.audio
}

func (ex *openAIExchange) Result() <-chan Result {
	return ex.result
}

// Close tears down the connection. The read loop unblocks on the closed
// socket and finalizes the channels.
func (ex *openAIExchange) Close() error {
	var err error
	ex.closeOnce.Do(func() {
		close(ex.done)
		ex.writeMu.Lock()
		ex.conn.SetWriteDeadline(time.Now().Add(writeWait))
		ex.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		ex.writeMu.Unlock()
		err = ex.conn.Close()
	})
	return err
}

// serverEvent is the subset of Realtime API events the exchange acts on.
type serverEvent struct {
	Type       string `json:"type"`
	Delta      string `json:"delta"`
	Transcript string `json:"transcript"`
	Error      *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// readLoop consumes server events until response.done or a read error,
// forwarding audio deltas and finally delivering the transcripts.
func (ex *openAIExchange) readLoop() {
	var res Result

	defer func() {
		close(ex.audio)
		ex.result <- res
		close(ex.result)
	}()

	for {
		ex.conn.SetReadDeadline(time.Now().Add(readWait))
		_, data, err := ex.conn.ReadMessage()
		if err != nil {
			if res.Err == nil {
				res.Err = fmt.Errorf("realtime read failed: %w", err)
			}
			return
		}

		var e serverEvent
		if err := json.Unmarshal(data, &e); err != nil {
			continue
		}

		switch e.Type {
		case "response.audio.delta":
			samples, err := decodeAudio(e.Delta)
			if err != nil {
				continue
			}
			select {
			case ex.audio <- Frame{Rate: EngineRate, Samples: samples}:
			case <-ex.done:
				return
			}

		case "conversation.item.input_audio_transcription.completed":
			res.UserTranscript = e.Transcript

		case "response.audio_transcript.delta":
			res.AssistantTranscript += e.Delta

		case "response.audio_transcript.done":
			if e.Transcript != "" {
				res.AssistantTranscript = e.Transcript
			}

		case "response.done":
			return

		case "error":
			if e.Error != nil && res.Err == nil {
				res.Err = fmt.Errorf("realtime api error: %s", e.Error.Message)
			}
		}
	}
}
