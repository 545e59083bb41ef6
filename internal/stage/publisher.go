package stage

import (
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/paper-theater/kamishibai/internal/mood"
	"github.com/paper-theater/kamishibai/internal/scenario"
)

// Directive tells a display what to render: the mood image, the background,
// and the line being spoken. Published retained so a display joining late
// picks up the current frame.
type Directive struct {
	Mood       string `json:"mood"`
	ImageRef   string `json:"image,omitempty"`
	Background string `json:"background,omitempty"`
	Text       string `json:"text,omitempty"`
	SceneID    string `json:"scene,omitempty"`
	PageID     string `json:"page,omitempty"`
	TS         string `json:"ts"`
}

// Publisher broadcasts directives to the display fleet. A nil or
// disconnected client drops directives with a log line instead of failing
// the turn.
type Publisher struct {
	client  *Client
	palette *mood.Palette
	log     *zap.Logger
}

// NewPublisher creates a publisher. client may be nil when no broker is
// configured.
func NewPublisher(client *Client, palette *mood.Palette, logger *zap.Logger) *Publisher {
	if palette == nil {
		palette = mood.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		client:  client,
		palette: palette,
		log:     logger.With(zap.String("component", "stage")),
	}
}

// ShowDirective publishes a directive to the directive topic. The timestamp
// is stamped when the caller leaves it empty, the image falls back to the
// palette frame for the mood, and refs are resolved to asset paths.
func (p *Publisher) ShowDirective(d Directive) error {
	if d.TS == "" {
		d.TS = time.Now().UTC().Format(time.RFC3339)
	}
	if d.ImageRef == "" {
		d.ImageRef = p.palette.ImageRef(d.Mood)
	}
	d.ImageRef = scenario.ResolveAsset(scenario.AssetMount, d.ImageRef)
	d.Background = scenario.ResolveAsset(scenario.AssetMount, d.Background)

	payload, err := json.Marshal(d)
	if err != nil {
		return err
	}

	if p.client == nil || !p.client.IsConnected() {
		p.log.Info("stage offline, directive dropped",
			zap.String("mood", d.Mood),
			zap.String("scene", d.SceneID),
			zap.String("page", d.PageID))
		return nil
	}

	return p.client.Publish(DirectiveTopic, payload, true)
}

// Clear publishes the palette's default frame, returning displays to the
// idle pose.
func (p *Publisher) Clear() error {
	def := p.palette.DefaultMood()
	return p.ShowDirective(Directive{
		Mood:     def,
		ImageRef: p.palette.ImageRef(def),
	})
}
