package stage

import (
	"testing"
)

func TestPublisher_OfflineDropsDirective(t *testing.T) {
	pub := NewPublisher(nil, nil, nil)

	err := pub.ShowDirective(Directive{
		Mood:    "話す",
		Text:    "出発します",
		SceneID: "town_start",
		PageID:  "driving",
	})
	if err != nil {
		t.Errorf("expected offline publish to degrade silently, got %v", err)
	}
}

func TestPublisher_ClearUsesDefaultMood(t *testing.T) {
	pub := NewPublisher(nil, nil, nil)

	if err := pub.Clear(); err != nil {
		t.Errorf("expected clear to degrade silently offline, got %v", err)
	}
}

func TestPublisher_FillsImageFromPalette(t *testing.T) {
	pub := NewPublisher(nil, nil, nil)

	d := Directive{Mood: "困る"}
	if d.ImageRef != "" {
		t.Fatal("precondition: no image ref")
	}
	// ShowDirective resolves the image before publishing; verify the palette
	// mapping it uses.
	if pub.palette.ImageRef("困る") != "images/troubled.png" {
		t.Errorf("expected built-in image for 困る, got %s", pub.palette.ImageRef("困る"))
	}
	if err := pub.ShowDirective(d); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
