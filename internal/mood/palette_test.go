package mood

import (
	"strings"
	"testing"
)

func TestValidateKnownAndPermitted(t *testing.T) {
	p := Default()

	if got := p.Validate("笑う", nil); got != "笑う" {
		t.Errorf("expected 笑う to pass without whitelist, got %q", got)
	}
	if got := p.Validate("話す", []string{"基本スタイル", "話す"}); got != "話す" {
		t.Errorf("expected whitelisted 話す to pass, got %q", got)
	}
}

func TestValidateDisallowedFallsBackToDefault(t *testing.T) {
	p := Default()

	if got := p.Validate("喜ぶ", []string{"基本スタイル", "話す"}); got != DefaultName {
		t.Errorf("expected default for disallowed mood, got %q", got)
	}
}

func TestValidateUnknownFallsBackToDefault(t *testing.T) {
	p := Default()

	if got := p.Validate("存在しない", nil); got != DefaultName {
		t.Errorf("expected default for unknown mood, got %q", got)
	}
	// Unknown moods fall back even when the whitelist names them.
	if got := p.Validate("存在しない", []string{"存在しない"}); got != DefaultName {
		t.Errorf("expected default for unknown whitelisted mood, got %q", got)
	}
}

func TestValidateClosure(t *testing.T) {
	p := Default()
	inputs := []string{"基本スタイル", "笑う", "", "unknown", "困る", "ABC"}
	whitelists := [][]string{nil, {}, {"基本スタイル"}, {"笑う", "困る"}, {"unknown"}}

	for _, in := range inputs {
		for _, allowed := range whitelists {
			got := p.Validate(in, allowed)
			if got != in && got != DefaultName {
				t.Errorf("Validate(%q, %v) = %q: neither input nor default", in, allowed, got)
			}
			if !p.Known(got) {
				t.Errorf("Validate(%q, %v) = %q: outside vocabulary", in, allowed, got)
			}
		}
	}
}

func TestCustomPaletteKeepsDefault(t *testing.T) {
	p := New(map[string]string{"喜ぶ": "images/custom.png"})

	if !p.Known(DefaultName) {
		t.Error("expected default mood to be injected into custom palette")
	}
	if got := p.ImageRef("喜ぶ"); got != "images/custom.png" {
		t.Errorf("expected custom image ref, got %q", got)
	}
	if got := p.TroubledMood(); got != DefaultName {
		t.Errorf("expected troubled fallback to default, got %q", got)
	}
}

func TestTroubledMood(t *testing.T) {
	if got := Default().TroubledMood(); got != TroubledName {
		t.Errorf("expected %q, got %q", TroubledName, got)
	}
}

func TestGuideListsVocabulary(t *testing.T) {
	guide := Default().Guide()

	if !strings.Contains(guide, "ムードの使い分け") {
		t.Error("expected guide heading")
	}
	for _, name := range []string{"基本スタイル", "運転", "出発"} {
		if !strings.Contains(guide, "- "+name) {
			t.Errorf("expected guide to list %q", name)
		}
	}
	if !strings.Contains(guide, "最も適切なムードを選択してください") {
		t.Error("expected guide closing instruction")
	}
}

func TestImageRefUnknown(t *testing.T) {
	if got := Default().ImageRef("missing"); got != "" {
		t.Errorf("expected empty ref for unknown mood, got %q", got)
	}
}
