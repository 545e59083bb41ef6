// Package interpret parses LLM output into the engine's reply shape:
// display text, requested mood, requested transition. Malformed output is
// never an error here; it degrades to plain text with the default mood.
package interpret

import (
	"encoding/json"
	"strings"
)

// Reply is one interpreted assistant turn. Transition is "" when the reply
// requests none. Degraded marks the plain-text fallback; the reply is still
// valid for display, the flag only feeds observability.
type Reply struct {
	Text       string
	Mood       string
	Transition string
	Degraded   bool
}

// envelope mirrors the structured response format. Pointers distinguish
// absent fields from empty ones; "image" is the legacy spelling of "mood".
type envelope struct {
	Text       *string `json:"text"`
	Mood       *string `json:"mood"`
	Image      *string `json:"image"`
	Transition *string `json:"transition"`
}

// Parse interprets a raw assistant response. Valid envelopes return their
// fields verbatim (mood wins over the legacy image alias; a missing text
// field falls back to the raw string). Anything unparsable is treated as
// plain text with defaultMood and no transition.
func Parse(raw, defaultMood string) Reply {
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return Reply{Text: raw, Mood: defaultMood, Degraded: true}
	}

	reply := Reply{Text: raw, Mood: defaultMood}
	if env.Text != nil {
		reply.Text = *env.Text
	}
	switch {
	case env.Mood != nil:
		reply.Mood = *env.Mood
	case env.Image != nil:
		reply.Mood = *env.Image
	}
	if env.Transition != nil {
		reply.Transition = *env.Transition
	}
	return reply
}

// Analysis is the transcript analyzer's output shape.
type Analysis struct {
	Mood       string `json:"mood"`
	Transition string `json:"transition"`
}

// ParseAnalysis interprets the analyzer's {"mood", "transition"} response.
// Analysis models occasionally wrap the object in prose or a code fence, so
// a failed direct parse retries on the outermost braced substring. ok is
// false when no object can be recovered; callers degrade to the default
// mood and no transition.
func ParseAnalysis(raw string) (Analysis, bool) {
	trimmed := strings.TrimSpace(raw)

	var a Analysis
	if err := json.Unmarshal([]byte(trimmed), &a); err == nil {
		return a, true
	}

	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start < 0 || end <= start {
		return Analysis{}, false
	}
	if err := json.Unmarshal([]byte(trimmed[start:end+1]), &a); err != nil {
		return Analysis{}, false
	}
	return a, true
}
