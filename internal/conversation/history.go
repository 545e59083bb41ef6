package conversation

import (
	"time"

	"github.com/paper-theater/kamishibai/internal/llm"
)

// Entry is one logged turn in a history track.
type Entry struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	TS      time.Time `json:"ts"`
}

// History keeps the two parallel conversation logs. The display track holds
// only natural-language text for the user; the model track holds the raw
// assistant output (structured envelope included) so the model keeps its own
// continuity. Both tracks grow and reset together.
type History struct {
	display []Entry
	model   []Entry
}

func NewHistory() *History {
	return &History{}
}

// AppendUser records a user message on both tracks.
func (h *History) AppendUser(text string) {
	now := time.Now().UTC()
	h.display = append(h.display, Entry{Role: llm.RoleUser, Content: text, TS: now})
	h.model = append(h.model, Entry{Role: llm.RoleUser, Content: text, TS: now})
}

// AppendAssistant records an assistant turn: the extracted text on the
// display track, the raw output on the model track.
func (h *History) AppendAssistant(displayText, rawText string) {
	now := time.Now().UTC()
	h.display = append(h.display, Entry{Role: llm.RoleAssistant, Content: displayText, TS: now})
	h.model = append(h.model, Entry{Role: llm.RoleAssistant, Content: rawText, TS: now})
}

// Display returns a copy of the display track.
func (h *History) Display() []Entry {
	out := make([]Entry, len(h.display))
	copy(out, h.display)
	return out
}

// Model returns a copy of the model-context track.
func (h *History) Model() []Entry {
	out := make([]Entry, len(h.model))
	copy(out, h.model)
	return out
}

// ModelMessages renders the model track as chat messages for a completion
// call.
func (h *History) ModelMessages() []llm.Message {
	out := make([]llm.Message, 0, len(h.model))
	for _, e := range h.model {
		out = append(out, llm.Message{Role: e.Role, Content: e.Content})
	}
	return out
}

// Len reports the number of display entries.
func (h *History) Len() int {
	return len(h.display)
}

// Reset clears both tracks together.
func (h *History) Reset() {
	h.display = nil
	h.model = nil
}
