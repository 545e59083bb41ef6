// Package llm abstracts the chat model behind a small completion interface
// so sessions can run against the real API or a scripted fake.
package llm

import (
	"context"
	"errors"
	"fmt"
)

// Chat roles as the wire protocol names them.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat turn sent to the model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Completer produces a model reply for a conversation.
type Completer interface {
	Complete(ctx context.Context, messages []Message) (string, error)
}

// TransportError marks failures reaching the model API: network errors, HTTP
// failures, empty responses. Callers degrade the turn instead of failing the
// session.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("llm transport: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransport reports whether err is a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
