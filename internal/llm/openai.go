package llm

import (
	"context"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
)

const defaultTimeout = 60 * time.Second

// Options configure the OpenAI-compatible chat client. Zero values fall back
// to the documented defaults.
type Options struct {
	Model       string
	Temperature float32
	MaxTokens   int
	BaseURL     string
	Timeout     time.Duration
}

// OpenAI calls an OpenAI-compatible chat completion endpoint.
type OpenAI struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
}

// NewOpenAI builds a chat client. BaseURL may point at any compatible
// endpoint; the default is the OpenAI API.
func NewOpenAI(apiKey string, opts Options) *OpenAI {
	config := openai.DefaultConfig(apiKey)
	if opts.BaseURL != "" {
		config.BaseURL = opts.BaseURL
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	config.HTTPClient = &http.Client{Timeout: timeout}

	model := opts.Model
	if model == "" {
		model = openai.GPT4oMini
	}

	return &OpenAI{
		client:      openai.NewClientWithConfig(config),
		model:       model,
		temperature: opts.Temperature,
		maxTokens:   opts.MaxTokens,
	}
}

// Complete sends the conversation and returns the model's reply text.
// Failures come back as *TransportError.
func (c *OpenAI) Complete(ctx context.Context, messages []Message) (string, error) {
	if len(messages) == 0 {
		return "", &TransportError{Err: errEmptyConversation}
	}

	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
		Messages:    make([]openai.ChatCompletionMessage, 0, len(messages)),
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", &TransportError{Err: err}
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", &TransportError{Err: errEmptyResponse}
	}

	return resp.Choices[0].Message.Content, nil
}
