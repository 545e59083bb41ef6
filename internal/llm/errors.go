package llm

import "errors"

var (
	errEmptyConversation = errors.New("messages cannot be empty")
	errEmptyResponse     = errors.New("received empty response from API")
)
