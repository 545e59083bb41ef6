package config

import (
	"fmt"
	"os"
	"strings"
)

// ResolveSecret reads a secret through the *_FILE convention: NAME_FILE
// points at a file holding the value (Docker secrets style) and wins over a
// plain NAME variable. The file content is trimmed of surrounding
// whitespace. Neither set resolves to "".
func ResolveSecret(name string) (string, error) {
	if path := os.Getenv(name + "_FILE"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read secret %s_FILE=%s: %w", name, path, err)
		}
		return strings.TrimSpace(string(raw)), nil
	}
	return os.Getenv(name), nil
}

// OpenAIKey resolves the OpenAI API key. Empty means LLM calls cannot be
// made; callers decide whether that is fatal.
func OpenAIKey() (string, error) {
	return ResolveSecret("OPENAI_API_KEY")
}

// OperatorCredentials resolves the basic-auth pair for operator endpoints.
// Either value empty means auth is disabled.
func OperatorCredentials() (user, password string, err error) {
	user, err = ResolveSecret("KAMISHIBAI_OPERATOR_USER")
	if err != nil {
		return "", "", err
	}
	password, err = ResolveSecret("KAMISHIBAI_OPERATOR_PASSWORD")
	if err != nil {
		return "", "", err
	}
	return user, password, nil
}
