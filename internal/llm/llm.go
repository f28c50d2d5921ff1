// Package llm provides the model backends collaborators talk to: the OpenAI
// responses API, the Gemini API and external agent CLIs.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/metalagman/lessonloop/internal/config"
)

const defaultTimeout = 2 * time.Minute

// Request is a single instruction and input pair.
type Request struct {
	Instructions string
	// Input is encoded as JSON before it is sent.
	Input any
	// InputSchema and OutputSchema describe Input and the expected reply as
	// JSON schemas. Backends that support structured output use them.
	InputSchema  string
	OutputSchema string
}

// Completer sends one request to a model and returns its raw reply text.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
	Describe() Info
}

// Info describes a backend for logs and run records.
type Info struct {
	Type  string
	Model string
	Cmd   []string
}

// New constructs the backend named by cfg.Type.
func New(ctx context.Context, cfg config.CollaboratorConfig) (Completer, error) {
	switch cfg.Type {
	case config.TypeOpenAI:
		return NewOpenAI(OpenAIConfig{
			Model:     cfg.Model,
			BaseURL:   cfg.BaseURL,
			APIKey:    cfg.APIKey,
			APIKeyEnv: cfg.APIKeyEnv,
			Timeout:   cfg.Timeout,
		}, nil)
	case config.TypeGemini:
		return NewGemini(ctx, GeminiConfig{
			Model:     cfg.Model,
			BaseURL:   cfg.BaseURL,
			APIKey:    cfg.APIKey,
			APIKeyEnv: cfg.APIKeyEnv,
		}, nil)
	case config.TypeExec:
		return NewExec(ExecConfig{Cmd: cfg.Cmd, Model: cfg.Model, UseTTY: cfg.TTY()})
	default:
		return nil, fmt.Errorf("unknown collaborator type %q", cfg.Type)
	}
}

func resolveAPIKey(key, envKey, defaultEnv string) string {
	key = strings.TrimSpace(key)
	if key != "" {
		return key
	}
	envKey = strings.TrimSpace(envKey)
	if envKey == "" {
		envKey = defaultEnv
	}
	return strings.TrimSpace(os.Getenv(envKey))
}

func encodeInput(input any) (string, error) {
	switch v := input.(type) {
	case nil:
		return "{}", nil
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	}
	data, err := json.Marshal(input)
	if err != nil {
		return "", fmt.Errorf("marshal input: %w", err)
	}
	return string(data), nil
}
