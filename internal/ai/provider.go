package ai

import (
	"context"
	"errors"
)

// Message is one {role, content} pair on the wire to a model provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

var ErrNoModel = errors.New("ai: model is required")

// ModelConfig is the per-request model configuration.
type ModelConfig struct {
	Provider    string  `json:"provider"`
	Model       string  `json:"model"`
	Stream      bool    `json:"stream"`
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}

type Provider interface {
	Chat(ctx context.Context, messages []Message) (string, error)
}
