// Package llm provides LLM client interfaces and implementations.
package llm

import (
	"context"
	"fmt"

	"github.com/capitalize-ai/guarded-chat/internal/model"
)

// CompletionRequest represents a completion request. Messages follow the
// prompt contract: one leading system entry, then user/assistant turns,
// ending with the current user message. Nil Temperature or zero MaxTokens
// fall back to the client defaults.
type CompletionRequest struct {
	Model       string
	Messages    []ChatMessage
	MaxTokens   int
	Temperature *float64
}

// ChatMessage represents a chat message for LLM.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionResponse represents a completion response. Usage is nil when
// the provider did not report token counts.
type CompletionResponse struct {
	Content    string
	Model      string
	Usage      *model.TokenUsage
	StopReason string
	LatencyMs  int64
}

// Client is the interface for LLM providers.
type Client interface {
	// Complete sends a completion request and returns the response.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)

	// Name returns the provider name.
	Name() string
}

// Provider is the type of LLM provider.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
	ProviderGemini    Provider = "gemini"
)

// Config selects and configures a provider.
type Config struct {
	Provider Provider
	APIKey   string
	BaseURL  string
}

// NewClient creates a new LLM client based on provider.
func NewClient(ctx context.Context, cfg Config) (Client, error) {
	switch cfg.Provider {
	case ProviderAnthropic:
		return NewAnthropicClient(cfg.APIKey)
	case ProviderOpenAI:
		return NewOpenAIClient(cfg.APIKey, cfg.BaseURL)
	case ProviderGemini:
		return NewGeminiClient(ctx, cfg.APIKey)
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.Provider)
	}
}

// splitSystem separates system entries from the conversational messages.
func splitSystem(msgs []ChatMessage) (system string, rest []ChatMessage) {
	rest = make([]ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == string(model.RoleSystem) {
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
			continue
		}
		rest = append(rest, m)
	}
	return system, rest
}

func usage(prompt, completion, total int) *model.TokenUsage {
	if prompt == 0 && completion == 0 && total == 0 {
		return nil
	}
	if total == 0 {
		total = prompt + completion
	}
	return &model.TokenUsage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      total,
	}
}
