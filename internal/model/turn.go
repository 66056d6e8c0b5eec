package model

import (
	"time"
)

// Role represents the role of a message sender in a model prompt.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// TokenUsage is the prompt/completion/total triple reported by the model.
type TokenUsage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// ConversationTurn is one persisted user-message/response exchange.
// Turns are immutable once appended.
type ConversationTurn struct {
	// Identity
	ID             string `json:"id"`
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	DomainID       string `json:"domainId,omitempty"`
	EventID        string `json:"eventId,omitempty"`

	// Content
	UserMessage       string `json:"userMessage"`
	AssistantResponse string `json:"assistantResponse"`

	// Model metadata (empty when the model was not invoked)
	Model       string      `json:"model,omitempty"`
	Temperature *float64    `json:"temperature,omitempty"`
	Usage       *TokenUsage `json:"tokenUsage,omitempty"`

	// Guardrail outcome
	GuardrailAction GuardrailAction `json:"guardrailAction"`
	GuardrailReason GuardrailReason `json:"guardrailReason"`
	QuickReplies    []string        `json:"quickReplies,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}
