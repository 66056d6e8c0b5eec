package model

import (
	"strings"
	"time"
)

// ScopeModeEvent is the request mode that restricts topics to the allowlist.
const ScopeModeEvent = "EVENT"

// RequestMetadata carries caller context for a chat message.
type RequestMetadata struct {
	UserID   string `json:"userId,omitempty"`
	Mode     string `json:"mode,omitempty"`
	DomainID string `json:"domainId,omitempty"`
	EventID  string `json:"eventId,omitempty"`
}

// ChatRequest is one inbound chat message.
type ChatRequest struct {
	Message        string           `json:"message"`
	ConversationID string           `json:"conversationId,omitempty"`
	Temperature    *float64         `json:"temperature,omitempty"`
	MaxTokens      *int             `json:"maxTokens,omitempty"`
	Metadata       *RequestMetadata `json:"metadata,omitempty"`
}

// Meta returns the request metadata, never nil.
func (r *ChatRequest) Meta() RequestMetadata {
	if r.Metadata == nil {
		return RequestMetadata{}
	}
	return *r.Metadata
}

// ScopeRestricted reports whether the request asks for a bounded topic mode:
// an explicit event mode, or a domain or event id.
func (m RequestMetadata) ScopeRestricted() bool {
	return strings.EqualFold(strings.TrimSpace(m.Mode), ScopeModeEvent) ||
		strings.TrimSpace(m.DomainID) != "" ||
		strings.TrimSpace(m.EventID) != ""
}

// ChatResponse is returned for every handled chat message, including
// guardrail rejections.
type ChatResponse struct {
	Text            string          `json:"text"`
	ConversationID  string          `json:"conversationId"`
	Timestamp       time.Time       `json:"timestamp"`
	TokenUsage      *TokenUsage     `json:"tokenUsage"`
	UserID          string          `json:"userId"`
	GuardrailAction GuardrailAction `json:"guardrailAction"`
	GuardrailReason GuardrailReason `json:"guardrailReason"`
	QuickReplies    []string        `json:"quickReplies"`
	ProfileSummary  *ProfileSummary `json:"profileSummary,omitempty"`
}
