package model

import (
	"time"
)

// GuardrailAction is the decision taken before a message may reach the model.
type GuardrailAction string

const (
	ActionAllow    GuardrailAction = "ALLOW"
	ActionBlock    GuardrailAction = "BLOCK"
	ActionRedirect GuardrailAction = "REDIRECT"
)

// GuardrailReason names the rule that produced a decision.
type GuardrailReason string

const (
	ReasonNone       GuardrailReason = "NONE"
	ReasonTooLong    GuardrailReason = "TOO_LONG"
	ReasonInjection  GuardrailReason = "INJECTION"
	ReasonOutOfScope GuardrailReason = "OUT_OF_SCOPE"
	ReasonUnsafe     GuardrailReason = "UNSAFE"
)

// GuardrailResult is the outcome of a guardrail evaluation.
// Message is only populated when Action is not ActionAllow.
type GuardrailResult struct {
	Action       GuardrailAction `json:"action"`
	Reason       GuardrailReason `json:"reason"`
	Message      string          `json:"message,omitempty"`
	QuickReplies []string        `json:"quickReplies,omitempty"`
}

// Allowed reports whether the message may be forwarded to the model.
func (r GuardrailResult) Allowed() bool {
	return r.Action == ActionAllow
}

// AllowResult is the result of an evaluation where no rule fired.
func AllowResult() GuardrailResult {
	return GuardrailResult{Action: ActionAllow, Reason: ReasonNone}
}

// GuardrailEvent is published whenever a message is blocked or redirected.
type GuardrailEvent struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversationId"`
	UserID         string          `json:"userId"`
	DomainID       string          `json:"domainId,omitempty"`
	Action         GuardrailAction `json:"action"`
	Reason         GuardrailReason `json:"reason"`
	CreatedAt      time.Time       `json:"createdAt"`
}
