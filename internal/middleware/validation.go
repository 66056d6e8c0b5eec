package middleware

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/capitalize-ai/guarded-chat/internal/model"
)

// Request limits. Message length itself is a guardrail decision, so the
// transport limit here only stops abusive payloads.
const (
	MaxMessageBytes     = 100_000
	MaxIdentifierLength = 128
	MaxKeywordLength    = 191
	MaxTemperature      = 2.0
	MaxCompletionTokens = 32_768
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{model.ErrValidation}, args...)...)
}

// ValidateChatRequest validates an inbound chat message before the
// pipeline runs.
func ValidateChatRequest(req *model.ChatRequest) error {
	if strings.TrimSpace(req.Message) == "" {
		return invalid("message cannot be empty")
	}
	if len(req.Message) > MaxMessageBytes {
		return invalid("message exceeds maximum size")
	}
	if !utf8.ValidString(req.Message) {
		return invalid("message must be valid UTF-8")
	}
	if req.ConversationID != "" {
		if err := ValidateConversationID(req.ConversationID); err != nil {
			return err
		}
	}
	if t := req.Temperature; t != nil && (*t < 0 || *t > MaxTemperature) {
		return invalid("temperature must be between 0 and %.1f", MaxTemperature)
	}
	if m := req.MaxTokens; m != nil && (*m <= 0 || *m > MaxCompletionTokens) {
		return invalid("maxTokens must be between 1 and %d", MaxCompletionTokens)
	}
	if req.Metadata != nil {
		if err := ValidateUserID(req.Metadata.UserID, true); err != nil {
			return err
		}
		if len(req.Metadata.DomainID) > MaxIdentifierLength || len(req.Metadata.EventID) > MaxIdentifierLength {
			return invalid("metadata identifiers exceed maximum length")
		}
	}
	return nil
}

// ValidateConversationID accepts up to MaxIdentifierLength letters, digits,
// dashes and underscores. UUIDs qualify.
func ValidateConversationID(id string) error {
	if id == "" || len(id) > MaxIdentifierLength {
		return invalid("invalid conversation ID format")
	}
	for _, c := range id {
		if !isIDChar(c) {
			return invalid("invalid conversation ID format")
		}
	}
	return nil
}

// ValidateUserID validates a caller-supplied user ID.
func ValidateUserID(id string, allowEmpty bool) error {
	if strings.TrimSpace(id) == "" {
		if allowEmpty {
			return nil
		}
		return invalid("user ID cannot be empty")
	}
	if len(id) > MaxIdentifierLength {
		return invalid("user ID exceeds maximum length")
	}
	if !utf8.ValidString(id) {
		return invalid("user ID must be valid UTF-8")
	}
	return nil
}

// ValidateKeyword validates an allowed-domain keyword.
func ValidateKeyword(keyword string) error {
	if strings.TrimSpace(keyword) == "" {
		return invalid("keyword cannot be empty")
	}
	if utf8.RuneCountInString(keyword) > MaxKeywordLength {
		return invalid("keyword exceeds maximum length")
	}
	return nil
}

func isIDChar(c rune) bool {
	return c == '-' || c == '_' ||
		(c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9')
}
