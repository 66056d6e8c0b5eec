// Package guardrail implements the ordered pre-model policy checks that may
// block or redirect a message before it reaches the language model.
package guardrail

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/capitalize-ai/guarded-chat/internal/model"
	"github.com/capitalize-ai/guarded-chat/internal/scope"
	"github.com/capitalize-ai/guarded-chat/pkg/logger"
)

// Response is a canned reply shown when a rule fires.
type Response struct {
	Message      string   `yaml:"message"`
	QuickReplies []string `yaml:"quickReplies"`
}

// PatternRule blocks messages matching any of its patterns.
type PatternRule struct {
	Patterns []string `yaml:"patterns"`
	Response `yaml:",inline"`
}

// ScopeResponse is the redirect shown for off-topic messages. Message takes
// the humanized domain id; FallbackMessage is used when no domain is known.
type ScopeResponse struct {
	Message         string   `yaml:"message"`
	FallbackMessage string   `yaml:"fallbackMessage"`
	QuickReplies    []string `yaml:"quickReplies"`
}

// Rules is the immutable rule table. TooLong.Message is a format string
// receiving the message length and the limit.
type Rules struct {
	MaxLength  int           `yaml:"maxLength"`
	TooLong    Response      `yaml:"tooLong"`
	Injection  PatternRule   `yaml:"injection"`
	Unsafe     PatternRule   `yaml:"unsafe"`
	OutOfScope ScopeResponse `yaml:"outOfScope"`
}

// KeywordSource supplies the normalized allowlist for the scope rule.
type KeywordSource interface {
	ActiveKeywords(ctx context.Context) ([]string, error)
}

// Input is everything a single evaluation looks at.
type Input struct {
	Message  string
	Profile  *model.UserProfile
	History  []model.ConversationTurn
	Metadata model.RequestMetadata
}

// Engine evaluates rules in fixed order: length, injection, unsafe content,
// scope. The first rule that fires wins.
type Engine struct {
	rules     Rules
	injection []*regexp.Regexp
	unsafe    []*regexp.Regexp
	keywords  KeywordSource
	logger    *logger.Logger
}

// New compiles the rule table. Patterns are matched case-insensitively.
func New(rules Rules, keywords KeywordSource, log *logger.Logger) (*Engine, error) {
	if rules.MaxLength <= 0 {
		return nil, fmt.Errorf("guardrail: max length must be positive, got %d", rules.MaxLength)
	}

	injection, err := compileAll(rules.Injection.Patterns)
	if err != nil {
		return nil, fmt.Errorf("guardrail: injection rule: %w", err)
	}
	unsafe, err := compileAll(rules.Unsafe.Patterns)
	if err != nil {
		return nil, fmt.Errorf("guardrail: unsafe rule: %w", err)
	}

	return &Engine{
		rules:     rules,
		injection: injection,
		unsafe:    unsafe,
		keywords:  keywords,
		logger:    log,
	}, nil
}

func compileAll(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

// Evaluate runs the rule chain. It never calls the model.
func (e *Engine) Evaluate(ctx context.Context, in Input) model.GuardrailResult {
	if n := utf8.RuneCountInString(in.Message); n > e.rules.MaxLength {
		return model.GuardrailResult{
			Action:       model.ActionBlock,
			Reason:       model.ReasonTooLong,
			Message:      fmt.Sprintf(e.rules.TooLong.Message, n, e.rules.MaxLength),
			QuickReplies: cloneReplies(e.rules.TooLong.QuickReplies),
		}
	}

	if matchesAny(e.injection, in.Message) {
		return blocked(model.ReasonInjection, e.rules.Injection.Response)
	}

	if matchesAny(e.unsafe, in.Message) {
		return blocked(model.ReasonUnsafe, e.rules.Unsafe.Response)
	}

	if in.Metadata.ScopeRestricted() && !e.inScope(ctx, in.Message) {
		return model.GuardrailResult{
			Action:       model.ActionRedirect,
			Reason:       model.ReasonOutOfScope,
			Message:      e.redirectMessage(in.Metadata.DomainID),
			QuickReplies: cloneReplies(e.rules.OutOfScope.QuickReplies),
		}
	}

	return model.AllowResult()
}

func (e *Engine) inScope(ctx context.Context, message string) bool {
	if e.keywords == nil {
		return true
	}
	kws, err := e.keywords.ActiveKeywords(ctx)
	if err != nil {
		e.logger.Warn("allowed keywords unavailable, scope rule skipped", zap.Error(err))
		return true
	}
	if len(kws) == 0 {
		return true
	}
	return scope.Contains(message, kws)
}

func (e *Engine) redirectMessage(domainID string) string {
	domain := strings.TrimSpace(domainID)
	if domain == "" {
		return e.rules.OutOfScope.FallbackMessage
	}
	return fmt.Sprintf(e.rules.OutOfScope.Message, strings.ReplaceAll(domain, "-", " "))
}

func matchesAny(patterns []*regexp.Regexp, message string) bool {
	for _, re := range patterns {
		if re.MatchString(message) {
			return true
		}
	}
	return false
}

func blocked(reason model.GuardrailReason, resp Response) model.GuardrailResult {
	return model.GuardrailResult{
		Action:       model.ActionBlock,
		Reason:       reason,
		Message:      resp.Message,
		QuickReplies: cloneReplies(resp.QuickReplies),
	}
}

func cloneReplies(replies []string) []string {
	return append([]string(nil), replies...)
}
