// Package quickreply suggests short follow-up messages.
package quickreply

import (
	"strings"

	"github.com/capitalize-ai/guarded-chat/internal/model"
)

// MaxReplies caps every suggestion list shown to a user.
const MaxReplies = 4

// Rules holds the fixed suggestion lists. DomainMarkers are substrings of a
// domain id that select the Domain list.
type Rules struct {
	DomainMarkers []string `yaml:"domainMarkers"`
	Domain        []string `yaml:"domain"`
	Generic       []string `yaml:"generic"`
}

// Generator is a pure function of its inputs.
type Generator struct {
	rules Rules
}

// New creates a generator.
func New(rules Rules) *Generator {
	return &Generator{rules: rules}
}

// Generate returns at most MaxReplies suggestions for the next message.
func (g *Generator) Generate(profile *model.UserProfile, history []model.ConversationTurn, domainID string) []string {
	if g.knownDomain(domainID) {
		return Limit(g.rules.Domain)
	}
	return Limit(g.rules.Generic)
}

func (g *Generator) knownDomain(domainID string) bool {
	id := strings.ToLower(strings.TrimSpace(domainID))
	if id == "" {
		return false
	}
	for _, marker := range g.rules.DomainMarkers {
		if strings.Contains(id, strings.ToLower(marker)) {
			return true
		}
	}
	return false
}

// Limit copies at most MaxReplies entries of replies.
func Limit(replies []string) []string {
	if len(replies) > MaxReplies {
		replies = replies[:MaxReplies]
	}
	return append([]string{}, replies...)
}
