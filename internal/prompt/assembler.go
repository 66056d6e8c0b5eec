// Package prompt renders the system prompt and orders the message sequence
// sent to the language model.
package prompt

import (
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/capitalize-ai/guarded-chat/internal/llm"
	"github.com/capitalize-ai/guarded-chat/internal/model"
	"github.com/capitalize-ai/guarded-chat/pkg/logger"
)

// Assembler builds prompts. It holds no per-request state.
type Assembler struct {
	logger *logger.Logger
}

// NewAssembler creates an assembler.
func NewAssembler(log *logger.Logger) *Assembler {
	return &Assembler{logger: log}
}

// BuildSystemPrompt renders the behavioral contract, the profile projection
// and, when domainID is set, the domain context.
func (a *Assembler) BuildSystemPrompt(profile *model.UserProfile, domainID string) string {
	var b strings.Builder
	b.WriteString(behavioralContract)

	if profile != nil {
		b.WriteString("\n# PERFIL DEL USUARIO (aplícalo con naturalidad, sin mencionarlo)\n")
		if profile.Language != "" {
			line(&b, "Idioma preferido", profile.Language)
		}
		a.directive(&b, "Tono", profile.Tone != "", func() (string, error) { return toneDirective(profile.Tone) })
		a.directive(&b, "Nivel de detalle", profile.Verbosity != "", func() (string, error) { return verbosityDirective(profile.Verbosity) })
		a.directive(&b, "Emojis", profile.Emoji != "", func() (string, error) { return emojiDirective(profile.Emoji) })
		a.directive(&b, "Formato preferido", profile.Format != "", func() (string, error) { return formatDirective(profile.Format) })
		a.directive(&b, "Ritmo de respuesta", profile.Speed != "", func() (string, error) { return speedDirective(profile.Speed) })
		if obj := strings.TrimSpace(profile.CurrentObjective); obj != "" {
			line(&b, "Objetivo actual", obj)
		}
		if len(profile.PastDecisions) > 0 {
			b.WriteString("- Decisiones ya tomadas (NO vuelvas a preguntar por ellas):\n")
			for i, d := range profile.PastDecisions {
				b.WriteString("  ")
				b.WriteString(strconv.Itoa(i + 1))
				b.WriteString(". ")
				b.WriteString(d)
				b.WriteString("\n")
			}
		}
		if notes := strings.TrimSpace(profile.StyleNotes); notes != "" {
			line(&b, "Notas de estilo", notes)
		}
	}

	if domain := strings.TrimSpace(domainID); domain != "" {
		b.WriteString("\n# CONTEXTO\n")
		b.WriteString("El usuario está en el contexto de: ")
		b.WriteString(domain)
		b.WriteString("\nMantén tus respuestas relevantes para este contexto.\n")
	}

	return b.String()
}

func (a *Assembler) directive(b *strings.Builder, label string, set bool, render func() (string, error)) {
	if !set {
		return
	}
	text, err := render()
	if err != nil {
		a.logger.Error("profile directive skipped", zap.String("field", label), zap.Error(err))
		return
	}
	line(b, label, text)
}

func line(b *strings.Builder, label, value string) {
	b.WriteString("- ")
	b.WriteString(label)
	b.WriteString(": ")
	b.WriteString(value)
	b.WriteString("\n")
}

// BuildMessageSequence returns [system] + history as user/assistant pairs in
// the order given + [current user message]. Callers pass history oldest
// first.
func (a *Assembler) BuildMessageSequence(systemPrompt string, history []model.ConversationTurn, current string) []llm.ChatMessage {
	msgs := make([]llm.ChatMessage, 0, 2+2*len(history))
	msgs = append(msgs, llm.ChatMessage{Role: string(model.RoleSystem), Content: systemPrompt})
	for _, turn := range history {
		msgs = append(msgs,
			llm.ChatMessage{Role: string(model.RoleUser), Content: turn.UserMessage},
			llm.ChatMessage{Role: string(model.RoleAssistant), Content: turn.AssistantResponse},
		)
	}
	msgs = append(msgs, llm.ChatMessage{Role: string(model.RoleUser), Content: current})
	return msgs
}
