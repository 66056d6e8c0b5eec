// Package inference detects explicit preference commands in user messages
// and turns them into profile patches.
package inference

import (
	"fmt"
	"regexp"

	"github.com/capitalize-ai/guarded-chat/internal/model"
)

// Detector maps one command pattern to the value it sets.
type Detector struct {
	Value   string `yaml:"value"`
	Pattern string `yaml:"pattern"`
}

// Rules lists detectors per category in priority order.
type Rules struct {
	Verbosity []Detector `yaml:"verbosity"`
	Emoji     []Detector `yaml:"emoji"`
	Tone      []Detector `yaml:"tone"`
	Format    []Detector `yaml:"format"`
	Speed     []Detector `yaml:"speed"`
}

type detector[T ~string] struct {
	value T
	re    *regexp.Regexp
}

// Engine applies the detectors. It is safe for concurrent use.
type Engine struct {
	verbosity []detector[model.Verbosity]
	emoji     []detector[model.EmojiPreference]
	tone      []detector[model.Tone]
	format    []detector[model.ResponseFormat]
	speed     []detector[model.ResponseSpeed]
}

// New compiles rules, rejecting values outside each category's enum.
func New(rules Rules) (*Engine, error) {
	var (
		e   Engine
		err error
	)
	if e.verbosity, err = compile("verbosity", rules.Verbosity, model.Verbosity.Valid); err != nil {
		return nil, err
	}
	if e.emoji, err = compile("emoji", rules.Emoji, model.EmojiPreference.Valid); err != nil {
		return nil, err
	}
	if e.tone, err = compile("tone", rules.Tone, model.Tone.Valid); err != nil {
		return nil, err
	}
	if e.format, err = compile("format", rules.Format, model.ResponseFormat.Valid); err != nil {
		return nil, err
	}
	if e.speed, err = compile("speed", rules.Speed, model.ResponseSpeed.Valid); err != nil {
		return nil, err
	}
	return &e, nil
}

func compile[T ~string](category string, in []Detector, valid func(T) bool) ([]detector[T], error) {
	out := make([]detector[T], 0, len(in))
	for _, d := range in {
		v := T(d.Value)
		if !valid(v) {
			return nil, fmt.Errorf("inference: %s: unknown value %q", category, d.Value)
		}
		re, err := regexp.Compile("(?i)" + d.Pattern)
		if err != nil {
			return nil, fmt.Errorf("inference: %s: compile %q: %w", category, d.Pattern, err)
		}
		out = append(out, detector[T]{value: v, re: re})
	}
	return out, nil
}

func firstMatch[T ~string](detectors []detector[T], message string) *T {
	for _, d := range detectors {
		if d.re.MatchString(message) {
			v := d.value
			return &v
		}
	}
	return nil
}

// Infer returns a patch with one field per category whose command phrase
// appears in message. Categories without an explicit match stay nil.
// priorMessageCount is accepted from callers but no detector consults it.
func (e *Engine) Infer(userID, message string, priorMessageCount int) model.ProfilePatch {
	return model.ProfilePatch{
		Verbosity: firstMatch(e.verbosity, message),
		Emoji:     firstMatch(e.emoji, message),
		Tone:      firstMatch(e.tone, message),
		Format:    firstMatch(e.format, message),
		Speed:     firstMatch(e.speed, message),
	}
}
