// Package rules loads the immutable rule tables handed to the guardrail,
// inference and quick-reply components at construction.
package rules

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/capitalize-ai/guarded-chat/internal/guardrail"
	"github.com/capitalize-ai/guarded-chat/internal/inference"
	"github.com/capitalize-ai/guarded-chat/internal/quickreply"
)

//go:embed defaults.yaml
var defaultDocument []byte

// Set is one complete rule document.
type Set struct {
	Guardrail    guardrail.Rules  `yaml:"guardrail"`
	Inference    inference.Rules  `yaml:"inference"`
	QuickReplies quickreply.Rules `yaml:"quickReplies"`
}

// Default returns the built-in rule tables.
func Default() (*Set, error) {
	return Parse(defaultDocument)
}

// Load reads a rule document from path. An empty path yields Default.
func Load(path string) (*Set, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a rule document. Unknown keys are rejected.
func Parse(data []byte) (*Set, error) {
	var set Set
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&set); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	if set.Guardrail.MaxLength <= 0 {
		return nil, fmt.Errorf("parse rules: guardrail.maxLength must be positive")
	}
	return &set, nil
}
