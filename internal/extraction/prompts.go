package extraction

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var promptsYAML []byte

// Prompt is the extraction instruction set for one document type
type Prompt struct {
	Instructions string   `yaml:"instructions"`
	Labels       []string `yaml:"labels"`
	IDFormat     string   `yaml:"id_format"`
	Fields       []string `yaml:"fields"`
}

// Render formats the prompt as model instructions.
func (p Prompt) Render() string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(p.Instructions))
	if len(p.Labels) > 0 {
		fmt.Fprintf(&b, "\nLabels to look for: %s.", strings.Join(p.Labels, ", "))
	}
	if p.IDFormat != "" {
		fmt.Fprintf(&b, "\nExpected identifier format: %s.", p.IDFormat)
	}
	if len(p.Fields) > 0 {
		fmt.Fprintf(&b, "\nRequired fields: %s.", strings.Join(p.Fields, ", "))
	}
	return b.String()
}

// PromptCatalog maps document types to prompts with a generic default
type PromptCatalog struct {
	Generic Prompt                  `yaml:"generic"`
	Types   map[DocumentType]Prompt `yaml:"types"`
}

// LoadPromptCatalog parses a YAML catalogue.
func LoadPromptCatalog(data []byte) (*PromptCatalog, error) {
	var c PromptCatalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse prompt catalog: %w", err)
	}
	if strings.TrimSpace(c.Generic.Instructions) == "" {
		return nil, fmt.Errorf("prompt catalog has no generic instructions")
	}
	return &c, nil
}

var defaultCatalog = mustLoadCatalog()

func mustLoadCatalog() *PromptCatalog {
	c, err := LoadPromptCatalog(promptsYAML)
	if err != nil {
		panic(err)
	}
	return c
}

// DefaultPrompts returns the built-in catalogue.
func DefaultPrompts() *PromptCatalog {
	return defaultCatalog
}

// Select returns the prompt for t, or the generic prompt for unknown types.
func (c *PromptCatalog) Select(t DocumentType) Prompt {
	if p, ok := c.Types[t]; ok && t.Known() {
		return p
	}
	return c.Generic
}
