package gpt

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

// Prompt is the system prompt file of an agent.
type Prompt struct {
	System       string `toml:"system"`
	SystemPrompt string `toml:"system_prompt"`
}

// LoadPrompt reads a TOML prompt file. Either "system" or "system_prompt"
// must be set.
func LoadPrompt(path string) (*Prompt, error) {
	var p Prompt
	if _, err := toml.DecodeFile(path, &p); err != nil {
		return nil, fmt.Errorf("decode prompt %s: %w", path, err)
	}
	if p.System == "" {
		p.System = p.SystemPrompt
	}
	p.System = strings.TrimSpace(p.System)
	if p.System == "" {
		return nil, fmt.Errorf("prompt %s: no system text", path)
	}
	return &p, nil
}
