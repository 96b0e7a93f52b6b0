package leads

import (
	"strings"

	"github.com/matheus-giordani/emme7-bot/entity"
)

// Gate decides whether collected fields are enough to register a lead.
type Gate struct {
	required []string
}

func NewGate(required []string) *Gate {
	fields := make([]string, 0, len(required))
	for _, f := range required {
		if f = strings.TrimSpace(f); f != "" {
			fields = append(fields, f)
		}
	}
	return &Gate{required: fields}
}

func (g *Gate) Required() []string {
	return append([]string(nil), g.required...)
}

// Missing lists required fields that are absent or blank, in config order.
func (g *Gate) Missing(f entity.LeadFields) []string {
	var missing []string
	for _, name := range g.required {
		if v, ok := f.Value(name); !ok || strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	return missing
}

func (g *Gate) Satisfied(f entity.LeadFields) bool {
	return len(g.Missing(f)) == 0
}
