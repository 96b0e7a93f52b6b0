package gpt

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/matheus-giordani/emme7-bot/entity"
)

// ContextProvider contributes one labelled line to the system context.
type ContextProvider func(turn entity.AgentTurn) (label, value string)

var weekdays = [...]string{"domingo", "segunda-feira", "terça-feira", "quarta-feira", "quinta-feira", "sexta-feira", "sábado"}

func TimeProvider(loc *time.Location) ContextProvider {
	return func(turn entity.AgentTurn) (string, string) {
		now := turn.Now
		if now.IsZero() {
			now = time.Now()
		}
		local := now.In(loc)
		return fmt.Sprintf("Data e hora atual (%s)", loc.String()),
			fmt.Sprintf("%s (%s)", local.Format("2006-01-02 15:04"), weekdays[local.Weekday()])
	}
}

func StoreProvider() ContextProvider {
	return func(turn entity.AgentTurn) (string, string) {
		return "Loja", asJSON(turn.Store)
	}
}

func CustomerProvider() ContextProvider {
	return func(turn entity.AgentTurn) (string, string) {
		return "Cliente", asJSON(turn.Customer)
	}
}

func LeadProvider() ContextProvider {
	return func(turn entity.AgentTurn) (string, string) {
		if turn.Lead == nil {
			return "Lead registrado", "nenhum"
		}
		return "Lead registrado", asJSON(turn.Lead)
	}
}

func DefaultProviders(loc *time.Location) []ContextProvider {
	return []ContextProvider{
		TimeProvider(loc),
		CustomerProvider(),
		StoreProvider(),
		LeadProvider(),
	}
}

func buildContext(turn entity.AgentTurn, providers []ContextProvider) string {
	var b strings.Builder
	b.WriteString("Contexto:")
	for _, p := range providers {
		label, value := p(turn)
		b.WriteString("\n- ")
		b.WriteString(label)
		b.WriteString(": ")
		b.WriteString(value)
	}
	return b.String()
}

func asJSON(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(data)
}
