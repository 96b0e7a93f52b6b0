package gpt

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/sashabaranov/go-openai"

	"github.com/matheus-giordani/emme7-bot/entity"
	"github.com/matheus-giordani/emme7-bot/internal/lib/sl"
)

const (
	toolRegisterLead = "register_lead"
	toolSearchPrices = "search_product_prices"
)

// PriceSearcher looks up marketplace offers for a product.
type PriceSearcher interface {
	Search(ctx context.Context, query string, limit int) entity.PriceReport
}

func reflectSchema(v interface{}) *jsonschema.Schema {
	reflector := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	schema := reflector.Reflect(v)
	schema.Version = ""
	schema.ID = ""
	return schema
}

func registerLeadTool() openai.Tool {
	return openai.Tool{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        toolRegisterLead,
			Description: "Salva dados do cliente interessado, envia o resumo para a loja e notifica o responsável.",
			Parameters:  reflectSchema(&entity.LeadFields{}),
		},
	}
}

func searchPricesTool() openai.Tool {
	return openai.Tool{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        toolSearchPrices,
			Description: "Consulta marketplaces e retorna as ofertas mais relevantes para o produto informado.",
			Parameters:  reflectSchema(&entity.PriceQuery{}),
		},
	}
}

type toolError struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// handleCommand runs one tool call and returns the JSON handed back to the model.
func (a *SalesAgent) handleCommand(ctx context.Context, call openai.ToolCall, onLead entity.LeadHandler, reply *entity.AgentReply) string {
	log := a.log.With(
		slog.String("command", call.Function.Name),
		slog.String("args", call.Function.Arguments),
	)
	log.Debug("handling command")

	switch call.Function.Name {
	case toolRegisterLead:
		var fields entity.LeadFields
		if err := json.Unmarshal([]byte(call.Function.Arguments), &fields); err != nil {
			log.Warn("unmarshalling arguments", sl.Err(err))
			return asJSON(toolError{Message: "Argumentos inválidos para register_lead."})
		}
		if onLead == nil {
			return asJSON(toolError{Message: "Registro de leads indisponível."})
		}
		outcome := onLead(ctx, fields)
		reply.Action = &entity.LeadAction{Fields: fields, Outcome: outcome}
		return asJSON(outcome)
	case toolSearchPrices:
		var query entity.PriceQuery
		if err := json.Unmarshal([]byte(call.Function.Arguments), &query); err != nil || strings.TrimSpace(query.Query) == "" {
			log.Warn("unmarshalling arguments", sl.Err(err))
			return asJSON(toolError{Message: "Argumentos inválidos para search_product_prices."})
		}
		if a.prices == nil {
			return asJSON(toolError{Message: "Pesquisa de preços indisponível."})
		}
		return asJSON(a.prices.Search(ctx, query.Query, query.MaxResults))
	default:
		log.Warn("unknown command")
		return asJSON(toolError{Message: "Ferramenta desconhecida."})
	}
}
