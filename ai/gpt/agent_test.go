package gpt

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matheus-giordani/emme7-bot/entity"
)

type scriptedClient struct {
	responses []openai.ChatCompletionMessage
	err       error
	requests  []openai.ChatCompletionRequest
}

func (s *scriptedClient) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	s.requests = append(s.requests, req)
	if s.err != nil {
		return openai.ChatCompletionResponse{}, s.err
	}
	if len(s.responses) == 0 {
		return openai.ChatCompletionResponse{}, nil
	}
	msg := s.responses[0]
	s.responses = s.responses[1:]
	return openai.ChatCompletionResponse{Choices: []openai.ChatCompletionChoice{{Message: msg}}}, nil
}

func newTestAgent(t *testing.T, client ChatClient) *SalesAgent {
	t.Helper()
	a, err := NewSalesAgent(client, &Prompt{System: "Você é a recepcionista."}, Options{
		Timezone: "America/Sao_Paulo",
		Rounds:   2,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return a
}

func testTurn() entity.AgentTurn {
	return entity.AgentTurn{
		History: []entity.ChatMessage{
			{Sender: entity.SenderUser, Content: "Quero um sofá"},
			{Sender: entity.SenderLLM, Content: "Claro! Qual seu nome?"},
			{Sender: entity.SenderHuman, Content: "temos pronta entrega"},
		},
		Batch:    []entity.InboundEvent{{Text: "meu nome é Ana"}, {Text: "moro em Moema"}},
		Now:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Store:    entity.StoreInfo{Name: "Loja de Móveis"},
		Customer: entity.CustomerInfo{Phone: "5511999999999"},
	}
}

func toolCall(args string) openai.ChatCompletionMessage {
	return namedToolCall(toolRegisterLead, args)
}

func namedToolCall(name, args string) openai.ChatCompletionMessage {
	return openai.ChatCompletionMessage{
		Role: openai.ChatMessageRoleAssistant,
		ToolCalls: []openai.ToolCall{{
			ID:   "call_1",
			Type: openai.ToolTypeFunction,
			Function: openai.FunctionCall{
				Name:      name,
				Arguments: args,
			},
		}},
	}
}

func TestRespondPlainReply(t *testing.T) {
	client := &scriptedClient{responses: []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleAssistant, Content: " Prazer, Ana! 【4:0†fonte】"},
	}}
	a := newTestAgent(t, client)

	reply, err := a.Respond(context.Background(), testTurn(), nil)
	require.NoError(t, err)
	assert.Equal(t, "Prazer, Ana!", reply.Text)
	assert.Nil(t, reply.Action)

	req := client.requests[0]
	require.Len(t, req.Messages, 5)
	assert.Equal(t, openai.ChatMessageRoleSystem, req.Messages[0].Role)
	assert.Contains(t, req.Messages[0].Content, "Você é a recepcionista.")
	assert.Contains(t, req.Messages[0].Content, "2026-03-01 09:00 (domingo)")
	assert.Contains(t, req.Messages[0].Content, "Lead registrado: nenhum")
	assert.Equal(t, openai.ChatMessageRoleUser, req.Messages[1].Role)
	assert.Equal(t, openai.ChatMessageRoleAssistant, req.Messages[2].Role)
	assert.True(t, strings.HasPrefix(req.Messages[3].Content, operatorPrefix))
	assert.Equal(t, "ultima mensagem do usuario:meu nome é Ana\nmoro em Moema", req.Messages[4].Content)
	require.Len(t, req.Tools, 1)
	assert.Equal(t, toolRegisterLead, req.Tools[0].Function.Name)
}

func TestRespondRunsRegisterLeadTool(t *testing.T) {
	client := &scriptedClient{responses: []openai.ChatCompletionMessage{
		toolCall(`{"customer_name":"Ana","customer_phone":"5511999999999","customer_city":"Moema","product_interest":"sofá","budget_range":"até 5 mil"}`),
		{Role: openai.ChatMessageRoleAssistant, Content: "Pronto, a equipe vai te chamar!"},
	}}
	a := newTestAgent(t, client)

	var got entity.LeadFields
	handler := func(_ context.Context, f entity.LeadFields) entity.LeadOutcome {
		got = f
		return entity.LeadOutcome{OK: true, LeadID: "lead-1"}
	}

	reply, err := a.Respond(context.Background(), testTurn(), handler)
	require.NoError(t, err)
	assert.Equal(t, "Pronto, a equipe vai te chamar!", reply.Text)
	assert.Equal(t, "Ana", got.Name)
	require.NotNil(t, reply.Action)
	assert.Equal(t, "lead-1", reply.Action.Outcome.LeadID)

	require.Len(t, client.requests, 2)
	second := client.requests[1].Messages
	last := second[len(second)-1]
	assert.Equal(t, openai.ChatMessageRoleTool, last.Role)
	assert.Equal(t, "call_1", last.ToolCallID)
	assert.Contains(t, last.Content, `"lead_id":"lead-1"`)
}

func TestRespondForcesTextAfterToolRounds(t *testing.T) {
	client := &scriptedClient{responses: []openai.ChatCompletionMessage{
		toolCall(`{"customer_name":"Ana"}`),
		toolCall(`{"customer_name":"Ana"}`),
		{Role: openai.ChatMessageRoleAssistant, Content: "Qual sua cidade?"},
	}}
	a := newTestAgent(t, client)
	calls := 0
	handler := func(_ context.Context, f entity.LeadFields) entity.LeadOutcome {
		calls++
		return entity.LeadOutcome{Missing: []string{"city"}}
	}

	reply, err := a.Respond(context.Background(), testTurn(), handler)
	require.NoError(t, err)
	assert.Equal(t, "Qual sua cidade?", reply.Text)
	assert.Equal(t, 2, calls)
	require.Len(t, client.requests, 3)
	assert.Equal(t, "none", client.requests[2].ToolChoice)
}

func TestRespondBadToolArguments(t *testing.T) {
	client := &scriptedClient{responses: []openai.ChatCompletionMessage{
		toolCall(`{not json`),
		{Role: openai.ChatMessageRoleAssistant, Content: "Pode repetir seu nome?"},
	}}
	a := newTestAgent(t, client)
	called := false

	reply, err := a.Respond(context.Background(), testTurn(), func(context.Context, entity.LeadFields) entity.LeadOutcome {
		called = true
		return entity.LeadOutcome{}
	})
	require.NoError(t, err)
	assert.False(t, called)
	assert.Nil(t, reply.Action)
	assert.Equal(t, "Pode repetir seu nome?", reply.Text)
}

func TestRespondProviderErrors(t *testing.T) {
	a := newTestAgent(t, &scriptedClient{err: errors.New("connection reset")})
	_, err := a.Respond(context.Background(), testTurn(), nil)
	assert.True(t, entity.IsTransient(err))

	a = newTestAgent(t, &scriptedClient{err: &openai.APIError{HTTPStatusCode: 400, Message: "bad request"}})
	_, err = a.Respond(context.Background(), testTurn(), nil)
	require.Error(t, err)
	assert.False(t, entity.IsTransient(err))

	a = newTestAgent(t, &scriptedClient{err: &openai.APIError{HTTPStatusCode: 429, Message: "slow down"}})
	_, err = a.Respond(context.Background(), testTurn(), nil)
	assert.True(t, entity.IsTransient(err))
}

func TestRegisterLeadToolSchema(t *testing.T) {
	tool := registerLeadTool()
	data := asJSON(tool.Function.Parameters)

	assert.Contains(t, data, `"customer_name"`)
	assert.Contains(t, data, `"responsible_contact"`)
	assert.Contains(t, data, `"required":["customer_name"]`)
	assert.NotContains(t, data, `"$schema"`)
}

type fakePrices struct {
	query string
	limit int
}

func (f *fakePrices) Search(_ context.Context, query string, limit int) entity.PriceReport {
	f.query, f.limit = query, limit
	return entity.PriceReport{Query: query, Providers: []entity.SitePrices{{
		Site:    "Mercado Livre",
		Status:  entity.PriceStatusOK,
		Results: []entity.PriceOffer{{Title: "Sofá 3 lugares", Price: "R$ 1.899,90", Link: "https://ml/sofa"}},
	}}}
}

func TestRespondRunsPriceSearchTool(t *testing.T) {
	client := &scriptedClient{responses: []openai.ChatCompletionMessage{
		namedToolCall(toolSearchPrices, `{"query":"sofá 3 lugares","max_results":2}`),
		{Role: openai.ChatMessageRoleAssistant, Content: "Encontrei um por R$ 1.899,90."},
	}}
	a := newTestAgent(t, client)
	prices := &fakePrices{}
	a.SetPriceSearcher(prices)

	reply, err := a.Respond(context.Background(), testTurn(), nil)
	require.NoError(t, err)
	assert.Equal(t, "Encontrei um por R$ 1.899,90.", reply.Text)
	assert.Nil(t, reply.Action)
	assert.Equal(t, "sofá 3 lugares", prices.query)
	assert.Equal(t, 2, prices.limit)

	require.Len(t, client.requests, 2)
	require.Len(t, client.requests[0].Tools, 2)
	assert.Equal(t, toolSearchPrices, client.requests[0].Tools[1].Function.Name)
	second := client.requests[1].Messages
	last := second[len(second)-1]
	assert.Equal(t, "call_1", last.ToolCallID)
	assert.Contains(t, last.Content, `"price":"R$ 1.899,90"`)
}

func TestPriceSearchToolNeedsSearcher(t *testing.T) {
	client := &scriptedClient{responses: []openai.ChatCompletionMessage{
		namedToolCall(toolSearchPrices, `{"query":"mesa"}`),
		{Role: openai.ChatMessageRoleAssistant, Content: "Não consigo consultar preços agora."},
	}}
	a := newTestAgent(t, client)

	_, err := a.Respond(context.Background(), testTurn(), nil)
	require.NoError(t, err)
	require.Len(t, client.requests[0].Tools, 1)
	second := client.requests[1].Messages
	assert.Contains(t, second[len(second)-1].Content, "indisponível")
}

func TestSearchPricesToolSchema(t *testing.T) {
	data := asJSON(searchPricesTool().Function.Parameters)

	assert.Contains(t, data, `"required":["query"]`)
	assert.Contains(t, data, `"max_results"`)
	assert.Contains(t, data, `"maximum":10`)
}

func TestLoadPrompt(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "a.toml")
	require.NoError(t, os.WriteFile(path, []byte("system_prompt = \"\"\"\n  Olá \n\"\"\"\n"), 0o600))
	p, err := LoadPrompt(path)
	require.NoError(t, err)
	assert.Equal(t, "Olá", p.System)

	empty := filepath.Join(dir, "b.toml")
	require.NoError(t, os.WriteFile(empty, []byte("other = 1\n"), 0o600))
	_, err = LoadPrompt(empty)
	assert.Error(t, err)

	_, err = LoadPrompt("../../prompts/sales_prompt.toml")
	assert.NoError(t, err)
}
