package gpt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/matheus-giordani/emme7-bot/entity"
	"github.com/matheus-giordani/emme7-bot/internal/lib/metrics"
	"github.com/matheus-giordani/emme7-bot/internal/lib/sl"
)

const (
	lastMessagePrefix = "ultima mensagem do usuario:"
	operatorPrefix    = "[atendente da loja] "
)

var citationRe = regexp.MustCompile(`【\d+:\d+†[^】]+】`)

// ChatClient is the part of the OpenAI client the agent uses.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// SalesAgent is the furniture store's reception agent.
type SalesAgent struct {
	client    ChatClient
	model     string
	prompt    *Prompt
	providers []ContextProvider
	rounds    int
	tools     []openai.Tool
	prices    PriceSearcher
	log       *slog.Logger
}

type Options struct {
	Model    string
	Timezone string
	Rounds   int
}

func NewSalesAgent(client ChatClient, prompt *Prompt, opts Options, log *slog.Logger) (*SalesAgent, error) {
	loc, err := time.LoadLocation(opts.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", opts.Timezone, err)
	}
	if opts.Model == "" {
		opts.Model = openai.GPT4oMini
	}
	if opts.Rounds < 1 {
		opts.Rounds = 2
	}
	return &SalesAgent{
		client:    client,
		model:     opts.Model,
		prompt:    prompt,
		providers: DefaultProviders(loc),
		rounds:    opts.Rounds,
		tools:     []openai.Tool{registerLeadTool()},
		log:       log.With(sl.Module("gpt.sales")),
	}, nil
}

// SetPriceSearcher exposes the price search tool to the model.
func (a *SalesAgent) SetPriceSearcher(prices PriceSearcher) {
	a.prices = prices
	a.tools = append(a.tools, searchPricesTool())
}

// Respond produces at most one reply for the batch. Register-lead tool
// calls go through onLead and are reported in the reply's Action.
func (a *SalesAgent) Respond(ctx context.Context, turn entity.AgentTurn, onLead entity.LeadHandler) (entity.AgentReply, error) {
	var reply entity.AgentReply
	messages := a.messages(turn)

	for round := 0; round < a.rounds; round++ {
		msg, err := a.complete(ctx, messages, true)
		if err != nil {
			metrics.AgentReplies.WithLabelValues("error").Inc()
			return reply, err
		}
		if len(msg.ToolCalls) == 0 {
			reply.Text = clean(msg.Content)
			metrics.AgentReplies.WithLabelValues(outcomeLabel(reply.Text)).Inc()
			return reply, nil
		}

		messages = append(messages, msg)
		for _, call := range msg.ToolCalls {
			messages = append(messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    a.handleCommand(ctx, call, onLead, &reply),
				ToolCallID: call.ID,
				Name:       call.Function.Name,
			})
		}
	}

	// out of tool rounds, ask for plain text
	msg, err := a.complete(ctx, messages, false)
	if err != nil {
		metrics.AgentReplies.WithLabelValues("error").Inc()
		return reply, err
	}
	reply.Text = clean(msg.Content)
	metrics.AgentReplies.WithLabelValues(outcomeLabel(reply.Text)).Inc()
	return reply, nil
}

func (a *SalesAgent) complete(ctx context.Context, messages []openai.ChatCompletionMessage, withTools bool) (openai.ChatCompletionMessage, error) {
	req := openai.ChatCompletionRequest{
		Model:    a.model,
		Messages: messages,
		Tools:    a.tools,
	}
	if !withTools {
		req.ToolChoice = "none"
	}

	resp, err := a.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return openai.ChatCompletionMessage{}, classify(err)
	}
	if len(resp.Choices) == 0 {
		return openai.ChatCompletionMessage{}, &entity.TransientDeliveryError{Op: "chat completion", Err: errors.New("no choices")}
	}
	return resp.Choices[0].Message, nil
}

func (a *SalesAgent) messages(turn entity.AgentTurn) []openai.ChatCompletionMessage {
	messages := []openai.ChatCompletionMessage{{
		Role:    openai.ChatMessageRoleSystem,
		Content: a.prompt.System + "\n\n" + buildContext(turn, a.providers),
	}}
	for _, m := range turn.History {
		content := m.Content
		role := openai.ChatMessageRoleAssistant
		switch m.Sender {
		case entity.SenderUser:
			role = openai.ChatMessageRoleUser
		case entity.SenderHuman:
			content = operatorPrefix + content
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: content})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: lastMessagePrefix + turn.LastText(),
	})
	return messages
}

// classify marks provider failures as retryable unless the request itself
// was rejected.
func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode >= 400 && apiErr.HTTPStatusCode < 500 &&
		apiErr.HTTPStatusCode != 408 && apiErr.HTTPStatusCode != 429 {
		return fmt.Errorf("chat completion rejected: %w", err)
	}
	return &entity.TransientDeliveryError{Op: "chat completion", Err: err}
}

func clean(text string) string {
	return strings.TrimSpace(citationRe.ReplaceAllString(text, ""))
}

func outcomeLabel(text string) string {
	if text == "" {
		return "silent"
	}
	return "reply"
}
