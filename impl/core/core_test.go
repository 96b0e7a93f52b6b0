package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matheus-giordani/emme7-bot/entity"
	"github.com/matheus-giordani/emme7-bot/internal/config"
	"github.com/matheus-giordani/emme7-bot/internal/memstore"
	"github.com/matheus-giordani/emme7-bot/internal/service/leads"
)

const (
	customerPhone    = "5511999999999"
	forwardNumber    = "5511000000001"
	responsiblePhone = "5511000000002"
)

type respondFunc func(turn entity.AgentTurn, onLead entity.LeadHandler) (entity.AgentReply, error)

type scriptedAgent struct {
	steps []respondFunc
	turns []entity.AgentTurn
}

func (a *scriptedAgent) Respond(_ context.Context, turn entity.AgentTurn, onLead entity.LeadHandler) (entity.AgentReply, error) {
	a.turns = append(a.turns, turn)
	if len(a.steps) == 0 {
		return entity.AgentReply{}, nil
	}
	step := a.steps[0]
	a.steps = a.steps[1:]
	return step(turn, onLead)
}

func say(text string) respondFunc {
	return func(entity.AgentTurn, entity.LeadHandler) (entity.AgentReply, error) {
		return entity.AgentReply{Text: text}, nil
	}
}

type recorder struct {
	mu   sync.Mutex
	sent map[string][]string
	via  map[string][]string
	fail map[string]error
}

func (r *recorder) SendText(_ context.Context, instance, number, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail[number]; err != nil {
		return err
	}
	if r.via == nil {
		r.via = make(map[string][]string)
	}
	r.via[number] = append(r.via[number], instance)
	if r.sent == nil {
		r.sent = make(map[string][]string)
	}
	r.sent[number] = append(r.sent[number], text)
	return nil
}

func (r *recorder) instances(number string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.via[number]
}

func (r *recorder) count(number string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent[number])
}

type testEnv struct {
	core     *Core
	store    *memstore.Store
	agent    *scriptedAgent
	notifier *recorder
	clock    time.Time
}

func newTestEnv(t *testing.T, steps ...respondFunc) *testEnv {
	t.Helper()
	conf := &config.Config{}
	conf.Store.Name = "Loja de Móveis"
	conf.Store.ForwardNumber = forwardNumber
	conf.Store.ResponsibleNumber = responsiblePhone
	conf.Agent.HistoryLimit = 10
	conf.Agent.HumanCooldown = 5 * time.Minute
	conf.Agent.EchoWindow = 20 * time.Second
	conf.Listen.ApiKey = "secret-key"

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	env := &testEnv{
		store:    memstore.New(),
		agent:    &scriptedAgent{steps: steps},
		notifier: &recorder{},
		clock:    time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC),
	}
	registrar := leads.NewRegistrar(env.store, env.notifier, leads.Options{
		ForwardNumber:     forwardNumber,
		ResponsibleNumber: responsiblePhone,
		Gate:              leads.NewGate([]string{"name", "phone", "product_interest", "city", "budget_range"}),
	}, log)

	env.core = New(conf, log)
	env.core.SetRepository(env.store)
	env.core.SetAgent(env.agent)
	env.core.SetNotifier(env.notifier)
	env.core.SetRegistrar(registrar)
	env.core.now = func() time.Time { return env.clock }
	return env
}

func (e *testEnv) event(id, sender, text string) entity.InboundEvent {
	e.clock = e.clock.Add(time.Minute)
	ev := entity.InboundEvent{
		ID:         "ev-" + id,
		MessageID:  "WA" + id,
		Phone:      customerPhone,
		Instance:   "loja",
		StorePhone: "5511888888888",
		PushName:   "Ana",
		Sender:     sender,
		Type:       entity.TypeText,
		Text:       text,
		SentAt:     e.clock,
		ReceivedAt: e.clock,
		UseLLM:     sender == entity.SenderUser,
		SendReply:  sender == entity.SenderUser,
	}
	return ev
}

func TestProcessBatchEndToEndLead(t *testing.T) {
	full := entity.LeadFields{
		Name:            "Ana",
		Phone:           customerPhone,
		ProductInterest: "sofá",
		City:            "Moema",
		BudgetRange:     "até 5 mil",
	}
	partial := full
	partial.City = ""
	partial.BudgetRange = ""

	var partialOutcome, fullOutcome entity.LeadOutcome
	env := newTestEnv(t,
		say("Que ótimo! Qual seu nome?"),
		say("Prazer, Ana! Qual seu telefone?"),
		func(_ entity.AgentTurn, onLead entity.LeadHandler) (entity.AgentReply, error) {
			partialOutcome = onLead(context.Background(), partial)
			return entity.AgentReply{Text: "Em qual bairro você mora e qual seu orçamento?"}, nil
		},
		func(_ entity.AgentTurn, onLead entity.LeadHandler) (entity.AgentReply, error) {
			fullOutcome = onLead(context.Background(), full)
			return entity.AgentReply{
				Text:   "Perfeito, nossa equipe vai te chamar!",
				Action: &entity.LeadAction{Fields: full, Outcome: fullOutcome},
			}, nil
		},
	)
	ctx := context.Background()

	texts := []string{"Quero um sofá", "meu nome é Ana", "telefone 5511999999999", "moro em Moema, até 5 mil"}
	var chatID string
	var last *entity.BatchResult
	for i, text := range texts {
		res, err := env.core.ProcessBatch(ctx, []entity.InboundEvent{env.event(fmt.Sprint(i), entity.SenderUser, text)})
		require.NoError(t, err)
		assert.Equal(t, entity.BatchReplied, res.Status)
		assert.True(t, res.Sent)
		chatID = res.ChatID
		last = res
	}

	assert.Equal(t, []string{"city", "budget_range"}, partialOutcome.Missing)
	assert.True(t, fullOutcome.OK)
	assert.NotEmpty(t, last.LeadID)

	require.Len(t, env.agent.turns, 4)
	final := env.agent.turns[3]
	assert.Len(t, final.History, 6)
	assert.Equal(t, "Quero um sofá", final.History[0].Content)
	assert.Equal(t, "moro em Moema, até 5 mil", final.LastText())
	assert.Equal(t, "5511888888888", final.Store.EntryPhone)
	assert.Equal(t, "Ana", final.Customer.Name)

	lead, err := env.store.GetLeadByChat(ctx, chatID)
	require.NoError(t, err)
	require.NotNil(t, lead)
	assert.Equal(t, "Ana", lead.Name)
	assert.Equal(t, customerPhone, lead.Phone)
	assert.Equal(t, 1, env.store.LeadCount())

	assert.Equal(t, 1, env.notifier.count(forwardNumber))
	assert.Equal(t, 1, env.notifier.count(responsiblePhone))
	assert.Equal(t, []string{""}, env.notifier.instances(forwardNumber))
	assert.Equal(t, []string{"loja", "loja", "loja", "loja"}, env.notifier.instances(customerPhone))
	assert.Equal(t, 4, env.notifier.count(customerPhone))
	assert.Equal(t, 8, env.store.MessageCount(chatID))
}

func TestProcessBatchReplayIsIdempotent(t *testing.T) {
	env := newTestEnv(t, say("Olá! Como posso ajudar?"), say("não deveria ser chamado"))
	ctx := context.Background()
	batch := []entity.InboundEvent{
		env.event("1", entity.SenderUser, "oi"),
		env.event("2", entity.SenderUser, "quero uma mesa"),
	}

	first, err := env.core.ProcessBatch(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Stored)

	again, err := env.core.ProcessBatch(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Stored)
	assert.Equal(t, entity.BatchReplied, again.Status)
	assert.Equal(t, "Olá! Como posso ajudar?", again.Reply)

	assert.Len(t, env.agent.turns, 1)
	assert.Equal(t, 3, env.store.MessageCount(first.ChatID))
	assert.Equal(t, 1, env.notifier.count(customerPhone))

	messages, err := env.store.ListMessages(ctx, first.ChatID, 10)
	require.NoError(t, err)
	assert.Equal(t, "oi", messages[0].Content)
	assert.Equal(t, "quero uma mesa", messages[1].Content)
	assert.Equal(t, entity.SenderLLM, messages[2].Sender)
}

func TestProcessBatchLateRedeliveryIsNotAnsweredTwice(t *testing.T) {
	env := newTestEnv(t, say("Olá!"), say("Temos mesas de jantar."), say("não deveria ser chamado"))
	ctx := context.Background()
	older := []entity.InboundEvent{env.event("1", entity.SenderUser, "oi")}
	newer := []entity.InboundEvent{env.event("2", entity.SenderUser, "quero uma mesa")}

	_, err := env.core.ProcessBatch(ctx, older)
	require.NoError(t, err)
	_, err = env.core.ProcessBatch(ctx, newer)
	require.NoError(t, err)

	again, err := env.core.ProcessBatch(ctx, older)
	require.NoError(t, err)
	assert.Equal(t, entity.BatchReplied, again.Status)
	assert.Equal(t, "Olá!", again.Reply)
	assert.Len(t, env.agent.turns, 2)
	assert.Equal(t, 2, env.notifier.count(customerPhone))
	assert.Equal(t, 4, env.store.MessageCount(again.ChatID))
}

func TestProcessBatchRetriesAfterTransientAgentError(t *testing.T) {
	env := newTestEnv(t,
		func(entity.AgentTurn, entity.LeadHandler) (entity.AgentReply, error) {
			return entity.AgentReply{}, &entity.TransientDeliveryError{Op: "chat completion", Err: errors.New("timeout")}
		},
		say("Temos sim!"),
	)
	ctx := context.Background()
	batch := []entity.InboundEvent{env.event("1", entity.SenderUser, "tem cama box?")}

	_, err := env.core.ProcessBatch(ctx, batch)
	require.Error(t, err)
	assert.True(t, entity.IsTransient(err))

	res, err := env.core.ProcessBatch(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, "Temos sim!", res.Reply)
	assert.Equal(t, 2, env.store.MessageCount(res.ChatID))
	assert.Empty(t, env.agent.turns[1].History)
}

func TestProcessBatchSilentOnRejectedAgent(t *testing.T) {
	env := newTestEnv(t, func(entity.AgentTurn, entity.LeadHandler) (entity.AgentReply, error) {
		return entity.AgentReply{}, errors.New("chat completion rejected")
	})
	res, err := env.core.ProcessBatch(context.Background(), []entity.InboundEvent{env.event("1", entity.SenderUser, "oi")})
	require.NoError(t, err)
	assert.Equal(t, entity.BatchSilent, res.Status)
	assert.Equal(t, 0, env.notifier.count(customerPhone))
}

func TestProcessBatchOperatorPausesAgent(t *testing.T) {
	env := newTestEnv(t, say("resposta"))
	ctx := context.Background()

	res, err := env.core.ProcessBatch(ctx, []entity.InboundEvent{env.event("1", entity.SenderHuman, "Oi Ana, aqui é o Carlos")})
	require.NoError(t, err)
	assert.Equal(t, entity.BatchStored, res.Status)
	assert.Equal(t, 1, res.Stored)

	res, err = env.core.ProcessBatch(ctx, []entity.InboundEvent{env.event("2", entity.SenderUser, "oi Carlos")})
	require.NoError(t, err)
	assert.Equal(t, entity.BatchHumanCooldown, res.Status)
	assert.Empty(t, env.agent.turns)

	env.clock = env.clock.Add(10 * time.Minute)
	res, err = env.core.ProcessBatch(ctx, []entity.InboundEvent{env.event("3", entity.SenderUser, "alguém aí?")})
	require.NoError(t, err)
	assert.Equal(t, entity.BatchReplied, res.Status)
	require.Len(t, env.agent.turns, 1)
	assert.True(t, strings.HasPrefix(env.agent.turns[0].History[0].Content, "Oi Ana"))
}

func TestProcessBatchSkipsAgentEcho(t *testing.T) {
	env := newTestEnv(t, say("Temos pronta entrega."))
	env.core.humanCooldown = 0
	ctx := context.Background()

	res, err := env.core.ProcessBatch(ctx, []entity.InboundEvent{env.event("1", entity.SenderUser, "tem pronta entrega?")})
	require.NoError(t, err)

	echo := env.event("2", entity.SenderHuman, "Temos pronta entrega.")
	echo.SentAt = env.clock.Add(-50 * time.Second)
	res, err = env.core.ProcessBatch(ctx, []entity.InboundEvent{echo})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Stored)
	assert.Equal(t, 2, env.store.MessageCount(res.ChatID))
}

func TestProcessBatchRejectsInvalidBatches(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.core.ProcessBatch(ctx, nil)
	assert.True(t, entity.IsValidation(err))

	a := env.event("1", entity.SenderUser, "oi")
	b := env.event("2", entity.SenderUser, "oi")
	b.Phone = "5511977777777"
	_, err = env.core.ProcessBatch(ctx, []entity.InboundEvent{a, b})
	assert.True(t, entity.IsValidation(err))

	c := env.event("3", entity.SenderUser, "")
	_, err = env.core.ProcessBatch(ctx, []entity.InboundEvent{c})
	assert.True(t, entity.IsValidation(err))
}

func TestProcessBatchPersistenceFailure(t *testing.T) {
	env := newTestEnv(t)
	env.store.FailAppend = errors.New("disk full")

	_, err := env.core.ProcessBatch(context.Background(), []entity.InboundEvent{env.event("1", entity.SenderUser, "oi")})
	require.Error(t, err)
	assert.True(t, entity.IsPersistence(err))
}

func TestProcessBatchSendFailureKeepsResult(t *testing.T) {
	env := newTestEnv(t, say("Olá!"))
	env.notifier.fail = map[string]error{customerPhone: &entity.NotificationError{Number: customerPhone, Status: 400, Message: "invalid number"}}

	res, err := env.core.ProcessBatch(context.Background(), []entity.InboundEvent{env.event("1", entity.SenderUser, "oi")})
	require.NoError(t, err)
	assert.Equal(t, entity.BatchReplied, res.Status)
	assert.False(t, res.Sent)
	assert.Contains(t, res.Warnings, "reply not delivered")
	assert.Equal(t, 1, env.store.MessageCount(res.ChatID))
}

func TestAuthenticateByToken(t *testing.T) {
	env := newTestEnv(t)

	user, err := env.core.AuthenticateByToken("secret-key")
	require.NoError(t, err)
	assert.Equal(t, "staff", user)

	_, err = env.core.AuthenticateByToken("wrong")
	assert.ErrorIs(t, err, ErrUnauthorized)

	feed := env.core.IssueFeedTicket(user)
	subject, err := env.core.ValidateToken(feed)
	require.NoError(t, err)
	assert.Equal(t, "staff", subject)
	_, err = env.core.ValidateToken("secret-key")
	assert.ErrorIs(t, err, ErrUnauthorized)

	env.core.SetAuthKey("")
	_, err = env.core.AuthenticateByToken("")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestKeyLockerSerializesAndForgets(t *testing.T) {
	l := newKeyLocker()
	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Lock("k")
			counter++
			l.Unlock("k")
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, counter)
	assert.Empty(t, l.keys)
}

func TestProcessBatchRepliesFromSessionInstance(t *testing.T) {
	env := newTestEnv(t, say("Olá! Como posso ajudar?"))
	ev := env.event("1", entity.SenderUser, "oi")
	ev.Instance = "loja-sul"

	res, err := env.core.ProcessBatch(context.Background(), []entity.InboundEvent{ev})
	require.NoError(t, err)
	assert.True(t, res.Sent)
	assert.Equal(t, []string{"loja-sul"}, env.notifier.instances(customerPhone))
}
