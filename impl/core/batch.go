package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/matheus-giordani/emme7-bot/entity"
	"github.com/matheus-giordani/emme7-bot/internal/lib/sl"
	"github.com/matheus-giordani/emme7-bot/internal/service/leads"
)

const replyKeyPrefix = "llm:"

// ProcessBatch stores one conversation's batch and, when the last message
// asks for it, lets the agent answer. Batches for the same conversation
// run one at a time.
func (c *Core) ProcessBatch(ctx context.Context, batch []entity.InboundEvent) (*entity.BatchResult, error) {
	if c.repo == nil || c.agent == nil {
		return nil, errors.New("batch processing not configured")
	}
	key, err := c.checkBatch(batch)
	if err != nil {
		return nil, err
	}

	c.locker.Lock(key)
	defer c.locker.Unlock(key)

	first, last := batch[0], batch[len(batch)-1]
	log := c.log.With(
		slog.String("conversation", key),
		slog.Int("size", len(batch)),
	)

	now := c.now().UTC()
	session, err := c.repo.UpsertChat(ctx, first.Phone, first.Instance, now)
	if err != nil {
		return nil, &entity.PersistenceError{Op: "upsert chat", Err: err}
	}
	log = log.With(slog.String("chat_id", session.ID))

	result := &entity.BatchResult{ChatID: session.ID, Status: entity.BatchStored}
	result.Stored, err = c.storeBatch(ctx, session, batch, now)
	if err != nil {
		return nil, err
	}

	if !last.UseLLM {
		log.Debug("batch stored without agent")
		return result, nil
	}

	if c.humanCooldown > 0 {
		human, err := c.repo.LastMessageBy(ctx, session.ID, entity.SenderHuman)
		if err != nil {
			return nil, &entity.PersistenceError{Op: "last operator message", Err: err}
		}
		if human != nil && now.Sub(human.SentAt) < c.humanCooldown {
			log.With(slog.Time("operator_at", human.SentAt)).Info("operator active, agent paused")
			result.Status = entity.BatchHumanCooldown
			return result, nil
		}
	}

	replyKey := replyKeyPrefix + last.DedupKey()
	previous, err := c.repo.GetMessageByKey(ctx, session.ID, replyKey)
	if err != nil {
		return nil, &entity.PersistenceError{Op: "stored reply", Err: err}
	}
	if previous != nil {
		log.Info("batch already answered")
		result.Status = entity.BatchReplied
		result.Reply = previous.Content
		result.Sent = true
		return result, nil
	}

	turn, err := c.buildTurn(ctx, session, batch, now)
	if err != nil {
		return nil, err
	}
	if len(turn.Batch) == 0 {
		return result, nil
	}

	reply, err := c.agent.Respond(ctx, *turn, c.leadHandler(session))
	if err != nil {
		if entity.IsTransient(err) {
			log.With(sl.Err(err)).Warn("agent unavailable")
			return nil, err
		}
		// the customer gets no reply rather than an error text
		log.With(sl.Err(err)).Error("agent failed")
		result.Status = entity.BatchSilent
		result.Warnings = append(result.Warnings, "agent failed")
		return result, nil
	}
	if reply.Action != nil {
		result.LeadID = reply.Action.Outcome.LeadID
		result.Warnings = append(result.Warnings, reply.Action.Outcome.Errors...)
	}
	if reply.Text == "" {
		result.Status = entity.BatchSilent
		return result, nil
	}

	result.Status = entity.BatchReplied
	result.Reply = reply.Text
	if last.SendReply {
		if err = c.sendReply(ctx, session.Instance, session.Phone, reply.Text); err != nil {
			log.With(sl.Err(err)).Error("send reply")
			result.Warnings = append(result.Warnings, "reply not delivered")
			return result, nil
		}
		result.Sent = true
	}

	sentAt := c.now().UTC()
	msg := &entity.ChatMessage{
		ID:        uuid.NewString(),
		ChatID:    session.ID,
		DedupKey:  replyKey,
		Direction: entity.DirectionOutbound,
		Sender:    entity.SenderLLM,
		Type:      entity.TypeText,
		Content:   reply.Text,
		SentAt:    sentAt,
		CreatedAt: sentAt,
	}
	if _, err = c.repo.AppendMessage(ctx, msg); err != nil {
		// already sent, a retry would repeat it
		log.With(sl.Err(err)).Error("store reply")
		result.Warnings = append(result.Warnings, "reply not stored")
		return result, nil
	}
	c.broadcastMessage(*msg)

	log.With(
		slog.Bool("sent", result.Sent),
		slog.String("lead_id", result.LeadID),
	).Info("batch answered")
	return result, nil
}

func (c *Core) checkBatch(batch []entity.InboundEvent) (string, error) {
	if len(batch) == 0 {
		return "", &entity.ValidationError{Field: "messages", Reason: "required"}
	}
	key := batch[0].ConversationKey()
	for i, e := range batch {
		if err := c.validate.Struct(e); err != nil {
			return "", &entity.ValidationError{Field: fmt.Sprintf("messages[%d]", i), Reason: err.Error()}
		}
		if e.ConversationKey() != key {
			return "", &entity.ValidationError{Field: fmt.Sprintf("messages[%d]", i), Reason: "different conversation"}
		}
	}
	return key, nil
}

// storeBatch appends the batch in order. Messages already stored under the
// same dedup key are skipped, so a replayed batch adds nothing.
func (c *Core) storeBatch(ctx context.Context, session *entity.ChatSession, batch []entity.InboundEvent, now time.Time) (int, error) {
	stored := 0
	for i, e := range batch {
		if e.Sender == entity.SenderHuman {
			echo, err := c.isEcho(ctx, session.ID, e)
			if err != nil {
				return stored, err
			}
			if echo {
				c.log.With(slog.String("chat_id", session.ID)).Debug("agent echo skipped")
				continue
			}
		}
		msg := e.Message(session.ID, now.Add(time.Duration(i)*time.Millisecond))
		msg.ID = uuid.NewString()
		created, err := c.repo.AppendMessage(ctx, &msg)
		if err != nil {
			return stored, &entity.PersistenceError{Op: "append message", Err: err}
		}
		if created {
			stored++
			c.broadcastMessage(msg)
		}
	}
	return stored, nil
}

// isEcho reports whether an operator-side message is the gateway's copy of
// the agent's own last reply.
func (c *Core) isEcho(ctx context.Context, chatID string, e entity.InboundEvent) (bool, error) {
	if c.echoWindow <= 0 {
		return false, nil
	}
	reply, err := c.repo.LastMessageBy(ctx, chatID, entity.SenderLLM)
	if err != nil {
		return false, &entity.PersistenceError{Op: "last agent message", Err: err}
	}
	if reply == nil || strings.TrimSpace(reply.Content) != strings.TrimSpace(e.Text) {
		return false, nil
	}
	gap := e.SentAt.Sub(reply.CreatedAt)
	if gap < 0 {
		gap = -gap
	}
	return gap <= c.echoWindow, nil
}

func (c *Core) buildTurn(ctx context.Context, session *entity.ChatSession, batch []entity.InboundEvent, now time.Time) (*entity.AgentTurn, error) {
	current := make(map[string]bool, len(batch))
	customer := make([]entity.InboundEvent, 0, len(batch))
	for _, e := range batch {
		current[e.DedupKey()] = true
		if e.Sender == entity.SenderUser {
			customer = append(customer, e)
		}
	}

	recent, err := c.repo.ListMessages(ctx, session.ID, c.historyLimit+len(batch))
	if err != nil {
		return nil, &entity.PersistenceError{Op: "list messages", Err: err}
	}
	history := make([]entity.ChatMessage, 0, len(recent))
	for _, m := range recent {
		if !current[m.DedupKey] {
			history = append(history, m)
		}
	}
	if c.historyLimit > 0 && len(history) > c.historyLimit {
		history = history[len(history)-c.historyLimit:]
	}

	lead, err := c.repo.GetLeadByChat(ctx, session.ID)
	if err != nil {
		return nil, &entity.PersistenceError{Op: "get lead", Err: err}
	}

	store := c.store
	store.EntryPhone = batch[len(batch)-1].StorePhone
	turn := &entity.AgentTurn{
		Session:  session,
		History:  history,
		Batch:    customer,
		Now:      now,
		Store:    store,
		Customer: entity.CustomerInfo{Phone: session.Phone},
		Lead:     lead,
	}
	for i := len(customer) - 1; i >= 0; i-- {
		if customer[i].PushName != "" {
			turn.Customer.Name = customer[i].PushName
			break
		}
	}
	return turn, nil
}

// leadHandler binds register-lead actions to the session being answered.
func (c *Core) leadHandler(session *entity.ChatSession) entity.LeadHandler {
	return func(ctx context.Context, fields entity.LeadFields) entity.LeadOutcome {
		if c.registrar == nil {
			return entity.LeadOutcome{Message: "Registro de leads indisponível."}
		}
		if strings.TrimSpace(fields.Phone) == "" {
			fields.Phone = session.Phone
		}
		res, err := c.registrar.Register(ctx, session.ID, fields)
		if err != nil {
			c.log.With(
				slog.String("chat_id", session.ID),
				sl.Err(err),
			).Warn("lead not registered")
		} else if res.Created && c.hub != nil {
			c.hub.BroadcastLead(*res.Lead)
		}
		return leads.Outcome(res, err)
	}
}

// sendReply answers from the instance the customer wrote to.
func (c *Core) sendReply(ctx context.Context, instance, number, text string) error {
	if c.notifier == nil {
		return errors.New("notifier not configured")
	}
	return c.notifier.SendText(ctx, instance, number, text)
}

func (c *Core) broadcastMessage(msg entity.ChatMessage) {
	if c.hub != nil {
		c.hub.BroadcastMessage(msg)
	}
}
