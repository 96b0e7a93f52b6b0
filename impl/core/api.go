package core

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/matheus-giordani/emme7-bot/entity"
	"github.com/matheus-giordani/emme7-bot/internal/lib/ticket"
)

const (
	staffUser = "staff"
	feedTTL   = 2 * time.Minute
)

var ErrUnauthorized = errors.New("invalid api key")

// AuthenticateByToken checks the static API key and returns the caller name.
func (c *Core) AuthenticateByToken(token string) (string, error) {
	if c.authKey == "" || token == "" {
		return "", ErrUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(c.authKey)) != 1 {
		return "", ErrUnauthorized
	}
	return staffUser, nil
}

// IssueFeedTicket signs a short-lived live feed token for an authenticated caller.
func (c *Core) IssueFeedTicket(user string) string {
	return ticket.Sign(user, c.authKey, feedTTL, c.now())
}

// ValidateToken authenticates live feed connections with a feed ticket.
func (c *Core) ValidateToken(token string) (string, error) {
	user, ok := ticket.Verify(token, c.authKey, c.now())
	if !ok {
		return "", ErrUnauthorized
	}
	return user, nil
}

func (c *Core) ListLeads(ctx context.Context, limit, offset int) ([]entity.CustomerLead, error) {
	list, err := c.repo.ListLeads(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list leads: %w", err)
	}
	return list, nil
}

func (c *Core) GetLead(ctx context.Context, chatID string) (*entity.CustomerLead, error) {
	lead, err := c.repo.GetLeadByChat(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("get lead: %w", err)
	}
	return lead, nil
}

// GetChatMessages returns the last limit messages of a chat, oldest first.
// A nil slice with no error means the chat does not exist.
func (c *Core) GetChatMessages(ctx context.Context, chatID string, limit int) ([]entity.ChatMessage, error) {
	chat, err := c.repo.GetChat(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("get chat: %w", err)
	}
	if chat == nil {
		return nil, nil
	}
	messages, err := c.repo.ListMessages(ctx, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	if messages == nil {
		messages = []entity.ChatMessage{}
	}
	return messages, nil
}
