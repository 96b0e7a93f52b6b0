package chats

import (
	"context"

	"github.com/matheus-giordani/emme7-bot/entity"
)

type Core interface {
	GetChatMessages(ctx context.Context, chatID string, limit int) ([]entity.ChatMessage, error)
}
