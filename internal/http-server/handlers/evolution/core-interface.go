package evolution

import (
	"context"

	"github.com/matheus-giordani/emme7-bot/bot/whatsapp"
	"github.com/matheus-giordani/emme7-bot/entity"
)

type Core interface {
	CheckWebhookKey(key string) bool
	EnqueueWebhook(ctx context.Context, payload *whatsapp.WebhookPayload) (*entity.WebhookAck, error)
}
