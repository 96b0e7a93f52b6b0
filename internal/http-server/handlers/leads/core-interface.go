package leads

import (
	"context"

	"github.com/matheus-giordani/emme7-bot/entity"
)

type Core interface {
	ListLeads(ctx context.Context, limit, offset int) ([]entity.CustomerLead, error)
	GetLead(ctx context.Context, chatID string) (*entity.CustomerLead, error)
}
