package process

import (
	"context"

	"github.com/matheus-giordani/emme7-bot/entity"
)

type Core interface {
	ProcessBatch(ctx context.Context, batch []entity.InboundEvent) (*entity.BatchResult, error)
}
