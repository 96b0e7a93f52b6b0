package queue

import (
	"context"
	"errors"
	"time"

	"github.com/matheus-giordani/emme7-bot/entity"
)

// ErrNotLeader is returned by Acquire when another consumer holds the lock.
var ErrNotLeader = errors.New("queue: consumer lock held elsewhere")

// Entry is a queued event together with its stored form.
type Entry struct {
	Event      entity.InboundEvent
	Member     string
	EnqueuedAt time.Time
}

// Queue holds inbound events until the consumer acknowledges them.
// Pending returns entries ordered by enqueue time.
type Queue interface {
	Enqueue(ctx context.Context, event entity.InboundEvent) error
	Pending(ctx context.Context) ([]Entry, error)
	Ack(ctx context.Context, entries []Entry) error
	DeadLetter(ctx context.Context, entries []Entry) error
	Depth(ctx context.Context) (int64, error)
}

// Locker lets only one consumer run a cycle at a time. The returned
// context ends when the lock is released or lost.
type Locker interface {
	Acquire(ctx context.Context) (lockCtx context.Context, release func(), err error)
}
