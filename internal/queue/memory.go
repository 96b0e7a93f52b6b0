package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/matheus-giordani/emme7-bot/entity"
)

// MemoryQueue is a process-local Queue for single-binary runs and tests.
type MemoryQueue struct {
	mu      sync.Mutex
	entries []Entry
	dead    []Entry
	lock    sync.Mutex
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

func (q *MemoryQueue) Enqueue(_ context.Context, event entity.InboundEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	at := event.ReceivedAt
	if at.IsZero() {
		at = time.Now()
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append(q.entries, Entry{Event: event, Member: string(data), EnqueuedAt: at})
	sort.SliceStable(q.entries, func(i, j int) bool {
		return q.entries[i].EnqueuedAt.Before(q.entries[j].EnqueuedAt)
	})
	return nil
}

func (q *MemoryQueue) Pending(_ context.Context) ([]Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Entry, len(q.entries))
	copy(out, q.entries)
	return out, nil
}

func (q *MemoryQueue) Ack(_ context.Context, entries []Entry) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = without(q.entries, entries)
	return nil
}

func (q *MemoryQueue) DeadLetter(_ context.Context, entries []Entry) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = without(q.entries, entries)
	q.dead = append(q.dead, entries...)
	return nil
}

func (q *MemoryQueue) Depth(_ context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.entries)), nil
}

// DeadLetters returns what was moved out of the queue for good.
func (q *MemoryQueue) DeadLetters() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Entry, len(q.dead))
	copy(out, q.dead)
	return out
}

func (q *MemoryQueue) Acquire(ctx context.Context) (context.Context, func(), error) {
	if !q.lock.TryLock() {
		return nil, nil, ErrNotLeader
	}
	lockCtx, cancel := context.WithCancel(ctx)
	return lockCtx, func() {
		cancel()
		q.lock.Unlock()
	}, nil
}

func without(all, drop []Entry) []Entry {
	gone := make(map[string]bool, len(drop))
	for _, e := range drop {
		gone[e.Member] = true
	}
	kept := all[:0]
	for _, e := range all {
		if !gone[e.Member] {
			kept = append(kept, e)
		}
	}
	return kept
}
