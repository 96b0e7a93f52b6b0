// Package consumer drains the inbound queue in per-conversation batches
// and hands them to the backend.
package consumer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/matheus-giordani/emme7-bot/entity"
	"github.com/matheus-giordani/emme7-bot/internal/lib/metrics"
	"github.com/matheus-giordani/emme7-bot/internal/lib/sl"
	"github.com/matheus-giordani/emme7-bot/internal/queue"
)

type Forwarder interface {
	Forward(ctx context.Context, batch []entity.InboundEvent) error
}

type Options struct {
	PollInterval time.Duration
	SettleTime   time.Duration
	Workers      int
	MaxAttempts  int
}

type Consumer struct {
	queue     queue.Queue
	locker    queue.Locker
	forwarder Forwarder
	opts      Options

	mu       sync.Mutex
	attempts map[string]int
	inFlight map[string]bool

	now func() time.Time
	log *slog.Logger
}

// Group is the pending entries of one conversation in receipt order.
type Group struct {
	Key     string
	Entries []queue.Entry
}

func (g Group) newest() time.Time {
	return g.Entries[len(g.Entries)-1].EnqueuedAt
}

func (g Group) events() []entity.InboundEvent {
	events := make([]entity.InboundEvent, len(g.Entries))
	for i, e := range g.Entries {
		events[i] = e.Event
	}
	return events
}

func New(q queue.Queue, forwarder Forwarder, opts Options, log *slog.Logger) *Consumer {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	return &Consumer{
		queue:     q,
		forwarder: forwarder,
		opts:      opts,
		attempts:  make(map[string]int),
		inFlight:  make(map[string]bool),
		now:       time.Now,
		log:       log.With(sl.Module("consumer")),
	}
}

// SetLocker makes every cycle run under the given lock.
func (c *Consumer) SetLocker(locker queue.Locker) {
	c.locker = locker
}

// Run polls until ctx is done. Cycle failures are logged and retried on
// the next tick.
func (c *Consumer) Run(ctx context.Context) error {
	c.log.With(
		slog.Duration("poll_interval", c.opts.PollInterval),
		slog.Duration("settle_time", c.opts.SettleTime),
		slog.Int("workers", c.opts.Workers),
	).Info("consumer started")

	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	for {
		if err := c.Cycle(ctx); err != nil && ctx.Err() == nil {
			c.log.Error("consumer cycle", sl.Err(err))
		}
		select {
		case <-ctx.Done():
			c.log.Info("consumer stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Cycle forwards every settled conversation once.
func (c *Consumer) Cycle(ctx context.Context) error {
	if c.locker != nil {
		lockCtx, release, err := c.locker.Acquire(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrNotLeader) {
				c.log.Debug("another consumer is active")
				return nil
			}
			return err
		}
		defer release()
		ctx = lockCtx
	}

	entries, err := c.queue.Pending(ctx)
	if err != nil {
		return err
	}
	metrics.QueueDepth.Set(float64(len(entries)))

	ready := c.ready(Groups(entries))
	if len(ready) == 0 {
		return nil
	}

	var g errgroup.Group
	g.SetLimit(c.opts.Workers)
	for _, group := range ready {
		group := group
		g.Go(func() error {
			defer c.release(group.Key)
			c.handle(ctx, group)
			return nil
		})
	}
	return g.Wait()
}

// Groups splits entries by conversation key, keeping receipt order inside
// each group and first-seen order between groups.
func Groups(entries []queue.Entry) []Group {
	index := make(map[string]int)
	var groups []Group
	for _, e := range entries {
		key := e.Event.ConversationKey()
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, Group{Key: key})
		}
		groups[i].Entries = append(groups[i].Entries, e)
	}
	return groups
}

// ready keeps settled groups that no worker holds and marks them taken.
func (c *Consumer) ready(groups []Group) []Group {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []Group
	for _, g := range groups {
		if c.inFlight[g.Key] || now.Sub(g.newest()) < c.opts.SettleTime {
			continue
		}
		c.inFlight[g.Key] = true
		out = append(out, g)
	}
	return out
}

func (c *Consumer) release(key string) {
	c.mu.Lock()
	delete(c.inFlight, key)
	c.mu.Unlock()
}

func (c *Consumer) handle(ctx context.Context, group Group) {
	log := c.log.With(
		slog.String("conversation", group.Key),
		slog.Int("size", len(group.Entries)),
	)

	err := c.forwarder.Forward(ctx, group.events())
	if err != nil && ctx.Err() != nil {
		log.Warn("batch interrupted, left queued", sl.Err(err))
		return
	}
	switch {
	case err == nil:
		if err = c.queue.Ack(ctx, group.Entries); err != nil {
			log.Error("ack batch", sl.Err(err))
			return
		}
		c.forget(group.Entries)
		metrics.BatchesForwarded.WithLabelValues("ok").Inc()
		log.Debug("batch forwarded")

	case errors.Is(err, ErrUnauthorized):
		log.Error("batch kept queued, check listen.key", sl.Err(err))
		metrics.BatchesForwarded.WithLabelValues("unauthorized").Inc()

	case entity.IsValidation(err):
		log.Warn("batch rejected", sl.Err(err))
		c.deadLetter(ctx, log, group)
		metrics.BatchesForwarded.WithLabelValues("rejected").Inc()

	default:
		attempts := c.fail(group.Entries)
		if attempts >= c.opts.MaxAttempts {
			log.Error("batch failed, giving up", slog.Int("attempts", attempts), sl.Err(err))
			c.deadLetter(ctx, log, group)
			metrics.BatchesForwarded.WithLabelValues("dead").Inc()
			return
		}
		log.Warn("batch failed, will retry", slog.Int("attempts", attempts), sl.Err(err))
		metrics.BatchesForwarded.WithLabelValues("retry").Inc()
	}
}

func (c *Consumer) deadLetter(ctx context.Context, log *slog.Logger, group Group) {
	if err := c.queue.DeadLetter(ctx, group.Entries); err != nil {
		log.Error("dead letter batch", sl.Err(err))
		return
	}
	c.forget(group.Entries)
}

// fail counts one more failed attempt for every entry and returns the
// highest count in the group.
func (c *Consumer) fail(entries []queue.Entry) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	highest := 0
	for _, e := range entries {
		c.attempts[e.Member]++
		if n := c.attempts[e.Member]; n > highest {
			highest = n
		}
	}
	return highest
}

func (c *Consumer) forget(entries []queue.Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range entries {
		delete(c.attempts, e.Member)
	}
}
