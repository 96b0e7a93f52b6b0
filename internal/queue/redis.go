package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"

	"github.com/matheus-giordani/emme7-bot/entity"
	"github.com/matheus-giordani/emme7-bot/internal/lib/sl"
)

// RedisQueue keeps events in a sorted set scored by enqueue time in
// milliseconds. Dead letters go to a second sorted set.
type RedisQueue struct {
	client  *redis.Client
	rs      *redsync.Redsync
	key     string
	deadKey string
	lockKey string
	lockTTL time.Duration
	log     *slog.Logger
}

type RedisOptions struct {
	URL           string
	Key           string
	DeadLetterKey string
	LockKey       string
	LockTTL       time.Duration
}

func NewRedisQueue(ctx context.Context, opts RedisOptions, logger *slog.Logger) (*RedisQueue, error) {
	redisOpts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(redisOpts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err = client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	if opts.LockTTL <= 0 {
		opts.LockTTL = time.Minute
	}
	return &RedisQueue{
		client:  client,
		rs:      redsync.New(goredis.NewPool(client)),
		key:     opts.Key,
		deadKey: opts.DeadLetterKey,
		lockKey: opts.LockKey,
		lockTTL: opts.LockTTL,
		log:     logger.With(sl.Module("queue.redis")),
	}, nil
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}

func (q *RedisQueue) Enqueue(ctx context.Context, event entity.InboundEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	at := event.ReceivedAt
	if at.IsZero() {
		at = time.Now()
	}
	err = q.client.ZAdd(ctx, q.key, redis.Z{
		Score:  float64(at.UnixMilli()),
		Member: string(data),
	}).Err()
	if err != nil {
		return &entity.TransientDeliveryError{Op: "queue enqueue", Err: err}
	}
	return nil
}

// Pending reads the whole set. Members that no longer decode are moved to
// the dead-letter set and skipped.
func (q *RedisQueue) Pending(ctx context.Context) ([]Entry, error) {
	items, err := q.client.ZRangeWithScores(ctx, q.key, 0, -1).Result()
	if err != nil {
		return nil, &entity.TransientDeliveryError{Op: "queue read", Err: err}
	}

	entries := make([]Entry, 0, len(items))
	var broken []Entry
	for _, item := range items {
		member, ok := item.Member.(string)
		if !ok {
			continue
		}
		entry := Entry{
			Member:     member,
			EnqueuedAt: time.UnixMilli(int64(item.Score)),
		}
		if err = json.Unmarshal([]byte(member), &entry.Event); err != nil {
			q.log.Warn("undecodable queue member", sl.Err(err))
			broken = append(broken, entry)
			continue
		}
		entries = append(entries, entry)
	}
	if len(broken) > 0 {
		if err = q.DeadLetter(ctx, broken); err != nil {
			q.log.Error("dead-letter undecodable members", sl.Err(err))
		}
	}
	return entries, nil
}

func (q *RedisQueue) Ack(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	if err := q.client.ZRem(ctx, q.key, members(entries)...).Err(); err != nil {
		return &entity.TransientDeliveryError{Op: "queue ack", Err: err}
	}
	return nil
}

func (q *RedisQueue) DeadLetter(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, e := range entries {
			pipe.ZAdd(ctx, q.deadKey, redis.Z{
				Score:  float64(e.EnqueuedAt.UnixMilli()),
				Member: e.Member,
			})
		}
		pipe.ZRem(ctx, q.key, members(entries)...)
		return nil
	})
	if err != nil {
		return &entity.TransientDeliveryError{Op: "queue dead-letter", Err: err}
	}
	return nil
}

func (q *RedisQueue) Depth(ctx context.Context) (int64, error) {
	n, err := q.client.ZCard(ctx, q.key).Result()
	if err != nil {
		return 0, &entity.TransientDeliveryError{Op: "queue depth", Err: err}
	}
	return n, nil
}

// Acquire takes the consumer lock without waiting and keeps extending it
// until release.
func (q *RedisQueue) Acquire(ctx context.Context) (context.Context, func(), error) {
	mutex := q.rs.NewMutex(q.lockKey, redsync.WithExpiry(q.lockTTL), redsync.WithTries(1))
	if err := mutex.TryLockContext(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		return nil, nil, fmt.Errorf("%w: %v", ErrNotLeader, err)
	}
	lockCtx, stop := keepAlive(ctx, q.lockTTL, mutex.ExtendContext, q.log)
	return lockCtx, func() {
		stop()
		if _, err := mutex.UnlockContext(context.Background()); err != nil {
			q.log.Warn("release consumer lock", sl.Err(err))
		}
	}, nil
}

func members(entries []Entry) []interface{} {
	out := make([]interface{}, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Member)
	}
	return out
}
