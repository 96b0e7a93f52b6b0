package main

import (
	"errors"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/matheus-giordani/emme7-bot/internal/config"
	"github.com/matheus-giordani/emme7-bot/internal/consumer"
	"github.com/matheus-giordani/emme7-bot/internal/lib/sl"
	"github.com/matheus-giordani/emme7-bot/internal/queue"
)

var consumeCmd = &cobra.Command{
	Use:   "consume",
	Short: "Run the batch consumer",
	Long: `Polls the Redis queue, batches messages per conversation and posts
them to the backend batch endpoint. Replicas coordinate through a lock.`,
	RunE: runConsume,
}

func runConsume(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	conf, lg := setup(ctx)

	if conf.Queue.Driver != config.QueueRedis {
		return errors.New("consume needs queue.driver redis; the memory queue is consumed by serve")
	}
	q, err := queue.NewRedisQueue(ctx, redisOptions(conf), lg)
	if err != nil {
		lg.Error("redis queue", sl.Err(err))
		return err
	}
	defer func() {
		_ = q.Close()
	}()

	c := newConsumer(conf, q, lg)
	c.SetLocker(q)
	return c.Run(ctx)
}

func newConsumer(conf *config.Config, q queue.Queue, lg *slog.Logger) *consumer.Consumer {
	forwarder := consumer.NewHTTPForwarder(conf.Consumer.BackendURL, conf.Listen.ApiKey, conf.Consumer.Timeout)
	lg.With(
		slog.String("backend", conf.Consumer.BackendURL),
		slog.Int("max_attempts", conf.Consumer.MaxAttempts),
	).Info("consumer initialized")
	return consumer.New(q, forwarder, consumer.Options{
		PollInterval: conf.Consumer.PollInterval,
		SettleTime:   conf.Consumer.SettleTime,
		Workers:      conf.Consumer.Workers,
		MaxAttempts:  conf.Consumer.MaxAttempts,
	}, lg)
}

func redisOptions(conf *config.Config) queue.RedisOptions {
	return queue.RedisOptions{
		URL:           conf.Queue.RedisURL,
		Key:           conf.Queue.Key,
		DeadLetterKey: conf.Queue.DeadLetterKey,
		LockKey:       conf.Queue.LockKey,
		// renewed while a cycle runs; a crashed consumer frees it within this
		LockTTL: 30 * time.Second,
	}
}
