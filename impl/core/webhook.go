package core

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"

	"github.com/matheus-giordani/emme7-bot/bot/whatsapp"
	"github.com/matheus-giordani/emme7-bot/entity"
	"github.com/matheus-giordani/emme7-bot/internal/lib/metrics"
	"github.com/matheus-giordani/emme7-bot/internal/lib/sl"
)

// CheckWebhookKey reports whether the gateway presented the shared secret.
// Any key is accepted when none is configured.
func (c *Core) CheckWebhookKey(key string) bool {
	if c.hookKey == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(key), []byte(c.hookKey)) == 1
}

// EnqueueWebhook normalizes a gateway envelope and queues each message.
// Nothing is queued when the upsert carries no usable message.
func (c *Core) EnqueueWebhook(ctx context.Context, payload *whatsapp.WebhookPayload) (*entity.WebhookAck, error) {
	if c.queue == nil || c.mapper == nil {
		return nil, errors.New("webhook intake not configured")
	}
	event := whatsapp.NormalizedEvent(payload.Event)
	if event == "" {
		metrics.WebhookEvents.WithLabelValues("malformed").Inc()
		return nil, &entity.ValidationError{Field: "event", Reason: "required"}
	}
	if event != whatsapp.EventMessagesUpsert {
		metrics.WebhookEvents.WithLabelValues("ignored").Inc()
		return &entity.WebhookAck{Status: entity.WebhookIgnored}, nil
	}

	log := c.log.With(
		slog.String("event", event),
		slog.String("instance", payload.Instance),
	)

	mapped, err := c.mapper.Map(ctx, payload)
	if err != nil {
		metrics.WebhookEvents.WithLabelValues("malformed").Inc()
		return nil, &entity.ValidationError{Field: "data", Reason: err.Error()}
	}

	valid := make([]entity.InboundEvent, 0, len(mapped.Events))
	malformed := len(mapped.Malformed)
	for _, e := range mapped.Malformed {
		log.Debug("malformed message", sl.Err(e))
	}
	for _, e := range mapped.Events {
		if err = c.validate.Struct(e); err != nil {
			log.With(
				slog.String("message_id", e.MessageID),
				sl.Err(err),
			).Debug("invalid event")
			malformed++
			continue
		}
		valid = append(valid, e)
	}

	if len(valid) == 0 {
		if malformed == 0 && mapped.Skipped > 0 {
			metrics.WebhookEvents.WithLabelValues("ignored").Inc()
			return &entity.WebhookAck{Status: entity.WebhookIgnored}, nil
		}
		metrics.WebhookEvents.WithLabelValues("malformed").Inc()
		return nil, &entity.ValidationError{Field: "data", Reason: "no message with sender and text"}
	}

	queued := 0
	for _, e := range valid {
		if err = c.queue.Enqueue(ctx, e); err != nil {
			metrics.WebhookEvents.WithLabelValues("error").Inc()
			log.With(sl.Err(err)).Error("enqueue event")
			return nil, err
		}
		queued++
	}
	metrics.WebhookEvents.WithLabelValues("queued").Add(float64(queued))
	if depth, err := c.queue.Depth(ctx); err == nil {
		metrics.QueueDepth.Set(float64(depth))
	}

	log.With(
		slog.Int("queued", queued),
		slog.Int("skipped", mapped.Skipped),
		slog.Int("malformed", malformed),
	).Debug("webhook queued")

	return &entity.WebhookAck{Status: entity.WebhookQueued, Queued: queued}, nil
}
