package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "emme7",
		Name:      "webhook_events_total",
		Help:      "Gateway webhook events by outcome.",
	}, []string{"outcome"})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "emme7",
		Name:      "queue_depth",
		Help:      "Entries waiting in the inbound queue.",
	})

	BatchesForwarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "emme7",
		Name:      "consumer_batches_total",
		Help:      "Batches forwarded by the consumer by outcome.",
	}, []string{"outcome"})

	AgentReplies = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "emme7",
		Name:      "agent_turns_total",
		Help:      "Agent turns by outcome.",
	}, []string{"outcome"})

	LeadsRegistered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "emme7",
		Name:      "leads_total",
		Help:      "Lead registration attempts by outcome.",
	}, []string{"outcome"})

	NotificationsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "emme7",
		Name:      "notifications_total",
		Help:      "Outbound gateway sends by outcome.",
	}, []string{"outcome"})
)
