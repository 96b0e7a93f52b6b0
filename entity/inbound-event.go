package entity

import (
	"time"
)

// InboundEvent is a normalized gateway message as it travels through the
// queue and the batch endpoint.
type InboundEvent struct {
	ID          string    `json:"id" validate:"required"`
	MessageID   string    `json:"message_id,omitempty"`
	Phone       string    `json:"phone" validate:"required,numeric,min=8,max=20"`
	Instance    string    `json:"instance" validate:"required"`
	StorePhone  string    `json:"store_phone,omitempty" validate:"omitempty,numeric"`
	PushName    string    `json:"push_name,omitempty"`
	Sender      string    `json:"sender" validate:"required,oneof=usr hum"`
	Type        string    `json:"type" validate:"required,oneof=text audio image video document sticker"`
	Text        string    `json:"text" validate:"required"`
	ContentLink string    `json:"content_link,omitempty"`
	SentAt      time.Time `json:"sent_at" validate:"required"`
	ReceivedAt  time.Time `json:"received_at"`
	UseLLM      bool      `json:"use_llm"`
	SendReply   bool      `json:"send_reply"`
}

func (e InboundEvent) ConversationKey() string {
	return ConversationKey(e.Phone, e.Instance)
}

func (e InboundEvent) DedupKey() string {
	return MessageDedupKey(e.MessageID, e.Sender, e.SentAt, e.Text)
}

func (e InboundEvent) Message(chatID string, now time.Time) ChatMessage {
	return ChatMessage{
		ChatID:      chatID,
		DedupKey:    e.DedupKey(),
		Direction:   DirectionInbound,
		Sender:      e.Sender,
		Type:        e.Type,
		Content:     e.Text,
		ContentLink: e.ContentLink,
		SentAt:      e.SentAt,
		CreatedAt:   now,
	}
}

// BatchResult is returned by the batch endpoint.
type BatchResult struct {
	ChatID   string   `json:"chat_id"`
	Status   string   `json:"status"`
	Stored   int      `json:"stored"`
	Reply    string   `json:"reply,omitempty"`
	Sent     bool     `json:"sent"`
	LeadID   string   `json:"lead_id,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

const (
	BatchReplied       = "replied"
	BatchSilent        = "silent"
	BatchStored        = "stored"
	BatchHumanCooldown = "human_cooldown"
)

// WebhookAck is the body returned to the gateway.
type WebhookAck struct {
	Status string `json:"status"`
	Queued int    `json:"queued,omitempty"`
}

const (
	WebhookQueued  = "success"
	WebhookIgnored = "ignored"
)
