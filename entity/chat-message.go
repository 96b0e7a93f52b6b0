package entity

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	SenderUser  = "usr"
	SenderLLM   = "llm"
	SenderHuman = "hum"

	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"

	TypeText     = "text"
	TypeAudio    = "audio"
	TypeImage    = "image"
	TypeVideo    = "video"
	TypeDocument = "document"
	TypeSticker  = "sticker"
)

// ChatSession is one customer conversation on one gateway instance.
type ChatSession struct {
	ID               string    `json:"id" bson:"_id"`
	Phone            string    `json:"phone" bson:"phone"`
	Instance         string    `json:"instance" bson:"instance"`
	CreatedAt        time.Time `json:"created_at" bson:"created_at"`
	LastInteractedAt time.Time `json:"last_interacted_at" bson:"last_interacted_at"`
}

func NewChatSession(phone, instance string, at time.Time) *ChatSession {
	return &ChatSession{
		ID:               uuid.NewString(),
		Phone:            phone,
		Instance:         instance,
		CreatedAt:        at,
		LastInteractedAt: at,
	}
}

func ConversationKey(phone, instance string) string {
	return phone + "_" + instance
}

func (s *ChatSession) Key() string {
	return ConversationKey(s.Phone, s.Instance)
}

// ChatMessage is an append-only record of a single message in a session.
type ChatMessage struct {
	ID          string    `json:"id" bson:"_id"`
	ChatID      string    `json:"chat_id" bson:"chat_id"`
	DedupKey    string    `json:"-" bson:"dedup_key"`
	Direction   string    `json:"direction" bson:"direction"`
	Sender      string    `json:"sender" bson:"sender"`
	Type        string    `json:"type" bson:"type"`
	Content     string    `json:"content" bson:"content"`
	ContentLink string    `json:"content_link,omitempty" bson:"content_link,omitempty"`
	SentAt      time.Time `json:"sent_at" bson:"sent_at"`
	CreatedAt   time.Time `json:"created_at" bson:"created_at"`
}

// MessageDedupKey identifies a message within its session. Gateway ids win;
// messages without one are keyed by their sender, send time and content.
func MessageDedupKey(gatewayID, sender string, sentAt time.Time, content string) string {
	if gatewayID != "" {
		return "gw:" + gatewayID
	}
	sum := sha1.Sum([]byte(fmt.Sprintf("%s|%d|%s", sender, sentAt.UnixMilli(), content)))
	return "h:" + hex.EncodeToString(sum[:])
}

func (m ChatMessage) Role() string {
	if m.Sender == SenderUser {
		return "user"
	}
	return "assistant"
}
