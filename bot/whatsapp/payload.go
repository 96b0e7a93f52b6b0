package whatsapp

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

const EventMessagesUpsert = "messages.upsert"

// WebhookPayload is the envelope Evolution posts for every instance event.
type WebhookPayload struct {
	Event       string          `json:"event"`
	Instance    string          `json:"instance"`
	Data        json.RawMessage `json:"data"`
	Destination string          `json:"destination,omitempty"`
	DateTime    string          `json:"date_time,omitempty"`
	Sender      string          `json:"sender,omitempty"`
	ServerURL   string          `json:"server_url,omitempty"`
	ApiKey      string          `json:"apikey,omitempty"`
}

// NormalizedEvent turns "MESSAGES_UPSERT" and "messages.upsert" into the latter.
func NormalizedEvent(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "_", ".")
}

type MessageKey struct {
	RemoteJid   string `json:"remoteJid"`
	FromMe      bool   `json:"fromMe"`
	ID          string `json:"id"`
	Participant string `json:"participant,omitempty"`
}

// WhatsAppMessage is one entry of a messages.upsert event.
type WhatsAppMessage struct {
	Key              MessageKey   `json:"key"`
	PushName         string       `json:"pushName,omitempty"`
	Message          *MessageBody `json:"message,omitempty"`
	MessageType      string       `json:"messageType,omitempty"`
	MessageTimestamp Timestamp    `json:"messageTimestamp,omitempty"`
	Sender           string       `json:"sender,omitempty"`
	Participant      string       `json:"participant,omitempty"`
}

type MessageBody struct {
	Conversation        string `json:"conversation,omitempty"`
	ExtendedTextMessage *struct {
		Text string `json:"text"`
	} `json:"extendedTextMessage,omitempty"`
	ImageMessage    *MediaMessage `json:"imageMessage,omitempty"`
	VideoMessage    *MediaMessage `json:"videoMessage,omitempty"`
	AudioMessage    *MediaMessage `json:"audioMessage,omitempty"`
	DocumentMessage *MediaMessage `json:"documentMessage,omitempty"`
	StickerMessage  *MediaMessage `json:"stickerMessage,omitempty"`
	ReactionMessage *struct {
		Text string `json:"text"`
	} `json:"reactionMessage,omitempty"`

	EphemeralMessage           *WrappedMessage `json:"ephemeralMessage,omitempty"`
	ViewOnceMessage            *WrappedMessage `json:"viewOnceMessage,omitempty"`
	ViewOnceMessageV2          *WrappedMessage `json:"viewOnceMessageV2,omitempty"`
	DocumentWithCaptionMessage *WrappedMessage `json:"documentWithCaptionMessage,omitempty"`

	// present when the instance has webhook_base64 enabled
	Base64 string `json:"base64,omitempty"`
}

type WrappedMessage struct {
	Message *MessageBody `json:"message"`
}

type MediaMessage struct {
	URL        string `json:"url,omitempty"`
	DirectPath string `json:"directPath,omitempty"`
	Mimetype   string `json:"mimetype,omitempty"`
	Caption    string `json:"caption,omitempty"`
	FileName   string `json:"fileName,omitempty"`
}

func (m *MediaMessage) Link() string {
	if m.URL != "" {
		return m.URL
	}
	return m.DirectPath
}

// Unwrap follows ephemeral and view-once wrappers down to the content.
func (b *MessageBody) Unwrap() *MessageBody {
	for depth := 0; b != nil && depth < 5; depth++ {
		var next *WrappedMessage
		switch {
		case b.EphemeralMessage != nil:
			next = b.EphemeralMessage
		case b.ViewOnceMessageV2 != nil:
			next = b.ViewOnceMessageV2
		case b.ViewOnceMessage != nil:
			next = b.ViewOnceMessage
		case b.DocumentWithCaptionMessage != nil:
			next = b.DocumentWithCaptionMessage
		default:
			return b
		}
		if next.Message == nil {
			return b
		}
		if next.Message.Base64 == "" {
			next.Message.Base64 = b.Base64
		}
		b = next.Message
	}
	return b
}

// Timestamp accepts unix seconds or milliseconds, as a number or a string.
type Timestamp int64

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.HasPrefix(data, []byte("{")) {
		// protobuf Long as {"low":..,"high":..}
		var long struct {
			Low  uint32 `json:"low"`
			High int32  `json:"high"`
		}
		if err := json.Unmarshal(data, &long); err != nil {
			return err
		}
		*t = Timestamp(int64(long.High)<<32 | int64(long.Low))
		return nil
	}
	data = bytes.Trim(data, `"`)
	if len(data) == 0 || string(data) == "null" {
		*t = 0
		return nil
	}
	f, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return err
	}
	*t = Timestamp(f)
	return nil
}

func (t Timestamp) Time() time.Time {
	if t == 0 {
		return time.Time{}
	}
	if t > 1e12 {
		return time.UnixMilli(int64(t)).UTC()
	}
	return time.Unix(int64(t), 0).UTC()
}

// Messages returns the messages of an upsert event, whether data holds one
// message or a {"messages": [...]} batch.
func (p *WebhookPayload) Messages() ([]WhatsAppMessage, error) {
	if len(p.Data) == 0 || string(p.Data) == "null" {
		return nil, nil
	}
	if trimmed := bytes.TrimSpace(p.Data); len(trimmed) > 0 && trimmed[0] == '[' {
		var list []WhatsAppMessage
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, err
		}
		return list, nil
	}
	var batch struct {
		Messages []WhatsAppMessage `json:"messages"`
	}
	if err := json.Unmarshal(p.Data, &batch); err == nil && len(batch.Messages) > 0 {
		return batch.Messages, nil
	}
	var single WhatsAppMessage
	if err := json.Unmarshal(p.Data, &single); err != nil {
		return nil, err
	}
	return []WhatsAppMessage{single}, nil
}
