package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/matheus-giordani/emme7-bot/entity"
	"github.com/matheus-giordani/emme7-bot/internal/lib/phone"
	"github.com/matheus-giordani/emme7-bot/internal/lib/sl"
)

const (
	audioFallback    = "Mensagem de áudio."
	imageFallback    = "Imagem enviada."
	videoFallback    = "Vídeo enviado."
	documentFallback = "Documento enviado."
	stickerFallback  = "Figurinha enviada."
)

var (
	ErrNoSender  = errors.New("message has no customer sender")
	ErrNoContent = errors.New("message has no text content")
)

// Transcriber turns a voice note into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio AudioSource) (string, error)
}

type AudioSource struct {
	URL      string
	Base64   string
	Mimetype string
}

// MapResult splits a payload into queueable events, messages skipped on
// purpose (groups, reactions) and messages that are malformed.
type MapResult struct {
	Events    []entity.InboundEvent
	Skipped   int
	Malformed []error
}

type MapperOptions struct {
	DefaultInstance   string
	SessionPhones     map[string]string
	DefaultStorePhone string
}

// Mapper normalizes Evolution messages into inbound events.
type Mapper struct {
	opts        MapperOptions
	transcriber Transcriber
	now         func() time.Time
	log         *slog.Logger
}

func NewMapper(opts MapperOptions, log *slog.Logger) *Mapper {
	phones := make(map[string]string, len(opts.SessionPhones))
	for session, p := range opts.SessionPhones {
		if digits := phone.Digits(p); digits != "" {
			phones[session] = digits
		}
	}
	opts.SessionPhones = phones
	opts.DefaultStorePhone = phone.Digits(opts.DefaultStorePhone)
	return &Mapper{
		opts: opts,
		now:  time.Now,
		log:  log.With(sl.Module("whatsapp.mapper")),
	}
}

func (m *Mapper) SetTranscriber(t Transcriber) {
	m.transcriber = t
}

// StorePhone resolves the store number behind an instance: the configured
// session map first, then the default store phone, then a numeric instance.
func (m *Mapper) StorePhone(instance string) string {
	if p, ok := m.opts.SessionPhones[instance]; ok {
		return p
	}
	if m.opts.DefaultStorePhone != "" {
		return m.opts.DefaultStorePhone
	}
	if instance != "" && phone.Digits(instance) == instance {
		return instance
	}
	return ""
}

func (m *Mapper) Map(ctx context.Context, payload *WebhookPayload) (*MapResult, error) {
	messages, err := payload.Messages()
	if err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}

	instance := payload.Instance
	if instance == "" {
		instance = m.opts.DefaultInstance
	}
	storePhone := m.StorePhone(instance)
	received := m.now()

	result := &MapResult{}
	for i := range messages {
		msg := &messages[i]
		if phone.IsGroup(msg.Key.RemoteJid) {
			result.Skipped++
			continue
		}
		body := msg.Message.Unwrap()
		if body != nil && body.ReactionMessage != nil {
			result.Skipped++
			continue
		}

		customer := customerPhone(msg, storePhone)
		if customer == "" {
			result.Malformed = append(result.Malformed, fmt.Errorf("%s: %w", msg.Key.ID, ErrNoSender))
			continue
		}
		text, link, kind := m.content(ctx, body)
		if text == "" {
			result.Malformed = append(result.Malformed, fmt.Errorf("%s: %w", msg.Key.ID, ErrNoContent))
			continue
		}

		sentAt := msg.MessageTimestamp.Time()
		if sentAt.IsZero() {
			sentAt = received.UTC()
		}
		event := entity.InboundEvent{
			ID:          uuid.NewString(),
			MessageID:   msg.Key.ID,
			Phone:       customer,
			Instance:    instance,
			StorePhone:  storePhone,
			PushName:    msg.PushName,
			Sender:      entity.SenderUser,
			Type:        kind,
			Text:        text,
			ContentLink: link,
			SentAt:      sentAt,
			ReceivedAt:  received,
			UseLLM:      true,
			SendReply:   true,
		}
		if msg.Key.FromMe {
			// typed by the store operator on the phone
			event.Sender = entity.SenderHuman
			event.UseLLM = false
			event.SendReply = false
		}
		result.Events = append(result.Events, event)
	}
	return result, nil
}

func customerPhone(msg *WhatsAppMessage, storePhone string) string {
	candidates := []string{msg.Key.RemoteJid, msg.Sender, msg.Key.Participant, msg.Participant}
	for _, c := range candidates {
		p := phone.FromJID(c)
		if p != "" && p != storePhone {
			return p
		}
	}
	return ""
}

func (m *Mapper) content(ctx context.Context, body *MessageBody) (text, link, kind string) {
	if body == nil {
		return "", "", ""
	}
	switch {
	case body.ExtendedTextMessage != nil && body.ExtendedTextMessage.Text != "":
		return body.ExtendedTextMessage.Text, "", entity.TypeText
	case body.Conversation != "":
		return body.Conversation, "", entity.TypeText
	case body.AudioMessage != nil:
		link = body.AudioMessage.Link()
		return m.transcribe(ctx, AudioSource{URL: link, Base64: body.Base64, Mimetype: body.AudioMessage.Mimetype}), link, entity.TypeAudio
	case body.ImageMessage != nil:
		return orDefault(body.ImageMessage.Caption, imageFallback), body.ImageMessage.Link(), entity.TypeImage
	case body.VideoMessage != nil:
		return orDefault(body.VideoMessage.Caption, videoFallback), body.VideoMessage.Link(), entity.TypeVideo
	case body.DocumentMessage != nil:
		caption := orDefault(body.DocumentMessage.Caption, body.DocumentMessage.FileName)
		return orDefault(caption, documentFallback), body.DocumentMessage.Link(), entity.TypeDocument
	case body.StickerMessage != nil:
		return stickerFallback, body.StickerMessage.Link(), entity.TypeSticker
	}
	return "", "", ""
}

func (m *Mapper) transcribe(ctx context.Context, audio AudioSource) string {
	if m.transcriber == nil || (audio.URL == "" && audio.Base64 == "") {
		return audioFallback
	}
	text, err := m.transcriber.Transcribe(ctx, audio)
	if err != nil {
		m.log.Warn("audio transcription", sl.Err(err))
		return audioFallback
	}
	if text == "" {
		return audioFallback
	}
	return text
}

func orDefault(value, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
}
