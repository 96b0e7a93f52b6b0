package whatsapp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matheus-giordani/emme7-bot/entity"
)

type stubTranscriber struct {
	text string
	err  error
	got  AudioSource
}

func (s *stubTranscriber) Transcribe(_ context.Context, audio AudioSource) (string, error) {
	s.got = audio
	return s.text, s.err
}

func newTestMapper() *Mapper {
	m := NewMapper(MapperOptions{
		DefaultInstance: "loja-centro",
		SessionPhones:   map[string]string{"loja-centro": "+55 11 90000-0000"},
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	m.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return m
}

func payload(t *testing.T, raw string) *WebhookPayload {
	t.Helper()
	var p WebhookPayload
	require.NoError(t, json.Unmarshal([]byte(raw), &p))
	return &p
}

func TestMapTextMessage(t *testing.T) {
	p := payload(t, `{
		"event": "messages.upsert",
		"instance": "loja-centro",
		"data": {
			"key": {"remoteJid": "5511999999999@s.whatsapp.net", "fromMe": false, "id": "MSG1"},
			"pushName": "Ana",
			"message": {"conversation": "Quero um sofá"},
			"messageTimestamp": 1772366400
		}
	}`)

	res, err := newTestMapper().Map(context.Background(), p)
	require.NoError(t, err)
	require.Len(t, res.Events, 1)

	e := res.Events[0]
	assert.Equal(t, "5511999999999", e.Phone)
	assert.Equal(t, "loja-centro", e.Instance)
	assert.Equal(t, "5511900000000", e.StorePhone)
	assert.Equal(t, "MSG1", e.MessageID)
	assert.Equal(t, "Quero um sofá", e.Text)
	assert.Equal(t, entity.SenderUser, e.Sender)
	assert.Equal(t, entity.TypeText, e.Type)
	assert.True(t, e.UseLLM)
	assert.True(t, e.SendReply)
	assert.Equal(t, time.Unix(1772366400, 0).UTC(), e.SentAt)
	assert.NotEmpty(t, e.ID)
}

func TestMapOperatorMessageDisablesAgent(t *testing.T) {
	p := payload(t, `{
		"event": "messages.upsert",
		"instance": "loja-centro",
		"data": {
			"key": {"remoteJid": "5511999999999@s.whatsapp.net", "fromMe": true, "id": "OP1"},
			"message": {"extendedTextMessage": {"text": "Oi Ana, aqui é a Carla"}},
			"messageTimestamp": "1772366400000"
		}
	}`)

	res, err := newTestMapper().Map(context.Background(), p)
	require.NoError(t, err)
	require.Len(t, res.Events, 1)

	e := res.Events[0]
	assert.Equal(t, entity.SenderHuman, e.Sender)
	assert.False(t, e.UseLLM)
	assert.False(t, e.SendReply)
	assert.Equal(t, time.UnixMilli(1772366400000).UTC(), e.SentAt)
}

func TestMapUnwrapsAndSkips(t *testing.T) {
	p := payload(t, `{
		"event": "messages.upsert",
		"instance": "loja-centro",
		"data": {"messages": [
			{"key": {"remoteJid": "120363@g.us", "id": "G1"}, "message": {"conversation": "grupo"}},
			{"key": {"remoteJid": "5511999999999@s.whatsapp.net", "id": "R1"}, "message": {"reactionMessage": {"text": "👍"}}},
			{"key": {"remoteJid": "5511999999999@s.whatsapp.net", "id": "E1"},
			 "message": {"ephemeralMessage": {"message": {"imageMessage": {"url": "https://mmg/x.enc", "caption": "esse modelo"}}}}},
			{"key": {"remoteJid": "5511999999999@s.whatsapp.net", "id": "D1"},
			 "message": {"documentMessage": {"url": "https://mmg/d.enc", "fileName": "planta.pdf"}}}
		]}
	}`)

	res, err := newTestMapper().Map(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Skipped)
	require.Len(t, res.Events, 2)
	assert.Equal(t, "esse modelo", res.Events[0].Text)
	assert.Equal(t, entity.TypeImage, res.Events[0].Type)
	assert.Equal(t, "https://mmg/x.enc", res.Events[0].ContentLink)
	assert.Equal(t, "planta.pdf", res.Events[1].Text)
}

func TestMapMalformed(t *testing.T) {
	p := payload(t, `{
		"event": "messages.upsert",
		"instance": "loja-centro",
		"data": {"messages": [
			{"key": {"remoteJid": "", "id": "N1"}, "message": {"conversation": "sem remetente"}},
			{"key": {"remoteJid": "5511999999999@s.whatsapp.net", "id": "N2"}, "message": {}}
		]}
	}`)

	res, err := newTestMapper().Map(context.Background(), p)
	require.NoError(t, err)
	assert.Empty(t, res.Events)
	require.Len(t, res.Malformed, 2)
	assert.ErrorIs(t, res.Malformed[0], ErrNoSender)
	assert.ErrorIs(t, res.Malformed[1], ErrNoContent)
}

func TestMapAudioTranscription(t *testing.T) {
	raw := `{
		"event": "messages.upsert",
		"instance": "loja-centro",
		"data": {
			"key": {"remoteJid": "5511999999999@s.whatsapp.net", "id": "A1"},
			"message": {"audioMessage": {"url": "https://mmg/a.enc", "mimetype": "audio/ogg"}, "base64": "T2dn"}
		}
	}`

	m := newTestMapper()
	tr := &stubTranscriber{text: "quero uma mesa de jantar"}
	m.SetTranscriber(tr)
	res, err := m.Map(context.Background(), payload(t, raw))
	require.NoError(t, err)
	require.Len(t, res.Events, 1)
	assert.Equal(t, "quero uma mesa de jantar", res.Events[0].Text)
	assert.Equal(t, entity.TypeAudio, res.Events[0].Type)
	assert.Equal(t, "T2dn", tr.got.Base64)

	m.SetTranscriber(&stubTranscriber{err: errors.New("whisper down")})
	res, err = m.Map(context.Background(), payload(t, raw))
	require.NoError(t, err)
	assert.Equal(t, audioFallback, res.Events[0].Text)
}

func TestStorePhoneResolution(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	m := NewMapper(MapperOptions{SessionPhones: map[string]string{"a": "551100"}, DefaultStorePhone: "551199"}, log)
	assert.Equal(t, "551100", m.StorePhone("a"))
	assert.Equal(t, "551199", m.StorePhone("b"))

	m = NewMapper(MapperOptions{}, log)
	assert.Equal(t, "5511988887777", m.StorePhone("5511988887777"))
	assert.Equal(t, "", m.StorePhone("loja"))
}

func TestTimestampForms(t *testing.T) {
	var ts Timestamp
	require.NoError(t, json.Unmarshal([]byte(`{"low": 1772366400, "high": 0, "unsigned": true}`), &ts))
	assert.Equal(t, Timestamp(1772366400), ts)

	require.NoError(t, json.Unmarshal([]byte(`null`), &ts))
	assert.True(t, ts.Time().IsZero())

	assert.Equal(t, "messages.upsert", NormalizedEvent("MESSAGES_UPSERT"))
}
