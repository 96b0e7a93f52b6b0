package gpt

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matheus-giordani/emme7-bot/bot/whatsapp"
)

type fakeAudioClient struct {
	data []byte
	name string
}

func (f *fakeAudioClient) CreateTranscription(_ context.Context, req openai.AudioRequest) (openai.AudioResponse, error) {
	f.name = req.FilePath
	f.data, _ = io.ReadAll(req.Reader)
	return openai.AudioResponse{Text: " quero uma cama \n"}, nil
}

func TestTranscribeBase64(t *testing.T) {
	client := &fakeAudioClient{}
	tr := NewTranscriber(client, slog.New(slog.NewTextHandler(io.Discard, nil)))

	text, err := tr.Transcribe(context.Background(), whatsapp.AudioSource{Base64: "T2dnUw==", Mimetype: "audio/ogg; codecs=opus"})
	require.NoError(t, err)
	assert.Equal(t, "quero uma cama", text)
	assert.Equal(t, []byte("OggS"), client.data)
	assert.Equal(t, "audio.ogg", client.name)
}

func TestTranscribeDownloadsURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ID3"))
	}))
	defer srv.Close()

	client := &fakeAudioClient{}
	tr := NewTranscriber(client, slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err := tr.Transcribe(context.Background(), whatsapp.AudioSource{URL: srv.URL, Mimetype: "audio/mpeg"})
	require.NoError(t, err)
	assert.Equal(t, []byte("ID3"), client.data)
	assert.Equal(t, "audio.mp3", client.name)
}
