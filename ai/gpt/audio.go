package gpt

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/matheus-giordani/emme7-bot/bot/whatsapp"
	"github.com/matheus-giordani/emme7-bot/internal/lib/sl"
)

const maxAudioBytes = 25 << 20

type AudioClient interface {
	CreateTranscription(ctx context.Context, request openai.AudioRequest) (openai.AudioResponse, error)
}

// Transcriber turns WhatsApp voice notes into text with Whisper.
type Transcriber struct {
	client AudioClient
	http   *http.Client
	log    *slog.Logger
}

func NewTranscriber(client AudioClient, log *slog.Logger) *Transcriber {
	return &Transcriber{
		client: client,
		http:   &http.Client{Timeout: 30 * time.Second},
		log:    log.With(sl.Module("gpt.audio")),
	}
}

func (t *Transcriber) Transcribe(ctx context.Context, audio whatsapp.AudioSource) (string, error) {
	data, err := t.audioData(ctx, audio)
	if err != nil {
		return "", err
	}
	resp, err := t.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    openai.Whisper1,
		Reader:   bytes.NewReader(data),
		FilePath: "audio" + extension(audio.Mimetype),
		Format:   openai.AudioResponseFormatText,
	})
	if err != nil {
		return "", fmt.Errorf("failed to transcribe audio: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}

func (t *Transcriber) audioData(ctx context.Context, audio whatsapp.AudioSource) ([]byte, error) {
	if audio.Base64 != "" {
		decoded, err := base64.StdEncoding.DecodeString(audio.Base64)
		if err != nil {
			return nil, fmt.Errorf("failed to decode base64 audio: %w", err)
		}
		return decoded, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, audio.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := t.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download audio: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download audio: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read audio: %w", err)
	}
	return data, nil
}

func extension(mimetype string) string {
	switch {
	case strings.Contains(mimetype, "mpeg"), strings.Contains(mimetype, "mp3"):
		return ".mp3"
	case strings.Contains(mimetype, "mp4"), strings.Contains(mimetype, "m4a"):
		return ".m4a"
	case strings.Contains(mimetype, "wav"):
		return ".wav"
	}
	return ".ogg"
}
