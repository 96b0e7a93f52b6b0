package logger

import (
	"bytes"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sinkSender struct {
	mu   sync.Mutex
	msgs []string
}

func (s *sinkSender) SendMessage(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
}

func TestTelegramHandlerForwardsOnlyAlerts(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	sender := &sinkSender{}

	lg := SetupTelegramHandler(base, sender, slog.LevelError).With(slog.String("mod", "consumer"))
	lg.Info("cycle done")
	lg.Error("forward failed", slog.String("key", "5511_loja"))

	require.Len(t, sender.msgs, 1)
	assert.Contains(t, sender.msgs[0], "forward failed")
	assert.Contains(t, sender.msgs[0], "mod: consumer")
	assert.Contains(t, sender.msgs[0], "key: 5511_loja")
	assert.Contains(t, buf.String(), "cycle done")
	assert.Contains(t, buf.String(), "forward failed")
}
