package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tgbotapi "github.com/PaulSonOfLars/gotgbot/v2"
	"golang.org/x/time/rate"

	"github.com/matheus-giordani/emme7-bot/internal/lib/sl"
)

const maxAlertLength = 3500

// AlertBot delivers log alerts to the admin chat. Alerts are queued and
// sent in the background so logging never waits on Telegram.
type AlertBot struct {
	log         *slog.Logger
	api         *tgbotapi.Bot
	botUsername string
	adminId     int64
	queue       chan string
	limiter     *rate.Limiter
}

func NewAlertBot(botName, apiKey string, adminId int64, log *slog.Logger) (*AlertBot, error) {
	if adminId == 0 {
		return nil, fmt.Errorf("telegram admin id not set")
	}
	tgBot := &AlertBot{
		log:         log.With(sl.Module("tgbot")),
		adminId:     adminId,
		botUsername: botName,
		queue:       make(chan string, 64),
		limiter:     rate.NewLimiter(rate.Every(time.Second), 5),
	}

	api, err := tgbotapi.NewBot(apiKey, nil)
	if err != nil {
		return nil, fmt.Errorf("creating api instance: %v", err)
	}
	tgBot.api = api

	return tgBot, nil
}

// Run sends queued alerts until ctx is done.
func (t *AlertBot) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-t.queue:
			if err := t.limiter.Wait(ctx); err != nil {
				return
			}
			t.plainResponse(t.adminId, msg)
		}
	}
}

// SendMessage queues an alert. Alerts are dropped while the queue is full.
func (t *AlertBot) SendMessage(msg string) {
	if len(msg) > maxAlertLength {
		msg = msg[:maxAlertLength] + "..."
	}
	select {
	case t.queue <- msg:
	default:
	}
}

func (t *AlertBot) plainResponse(chatId int64, text string) {
	sanitized := sanitize(text)
	if sanitized == "" {
		return
	}

	_, err := t.api.SendMessage(chatId, sanitized, &tgbotapi.SendMessageOpts{
		ParseMode: "MarkdownV2",
	})
	if err != nil {
		// plain text fallback; logged below Error so it is not re-alerted
		_, err = t.api.SendMessage(chatId, text, &tgbotapi.SendMessageOpts{})
		if err != nil {
			t.log.With(
				slog.Int64("id", chatId),
			).Warn("sending alert", sl.Err(err))
		}
	}
}

// sanitize escapes MarkdownV2 reserved characters.
func sanitize(input string) string {
	const reservedChars = "\\`_*[]{}#+-=.!|()>~"

	var b strings.Builder
	for _, char := range input {
		if strings.ContainsRune(reservedChars, char) {
			b.WriteRune('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
