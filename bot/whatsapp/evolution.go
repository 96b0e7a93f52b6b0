package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	neturl "net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/matheus-giordani/emme7-bot/entity"
	"github.com/matheus-giordani/emme7-bot/internal/lib/metrics"
	"github.com/matheus-giordani/emme7-bot/internal/lib/phone"
	"github.com/matheus-giordani/emme7-bot/internal/lib/sl"
)

// EvolutionClient sends messages through an Evolution API instance.
type EvolutionClient struct {
	baseURL  string
	apiKey   string
	instance string
	client   *http.Client
	limiter  *rate.Limiter
	log      *slog.Logger
}

type EvolutionOptions struct {
	BaseURL       string
	ApiKey        string
	Instance      string
	Timeout       time.Duration
	RatePerSecond float64
}

type sendTextRequest struct {
	Number string `json:"number"`
	Text   string `json:"text"`
}

func NewEvolutionClient(opts EvolutionOptions, log *slog.Logger) *EvolutionClient {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}
	return &EvolutionClient{
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		apiKey:   opts.ApiKey,
		instance: opts.Instance,
		client:   &http.Client{Timeout: opts.Timeout},
		limiter:  rate.NewLimiter(limit, 1),
		log:      log.With(sl.Module("whatsapp.evolution")),
	}
}

// SendText delivers text to number once through instance, or through the
// configured instance when instance is empty. Gateway rejections come back
// as *entity.NotificationError, transport failures and timeouts as
// *entity.TransientDeliveryError.
func (c *EvolutionClient) SendText(ctx context.Context, instance, number, text string) error {
	number = phone.Digits(number)
	if number == "" {
		return &entity.ValidationError{Field: "number", Reason: "empty"}
	}
	if instance == "" {
		instance = c.instance
	}
	if c.baseURL == "" || instance == "" {
		return &entity.NotificationError{Number: number, Message: "evolution api not configured"}
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return &entity.TransientDeliveryError{Op: "evolution rate limit", Err: err}
	}

	jsonBody, err := json.Marshal(sendTextRequest{Number: number, Text: text})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/message/sendText/%s", c.baseURL, neturl.PathEscape(instance))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		metrics.NotificationsSent.WithLabelValues("transport_error").Inc()
		return &entity.TransientDeliveryError{Op: "evolution send", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		metrics.NotificationsSent.WithLabelValues("rejected").Inc()
		return &entity.NotificationError{
			Number:  number,
			Status:  resp.StatusCode,
			Message: gatewayMessage(body),
		}
	}

	metrics.NotificationsSent.WithLabelValues("sent").Inc()
	c.log.Debug("message sent", slog.String("instance", instance), slog.String("number", number))
	return nil
}

// gatewayMessage pulls the human readable part out of an error body.
func gatewayMessage(body []byte) string {
	var parsed struct {
		Message  json.RawMessage `json:"message"`
		Error    string          `json:"error"`
		Response struct {
			Message json.RawMessage `json:"message"`
		} `json:"response"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		for _, raw := range []json.RawMessage{parsed.Response.Message, parsed.Message} {
			if len(raw) > 0 {
				return strings.Trim(string(raw), `"`)
			}
		}
		if parsed.Error != "" {
			return parsed.Error
		}
	}
	return strings.TrimSpace(string(body))
}

// IsTimeout reports whether a send failed on its deadline.
func IsTimeout(err error) bool {
	var t *entity.TransientDeliveryError
	if !errors.As(err, &t) {
		return false
	}
	if errors.Is(t.Err, context.DeadlineExceeded) {
		return true
	}
	var ne interface{ Timeout() bool }
	return errors.As(t.Err, &ne) && ne.Timeout()
}
