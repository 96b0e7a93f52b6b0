package consumer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/matheus-giordani/emme7-bot/entity"
)

const processPath = "/api/user/process_message"

// ErrUnauthorized means the backend refused the consumer's API key. The
// batch itself is fine and must stay queued until the key is fixed.
var ErrUnauthorized = errors.New("backend rejected consumer credentials")

type batchRequest struct {
	Messages []entity.InboundEvent `json:"messages"`
}

// HTTPForwarder posts batches to the backend's batch endpoint.
type HTTPForwarder struct {
	httpClient *resty.Client
}

func NewHTTPForwarder(baseURL, apiKey string, timeout time.Duration) *HTTPForwarder {
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Content-Type", "application/json").
		SetTimeout(timeout)
	if apiKey != "" {
		client.SetAuthToken(apiKey)
	}
	return &HTTPForwarder{httpClient: client}
}

// Forward returns a ValidationError when the backend rejects the batch,
// ErrUnauthorized when it rejects the credentials and a
// TransientDeliveryError for anything worth retrying.
func (f *HTTPForwarder) Forward(ctx context.Context, batch []entity.InboundEvent) error {
	resp, err := f.httpClient.R().
		SetContext(ctx).
		SetBody(batchRequest{Messages: batch}).
		Post(processPath)
	if err != nil {
		return &entity.TransientDeliveryError{Op: "forward batch", Err: err}
	}

	status := resp.StatusCode()
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == 401 || status == 403:
		return fmt.Errorf("%w: status %d", ErrUnauthorized, status)
	case status >= 400 && status < 500 && status != 408 && status != 429:
		return &entity.ValidationError{Field: "batch", Reason: fmt.Sprintf("backend status %d: %s", status, strings.TrimSpace(resp.String()))}
	default:
		return &entity.TransientDeliveryError{Op: "forward batch", Err: fmt.Errorf("backend status %d", status)}
	}
}
