package evolution

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/matheus-giordani/emme7-bot/bot/whatsapp"
	"github.com/matheus-giordani/emme7-bot/entity"
	"github.com/matheus-giordani/emme7-bot/internal/http-server/handlers/errors"
	"github.com/matheus-giordani/emme7-bot/internal/http-server/middleware/reqlog"
	"github.com/matheus-giordani/emme7-bot/internal/lib/api/response"
	"github.com/matheus-giordani/emme7-bot/internal/lib/sl"
)

const maxBodyBytes = 16 << 20

// Webhook receives Evolution events and queues customer messages. It never
// waits for downstream processing.
func Webhook(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mod := sl.Module("http.handlers.evolution")

		logger := log.With(
			mod,
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		var payload whatsapp.WebhookPayload
		if err := render.DecodeJSON(http.MaxBytesReader(w, r.Body, maxBodyBytes), &payload); err != nil {
			logger.Debug("failed to decode request body", sl.Err(err))
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.Error("Invalid JSON payload"))
			return
		}
		if payload.Event == "" {
			payload.Event = r.Header.Get("x-evolution-event")
		}
		reqlog.Annotate(r, slog.String("event", payload.Event), slog.String("instance", payload.Instance))

		key := payload.ApiKey
		if key == "" {
			key = r.Header.Get("apikey")
		}
		if !handler.CheckWebhookKey(key) {
			logger.Warn("webhook key mismatch", slog.String("instance", payload.Instance))
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, response.Error("Invalid webhook key"))
			return
		}

		ack, err := handler.EnqueueWebhook(r.Context(), &payload)
		if err != nil {
			if !entity.IsValidation(err) {
				logger.Error("enqueue webhook", sl.Err(err))
			}
			errors.Render(w, r, err)
			return
		}

		render.JSON(w, r, ack)
	}
}
