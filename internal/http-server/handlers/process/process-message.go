package process

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/matheus-giordani/emme7-bot/entity"
	"github.com/matheus-giordani/emme7-bot/internal/http-server/handlers/errors"
	"github.com/matheus-giordani/emme7-bot/internal/lib/api/response"
	"github.com/matheus-giordani/emme7-bot/internal/lib/sl"
)

// Request is the ordered batch of one conversation.
type Request struct {
	Messages []entity.InboundEvent `json:"messages"`
}

func ProcessMessage(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mod := sl.Module("http.handlers.process")

		logger := log.With(
			mod,
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		var req Request
		if err := render.DecodeJSON(r.Body, &req); err != nil {
			logger.Debug("failed to decode request body", sl.Err(err))
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.Error("Invalid request body"))
			return
		}

		result, err := handler.ProcessBatch(r.Context(), req.Messages)
		if err != nil {
			logger.With(
				slog.Int("size", len(req.Messages)),
				slog.Int("status", errors.Status(err)),
				sl.Err(err),
			).Warn("process batch")
			errors.Render(w, r, err)
			return
		}

		logger.With(
			slog.String("chat_id", result.ChatID),
			slog.String("status", result.Status),
			slog.Int("stored", result.Stored),
		).Debug("batch processed")

		render.JSON(w, r, response.Ok(result))
	}
}
