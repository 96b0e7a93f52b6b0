package chats

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/matheus-giordani/emme7-bot/internal/lib/api/response"
	"github.com/matheus-giordani/emme7-bot/internal/lib/sl"
)

// GetMessages returns the recent history of a chat, oldest first.
func GetMessages(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		chatID := chi.URLParam(r, "chat_id")

		limit := 50
		if l := r.URL.Query().Get("limit"); l != "" {
			if v, err := strconv.Atoi(l); err == nil && v > 0 && v <= 200 {
				limit = v
			}
		}

		messages, err := handler.GetChatMessages(r.Context(), chatID, limit)
		if err != nil {
			log.Error("failed to get chat messages",
				sl.Module("http.handlers.chats"),
				slog.String("chat_id", chatID),
				sl.Err(err),
			)
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, response.Error("Failed to get messages"))
			return
		}
		if messages == nil {
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, response.Error("Chat not found"))
			return
		}

		render.JSON(w, r, response.Ok(messages))
	}
}
