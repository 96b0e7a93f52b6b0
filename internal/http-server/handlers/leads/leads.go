package leads

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/matheus-giordani/emme7-bot/entity"
	"github.com/matheus-giordani/emme7-bot/internal/lib/api/response"
	"github.com/matheus-giordani/emme7-bot/internal/lib/sl"
)

// List returns leads, newest first.
func List(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := queryInt(r, "limit", 50, 500)
		offset := queryInt(r, "offset", 0, -1)

		list, err := handler.ListLeads(r.Context(), limit, offset)
		if err != nil {
			log.Error("failed to list leads", sl.Module("http.handlers.leads"), sl.Err(err))
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, response.Error("Failed to get leads"))
			return
		}

		if list == nil {
			list = []entity.CustomerLead{}
		}

		render.JSON(w, r, response.Ok(list))
	}
}

func Get(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		chatID := chi.URLParam(r, "chat_id")

		lead, err := handler.GetLead(r.Context(), chatID)
		if err != nil {
			log.Error("failed to get lead",
				sl.Module("http.handlers.leads"),
				slog.String("chat_id", chatID),
				sl.Err(err),
			)
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, response.Error("Failed to get lead"))
			return
		}
		if lead == nil {
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, response.Error("Lead not found"))
			return
		}

		render.JSON(w, r, response.Ok(lead))
	}
}

// queryInt reads a non-negative integer parameter. max < 0 means unbounded.
func queryInt(r *http.Request, name string, def, max int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || v < 0 || (max >= 0 && v > max) {
		return def
	}
	return v
}
