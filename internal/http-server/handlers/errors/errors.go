package errors

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"github.com/matheus-giordani/emme7-bot/entity"
	"github.com/matheus-giordani/emme7-bot/internal/lib/api/response"
)

func NotFound(_ *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, response.Error("Requested resource not found"))
	}
}

func NotAllowed(_ *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		render.Status(r, http.StatusMethodNotAllowed)
		render.JSON(w, r, response.Error("Method not allowed"))
	}
}

// Status maps domain error kinds to a response code. Persistence and
// delivery failures are retryable and answer 503.
func Status(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case entity.IsValidation(err):
		return http.StatusBadRequest
	case entity.IsPersistence(err), entity.IsTransient(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Render writes err with its mapped status. Only validation errors expose
// their text.
func Render(w http.ResponseWriter, r *http.Request, err error) {
	status := Status(err)
	message := http.StatusText(status)
	if status == http.StatusBadRequest {
		message = err.Error()
	}
	render.Status(r, status)
	render.JSON(w, r, response.Error(message))
}
