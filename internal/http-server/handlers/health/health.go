package health

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/render"
)

func Health(_ *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, map[string]string{"status": "ok"})
	}
}
