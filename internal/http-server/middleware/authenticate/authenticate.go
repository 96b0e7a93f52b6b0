package authenticate

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/render"

	"github.com/matheus-giordani/emme7-bot/internal/http-server/middleware/reqlog"
	"github.com/matheus-giordani/emme7-bot/internal/lib/api/response"
	"github.com/matheus-giordani/emme7-bot/internal/lib/sl"
)

type Authenticate interface {
	AuthenticateByToken(token string) (string, error)
}

type ctxKey struct{}

// User returns the caller name stored by the middleware.
func User(ctx context.Context) string {
	user, _ := ctx.Value(ctxKey{}).(string)
	return user
}

// New accepts "Authorization: Bearer <key>" or "X-Api-Key: <key>".
func New(log *slog.Logger, auth Authenticate) func(next http.Handler) http.Handler {
	mod := sl.Module("middleware.authenticate")
	log.With(mod).Info("authenticate middleware initialized")

	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			token := bearer(r.Header.Get("Authorization"))
			if token == "" {
				token = strings.TrimSpace(r.Header.Get("X-Api-Key"))
			}
			if token == "" {
				reqlog.Annotate(r, sl.Err(errors.New("token not found")))
				authFailed(w, r, "Token not found")
				return
			}
			reqlog.Annotate(r, sl.Secret("token", token))

			if auth == nil {
				authFailed(w, r, "Unauthorized: authentication not enabled")
				return
			}
			user, err := auth.AuthenticateByToken(token)
			if err != nil {
				reqlog.Annotate(r, sl.Err(err))
				authFailed(w, r, "Unauthorized: invalid token")
				return
			}
			reqlog.Annotate(r, slog.String("user", user))

			w.Header().Set("X-User", user)
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, user)))
		}
		return http.HandlerFunc(fn)
	}
}

func bearer(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func authFailed(w http.ResponseWriter, r *http.Request, message string) {
	render.Status(r, http.StatusUnauthorized)
	render.JSON(w, r, response.Error(message))
}
