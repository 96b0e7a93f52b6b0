// Package reqlog writes one structured log line per request. Inner
// middleware and handlers may add attributes to that line.
package reqlog

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/matheus-giordani/emme7-bot/internal/lib/sl"
)

type ctxKey struct{}

type entry struct {
	mu    sync.Mutex
	attrs []any
}

// Annotate adds attributes to the request's log line.
func Annotate(r *http.Request, attrs ...any) {
	e, ok := r.Context().Value(ctxKey{}).(*entry)
	if !ok {
		return
	}
	e.mu.Lock()
	e.attrs = append(e.attrs, attrs...)
	e.mu.Unlock()
}

func New(log *slog.Logger) func(next http.Handler) http.Handler {
	mod := sl.Module("middleware.reqlog")

	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			id := middleware.GetReqID(r.Context())
			remote := r.RemoteAddr
			// if the request is coming from a proxy, use the X-Forwarded-For header
			if xRemote := r.Header.Get("X-Forwarded-For"); xRemote != "" {
				remote = xRemote
			}
			e := &entry{}
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			ww.Header().Set("X-Request-ID", id)

			t1 := time.Now()
			defer func() {
				e.mu.Lock()
				attrs := e.attrs
				e.mu.Unlock()
				log.With(
					mod,
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("remote_addr", remote),
					slog.String("request_id", id),
					slog.Int("status", ww.Status()),
					slog.Int("size", ww.BytesWritten()),
					slog.Float64("duration", time.Since(t1).Seconds()),
				).With(attrs...).Info("incoming request")
			}()

			next.ServeHTTP(ww, r.WithContext(context.WithValue(r.Context(), ctxKey{}, e)))
		}
		return http.HandlerFunc(fn)
	}
}
