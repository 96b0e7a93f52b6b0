package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/matheus-giordani/emme7-bot/internal/config"
	"github.com/matheus-giordani/emme7-bot/internal/http-server/handlers/chats"
	handlerErrors "github.com/matheus-giordani/emme7-bot/internal/http-server/handlers/errors"
	"github.com/matheus-giordani/emme7-bot/internal/http-server/handlers/evolution"
	"github.com/matheus-giordani/emme7-bot/internal/http-server/handlers/health"
	"github.com/matheus-giordani/emme7-bot/internal/http-server/handlers/leads"
	"github.com/matheus-giordani/emme7-bot/internal/http-server/handlers/process"
	"github.com/matheus-giordani/emme7-bot/internal/http-server/middleware/authenticate"
	"github.com/matheus-giordani/emme7-bot/internal/http-server/middleware/reqlog"
	"github.com/matheus-giordani/emme7-bot/internal/lib/api/response"
	"github.com/matheus-giordani/emme7-bot/internal/lib/sl"
	"github.com/matheus-giordani/emme7-bot/internal/ws"
)

type Server struct {
	conf       *config.Config
	httpServer *http.Server
	log        *slog.Logger
}

type Handler interface {
	authenticate.Authenticate
	ws.Authenticator
	evolution.Core
	process.Core
	leads.Core
	chats.Core
	IssueFeedTicket(user string) string
}

// NewRouter wires every route. hub may be nil, which disables /ws.
func NewRouter(conf *config.Config, log *slog.Logger, handler Handler, hub *ws.Hub) http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(reqlog.New(log))
	router.Use(middleware.Recoverer)

	router.NotFound(handlerErrors.NotFound(log))
	router.MethodNotAllowed(handlerErrors.NotAllowed(log))

	router.Get("/health", health.Health(log))
	router.Handle("/metrics", promhttp.Handler())
	if hub != nil {
		router.Get("/ws", ws.Serve(log, hub, handler))
	}

	router.Group(func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))
		r.Post("/evolution/webhook", evolution.Webhook(log, handler))
	})

	router.Route("/api", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))
		r.Use(authenticate.New(log, handler))
		if conf.Consumer.Timeout > 0 {
			r.Use(middleware.Timeout(conf.Consumer.Timeout))
		}

		r.Post("/user/process_message", process.ProcessMessage(log, handler))

		r.Route("/v1", func(v1 chi.Router) {
			v1.Route("/leads", func(r chi.Router) {
				r.Get("/", leads.List(log, handler))
				r.Get("/{chat_id}", leads.Get(log, handler))
			})
			v1.Get("/chats/{chat_id}/messages", chats.GetMessages(log, handler))
			v1.Post("/ws/ticket", feedTicket(handler))
		})
	})

	return router
}

func feedTicket(handler Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, response.Ok(map[string]string{
			"token": handler.IssueFeedTicket(authenticate.User(r.Context())),
		}))
	}
}

func New(conf *config.Config, log *slog.Logger, handler Handler, hub *ws.Hub) *Server {
	server := &Server{
		conf: conf,
		log:  log.With(sl.Module("api.server")),
	}

	httpLog := slog.NewLogLogger(log.Handler(), slog.LevelError)
	server.httpServer = &http.Server{
		Handler:           NewRouter(conf, log, handler, hub),
		ErrorLog:          httpLog,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return server
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	serverAddress := fmt.Sprintf("%s:%s", s.conf.Listen.BindIP, s.conf.Listen.Port)
	listener, err := net.Listen("tcp", serverAddress)
	if err != nil {
		return err
	}

	s.log.Info("starting api server", slog.String("address", serverAddress))

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.Serve(listener)
	}()

	select {
	case err = <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info("shutting down api server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err = s.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err = <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
