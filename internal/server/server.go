package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	v1 "github.com/gosuda/tether/internal/api/v1"
	"github.com/gosuda/tether/internal/api/ws"
	"github.com/gosuda/tether/internal/bridge"
	"github.com/gosuda/tether/internal/config"
	"github.com/gosuda/tether/internal/messenger"
	tetherslack "github.com/gosuda/tether/internal/messenger/slack"
	"github.com/gosuda/tether/internal/server/middleware"
)

// Controller is the conversation engine behind the HTTP surface: it answers
// the status API and consumes the chat platform's messages and clicks.
// *bridge.Bridge satisfies this interface.
type Controller interface {
	v1.Controller
	messenger.MessageHandler
	messenger.ActionHandler
}

var _ Controller = (*bridge.Bridge)(nil) //nolint:gochecknoglobals // compile-time check

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is the HTTP server that wires all application routes and middleware.
type Server struct {
	router     chi.Router
	httpServer *http.Server
	checks     map[string]Pinger
}

// Option configures optional Server parameters.
type Option func(*Server)

// WithHealthCheck adds a dependency that /healthz pings.
func WithHealthCheck(name string, p Pinger) Option {
	return func(s *Server) { s.checks[name] = p }
}

// New creates a Server with all routes wired. ctx bounds background work such
// as the rate limiter's cleanup loop.
func New(ctx context.Context, cfg *config.Config, store v1.DataStore, ctrl Controller, hub *ws.Hub, opts ...Option) *Server {
	router := chi.NewRouter()

	// Global middleware stack.
	router.Use(chimw.RequestID)
	router.Use(chimw.RealIP)
	router.Use(middleware.RequestLogger)
	router.Use(chimw.Recoverer)
	router.Use(cors.New(cors.Options{
		AllowedOrigins: cfg.Server.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}).Handler)

	s := &Server{
		router: router,
		checks: make(map[string]Pinger),
		httpServer: &http.Server{
			Addr:         cfg.Server.Addr,
			Handler:      router,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
	}
	for _, opt := range opts {
		opt(s)
	}

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RateLimitByIP(ctx, cfg.Server.RateLimit, cfg.Server.RateBurst))

		apiConfig := huma.DefaultConfig("Tether API", "1.0.0")
		apiConfig.Servers = []*huma.Server{
			{URL: "/api/v1"},
		}
		api := humachi.New(r, apiConfig)
		registerAPIRoutes(api, store, ctrl)
	})

	router.Route("/ws", func(r chi.Router) {
		registerWSRoutes(r, hub)
	})

	// Slack webhook routes: real handler if configured, 501 placeholder otherwise.
	router.Route("/slack", func(r chi.Router) {
		if cfg.Slack.SigningSecret == "" {
			notImplemented := func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusNotImplemented)
			}
			r.Post("/events", notImplemented)
			r.Post("/interactions", notImplemented)
			r.Post("/commands", notImplemented)
			return
		}
		registerSlackRoutes(r, tetherslack.NewHandler(cfg.Slack.SigningSecret, ctrl, ctrl))
		log.Info().Msg("Slack integration enabled")
	})

	router.Get("/healthz", s.handleHealth)

	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := `{"status":"ok"}`
	for name, p := range s.checks {
		if err := p.Ping(r.Context()); err != nil {
			log.Warn().Err(err).Str("check", name).Msg("health check failed")
			status = http.StatusServiceUnavailable
			body = fmt.Sprintf(`{"status":"unavailable","failed":%q}`, name)
			break
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

// Start begins listening for HTTP requests.
func (s *Server) Start(_ context.Context) error {
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server.Start: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}
