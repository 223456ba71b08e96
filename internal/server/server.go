package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"

	"github.com/tourlab/termbroker/internal/broker"
	"github.com/tourlab/termbroker/internal/config"
	"github.com/tourlab/termbroker/internal/server/handlers"
	"github.com/tourlab/termbroker/internal/server/middleware"
)

type Server struct {
	cfg        *config.Config
	broker     *broker.Broker
	router     chi.Router
	httpServer *http.Server
}

func New(cfg *config.Config, b *broker.Broker) *Server {
	s := &Server{
		cfg:    cfg,
		broker: b,
	}

	s.setupRouter()
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return s
}

// Handler returns the router, for tests.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// Middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(chimiddleware.Recoverer)

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Health checks
	r.Group(func(r chi.Router) {
		r.Use(chimiddleware.Timeout(60 * time.Second))
		r.Get("/health", handlers.Health(s.broker))
		r.Get("/ready", handlers.Ready)
	})

	// Terminal WebSocket (long-lived, no request timeout)
	r.Get("/ws", handlers.Terminal(s.broker, s.cfg.CORSAllowedOrigins))

	s.router = r
}

// Start serves on ln until Shutdown. It returns http.ErrServerClosed after a
// graceful shutdown.
func (s *Server) Start(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown stops accepting requests, tears every terminal session down and
// then closes the WebSocket connections once their queues are drained.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error

	log.Info().Msg("Shutting down HTTP server")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}

	log.Info().Int("sessions", s.broker.SessionCount()).Msg("Destroying terminal sessions")
	if err := s.broker.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}

	log.Info().Int("connections", s.broker.Connections().Count()).Msg("Closing WebSocket connections")
	s.broker.Bus().Close()

	return errors.Join(errs...)
}
