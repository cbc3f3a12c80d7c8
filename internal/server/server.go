package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/alpinegear/identity/config"
	"github.com/alpinegear/identity/internal/handlers"
	"github.com/alpinegear/identity/internal/logging"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Server wraps the HTTP server and router.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	components *Components
	log        logging.Logger
}

// New constructs a Server from configuration.
func New(ctx context.Context, cfg config.Config, log logging.Logger) (*Server, error) {
	components, err := Build(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}
	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		router:     NewRouter(components),
		components: components,
		log:        log,
	}, nil
}

// NewRouter mounts every route on a fresh router.
func NewRouter(c *Components) *chi.Mux {
	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		handlers.RequestLogger(c.Log),
		middleware.Timeout(60*time.Second),
	)
	router.Get("/healthz", handlers.Healthz)
	router.Route("/auth", func(r chi.Router) {
		handlers.AuthRouter(r, handlers.NewAuthHandler(c.Registration, c.Auth, c.Recovery, c.Log))
	})
	router.Route("/admin", func(r chi.Router) {
		handlers.AdminRouter(r, c.Auth, c.Log)
	})
	return router
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start() error {
	s.httpServer.Handler = s.router
	s.log.Info(context.Background(), "http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, waits for in-flight requests and
// background mail, then closes the backends.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.components.Registration.Wait()
	return errors.Join(err, s.components.Close())
}
