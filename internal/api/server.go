// Package api serves the certificate function over HTTP.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/docpilot/docpilot/internal/certificate"
)

const maxJSONBodySize = 1 << 20

// Issuer issues certificates. *certificate.Service implements it.
type Issuer interface {
	Issue(ctx context.Context, req certificate.Request) (*certificate.Response, error)
}

// Server is the HTTP server for `docpilot serve`.
type Server struct {
	issuer         Issuer
	logger         *slog.Logger
	addr           string
	apiKey         string
	requestTimeout time.Duration
	server         *http.Server
}

// Option configures the API server.
type Option func(*Server)

// WithAPIKey requires every /v1 request to carry key in X-API-Key.
func WithAPIKey(key string) Option {
	return func(s *Server) {
		s.apiKey = key
	}
}

// WithRequestTimeout bounds how long a single request may run.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.requestTimeout = d
	}
}

// New creates a new API server listening on addr.
func New(issuer Issuer, logger *slog.Logger, addr string, opts ...Option) *Server {
	s := &Server{
		issuer:         issuer,
		logger:         logger,
		addr:           addr,
		requestTimeout: 2 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)
	r.Use(middleware.Timeout(s.requestTimeout))

	r.Get("/healthz", s.handleHealth)
	r.Group(func(pr chi.Router) {
		if s.apiKey != "" {
			pr.Use(s.requireAPIKey)
		}
		pr.Post("/v1/certificates", s.handleIssueCertificate)
	})
	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting certificate server", "addr", ln.Addr().String())
		errCh <- s.server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Info("certificate server stopped")
	return nil
}
