// Package httpapi exposes the server-side service over HTTP.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/florianilch/ticketbridge/internal/fields"
	"github.com/florianilch/ticketbridge/internal/observability/middleware"
	"github.com/florianilch/ticketbridge/internal/resolver"
)

// Service is the behavior the HTTP handlers need.
type Service interface {
	AuthorizationURL(state string) (string, string, error)
	CompleteAuthorization(ctx context.Context, code string) error
	Read(ctx context.Context, key string) resolver.Outcome
	Write(ctx context.Context, req resolver.UpdateRequest, templateID string) resolver.Outcome
	Search(ctx context.Context, jql string, maxResults int) ([]fields.Snapshot, error)
}

// Server represents the HTTP API server.
type Server struct {
	mux    *http.ServeMux
	server *http.Server
}

// Compile-time check that Server implements http.Handler
var _ http.Handler = (*Server)(nil)

// New creates the HTTP API for svc.
func New(svc Service) (*Server, error) {
	if svc == nil {
		return nil, fmt.Errorf("missing service")
	}

	h := &handlers{svc: svc}
	logger := slog.Default()

	wrap := func(handler http.HandlerFunc) http.Handler {
		return middleware.Chain(handler,
			middleware.RequestID,
			middleware.Logging(logger),
			middleware.Recovery,
		)
	}

	mux := http.NewServeMux()
	mux.Handle("GET /oauth/authorize", wrap(h.authorize))
	mux.Handle("GET /oauth/callback", wrap(h.callback))
	mux.Handle("GET /issues/{key}", wrap(h.getIssue))
	mux.Handle("PUT /issues/{key}", wrap(h.updateIssue))
	mux.Handle("GET /issues", wrap(h.searchIssues))
	mux.HandleFunc("GET /healthz", h.health)

	return &Server{mux: mux}, nil
}

// ServeHTTP implements http.Handler interface
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Start starts the HTTP server in the background and returns immediately.
// Returns a channel for runtime errors and a startup error if any.
//
// Startup errors (port in use, permission denied) are returned immediately.
// Runtime errors (network failures during operation) are sent to the error channel.
//
// The caller is responsible for calling Shutdown() to stop the server.
func (s *Server) Start(ctx context.Context, address string) (<-chan error, error) {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", address, err)
	}

	s.server = &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      2 * time.Minute, // Covers a write with retries against a slow provider
		IdleTimeout:       90 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)

	go func() {
		err := s.server.Serve(listener)
		// Only report error if not from graceful shutdown
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	return errCh, nil
}

// Shutdown performs graceful shutdown of the HTTP server.
// Returns error if shutdown fails or times out.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	if err := s.server.Shutdown(ctx); err != nil {
		// Graceful shutdown failed - force close
		_ = s.server.Close()
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	return nil
}
