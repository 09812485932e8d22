// Package api exposes snapshot upload, listing and diffing over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultOrigins are the local frontend dev servers allowed by CORS.
var DefaultOrigins = []string{"http://localhost:3000", "http://localhost:5173"}

// Routes registers every endpoint on a new mux and wraps it in middleware.
func Routes(h *Handler, log logrus.FieldLogger, origins ...string) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/snapshots/upload", h.Upload)
	mux.HandleFunc("GET /api/snapshots/{id}", h.GetSnapshot)
	mux.HandleFunc("GET /api/hosts", h.ListHosts)
	mux.HandleFunc("GET /api/hosts/{ip}/snapshots", h.ListSnapshots)
	mux.HandleFunc("GET /api/hosts/{ip}/diff/latest", h.LatestDiff)
	mux.HandleFunc("GET /api/diff/{oldId}/{newId}", h.Diff)
	mux.HandleFunc("GET /health", h.Health)

	if len(origins) == 0 {
		origins = DefaultOrigins
	}
	return Chain(mux,
		Recover(log),
		CORS(origins...),
		Logger(log),
	)
}

// Server is an http.Server with graceful shutdown.
type Server struct {
	srv *http.Server
	log logrus.FieldLogger
}

// NewServer creates a server listening on addr.
func NewServer(addr string, handler http.Handler, log logrus.FieldLogger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:         addr,
			Handler:      handler,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		log: log,
	}
}

// Run serves until ctx is canceled, then drains in-flight requests for up to
// ten seconds.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", s.srv.Addr).Info("server listening")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.log.Info("server stopped")
	return nil
}
