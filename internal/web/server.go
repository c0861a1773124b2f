// Package web exposes the tunnel status over a small JSON API.
package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/user/tunnelguard/internal/util"
)

// Server is the web server.
type Server struct {
	handlers *Handlers
	port     int
	srv      *http.Server
}

// NewServer creates a web server over the given handlers.
func NewServer(h *Handlers, port int) *Server {
	return &Server{
		handlers: h,
		port:     port,
	}
}

// Start runs the server until Stop or a listen error.
func (s *Server) Start() error {
	s.srv = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.handlers.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	util.Info("Web server starting on port %d", s.port)

	if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop() error {
	if s.srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return s.srv.Shutdown(ctx)
}
