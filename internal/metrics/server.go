package metrics

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// ServerConfig holds metrics endpoint settings.
type ServerConfig struct {
	Listen   string
	Username string
	Password string // bcrypt hash
}

// Server exposes the collector over HTTP with optional basic auth.
type Server struct {
	cfg    ServerConfig
	srv    *http.Server
	logger *slog.Logger
}

// NewServer creates a metrics HTTP server for the collector.
func NewServer(cfg ServerConfig, c *Collector, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	s := &Server{cfg: cfg, logger: logger}
	mux.Handle("/metrics", s.requireAuth(c.Handler()))
	s.srv = &http.Server{
		Addr:              cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start begins serving in a background goroutine.
func (s *Server) Start() {
	go func() {
		s.logger.Info("metrics endpoint listening", "addr", s.cfg.Listen)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("metrics server failed", "error", err)
		}
	}()
}

// Stop shuts the server down gracefully.
func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = s.srv.Shutdown(ctx)
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Username == "" {
			next.ServeHTTP(w, r)
			return
		}

		user, pass, ok := r.BasicAuth()
		if !ok || user != s.cfg.Username || !checkPassword(pass, s.cfg.Password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="prefork"`)
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func checkPassword(plain, hash string) bool {
	if hash == "" {
		return plain == ""
	}
	if strings.HasPrefix(hash, "$2") {
		return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
	}
	// Plaintext fallback for testing only.
	return plain == hash
}
