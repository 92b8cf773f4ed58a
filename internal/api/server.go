package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/agentfacts/expense-compliance/internal/config"
)

// Server is the HTTP API server.
type Server struct {
	cfg        config.ServerConfig
	handler    *Handler
	httpServer *http.Server

	mu      sync.Mutex
	started bool
}

// NewServer creates a new API server.
func NewServer(cfg config.ServerConfig, handler *Handler) *Server {
	return &Server{
		cfg:     cfg,
		handler: handler,
	}
}

// Handler returns the routed API with its middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.handler.register(mux)
	return s.requestLogger(s.securityHeaders(mux))
}

// Start begins serving the API.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("server already started")
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Listen.Address, s.cfg.Listen.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       s.cfg.IdleTimeout,
		BaseContext: func(l net.Listener) context.Context {
			return ctx
		},
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.started = true

	log.Info().Str("address", addr).Msg("API server listening")

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("API server error")
		}
	}()

	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return nil
	}
	s.started = false

	log.Info().Msg("Shutting down API server...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}
	log.Info().Msg("API server stopped")
	return nil
}

// securityHeaders sets the configured security and CORS headers.
func (s *Server) securityHeaders(next http.Handler) http.Handler {
	sec := s.cfg.Security
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if sec.EnableSecurityHeaders {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		}

		// No configured origins means same-origin only.
		allowed := false
		if origin := r.Header.Get("Origin"); origin != "" {
			if o, ok := matchOrigin(sec.CORSAllowedOrigins, origin); ok {
				allowed = true
				w.Header().Set("Access-Control-Allow-Origin", o)
				if o != "*" {
					w.Header().Add("Vary", "Origin")
				}
			}
		}

		if allowed && r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.Header().Set("Access-Control-Allow-Methods", corsMethods)
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.Header().Set("Access-Control-Max-Age", "600")
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

const corsMethods = "GET, POST, PUT, DELETE"

// matchOrigin returns the Access-Control-Allow-Origin value for origin.
func matchOrigin(allowed []string, origin string) (string, bool) {
	for _, a := range allowed {
		if a == "*" {
			return "*", true
		}
		if strings.EqualFold(origin, a) {
			return origin, true
		}
	}
	return "", false
}

// requestLogger is middleware that logs HTTP requests and records metrics.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Wrap response writer to capture status code
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		// Patterns carry their method: "POST /v1/score".
		route := r.Pattern
		if i := strings.IndexByte(route, ' '); i >= 0 {
			route = route[i+1:]
		}
		if route == "" {
			route = "unmatched"
		}
		if m := s.handler.deps.Metrics; m != nil {
			m.RecordRequest(r.Method, route, wrapped.statusCode, duration)
		}

		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote_addr", r.RemoteAddr).
			Int("status", wrapped.statusCode).
			Dur("duration", duration).
			Msg("HTTP request")
	})
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
