package observability

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// ServerConfig holds configuration for the observability server.
type ServerConfig struct {
	MetricsEnabled bool
	MetricsAddress string
	MetricsPort    int
	MetricsPath    string

	HealthEnabled bool
	HealthAddress string
	HealthPort    int
	LivenessPath  string
	ReadinessPath string
}

// Server serves metrics and health check endpoints. When both listen on the
// same address they share one HTTP server.
type Server struct {
	cfg     ServerConfig
	metrics *Metrics
	health  *Health

	servers []*http.Server
}

// NewServer creates a new observability server.
func NewServer(cfg ServerConfig, metrics *Metrics, health *Health) *Server {
	return &Server{
		cfg:     cfg,
		metrics: metrics,
		health:  health,
	}
}

// mux builds the handler set for one listen address.
func (s *Server) mux(withMetrics, withHealth bool) *http.ServeMux {
	mux := http.NewServeMux()
	if withMetrics && s.metrics != nil {
		mux.Handle(s.cfg.MetricsPath, s.metrics.Handler())
	}
	if withHealth && s.health != nil {
		mux.HandleFunc(s.cfg.LivenessPath, s.health.LivenessHandler())
		mux.HandleFunc(s.cfg.ReadinessPath, s.health.ReadinessHandler())
		mux.HandleFunc("/health/full", s.health.FullHealthHandler())
	}
	return mux
}

// Handler returns every enabled endpoint on one mux.
func (s *Server) Handler() http.Handler {
	return s.mux(s.cfg.MetricsEnabled, s.cfg.HealthEnabled)
}

// Start binds every enabled listener before serving, so a taken port fails
// startup instead of surfacing only in the log.
func (s *Server) Start(ctx context.Context) error {
	metricsAddr := fmt.Sprintf("%s:%d", s.cfg.MetricsAddress, s.cfg.MetricsPort)
	healthAddr := fmt.Sprintf("%s:%d", s.cfg.HealthAddress, s.cfg.HealthPort)

	if s.cfg.MetricsEnabled && s.cfg.HealthEnabled && metricsAddr == healthAddr {
		return s.listen(ctx, metricsAddr, s.mux(true, true))
	}
	if s.cfg.MetricsEnabled {
		if err := s.listen(ctx, metricsAddr, s.mux(true, false)); err != nil {
			return err
		}
	}
	if s.cfg.HealthEnabled {
		if err := s.listen(ctx, healthAddr, s.mux(false, true)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) listen(ctx context.Context, addr string, handler http.Handler) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      15 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.servers = append(s.servers, srv)

	log.Info().
		Str("address", ln.Addr().String()).
		Str("metrics", s.cfg.MetricsPath).
		Str("liveness", s.cfg.LivenessPath).
		Str("readiness", s.cfg.ReadinessPath).
		Msg("Observability server listening")

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("address", addr).Msg("Observability server error")
		}
	}()
	return nil
}

// Stop gracefully stops the observability servers.
func (s *Server) Stop(ctx context.Context) error {
	var errs []error
	for _, srv := range s.servers {
		log.Info().Str("address", srv.Addr).Msg("Stopping observability server...")
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s shutdown: %w", srv.Addr, err))
		}
	}
	return errors.Join(errs...)
}
