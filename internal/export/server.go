// Package export serves the Prometheus exposition endpoint and the
// exporter's self-observability metrics.
package export

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// ServerConfig configures the exposition HTTP server.
type ServerConfig struct {
	// Addr is the listen address. Defaults to ":8000".
	Addr string `yaml:"addr"`

	// ReadyImmediately reports /healthz as healthy from startup
	// instead of waiting for the first successful poll.
	ReadyImmediately bool `yaml:"ready_immediately"`
}

// Server exposes /metrics and /healthz. Scrapes only read the current
// registry contents; they never trigger upstream calls.
type Server struct {
	log      logrus.FieldLogger
	cfg      ServerConfig
	server   *http.Server
	listener net.Listener
	registry *prometheus.Registry

	ready atomic.Bool
}

// NewServer creates the exposition server for the given registry.
func NewServer(
	log logrus.FieldLogger,
	cfg ServerConfig,
	registry *prometheus.Registry,
) *Server {
	s := &Server{
		log:      log.WithField("component", "export"),
		cfg:      cfg,
		registry: registry,
	}

	if cfg.ReadyImmediately {
		s.ready.Store(true)
	}

	return s
}

// Start begins serving. It returns once the listener is bound.
func (s *Server) Start(_ context.Context) error {
	addr := s.cfg.Addr
	if addr == "" {
		addr = ":8000"
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(
		s.registry,
		promhttp.HandlerOpts{},
	))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if !s.ready.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprint(w, "waiting for first poll")

			return
		}

		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	s.listener = ln

	s.server = &http.Server{
		Handler: mux,
	}

	go func() {
		s.log.WithField("addr", ln.Addr().String()).
			Info("Exposition server started")

		if err := s.server.Serve(ln); err != nil &&
			err != http.ErrServerClosed {
			s.log.WithError(err).
				Error("Exposition server error")
		}
	}()

	return nil
}

// SetReady marks the process as having completed its first poll cycle.
func (s *Server) SetReady() {
	s.ready.Store(true)
}

// Addr returns the actual listener address. Useful when started
// with ":0" to get the OS-assigned port.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}

	return s.cfg.Addr
}

// Stop shuts the server down gracefully, letting in-flight scrapes
// finish writing their response.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(
		context.Background(), 5*time.Second,
	)
	defer cancel()

	return s.server.Shutdown(ctx)
}
