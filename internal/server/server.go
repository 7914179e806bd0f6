// Package server exposes the hub over HTTP and owns the listeners.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gaspardpetit/motionstream/internal/config"
	"github.com/gaspardpetit/motionstream/internal/hub"
	"github.com/gaspardpetit/motionstream/internal/logx"
	"github.com/gaspardpetit/motionstream/internal/metrics"
	"github.com/gaspardpetit/motionstream/internal/serverstate"
)

// Server runs the hub dispatcher, the websocket listener and, when
// configured, a separate metrics listener.
type Server struct {
	cfg     config.ServerConfig
	hub     *hub.Hub
	tracker *serverstate.Tracker
	preg    *prometheus.Registry

	srv        *http.Server
	metricsSrv *http.Server
	ln         net.Listener

	errc         chan error
	shutdownOnce sync.Once
	shutdownErr  error
}

// New wires a Server. A nil tracker uses an in-memory store.
func New(cfg config.ServerConfig, h *hub.Hub, tr *serverstate.Tracker) *Server {
	if tr == nil {
		tr = serverstate.NewTracker(nil)
	}
	preg := prometheus.NewRegistry()
	preg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Register(preg)

	s := &Server{cfg: cfg, hub: h, tracker: tr, preg: preg, errc: make(chan error, 3)}
	s.srv = &http.Server{Handler: NewRouter(cfg, h, tr, preg)}
	if cfg.SeparateMetrics() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(preg, promhttp.HandlerOpts{}))
		s.metricsSrv = &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
	}
	return s
}

// Handler returns the HTTP handler served on the main listener.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Start binds the listener and starts serving in the background. The
// dispatcher runs until Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.ListenAddr(), err)
	}
	s.ln = ln

	go func() {
		if err := s.hub.Run(context.Background()); err != nil {
			s.errc <- fmt.Errorf("dispatcher: %w", err)
		}
	}()
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.errc <- fmt.Errorf("serve: %w", err)
		}
	}()
	if s.metricsSrv != nil {
		go func() {
			logx.Log.Info().Str("addr", s.cfg.MetricsAddr).Msg("metrics server starting")
			if err := s.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.errc <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	s.tracker.SetReady()
	logx.Log.Info().
		Str("endpoint", s.Endpoint()).
		Str("subprotocol", s.cfg.Subprotocol).
		Msg("server listening")
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Endpoint returns the websocket URL clients connect to.
func (s *Server) Endpoint() string {
	host := s.cfg.ListenAddr()
	if a := s.Addr(); a != nil {
		if _, port, err := net.SplitHostPort(a.String()); err == nil {
			host = net.JoinHostPort(s.cfg.BindAddr, port)
		}
	}
	return "ws://" + host + s.cfg.Path
}

// Errors reports fatal background errors.
func (s *Server) Errors() <-chan error { return s.errc }

// Shutdown drains the server: it marks the state draining, closes every
// client with a close handshake, then stops the listeners. Only the first
// call has an effect.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		s.tracker.StartDrain()
		logx.Log.Info().Int("connections", s.hub.Registry().Len()).Msg("shutting down")

		var errs []error
		if err := s.hub.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("hub shutdown: %w", err))
		}
		if err := s.srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("server shutdown: %w", err))
		}
		if s.metricsSrv != nil {
			if err := s.metricsSrv.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("metrics server shutdown: %w", err))
			}
		}
		s.shutdownErr = errors.Join(errs...)
	})
	return s.shutdownErr
}
