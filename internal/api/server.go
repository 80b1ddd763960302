// Omnicast - Omnichannel Message Delivery Core
// Copyright 2026 M. Karlsen (mkarlsen)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mkarlsen/omnicast

// Package api is the thin HTTP surface of the intake process. Request
// parsing, authentication, and rate limiting belong to the edge in front of
// it; the handlers translate JSON to command service calls and taxonomy
// errors to status codes. The caller identity arrives in the X-Owner-ID
// header, set by the edge after authentication.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mkarlsen/omnicast/internal/command"
	"github.com/mkarlsen/omnicast/internal/domain"
	"github.com/mkarlsen/omnicast/internal/logging"
)

// CommandService is the slice of the command service the handlers use.
type CommandService interface {
	Schedule(ctx context.Context, cmd command.ScheduleCommand) (uuid.UUID, error)
	Get(ctx context.Context, ownerID, id string) (*domain.Message, error)
	ListChannelKinds() []domain.ChannelKindInfo
	SubmitCertification(ctx context.Context, cmd command.CertificationCommand) (uuid.UUID, error)
}

// Config holds the intake listener settings.
type Config struct {
	Host          string
	Port          int
	Timeout       time.Duration
	ShutdownGrace time.Duration
}

// Server is the intake HTTP server.
type Server struct {
	service CommandService
	config  Config
	handler http.Handler
}

// NewServer creates the intake server.
func NewServer(service CommandService, cfg Config) *Server {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 10 * time.Second
	}
	s := &Server{service: service, config: cfg}
	s.handler = s.routes()
	return s
}

// Handler returns the routed handler. Exposed for tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(correlationMiddleware)
	r.Use(metricsMiddleware)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/messages", s.handleSchedule)
		r.Get("/messages/{id}", s.handleGet)
		r.Get("/channels", s.handleListChannels)
		r.Post("/certifications", s.handleSubmitCertification)
	})

	r.Get("/healthz", handleHealthz)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// Serve runs the listener until the context is canceled, then shuts down
// within the grace period. It satisfies suture.Service.
func (s *Server) Serve(ctx context.Context) error {
	addr := net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.config.Timeout,
		WriteTimeout:      s.config.Timeout,
		IdleTimeout:       2 * s.config.Timeout,
	}

	log := logging.WithComponent("api")
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("Intake API listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("intake listener: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("intake shutdown: %w", err)
	}
	log.Info().Msg("Intake API stopped")
	return ctx.Err()
}

// String names the service in supervisor logs.
func (s *Server) String() string {
	return "intake-api"
}

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// OpsServer serves /metrics and /healthz for the dispatcher and worker
// processes, which have no API surface of their own.
type OpsServer struct {
	port int
}

// NewOpsServer creates an ops listener on the given port.
func NewOpsServer(port int) *OpsServer {
	return &OpsServer{port: port}
}

// Serve runs the ops listener until the context is canceled. It satisfies
// suture.Service.
func (o *OpsServer) Serve(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", handleHealthz)
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(o.port)),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		opsLog := logging.WithComponent("ops")
		opsLog.Info().Int("port", o.port).Msg("Ops listener started")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("ops listener: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	return ctx.Err()
}

// String names the service in supervisor logs.
func (o *OpsServer) String() string {
	return "ops-listener"
}
