/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/prancheta/internal/api"
	"github.com/friendsincode/prancheta/internal/audit"
	"github.com/friendsincode/prancheta/internal/clock"
	"github.com/friendsincode/prancheta/internal/config"
	"github.com/friendsincode/prancheta/internal/db"
	"github.com/friendsincode/prancheta/internal/departures"
	"github.com/friendsincode/prancheta/internal/eventbus"
	"github.com/friendsincode/prancheta/internal/events"
	"github.com/friendsincode/prancheta/internal/logbuffer"
	"github.com/friendsincode/prancheta/internal/scheduler"
	schedulerstate "github.com/friendsincode/prancheta/internal/scheduler/state"
	"github.com/friendsincode/prancheta/internal/telemetry"
	"github.com/friendsincode/prancheta/internal/version"
)

const dbMetricsInterval = 15 * time.Second

// Server bundles HTTP and supporting services.
type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server
	closers    []func() error

	db        *gorm.DB
	store     *departures.GormStore
	bus       events.Broker
	scheduler *scheduler.Service
	auditSvc  *audit.Service
	logBuffer *logbuffer.Buffer
	api       *api.API

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New constructs the server and wires dependencies. logBuf may be nil.
func New(cfg *config.Config, logBuf *logbuffer.Buffer, logger zerolog.Logger) (*Server, error) {
	for _, warn := range cfg.LegacyEnvWarnings {
		logger.Warn().Msg(warn)
	}

	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.TracingMiddleware("prancheta-api"))
	router.Use(telemetry.MetricsMiddleware)
	router.Use(middleware.Timeout(30 * time.Second))

	srv := &Server{
		cfg:       cfg,
		logger:    logger,
		router:    router,
		logBuffer: logBuf,
	}

	if err := srv.initDependencies(); err != nil {
		_ = srv.Close()
		return nil, err
	}

	srv.configureRoutes()
	srv.startBackgroundWorkers()

	srv.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort),
		Handler:           srv.router,
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return srv, nil
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'; base-uri 'none'")

		// Only advertise HSTS for requests served over HTTPS.
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) initDependencies() error {
	database, err := db.Connect(s.cfg)
	if err != nil {
		return err
	}
	s.db = database
	s.DeferClose(func() error { return db.Close(database) })

	if err := db.Migrate(database); err != nil {
		return err
	}

	bus, err := eventbus.New(s.cfg, s.logger)
	if err != nil {
		return fmt.Errorf("create event bus: %w", err)
	}
	s.bus = bus
	s.DeferClose(bus.Close)

	s.store = departures.NewGormStore(database)
	stateStore := schedulerstate.NewStore(s.cfg.Lines, s.cfg.DefaultInterval, s.cfg.GlobalInterval)
	clk := clock.NewReal(s.cfg.Location)
	s.scheduler = scheduler.New(
		s.store,
		stateStore,
		clk,
		s.bus,
		scheduler.Options{
			Lead:     time.Duration(s.cfg.LeadMinutes) * time.Minute,
			Location: clk.Location(),
		},
		s.logger,
	)

	s.auditSvc = audit.NewService(database, s.bus, s.logger)
	s.api = api.New(s.scheduler, s.store, s.auditSvc, s.logger)
	if s.logBuffer != nil {
		s.api.SetLogBuffer(s.logBuffer)
	}

	for _, l := range stateStore.Lines() {
		telemetry.LineIntervalMinutes.WithLabelValues(l.Name).Set(float64(l.Interval))
	}

	s.logger.Info().
		Str("db_backend", string(s.cfg.DBBackend)).
		Str("event_bus", string(s.cfg.EventBus)).
		Str("timezone", s.cfg.Location.String()).
		Int("lines", len(s.cfg.Lines)).
		Int("default_interval", s.cfg.DefaultInterval).
		Int("lead_minutes", s.cfg.LeadMinutes).
		Msg("dependencies initialized")
	return nil
}

// HTTPServer exposes the underlying net/http server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Router exposes the configured router.
func (s *Server) Router() http.Handler {
	return s.router
}

// LogBuffer returns the buffer attached to the process logger.
func (s *Server) LogBuffer() *logbuffer.Buffer {
	return s.logBuffer
}

// Scheduler exposes the departure scheduler.
func (s *Server) Scheduler() *scheduler.Service {
	return s.scheduler
}

// Close releases owned resources in reverse order.
func (s *Server) Close() error {
	s.stopBackgroundWorkers()
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.closers = nil
	return firstErr
}

// DeferClose registers a cleanup hook.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *Server) startBackgroundWorkers() {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	if s.auditSvc != nil {
		s.auditSvc.Start(ctx)
	}

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		ticker := time.NewTicker(dbMetricsInterval)
		defer ticker.Stop()
		for {
			db.UpdateConnectionMetrics(s.db)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

func (s *Server) stopBackgroundWorkers() {
	if s.bgCancel == nil {
		return
	}
	s.bgCancel()
	s.bgWG.Wait()
	if s.auditSvc != nil {
		s.auditSvc.Wait()
	}
	s.bgCancel = nil
}

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprintf(w, `{"status":"ok","version":%q}`, version.Version)
	})

	s.router.Handle("/metrics", telemetry.Handler())

	s.api.Routes(s.router)
}
