package server

import (
	"context"
	"embed"
	"errors"
	"html/template"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/nholik/ssh-sentinel/internal/config"
	"github.com/nholik/ssh-sentinel/internal/coordinator"
	"github.com/nholik/ssh-sentinel/internal/healthcheck"
	"github.com/nholik/ssh-sentinel/internal/infra"
	"github.com/nholik/ssh-sentinel/internal/metrics"
	"github.com/nholik/ssh-sentinel/internal/report"
)

const shutdownTimeout = 5 * time.Second

//go:embed templates/*.html
var templateFS embed.FS

// Provider is the read and refresh surface the web panel needs.
type Provider interface {
	Resolved() config.Resolved
	Current(name string) (report.Snapshot, bool, error)
	Refresh(ctx context.Context, name string) (report.Snapshot, error)
}

// Inventory reports the AWS resources in the configured region.
type Inventory interface {
	Status(ctx context.Context) (infra.Status, error)
}

// Server serves the dashboard, JSON API, health and metrics routes.
type Server struct {
	logger       zerolog.Logger
	provider     Provider
	tracker      *healthcheck.Tracker
	metrics      *metrics.Metrics
	pollInterval time.Duration
	dashboard    *template.Template
	inventory    *inventoryCache
}

// Option configures a Server.
type Option func(*Server)

// WithInventory serves /api/infrastructure from inventory.
func WithInventory(inventory Inventory) Option {
	return func(s *Server) {
		if inventory != nil {
			s.inventory = newInventoryCache(inventory, inventoryTTL)
		}
	}
}

// New builds a Server. tracker and metrics may be nil.
func New(logger zerolog.Logger, provider Provider, tracker *healthcheck.Tracker, metricsCollector *metrics.Metrics, pollInterval time.Duration, opts ...Option) *Server {
	s := &Server{
		logger:       logger,
		provider:     provider,
		tracker:      tracker,
		metrics:      metricsCollector,
		pollInterval: pollInterval,
		dashboard:    template.Must(template.New("dashboard.html").Funcs(templateFuncs).ParseFS(templateFS, "templates/dashboard.html")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleDashboard)
	mux.HandleFunc("GET /api/environments", s.handleEnvironments)
	mux.HandleFunc("GET /api/environments/{name}/services", s.handleServices)
	mux.HandleFunc("GET /api/environments/{name}/health", s.handleHealth)
	if s.inventory != nil {
		mux.HandleFunc("GET /api/infrastructure", s.handleInfrastructure)
	}
	registerHealthRoutes(mux, s.tracker, s.pollInterval)
	registerMetricsRoute(mux, s.metrics)
	return mux
}

func registerHealthRoutes(mux *http.ServeMux, tracker *healthcheck.Tracker, pollInterval time.Duration) {
	mux.HandleFunc("/healthz", healthcheck.HealthHandler(tracker, pollInterval))
	mux.HandleFunc("/readyz", healthcheck.ReadyHandler(tracker))
}

func registerMetricsRoute(mux *http.ServeMux, metricsCollector *metrics.Metrics) {
	if metricsCollector == nil {
		return
	}
	mux.Handle("/metrics", metricsCollector.Handler())
}

// Start serves on addr until ctx is canceled, then shuts down gracefully.
// It returns when the listener has stopped.
func (s *Server) Start(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error().Err(err).Str("addr", addr).Msg("http server shutdown failed")
		}
	}()

	s.logger.Info().Str("addr", addr).Msg("http server starting")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error().Err(err).Str("addr", addr).Msg("http server failed")
		return err
	}
	<-shutdownDone
	return nil
}

// snapshotFor returns the environment's snapshot, probing first when refresh
// is set or nothing has been recorded yet.
func (s *Server) snapshotFor(ctx context.Context, name string, refresh bool) (report.Snapshot, error) {
	if !refresh {
		snapshot, ok, err := s.provider.Current(name)
		if err != nil || ok {
			return snapshot, err
		}
	}
	return s.provider.Refresh(ctx, name)
}

func statusForError(err error) int {
	if errors.Is(err, coordinator.ErrUnknownEnvironment) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}
