package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/nholik/ssh-sentinel/internal/config"
	"github.com/nholik/ssh-sentinel/internal/healthcheck"
	"github.com/nholik/ssh-sentinel/internal/metrics"
	"github.com/nholik/ssh-sentinel/internal/notify"
	"github.com/nholik/ssh-sentinel/internal/report"
	"github.com/nholik/ssh-sentinel/internal/runner"
	"github.com/nholik/ssh-sentinel/internal/state"
)

// ErrUnknownEnvironment is returned for environments that are not configured.
var ErrUnknownEnvironment = errors.New("unknown environment")

// Coordinator manages one Runner per environment.
// It polls every environment in parallel and serves on-demand refreshes.
type Coordinator struct {
	logger       zerolog.Logger
	cfg          config.Config
	resolved     config.Resolved
	runners      map[string]*runner.Runner
	runnerErrors map[string]error
	mu           sync.RWMutex
}

// Option customizes the runners a Coordinator builds.
type Option func(*options)

type options struct {
	store    state.Store
	notifier notify.Notifier
	metrics  *metrics.Metrics
	tracker  *healthcheck.Tracker
}

// WithStore persists last-known-good reports for every environment.
func WithStore(store state.Store) Option {
	return func(o *options) {
		o.store = store
	}
}

// WithNotifier sends transitions from every environment.
func WithNotifier(notifier notify.Notifier) Option {
	return func(o *options) {
		o.notifier = notifier
	}
}

// WithMetrics records cycle metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithTracker records cycle timing for health endpoints.
func WithTracker(tracker *healthcheck.Tracker) Option {
	return func(o *options) {
		o.tracker = tracker
	}
}

// New constructs a Coordinator with a Runner and Aggregator for each resolved
// environment. All aggregators share one store lock.
func New(logger zerolog.Logger, cfg config.Config, resolved config.Resolved, prober runner.Prober, opts ...Option) *Coordinator {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	c := &Coordinator{
		logger:       logger,
		cfg:          cfg,
		resolved:     resolved,
		runners:      make(map[string]*runner.Runner, len(resolved.Environments)),
		runnerErrors: make(map[string]error),
	}

	storeMu := &sync.Mutex{}
	for _, env := range resolved.Environments {
		envLogger := logger.With().Str("environment", env.Name).Logger()
		aggOpts := []report.Option{report.WithLogger(envLogger)}
		if o.store != nil {
			aggOpts = append(aggOpts, report.WithStore(o.store, storeMu))
		}
		c.runners[env.Name] = runner.New(
			envLogger,
			cfg.PollInterval,
			env,
			prober,
			runner.WithAggregator(report.New(env.Name, aggOpts...)),
			runner.WithNotifier(o.notifier),
			runner.WithMetrics(o.metrics),
			runner.WithTracker(o.tracker),
		)
	}
	return c
}

// Resolved returns the configuration the coordinator was built from.
func (c *Coordinator) Resolved() config.Resolved {
	return c.resolved
}

// Restore loads persisted reports into every aggregator. Failures are logged.
func (c *Coordinator) Restore(ctx context.Context) {
	for name, r := range c.runners {
		if err := r.Aggregator().Restore(ctx); err != nil {
			c.logger.Warn().Err(err).Str("environment", name).Msg("failed to restore report")
		}
	}
}

// Run polls every environment in parallel and blocks until context is canceled.
// With polling disabled it only waits. Returns nil on clean shutdown.
func (c *Coordinator) Run(ctx context.Context) error {
	if c.cfg.PollInterval <= 0 {
		c.logger.Info().Msg("polling disabled, serving on-demand refreshes only")
		<-ctx.Done()
		return nil
	}

	c.logger.Info().
		Int("environments", len(c.runners)).
		Dur("poll_interval", c.cfg.PollInterval).
		Msg("starting coordinator")

	var wg sync.WaitGroup
	for name, r := range c.runners {
		wg.Add(1)
		go c.spawnRunner(ctx, &wg, name, r)
	}

	wg.Wait()
	c.logger.Info().Msg("all runners stopped")

	c.mu.RLock()
	defer c.mu.RUnlock()
	for name, err := range c.runnerErrors {
		if err != nil {
			c.logger.Error().Err(err).Str("environment", name).Msg("runner error")
		}
	}

	return nil
}

func (c *Coordinator) spawnRunner(ctx context.Context, wg *sync.WaitGroup, name string, r *runner.Runner) {
	defer wg.Done()

	envLogger := c.logger.With().Str("environment", name).Logger()
	envLogger.Info().Int("targets", len(r.Environment().Targets)).Msg("runner started")

	if err := r.Run(ctx); err != nil {
		envLogger.Error().Err(err).Msg("runner exited with error")
		c.recordError(name, err)
	} else {
		envLogger.Info().Msg("runner exited cleanly")
	}
}

func (c *Coordinator) recordError(name string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runnerErrors[name] = err
}

// Refresh runs a probe cycle for one environment now.
func (c *Coordinator) Refresh(ctx context.Context, name string) (report.Snapshot, error) {
	r, ok := c.runners[name]
	if !ok {
		return report.Snapshot{}, fmt.Errorf("%w: %s", ErrUnknownEnvironment, name)
	}
	snapshot, err := r.Cycle(ctx)
	var runtimeErr *runner.RuntimeError
	if errors.As(err, &runtimeErr) {
		c.logger.Warn().Err(err).Str("environment", name).Msg("refresh completed with errors")
		return snapshot, nil
	}
	return snapshot, err
}

// Current returns the snapshot readers should see for an environment. ok is
// false when nothing has been recorded or restored yet.
func (c *Coordinator) Current(name string) (report.Snapshot, bool, error) {
	r, ok := c.runners[name]
	if !ok {
		return report.Snapshot{}, false, fmt.Errorf("%w: %s", ErrUnknownEnvironment, name)
	}
	snapshot, ok := r.Aggregator().Current()
	return snapshot, ok, nil
}

// Runners returns a copy of the runners map.
func (c *Coordinator) Runners() map[string]*runner.Runner {
	result := make(map[string]*runner.Runner, len(c.runners))
	for k, v := range c.runners {
		result[k] = v
	}
	return result
}
