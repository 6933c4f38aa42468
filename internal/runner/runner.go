package runner

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nholik/ssh-sentinel/internal/config"
	"github.com/nholik/ssh-sentinel/internal/health"
	"github.com/nholik/ssh-sentinel/internal/healthcheck"
	"github.com/nholik/ssh-sentinel/internal/metrics"
	"github.com/nholik/ssh-sentinel/internal/notify"
	"github.com/nholik/ssh-sentinel/internal/report"
	"github.com/nholik/ssh-sentinel/internal/transition"
)

// Ticker is the minimal interface needed for driving the runner loop.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct {
	ticker *time.Ticker
}

func (t timeTicker) C() <-chan time.Time {
	return t.ticker.C
}

func (t timeTicker) Stop() {
	t.ticker.Stop()
}

// Prober runs one probe cycle over an environment.
type Prober interface {
	Run(ctx context.Context, env config.Environment) (health.Report, error)
}

// Runner drives probe cycles for one environment.
type Runner struct {
	logger        zerolog.Logger
	pollInterval  time.Duration
	tickerFactory func(time.Duration) Ticker
	runOnce       func(context.Context) error
	environment   config.Environment
	prober        Prober
	aggregator    *report.Aggregator
	notifier      notify.Notifier
	metrics       *metrics.Metrics
	tracker       *healthcheck.Tracker

	cycleMu sync.Mutex
}

// Option customizes runner behavior.
type Option func(*Runner)

// WithTickerFactory overrides how tickers are created.
func WithTickerFactory(factory func(time.Duration) Ticker) Option {
	return func(r *Runner) {
		r.tickerFactory = factory
	}
}

// WithRunOnce overrides the single-cycle execution step.
func WithRunOnce(runOnce func(context.Context) error) Option {
	return func(r *Runner) {
		r.runOnce = runOnce
	}
}

// WithAggregator sets where reports are recorded. Without one the runner
// keeps a private aggregator.
func WithAggregator(aggregator *report.Aggregator) Option {
	return func(r *Runner) {
		r.aggregator = aggregator
	}
}

// WithNotifier sends status transitions after each cycle.
func WithNotifier(notifier notify.Notifier) Option {
	return func(r *Runner) {
		r.notifier = notifier
	}
}

// WithMetrics records cycle metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runner) {
		r.metrics = m
	}
}

// WithTracker records cycle timing for /healthz and /readyz.
func WithTracker(tracker *healthcheck.Tracker) Option {
	return func(r *Runner) {
		r.tracker = tracker
	}
}

// New constructs a Runner for env with the given logger and poll interval.
func New(logger zerolog.Logger, pollInterval time.Duration, env config.Environment, prober Prober, opts ...Option) *Runner {
	r := &Runner{
		logger:       logger,
		pollInterval: pollInterval,
		environment:  env,
		prober:       prober,
		tickerFactory: func(d time.Duration) Ticker {
			return timeTicker{ticker: time.NewTicker(d)}
		},
	}
	r.runOnce = r.defaultRunOnce

	for _, opt := range opts {
		opt(r)
	}
	if r.aggregator == nil {
		r.aggregator = report.New(env.Name, report.WithLogger(logger))
	}

	return r
}

// Environment returns the environment this runner probes.
func (r *Runner) Environment() config.Environment {
	return r.environment
}

// Aggregator returns the aggregator reports are recorded in.
func (r *Runner) Aggregator() *report.Aggregator {
	return r.aggregator
}

// Run starts the main loop and blocks until the context is canceled.
func (r *Runner) Run(ctx context.Context) error {
	if r.pollInterval <= 0 {
		return errors.New("poll interval must be greater than zero")
	}

	// Run immediately on startup
	if err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
		r.logger.Error().Err(err).Msg("initial run cycle failed")
	}

	ticker := r.tickerFactory(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("runner stopped")
			return nil
		case <-ticker.C():
			if err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error().Err(err).Msg("run cycle failed")
			}
		}
	}
}

// RunOnce executes a single cycle of the runner.
func (r *Runner) RunOnce(ctx context.Context) error {
	return r.runOnce(ctx)
}

func (r *Runner) defaultRunOnce(ctx context.Context) error {
	_, err := r.Cycle(ctx)
	return err
}

// Cycle probes the environment once, records the report, notifies on status
// transitions and returns the snapshot readers now see. Cycles never overlap.
// A *RuntimeError means the snapshot is still valid; a
// *health.AggregationError means it is not.
func (r *Runner) Cycle(ctx context.Context) (report.Snapshot, error) {
	r.cycleMu.Lock()
	defer r.cycleMu.Unlock()

	started := time.Now()
	var previous *health.Report
	if prev, ok := r.aggregator.Current(); ok {
		previous = &prev.Report
	}

	probed, err := r.prober.Run(ctx, r.environment)
	if err != nil {
		if ctx.Err() != nil {
			r.logger.Debug().Err(err).Msg("probe cycle canceled; nothing recorded")
			return report.Snapshot{}, err
		}
		r.logInvariant(err)
		return report.Snapshot{}, err
	}

	var runtimeErr error
	if _, err := r.aggregator.Record(ctx, probed); err != nil {
		if r.logInvariant(err) {
			return report.Snapshot{}, err
		}
		runtimeErr = wrapRuntime("record report", err)
	}

	snapshot, _ := r.aggregator.Current()
	duration := time.Since(started)

	r.metrics.ObserveCycleDuration(r.environment.Name, duration)
	r.metrics.ObserveReport(probed)

	if snapshot.Stale {
		r.metrics.IncStaleReports(r.environment.Name)
	} else {
		r.metrics.SetLastSuccessfulCycleTimestamp(r.environment.Name, time.Now())
		r.notifyTransitions(ctx, transition.Detect(previous, probed))
	}
	r.tracker.RecordCycle(r.environment.Name, duration, len(probed.Outcomes), snapshot.Stale)

	counts := probed.Counts()
	r.logger.Info().
		Int("targets", len(probed.Outcomes)).
		Int("up", counts[health.StatusUp]).
		Int("down", len(probed.Outcomes)-counts[health.StatusUp]).
		Bool("stale", snapshot.Stale).
		Dur("duration", duration).
		Msg("probe cycle complete")

	return snapshot, runtimeErr
}

func (r *Runner) notifyTransitions(ctx context.Context, transitions []transition.Transition) {
	if len(transitions) == 0 {
		return
	}
	for _, change := range transitions {
		event := r.logger.Info()
		switch change.CurrentStatus {
		case health.StatusUp:
		case health.StatusDegraded:
			event = r.logger.Warn()
		default:
			event = r.logger.Error()
		}
		event.
			Str("service", change.Target).
			Str("host", change.Host).
			Str("previous_status", string(change.PreviousStatus)).
			Str("current_status", string(change.CurrentStatus)).
			Str("message", change.Message).
			Msg("service transition detected")
		r.metrics.IncAlertsTotal(r.environment.Name, string(change.CurrentStatus))
	}

	if r.notifier == nil {
		return
	}
	if err := r.notifier.Notify(ctx, r.environment.Name, transitions); err != nil {
		r.metrics.IncNotifyErrors()
		r.logger.Error().Err(wrapRuntime("notify", err)).Int("transitions", len(transitions)).Msg("notification failed")
	}
}

func (r *Runner) logInvariant(err error) bool {
	var aggErr *health.AggregationError
	if !errors.As(err, &aggErr) {
		return false
	}
	r.logger.Error().Err(err).Str("environment", r.environment.Name).Msg("report invariant violated")
	return true
}
