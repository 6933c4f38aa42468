// Package report holds the most recent health report per environment and
// falls back to the last-known-good one after a total failure.
package report

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nholik/ssh-sentinel/internal/health"
	"github.com/nholik/ssh-sentinel/internal/state"
)

// Snapshot is what readers see.
type Snapshot struct {
	// Report is the report to display.
	Report health.Report
	// Stale is set when Report is a cached report kept after a total failure
	// or restored from a previous run.
	Stale bool
	// Latest is the most recently recorded report, which may be the failure.
	Latest health.Report
}

// Aggregator is a single-slot report cache for one environment.
type Aggregator struct {
	environment string
	logger      zerolog.Logger
	store       state.Store
	storeMu     *sync.Mutex
	now         func() time.Time

	mu      sync.RWMutex
	current *health.Report
	latest  *health.Report
	stale   bool
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithStore persists last-known-good reports. mu serializes access to the
// store when several aggregators share it.
func WithStore(store state.Store, mu *sync.Mutex) Option {
	return func(a *Aggregator) {
		a.store = store
		if mu != nil {
			a.storeMu = mu
		}
	}
}

// WithLogger sets the aggregator logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(a *Aggregator) {
		a.logger = logger
	}
}

// New creates an Aggregator for one environment.
func New(environment string, opts ...Option) *Aggregator {
	a := &Aggregator{
		environment: environment,
		logger:      zerolog.Nop(),
		storeMu:     &sync.Mutex{},
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Environment returns the environment this aggregator serves.
func (a *Aggregator) Environment() string {
	return a.environment
}

// Restore loads the persisted last-known-good report, if any. It is served as
// stale until a fresh report is recorded.
func (a *Aggregator) Restore(ctx context.Context) error {
	if a.store == nil {
		return nil
	}
	a.storeMu.Lock()
	loaded, err := a.store.Load(ctx)
	a.storeMu.Unlock()
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}

	snapshot, ok := loaded.Environments[a.environment]
	if !ok || len(snapshot.Report.Outcomes) == 0 {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current != nil {
		return nil
	}
	restored := snapshot.Report.Clone()
	a.current = &restored
	a.stale = true
	a.logger.Debug().
		Str("environment", a.environment).
		Time("recorded_at", snapshot.RecordedAt).
		Msg("restored last-known-good report")
	return nil
}

// Record stores r and returns it. After a total failure the previous report
// stays current and is served stale; r remains available through Latest.
// The new report is visible to readers as soon as Record returns.
func (a *Aggregator) Record(ctx context.Context, r health.Report) (health.Report, error) {
	if r.Environment != a.environment {
		return r, &health.AggregationError{
			Environment: a.environment,
			Reason:      fmt.Sprintf("report belongs to %q", r.Environment),
		}
	}
	r = r.Clone()

	a.mu.Lock()
	latest := r.Clone()
	a.latest = &latest
	if r.TotalFailure() && a.current != nil {
		a.stale = true
		a.mu.Unlock()
		a.logger.Warn().
			Str("environment", a.environment).
			Int("targets", len(r.Outcomes)).
			Msg("total failure, serving last-known-good report")
		return r, nil
	}
	current := r.Clone()
	a.current = &current
	a.stale = false
	a.mu.Unlock()

	if r.TotalFailure() || a.store == nil {
		return r, nil
	}
	return r, a.persist(ctx, r)
}

func (a *Aggregator) persist(ctx context.Context, r health.Report) error {
	a.storeMu.Lock()
	defer a.storeMu.Unlock()

	loaded, err := a.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	if loaded.Environments == nil {
		loaded.Environments = map[string]state.EnvironmentSnapshot{}
	}
	loaded.Environments[a.environment] = state.EnvironmentSnapshot{
		Report:     r,
		RecordedAt: a.now().UTC(),
	}
	if err := a.store.Save(ctx, loaded); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

// Current returns the report to display. ok is false before anything has
// been recorded or restored.
func (a *Aggregator) Current() (Snapshot, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.current == nil {
		return Snapshot{}, false
	}
	snapshot := Snapshot{
		Report: a.current.Clone(),
		Stale:  a.stale,
	}
	if a.latest != nil {
		snapshot.Latest = a.latest.Clone()
	} else {
		snapshot.Latest = a.current.Clone()
	}
	return snapshot, true
}

// Latest returns the most recently recorded report, including total failures.
func (a *Aggregator) Latest() (health.Report, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.latest == nil {
		return health.Report{}, false
	}
	return a.latest.Clone(), true
}
