package healthcheck

import (
	"sort"
	"sync"
	"time"
)

// Snapshot describes the latest cycle timing details.
type Snapshot struct {
	LastCycleTime   *time.Time                     `json:"last_cycle_time"`
	CycleDurationMS int64                          `json:"cycle_duration_ms"`
	ServicesProbed  int                            `json:"services_probed"`
	Environments    map[string]EnvironmentSnapshot `json:"environments,omitempty"`
}

// EnvironmentSnapshot is the last cycle for a single environment.
type EnvironmentSnapshot struct {
	LastCycleTime   time.Time `json:"last_cycle_time"`
	CycleDurationMS int64     `json:"cycle_duration_ms"`
	ServicesProbed  int       `json:"services_probed"`
	Stale           bool      `json:"stale"`
}

type cycle struct {
	at       time.Time
	duration time.Duration
	probed   int
	stale    bool
}

// Tracker records cycle timing for health endpoints.
type Tracker struct {
	mu     sync.RWMutex
	last   string
	cycles map[string]cycle
}

// NewTracker constructs a new Tracker.
func NewTracker() *Tracker {
	return &Tracker{cycles: make(map[string]cycle)}
}

// RecordCycle updates cycle timing and readiness for an environment.
func (t *Tracker) RecordCycle(environment string, duration time.Duration, servicesProbed int, stale bool) {
	if t == nil {
		return
	}
	now := time.Now().UTC()
	t.mu.Lock()
	t.cycles[environment] = cycle{at: now, duration: duration, probed: servicesProbed, stale: stale}
	t.last = environment
	t.mu.Unlock()
}

// Snapshot returns the current tracker snapshot. The top-level fields describe
// the most recent cycle across all environments.
func (t *Tracker) Snapshot() Snapshot {
	if t == nil {
		return Snapshot{}
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	snapshot := Snapshot{}
	if latest, ok := t.cycles[t.last]; ok {
		at := latest.at
		snapshot.LastCycleTime = &at
		snapshot.CycleDurationMS = int64(latest.duration / time.Millisecond)
	}
	if len(t.cycles) == 0 {
		return snapshot
	}
	snapshot.Environments = make(map[string]EnvironmentSnapshot, len(t.cycles))
	for name, c := range t.cycles {
		snapshot.ServicesProbed += c.probed
		snapshot.Environments[name] = EnvironmentSnapshot{
			LastCycleTime:   c.at,
			CycleDurationMS: int64(c.duration / time.Millisecond),
			ServicesProbed:  c.probed,
			Stale:           c.stale,
		}
	}
	return snapshot
}

// Ready reports whether at least one cycle has completed.
func (t *Tracker) Ready() bool {
	if t == nil {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.cycles) > 0
}

// Healthy reports whether every tracked environment completed a cycle within
// 2x the poll interval.
func (t *Tracker) Healthy(now time.Time, pollInterval time.Duration) bool {
	return len(t.Lagging(now, pollInterval)) == 0 && t.Ready() && pollInterval > 0
}

// Lagging lists environments whose last cycle is older than 2x the poll interval.
func (t *Tracker) Lagging(now time.Time, pollInterval time.Duration) []string {
	if t == nil || pollInterval <= 0 {
		return nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	var lagging []string
	for name, c := range t.cycles {
		if now.Sub(c.at) > 2*pollInterval {
			lagging = append(lagging, name)
		}
	}
	sort.Strings(lagging)
	return lagging
}
