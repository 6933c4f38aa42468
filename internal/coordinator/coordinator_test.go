package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/nholik/ssh-sentinel/internal/config"
	"github.com/nholik/ssh-sentinel/internal/health"
	"github.com/nholik/ssh-sentinel/internal/state"
)

type fakeProber struct {
	mu    sync.Mutex
	calls map[string]int
}

func (p *fakeProber) Run(_ context.Context, env config.Environment) (health.Report, error) {
	p.mu.Lock()
	if p.calls == nil {
		p.calls = map[string]int{}
	}
	p.calls[env.Name]++
	p.mu.Unlock()

	r := health.Report{Environment: env.Name, Region: env.Region, GeneratedAt: time.Now().UTC()}
	for _, target := range env.Targets {
		r.Outcomes = append(r.Outcomes, health.Outcome{Target: target.Name, Host: target.Host, Status: health.StatusUp})
	}
	return r, nil
}

func (p *fakeProber) Calls(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[name]
}

type memoryStore struct {
	mu    sync.Mutex
	state state.State
}

func (s *memoryStore) Load(context.Context) (state.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, nil
}

func (s *memoryStore) Save(_ context.Context, st state.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
	return nil
}

func testResolved() config.Resolved {
	return config.Resolved{
		Active: "production",
		Region: "us-east-1",
		Environments: []config.Environment{
			{Name: "production", Region: "us-east-1", Host: "prod", Targets: []config.ServiceTarget{{Name: "api", Host: "prod"}}},
			{Name: "stage", Region: "us-east-1", Host: "stage", Targets: []config.ServiceTarget{{Name: "api", Host: "stage"}, {Name: "db", Host: "stage"}}},
		},
	}
}

func TestCoordinator_PollsEveryEnvironment(t *testing.T) {
	cfg := config.Config{PollInterval: 50 * time.Millisecond}
	prober := &fakeProber{}

	coord := New(zerolog.Nop(), cfg, testResolved(), prober)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	if err := coord.Run(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	runners := coord.Runners()
	if len(runners) != 2 {
		t.Fatalf("expected 2 runners, got %d", len(runners))
	}
	for _, name := range []string{"production", "stage"} {
		if prober.Calls(name) == 0 {
			t.Fatalf("expected %s to be probed", name)
		}
		snapshot, ok, err := coord.Current(name)
		if err != nil || !ok {
			t.Fatalf("expected current report for %s, ok=%v err=%v", name, ok, err)
		}
		if snapshot.Report.Environment != name {
			t.Fatalf("expected report for %s, got %s", name, snapshot.Report.Environment)
		}
	}
}

func TestCoordinator_PollingDisabled(t *testing.T) {
	prober := &fakeProber{}
	coord := New(zerolog.Nop(), config.Config{}, testResolved(), prober)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := coord.Run(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if prober.Calls("production") != 0 {
		t.Fatalf("expected no polling")
	}
	if _, ok, _ := coord.Current("production"); ok {
		t.Fatalf("expected no report before a refresh")
	}
}

func TestCoordinator_Refresh(t *testing.T) {
	prober := &fakeProber{}
	coord := New(zerolog.Nop(), config.Config{}, testResolved(), prober)

	snapshot, err := coord.Refresh(context.Background(), "stage")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(snapshot.Report.Outcomes) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(snapshot.Report.Outcomes))
	}
	if prober.Calls("production") != 0 {
		t.Fatalf("refresh should only probe the requested environment")
	}
}

func TestCoordinator_UnknownEnvironment(t *testing.T) {
	coord := New(zerolog.Nop(), config.Config{}, testResolved(), &fakeProber{})

	if _, err := coord.Refresh(context.Background(), "qa"); !errors.Is(err, ErrUnknownEnvironment) {
		t.Fatalf("expected ErrUnknownEnvironment, got %v", err)
	}
	if _, _, err := coord.Current("qa"); !errors.Is(err, ErrUnknownEnvironment) {
		t.Fatalf("expected ErrUnknownEnvironment, got %v", err)
	}
}

func TestCoordinator_SharedStoreRestore(t *testing.T) {
	store := &memoryStore{}
	prober := &fakeProber{}

	first := New(zerolog.Nop(), config.Config{}, testResolved(), prober, WithStore(store))
	for _, name := range []string{"production", "stage"} {
		if _, err := first.Refresh(context.Background(), name); err != nil {
			t.Fatalf("refresh %s: %v", name, err)
		}
	}

	loaded, _ := store.Load(context.Background())
	if len(loaded.Environments) != 2 {
		t.Fatalf("expected both environments persisted, got %d", len(loaded.Environments))
	}

	second := New(zerolog.Nop(), config.Config{}, testResolved(), prober, WithStore(store))
	second.Restore(context.Background())

	snapshot, ok, err := second.Current("stage")
	if err != nil || !ok {
		t.Fatalf("expected restored report, ok=%v err=%v", ok, err)
	}
	if !snapshot.Stale {
		t.Fatalf("restored report should be stale")
	}
}
