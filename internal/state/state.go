package state

import (
	"context"
	"time"

	"github.com/nholik/ssh-sentinel/internal/health"
)

// EnvironmentSnapshot is the last-known-good report for one environment.
type EnvironmentSnapshot struct {
	Report     health.Report `json:"report"`
	RecordedAt time.Time     `json:"recorded_at"`
}

// State stores snapshots for all environments.
type State struct {
	Environments map[string]EnvironmentSnapshot `json:"environments"`
}

// Store defines the interface for persisting state.
type Store interface {
	Load(ctx context.Context) (State, error)
	Save(ctx context.Context, state State) error
}
