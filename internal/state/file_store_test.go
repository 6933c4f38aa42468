package state

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/nholik/ssh-sentinel/internal/health"
)

func sampleReport(env string, status health.Status, at time.Time) health.Report {
	code := 0
	return health.Report{
		Environment: env,
		Region:      "ap-southeast-1",
		GeneratedAt: at,
		Outcomes: []health.Outcome{
			{
				Target:    "user-auth",
				Host:      "ec2-" + env + ".example.com",
				Status:    status,
				Latency:   120 * time.Millisecond,
				Message:   "running",
				ExitCode:  &code,
				Attempts:  1,
				CheckedAt: at,
			},
		},
	}
}

func TestFileStore_RoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "state.json")
	store := NewFileStore(path, zerolog.Nop())

	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	state := State{
		Environments: map[string]EnvironmentSnapshot{
			"production": {
				Report:     sampleReport("production", health.StatusUp, now),
				RecordedAt: now,
			},
			"stage": {
				Report:     sampleReport("stage", health.StatusDegraded, now.Add(time.Minute)),
				RecordedAt: now.Add(time.Minute),
			},
		},
	}

	if err := store.Save(context.Background(), state); err != nil {
		t.Fatalf("save state: %v", err)
	}

	loaded, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("load state: %v", err)
	}

	if len(loaded.Environments) != len(state.Environments) {
		t.Fatalf("expected %d environments, got %d", len(state.Environments), len(loaded.Environments))
	}

	prod := loaded.Environments["production"]
	if !prod.RecordedAt.Equal(now) {
		t.Fatalf("unexpected recorded time: %s", prod.RecordedAt)
	}
	if len(prod.Report.Outcomes) != 1 {
		t.Fatalf("expected 1 outcome, got %d", len(prod.Report.Outcomes))
	}
	outcome := prod.Report.Outcomes[0]
	if outcome.Status != health.StatusUp || outcome.Latency != 120*time.Millisecond {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if outcome.ExitCode == nil || *outcome.ExitCode != 0 {
		t.Fatalf("exit code not preserved: %v", outcome.ExitCode)
	}
	if loaded.Environments["stage"].Report.Outcomes[0].Status != health.StatusDegraded {
		t.Fatalf("unexpected stage status: %s", loaded.Environments["stage"].Report.Outcomes[0].Status)
	}
}

func TestFileStore_MissingFile(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "missing.json")
	store := NewFileStore(path, zerolog.Nop())

	state, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("load state: %v", err)
	}

	if len(state.Environments) != 0 {
		t.Fatalf("expected empty state, got %v", state.Environments)
	}
}

func TestFileStore_CorruptFile(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "state.json")
	store := NewFileStore(path, zerolog.Nop())

	if err := os.WriteFile(path, []byte("{not-json"), 0o600); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}

	state, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("load state: %v", err)
	}

	if len(state.Environments) != 0 {
		t.Fatalf("expected empty state, got %v", state.Environments)
	}
}

func TestFileStore_CreatesNestedDirAndLeavesNoTemp(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "nested", "state.json")
	store := NewFileStore(path, zerolog.Nop())

	state := State{
		Environments: map[string]EnvironmentSnapshot{
			"alpha": {Report: health.Report{Environment: "alpha"}},
			"beta":  {Report: health.Report{Environment: "beta"}},
		},
	}

	if err := store.Save(context.Background(), state); err != nil {
		t.Fatalf("save state: %v", err)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "state.json" {
		t.Fatalf("unexpected files after save: %v", entries)
	}

	loaded, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("load state: %v", err)
	}

	if loaded.Environments["alpha"].Report.Environment != "alpha" {
		t.Fatalf("unexpected alpha snapshot: %+v", loaded.Environments["alpha"])
	}
	if loaded.Environments["beta"].Report.Environment != "beta" {
		t.Fatalf("unexpected beta snapshot: %+v", loaded.Environments["beta"])
	}
}

func TestFileStore_CancelledContext(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "state.json"), zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := store.Save(ctx, State{}); err == nil {
		t.Fatalf("expected save to fail on cancelled context")
	}
	if _, err := store.Load(ctx); err == nil {
		t.Fatalf("expected load to fail on cancelled context")
	}
}
