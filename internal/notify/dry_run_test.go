package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/nholik/ssh-sentinel/internal/health"
	"github.com/nholik/ssh-sentinel/internal/transition"
)

type countingNotifier struct {
	calls int
}

func (n *countingNotifier) Notify(context.Context, string, []transition.Transition) error {
	n.calls++
	return nil
}

func TestDryRunNotifierSuppressesDelivery(t *testing.T) {
	inner := &countingNotifier{}
	dryRun := NewDryRunNotifier(zerolog.Nop(), inner)

	transitions := []transition.Transition{
		{Target: "api", CurrentStatus: health.StatusDown},
	}

	if err := dryRun.Notify(context.Background(), "production", transitions); err != nil {
		t.Fatalf("Notify error: %v", err)
	}
	if inner.calls != 0 {
		t.Fatalf("expected no notifier calls, got %d", inner.calls)
	}
}

type failingNotifier struct {
	err error
}

func (n failingNotifier) Notify(context.Context, string, []transition.Transition) error {
	return n.err
}

func TestMultiNotifierAttemptsAllAndJoinsErrors(t *testing.T) {
	first := errors.New("slack down")
	second := errors.New("webhook down")
	counter := &countingNotifier{}

	multi := NewMultiNotifier(failingNotifier{err: first}, nil, counter, failingNotifier{err: second})
	if multi.Len() != 3 {
		t.Fatalf("expected nil notifier to be skipped, got %d", multi.Len())
	}

	err := multi.Notify(context.Background(), "production", makeTransitions(1))
	if !errors.Is(err, first) || !errors.Is(err, second) {
		t.Fatalf("expected joined errors, got %v", err)
	}
	if counter.calls != 1 {
		t.Fatalf("expected healthy notifier to be called once, got %d", counter.calls)
	}
}
