package notify

import (
	"context"

	"github.com/nholik/ssh-sentinel/internal/transition"
)

// Notifier delivers transition alerts to external systems.
type Notifier interface {
	Notify(ctx context.Context, environment string, transitions []transition.Transition) error
}

func environmentLabel(environment string) string {
	if environment == "" {
		return "default"
	}
	return environment
}
