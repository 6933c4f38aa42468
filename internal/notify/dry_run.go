package notify

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/nholik/ssh-sentinel/internal/transition"
)

// DryRunNotifier logs transitions without sending notifications.
type DryRunNotifier struct {
	logger zerolog.Logger
	inner  Notifier
}

// NewDryRunNotifier returns a notifier that suppresses delivery to inner and logs instead.
func NewDryRunNotifier(logger zerolog.Logger, inner Notifier) *DryRunNotifier {
	return &DryRunNotifier{logger: logger, inner: inner}
}

// Notify implements Notifier.
func (n *DryRunNotifier) Notify(_ context.Context, environment string, transitions []transition.Transition) error {
	for _, change := range transitions {
		n.logger.Info().
			Str("environment", environmentLabel(environment)).
			Str("service", change.Target).
			Str("host", change.Host).
			Str("previous_status", string(change.PreviousStatus)).
			Str("current_status", string(change.CurrentStatus)).
			Str("message", change.Message).
			Msg("[DRY-RUN] Would notify")
	}
	return nil
}
