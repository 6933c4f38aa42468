package notify

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/nholik/ssh-sentinel/internal/transition"
)

// NoopNotifier drops notifications.
type NoopNotifier struct {
	reason string
}

// NewNoop returns a notifier that logs the reason once and does nothing thereafter.
func NewNoop(logger zerolog.Logger, reason string) *NoopNotifier {
	if reason != "" {
		logger.Info().Msg(reason)
	}
	return &NoopNotifier{reason: reason}
}

// Notify implements Notifier.
func (n *NoopNotifier) Notify(context.Context, string, []transition.Transition) error {
	return nil
}
