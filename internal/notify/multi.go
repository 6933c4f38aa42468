package notify

import (
	"context"
	"errors"

	"github.com/nholik/ssh-sentinel/internal/transition"
)

// MultiNotifier fans out notifications to multiple notifiers.
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier creates a notifier that dispatches to all provided notifiers.
// Nil entries are skipped.
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	filtered := make([]Notifier, 0, len(notifiers))
	for _, notifier := range notifiers {
		if notifier == nil {
			continue
		}
		filtered = append(filtered, notifier)
	}
	return &MultiNotifier{notifiers: filtered}
}

// Len returns the number of wrapped notifiers.
func (m *MultiNotifier) Len() int {
	return len(m.notifiers)
}

// Notify implements Notifier. Every notifier is attempted; errors are joined.
func (m *MultiNotifier) Notify(ctx context.Context, environment string, transitions []transition.Transition) error {
	var errs []error
	for _, notifier := range m.notifiers {
		if err := notifier.Notify(ctx, environment, transitions); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
