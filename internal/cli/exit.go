package cli

import (
	"errors"

	"github.com/nholik/ssh-sentinel/internal/config"
	"github.com/nholik/ssh-sentinel/internal/health"
)

// Process exit codes.
const (
	ExitSuccess   = 0
	ExitFailure   = 1
	ExitConfig    = 2
	ExitInvariant = 3
)

// ExitCode maps an error to the process exit code. Unhealthy services are not
// errors and exit 0.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var configErr *config.Error
	if errors.As(err, &configErr) {
		return ExitConfig
	}
	var aggErr *health.AggregationError
	if errors.As(err, &aggErr) {
		return ExitInvariant
	}
	return ExitFailure
}
