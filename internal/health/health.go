package health

import (
	"fmt"
	"time"
)

// Status represents the probed health of a service.
type Status string

const (
	StatusUp          Status = "UP"
	StatusDegraded    Status = "DEGRADED"
	StatusDown        Status = "DOWN"
	StatusUnreachable Status = "UNREACHABLE"
	StatusAuthFailed  Status = "AUTH_FAILED"
	StatusTimedOut    Status = "TIMED_OUT"
	StatusUnknown     Status = "UNKNOWN"
)

// Statuses lists every status in display order.
var Statuses = []Status{
	StatusUp,
	StatusDegraded,
	StatusDown,
	StatusUnreachable,
	StatusAuthFailed,
	StatusTimedOut,
	StatusUnknown,
}

// Retryable reports whether a probe ending in this status may be attempted again.
// Auth failures are deterministic and healthy results are final.
func (s Status) Retryable() bool {
	switch s {
	case StatusUnreachable, StatusTimedOut, StatusDown, StatusUnknown:
		return true
	default:
		return false
	}
}

// Outcome is the result of one probe against one service target.
type Outcome struct {
	Target    string        `json:"target"`
	Host      string        `json:"host"`
	Status    Status        `json:"status"`
	Latency   time.Duration `json:"latency"`
	Message   string        `json:"message,omitempty"`
	Error     string        `json:"error,omitempty"`
	ExitCode  *int          `json:"exit_code,omitempty"`
	Attempts  int           `json:"attempts"`
	CheckedAt time.Time     `json:"checked_at"`
}

// Report is the ordered set of outcomes for one environment at one point in time.
type Report struct {
	Environment string    `json:"environment"`
	Region      string    `json:"region"`
	Outcomes    []Outcome `json:"outcomes"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Clone returns a deep copy so callers never share outcome storage.
func (r Report) Clone() Report {
	clone := r
	if r.Outcomes != nil {
		clone.Outcomes = make([]Outcome, len(r.Outcomes))
		for i, outcome := range r.Outcomes {
			if outcome.ExitCode != nil {
				code := *outcome.ExitCode
				outcome.ExitCode = &code
			}
			clone.Outcomes[i] = outcome
		}
	}
	return clone
}

// TotalFailure reports whether every outcome is Unreachable or TimedOut, which
// points at a local or network problem rather than at individual services.
func (r Report) TotalFailure() bool {
	if len(r.Outcomes) == 0 {
		return false
	}
	for _, outcome := range r.Outcomes {
		if outcome.Status != StatusUnreachable && outcome.Status != StatusTimedOut {
			return false
		}
	}
	return true
}

// Counts tallies outcomes by status.
func (r Report) Counts() map[Status]int {
	counts := make(map[Status]int, len(Statuses))
	for _, outcome := range r.Outcomes {
		counts[outcome.Status]++
	}
	return counts
}

// Healthy counts outcomes that are Up.
func (r Report) Healthy() int {
	return r.Counts()[StatusUp]
}

// Validate checks that the report carries exactly one outcome per expected
// target, in order.
func (r Report) Validate(expected []string) error {
	if len(r.Outcomes) != len(expected) {
		return &AggregationError{
			Environment: r.Environment,
			Reason:      fmt.Sprintf("expected %d outcomes, got %d", len(expected), len(r.Outcomes)),
		}
	}
	for i, name := range expected {
		if r.Outcomes[i].Target != name {
			return &AggregationError{
				Environment: r.Environment,
				Reason:      fmt.Sprintf("outcome %d is %q, want %q", i, r.Outcomes[i].Target, name),
			}
		}
		if r.Outcomes[i].Status == "" {
			return &AggregationError{
				Environment: r.Environment,
				Reason:      fmt.Sprintf("outcome %q has no status", name),
			}
		}
	}
	return nil
}

// AggregationError signals a broken report invariant. It is a programming
// error, not an operational one.
type AggregationError struct {
	Environment string
	Reason      string
}

func (e *AggregationError) Error() string {
	return fmt.Sprintf("aggregate report for %s: %s", e.Environment, e.Reason)
}
