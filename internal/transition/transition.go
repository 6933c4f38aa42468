package transition

import (
	"time"

	"github.com/nholik/ssh-sentinel/internal/health"
)

// Transition captures a status change for one target.
type Transition struct {
	Target         string
	Host           string
	PreviousStatus health.Status
	CurrentStatus  health.Status
	Message        string
	Latency        time.Duration
}

// Recovered reports whether the target came back up.
func (t Transition) Recovered() bool {
	return t.CurrentStatus == health.StatusUp
}

// Detect compares the previous report with the current one. On the first run
// only targets that are not up are emitted. Afterwards any status change is
// emitted, including recoveries, and targets new to the report are emitted
// only when not up. Transitions follow the order of the current report.
func Detect(prev *health.Report, current health.Report) []Transition {
	prevStatus := map[string]health.Status{}
	if prev != nil {
		for _, outcome := range prev.Outcomes {
			prevStatus[outcome.Target] = outcome.Status
		}
	}

	transitions := make([]Transition, 0)
	for _, outcome := range current.Outcomes {
		before, hadPrev := prevStatus[outcome.Target]
		if hadPrev && before == outcome.Status {
			continue
		}
		if !hadPrev && outcome.Status == health.StatusUp {
			continue
		}

		transitions = append(transitions, Transition{
			Target:         outcome.Target,
			Host:           outcome.Host,
			PreviousStatus: before,
			CurrentStatus:  outcome.Status,
			Message:        outcome.Message,
			Latency:        outcome.Latency,
		})
	}
	return transitions
}
