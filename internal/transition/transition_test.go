package transition

import (
	"testing"

	"github.com/nholik/ssh-sentinel/internal/health"
)

func reportWith(outcomes ...health.Outcome) health.Report {
	return health.Report{Environment: "production", Outcomes: outcomes}
}

func TestDetect_FirstRun(t *testing.T) {
	current := reportWith(
		health.Outcome{Target: "ok", Status: health.StatusUp},
		health.Outcome{Target: "bad", Host: "ec2-prod", Status: health.StatusDown, Message: "exit status 1"},
	)

	transitions := Detect(nil, current)

	if len(transitions) != 1 {
		t.Fatalf("expected 1 transition, got %d", len(transitions))
	}
	if transitions[0].Target != "bad" {
		t.Fatalf("expected transition for bad, got %s", transitions[0].Target)
	}
	if transitions[0].CurrentStatus != health.StatusDown || transitions[0].PreviousStatus != "" {
		t.Fatalf("unexpected statuses: %+v", transitions[0])
	}
	if transitions[0].Message != "exit status 1" || transitions[0].Host != "ec2-prod" {
		t.Fatalf("details not carried: %+v", transitions[0])
	}
}

func TestDetect_NoOp(t *testing.T) {
	prev := reportWith(health.Outcome{Target: "api", Status: health.StatusDegraded})
	current := reportWith(health.Outcome{Target: "api", Status: health.StatusDegraded})

	if transitions := Detect(&prev, current); len(transitions) != 0 {
		t.Fatalf("expected no transitions, got %+v", transitions)
	}
}

func TestDetect_ChangesAndRecovery(t *testing.T) {
	prev := reportWith(
		health.Outcome{Target: "api", Status: health.StatusUp},
		health.Outcome{Target: "worker", Status: health.StatusDown},
		health.Outcome{Target: "cache", Status: health.StatusUp},
	)
	current := reportWith(
		health.Outcome{Target: "api", Status: health.StatusTimedOut},
		health.Outcome{Target: "worker", Status: health.StatusUp},
		health.Outcome{Target: "cache", Status: health.StatusUp},
		health.Outcome{Target: "new-ok", Status: health.StatusUp},
		health.Outcome{Target: "new-bad", Status: health.StatusAuthFailed},
	)

	transitions := Detect(&prev, current)

	want := []string{"api", "worker", "new-bad"}
	if len(transitions) != len(want) {
		t.Fatalf("expected %d transitions, got %+v", len(want), transitions)
	}
	for i, name := range want {
		if transitions[i].Target != name {
			t.Fatalf("transition %d: expected %s, got %s", i, name, transitions[i].Target)
		}
	}
	if !transitions[1].Recovered() || transitions[1].PreviousStatus != health.StatusDown {
		t.Fatalf("expected worker recovery, got %+v", transitions[1])
	}
	if transitions[0].Recovered() {
		t.Fatalf("api did not recover")
	}
}

func TestDetect_EmptyPreviousBehavesAsFirstRun(t *testing.T) {
	prev := reportWith()
	current := reportWith(
		health.Outcome{Target: "api", Status: health.StatusUp},
		health.Outcome{Target: "db", Status: health.StatusUnreachable},
	)

	transitions := Detect(&prev, current)
	if len(transitions) != 1 || transitions[0].Target != "db" {
		t.Fatalf("unexpected transitions: %+v", transitions)
	}
}
