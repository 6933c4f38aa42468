package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/nholik/ssh-sentinel/internal/config"
	"github.com/nholik/ssh-sentinel/internal/health"
	"github.com/nholik/ssh-sentinel/internal/report"
)

type environmentView struct {
	Name    string `json:"name"`
	Region  string `json:"region"`
	Host    string `json:"host"`
	Targets int    `json:"targets"`
	Active  bool   `json:"active"`
}

type environmentsResponse struct {
	Active       string            `json:"active"`
	Region       string            `json:"region"`
	Environments []environmentView `json:"environments"`
}

type serviceView struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	Container string `json:"container,omitempty"`
	Host      string `json:"host"`
	SSHPort   int    `json:"ssh_port"`
	Port      int    `json:"port,omitempty"`
	User      string `json:"user"`
	Command   string `json:"command"`
	Expect    string `json:"expect,omitempty"`
}

// OutcomeView is one target's result.
type OutcomeView struct {
	Target    string    `json:"target"`
	Host      string    `json:"host"`
	Status    string    `json:"status"`
	LatencyMS int64     `json:"latency_ms"`
	Message   string    `json:"message,omitempty"`
	Error     string    `json:"error,omitempty"`
	ExitCode  *int      `json:"exit_code,omitempty"`
	Attempts  int       `json:"attempts"`
	CheckedAt time.Time `json:"checked_at"`
}

// HealthView is the JSON shape of an environment health snapshot.
type HealthView struct {
	Environment string         `json:"environment"`
	Region      string         `json:"region"`
	GeneratedAt time.Time      `json:"generated_at"`
	Stale       bool           `json:"stale"`
	Healthy     int            `json:"healthy"`
	Total       int            `json:"total"`
	Counts      map[string]int `json:"counts"`
	Outcomes    []OutcomeView  `json:"outcomes"`
	// Latest is the failed cycle behind a stale report, when there was one.
	Latest      *LatestView    `json:"latest,omitempty"`
}

// LatestView is the most recent cycle's result.
type LatestView struct {
	GeneratedAt time.Time      `json:"generated_at"`
	Counts      map[string]int `json:"counts"`
	Outcomes    []OutcomeView  `json:"outcomes"`
}

// NewHealthView flattens a snapshot for JSON output.
func NewHealthView(snapshot report.Snapshot) HealthView {
	r := snapshot.Report
	view := HealthView{
		Environment: r.Environment,
		Region:      r.Region,
		GeneratedAt: r.GeneratedAt,
		Stale:       snapshot.Stale,
		Healthy:     r.Healthy(),
		Total:       len(r.Outcomes),
		Counts:      countsView(r),
		Outcomes:    outcomeViews(r),
	}
	latest := snapshot.Latest
	if snapshot.Stale && len(latest.Outcomes) > 0 && !latest.GeneratedAt.Equal(r.GeneratedAt) {
		view.Latest = &LatestView{
			GeneratedAt: latest.GeneratedAt,
			Counts:      countsView(latest),
			Outcomes:    outcomeViews(latest),
		}
	}
	return view
}

func countsView(r health.Report) map[string]int {
	counts := map[string]int{}
	for status, count := range r.Counts() {
		counts[string(status)] = count
	}
	return counts
}

func outcomeViews(r health.Report) []OutcomeView {
	views := make([]OutcomeView, 0, len(r.Outcomes))
	for _, outcome := range r.Outcomes {
		views = append(views, newOutcomeView(outcome))
	}
	return views
}

func newOutcomeView(outcome health.Outcome) OutcomeView {
	return OutcomeView{
		Target:    outcome.Target,
		Host:      outcome.Host,
		Status:    string(outcome.Status),
		LatencyMS: outcome.Latency.Milliseconds(),
		Message:   outcome.Message,
		Error:     outcome.Error,
		ExitCode:  outcome.ExitCode,
		Attempts:  outcome.Attempts,
		CheckedAt: outcome.CheckedAt,
	}
}

func newServiceView(target config.ServiceTarget) serviceView {
	return serviceView{
		Name:      target.Name,
		Type:      target.Type,
		Container: target.Container,
		Host:      target.Host,
		SSHPort:   target.SSHPort,
		Port:      target.Port,
		User:      target.User,
		Command:   target.Command,
		Expect:    target.Expect,
	}
}

func (s *Server) handleEnvironments(w http.ResponseWriter, _ *http.Request) {
	resolved := s.provider.Resolved()
	resp := environmentsResponse{
		Active:       resolved.Active,
		Region:       resolved.Region,
		Environments: make([]environmentView, 0, len(resolved.Environments)),
	}
	for _, env := range resolved.Environments {
		resp.Environments = append(resp.Environments, environmentView{
			Name:    env.Name,
			Region:  env.Region,
			Host:    env.Host,
			Targets: len(env.Targets),
			Active:  env.Name == resolved.Active,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleServices(w http.ResponseWriter, r *http.Request) {
	env, ok := s.provider.Resolved().Lookup(r.PathValue("name"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown environment")
		return
	}
	env = env.Filter(r.URL.Query().Get("type"), r.URL.Query().Get("service"))
	services := make([]serviceView, 0, len(env.Targets))
	for _, target := range env.Targets {
		services = append(services, newServiceView(target))
	}
	writeJSON(w, http.StatusOK, services)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh"))
	snapshot, err := s.snapshotFor(r.Context(), r.PathValue("name"), refresh)
	if err != nil {
		s.logger.Error().Err(err).Str("environment", r.PathValue("name")).Msg("health request failed")
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, NewHealthView(snapshot))
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
