package server

import (
	"bytes"
	"html/template"
	"net/http"
	"strconv"
	"time"

	"github.com/nholik/ssh-sentinel/internal/health"
)

var templateFuncs = template.FuncMap{
	"statusClass": func(status string) string {
		switch health.Status(status) {
		case health.StatusUp:
			return "up"
		case health.StatusDegraded:
			return "degraded"
		default:
			return "down"
		}
	},
	"since": func(t time.Time) string {
		if t.IsZero() {
			return "never"
		}
		return time.Since(t).Round(time.Second).String() + " ago"
	},
}

type dashboardData struct {
	Active       string
	Selected     string
	Environments []environmentView
	Health       *HealthView
	Error        string
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	resolved := s.provider.Resolved()
	selected := r.URL.Query().Get("env")
	if selected == "" {
		selected = resolved.Active
	}

	data := dashboardData{Active: resolved.Active, Selected: selected}
	for _, env := range resolved.Environments {
		data.Environments = append(data.Environments, environmentView{
			Name:    env.Name,
			Region:  env.Region,
			Host:    env.Host,
			Targets: len(env.Targets),
			Active:  env.Name == resolved.Active,
		})
	}

	status := http.StatusOK
	refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh"))
	snapshot, err := s.snapshotFor(r.Context(), selected, refresh)
	if err != nil {
		status = statusForError(err)
		data.Error = err.Error()
	} else {
		view := NewHealthView(snapshot)
		data.Health = &view
	}

	var buf bytes.Buffer
	if err := s.dashboard.Execute(&buf, data); err != nil {
		s.logger.Error().Err(err).Msg("render dashboard")
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}
