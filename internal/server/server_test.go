package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nholik/ssh-sentinel/internal/config"
	"github.com/nholik/ssh-sentinel/internal/coordinator"
	"github.com/nholik/ssh-sentinel/internal/health"
	"github.com/nholik/ssh-sentinel/internal/healthcheck"
	"github.com/nholik/ssh-sentinel/internal/infra"
	"github.com/nholik/ssh-sentinel/internal/metrics"
	"github.com/nholik/ssh-sentinel/internal/report"
)

type fakeProvider struct {
	resolved config.Resolved

	mu        sync.Mutex
	current   map[string]report.Snapshot
	refreshes int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		resolved: config.Resolved{
			Active: "production",
			Region: "us-east-1",
			Environments: []config.Environment{
				{
					Name: "production", Region: "us-east-1", Host: "prod.example.com",
					Targets: []config.ServiceTarget{
						{Name: "api", Type: config.ServiceTypeCore, Host: "prod.example.com", SSHPort: 22, User: "ec2-user", Command: "docker inspect api", Expect: "running"},
						{Name: "search-mcp", Type: config.ServiceTypeMCP, Host: "prod.example.com", SSHPort: 22, User: "ec2-user", Command: "curl -s localhost:9000/health"},
					},
				},
				{Name: "stage", Region: "us-east-1", Host: "stage.example.com"},
			},
		},
		current: map[string]report.Snapshot{},
	}
}

func (p *fakeProvider) Resolved() config.Resolved {
	return p.resolved
}

func (p *fakeProvider) Current(name string) (report.Snapshot, bool, error) {
	if _, ok := p.resolved.Lookup(name); !ok {
		return report.Snapshot{}, false, fmt.Errorf("%w: %s", coordinator.ErrUnknownEnvironment, name)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	snapshot, ok := p.current[name]
	return snapshot, ok, nil
}

func (p *fakeProvider) Refresh(_ context.Context, name string) (report.Snapshot, error) {
	env, ok := p.resolved.Lookup(name)
	if !ok {
		return report.Snapshot{}, fmt.Errorf("%w: %s", coordinator.ErrUnknownEnvironment, name)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshes++
	r := health.Report{Environment: env.Name, Region: env.Region, GeneratedAt: time.Now().UTC()}
	for _, target := range env.Targets {
		r.Outcomes = append(r.Outcomes, health.Outcome{
			Target:  target.Name,
			Host:    target.Host,
			Status:  health.StatusUp,
			Latency: 1500 * time.Millisecond,
			Message: "running",
		})
	}
	snapshot := report.Snapshot{Report: r, Latest: r}
	p.current[name] = snapshot
	return snapshot, nil
}

func (p *fakeProvider) Refreshes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refreshes
}

func newTestServer(p Provider) http.Handler {
	return New(zerolog.Nop(), p, healthcheck.NewTracker(), metrics.New(), time.Minute).Handler()
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestEnvironments(t *testing.T) {
	rec := get(t, newTestServer(newFakeProvider()), "/api/environments")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp environmentsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "production", resp.Active)
	require.Len(t, resp.Environments, 2)
	assert.True(t, resp.Environments[0].Active)
	assert.Equal(t, 2, resp.Environments[0].Targets)
	assert.False(t, resp.Environments[1].Active)
}

func TestServices(t *testing.T) {
	h := newTestServer(newFakeProvider())

	rec := get(t, h, "/api/environments/production/services")
	require.Equal(t, http.StatusOK, rec.Code)
	var services []serviceView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &services))
	require.Len(t, services, 2)
	assert.Equal(t, "api", services[0].Name)
	assert.Equal(t, "running", services[0].Expect)

	rec = get(t, h, "/api/environments/production/services?type=mcp")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &services))
	require.Len(t, services, 1)
	assert.Equal(t, "search-mcp", services[0].Name)

	rec = get(t, h, "/api/environments/qa/services")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthProbesOnceThenServesCurrent(t *testing.T) {
	p := newFakeProvider()
	h := newTestServer(p)

	rec := get(t, h, "/api/environments/production/health")
	require.Equal(t, http.StatusOK, rec.Code)
	var view HealthView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "production", view.Environment)
	assert.Equal(t, 2, view.Healthy)
	require.Len(t, view.Outcomes, 2)
	assert.Equal(t, int64(1500), view.Outcomes[0].LatencyMS)
	assert.Equal(t, 1, p.Refreshes())

	get(t, h, "/api/environments/production/health")
	assert.Equal(t, 1, p.Refreshes(), "existing report is served without probing")

	get(t, h, "/api/environments/production/health?refresh=true")
	assert.Equal(t, 2, p.Refreshes())
}

func TestHealthUnknownEnvironment(t *testing.T) {
	rec := get(t, newTestServer(newFakeProvider()), "/api/environments/qa/health")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown environment")
}

func TestHealthShowsStale(t *testing.T) {
	p := newFakeProvider()
	good := time.Now().Add(-time.Hour).UTC()
	p.current["production"] = report.Snapshot{
		Report: health.Report{Environment: "production", GeneratedAt: good, Outcomes: []health.Outcome{{Target: "api", Status: health.StatusUp}}},
		Stale:  true,
		Latest: health.Report{Environment: "production", GeneratedAt: time.Now().UTC(), Outcomes: []health.Outcome{
			{Target: "api", Status: health.StatusUnreachable, Message: health.MessageConnectionFailed},
		}},
	}

	rec := get(t, newTestServer(p), "/api/environments/production/health")
	var view HealthView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.True(t, view.Stale)
	assert.Equal(t, string(health.StatusUp), view.Outcomes[0].Status)
	require.NotNil(t, view.Latest)
	require.Len(t, view.Latest.Outcomes, 1)
	assert.Equal(t, string(health.StatusUnreachable), view.Latest.Outcomes[0].Status)
	assert.Equal(t, 1, view.Latest.Counts[string(health.StatusUnreachable)])
	assert.Equal(t, 0, p.Refreshes())

	rec = get(t, newTestServer(p), "/?env=production")
	body := rec.Body.String()
	assert.Contains(t, body, "last known good")
	assert.Contains(t, body, "Latest cycle")
	assert.Contains(t, body, string(health.StatusUnreachable))
}

func TestHealthViewRestoredReportHasNoLatest(t *testing.T) {
	r := health.Report{Environment: "production", GeneratedAt: time.Now().UTC(), Outcomes: []health.Outcome{{Target: "api", Status: health.StatusUp}}}
	view := NewHealthView(report.Snapshot{Report: r, Stale: true, Latest: r})
	assert.True(t, view.Stale)
	assert.Nil(t, view.Latest)
}

func TestDashboard(t *testing.T) {
	h := newTestServer(newFakeProvider())

	rec := get(t, h, "/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Contains(t, body, "search-mcp")
	assert.Contains(t, body, `class="up"`)
	assert.Contains(t, body, "1500 ms")
	assert.True(t, strings.Contains(body, `href="/?env=stage"`))

	rec = get(t, h, "/?env=qa")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = get(t, h, "/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthAndMetricsRoutes(t *testing.T) {
	h := newTestServer(newFakeProvider())

	assert.Equal(t, http.StatusServiceUnavailable, get(t, h, "/readyz").Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/metrics").Code)
}

func TestStartShutsDownOnCancel(t *testing.T) {
	s := New(zerolog.Nop(), newFakeProvider(), nil, nil, 0)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- s.Start(ctx, "127.0.0.1:0")
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * shutdownTimeout):
		t.Fatal("server did not stop")
	}
}

type fakeInventory struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeInventory) Status(context.Context) (infra.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return infra.Status{}, f.err
	}
	return infra.Status{
		Region:    "ap-southeast-1",
		Instances: []infra.Instance{{ID: "i-1", Name: "optima-prod", State: "running"}},
		ECSServices: []infra.ECSService{
			{Name: "api", Cluster: "prod", Status: "ACTIVE", Desired: 2, Running: 1},
		},
		Errors: map[string]string{"rds": "AccessDenied"},
	}, nil
}

func (f *fakeInventory) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestInfrastructure(t *testing.T) {
	inventory := &fakeInventory{}
	h := New(zerolog.Nop(), newFakeProvider(), nil, nil, 0, WithInventory(inventory)).Handler()

	rec := get(t, h, "/api/infrastructure")
	require.Equal(t, http.StatusOK, rec.Code)
	var status infra.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "ap-southeast-1", status.Region)
	require.Len(t, status.ECSServices, 1)
	assert.False(t, status.ECSServices[0].Healthy())
	assert.Equal(t, "AccessDenied", status.Errors["rds"])

	get(t, h, "/api/infrastructure")
	assert.Equal(t, 1, inventory.Calls(), "second request is served from cache")

	get(t, h, "/api/infrastructure?refresh=true")
	assert.Equal(t, 2, inventory.Calls())
}

func TestInfrastructureErrors(t *testing.T) {
	failing := New(zerolog.Nop(), newFakeProvider(), nil, nil, 0, WithInventory(&fakeInventory{err: fmt.Errorf("expired token")})).Handler()
	rec := get(t, failing, "/api/infrastructure")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "expired token")

	assert.Equal(t, http.StatusNotFound, get(t, newTestServer(newFakeProvider()), "/api/infrastructure").Code)
}
