package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/nholik/ssh-sentinel/internal/health"
	"github.com/nholik/ssh-sentinel/internal/transition"
)

func TestWebhookNotifierTemplateRendering(t *testing.T) {
	var body string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		body = string(data)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier, err := NewWebhookNotifier(zerolog.Nop(), server.URL, `{"environment":"{{ .Environment }}","count":{{ len .Transitions }}}`)
	if err != nil {
		t.Fatalf("NewWebhookNotifier error: %v", err)
	}

	transitions := []transition.Transition{
		{Target: "api", CurrentStatus: health.StatusDown},
	}

	if err := notifier.Notify(context.Background(), "production", transitions); err != nil {
		t.Fatalf("Notify error: %v", err)
	}

	if !strings.Contains(body, `"environment":"production"`) {
		t.Fatalf("expected environment in payload, got %s", body)
	}
	if !strings.Contains(body, `"count":1`) {
		t.Fatalf("expected count in payload, got %s", body)
	}
}

func TestWebhookNotifierRetriesOnServerError(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count := atomic.AddInt32(&calls, 1)
		if count <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier, err := NewWebhookNotifier(zerolog.Nop(), server.URL, "")
	if err != nil {
		t.Fatalf("NewWebhookNotifier error: %v", err)
	}
	notifier.poster.timing.backoffInitial = time.Millisecond
	notifier.poster.timing.backoffMax = 2 * time.Millisecond
	notifier.poster.timing.backoffMaxElapsed = 20 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	if err := notifier.Notify(ctx, "production", []transition.Transition{{Target: "api", CurrentStatus: health.StatusDown}}); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

func TestWebhookNotifierInvalidTemplate(t *testing.T) {
	_, err := NewWebhookNotifier(zerolog.Nop(), "http://example.com", "{{")
	if err == nil {
		t.Fatalf("expected template error")
	}
}

func TestWebhookNotifierDefaultTemplate(t *testing.T) {
	var body []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	notifier, err := NewWebhookNotifier(zerolog.Nop(), server.URL, "")
	if err != nil {
		t.Fatalf("NewWebhookNotifier error: %v", err)
	}

	err = notifier.Notify(context.Background(), "stage", []transition.Transition{{
		Target:         "gateway",
		Host:           "ec2-stage.example.com",
		PreviousStatus: health.StatusUp,
		CurrentStatus:  health.StatusTimedOut,
		Latency:        1500 * time.Millisecond,
	}})
	if err != nil {
		t.Fatalf("Notify error: %v", err)
	}

	var decoded struct {
		Environment string              `json:"environment"`
		Transitions []WebhookTransition `json:"transitions"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("payload is not JSON: %v (%s)", err, body)
	}
	if decoded.Environment != "stage" || len(decoded.Transitions) != 1 {
		t.Fatalf("unexpected payload: %+v", decoded)
	}
	got := decoded.Transitions[0]
	if got.CurrentStatus != "TIMED_OUT" || got.PreviousStatus != "UP" || got.LatencyMS != 1500 {
		t.Fatalf("unexpected transition: %+v", got)
	}
}

func TestWebhookNotifierDisabledWithoutURL(t *testing.T) {
	notifier, err := NewWebhookNotifier(zerolog.Nop(), "", "")
	if err != nil || notifier != nil {
		t.Fatalf("expected nil notifier, got %v, %v", notifier, err)
	}
	if err := notifier.Notify(context.Background(), "production", makeTransitions(1)); err != nil {
		t.Fatalf("nil notifier should be a no-op: %v", err)
	}
}
