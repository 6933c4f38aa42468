package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"text/template"
	"time"

	"github.com/rs/zerolog"

	"github.com/nholik/ssh-sentinel/internal/transition"
)

const defaultWebhookTemplate = `{"environment":"{{ .Environment }}","generated_at":"{{ .GeneratedAt.Format "2006-01-02T15:04:05Z07:00" }}","transitions":{{ toJson .Transitions }}}`

// WebhookPayload is the template context for webhook notifications.
type WebhookPayload struct {
	Environment string
	Transitions []WebhookTransition
	GeneratedAt time.Time
}

// WebhookTransition is the JSON shape of one transition.
type WebhookTransition struct {
	Target         string `json:"target"`
	Host           string `json:"host,omitempty"`
	PreviousStatus string `json:"previous_status,omitempty"`
	CurrentStatus  string `json:"current_status"`
	Message        string `json:"message,omitempty"`
	LatencyMS      int64  `json:"latency_ms"`
}

// WebhookNotifier sends transition notifications to a generic webhook.
type WebhookNotifier struct {
	logger   zerolog.Logger
	template *template.Template
	poster   *httpPoster
}

// NewWebhookNotifier creates a webhook notifier with the provided template.
// It returns nil when no URL is configured.
func NewWebhookNotifier(logger zerolog.Logger, webhookURL string, tmpl string) (*WebhookNotifier, error) {
	if webhookURL == "" {
		return nil, nil
	}
	if tmpl == "" {
		tmpl = defaultWebhookTemplate
	}

	parsed, err := template.New("webhook").Funcs(template.FuncMap{
		"toJson": func(v any) (string, error) {
			encoded, err := json.Marshal(v)
			if err != nil {
				return "", err
			}
			return string(encoded), nil
		},
	}).Parse(tmpl)
	if err != nil {
		return nil, fmt.Errorf("parse webhook template: %w", err)
	}

	return &WebhookNotifier{
		logger:   logger,
		template: parsed,
		poster:   newHTTPPoster(logger, "webhook", webhookURL, "application/json", defaultTiming),
	}, nil
}

// Notify implements Notifier.
func (n *WebhookNotifier) Notify(ctx context.Context, environment string, transitions []transition.Transition) error {
	if n == nil || len(transitions) == 0 {
		return nil
	}
	name := environmentLabel(environment)
	if err := n.poster.waitForRateLimit(ctx, name); err != nil {
		return err
	}

	payload := WebhookPayload{
		Environment: name,
		Transitions: make([]WebhookTransition, 0, len(transitions)),
		GeneratedAt: time.Now().UTC(),
	}
	for _, change := range transitions {
		payload.Transitions = append(payload.Transitions, WebhookTransition{
			Target:         change.Target,
			Host:           change.Host,
			PreviousStatus: string(change.PreviousStatus),
			CurrentStatus:  string(change.CurrentStatus),
			Message:        change.Message,
			LatencyMS:      change.Latency.Milliseconds(),
		})
	}

	var buf bytes.Buffer
	if err := n.template.Execute(&buf, payload); err != nil {
		return fmt.Errorf("render webhook template: %w", err)
	}
	if err := n.poster.postWithRetry(ctx, buf.Bytes()); err != nil {
		return err
	}

	n.logger.Debug().
		Str("environment", name).
		Int("transitions", len(transitions)).
		Msg("webhook notification sent")
	return nil
}
