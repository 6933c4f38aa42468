package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"

	"github.com/nholik/ssh-sentinel/internal/health"
	"github.com/nholik/ssh-sentinel/internal/transition"
)

const (
	slackMaxBlocks = 50
	// header and context blocks in every message
	slackReservedBlocks = 2
	slackMaxTransitions = slackMaxBlocks - slackReservedBlocks
)

// SlackNotifier posts block-kit messages to an incoming webhook.
type SlackNotifier struct {
	logger zerolog.Logger
	timing timingConfig
	poster *httpPoster
}

// SlackOption customizes SlackNotifier behavior.
type SlackOption func(*SlackNotifier)

// WithSlackTiming overrides timing parameters (primarily for testing).
func WithSlackTiming(rateInterval time.Duration, rateBurst int, backoffInitial, backoffMax, backoffMaxElapsed time.Duration) SlackOption {
	return func(s *SlackNotifier) {
		s.timing.rateInterval = rateInterval
		s.timing.rateBurst = rateBurst
		s.timing.backoffInitial = backoffInitial
		s.timing.backoffMax = backoffMax
		s.timing.backoffMaxElapsed = backoffMaxElapsed
	}
}

// NewSlackNotifier creates a Slack notifier or a noop notifier when the webhook is empty.
func NewSlackNotifier(logger zerolog.Logger, webhookURL string, opts ...SlackOption) Notifier {
	if webhookURL == "" {
		return NewNoop(logger, "slack webhook not configured; slack notifications disabled")
	}

	notifier := &SlackNotifier{
		logger: logger,
		timing: defaultTiming,
	}
	for _, opt := range opts {
		opt(notifier)
	}
	notifier.poster = newHTTPPoster(logger, "slack", webhookURL, "application/json", notifier.timing)
	return notifier
}

// Notify implements Notifier.
func (n *SlackNotifier) Notify(ctx context.Context, environment string, transitions []transition.Transition) error {
	if len(transitions) == 0 {
		return nil
	}
	name := environmentLabel(environment)
	if err := n.poster.waitForRateLimit(ctx, name); err != nil {
		return err
	}

	messages := buildSlackMessages(name, transitions)
	for _, message := range messages {
		payload, err := json.Marshal(message)
		if err != nil {
			return fmt.Errorf("marshal slack payload: %w", err)
		}
		if err := n.poster.postWithRetry(ctx, payload); err != nil {
			return err
		}
	}

	n.logger.Debug().
		Str("environment", name).
		Int("transitions", len(transitions)).
		Int("messages", len(messages)).
		Msg("slack notification sent")
	return nil
}

func buildSlackMessages(environment string, transitions []transition.Transition) []slack.WebhookMessage {
	total := len(transitions)
	if total == 0 {
		return nil
	}
	parts := (total + slackMaxTransitions - 1) / slackMaxTransitions
	messages := make([]slack.WebhookMessage, 0, parts)
	for start := 0; start < total; start += slackMaxTransitions {
		end := min(start+slackMaxTransitions, total)
		part := start/slackMaxTransitions + 1
		messages = append(messages, buildSlackMessage(environment, transitions[start:end], total, part, parts))
	}
	return messages
}

func buildSlackMessage(environment string, transitions []transition.Transition, total, part, parts int) slack.WebhookMessage {
	recovered := 0
	for _, change := range transitions {
		if change.Recovered() {
			recovered++
		}
	}

	summary := fmt.Sprintf("Environment %s: %d service transition(s)", environment, total)
	if parts > 1 {
		summary = fmt.Sprintf("%s (part %d/%d)", summary, part, parts)
	}
	header := slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType, summary, false, false))

	elements := []slack.MixedElement{
		slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("Environment: *%s*", environment), false, false),
		slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("Recovered: %d, Failing: %d", recovered, len(transitions)-recovered), false, false),
	}
	if parts > 1 {
		elements = append(elements, slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("Batch: %d/%d", part, parts), false, false))
	}
	blocks := []slack.Block{header, slack.NewContextBlock("", elements...)}
	for _, change := range transitions {
		blocks = append(blocks, buildTransitionBlock(change))
	}

	return slack.WebhookMessage{
		Text:   summary,
		Blocks: &slack.Blocks{BlockSet: blocks},
	}
}

func buildTransitionBlock(change transition.Transition) slack.Block {
	title := fmt.Sprintf("%s *%s*: `%s` → `%s`",
		statusEmoji(change.CurrentStatus), change.Target, statusLabel(change.PreviousStatus), statusLabel(change.CurrentStatus))
	text := slack.NewTextBlockObject(slack.MarkdownType, title, false, false)

	fields := make([]*slack.TextBlockObject, 0, 3)
	if change.Host != "" {
		fields = append(fields, slack.NewTextBlockObject(slack.MarkdownType, "*Host:*\n"+change.Host, false, false))
	}
	if change.Message != "" {
		fields = append(fields, slack.NewTextBlockObject(slack.MarkdownType, "*Detail:*\n```"+change.Message+"```", false, false))
	}
	if change.Latency > 0 {
		fields = append(fields, slack.NewTextBlockObject(slack.MarkdownType, "*Latency:*\n"+change.Latency.Round(time.Millisecond).String(), false, false))
	}
	if len(fields) == 0 {
		fields = nil
	}
	return slack.NewSectionBlock(text, fields, nil)
}

func statusLabel(status health.Status) string {
	if status == "" {
		return "NEW"
	}
	return string(status)
}

func statusEmoji(status health.Status) string {
	switch status {
	case health.StatusUp:
		return ":large_green_circle:"
	case health.StatusDegraded:
		return ":large_yellow_circle:"
	default:
		return ":red_circle:"
	}
}
