// Package notify delivers job outcome events to operators. Delivery is
// fire-and-forget: a failing notifier must never fail the job that produced
// the event.
package notify

import (
	"context"
	"time"

	"github.com/arlberg/backstop/internal/config"
)

type EventType string

const (
	EventSuccess EventType = "success"
	EventFailure EventType = "failure"
)

type Event struct {
	Type     EventType
	JobName  string
	Summary  string
	Size     int64
	Duration time.Duration
	Error    error
}

type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// Multi fans an event out to several notifiers, collecting nothing: one
// failing sink must not stop the others.
type Multi struct {
	Notifiers []Notifier
}

func (m *Multi) Notify(ctx context.Context, ev Event) error {
	for _, n := range m.Notifiers {
		_ = n.Notify(ctx, ev)
	}
	return nil
}

// FromConfig assembles the configured notifier chain, honoring the
// on_success/on_failure toggles. Returns nil when notifications are disabled
// or no sink is configured.
func FromConfig(cfg config.NotificationsConfig) Notifier {
	if !cfg.Enabled {
		return nil
	}

	var sinks []Notifier
	if cfg.Slack.WebhookURL != "" {
		sinks = append(sinks, NewSlack(cfg.Slack.WebhookURL))
	}
	if cfg.Webhook.URL != "" {
		sinks = append(sinks, NewWebhook(cfg.Webhook.URL))
	}
	if len(sinks) == 0 {
		return nil
	}

	var chain Notifier = &Multi{Notifiers: sinks}
	return &filtered{next: chain, onSuccess: cfg.OnSuccess, onFailure: cfg.OnFailure}
}

type filtered struct {
	next      Notifier
	onSuccess bool
	onFailure bool
}

func (f *filtered) Notify(ctx context.Context, ev Event) error {
	if ev.Type == EventSuccess && !f.onSuccess {
		return nil
	}
	if ev.Type == EventFailure && !f.onFailure {
		return nil
	}
	return f.next.Notify(ctx, ev)
}
