package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Webhook POSTs a plain JSON event to an arbitrary endpoint.
type Webhook struct {
	URL    string
	Client *http.Client
}

func NewWebhook(url string) *Webhook {
	return &Webhook{
		URL:    url,
		Client: &http.Client{Timeout: 10 * time.Second},
	}
}

type webhookPayload struct {
	Event    string `json:"event"`
	Job      string `json:"job"`
	Summary  string `json:"summary,omitempty"`
	Size     int64  `json:"size,omitempty"`
	Duration string `json:"duration,omitempty"`
	Error    string `json:"error,omitempty"`
	At       string `json:"at"`
}

func (w *Webhook) Notify(ctx context.Context, ev Event) error {
	if w.URL == "" {
		return nil
	}

	payload := webhookPayload{
		Event:    string(ev.Type),
		Job:      ev.JobName,
		Summary:  ev.Summary,
		Size:     ev.Size,
		Duration: ev.Duration.String(),
		At:       time.Now().UTC().Format(time.RFC3339),
	}
	if ev.Error != nil {
		payload.Error = ev.Error.Error()
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook notification failed with status: %s", resp.Status)
	}
	return nil
}
