package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arlberg/backstop/internal/config"
)

func captureServer(t *testing.T) (*httptest.Server, *[][]byte) {
	t.Helper()
	var bodies [][]byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		bodies = append(bodies, body)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv, &bodies
}

func TestWebhookPayload(t *testing.T) {
	srv, bodies := captureServer(t)

	w := NewWebhook(srv.URL)
	err := w.Notify(context.Background(), Event{
		Type:     EventSuccess,
		JobName:  "database-backup",
		Summary:  "artifact db.zip",
		Size:     2048,
		Duration: 1500 * time.Millisecond,
	})
	require.NoError(t, err)
	require.Len(t, *bodies, 1)

	var payload map[string]any
	require.NoError(t, json.Unmarshal((*bodies)[0], &payload))
	assert.Equal(t, "success", payload["event"])
	assert.Equal(t, "database-backup", payload["job"])
	assert.Equal(t, "artifact db.zip", payload["summary"])
	assert.Equal(t, float64(2048), payload["size"])
	assert.NotEmpty(t, payload["at"])
	assert.NotContains(t, payload, "error")
}

func TestWebhookFailureEvent(t *testing.T) {
	srv, bodies := captureServer(t)

	w := NewWebhook(srv.URL)
	err := w.Notify(context.Background(), Event{
		Type:    EventFailure,
		JobName: "files-backup",
		Error:   errors.New("disk full"),
	})
	require.NoError(t, err)
	require.Len(t, *bodies, 1)

	var payload map[string]any
	require.NoError(t, json.Unmarshal((*bodies)[0], &payload))
	assert.Equal(t, "failure", payload["event"])
	assert.Equal(t, "disk full", payload["error"])
}

func TestWebhookNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	w := NewWebhook(srv.URL)
	err := w.Notify(context.Background(), Event{Type: EventSuccess, JobName: "j"})
	require.Error(t, err)
}

func TestSlackPayloadShape(t *testing.T) {
	srv, bodies := captureServer(t)

	s := NewSlack(srv.URL)
	err := s.Notify(context.Background(), Event{
		Type:     EventFailure,
		JobName:  "database-backup",
		Duration: 2 * time.Second,
		Error:    errors.New("could not lock store"),
	})
	require.NoError(t, err)
	require.Len(t, *bodies, 1)

	var payload struct {
		Attachments []struct {
			Color string `json:"color"`
			Title string `json:"title"`
			Text  string `json:"text"`
		} `json:"attachments"`
	}
	require.NoError(t, json.Unmarshal((*bodies)[0], &payload))
	require.Len(t, payload.Attachments, 1)
	assert.Equal(t, "#ff0000", payload.Attachments[0].Color)
	assert.Contains(t, payload.Attachments[0].Title, "database-backup")
	assert.Contains(t, payload.Attachments[0].Text, "could not lock store")
}

func TestMultiDeliversToAll(t *testing.T) {
	srv1, bodies1 := captureServer(t)
	srv2, bodies2 := captureServer(t)

	m := &Multi{Notifiers: []Notifier{NewWebhook(srv1.URL), NewWebhook(srv2.URL)}}
	require.NoError(t, m.Notify(context.Background(), Event{Type: EventSuccess, JobName: "j"}))
	assert.Len(t, *bodies1, 1)
	assert.Len(t, *bodies2, 1)
}

func TestMultiSurvivesFailingSink(t *testing.T) {
	srv, bodies := captureServer(t)

	m := &Multi{Notifiers: []Notifier{NewWebhook("http://127.0.0.1:1/unreachable"), NewWebhook(srv.URL)}}
	require.NoError(t, m.Notify(context.Background(), Event{Type: EventSuccess, JobName: "j"}))
	assert.Len(t, *bodies, 1, "the healthy sink still receives the event")
}

func TestFromConfig(t *testing.T) {
	assert.Nil(t, FromConfig(config.NotificationsConfig{}), "disabled notifications yield no notifier")
	assert.Nil(t, FromConfig(config.NotificationsConfig{Enabled: true}), "no sinks configured")

	cfg := config.NotificationsConfig{Enabled: true, OnFailure: true}
	cfg.Webhook.URL = "http://example.invalid/hook"
	require.NotNil(t, FromConfig(cfg))
}

func TestOnSuccessOnFailureFilters(t *testing.T) {
	srv, bodies := captureServer(t)

	cfg := config.NotificationsConfig{Enabled: true, OnFailure: true}
	cfg.Webhook.URL = srv.URL
	n := FromConfig(cfg)
	require.NotNil(t, n)

	require.NoError(t, n.Notify(context.Background(), Event{Type: EventSuccess, JobName: "j"}))
	assert.Empty(t, *bodies, "success events are filtered out")

	require.NoError(t, n.Notify(context.Background(), Event{Type: EventFailure, JobName: "j"}))
	assert.Len(t, *bodies, 1)

	cfg.OnSuccess = true
	n = FromConfig(cfg)
	require.NoError(t, n.Notify(context.Background(), Event{Type: EventSuccess, JobName: "j"}))
	assert.Len(t, *bodies, 2)
}

func TestFormatSize(t *testing.T) {
	assert.Equal(t, "512 B", formatSize(512))
	assert.Equal(t, "1.00 KB", formatSize(1024))
	assert.Equal(t, "1.50 MB", formatSize(1536*1024))
}
