package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

type Slack struct {
	WebhookURL string
	Client     *http.Client
}

func NewSlack(url string) *Slack {
	return &Slack{
		WebhookURL: url,
		Client:     &http.Client{Timeout: 10 * time.Second},
	}
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

type slackAttachment struct {
	Color  string       `json:"color"`
	Title  string       `json:"title"`
	Text   string       `json:"text,omitempty"`
	Fields []slackField `json:"fields"`
	Footer string       `json:"footer"`
	Ts     int64        `json:"ts"`
}

type slackPayload struct {
	Attachments []slackAttachment `json:"attachments"`
}

func (s *Slack) Notify(ctx context.Context, ev Event) error {
	if s.WebhookURL == "" {
		return nil
	}

	color := "#36a64f"
	title := fmt.Sprintf("✅ %s succeeded", ev.JobName)
	if ev.Type == EventFailure {
		color = "#ff0000"
		title = fmt.Sprintf("❌ %s failed", ev.JobName)
	}

	attachment := slackAttachment{
		Color:  color,
		Title:  title,
		Footer: "backstop",
		Ts:     time.Now().Unix(),
		Fields: []slackField{
			{Title: "Job", Value: ev.JobName, Short: true},
			{Title: "Duration", Value: ev.Duration.Truncate(time.Millisecond).String(), Short: true},
		},
	}
	if ev.Size > 0 {
		attachment.Fields = append(attachment.Fields, slackField{Title: "Size", Value: formatSize(ev.Size), Short: true})
	}
	if ev.Summary != "" {
		attachment.Fields = append(attachment.Fields, slackField{Title: "Summary", Value: ev.Summary, Short: false})
	}
	if ev.Error != nil {
		attachment.Text = fmt.Sprintf("*Error:* %v", ev.Error)
	}

	body, err := json.Marshal(slackPayload{Attachments: []slackAttachment{attachment}})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.WebhookURL, bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack notification failed with status: %s", resp.Status)
	}
	return nil
}

func formatSize(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}
