package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"storyforge/internal/infra"
)

// Event names a job lifecycle moment worth telling an external collaborator
// about. Notification is fire-and-forget: a delivery failure never affects
// job status.
type Event string

const (
	EventAwaitingApproval Event = "awaiting_approval"
)

// Notifier is the external notification collaborator.
type Notifier interface {
	Notify(ctx context.Context, jobID string, event Event) error
}

// LogNotifier writes notifications to the service log. Default when no
// webhook is configured.
type LogNotifier struct {
	logger infra.Logger
}

func NewLogNotifier(logger infra.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, jobID string, event Event) error {
	n.logger.Info().Str("job_id", jobID).Str("event", string(event)).Msg("notify: job event")
	return nil
}

// WebhookNotifier POSTs job events to a configured URL.
type WebhookNotifier struct {
	url    string
	client *http.Client
	logger infra.Logger
}

func NewWebhookNotifier(url string, client *http.Client, logger infra.Logger) *WebhookNotifier {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebhookNotifier{url: url, client: client, logger: logger}
}

func (n *WebhookNotifier) Notify(ctx context.Context, jobID string, event Event) error {
	payload, err := json.Marshal(map[string]string{
		"job_id": jobID,
		"event":  string(event),
	})
	if err != nil {
		return fmt.Errorf("notify: encode payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("notify: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: deliver: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("notify: webhook returned %d", resp.StatusCode)
	}
	return nil
}

var (
	_ Notifier = (*LogNotifier)(nil)
	_ Notifier = (*WebhookNotifier)(nil)
)
