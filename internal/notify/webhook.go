package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// WebhookChannel POSTs notifications as JSON to a configured endpoint,
// retrying transient failures with a short backoff.
type WebhookChannel struct {
	url        string
	retries    int
	httpClient *http.Client
}

// NewWebhookChannel constructs the webhook channel.
func NewWebhookChannel(url string, timeout time.Duration, retries int) *WebhookChannel {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if retries < 0 {
		retries = 0
	}
	return &WebhookChannel{
		url:        url,
		retries:    retries,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Name implements Channel.
func (c *WebhookChannel) Name() string { return "webhook" }

type webhookPayload struct {
	Kind       string    `json:"kind"`
	IncidentID string    `json:"incident_id"`
	Type       string    `json:"type"`
	Severity   string    `json:"severity"`
	Category   string    `json:"category"`
	Source     string    `json:"source"`
	Tier       int       `json:"tier"`
	DetectedAt time.Time `json:"detected_at"`
	Message    string    `json:"message"`
}

// Send implements Channel.
func (c *WebhookChannel) Send(ctx context.Context, n Notification) (string, error) {
	if c.url == "" {
		return "", fmt.Errorf("webhook URL not configured")
	}

	body, err := json.Marshal(webhookPayload{
		Kind:       string(n.Kind),
		IncidentID: n.Incident.ID,
		Type:       n.Incident.Type,
		Severity:   string(n.Incident.Severity),
		Category:   string(n.Incident.Category),
		Source:     n.Incident.Source,
		Tier:       n.Incident.Tier,
		DetectedAt: n.Incident.DetectedAt,
		Message:    n.Message,
	})
	if err != nil {
		return "", fmt.Errorf("marshal webhook payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			}
		}
		lastErr = c.post(ctx, body)
		if lastErr == nil {
			return "", nil
		}
	}
	return "", fmt.Errorf("webhook delivery after %d attempts: %w", c.retries+1, lastErr)
}

func (c *WebhookChannel) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}
