package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// TicketChannel creates a tracked item on an external issue tracker. Labels
// are derived from severity and category so triage filters work out of the
// box.
type TicketChannel struct {
	url        string
	token      string
	httpClient *http.Client
}

// NewTicketChannel constructs the ticket channel.
func NewTicketChannel(url, token string, timeout time.Duration) *TicketChannel {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &TicketChannel{
		url:        url,
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Name implements Channel.
func (c *TicketChannel) Name() string { return "ticket" }

type ticketRequest struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Labels      []string  `json:"labels"`
	Severity    string    `json:"severity"`
	Category    string    `json:"category"`
	Source      string    `json:"source"`
	DetectedAt  time.Time `json:"detected_at"`
}

type ticketResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Send implements Channel. The returned ref is the tracker's ticket id.
func (c *TicketChannel) Send(ctx context.Context, n Notification) (string, error) {
	if c.url == "" {
		return "", fmt.Errorf("ticket tracker URL not configured")
	}

	inc := n.Incident
	body, err := json.Marshal(ticketRequest{
		Title:       fmt.Sprintf("[%s] %s from %s", inc.Severity, inc.Type, inc.Source),
		Description: inc.Description,
		Labels:      []string{"sentinel", "severity:" + string(inc.Severity), "category:" + string(inc.Category)},
		Severity:    string(inc.Severity),
		Category:    string(inc.Category),
		Source:      inc.Source,
		DetectedAt:  inc.DetectedAt,
	})
	if err != nil {
		return "", fmt.Errorf("marshal ticket request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("tracker returned %s", resp.Status)
	}

	var created ticketResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", fmt.Errorf("decode ticket response: %w", err)
	}
	if created.ID == "" {
		return created.URL, nil
	}
	return created.ID, nil
}
