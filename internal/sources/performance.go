package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/onchainlabs1/sentinel/internal/models"
)

// PerformanceSource polls the platform's metrics snapshot endpoint and
// forwards the readings as one signal; the classifier's metric rules decide
// whether anything in the snapshot is incident-worthy.
type PerformanceSource struct {
	baseURL    string
	metricPath string
	httpClient *http.Client
}

// NewPerformanceSource constructs the checker against the configured
// platform instance.
func NewPerformanceSource(baseURL, metricPath string, timeout time.Duration) *PerformanceSource {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &PerformanceSource{
		baseURL:    strings.TrimRight(baseURL, "/"),
		metricPath: metricPath,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Name implements Source.
func (s *PerformanceSource) Name() string { return "performance-checker" }

// Check implements Source.
func (s *PerformanceSource) Check(ctx context.Context) ([]models.Signal, error) {
	if s.baseURL == "" {
		return nil, fmt.Errorf("platform base URL not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("platform metrics request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("platform returned %s", resp.Status)
	}

	var snapshot struct {
		Metrics map[string]float64 `json:"metrics"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&snapshot); err != nil {
		return nil, fmt.Errorf("decode metrics snapshot: %w", err)
	}
	if len(snapshot.Metrics) == 0 {
		return nil, nil
	}

	return []models.Signal{{
		Description: "platform metrics snapshot",
		Source:      s.Name(),
		Metrics:     snapshot.Metrics,
		OccurredAt:  time.Now().UTC(),
	}}, nil
}

func (s *PerformanceSource) endpoint() string {
	cleaned := "/" + strings.TrimLeft(s.metricPath, "/")
	u, err := url.Parse(s.baseURL)
	if err != nil {
		return s.baseURL + cleaned
	}
	u.Path = path.Join(u.Path, cleaned)
	return u.String()
}
