package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/onchainlabs1/sentinel/internal/cache"
	"github.com/onchainlabs1/sentinel/internal/classify"
	"github.com/onchainlabs1/sentinel/internal/dedup"
	"github.com/onchainlabs1/sentinel/internal/models"
	"github.com/onchainlabs1/sentinel/internal/registry"
	"github.com/onchainlabs1/sentinel/internal/review"
	"github.com/onchainlabs1/sentinel/internal/services"
	"github.com/onchainlabs1/sentinel/internal/store"
)

type nopEnqueuer struct{ ids []string }

func (n *nopEnqueuer) Enqueue(id string) error { n.ids = append(n.ids, id); return nil }
func (n *nopEnqueuer) Depth() int              { return 0 }

func newTestServer(t *testing.T) (*httptest.Server, *services.Service) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "sentinel.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	svc := services.New(
		nil,
		classify.New(nil, nil),
		dedup.New(cache.NewMemoryProvider(), 0, nil),
		registry.New(),
		st,
		review.NewMiner(nil, st),
		nil,
		&nopEnqueuer{},
	)

	srv := NewServer(nil, ":0", svc, nil)
	ts := httptest.NewServer(srv.http.Handler)
	t.Cleanup(ts.Close)
	return ts, svc
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestReportSignalAccepted(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/v1/signals", map[string]any{
		"description": "attempt to bypass security controls detected",
		"source":      "api",
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	body := decode[struct {
		Incidents []models.Incident `json:"incidents"`
	}](t, resp)
	if len(body.Incidents) != 1 {
		t.Fatalf("expected 1 incident, got %d", len(body.Incidents))
	}
	if body.Incidents[0].Severity != models.SeverityHigh {
		t.Errorf("severity = %s", body.Incidents[0].Severity)
	}
}

func TestReportSignalValidation(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/v1/signals", map[string]any{"source": "api"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestListAndGetIncidents(t *testing.T) {
	ts, svc := newTestServer(t)

	admitted, err := svc.Report(context.Background(), models.Signal{
		Description: "error rate above threshold",
		Metrics:     map[string]float64{"error_rate": 0.2},
		Source:      "performance-checker",
	})
	if err != nil || len(admitted) != 1 {
		t.Fatalf("seed incident: %v", err)
	}
	id := admitted[0].ID

	resp, err := http.Get(ts.URL + "/api/v1/incidents?severity=critical")
	if err != nil {
		t.Fatalf("GET incidents: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	list := decode[struct {
		Incidents []models.Incident `json:"incidents"`
		Count     int               `json:"count"`
	}](t, resp)
	if list.Count != 1 || list.Incidents[0].ID != id {
		t.Fatalf("filtered list = %+v", list)
	}

	resp, err = http.Get(ts.URL + "/api/v1/incidents?status=new&category=performance")
	if err != nil {
		t.Fatalf("GET incidents: %v", err)
	}
	list = decode[struct {
		Incidents []models.Incident `json:"incidents"`
		Count     int               `json:"count"`
	}](t, resp)
	if list.Count != 1 {
		t.Fatalf("status/category filter = %+v", list)
	}

	resp, err = http.Get(ts.URL + "/api/v1/incidents/" + id)
	if err != nil {
		t.Fatalf("GET incident: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	inc := decode[models.Incident](t, resp)
	if inc.ID != id {
		t.Errorf("id = %s", inc.ID)
	}
}

func TestGetIncidentNotFound(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/v1/incidents/nope")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestResolveIncident(t *testing.T) {
	ts, svc := newTestServer(t)

	admitted, err := svc.Report(context.Background(), models.Signal{
		Description: "unexplained anomaly in checkout flow",
		Source:      "operator",
	})
	if err != nil || len(admitted) != 1 {
		t.Fatalf("seed incident: %v", err)
	}
	id := admitted[0].ID

	resp := postJSON(t, ts.URL+"/api/v1/incidents/"+id+"/resolve", map[string]string{
		"note": "rolled back the release",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	inc := decode[models.Incident](t, resp)
	if !inc.ResolutionRequested || inc.ResolutionNote != "rolled back the release" {
		t.Errorf("resolution not recorded: %+v", inc)
	}
}

func TestStatsAndPatterns(t *testing.T) {
	ts, svc := newTestServer(t)

	if _, err := svc.Report(context.Background(), models.Signal{
		Description: "response times degraded",
		Metrics:     map[string]float64{"response_time": 20},
		Source:      "performance-checker",
	}); err != nil {
		t.Fatalf("seed incident: %v", err)
	}

	resp, err := http.Get(ts.URL + "/api/v1/stats")
	if err != nil {
		t.Fatalf("GET stats: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stats status = %d", resp.StatusCode)
	}
	stats := decode[services.Stats](t, resp)
	if stats.Active != 1 {
		t.Errorf("active = %d", stats.Active)
	}

	resp, err = http.Get(ts.URL + "/api/v1/patterns")
	if err != nil {
		t.Fatalf("GET patterns: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("patterns status = %d", resp.StatusCode)
	}
	patterns := decode[struct {
		Patterns []review.Pattern `json:"patterns"`
	}](t, resp)
	if len(patterns.Patterns) != 1 {
		t.Errorf("patterns = %+v", patterns.Patterns)
	}
}

func TestHealthz(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}
