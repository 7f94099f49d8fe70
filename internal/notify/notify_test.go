package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/onchainlabs1/sentinel/internal/models"
)

type fakeChannel struct {
	name  string
	sent  int
	ref   string
	fails bool
}

func (f *fakeChannel) Name() string { return f.name }

func (f *fakeChannel) Send(context.Context, Notification) (string, error) {
	f.sent++
	if f.fails {
		return "", fmt.Errorf("boom")
	}
	return f.ref, nil
}

func highIncident() models.Incident {
	return models.Incident{
		ID:       "inc-1",
		Type:     "prompt_injection",
		Severity: models.SeverityHigh,
		Category: models.CategorySecurity,
		Source:   "agent-gateway",
	}
}

func TestRouterRoutesBySeverity(t *testing.T) {
	logCh := &fakeChannel{name: "log"}
	ticketCh := &fakeChannel{name: "ticket", ref: "TCK-7"}
	router := NewRouter(nil, map[models.Severity][]string{
		models.SeverityHigh: {"log", "ticket"},
		models.SeverityLow:  {"log"},
	}, logCh, ticketCh)

	result, err := router.Notify(context.Background(), Notification{Kind: KindIncident, Incident: highIncident()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Delivered != 2 || result.TicketRef != "TCK-7" {
		t.Fatalf("unexpected result: %+v", result)
	}

	low := highIncident()
	low.Severity = models.SeverityLow
	if _, err := router.Notify(context.Background(), Notification{Kind: KindIncident, Incident: low}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ticketCh.sent != 1 {
		t.Fatalf("low severity must not reach the ticket channel, sent=%d", ticketCh.sent)
	}
}

func TestRouterPartialDeliveryIsSuccess(t *testing.T) {
	router := NewRouter(nil, map[models.Severity][]string{
		models.SeverityHigh: {"log", "webhook"},
	}, &fakeChannel{name: "log"}, &fakeChannel{name: "webhook", fails: true})

	result, err := router.Notify(context.Background(), Notification{Incident: highIncident()})
	if err != nil {
		t.Fatalf("partial delivery must not fail: %v", err)
	}
	if result.Delivered != 1 || result.Attempted != 2 {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestRouterTotalFailure(t *testing.T) {
	router := NewRouter(nil, map[models.Severity][]string{
		models.SeverityHigh: {"webhook"},
	}, &fakeChannel{name: "webhook", fails: true})

	if _, err := router.Notify(context.Background(), Notification{Incident: highIncident()}); err == nil {
		t.Fatalf("expected error when every channel fails")
	}
}

func TestWebhookChannelRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		if payload["incident_id"] != "inc-1" {
			t.Errorf("unexpected payload: %v", payload)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	ch := NewWebhookChannel(srv.URL, time.Second, 2)
	if _, err := ch.Send(context.Background(), Notification{Kind: KindIncident, Incident: highIncident()}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected one retry, got %d calls", calls.Load())
	}
}

func TestTicketChannelCreatesTicket(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("missing auth header: %q", got)
		}
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req["title"] == "" || req["severity"] != "high" {
			t.Errorf("unexpected ticket request: %v", req)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "TCK-99"})
	}))
	defer srv.Close()

	ch := NewTicketChannel(srv.URL, "secret", time.Second)
	ref, err := ch.Send(context.Background(), Notification{Kind: KindIncident, Incident: highIncident()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ref != "TCK-99" {
		t.Fatalf("unexpected ticket ref: %s", ref)
	}
}
