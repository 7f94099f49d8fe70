package sources

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestPerformanceSourceSnapshot(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/llm/metrics" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"metrics":{"response_time":12.5,"error_rate":0.08}}`))
	}))
	defer server.Close()

	src := NewPerformanceSource(server.URL, "/api/v1/llm/metrics", 0)
	signals, err := src.Check(context.Background())
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if len(signals) != 1 {
		t.Fatalf("expected 1 signal, got %d", len(signals))
	}
	sig := signals[0]
	if sig.Source != "performance-checker" {
		t.Errorf("source = %q", sig.Source)
	}
	if sig.Metrics["response_time"] != 12.5 || sig.Metrics["error_rate"] != 0.08 {
		t.Errorf("metrics not forwarded: %v", sig.Metrics)
	}
	if sig.OccurredAt.IsZero() {
		t.Error("occurred_at not set")
	}
}

func TestPerformanceSourceServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	src := NewPerformanceSource(server.URL, "/api/v1/llm/metrics", 0)
	if _, err := src.Check(context.Background()); err == nil {
		t.Fatal("expected error on 500 response")
	}
}

func TestPerformanceSourceNoBaseURL(t *testing.T) {
	src := NewPerformanceSource("", "/api/v1/llm/metrics", 0)
	if _, err := src.Check(context.Background()); err == nil {
		t.Fatal("expected error without base URL")
	}
}

func TestLogScanPicksUpNewLinesOnce(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "app.log")
	write := func(content string) {
		f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			t.Fatalf("open log: %v", err)
		}
		defer f.Close()
		if _, err := f.WriteString(content); err != nil {
			t.Fatalf("write log: %v", err)
		}
	}

	src := NewLogScanSource(logPath, []string{"panic", "data breach"})

	write("INFO boot complete\nERROR panic: nil pointer\n")
	signals, err := src.Check(context.Background())
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if len(signals) != 1 {
		t.Fatalf("expected 1 signal, got %d", len(signals))
	}
	if signals[0].Source != "log-scanner" {
		t.Errorf("source = %q", signals[0].Source)
	}
	if signals[0].Description != "ERROR panic: nil pointer" {
		t.Errorf("description = %q", signals[0].Description)
	}

	// Second check with no new content reports nothing.
	signals, err = src.Check(context.Background())
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if len(signals) != 0 {
		t.Fatalf("expected no signals on re-scan, got %d", len(signals))
	}

	write("WARN possible data breach detected\n")
	signals, err = src.Check(context.Background())
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if len(signals) != 1 {
		t.Fatalf("expected 1 new signal, got %d", len(signals))
	}
}

func TestLogScanMissingFile(t *testing.T) {
	src := NewLogScanSource(filepath.Join(t.TempDir(), "absent.log"), []string{"error"})
	signals, err := src.Check(context.Background())
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if len(signals) != 0 {
		t.Fatalf("expected no signals, got %d", len(signals))
	}
}

func TestLogScanResetsOnTruncation(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "app.log")
	if err := os.WriteFile(logPath, []byte("ERROR panic: first\n"), 0o644); err != nil {
		t.Fatalf("seed log: %v", err)
	}

	src := NewLogScanSource(logPath, []string{"panic"})
	if _, err := src.Check(context.Background()); err != nil {
		t.Fatalf("Check: %v", err)
	}

	// Rotation replaces the file with a shorter one.
	if err := os.WriteFile(logPath, []byte("ERROR panic: two\n"), 0o644); err != nil {
		t.Fatalf("rotate log: %v", err)
	}
	signals, err := src.Check(context.Background())
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if len(signals) != 1 {
		t.Fatalf("expected 1 signal after rotation, got %d", len(signals))
	}
	if signals[0].Description != "ERROR panic: two" {
		t.Errorf("description = %q", signals[0].Description)
	}
}

func TestSystemSourceDefaults(t *testing.T) {
	src := NewSystemSource(0, 0)
	if src.cpuThreshold != 90 || src.memThreshold != 90 {
		t.Fatalf("defaults = %.0f/%.0f", src.cpuThreshold, src.memThreshold)
	}
}

func TestBreached(t *testing.T) {
	cases := []struct {
		op        string
		value     float64
		threshold float64
		want      bool
	}{
		{"gt", 2, 1, true},
		{"gt", 1, 1, false},
		{"ge", 1, 1, true},
		{"lt", 0, 1, true},
		{"le", 1, 1, true},
		{"unknown", 5, 1, false},
	}
	for _, tc := range cases {
		if got := breached(tc.op, tc.value, tc.threshold); got != tc.want {
			t.Errorf("breached(%q, %v, %v) = %v, want %v", tc.op, tc.value, tc.threshold, got, tc.want)
		}
	}
}
