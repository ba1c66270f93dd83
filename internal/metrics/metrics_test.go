package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNormalizeRoute(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		// Known exact routes.
		{"/healthz", "/healthz"},
		{"/readyz", "/readyz"},
		{"/metrics", "/metrics"},
		{"/", "/"},
		{"/debug/snapshot", "/debug/snapshot"},
		{"/debug/stream", "/debug/stream"},

		// Unknown/bot paths collapse to "other".
		{"/wp-admin", "other"},
		{"/robots.txt", "other"},
		{"/.env", "other"},
		{"/debug/snapshot/42", "other"},
		{"/favicon.ico", "other"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got := normalizeRoute(tt.path)
			if got != tt.want {
				t.Errorf("normalizeRoute(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

// TestMetricsCardinality verifies that 100 unique probe paths produce
// exactly 1 distinct path label, not 100.
func TestMetricsCardinality(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		label := normalizeRoute("/probe/" + string(rune('0'+i%10)) + string(rune('0'+i/10)))
		seen[label] = true
	}
	if len(seen) != 1 {
		t.Errorf("expected 1 unique label for unknown paths, got %d: %v", len(seen), seen)
	}
}

func TestMiddlewareCapturesStatus(t *testing.T) {
	var inner *responseWriter
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inner, _ = w.(*responseWriter)
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusTeapot)
	}
	if inner == nil || inner.statusCode != http.StatusTeapot {
		t.Errorf("captured status = %v, want %d", inner, http.StatusTeapot)
	}
	if inner != nil && inner.Unwrap() != rec {
		t.Error("Unwrap did not return the underlying writer")
	}
}

func TestHandlerExposesPipelineMetrics(t *testing.T) {
	RecordPropagation(12*time.Millisecond, 10, 1)
	IncChunks()
	RecordRoundTrip(60*time.Millisecond, 5, 51, 1.05)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := rec.Body.String()
	for _, name := range []string{
		"orbitsync_propagation_duration_seconds",
		"orbitsync_propagation_objects_total",
		"orbitsync_propagation_chunks_total",
		"orbitsync_latency_ema_ms",
		"orbitsync_lead_factor",
	} {
		if !strings.Contains(body, name) {
			t.Errorf("metrics output missing %s", name)
		}
	}
}
