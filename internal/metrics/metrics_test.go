package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHandler_nilMetrics(t *testing.T) {
	var m *Metrics
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)

	m.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	if got := rr.Body.String(); !strings.Contains(got, "metrics unavailable") {
		t.Fatalf("expected body to mention metrics unavailable, got %q", got)
	}

	// Recording on a nil registry must not panic.
	m.ObserveCycle("success", "", time.Second)
	m.SetDevices(1, 2, time.Now())
	m.AddPruned(3)
	m.SetUpdateInterval(time.Minute)
}

func TestHandler_exposesRegisteredMetrics(t *testing.T) {
	m := New()
	m.ObserveHTTPRequest(http.MethodGet, "/readyz", http.StatusOK, 12*time.Millisecond)
	m.ObserveCycle("success", "", 300*time.Millisecond)
	m.ObserveCycle("failure", "timeout", 10*time.Second)
	m.SetDevices(4, 2, time.Unix(1700000000, 0))
	m.AddPruned(1)
	m.SetUpdateInterval(30 * time.Second)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)

	m.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	body := rr.Body.String()
	for _, want := range []string{
		"gatewatch_http_requests_total{method=\"GET\",path=\"/readyz\",status=\"200\"} 1",
		"gatewatch_refresh_cycles_total{kind=\"none\",outcome=\"success\"} 1",
		"gatewatch_refresh_cycles_total{kind=\"timeout\",outcome=\"failure\"} 1",
		"gatewatch_refresh_cycle_duration_seconds_count 2",
		"gatewatch_devices{state=\"active\"} 4",
		"gatewatch_devices{state=\"inactive\"} 2",
		"gatewatch_devices_pruned_total 1",
		"gatewatch_update_interval_seconds 30",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in body=%s", want, body)
		}
	}
}
