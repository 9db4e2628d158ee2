package monitor

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kylerisse/laeuft/pkg/probe"
	"github.com/kylerisse/laeuft/pkg/wire"
)

func TestHandleStatus_ReturnsSnapshot(t *testing.T) {
	m := newTestMonitor(t)
	m.applyOutcome(CycleOutcome{
		Timestamp:  time.Now(),
		Success:    true,
		Latency:    42 * time.Millisecond,
		HasLatency: true,
	})

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	m.apiHandler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "application/json" {
		t.Errorf("expected JSON content type, got %q", got)
	}
	if got := rec.Header().Get("Cache-Control"); got != "no-store" {
		t.Errorf("expected no-store cache control, got %q", got)
	}

	var status StatusResponse
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.Mode != ModeOnline {
		t.Errorf("expected mode %s, got %s", ModeOnline, status.Mode)
	}
	if status.BootID == "" {
		t.Error("expected a boot id in the status")
	}
	if status.LastCycle == nil || !status.LastCycle.Success {
		t.Errorf("expected a successful last cycle, got %+v", status.LastCycle)
	}
	if len(status.RollingLatencyMs) != 1 || status.RollingLatencyMs[0] != 42 {
		t.Errorf("expected rolling latency [42], got %v", status.RollingLatencyMs)
	}
	if status.OutageStart != nil {
		t.Error("expected no outage start while online")
	}
}

func TestHandleStatus_ExposesOutageStart(t *testing.T) {
	m := newTestMonitor(t)
	start := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
	m.applyOutcome(CycleOutcome{Timestamp: start, Failed: []string{"1.1.1.1"}})

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	m.apiHandler().ServeHTTP(rec, req)

	var status StatusResponse
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.Mode != ModeOutage {
		t.Fatalf("expected mode %s, got %s", ModeOutage, status.Mode)
	}
	if status.OutageStart == nil || !status.OutageStart.Equal(start) {
		t.Errorf("expected outage start %v, got %v", start, status.OutageStart)
	}
	if !status.PendingOutage && m.pendingOutage != nil {
		t.Error("expected pending report flag to match the queue")
	}
}

func TestHandleStatus_RendersTargetMetrics(t *testing.T) {
	m := newTestMonitor(t)
	m.results.Set("1.1.1.1", probe.Result{
		Success: true,
		Metrics: map[string]*int64{
			probe.MetricLatencyMicros: probe.Int64(12345),
			probe.MetricLossPct:       probe.Int64(0),
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	m.apiHandler().ServeHTTP(rec, req)

	var status StatusResponse
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatalf("decode status: %v", err)
	}

	ts, ok := status.Targets["1.1.1.1"]
	if !ok {
		t.Fatalf("expected 1.1.1.1 in targets, got %v", status.Targets)
	}
	if ts.Probe != "icmp" {
		t.Errorf("expected probe icmp, got %q", ts.Probe)
	}
	if !ts.Success {
		t.Error("expected a successful target status")
	}
	if len(ts.Metrics) != 2 {
		t.Fatalf("expected 2 rendered metrics, got %v", ts.Metrics)
	}

	lat := ts.Metrics[0]
	if lat.Name != "latency" || lat.Unit != "ms" {
		t.Errorf("expected latency in ms first, got %+v", lat)
	}
	if lat.Value != 12.345 {
		t.Errorf("expected 12345us rendered as 12.345ms, got %v", lat.Value)
	}

	loss := ts.Metrics[1]
	if loss.Name != "loss" || loss.Unit != "%" || loss.Value != 0 {
		t.Errorf("expected zero loss in percent, got %+v", loss)
	}
}

func TestHandleStatus_OmitsTargetsBeforeFirstCycle(t *testing.T) {
	m := newTestMonitor(t)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	m.apiHandler().ServeHTTP(rec, req)

	var status StatusResponse
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if len(status.Targets) != 0 {
		t.Errorf("expected no targets before the first cycle, got %v", status.Targets)
	}
}

func TestHandleStatus_RejectsPost(t *testing.T) {
	m := newTestMonitor(t)

	req := httptest.NewRequest(http.MethodPost, "/status", nil)
	rec := httptest.NewRecorder()
	m.apiHandler().ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405 for POST /status, got %d", rec.Code)
	}
}

func TestHandleSpeedTestRun_Accepted(t *testing.T) {
	m := newTestMonitor(t)

	req := httptest.NewRequest(http.MethodPost, "/api/speedtest/run", nil)
	rec := httptest.NewRecorder()
	m.apiHandler().ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}

	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "started" {
		t.Errorf("expected started status, got %v", body)
	}
}

func TestHandleSpeedTestRun_ConflictWhileRunning(t *testing.T) {
	m := newTestMonitor(t)
	block := make(chan struct{})
	defer close(block)
	m.runner = &stubRunner{report: okSpeedReport(80), block: block}

	if !m.startSpeedTest(wire.TriggerManual) {
		t.Fatal("expected the blocking test to start")
	}

	req := httptest.NewRequest(http.MethodPost, "/api/speedtest/run", nil)
	rec := httptest.NewRecorder()
	m.apiHandler().ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409 while a test is running, got %d", rec.Code)
	}
}

func TestHandleHealthz(t *testing.T) {
	m := newTestMonitor(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	m.apiHandler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "ok\n" {
		t.Errorf("expected ok body, got %q", rec.Body.String())
	}
}

func TestHandleMetrics_ExposesProbeResults(t *testing.T) {
	m := newTestMonitor(t)
	m.results.Set("1.1.1.1", probe.Result{Success: true, Metrics: map[string]*int64{probe.MetricLatencyMicros: probe.Int64(12345)}})
	m.results.Set("8.8.8.8", probe.Result{Success: false})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	m.apiHandler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/plain" {
		t.Errorf("expected text/plain, got %q", ct)
	}

	body := rec.Body.String()
	if !strings.Contains(body, "connectivity_up 1") {
		t.Errorf("expected connectivity_up 1, got:\n%s", body)
	}
	if !strings.Contains(body, "connectivity_degraded 0") {
		t.Errorf("expected connectivity_degraded 0, got:\n%s", body)
	}
	if !strings.Contains(body, `probe_alive{target="1.1.1.1", probe="icmp"} 1`) {
		t.Errorf("expected probe_alive line for 1.1.1.1, got:\n%s", body)
	}
	if !strings.Contains(body, `probe_alive{target="8.8.8.8", probe="icmp"} 0`) {
		t.Errorf("expected probe_alive=0 for the failed target, got:\n%s", body)
	}
	if !strings.Contains(body, `probe_metric{target="1.1.1.1", probe="icmp", metric="latency_us"} 12345`) {
		t.Errorf("expected probe_metric line for latency_us, got:\n%s", body)
	}
	if strings.Contains(body, "speedtest_download_mbps") {
		t.Error("expected no speed test metric before the first test")
	}
}

func TestHandleMetrics_OutageAndSpeedTest(t *testing.T) {
	m := newTestMonitor(t)
	m.applyOutcome(CycleOutcome{Timestamp: time.Now(), Failed: []string{"1.1.1.1", "8.8.8.8"}})
	m.mu.Lock()
	m.lastSpeed = &wire.SpeedTestReport{DownloadMbps: 87.5}
	m.mu.Unlock()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	m.apiHandler().ServeHTTP(rec, req)

	body := rec.Body.String()
	if !strings.Contains(body, "connectivity_up 0") {
		t.Errorf("expected connectivity_up 0 during an outage, got:\n%s", body)
	}
	if !strings.Contains(body, "speedtest_download_mbps 87.5") {
		t.Errorf("expected the last download rate, got:\n%s", body)
	}
}
