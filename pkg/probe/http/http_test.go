package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kylerisse/laeuft/pkg/probe"
)

func TestNew_Valid(t *testing.T) {
	p, err := New("https://example.com/health")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.url != "https://example.com/health" {
		t.Errorf("expected url unchanged, got %q", p.url)
	}
	if p.timeout != DefaultTimeout {
		t.Errorf("expected default timeout %v, got %v", DefaultTimeout, p.timeout)
	}
	if !p.skipVerify {
		t.Error("expected skipVerify to default to true")
	}
}

func TestNew_EmptyURL(t *testing.T) {
	_, err := New("")
	if err == nil {
		t.Error("expected error for empty url")
	}
}

func TestNew_AddsScheme(t *testing.T) {
	p, err := New("example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.url != "https://example.com" {
		t.Errorf("expected https scheme added, got %q", p.url)
	}
}

func TestNew_WithOptions(t *testing.T) {
	p, err := New("http://example.com",
		WithTimeout(3*time.Second),
		WithSkipVerify(false),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.timeout != 3*time.Second {
		t.Errorf("expected timeout 3s, got %v", p.timeout)
	}
	if p.skipVerify {
		t.Error("expected skipVerify false")
	}
}

func TestWithTimeout_Invalid(t *testing.T) {
	_, err := New("http://example.com", WithTimeout(0))
	if err == nil {
		t.Error("expected error for zero timeout")
	}
}

func TestType(t *testing.T) {
	p, _ := New("http://example.com")
	if p.Type() != "http" {
		t.Errorf("expected type 'http', got %q", p.Type())
	}
}

func TestDescribe(t *testing.T) {
	p, _ := New("http://example.com")
	desc := p.Describe()
	if len(desc.Metrics) != 1 {
		t.Fatalf("expected 1 metric, got %d", len(desc.Metrics))
	}
	if desc.Metrics[0].ResultKey != probe.MetricLatencyMicros {
		t.Errorf("expected ResultKey %q, got %q", probe.MetricLatencyMicros, desc.Metrics[0].ResultKey)
	}
}

func TestRun_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p, err := New(srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	result := p.Run(context.Background())
	if !result.Success {
		t.Fatalf("expected success, got failure: %v", result.Err)
	}
	if v, ok := result.Metric(probe.MetricLatencyMicros); !ok || v < 0 {
		t.Errorf("expected non-negative response time, got %d (present=%v)", v, ok)
	}
}

func TestRun_ErrorStatusStillReachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p, err := New(srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	result := p.Run(context.Background())
	if !result.Success {
		t.Errorf("expected 500 response to count as reachable, got failure: %v", result.Err)
	}
}

func TestRun_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	p, err := New(url, WithTimeout(1*time.Second))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	result := p.Run(context.Background())
	if result.Success {
		t.Error("expected failure for closed server")
	}
	if result.Err == nil {
		t.Error("expected non-nil error")
	}
}

func TestRun_TLSSkipVerify(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p, err := New(srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	result := p.Run(context.Background())
	if !result.Success {
		t.Errorf("expected self-signed cert to pass with skip_verify, got: %v", result.Err)
	}
}

func TestRun_TLSVerifyFails(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p, err := New(srv.URL, WithSkipVerify(false))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	result := p.Run(context.Background())
	if result.Success {
		t.Error("expected self-signed cert to fail verification")
	}
}

func TestRun_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p, err := New(srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := p.Run(ctx)
	if result.Success {
		t.Error("expected failure with cancelled context")
	}
}

func TestFactory_Valid(t *testing.T) {
	pr, err := Factory(map[string]any{
		"target":      "http://example.com",
		"timeout":     "3s",
		"skip_verify": false,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	p := pr.(*Probe)
	if p.timeout != 3*time.Second {
		t.Errorf("expected timeout 3s, got %v", p.timeout)
	}
	if p.skipVerify {
		t.Error("expected skipVerify false")
	}
}

func TestFactory_MissingTarget(t *testing.T) {
	_, err := Factory(map[string]any{})
	if err == nil {
		t.Error("expected error for missing target")
	}
}

func TestFactory_WrongTargetType(t *testing.T) {
	_, err := Factory(map[string]any{"target": 42})
	if err == nil {
		t.Error("expected error for non-string target")
	}
}

func TestFactory_InvalidTimeout(t *testing.T) {
	_, err := Factory(map[string]any{
		"target":  "http://example.com",
		"timeout": "soon",
	})
	if err == nil {
		t.Error("expected error for invalid timeout")
	}
}

func TestFactory_WrongSkipVerifyType(t *testing.T) {
	_, err := Factory(map[string]any{
		"target":      "http://example.com",
		"skip_verify": "yes",
	})
	if err == nil {
		t.Error("expected error for non-bool skip_verify")
	}
}

func TestProbeInterface(t *testing.T) {
	var _ probe.Probe = &Probe{}
}
