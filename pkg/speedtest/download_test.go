package speedtest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kylerisse/laeuft/pkg/wire"
)

func TestNewDownload_EmptyURL(t *testing.T) {
	if _, err := NewDownload("", 20, newTestLogger()); err == nil {
		t.Error("expected error for empty tracker URL")
	}
}

func TestNewDownload_ZeroSize(t *testing.T) {
	if _, err := NewDownload("http://tracker.lan:5000", 0, newTestLogger()); err == nil {
		t.Error("expected error for zero payload size")
	}
}

func TestDownload_Run(t *testing.T) {
	payload := make([]byte, 1<<20)

	var gotPath, gotSize string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotSize = r.URL.Query().Get("size_mb")
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	dl, err := NewDownload(srv.URL, 1, newTestLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	report, err := dl.Run(context.Background(), wire.TriggerDegraded)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotPath != "/speedtest" {
		t.Errorf("expected path /speedtest, got %q", gotPath)
	}
	if gotSize != "1" {
		t.Errorf("expected size_mb=1, got %q", gotSize)
	}
	if report.DownloadMbps <= 0 {
		t.Errorf("expected positive rate, got %v", report.DownloadMbps)
	}
	if report.Source != wire.SourceTracker {
		t.Errorf("expected source tracker, got %q", report.Source)
	}
	if report.Trigger != wire.TriggerDegraded {
		t.Errorf("expected trigger recorded, got %q", report.Trigger)
	}
	if report.Timestamp.IsZero() {
		t.Error("expected non-zero timestamp")
	}
}

func TestDownload_RunErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	dl, err := NewDownload(srv.URL, 1, newTestLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := dl.Run(context.Background(), wire.TriggerManual); err == nil {
		t.Error("expected error for 500 response")
	}
}

func TestDownload_RunEmptyPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	dl, err := NewDownload(srv.URL, 1, newTestLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := dl.Run(context.Background(), wire.TriggerManual); err == nil {
		t.Error("expected error for empty payload")
	}
}

func TestDownload_RunUnreachable(t *testing.T) {
	dl, err := NewDownload("http://127.0.0.1:1", 1, newTestLogger(),
		WithDownloadTimeout(time.Second))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := dl.Run(context.Background(), wire.TriggerManual); err == nil {
		t.Error("expected error for unreachable tracker")
	}
}
