package speedtest

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kylerisse/laeuft/pkg/wire"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

const ooklaFixture = `{"type":"result","timestamp":"2024-03-01T12:00:00Z","ping":{"jitter":0.8,"latency":12.3},"download":{"bandwidth":11875000,"bytes":95000000,"elapsed":8000},"upload":{"bandwidth":2500000,"bytes":20000000,"elapsed":8000},"packetLoss":0}`

// fakeOoklaBin writes an executable script that prints the given output
// and exits with the given code.
func fakeOoklaBin(t *testing.T, output string, exitCode int) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake binary script requires a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "fake-speedtest")
	script := "#!/bin/sh\necho '" + output + "'\nexit " + strconv.Itoa(exitCode) + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("failed to write fake binary: %v", err)
	}
	return path
}

func TestParseOoklaOutput_Valid(t *testing.T) {
	report, err := parseOoklaOutput([]byte(ooklaFixture))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.DownloadMbps != 95 {
		t.Errorf("expected 95 Mbps down, got %v", report.DownloadMbps)
	}
	if report.UploadMbps != 20 {
		t.Errorf("expected 20 Mbps up, got %v", report.UploadMbps)
	}
	if report.PingMs != 12.3 {
		t.Errorf("expected 12.3 ms ping, got %v", report.PingMs)
	}
	if report.Source != wire.SourceOokla {
		t.Errorf("expected source ookla, got %q", report.Source)
	}
	want := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	if !report.Timestamp.Equal(want) {
		t.Errorf("expected timestamp %v, got %v", want, report.Timestamp)
	}
}

func TestParseOoklaOutput_Garbage(t *testing.T) {
	if _, err := parseOoklaOutput([]byte("Speedtest by Ookla\n")); err == nil {
		t.Error("expected error for non-JSON output")
	}
}

func TestParseOoklaOutput_WrongType(t *testing.T) {
	if _, err := parseOoklaOutput([]byte(`{"type":"log","message":"starting"}`)); err == nil {
		t.Error("expected error for non-result output")
	}
}

func TestParseOoklaOutput_NoBandwidth(t *testing.T) {
	if _, err := parseOoklaOutput([]byte(`{"type":"result","download":{"bandwidth":0}}`)); err == nil {
		t.Error("expected error for missing download bandwidth")
	}
}

func TestBytesPerSecToMbps(t *testing.T) {
	if got := bytesPerSecToMbps(125000); got != 1 {
		t.Errorf("expected 125000 B/s = 1 Mbps, got %v", got)
	}
	if got := bytesPerSecToMbps(12500000); got != 100 {
		t.Errorf("expected 12500000 B/s = 100 Mbps, got %v", got)
	}
}

func TestNewOokla_EmptyBinary(t *testing.T) {
	if _, err := NewOokla("", newTestLogger()); err == nil {
		t.Error("expected error for empty binary")
	}
}

func TestNewOokla_InvalidTimeout(t *testing.T) {
	if _, err := NewOokla("speedtest", newTestLogger(), WithOoklaTimeout(0)); err == nil {
		t.Error("expected error for zero timeout")
	}
}

func TestOokla_Run(t *testing.T) {
	bin := fakeOoklaBin(t, ooklaFixture, 0)

	o, err := NewOokla(bin, newTestLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	report, err := o.Run(context.Background(), wire.TriggerScheduled)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.DownloadMbps != 95 {
		t.Errorf("expected 95 Mbps, got %v", report.DownloadMbps)
	}
	if report.Trigger != wire.TriggerScheduled {
		t.Errorf("expected trigger recorded, got %q", report.Trigger)
	}
}

func TestOokla_RunBinaryFails(t *testing.T) {
	bin := fakeOoklaBin(t, "no servers available", 1)

	o, err := NewOokla(bin, newTestLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := o.Run(context.Background(), wire.TriggerManual); err == nil {
		t.Error("expected error for failing binary")
	}
}

func TestOokla_RunMissingBinary(t *testing.T) {
	o, err := NewOokla(filepath.Join(t.TempDir(), "does-not-exist"), newTestLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := o.Run(context.Background(), wire.TriggerManual); err == nil {
		t.Error("expected error for missing binary")
	}
}
