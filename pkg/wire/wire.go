// Package wire defines the messages exchanged between the monitor and
// the tracker, and the client the monitor uses to deliver them. All
// messages are JSON over HTTP POST; timestamps are RFC 3339 in the
// sender's clock.
package wire

import (
	"fmt"
	"time"
)

// Monitor connectivity states carried in liveness signals.
const (
	StateOnline   = "ONLINE"
	StateDegraded = "DEGRADED"
	StateOutage   = "OUTAGE"
)

// Speed test sources.
const (
	SourceOokla   = "ookla"
	SourceTracker = "tracker"
)

// Speed test triggers.
const (
	TriggerManual     = "manual"
	TriggerDegraded   = "degraded"
	TriggerSlowRetest = "slow_retest"
	TriggerScheduled  = "scheduled"
	TriggerPostOutage = "post_outage"
)

// LivenessSignal is the periodic heartbeat of the monitor. SentAt is
// set by the sender; the tracker keeps only the newest value, using it
// both to drop replayed deliveries and as the staleness reference.
type LivenessSignal struct {
	SentAt  time.Time `json:"sent_at"`
	BootID  string    `json:"boot_id"`
	UptimeS int64     `json:"uptime_s"`
	State   string    `json:"state,omitempty"`
}

// Validate reports whether the signal carries the required fields.
func (s LivenessSignal) Validate() error {
	if s.SentAt.IsZero() {
		return fmt.Errorf("liveness signal: sent_at is required")
	}
	if s.BootID == "" {
		return fmt.Errorf("liveness signal: boot_id is required")
	}
	if s.UptimeS < 0 {
		return fmt.Errorf("liveness signal: uptime_s must not be negative")
	}
	return nil
}

// OutageReport describes one finished outage as measured by the
// monitor. OutageBootID identifies the boot during which the outage
// was observed; ReportBootID the boot at delivery time. The tracker
// treats a mismatch as a reboot mid-outage. The monitor keeps its
// outage state in memory only, so reports it produces carry the same
// value in both fields; an outage that takes the monitor down with it
// is detected on the tracker side by the heartbeat timeout and
// classified there from the boot id change.
type OutageReport struct {
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
	DurationS    int64     `json:"duration_s"`
	Targets      []string  `json:"targets,omitempty"`
	OutageBootID string    `json:"outage_boot_id,omitempty"`
	ReportBootID string    `json:"report_boot_id"`
}

// Validate reports whether the report is internally consistent.
func (r OutageReport) Validate() error {
	if r.Start.IsZero() {
		return fmt.Errorf("outage report: start is required")
	}
	if r.End.IsZero() {
		return fmt.Errorf("outage report: end is required")
	}
	if r.End.Before(r.Start) {
		return fmt.Errorf("outage report: end precedes start")
	}
	if r.DurationS < 0 {
		return fmt.Errorf("outage report: duration_s must not be negative")
	}
	if r.ReportBootID == "" {
		return fmt.Errorf("outage report: report_boot_id is required")
	}
	return nil
}

// Duration returns the measured outage duration. The monotonic
// duration_s field wins over wall-clock subtraction, which can be
// skewed by clock steps during the outage.
func (r OutageReport) Duration() time.Duration {
	if r.DurationS > 0 {
		return time.Duration(r.DurationS) * time.Second
	}
	return r.End.Sub(r.Start)
}

// SpeedTestReport carries one throughput measurement. Passed is the
// verdict against the monitor's slow threshold; the tracker treats it
// as an opaque fact rather than re-judging the rate.
type SpeedTestReport struct {
	Timestamp    time.Time `json:"timestamp"`
	DownloadMbps float64   `json:"download_mbps"`
	UploadMbps   float64   `json:"upload_mbps,omitempty"`
	PingMs       float64   `json:"ping_ms,omitempty"`
	Passed       bool      `json:"passed"`
	Source       string    `json:"source"`
	Trigger      string    `json:"trigger,omitempty"`
	BootID       string    `json:"boot_id,omitempty"`
}

// Validate reports whether the report carries the required fields.
func (r SpeedTestReport) Validate() error {
	if r.Timestamp.IsZero() {
		return fmt.Errorf("speed test report: timestamp is required")
	}
	if r.DownloadMbps < 0 {
		return fmt.Errorf("speed test report: download_mbps must not be negative")
	}
	switch r.Source {
	case SourceOokla, SourceTracker:
	default:
		return fmt.Errorf("speed test report: unknown source %q", r.Source)
	}
	return nil
}
