package incident

import (
	"time"

	"github.com/google/uuid"
)

// EventKind names the raw event types fed into the Aggregator.
type EventKind string

const (
	EventOutageDetected EventKind = "outage-detected"
	EventOutageResolved EventKind = "outage-resolved"
	EventSpeedTest      EventKind = "speed-test"
)

// Cause classifies what took the connection down.
type Cause string

const (
	CausePowerCut Cause = "POWER_CUT"
	CauseISPIssue Cause = "ISP_ISSUE"
	CauseUnknown  Cause = "UNKNOWN"
)

// SpeedResult is the speed test payload carried by speed events and
// attached to SLOW_SPEED incidents as the latest retest.
type SpeedResult struct {
	Timestamp    time.Time `json:"timestamp"`
	DownloadMbps float64   `json:"download_mbps"`
	UploadMbps   float64   `json:"upload_mbps"`
	PingMs       float64   `json:"ping_ms"`
	Passed       bool      `json:"passed"`
	Trigger      string    `json:"trigger,omitempty"`
}

// Event is one raw event. Duration and Cause are set on resolved
// events, Speed on speed test events.
type Event struct {
	ID        string       `json:"id"`
	Kind      EventKind    `json:"kind"`
	Timestamp time.Time    `json:"timestamp"`
	DurationS int64        `json:"duration_s,omitempty"`
	Cause     Cause        `json:"cause,omitempty"`
	Speed     *SpeedResult `json:"speed,omitempty"`
}

// NewOutageDetected builds a raw event marking the start of an
// observed outage.
func NewOutageDetected(ts time.Time) Event {
	return Event{
		ID:        uuid.NewString(),
		Kind:      EventOutageDetected,
		Timestamp: ts,
	}
}

// NewOutageResolved builds a raw event closing an observed outage.
// Negative durations are clamped to zero.
func NewOutageResolved(ts time.Time, duration time.Duration, cause Cause) Event {
	if duration < 0 {
		duration = 0
	}
	return Event{
		ID:        uuid.NewString(),
		Kind:      EventOutageResolved,
		Timestamp: ts,
		DurationS: int64(duration.Round(time.Second) / time.Second),
		Cause:     cause,
	}
}

// NewSpeedTest builds a raw event from a finished speed test.
func NewSpeedTest(res SpeedResult) Event {
	return Event{
		ID:        uuid.NewString(),
		Kind:      EventSpeedTest,
		Timestamp: res.Timestamp,
		Speed:     &res,
	}
}
