package incident

import (
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// sinkRecorder collects finalized incidents.
type sinkRecorder struct {
	finals []Incident
}

func (s *sinkRecorder) sink(inc Incident) {
	s.finals = append(s.finals, inc)
}

var testBase = time.Date(2026, 4, 2, 12, 0, 0, 0, time.UTC)

func at(offset time.Duration) time.Time {
	return testBase.Add(offset)
}

// --- outage incident tests ---

func TestApply_DetectedOpensIncident(t *testing.T) {
	a := New(DefaultMergeWindow, nil, newTestLogger())

	inc, ok := a.Apply(NewOutageDetected(at(0)))
	if !ok {
		t.Fatal("expected Apply to report a change")
	}
	if inc.Kind != KindOutage {
		t.Errorf("expected kind %s, got %s", KindOutage, inc.Kind)
	}
	if inc.ID == "" {
		t.Error("expected incident id to be set")
	}
	if !inc.Start.Equal(at(0)) {
		t.Errorf("expected start %v, got %v", at(0), inc.Start)
	}
	if inc.Resolved() {
		t.Error("expected incident to be open")
	}
	if inc.Cause != CauseUnknown {
		t.Errorf("expected cause %s before resolution, got %s", CauseUnknown, inc.Cause)
	}
	if len(a.Snapshot()) != 1 {
		t.Errorf("expected 1 open incident, got %d", len(a.Snapshot()))
	}
}

func TestApply_ResolvedClosesIncident(t *testing.T) {
	a := New(DefaultMergeWindow, nil, newTestLogger())

	a.Apply(NewOutageDetected(at(0)))
	inc, ok := a.Apply(NewOutageResolved(at(2*time.Minute), 2*time.Minute, CauseISPIssue))
	if !ok {
		t.Fatal("expected Apply to report a change")
	}

	if !inc.Resolved() {
		t.Fatal("expected incident to be resolved")
	}
	if !inc.End.Equal(at(2 * time.Minute)) {
		t.Errorf("expected end %v, got %v", at(2*time.Minute), *inc.End)
	}
	if inc.DowntimeS != 120 {
		t.Errorf("expected downtime 120s, got %d", inc.DowntimeS)
	}
	if inc.Cause != CauseISPIssue {
		t.Errorf("expected cause %s, got %s", CauseISPIssue, inc.Cause)
	}
	if len(inc.EventIDs) != 2 {
		t.Errorf("expected 2 merged events, got %d", len(inc.EventIDs))
	}
}

func TestApply_MergesWithinWindow(t *testing.T) {
	a := New(DefaultMergeWindow, nil, newTestLogger())

	first, _ := a.Apply(NewOutageDetected(at(0)))
	a.Apply(NewOutageResolved(at(2*time.Minute), 2*time.Minute, CauseISPIssue))

	// Second blip 10 minutes after the first resolved.
	a.Apply(NewOutageDetected(at(12 * time.Minute)))
	merged, _ := a.Apply(NewOutageResolved(at(14*time.Minute), 2*time.Minute, CauseISPIssue))

	if merged.ID != first.ID {
		t.Fatalf("expected the blips to merge into one incident, got %s and %s", first.ID, merged.ID)
	}
	if merged.DowntimeS != 240 {
		t.Errorf("expected summed downtime 240s, got %d", merged.DowntimeS)
	}
	if len(merged.EventIDs) != 4 {
		t.Errorf("expected 4 merged events, got %d", len(merged.EventIDs))
	}
	if snaps := a.Snapshot(); len(snaps) != 1 {
		t.Errorf("expected 1 incident, got %d", len(snaps))
	}
}

func TestApply_SeparateIncidentsBeyondWindow(t *testing.T) {
	rec := &sinkRecorder{}
	a := New(DefaultMergeWindow, rec.sink, newTestLogger())

	first, _ := a.Apply(NewOutageDetected(at(0)))
	a.Apply(NewOutageResolved(at(2*time.Minute), 2*time.Minute, CauseISPIssue))

	// Next outage starts 40 minutes after the first resolved.
	second, _ := a.Apply(NewOutageDetected(at(42 * time.Minute)))

	if second.ID == first.ID {
		t.Fatal("expected a new incident beyond the merge window")
	}
	if len(rec.finals) != 1 {
		t.Fatalf("expected the first incident to be finalized, got %d finals", len(rec.finals))
	}
	if rec.finals[0].ID != first.ID {
		t.Errorf("expected final incident %s, got %s", first.ID, rec.finals[0].ID)
	}
	if rec.finals[0].DowntimeS != 120 {
		t.Errorf("expected final downtime 120s, got %d", rec.finals[0].DowntimeS)
	}
	if snaps := a.Snapshot(); len(snaps) != 1 {
		t.Errorf("expected only the new incident open, got %d", len(snaps))
	}
}

func TestApply_ReopenClearsResolvedAt(t *testing.T) {
	a := New(DefaultMergeWindow, nil, newTestLogger())

	a.Apply(NewOutageDetected(at(0)))
	a.Apply(NewOutageResolved(at(2*time.Minute), 2*time.Minute, CauseISPIssue))

	reopened, _ := a.Apply(NewOutageDetected(at(10 * time.Minute)))
	if reopened.Resolved() {
		t.Error("expected reopened incident to be unresolved")
	}
	if reopened.End != nil {
		t.Errorf("expected end to be cleared, got %v", *reopened.End)
	}
	if reopened.DowntimeS != 120 {
		t.Errorf("expected downtime to survive reopening, got %d", reopened.DowntimeS)
	}
}

func TestApply_LatestCauseWins(t *testing.T) {
	a := New(DefaultMergeWindow, nil, newTestLogger())

	a.Apply(NewOutageDetected(at(0)))
	a.Apply(NewOutageResolved(at(time.Minute), time.Minute, CauseUnknown))
	a.Apply(NewOutageDetected(at(5 * time.Minute)))
	inc, _ := a.Apply(NewOutageResolved(at(6*time.Minute), time.Minute, CausePowerCut))

	if inc.Cause != CausePowerCut {
		t.Errorf("expected later classification %s to win, got %s", CausePowerCut, inc.Cause)
	}
}

func TestApply_BareResolveBackdatesStart(t *testing.T) {
	a := New(DefaultMergeWindow, nil, newTestLogger())

	inc, ok := a.Apply(NewOutageResolved(at(10*time.Minute), 3*time.Minute, CauseISPIssue))
	if !ok {
		t.Fatal("expected Apply to report a change")
	}
	if !inc.Start.Equal(at(7 * time.Minute)) {
		t.Errorf("expected backdated start %v, got %v", at(7*time.Minute), inc.Start)
	}
	if !inc.Resolved() {
		t.Error("expected incident to be resolved immediately")
	}
}

// --- slow speed incident tests ---

func failingSpeed(ts time.Time) SpeedResult {
	return SpeedResult{Timestamp: ts, DownloadMbps: 12.5, UploadMbps: 4.1, PingMs: 48, Passed: false}
}

func passingSpeed(ts time.Time) SpeedResult {
	return SpeedResult{Timestamp: ts, DownloadMbps: 96.3, UploadMbps: 19.8, PingMs: 11, Passed: true}
}

func TestApply_FailingSpeedTestOpensSlowIncident(t *testing.T) {
	a := New(DefaultMergeWindow, nil, newTestLogger())

	inc, ok := a.Apply(NewSpeedTest(failingSpeed(at(0))))
	if !ok {
		t.Fatal("expected Apply to report a change")
	}
	if inc.Kind != KindSlowSpeed {
		t.Errorf("expected kind %s, got %s", KindSlowSpeed, inc.Kind)
	}
	if inc.Retest == nil || inc.Retest.DownloadMbps != 12.5 {
		t.Errorf("expected failing result attached as retest, got %+v", inc.Retest)
	}
	if inc.Resolved() {
		t.Error("expected incident to be open")
	}
}

func TestApply_PassingRetestClosesSlowIncident(t *testing.T) {
	a := New(DefaultMergeWindow, nil, newTestLogger())

	opened, _ := a.Apply(NewSpeedTest(failingSpeed(at(0))))
	closed, ok := a.Apply(NewSpeedTest(passingSpeed(at(5 * time.Minute))))
	if !ok {
		t.Fatal("expected Apply to report a change")
	}

	if closed.ID != opened.ID {
		t.Errorf("expected retest to close incident %s, got %s", opened.ID, closed.ID)
	}
	if !closed.Resolved() {
		t.Error("expected incident to be resolved")
	}
	if closed.Retest == nil || !closed.Retest.Passed {
		t.Errorf("expected passing retest attached, got %+v", closed.Retest)
	}
}

func TestApply_PassingSpeedTestWithoutIncident(t *testing.T) {
	a := New(DefaultMergeWindow, nil, newTestLogger())

	_, ok := a.Apply(NewSpeedTest(passingSpeed(at(0))))
	if ok {
		t.Error("expected a passing test without an open incident to be a no-op")
	}
	if len(a.Snapshot()) != 0 {
		t.Errorf("expected no incidents, got %d", len(a.Snapshot()))
	}
}

func TestApply_FailingRetestReplacesLatest(t *testing.T) {
	a := New(DefaultMergeWindow, nil, newTestLogger())

	a.Apply(NewSpeedTest(failingSpeed(at(0))))
	later := failingSpeed(at(10 * time.Minute))
	later.DownloadMbps = 18.2
	inc, _ := a.Apply(NewSpeedTest(later))

	if inc.Retest == nil || inc.Retest.DownloadMbps != 18.2 {
		t.Errorf("expected latest retest attached, got %+v", inc.Retest)
	}
	if len(inc.EventIDs) != 2 {
		t.Errorf("expected 2 merged events, got %d", len(inc.EventIDs))
	}
}

func TestApply_SpeedEventWithoutResult(t *testing.T) {
	a := New(DefaultMergeWindow, nil, newTestLogger())

	_, ok := a.Apply(Event{ID: "x", Kind: EventSpeedTest, Timestamp: at(0)})
	if ok {
		t.Error("expected a speed event without a payload to be ignored")
	}
}

// --- expiry and snapshot tests ---

func TestExpire_FinalizesResolvedIncidents(t *testing.T) {
	rec := &sinkRecorder{}
	a := New(DefaultMergeWindow, rec.sink, newTestLogger())

	a.Apply(NewOutageDetected(at(0)))
	a.Apply(NewOutageResolved(at(time.Minute), time.Minute, CauseISPIssue))

	if n := a.Expire(at(10 * time.Minute)); n != 0 {
		t.Errorf("expected nothing to expire inside the window, got %d", n)
	}
	if n := a.Expire(at(time.Hour)); n != 1 {
		t.Errorf("expected 1 incident to expire, got %d", n)
	}
	if len(rec.finals) != 1 {
		t.Fatalf("expected 1 final incident, got %d", len(rec.finals))
	}
	if len(a.Snapshot()) != 0 {
		t.Errorf("expected open set to be empty, got %d", len(a.Snapshot()))
	}
}

func TestExpire_KeepsOpenIncidents(t *testing.T) {
	a := New(DefaultMergeWindow, nil, newTestLogger())

	a.Apply(NewOutageDetected(at(0)))
	if n := a.Expire(at(24 * time.Hour)); n != 0 {
		t.Errorf("expected open incidents to survive expiry, got %d finalized", n)
	}
	if len(a.Snapshot()) != 1 {
		t.Errorf("expected 1 open incident, got %d", len(a.Snapshot()))
	}
}

func TestSnapshot_CopiesAreIsolated(t *testing.T) {
	a := New(DefaultMergeWindow, nil, newTestLogger())

	a.Apply(NewOutageDetected(at(0)))
	a.Apply(NewOutageResolved(at(time.Minute), time.Minute, CauseISPIssue))

	snap := a.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("expected 1 incident, got %d", len(snap))
	}
	snap[0].EventIDs[0] = "tampered"
	*snap[0].End = at(99 * time.Hour)
	snap[0].DowntimeS = 9999

	fresh := a.Snapshot()
	if fresh[0].EventIDs[0] == "tampered" {
		t.Error("mutating a snapshot leaked into the aggregator")
	}
	if fresh[0].End.Equal(at(99 * time.Hour)) {
		t.Error("mutating a snapshot end time leaked into the aggregator")
	}
	if fresh[0].DowntimeS != 60 {
		t.Errorf("expected downtime 60s, got %d", fresh[0].DowntimeS)
	}
}

// --- event constructor tests ---

func TestNewOutageResolved_ClampsNegativeDuration(t *testing.T) {
	e := NewOutageResolved(at(0), -5*time.Second, CauseUnknown)
	if e.DurationS != 0 {
		t.Errorf("expected negative duration clamped to 0, got %d", e.DurationS)
	}
}

func TestEventConstructors_UniqueIDs(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 10; i++ {
		e := NewOutageDetected(at(0))
		if e.ID == "" {
			t.Fatal("expected event id to be set")
		}
		if seen[e.ID] {
			t.Fatalf("duplicate event id %s", e.ID)
		}
		seen[e.ID] = true
	}
}
