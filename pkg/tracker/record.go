// Package tracker implements the remote side of the connectivity
// watch: it receives heartbeats and reports from the monitor, detects
// outages the monitor cannot report on its own, classifies their
// cause, and serves incident history over HTTP.
package tracker

import (
	"time"

	"github.com/kylerisse/laeuft/pkg/incident"
	"github.com/kylerisse/laeuft/pkg/wire"
)

// Phase is the tracker's view of the monitored connection.
type Phase string

const (
	PhaseGrace  Phase = "STARTUP_GRACE"
	PhaseOnline Phase = "ONLINE"
	PhaseOutage Phase = "OUTAGE"
)

// window is one closed remote-observed outage.
type window struct {
	Start     time.Time
	End       time.Time
	DurationS int64
	Cause     incident.Cause
}

// overlaps reports whether the report's span touches the window.
func (w window) overlaps(start, end time.Time) bool {
	return !end.Before(w.Start) && !start.After(w.End)
}

// change describes what a record operation did. Resolved carries the
// closed window on a recovery, or the corrected window when a late
// report merged into an already-closed one.
type change struct {
	Updated     bool
	LeftGrace   bool
	Detected    bool
	OutageStart time.Time
	Resolved    *window
}

// reportDisposition says how an OutageReport was absorbed.
type reportDisposition int

const (
	reportEndsOutage reportDisposition = iota
	reportMerged
	reportStandalone
)

// record is the liveness state of the single monitored host. It is not
// safe for concurrent use; the Tracker serializes all access.
//
// Staleness is measured against the newest heartbeat send timestamp on
// record, so the remote-observed outage start is last send + timeout
// rather than whenever the background check happened to fire.
type record struct {
	timeout    time.Duration
	startedAt  time.Time
	graceUntil time.Time

	phase    Phase
	everSeen bool

	lastSentAt   time.Time
	lastSeenAt   time.Time
	bootID       string
	uptimeS      int64
	monitorState string

	// bootID on record when the current outage began. Empty when no
	// signal was ever received before the outage.
	outageBoot  string
	outageStart time.Time

	lastClosed *window
}

func newRecord(now time.Time, grace, timeout time.Duration) *record {
	return &record{
		timeout:    timeout,
		startedAt:  now,
		graceUntil: now.Add(grace),
		phase:      PhaseGrace,
	}
}

// observe applies a heartbeat. Replayed or out-of-order signals (send
// timestamp not newer than the recorded one) change nothing.
func (r *record) observe(sig wire.LivenessSignal, now time.Time) change {
	if r.everSeen && !sig.SentAt.After(r.lastSentAt) {
		return change{}
	}

	ch := change{Updated: true}
	if r.phase == PhaseOutage {
		ch.Resolved = r.closeOutage(now, 0, classifyCause(r.outageBoot, sig.BootID))
	}

	r.everSeen = true
	r.lastSentAt = sig.SentAt
	r.lastSeenAt = now
	r.bootID = sig.BootID
	r.uptimeS = sig.UptimeS
	r.monitorState = sig.State
	return ch
}

// checkStale drives the timer-based transitions: leaving the startup
// grace window and detecting a silent monitor. During grace nothing is
// ever detected, even when no signal has arrived at all.
func (r *record) checkStale(now time.Time) change {
	var ch change
	if r.phase == PhaseGrace {
		if now.Before(r.graceUntil) {
			return ch
		}
		r.phase = PhaseOnline
		ch.LeftGrace = true
	}
	if r.phase != PhaseOnline {
		return ch
	}

	ref := r.startedAt
	if r.everSeen {
		ref = r.lastSentAt
	}
	if now.Sub(ref) <= r.timeout {
		return ch
	}

	r.phase = PhaseOutage
	r.outageStart = ref.Add(r.timeout)
	r.outageBoot = r.bootID
	ch.Detected = true
	ch.OutageStart = r.outageStart
	return ch
}

// absorbReport folds a monitor-side outage report into the record.
//
// Arriving during an outage it ends it, carrying the authoritative
// duration. Arriving after a heartbeat already ended the outage it is
// matched by temporal overlap against the most recently closed window
// and corrects that window in place instead of opening a second one.
// Anything else is an outage the tracker never saw (shorter than the
// heartbeat timeout, or the tracker was down) and stands alone.
func (r *record) absorbReport(rep wire.OutageReport, now time.Time) (change, reportDisposition) {
	if r.phase == PhaseOutage {
		ch := change{Updated: true}
		ch.Resolved = r.closeOutage(now, rep.DurationS, classifyCause(r.outageBoot, rep.ReportBootID))

		// The delivered report proves the monitor is back; without
		// moving the staleness reference the next check would
		// re-detect the same outage.
		r.everSeen = true
		if rep.End.After(r.lastSentAt) {
			r.lastSentAt = rep.End
		}
		r.lastSeenAt = now
		r.bootID = rep.ReportBootID
		return ch, reportEndsOutage
	}

	if r.lastClosed != nil && r.lastClosed.overlaps(rep.Start, rep.End) {
		r.lastClosed.DurationS = rep.DurationS
		if rep.OutageBootID != "" && rep.OutageBootID != rep.ReportBootID {
			r.lastClosed.Cause = incident.CausePowerCut
		}
		w := *r.lastClosed
		return change{Updated: true, Resolved: &w}, reportMerged
	}

	// An outage the tracker never observed. Recording it as the most
	// recently closed window makes a redelivered copy merge instead of
	// standing up a second incident.
	w := window{
		Start:     rep.Start,
		End:       rep.End,
		DurationS: rep.DurationS,
		Cause:     classifyCause(rep.OutageBootID, rep.ReportBootID),
	}
	r.lastClosed = &w
	out := w
	return change{Updated: true, Resolved: &out}, reportStandalone
}

// closeOutage ends the current outage at now. durationS overrides the
// tracker-measured duration when the closer knows better (a report).
func (r *record) closeOutage(now time.Time, durationS int64, cause incident.Cause) *window {
	if durationS == 0 {
		d := now.Sub(r.outageStart)
		if d < 0 {
			d = 0
		}
		durationS = int64(d.Round(time.Second) / time.Second)
	}

	w := window{
		Start:     r.outageStart,
		End:       now,
		DurationS: durationS,
		Cause:     cause,
	}
	r.lastClosed = &w
	r.phase = PhaseOnline
	r.outageStart = time.Time{}
	r.outageBoot = ""
	return &w
}

// classifyCause compares the boot identifier on record before the
// outage against the one that ended it. A changed identifier means the
// host restarted during the gap; an unchanged one means connectivity
// alone was lost.
func classifyCause(before, after string) incident.Cause {
	switch {
	case before == "":
		return incident.CauseUnknown
	case before == after:
		return incident.CauseISPIssue
	default:
		return incident.CausePowerCut
	}
}
