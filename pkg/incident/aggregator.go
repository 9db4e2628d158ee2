// Package incident folds the raw event stream observed by the
// liveness tracker into merged incidents. The Aggregator owns the
// open-incident set; Apply is the only mutation path and works purely
// from the timestamps carried by the events, it never reads a clock.
package incident

import (
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DefaultMergeWindow is how long after an incident resolves that a
// related event still merges into it instead of opening a new one.
const DefaultMergeWindow = 30 * time.Minute

// Sink receives incidents that have become final. An incident is
// final once its merge window has passed without related events; it
// is immutable from then on.
type Sink func(Incident)

// Aggregator merges raw events into incidents.
type Aggregator struct {
	mergeWindow time.Duration
	sink        Sink
	logger      *logrus.Logger

	mu   sync.Mutex
	open []*Incident
	last time.Time
}

// New creates an Aggregator. A nil sink drops final incidents; a
// mergeWindow of zero or less selects DefaultMergeWindow.
func New(mergeWindow time.Duration, sink Sink, logger *logrus.Logger) *Aggregator {
	if mergeWindow <= 0 {
		mergeWindow = DefaultMergeWindow
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	return &Aggregator{
		mergeWindow: mergeWindow,
		sink:        sink,
		logger:      logger,
	}
}

// Apply folds one raw event into the open-incident set. It returns a
// copy of the incident the event landed in and true, or false when
// the event changed nothing (a passing speed test with no open
// SLOW_SPEED incident). Events are expected in non-decreasing
// timestamp order; stragglers are applied best-effort against the
// current set.
func (a *Aggregator) Apply(e Event) (Incident, bool) {
	a.mu.Lock()
	if a.last.After(e.Timestamp) {
		a.logger.Debugf("event %s arrived %s behind the newest applied event", e.ID, a.last.Sub(e.Timestamp))
	} else {
		a.last = e.Timestamp
	}
	finals := a.expireLocked(e.Timestamp)

	var (
		out Incident
		ok  bool
	)
	switch e.Kind {
	case EventOutageDetected:
		out, ok = a.applyDetectedLocked(e), true
	case EventOutageResolved:
		out, ok = a.applyResolvedLocked(e), true
	case EventSpeedTest:
		out, ok = a.applySpeedLocked(e)
	default:
		a.logger.Warnf("ignoring event %s with unknown kind %q", e.ID, e.Kind)
	}
	a.mu.Unlock()

	a.emit(finals)
	return out, ok
}

// Expire finalizes resolved incidents whose merge window has passed
// as of now, handing them to the sink. It returns how many were
// finalized.
func (a *Aggregator) Expire(now time.Time) int {
	a.mu.Lock()
	finals := a.expireLocked(now)
	a.mu.Unlock()

	a.emit(finals)
	return len(finals)
}

// Snapshot returns copies of the open-incident set, oldest first.
func (a *Aggregator) Snapshot() []Incident {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]Incident, 0, len(a.open))
	for _, inc := range a.open {
		out = append(out, clone(inc))
	}
	return out
}

func (a *Aggregator) applyDetectedLocked(e Event) Incident {
	inc := a.matchLocked(KindOutage, e.Timestamp)
	if inc == nil {
		inc = &Incident{
			ID:    uuid.NewString(),
			Kind:  KindOutage,
			Cause: CauseUnknown,
			Start: e.Timestamp,
		}
		a.open = append(a.open, inc)
		a.logger.Infof("opened %s incident %s at %s", inc.Kind, inc.ID, e.Timestamp.Format(time.RFC3339))
	} else if inc.ResolvedAt != nil {
		inc.End = nil
		inc.ResolvedAt = nil
		a.logger.Infof("reopened %s incident %s", inc.Kind, inc.ID)
	}
	inc.EventIDs = append(inc.EventIDs, e.ID)
	return clone(inc)
}

func (a *Aggregator) applyResolvedLocked(e Event) Incident {
	inc := a.matchLocked(KindOutage, e.Timestamp)
	if inc == nil {
		// A resolve without a matching detection still yields a
		// closed incident, backdated by its duration.
		inc = &Incident{
			ID:    uuid.NewString(),
			Kind:  KindOutage,
			Cause: CauseUnknown,
			Start: e.Timestamp.Add(-time.Duration(e.DurationS) * time.Second),
		}
		a.open = append(a.open, inc)
		a.logger.Infof("opened %s incident %s from a bare resolve", inc.Kind, inc.ID)
	}

	end := e.Timestamp
	resolved := e.Timestamp
	inc.End = &end
	inc.ResolvedAt = &resolved
	inc.DowntimeS += e.DurationS
	if e.Cause != "" {
		inc.Cause = e.Cause
	}
	inc.EventIDs = append(inc.EventIDs, e.ID)
	a.logger.Infof("resolved %s incident %s, downtime %ds, cause %s", inc.Kind, inc.ID, inc.DowntimeS, inc.Cause)
	return clone(inc)
}

func (a *Aggregator) applySpeedLocked(e Event) (Incident, bool) {
	if e.Speed == nil {
		a.logger.Warnf("ignoring speed event %s without a result", e.ID)
		return Incident{}, false
	}
	res := *e.Speed

	if res.Passed {
		inc := a.openOfKindLocked(KindSlowSpeed)
		if inc == nil {
			return Incident{}, false
		}
		end := e.Timestamp
		resolved := e.Timestamp
		inc.End = &end
		inc.ResolvedAt = &resolved
		inc.Retest = &res
		inc.EventIDs = append(inc.EventIDs, e.ID)
		a.logger.Infof("resolved %s incident %s, retest at %.1f Mbps", inc.Kind, inc.ID, res.DownloadMbps)
		return clone(inc), true
	}

	inc := a.matchLocked(KindSlowSpeed, e.Timestamp)
	if inc == nil {
		inc = &Incident{
			ID:    uuid.NewString(),
			Kind:  KindSlowSpeed,
			Cause: CauseUnknown,
			Start: e.Timestamp,
		}
		a.open = append(a.open, inc)
		a.logger.Infof("opened %s incident %s at %.1f Mbps", inc.Kind, inc.ID, res.DownloadMbps)
	} else if inc.ResolvedAt != nil {
		inc.End = nil
		inc.ResolvedAt = nil
		a.logger.Infof("reopened %s incident %s", inc.Kind, inc.ID)
	}
	inc.Retest = &res
	inc.EventIDs = append(inc.EventIDs, e.ID)
	return clone(inc), true
}

// matchLocked returns the incident a new event of the given kind
// merges into. Only the most recent incident of the kind is
// considered: open incidents always match, resolved ones match while
// the event falls inside the merge window after their end.
func (a *Aggregator) matchLocked(kind Kind, ts time.Time) *Incident {
	for i := len(a.open) - 1; i >= 0; i-- {
		inc := a.open[i]
		if inc.Kind != kind {
			continue
		}
		if inc.ResolvedAt == nil {
			return inc
		}
		if ts.Sub(*inc.End) <= a.mergeWindow {
			return inc
		}
		return nil
	}
	return nil
}

func (a *Aggregator) openOfKindLocked(kind Kind) *Incident {
	for i := len(a.open) - 1; i >= 0; i-- {
		if a.open[i].Kind == kind && a.open[i].ResolvedAt == nil {
			return a.open[i]
		}
	}
	return nil
}

func (a *Aggregator) expireLocked(now time.Time) []Incident {
	var finals []Incident
	kept := a.open[:0]
	for _, inc := range a.open {
		if inc.ResolvedAt != nil && now.Sub(*inc.End) > a.mergeWindow {
			finals = append(finals, clone(inc))
			continue
		}
		kept = append(kept, inc)
	}
	for i := len(kept); i < len(a.open); i++ {
		a.open[i] = nil
	}
	a.open = kept
	return finals
}

func (a *Aggregator) emit(finals []Incident) {
	for _, inc := range finals {
		a.logger.Infof("finalized %s incident %s", inc.Kind, inc.ID)
		if a.sink != nil {
			a.sink(inc)
		}
	}
}
