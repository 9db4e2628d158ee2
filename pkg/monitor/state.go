package monitor

import "time"

// Mode is the connectivity state of the monitor.
type Mode string

const (
	ModeOnline   Mode = "ONLINE"
	ModeDegraded Mode = "DEGRADED"
	ModeOutage   Mode = "OUTAGE"
)

// CycleOutcome summarizes one probe cycle across all targets. The
// cycle succeeds when any target answered; Latency is the best
// latency among the successful targets.
type CycleOutcome struct {
	Timestamp  time.Time
	Success    bool
	Latency    time.Duration
	HasLatency bool
	Failed     []string
}

// OutageSpan is one finished outage as measured locally. Duration is
// the difference of the two cycle timestamps, so when both come from
// the process clock it is monotonic and immune to wall-clock steps.
type OutageSpan struct {
	Start    time.Time
	End      time.Time
	Duration time.Duration
}

// Transition reports what one cycle changed. Outage is set when the
// cycle ended an outage.
type Transition struct {
	From   Mode
	To     Mode
	Outage *OutageSpan
}

// Changed reports whether the cycle moved the machine to a new mode.
func (t Transition) Changed() bool {
	return t.From != t.To
}

// machine is the connectivity state machine. All time flows in
// through cycle outcomes, so tests drive it with a synthetic clock.
// The outage start timestamp is set exactly while mode is OUTAGE.
type machine struct {
	mode        Mode
	enteredAt   time.Time
	outageStart time.Time
	threshold   time.Duration
	enterAfter  int
	exitAfter   int
	above       int
	below       int
}

func newMachine(threshold time.Duration, enterAfter, exitAfter int) *machine {
	if enterAfter < 1 {
		enterAfter = 1
	}
	if exitAfter < 1 {
		exitAfter = 1
	}
	return &machine{
		mode:       ModeOnline,
		threshold:  threshold,
		enterAfter: enterAfter,
		exitAfter:  exitAfter,
	}
}

// apply folds one cycle outcome into the machine and returns the
// resulting transition.
func (m *machine) apply(c CycleOutcome) Transition {
	from := m.mode

	if !c.Success {
		m.above, m.below = 0, 0
		if m.mode != ModeOutage {
			m.mode = ModeOutage
			m.enteredAt = c.Timestamp
			m.outageStart = c.Timestamp
		}
		return Transition{From: from, To: m.mode}
	}

	if m.mode == ModeOutage {
		span := &OutageSpan{
			Start:    m.outageStart,
			End:      c.Timestamp,
			Duration: c.Timestamp.Sub(m.outageStart),
		}
		if span.Duration < 0 {
			span.Duration = 0
		}
		m.mode = ModeOnline
		m.enteredAt = c.Timestamp
		m.outageStart = time.Time{}
		// The recovery cycle seeds the latency counters but never
		// chains into a DEGRADED transition in the same cycle.
		m.noteLatency(c)
		return Transition{From: from, To: m.mode, Outage: span}
	}

	m.noteLatency(c)

	switch m.mode {
	case ModeOnline:
		if m.above >= m.enterAfter {
			m.mode = ModeDegraded
			m.enteredAt = c.Timestamp
		}
	case ModeDegraded:
		if m.below >= m.exitAfter {
			m.mode = ModeOnline
			m.enteredAt = c.Timestamp
		}
	}

	return Transition{From: from, To: m.mode}
}

// noteLatency updates the consecutive above/below threshold counters.
// Successful cycles without a latency sample leave them untouched.
func (m *machine) noteLatency(c CycleOutcome) {
	if !c.HasLatency {
		return
	}
	if c.Latency > m.threshold {
		m.above++
		m.below = 0
	} else {
		m.below++
		m.above = 0
	}
}
