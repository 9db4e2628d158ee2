package incident

import "time"

// Kind names the incident types delivered to a human.
type Kind string

const (
	KindOutage    Kind = "OUTAGE"
	KindSlowSpeed Kind = "SLOW_SPEED"
)

// Incident is a merged, human-facing view over one or more raw
// events. End and ResolvedAt are nil while the incident is ongoing.
// DowntimeS sums the durations of the merged events, it is not the
// wall-clock span of the incident.
type Incident struct {
	ID         string       `json:"id"`
	Kind       Kind         `json:"kind"`
	Cause      Cause        `json:"cause"`
	Start      time.Time    `json:"start"`
	End        *time.Time   `json:"end,omitempty"`
	DowntimeS  int64        `json:"downtime_s"`
	EventIDs   []string     `json:"event_ids"`
	Retest     *SpeedResult `json:"retest,omitempty"`
	ResolvedAt *time.Time   `json:"resolved_at,omitempty"`
}

// Resolved reports whether the incident has been closed.
func (i Incident) Resolved() bool {
	return i.ResolvedAt != nil
}

func clone(inc *Incident) Incident {
	out := *inc
	out.EventIDs = append([]string(nil), inc.EventIDs...)
	if inc.End != nil {
		end := *inc.End
		out.End = &end
	}
	if inc.ResolvedAt != nil {
		ts := *inc.ResolvedAt
		out.ResolvedAt = &ts
	}
	if inc.Retest != nil {
		res := *inc.Retest
		out.Retest = &res
	}
	return out
}
