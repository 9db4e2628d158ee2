package probe

import (
	"fmt"
)

// MetricDef describes a single metric produced by a probe type.
type MetricDef struct {
	// ResultKey is the key used in Result.Metrics (e.g. "latency_us").
	ResultKey string

	// Column is the short machine name for the metric, used as its key
	// in status output (e.g. "latency").
	Column string

	// Label is a human-readable label for status display (e.g. "latency").
	Label string

	// Unit is the unit of measurement for display (e.g. "ms").
	Unit string

	// Scale is the divisor applied to convert the raw stored value to
	// the display unit. For example, the ICMP probe stores microseconds
	// but displays milliseconds, so Scale is 1000.
	// A value of 0 or 1 means no scaling is applied.
	Scale int
}

// Descriptor declares metadata about a probe instance, including what
// metrics it produces. Each probe instance returns its own Descriptor
// via Probe.Describe(), allowing config-dependent metric shapes (e.g.
// a dns probe with a variable number of queries).
type Descriptor struct {
	// Label is a human-readable label for the probe as a whole. If
	// empty, the first metric's Label is used. Useful when individual
	// metric labels are long or not suitable for headings (e.g. full
	// URLs).
	Label string

	// Metrics lists the metrics this probe instance produces.
	Metrics []MetricDef
}

// Validate checks the descriptor for empty or duplicate definitions.
func (d Descriptor) Validate() error {
	seen := make(map[string]bool, len(d.Metrics))
	for i, m := range d.Metrics {
		if m.ResultKey == "" {
			return fmt.Errorf("metric %d: empty result key", i)
		}
		if m.Column == "" {
			return fmt.Errorf("metric %q: empty column", m.ResultKey)
		}
		if seen[m.ResultKey] {
			return fmt.Errorf("metric %q: duplicate result key", m.ResultKey)
		}
		seen[m.ResultKey] = true
	}
	return nil
}

// Display converts a raw metric value to display units using the
// definition's Scale.
func (m MetricDef) Display(raw int64) float64 {
	if m.Scale <= 1 {
		return float64(raw)
	}
	return float64(raw) / float64(m.Scale)
}
