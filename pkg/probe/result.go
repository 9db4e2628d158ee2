package probe

import (
	"time"
)

// Result is the outcome of a single probe run. Metrics maps metric keys
// to measured values; a nil pointer means the metric could not be
// measured on this run. Err carries the failure cause when Success is
// false and may be nil on timeouts that produced no error value.
type Result struct {
	Timestamp time.Time
	Success   bool
	Metrics   map[string]*int64
	Err       error
}

// Metric returns the value for key. The second return is false when the
// key is absent or the value is unavailable.
func (r Result) Metric(key string) (int64, bool) {
	v, ok := r.Metrics[key]
	if !ok || v == nil {
		return 0, false
	}
	return *v, true
}

// Latency returns the measured round-trip latency, if any.
func (r Result) Latency() (time.Duration, bool) {
	us, ok := r.Metric(MetricLatencyMicros)
	if !ok {
		return 0, false
	}
	return time.Duration(us) * time.Microsecond, true
}

// Metric keys shared across probe implementations.
const (
	MetricLatencyMicros = "latency_us"
	MetricPacketsSent   = "packets_sent"
	MetricPacketsRecv   = "packets_recv"
	MetricLossPct       = "loss_pct"
)

// Int64 returns a pointer to v, for filling Result.Metrics.
func Int64(v int64) *int64 {
	return &v
}
