// Package icmp implements an ICMP echo probe for the probe framework.
//
// It sends a burst of echo requests using the pro-bing library and
// reports round-trip latency and packet statistics. The probe first
// tries unprivileged UDP mode and falls back to raw sockets when the
// unprivileged run fails.
package icmp

import (
	"context"
	"fmt"
	"math"
	"time"

	probing "github.com/prometheus-community/pro-bing"

	"github.com/kylerisse/laeuft/pkg/probe"
)

const (
	// TypeName is the registered name for this probe type.
	TypeName = "icmp"

	// DefaultTimeout is the default time budget for one probe run.
	DefaultTimeout = 5 * time.Second

	// DefaultCount is the default number of echo requests per run.
	DefaultCount = 3

	// packetInterval is the pause between echo requests within a run.
	packetInterval = 100 * time.Millisecond
)

// Desc describes the metrics produced by an ICMP probe.
var Desc = probe.Descriptor{
	Label: "icmp",
	Metrics: []probe.MetricDef{
		{ResultKey: probe.MetricLatencyMicros, Column: "latency", Label: "latency", Unit: "ms", Scale: 1000},
		{ResultKey: probe.MetricPacketsSent, Column: "packets_sent", Label: "packets sent", Unit: "", Scale: 1},
		{ResultKey: probe.MetricPacketsRecv, Column: "packets_recv", Label: "packets received", Unit: "", Scale: 1},
		{ResultKey: probe.MetricLossPct, Column: "loss", Label: "packet loss", Unit: "%", Scale: 1},
	},
}

// Probe implements probe.Probe using ICMP echo requests.
type Probe struct {
	target  string
	timeout time.Duration
	count   int
}

// New creates an ICMP probe for the given target.
func New(target string, opts ...Option) (*Probe, error) {
	if target == "" {
		return nil, fmt.Errorf("icmp: target must not be empty")
	}

	p := &Probe{
		target:  target,
		timeout: DefaultTimeout,
		count:   DefaultCount,
	}

	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, fmt.Errorf("icmp: %w", err)
		}
	}

	return p, nil
}

// Option is a functional option for configuring an ICMP probe.
type Option func(*Probe) error

// WithTimeout sets the time budget for one probe run.
func WithTimeout(d time.Duration) Option {
	return func(p *Probe) error {
		if d <= 0 {
			return fmt.Errorf("timeout must be positive, got %v", d)
		}
		p.timeout = d
		return nil
	}
}

// WithCount sets the number of echo requests per run.
func WithCount(n int) Option {
	return func(p *Probe) error {
		if n < 1 {
			return fmt.Errorf("count must be at least 1, got %d", n)
		}
		p.count = n
		return nil
	}
}

// Type returns the probe type name.
func (p *Probe) Type() string {
	return TypeName
}

// Describe reports the metrics this probe emits.
func (p *Probe) Describe() probe.Descriptor {
	return Desc
}

// Run sends the echo burst and returns a Result. The run succeeds when
// at least one reply arrives; latency is the average round-trip time of
// the replies that did.
func (p *Probe) Run(ctx context.Context) probe.Result {
	now := time.Now()

	pinger, err := probing.NewPinger(p.target)
	if err != nil {
		return probe.Result{
			Timestamp: now,
			Success:   false,
			Err:       fmt.Errorf("icmp %s: %w", p.target, err),
		}
	}

	pinger.Count = p.count
	pinger.Timeout = p.timeout
	pinger.Interval = packetInterval

	pinger.SetPrivileged(false)
	err = pinger.RunWithContext(ctx)
	if err != nil {
		pinger.SetPrivileged(true)
		err = pinger.RunWithContext(ctx)
		if err != nil {
			return probe.Result{
				Timestamp: now,
				Success:   false,
				Err:       fmt.Errorf("icmp %s: %w", p.target, err),
			}
		}
	}

	stats := pinger.Statistics()

	metrics := map[string]*int64{
		probe.MetricPacketsSent:   probe.Int64(int64(stats.PacketsSent)),
		probe.MetricPacketsRecv:   probe.Int64(int64(stats.PacketsRecv)),
		probe.MetricLossPct:       probe.Int64(lossPercent(stats.PacketLoss)),
		probe.MetricLatencyMicros: nil,
	}

	if stats.PacketsRecv == 0 {
		return probe.Result{
			Timestamp: now,
			Success:   false,
			Metrics:   metrics,
			Err:       fmt.Errorf("icmp %s: all %d echo requests timed out", p.target, p.count),
		}
	}

	metrics[probe.MetricLatencyMicros] = probe.Int64(stats.AvgRtt.Microseconds())

	return probe.Result{
		Timestamp: now,
		Success:   true,
		Metrics:   metrics,
	}
}

// lossPercent rounds pro-bing's fractional loss percentage to the
// nearest whole percent. A bare int64 conversion truncates, recording
// 66.7% as 66 and anything under 1% as 0.
func lossPercent(pct float64) int64 {
	return int64(math.Round(pct))
}

// Factory creates an ICMP probe from a config map.
// Required key: "target" (string).
// Optional keys: "timeout" (duration string), "count" (number).
func Factory(config map[string]any) (probe.Probe, error) {
	target, ok := config["target"]
	if !ok {
		return nil, fmt.Errorf("icmp: config missing required key 'target'")
	}
	targetStr, ok := target.(string)
	if !ok {
		return nil, fmt.Errorf("icmp: 'target' must be a string, got %T", target)
	}

	var opts []Option

	if v, ok := config["timeout"]; ok {
		switch t := v.(type) {
		case string:
			d, err := time.ParseDuration(t)
			if err != nil {
				return nil, fmt.Errorf("icmp: invalid timeout %q: %w", t, err)
			}
			opts = append(opts, WithTimeout(d))
		case time.Duration:
			opts = append(opts, WithTimeout(t))
		default:
			return nil, fmt.Errorf("icmp: 'timeout' must be a duration, got %T", v)
		}
	}

	if v, ok := config["count"]; ok {
		switch c := v.(type) {
		case int:
			opts = append(opts, WithCount(c))
		case float64:
			opts = append(opts, WithCount(int(c)))
		default:
			return nil, fmt.Errorf("icmp: 'count' must be a number, got %T", v)
		}
	}

	return New(targetStr, opts...)
}
