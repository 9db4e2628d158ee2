// Package http implements an HTTP reachability probe. It issues a GET
// request to the target URL and reports the response time. Any HTTP
// status code counts as reachable; the probe measures whether the far
// side answers at all, not whether it answers well.
package http

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kylerisse/laeuft/pkg/probe"
)

const (
	// TypeName is the registered name for this probe type.
	TypeName = "http"

	// DefaultTimeout is the default HTTP request timeout.
	DefaultTimeout = 10 * time.Second
)

// Desc describes the metrics produced by an HTTP probe.
var Desc = probe.Descriptor{
	Label: "response time",
	Metrics: []probe.MetricDef{
		{ResultKey: probe.MetricLatencyMicros, Column: "latency", Label: "response time", Unit: "ms", Scale: 1000},
	},
}

// Probe implements probe.Probe using an HTTP GET request.
type Probe struct {
	url        string
	timeout    time.Duration
	skipVerify bool
	client     *http.Client
}

// Option is a functional option for configuring an HTTP probe.
type Option func(*Probe) error

// WithTimeout sets the HTTP request timeout.
func WithTimeout(d time.Duration) Option {
	return func(p *Probe) error {
		if d <= 0 {
			return fmt.Errorf("timeout must be positive, got %v", d)
		}
		p.timeout = d
		return nil
	}
}

// WithSkipVerify sets whether to skip TLS certificate verification.
func WithSkipVerify(skip bool) Option {
	return func(p *Probe) error {
		p.skipVerify = skip
		return nil
	}
}

// New creates an HTTP probe for the given URL. A target without a
// scheme is probed over https.
func New(url string, opts ...Option) (*Probe, error) {
	if url == "" {
		return nil, fmt.Errorf("http: url must not be empty")
	}
	if !strings.Contains(url, "://") {
		url = "https://" + url
	}

	p := &Probe{
		url:        url,
		timeout:    DefaultTimeout,
		skipVerify: true,
	}

	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, fmt.Errorf("http: %w", err)
		}
	}

	p.client = &http.Client{
		Timeout: p.timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: p.skipVerify},
		},
	}

	return p, nil
}

// Type returns the probe type name.
func (p *Probe) Type() string {
	return TypeName
}

// Describe reports the metrics this probe emits.
func (p *Probe) Describe() probe.Descriptor {
	return Desc
}

// Run issues the GET request and returns a Result with the response
// time in microseconds.
func (p *Probe) Run(ctx context.Context) probe.Result {
	now := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return probe.Result{
			Timestamp: now,
			Success:   false,
			Metrics:   map[string]*int64{probe.MetricLatencyMicros: nil},
			Err:       fmt.Errorf("http %s: %w", p.url, err),
		}
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	elapsed := time.Since(start)

	if err != nil {
		return probe.Result{
			Timestamp: now,
			Success:   false,
			Metrics:   map[string]*int64{probe.MetricLatencyMicros: nil},
			Err:       fmt.Errorf("http %s: %w", p.url, err),
		}
	}
	resp.Body.Close()

	return probe.Result{
		Timestamp: now,
		Success:   true,
		Metrics: map[string]*int64{
			probe.MetricLatencyMicros: probe.Int64(elapsed.Microseconds()),
		},
	}
}

// Factory creates an HTTP probe from a config map.
// Required key: "target" (string) — URL to request, https assumed when
// no scheme is given.
// Optional keys:
//   - "timeout" (string) — duration string (e.g. "10s")
//   - "skip_verify" (bool) — skip TLS cert verification (default: true)
func Factory(config map[string]any) (probe.Probe, error) {
	targetRaw, ok := config["target"]
	if !ok {
		return nil, fmt.Errorf("http: config missing required key 'target'")
	}
	target, ok := targetRaw.(string)
	if !ok {
		return nil, fmt.Errorf("http: 'target' must be a string, got %T", targetRaw)
	}

	var opts []Option

	if t, ok := config["timeout"]; ok {
		ts, ok := t.(string)
		if !ok {
			return nil, fmt.Errorf("http: 'timeout' must be a string, got %T", t)
		}
		d, err := time.ParseDuration(ts)
		if err != nil {
			return nil, fmt.Errorf("http: invalid timeout %q: %w", ts, err)
		}
		opts = append(opts, WithTimeout(d))
	}

	if v, ok := config["skip_verify"]; ok {
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("http: 'skip_verify' must be a bool, got %T", v)
		}
		opts = append(opts, WithSkipVerify(b))
	}

	return New(target, opts...)
}
