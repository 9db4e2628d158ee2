// Package dns implements a DNS query probe that measures resolver
// reachability. It sends a single query to the target server and
// reports the round-trip time. An expected answer can optionally be
// configured, in which case a response that does not contain it counts
// as a failure. Supported record types are A, AAAA, and PTR.
package dns

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/kylerisse/laeuft/pkg/probe"
)

const (
	// TypeName is the registered name for this probe type.
	TypeName = "dns"

	// DefaultTimeout is the default DNS query timeout.
	DefaultTimeout = 3 * time.Second

	// DefaultQueryName is the name queried when none is configured.
	DefaultQueryName = "example.com"
)

// Desc describes the metrics produced by a DNS probe.
var Desc = probe.Descriptor{
	Label: "dns",
	Metrics: []probe.MetricDef{
		{ResultKey: probe.MetricLatencyMicros, Column: "latency", Label: "query time", Unit: "ms", Scale: 1000},
	},
}

// Probe implements probe.Probe using a DNS query to the target server.
type Probe struct {
	server  string // host:port of the DNS server under test
	name    string // query name
	qtype   uint16 // dns.TypeA, dns.TypeAAAA, dns.TypePTR
	expect  string // optional expected answer, empty means any answer
	timeout time.Duration
	client  *dns.Client
}

// Option is a functional option for configuring a DNS probe.
type Option func(*Probe) error

// WithTimeout sets the DNS query timeout.
func WithTimeout(d time.Duration) Option {
	return func(p *Probe) error {
		if d <= 0 {
			return fmt.Errorf("timeout must be positive, got %v", d)
		}
		p.timeout = d
		return nil
	}
}

// WithQuery sets the name and record type to query.
func WithQuery(name, qtypeStr string) Option {
	return func(p *Probe) error {
		if name == "" {
			return fmt.Errorf("query name must not be empty")
		}
		qtype, err := parseQType(qtypeStr)
		if err != nil {
			return err
		}
		p.name = name
		p.qtype = qtype
		return nil
	}
}

// WithExpect sets the expected answer value. When set, a response that
// does not contain the value fails the probe.
func WithExpect(expect string) Option {
	return func(p *Probe) error {
		if expect == "" {
			return fmt.Errorf("expect must not be empty")
		}
		p.expect = expect
		return nil
	}
}

// New creates a DNS probe for the given server. A bare host or IP gets
// port 53 appended.
func New(server string, opts ...Option) (*Probe, error) {
	if server == "" {
		return nil, fmt.Errorf("dns: server must not be empty")
	}

	p := &Probe{
		server:  ensurePort(server),
		name:    DefaultQueryName,
		qtype:   dns.TypeA,
		timeout: DefaultTimeout,
	}

	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, fmt.Errorf("dns: %w", err)
		}
	}

	p.client = &dns.Client{
		Timeout: p.timeout,
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

// Run sends the query and returns a Result. The query RTT is stored in
// microseconds under the standard latency key.
func (p *Probe) Run(ctx context.Context) probe.Result {
	now := time.Now()

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(p.name), p.qtype)
	msg.RecursionDesired = true

	resp, rtt, err := p.client.ExchangeContext(ctx, msg, p.server)
	if err != nil {
		return probe.Result{
			Timestamp: now,
			Success:   false,
			Metrics:   map[string]*int64{probe.MetricLatencyMicros: nil},
			Err:       fmt.Errorf("dns %s %s: %w", qtypeName(p.qtype), p.name, err),
		}
	}

	if resp.Rcode != dns.RcodeSuccess {
		return probe.Result{
			Timestamp: now,
			Success:   false,
			Metrics:   map[string]*int64{probe.MetricLatencyMicros: nil},
			Err:       fmt.Errorf("dns %s %s: rcode %s", qtypeName(p.qtype), p.name, dns.RcodeToString[resp.Rcode]),
		}
	}

	if p.expect != "" {
		if err := validateAnswer(resp.Answer, p.qtype, p.expect); err != nil {
			return probe.Result{
				Timestamp: now,
				Success:   false,
				Metrics:   map[string]*int64{probe.MetricLatencyMicros: nil},
				Err:       fmt.Errorf("dns %s %s: %w", qtypeName(p.qtype), p.name, err),
			}
		}
	}

	return probe.Result{
		Timestamp: now,
		Success:   true,
		Metrics: map[string]*int64{
			probe.MetricLatencyMicros: probe.Int64(rtt.Microseconds()),
		},
	}
}

// validateAnswer checks that at least one RR in the answer section
// matches the expected value for the given query type.
func validateAnswer(rrs []dns.RR, qtype uint16, expect string) error {
	for _, rr := range rrs {
		switch qtype {
		case dns.TypeA:
			if a, ok := rr.(*dns.A); ok {
				if normalizeIP(a.A.String()) == normalizeIP(expect) {
					return nil
				}
			}
		case dns.TypeAAAA:
			if aaaa, ok := rr.(*dns.AAAA); ok {
				if normalizeIP(aaaa.AAAA.String()) == normalizeIP(expect) {
					return nil
				}
			}
		case dns.TypePTR:
			if ptr, ok := rr.(*dns.PTR); ok {
				if normalizeFQDN(ptr.Ptr) == normalizeFQDN(expect) {
					return nil
				}
			}
		}
	}
	return fmt.Errorf("expected %q not found in answer", expect)
}

// normalizeIP parses and re-serializes an IP address string for
// comparison, handling IPv4-in-IPv6 representations and leading zeros.
func normalizeIP(s string) string {
	ip := net.ParseIP(s)
	if ip == nil {
		return s
	}
	return ip.String()
}

// normalizeFQDN strips the trailing dot so that "example.com." and
// "example.com" compare equal.
func normalizeFQDN(s string) string {
	return strings.TrimSuffix(s, ".")
}

// qtypeName returns a human-readable record type name for error messages.
func qtypeName(qtype uint16) string {
	switch qtype {
	case dns.TypeA:
		return "A"
	case dns.TypeAAAA:
		return "AAAA"
	case dns.TypePTR:
		return "PTR"
	default:
		return fmt.Sprintf("TYPE%d", qtype)
	}
}

// parseQType converts a record type string to a miekg/dns type constant.
// Supported values (case-insensitive): A, AAAA, PTR.
func parseQType(s string) (uint16, error) {
	switch strings.ToUpper(s) {
	case "A":
		return dns.TypeA, nil
	case "AAAA":
		return dns.TypeAAAA, nil
	case "PTR":
		return dns.TypePTR, nil
	default:
		return 0, fmt.Errorf("unsupported query type %q (supported: A, AAAA, PTR)", s)
	}
}

// ensurePort appends port 53 when the server string has none.
func ensurePort(server string) string {
	if _, _, err := net.SplitHostPort(server); err != nil {
		return net.JoinHostPort(server, "53")
	}
	return server
}

// Factory creates a DNS probe from a config map.
// Required key: "target" (string) — DNS server to query, port 53 assumed.
// Optional keys:
//   - "name" (string) — query name, default "example.com"
//   - "type" (string) — A, AAAA, or PTR, default "A"
//   - "expect" (string) — expected answer value
//   - "timeout" (string) — duration string (e.g. "5s"), default "3s"
func Factory(config map[string]any) (probe.Probe, error) {
	targetRaw, ok := config["target"]
	if !ok {
		return nil, fmt.Errorf("dns: config missing required key 'target'")
	}
	target, ok := targetRaw.(string)
	if !ok {
		return nil, fmt.Errorf("dns: 'target' must be a string, got %T", targetRaw)
	}

	var opts []Option

	name := DefaultQueryName
	qtypeStr := "A"
	if v, ok := config["name"]; ok {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("dns: 'name' must be a string, got %T", v)
		}
		name = s
	}
	if v, ok := config["type"]; ok {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("dns: 'type' must be a string, got %T", v)
		}
		qtypeStr = s
	}
	opts = append(opts, WithQuery(name, qtypeStr))

	if v, ok := config["expect"]; ok {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("dns: 'expect' must be a string, got %T", v)
		}
		opts = append(opts, WithExpect(s))
	}

	if v, ok := config["timeout"]; ok {
		ts, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("dns: 'timeout' must be a string, got %T", v)
		}
		d, err := time.ParseDuration(ts)
		if err != nil {
			return nil, fmt.Errorf("dns: invalid timeout %q: %w", ts, err)
		}
		opts = append(opts, WithTimeout(d))
	}

	return New(target, opts...)
}
