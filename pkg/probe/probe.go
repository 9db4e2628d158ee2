// Package probe defines the connectivity probe framework. A probe runs a
// single reachability test against one target and reports a Result with
// per-metric measurements. Concrete implementations live in subpackages
// and register themselves with a Registry at startup.
package probe

import (
	"context"
)

// Probe is a single connectivity test against one target.
// Implementations must be safe for repeated Run calls from one goroutine.
type Probe interface {
	// Type returns the probe type name, e.g. "icmp" or "dns".
	Type() string

	// Run executes the probe once. It must honor ctx cancellation and
	// never panic; failures are reported through the Result.
	Run(ctx context.Context) Result

	// Describe reports the metrics this probe emits.
	Describe() Descriptor
}
