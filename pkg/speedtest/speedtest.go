// Package speedtest measures connection throughput. Two runners are
// provided: a quick download measurement against the tracker and a
// full Ookla CLI run. Triage chains them so the expensive Ookla test
// only runs when the quick measurement looks slow.
package speedtest

import (
	"context"

	"github.com/kylerisse/laeuft/pkg/wire"
)

// Runner executes one speed test.
type Runner interface {
	// Run performs the measurement. The trigger is recorded in the
	// report so downstream consumers can tell routine tests from
	// degraded-entry tests.
	Run(ctx context.Context, trigger string) (wire.SpeedTestReport, error)
}
