package speedtest

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/kylerisse/laeuft/pkg/wire"
)

// Triage chains a quick measurement with a confirming full test. A
// quick result that clears the threshold stands on its own; a slow one
// triggers the confirm runner, whose verdict wins. Triage itself
// implements Runner, so callers schedule it like any single test.
type Triage struct {
	quick         Runner
	confirm       Runner
	thresholdMbps float64
	logger        *logrus.Logger
}

// NewTriage builds a triage chain. The quick runner may be nil, in
// which case every run goes straight to the confirm runner.
func NewTriage(quick, confirm Runner, thresholdMbps float64, logger *logrus.Logger) (*Triage, error) {
	if confirm == nil {
		return nil, fmt.Errorf("speedtest: confirm runner is required")
	}
	if thresholdMbps <= 0 {
		return nil, fmt.Errorf("speedtest: threshold must be positive, got %v", thresholdMbps)
	}

	return &Triage{
		quick:         quick,
		confirm:       confirm,
		thresholdMbps: thresholdMbps,
		logger:        logger,
	}, nil
}

// Run performs the triage measurement.
func (t *Triage) Run(ctx context.Context, trigger string) (wire.SpeedTestReport, error) {
	if t.quick == nil {
		return t.confirm.Run(ctx, trigger)
	}

	quick, err := t.quick.Run(ctx, trigger)
	if err != nil {
		t.logger.Debugf("quick measurement failed, falling back to full test: %v", err)
		return t.confirm.Run(ctx, trigger)
	}

	if quick.DownloadMbps >= t.thresholdMbps {
		return quick, nil
	}

	t.logger.Infof("quick measurement %.1f Mbps below %.1f Mbps threshold, confirming with full test",
		quick.DownloadMbps, t.thresholdMbps)

	confirm, err := t.confirm.Run(ctx, trigger)
	if err != nil {
		t.logger.Errorf("full speed test failed, keeping quick measurement: %v", err)
		return quick, nil
	}
	return confirm, nil
}
