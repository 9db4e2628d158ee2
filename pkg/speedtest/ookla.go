package speedtest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kylerisse/laeuft/pkg/wire"
)

// DefaultOoklaTimeout is the time budget for one full Ookla run.
const DefaultOoklaTimeout = 2 * time.Minute

// Ookla runs the Ookla speedtest CLI and parses its JSON output.
type Ookla struct {
	bin     string
	timeout time.Duration
	logger  *logrus.Logger
}

// OoklaOption is a functional option for configuring an Ookla runner.
type OoklaOption func(*Ookla) error

// WithOoklaTimeout sets the time budget for one run.
func WithOoklaTimeout(d time.Duration) OoklaOption {
	return func(o *Ookla) error {
		if d <= 0 {
			return fmt.Errorf("timeout must be positive, got %v", d)
		}
		o.timeout = d
		return nil
	}
}

// NewOokla creates a runner for the given speedtest binary.
func NewOokla(bin string, logger *logrus.Logger, opts ...OoklaOption) (*Ookla, error) {
	if bin == "" {
		return nil, fmt.Errorf("speedtest: binary must not be empty")
	}

	o := &Ookla{
		bin:     bin,
		timeout: DefaultOoklaTimeout,
		logger:  logger,
	}

	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, fmt.Errorf("speedtest: %w", err)
		}
	}

	return o, nil
}

// Run executes the CLI and returns the parsed result.
func (o *Ookla) Run(ctx context.Context, trigger string) (wire.SpeedTestReport, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	o.logger.Debugf("running %s", o.bin)

	cmd := exec.CommandContext(ctx, o.bin, "--accept-license", "--accept-gdpr", "--progress=no", "-f", "json")

	var out, errBuf bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errBuf

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(errBuf.String())
		if detail != "" {
			return wire.SpeedTestReport{}, fmt.Errorf("run %s: %w: %s", o.bin, err, detail)
		}
		return wire.SpeedTestReport{}, fmt.Errorf("run %s: %w", o.bin, err)
	}

	report, err := parseOoklaOutput(out.Bytes())
	if err != nil {
		return wire.SpeedTestReport{}, err
	}
	report.Trigger = trigger

	o.logger.Debugf("speedtest finished: %.1f Mbps down, %.1f Mbps up, %.1f ms ping",
		report.DownloadMbps, report.UploadMbps, report.PingMs)
	return report, nil
}

// ooklaResult mirrors the relevant parts of the CLI's JSON result.
// Bandwidth values are bytes per second.
type ooklaResult struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Ping      struct {
		Latency float64 `json:"latency"`
	} `json:"ping"`
	Download struct {
		Bandwidth int64 `json:"bandwidth"`
	} `json:"download"`
	Upload struct {
		Bandwidth int64 `json:"bandwidth"`
	} `json:"upload"`
}

func parseOoklaOutput(data []byte) (wire.SpeedTestReport, error) {
	var res ooklaResult
	if err := json.Unmarshal(bytes.TrimSpace(data), &res); err != nil {
		return wire.SpeedTestReport{}, fmt.Errorf("parse speedtest output: %w", err)
	}
	if res.Type != "" && res.Type != "result" {
		return wire.SpeedTestReport{}, fmt.Errorf("unexpected speedtest output type %q", res.Type)
	}
	if res.Download.Bandwidth <= 0 {
		return wire.SpeedTestReport{}, fmt.Errorf("speedtest output has no download bandwidth")
	}

	ts := res.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	return wire.SpeedTestReport{
		Timestamp:    ts,
		DownloadMbps: bytesPerSecToMbps(res.Download.Bandwidth),
		UploadMbps:   bytesPerSecToMbps(res.Upload.Bandwidth),
		PingMs:       res.Ping.Latency,
		Source:       wire.SourceOokla,
	}, nil
}

// bytesPerSecToMbps converts the CLI's bytes-per-second bandwidth to
// megabits per second.
func bytesPerSecToMbps(b int64) float64 {
	return float64(b) * 8 / 1e6
}
