package speedtest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kylerisse/laeuft/pkg/wire"
)

// DefaultDownloadTimeout is the time budget for one download
// measurement.
const DefaultDownloadTimeout = 60 * time.Second

// Download measures throughput by pulling a fixed-size payload from
// the tracker's /speedtest endpoint. It is much cheaper than a full
// Ookla run but only measures the path to the tracker.
type Download struct {
	baseURL string
	sizeMB  int
	client  *http.Client
	logger  *logrus.Logger
}

// DownloadOption is a functional option for configuring a Download
// runner.
type DownloadOption func(*Download) error

// WithDownloadTimeout sets the time budget for one measurement.
func WithDownloadTimeout(d time.Duration) DownloadOption {
	return func(dl *Download) error {
		if d <= 0 {
			return fmt.Errorf("timeout must be positive, got %v", d)
		}
		dl.client.Timeout = d
		return nil
	}
}

// NewDownload creates a runner measuring against the given tracker URL.
func NewDownload(baseURL string, sizeMB int, logger *logrus.Logger, opts ...DownloadOption) (*Download, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("speedtest: tracker URL must not be empty")
	}
	if sizeMB < 1 {
		return nil, fmt.Errorf("speedtest: size must be at least 1 MB, got %d", sizeMB)
	}

	dl := &Download{
		baseURL: strings.TrimRight(baseURL, "/"),
		sizeMB:  sizeMB,
		client:  &http.Client{Timeout: DefaultDownloadTimeout},
		logger:  logger,
	}

	for _, opt := range opts {
		if err := opt(dl); err != nil {
			return nil, fmt.Errorf("speedtest: %w", err)
		}
	}

	return dl, nil
}

// Run downloads the payload and computes the observed rate.
func (dl *Download) Run(ctx context.Context, trigger string) (wire.SpeedTestReport, error) {
	url := fmt.Sprintf("%s/speedtest?size_mb=%d", dl.baseURL, dl.sizeMB)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return wire.SpeedTestReport{}, fmt.Errorf("download measurement: %w", err)
	}

	start := time.Now()
	resp, err := dl.client.Do(req)
	if err != nil {
		return wire.SpeedTestReport{}, fmt.Errorf("download measurement: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return wire.SpeedTestReport{}, fmt.Errorf("download measurement: unexpected status %s", resp.Status)
	}

	n, err := io.Copy(io.Discard, resp.Body)
	elapsed := time.Since(start)
	if err != nil {
		return wire.SpeedTestReport{}, fmt.Errorf("download measurement: %w", err)
	}
	if n == 0 {
		return wire.SpeedTestReport{}, fmt.Errorf("download measurement: empty payload")
	}
	if elapsed <= 0 {
		elapsed = time.Millisecond
	}

	mbps := float64(n) * 8 / elapsed.Seconds() / 1e6
	dl.logger.Debugf("downloaded %d bytes in %v (%.1f Mbps)", n, elapsed, mbps)

	return wire.SpeedTestReport{
		Timestamp:    start,
		DownloadMbps: mbps,
		Source:       wire.SourceTracker,
		Trigger:      trigger,
	}, nil
}
