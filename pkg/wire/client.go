package wire

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jpillora/backoff"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultAttempts is the delivery attempt count per message.
	DefaultAttempts = 3

	// DefaultTimeout is the per-request HTTP timeout.
	DefaultTimeout = 10 * time.Second
)

// Client delivers monitor messages to the tracker. Failed deliveries
// are retried with jittered exponential backoff; HTTP 4xx responses
// are treated as permanent and not retried.
type Client struct {
	baseURL    string
	client     *http.Client
	logger     *logrus.Logger
	attempts   int
	backoffMin time.Duration
	backoffMax time.Duration
}

// ClientOption is a functional option for configuring a Client.
type ClientOption func(*Client) error

// WithTimeout sets the per-request HTTP timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d <= 0 {
			return fmt.Errorf("timeout must be positive, got %v", d)
		}
		c.client.Timeout = d
		return nil
	}
}

// WithAttempts sets the delivery attempt count per message.
func WithAttempts(n int) ClientOption {
	return func(c *Client) error {
		if n < 1 {
			return fmt.Errorf("attempts must be at least 1, got %d", n)
		}
		c.attempts = n
		return nil
	}
}

// NewClient creates a tracker client for the given base URL.
func NewClient(baseURL string, logger *logrus.Logger, opts ...ClientOption) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("wire: base URL must not be empty")
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}

	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		client:     &http.Client{Timeout: DefaultTimeout},
		logger:     logger,
		attempts:   DefaultAttempts,
		backoffMin: 500 * time.Millisecond,
		backoffMax: 5 * time.Second,
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("wire: %w", err)
		}
	}

	return c, nil
}

// SendHeartbeat delivers a liveness signal.
func (c *Client) SendHeartbeat(ctx context.Context, sig LivenessSignal) error {
	if err := sig.Validate(); err != nil {
		return err
	}
	return c.post(ctx, "/api/heartbeat", sig)
}

// SendOutageReport delivers a finished outage report.
func (c *Client) SendOutageReport(ctx context.Context, report OutageReport) error {
	if err := report.Validate(); err != nil {
		return err
	}
	return c.post(ctx, "/api/outage", report)
}

// SendSpeedTestReport delivers a throughput measurement.
func (c *Client) SendSpeedTestReport(ctx context.Context, report SpeedTestReport) error {
	if err := report.Validate(); err != nil {
		return err
	}
	return c.post(ctx, "/api/speedtest", report)
}

func (c *Client) post(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}

	bo := &backoff.Backoff{
		Min:    c.backoffMin,
		Max:    c.backoffMax,
		Factor: 2,
		Jitter: true,
	}

	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(bo.Duration()):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("post %s: %w", path, err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("post %s: %w", path, err)
			c.logger.Debugf("delivery attempt %d/%d failed: %v", attempt, c.attempts, err)
			continue
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}

		lastErr = fmt.Errorf("post %s: unexpected status %s", path, resp.Status)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return lastErr
		}
		c.logger.Debugf("delivery attempt %d/%d failed: %v", attempt, c.attempts, lastErr)
	}

	return lastErr
}
