package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	// DefaultNtfyTimeout bounds one delivery attempt.
	DefaultNtfyTimeout = 10 * time.Second

	// Burst cap: six alerts immediately, then one per minute. A
	// flapping line must not turn into a phone that never stops
	// buzzing.
	ntfyBurst = 6
)

var ntfyRefill = rate.Every(time.Minute)

// Ntfy pushes notifications to an ntfy topic.
type Ntfy struct {
	server  string
	topic   string
	client  *http.Client
	limiter *rate.Limiter
	logger  *logrus.Logger
}

// NtfyOption adjusts an Ntfy notifier.
type NtfyOption func(*Ntfy) error

// WithNtfyTimeout sets the per-delivery timeout.
func WithNtfyTimeout(d time.Duration) NtfyOption {
	return func(n *Ntfy) error {
		if d <= 0 {
			return fmt.Errorf("timeout must be positive, got %v", d)
		}
		n.client.Timeout = d
		return nil
	}
}

// NewNtfy creates a notifier for the given server and topic. A nil
// logger discards log output.
func NewNtfy(server, topic string, logger *logrus.Logger, opts ...NtfyOption) (*Ntfy, error) {
	if server == "" {
		return nil, fmt.Errorf("ntfy server must not be empty")
	}
	if topic == "" {
		return nil, fmt.Errorf("ntfy topic must not be empty")
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}

	n := &Ntfy{
		server:  strings.TrimRight(server, "/"),
		topic:   topic,
		client:  &http.Client{Timeout: DefaultNtfyTimeout},
		limiter: rate.NewLimiter(ntfyRefill, ntfyBurst),
		logger:  logger,
	}

	for _, opt := range opts {
		if err := opt(n); err != nil {
			return nil, err
		}
	}

	return n, nil
}

// Notify implements Notifier. Notifications over the burst cap are
// dropped with a warning rather than queued.
func (n *Ntfy) Notify(ctx context.Context, notif Notification) error {
	if !n.limiter.Allow() {
		n.logger.Warnf("dropping %s notification, over the burst cap", notif.Kind)
		return nil
	}

	url := n.server + "/" + n.topic
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(notif.Message))
	if err != nil {
		return fmt.Errorf("ntfy: build request: %w", err)
	}
	if notif.Title != "" {
		req.Header.Set("Title", notif.Title)
	}
	if notif.Priority != "" {
		req.Header.Set("Priority", notif.Priority)
	}
	if notif.Tags != "" {
		req.Header.Set("Tags", notif.Tags)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("ntfy: send %s: %w", notif.Kind, err)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("ntfy: send %s: unexpected status %s", notif.Kind, resp.Status)
	}

	n.logger.Debugf("delivered %s notification to %s", notif.Kind, n.topic)
	return nil
}
