// Package notify delivers human-facing alerts about connectivity
// incidents. The ntfy implementation pushes messages to a topic on an
// ntfy server; Noop serves disabled setups and tests.
package notify

import "context"

// Kind names the alert types.
type Kind string

const (
	KindDown         Kind = "DOWN"
	KindRestored     Kind = "RESTORED"
	KindSlow         Kind = "SLOW"
	KindSlowResolved Kind = "SLOW_RESOLVED"
)

// PriorityHigh marks an alert that should interrupt. The zero value
// leaves the server's default priority in place.
const PriorityHigh = "high"

// Notification is one alert ready for delivery.
type Notification struct {
	Kind     Kind
	Title    string
	Message  string
	Priority string
	Tags     string
}

// Notifier sends notifications. Implementations are fire-and-forget:
// a failed delivery is reported to the caller but must never be
// retried in a way that blocks state progression.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Noop discards all notifications.
type Noop struct{}

// Notify implements Notifier.
func (Noop) Notify(context.Context, Notification) error { return nil }
