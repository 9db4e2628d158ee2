package notify

import (
	"fmt"
	"time"

	"github.com/kylerisse/laeuft/pkg/incident"
)

// Down builds the alert for a detected outage.
func Down(since time.Time) Notification {
	return Notification{
		Kind:     KindDown,
		Title:    "Internet DOWN",
		Message:  fmt.Sprintf("No heartbeat since %s", since.Format("15:04:05")),
		Priority: PriorityHigh,
		Tags:     "warning,house",
	}
}

// Restored builds the alert for a resolved outage.
func Restored(duration time.Duration, cause incident.Cause) Notification {
	return Notification{
		Kind:    KindRestored,
		Title:   "Internet RESTORED",
		Message: fmt.Sprintf("Back online after %s (%s)", HumanDuration(duration), cause),
		Tags:    "white_check_mark,house",
	}
}

// Slow builds the alert for a failed speed test. The threshold lives
// on the monitor side; the report only carries the verdict.
func Slow(downloadMbps float64) Notification {
	return Notification{
		Kind:    KindSlow,
		Title:   "Internet SLOW",
		Message: fmt.Sprintf("Download down to %.1f Mbps", downloadMbps),
		Tags:    "snail,house",
	}
}

// SlowResolved builds the alert for a passing retest.
func SlowResolved(downloadMbps float64) Notification {
	return Notification{
		Kind:    KindSlowResolved,
		Title:   "Internet speed recovered",
		Message: fmt.Sprintf("Download back at %.1f Mbps", downloadMbps),
		Tags:    "white_check_mark,house",
	}
}

// HumanDuration renders a duration the way a person would say it:
// seconds under a minute, minutes under an hour, hours beyond that.
func HumanDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Round(time.Second)

	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		m := int(d.Minutes())
		s := int(d.Seconds()) - m*60
		if s == 0 {
			return fmt.Sprintf("%dm", m)
		}
		return fmt.Sprintf("%dm %ds", m, s)
	default:
		h := int(d.Hours())
		m := int(d.Minutes()) - h*60
		if m == 0 {
			return fmt.Sprintf("%dh", h)
		}
		return fmt.Sprintf("%dh %dm", h, m)
	}
}
