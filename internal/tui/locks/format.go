package locks

import (
	"fmt"
	"time"
)

// FormatAge renders a duration compactly: "45s", "12m", "2h05m".
func FormatAge(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	default:
		h := int(d.Hours())
		return fmt.Sprintf("%dh%02dm", h, int(d.Minutes())-h*60)
	}
}

// FormatRemaining renders the time left until expires.
func FormatRemaining(expires, now time.Time) string {
	if expires.IsZero() {
		return "never"
	}
	if !now.Before(expires) {
		return "expired"
	}
	return FormatAge(expires.Sub(now))
}
