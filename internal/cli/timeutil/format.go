// Package timeutil renders durations and timestamps for CLI output.
package timeutil

import (
	"fmt"
	"strings"
	"time"
)

// LocalTimeFormat is the layout for absolute times shown to the user, in
// Go reference-time notation.
const LocalTimeFormat = "Mon Jan 2 15:04:05 2006"

// FormatUptime rewrites a Go duration string ("72h30m15s") with a day
// component ("3d 0h 30m 15s"), dropping leading units that are zero.
// Unparseable input passes through untouched.
func FormatUptime(uptime string) string {
	d, err := time.ParseDuration(uptime)
	if err != nil {
		return uptime
	}

	total := int(d.Seconds())
	days, hours := total/86400, total%86400/3600
	minutes, seconds := total%3600/60, total%60

	var b strings.Builder
	if days > 0 {
		fmt.Fprintf(&b, "%dd ", days)
	}
	if b.Len() > 0 || hours > 0 {
		fmt.Fprintf(&b, "%dh ", hours)
	}
	if b.Len() > 0 || minutes > 0 {
		fmt.Fprintf(&b, "%dm ", minutes)
	}
	fmt.Fprintf(&b, "%ds", seconds)
	return b.String()
}

// FormatTime converts an RFC3339 timestamp into the local-time layout
// above. Unparseable input passes through untouched.
func FormatTime(timestamp string) string {
	if t, err := time.Parse(time.RFC3339, timestamp); err == nil {
		return t.Local().Format(LocalTimeFormat)
	}
	return timestamp
}

// FormatAgo renders how long ago t was, coarsening with distance: seconds,
// then minutes, then hours, then the absolute local time. Zero times render
// as "never".
func FormatAgo(t time.Time) string {
	if t.IsZero() {
		return "never"
	}

	d := time.Since(t)
	switch {
	case d < time.Second:
		return "just now"
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return t.Local().Format(LocalTimeFormat)
	}
}
