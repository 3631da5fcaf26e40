package directory

import (
	"fmt"
	"math"
	"strings"
	"time"
)

var relativeUnits = []struct {
	seconds float64
	name    string
}{
	{365 * 24 * 3600, "year"},
	{30 * 24 * 3600, "month"},
	{7 * 24 * 3600, "week"},
	{24 * 3600, "day"},
	{3600, "hour"},
	{60, "minute"},
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
}

func parseTimestamp(value string) (time.Time, bool) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	if t, err := time.Parse("2006-01-02", value); err == nil {
		return t, true
	}
	return time.Time{}, false
}

// RelativeTime renders value against now as "just now", "3 hours ago" or
// "in 2 days". Values without a zone are taken as UTC. Unparseable or empty
// values give def.
func RelativeTime(value string, now time.Time, def string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return def
	}
	t, ok := parseTimestamp(value)
	if !ok {
		return def
	}

	seconds := now.Sub(t).Seconds()
	if math.Abs(seconds) < 60 {
		return "just now"
	}
	future := seconds < 0
	seconds = math.Abs(seconds)

	for _, u := range relativeUnits {
		if seconds < u.seconds {
			continue
		}
		n := int(seconds / u.seconds)
		text := fmt.Sprintf("%d %s", n, u.name)
		if n != 1 {
			text += "s"
		}
		if future {
			return "in " + text
		}
		return text + " ago"
	}
	return def
}
