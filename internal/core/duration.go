package core

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

var isoDurationPattern = regexp.MustCompile(`^P(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+(?:\.\d+)?)S)?)?$`)

// ParseISO8601Duration parses an ISO 8601 duration string such as PT1S,
// PT5M, PT1H30M or P7D. Zero durations are rejected.
func ParseISO8601Duration(s string) (time.Duration, error) {
	matches := isoDurationPattern.FindStringSubmatch(s)
	if matches == nil || s == "P" || s == "PT" {
		return 0, fmt.Errorf("invalid ISO 8601 duration: %q", s)
	}

	var d time.Duration
	if matches[1] != "" {
		days, _ := strconv.Atoi(matches[1])
		d += time.Duration(days) * 24 * time.Hour
	}
	if matches[2] != "" {
		h, _ := strconv.Atoi(matches[2])
		d += time.Duration(h) * time.Hour
	}
	if matches[3] != "" {
		m, _ := strconv.Atoi(matches[3])
		d += time.Duration(m) * time.Minute
	}
	if matches[4] != "" {
		secs, _ := strconv.ParseFloat(matches[4], 64)
		d += time.Duration(secs * float64(time.Second))
	}

	if d == 0 {
		return 0, fmt.Errorf("invalid ISO 8601 duration: %q (zero duration)", s)
	}
	return d, nil
}

// FormatISO8601Duration formats a duration in the PT form. Whole days are
// folded into hours so the output always round-trips.
func FormatISO8601Duration(d time.Duration) string {
	if d <= 0 {
		return "PT0S"
	}

	hours := int64(d / time.Hour)
	d -= time.Duration(hours) * time.Hour
	minutes := int64(d / time.Minute)
	d -= time.Duration(minutes) * time.Minute
	seconds := d.Seconds()

	result := "PT"
	if hours > 0 {
		result += fmt.Sprintf("%dH", hours)
	}
	if minutes > 0 {
		result += fmt.Sprintf("%dM", minutes)
	}
	if seconds > 0 {
		if seconds == float64(int64(seconds)) {
			result += fmt.Sprintf("%dS", int64(seconds))
		} else {
			result += fmt.Sprintf("%.3fS", seconds)
		}
	}
	return result
}
