package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDurationField parses an optional, non-negative duration. Empty is 0.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// Duration returns the parsed value or def when unset. Call Validate first;
// invalid input also yields def.
func Duration(raw string, def time.Duration) time.Duration {
	d, err := ParseDurationField("", raw)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
