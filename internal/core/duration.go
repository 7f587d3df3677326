package core

import (
	"fmt"
	"strings"
	"time"
)

// Durations in the config file are Go duration strings ("3h", "90s").
// parseDurationField validates one; path names the config key for the error
// message (e.g. "check.interval"). Empty input is not an error and yields 0
// so callers can substitute their own default.
func parseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	case d < 0:
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// parseDurationOrDefault is parseDurationField with a fallback for unset
// fields. Used for the optional knobs (training.timeout, storage.busy_timeout)
// where zero means "use the built-in default".
func parseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := parseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}
