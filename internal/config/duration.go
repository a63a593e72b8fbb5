package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrDuration marks a config value that is not a usable Go duration string.
var ErrDuration = errors.New("bad duration")

// ParseDurationField parses the duration stored at key (e.g. "alerts.delay").
// Blank means unset and yields 0; negative values are rejected.
func ParseDurationField(key, raw string) (time.Duration, error) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: %w %q (want e.g. \"400ms\", \"7s\")", key, ErrDuration, raw)
	case d < 0:
		return 0, fmt.Errorf("%s: %w %q (negative)", key, ErrDuration, raw)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def substituted for
// unset or zero values.
func ParseDurationOrDefault(key, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(key, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}
