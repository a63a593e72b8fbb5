package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var ErrInvalid = errors.New("invalid config")

// Validate checks structural rules that do not depend on runtime state.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: config is nil", ErrInvalid)
	}
	var errs []error

	base := strings.TrimSpace(cfg.Server.BaseURL)
	if base == "" {
		errs = append(errs, errors.New("server.base_url is required"))
	} else if u, err := url.Parse(base); err != nil || u.Host == "" {
		errs = append(errs, fmt.Errorf("server.base_url: invalid url %q", base))
	} else if s := strings.ToLower(u.Scheme); s != "http" && s != "https" {
		errs = append(errs, fmt.Errorf("server.base_url: scheme must be http or https, got %q", u.Scheme))
	}
	if cfg.Server.ReadLimit < 0 {
		errs = append(errs, errors.New("server.read_limit must be >= 0"))
	}
	if cfg.Channels.FeedCap < 0 {
		errs = append(errs, errors.New("channels.feed_cap must be >= 0"))
	}
	if cfg.Reconnect.MaxAttempts < 0 {
		errs = append(errs, errors.New("reconnect.max_attempts must be >= 0"))
	}
	if cfg.Clear.RatePerSec < 0 || cfg.Clear.Burst < 0 {
		errs = append(errs, errors.New("clear.rate_per_sec and clear.burst must be >= 0"))
	}

	durations := []struct{ path, raw string }{
		{"server.handshake_timeout", cfg.Server.HandshakeTimeout},
		{"alerts.delay", cfg.Alerts.Delay},
		{"search.debounce", cfg.Search.Debounce},
		{"search.timeout", cfg.Search.Timeout},
		{"reconnect.min_backoff", cfg.Reconnect.MinBackoff},
		{"reconnect.max_backoff", cfg.Reconnect.MaxBackoff},
		{"clear.timeout", cfg.Clear.Timeout},
		{"debug.read_timeout", cfg.Debug.ReadTimeout},
		{"debug.write_timeout", cfg.Debug.WriteTimeout},
		{"debug.idle_timeout", cfg.Debug.IdleTimeout},
	}
	if cfg.Storage != nil {
		durations = append(durations, struct{ path, raw string }{"storage.busy_timeout", cfg.Storage.BusyTimeout})
	}
	for _, d := range durations {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			errs = append(errs, err)
		}
	}

	if cfg.Storage != nil {
		switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
		case "", "none", "file", "sqlite":
		default:
			errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}
