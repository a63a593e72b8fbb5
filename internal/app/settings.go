package app

import (
	"fmt"
	"strings"
	"time"

	"taskbell/internal/alert"
	"taskbell/internal/clearctl"
	"taskbell/internal/config"
	"taskbell/internal/digest"
	"taskbell/internal/observability/debughttp"
	"taskbell/internal/search"
	"taskbell/internal/storage"
	"taskbell/internal/transport/ws"
	logx "taskbell/pkg/logx"
)

const defaultPagePath = "/"

func pagePath(cfg *config.Config) string {
	if p := strings.TrimSpace(cfg.Server.PagePath); p != "" {
		return p
	}
	return defaultPagePath
}

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Diagnostics: logx.DiagnosticsConfig{
			Enabled:    cfg.Logging.Diagnostics.Enabled,
			MinLevel:   cfg.Logging.Diagnostics.MinLevel,
			RatePerSec: cfg.Logging.Diagnostics.RatePerSec,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "file":
		return storage.Config{Driver: "file", Path: path, RecentLimit: sc.RecentLimit}, true, nil
	case "sqlite":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy, RecentLimit: sc.RecentLimit}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapWSConfig(cfg *config.Config) (ws.Config, error) {
	hs, err := config.ParseDurationOrDefault("server.handshake_timeout", cfg.Server.HandshakeTimeout, 10*time.Second)
	if err != nil {
		return ws.Config{}, err
	}
	minB, err := config.ParseDurationOrDefault("reconnect.min_backoff", cfg.Reconnect.MinBackoff, time.Second)
	if err != nil {
		return ws.Config{}, err
	}
	maxB, err := config.ParseDurationOrDefault("reconnect.max_backoff", cfg.Reconnect.MaxBackoff, 30*time.Second)
	if err != nil {
		return ws.Config{}, err
	}
	if maxB < minB {
		return ws.Config{}, fmt.Errorf("reconnect.max_backoff must be >= reconnect.min_backoff")
	}
	return ws.Config{
		BaseURL:          cfg.Server.BaseURL,
		Path:             cfg.Server.WSPath,
		Cookie:           cfg.Server.Cookie,
		Origin:           cfg.Server.Origin,
		HandshakeTimeout: hs,
		ReadLimit:        cfg.Server.ReadLimit,
		Reconnect: ws.ReconnectConfig{
			Enabled:     cfg.Reconnect.Enabled,
			MinBackoff:  minB,
			MaxBackoff:  maxB,
			MaxAttempts: cfg.Reconnect.MaxAttempts,
		},
	}, nil
}

func mapAlertDelay(cfg *config.Config) (time.Duration, error) {
	return config.ParseDurationOrDefault("alerts.delay", cfg.Alerts.Delay, alert.DefaultDelay)
}

// mapClearConfig merges config overrides with what the page provided.
// Config wins when set.
func mapClearConfig(cfg *config.Config, fromPage clearctl.Config) (clearctl.Config, error) {
	timeout, err := config.ParseDurationOrDefault("clear.timeout", cfg.Clear.Timeout, 10*time.Second)
	if err != nil {
		return clearctl.Config{}, err
	}
	out := clearctl.Config{
		BaseURL:    cfg.Server.BaseURL,
		TaskURL:    firstNonEmpty(cfg.Clear.TaskURL, fromPage.TaskURL),
		PayURL:     firstNonEmpty(cfg.Clear.PaymentURL, fromPage.PayURL),
		CSRFToken:  firstNonEmpty(cfg.Clear.CSRFToken, fromPage.CSRFToken),
		Timeout:    timeout,
		RatePerSec: cfg.Clear.RatePerSec,
		Burst:      cfg.Clear.Burst,
	}
	return out, nil
}

func mapSearchConfig(cfg *config.Config, pageQuery string) (search.Config, error) {
	debounce, err := config.ParseDurationOrDefault("search.debounce", cfg.Search.Debounce, search.DefaultDebounce)
	if err != nil {
		return search.Config{}, err
	}
	timeout, err := config.ParseDurationOrDefault("search.timeout", cfg.Search.Timeout, 15*time.Second)
	if err != nil {
		return search.Config{}, err
	}
	return search.Config{
		BaseURL:  cfg.Server.BaseURL,
		Path:     firstNonEmpty(cfg.Search.Path, pagePath(cfg)),
		Query:    firstNonEmpty(cfg.Search.Query, pageQuery),
		Debounce: debounce,
		Timeout:  timeout,
	}, nil
}

func mapDigestConfig(cfg *config.Config) digest.Config {
	return digest.Config{Schedule: cfg.Digest.Schedule, Timezone: cfg.Digest.Timezone}
}

func mapDebugConfig(cfg *config.Config) (debughttp.Config, error) {
	d := cfg.Debug
	rt, err := config.ParseDurationOrDefault("debug.read_timeout", d.ReadTimeout, 10*time.Second)
	if err != nil {
		return debughttp.Config{}, err
	}
	wt, err := config.ParseDurationField("debug.write_timeout", d.WriteTimeout)
	if err != nil {
		return debughttp.Config{}, err
	}
	it, err := config.ParseDurationOrDefault("debug.idle_timeout", d.IdleTimeout, 60*time.Second)
	if err != nil {
		return debughttp.Config{}, err
	}
	return debughttp.Config{
		Enabled:              d.Enabled,
		Addr:                 d.Addr,
		Prefix:               d.Prefix,
		Token:                d.Token,
		AllowInsecure:        d.AllowInsecure,
		ReadTimeout:          rt,
		WriteTimeout:         wt,
		IdleTimeout:          it,
		MutexProfileFraction: d.MutexProfileFraction,
		BlockProfileRate:     d.BlockProfileRate,
		MemProfileRate:       d.MemProfileRate,
	}, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
