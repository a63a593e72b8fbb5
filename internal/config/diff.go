package config

import (
	"reflect"
	"sort"
	"strings"

	logx "taskbell/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact sorted list of changed sections
// and (2) safe structured attrs for logging. Secrets (cookie, csrf token,
// debug token) are reported only as "_set" booleans.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 24)

	// Server (never log cookie)
	oSrv, nSrv := oldCfg.Server, newCfg.Server
	if strings.TrimSpace(oSrv.BaseURL) != strings.TrimSpace(nSrv.BaseURL) ||
		strings.TrimSpace(oSrv.PagePath) != strings.TrimSpace(nSrv.PagePath) ||
		strings.TrimSpace(oSrv.Origin) != strings.TrimSpace(nSrv.Origin) ||
		strings.TrimSpace(oSrv.WSPath) != strings.TrimSpace(nSrv.WSPath) ||
		strings.TrimSpace(oSrv.HandshakeTimeout) != strings.TrimSpace(nSrv.HandshakeTimeout) ||
		oSrv.ReadLimit != nSrv.ReadLimit ||
		oSrv.BootstrapEnabled() != nSrv.BootstrapEnabled() ||
		oSrv.Cookie != nSrv.Cookie {
		changed = append(changed, "server")
		attrs = append(attrs,
			logx.String("server.base_url", strings.TrimSpace(nSrv.BaseURL)),
			logx.String("server.ws_path", strings.TrimSpace(nSrv.WSPath)),
			logx.Bool("server.cookie_set", strings.TrimSpace(nSrv.Cookie) != ""),
			logx.Bool("server.cookie_changed", oSrv.Cookie != nSrv.Cookie),
		)
	}

	if oldCfg.Channels != newCfg.Channels {
		changed = append(changed, "channels")
		attrs = append(attrs, logx.Int("channels.feed_cap", newCfg.Channels.FeedCap))
	}

	if strings.TrimSpace(oldCfg.Alerts.Delay) != strings.TrimSpace(newCfg.Alerts.Delay) {
		changed = append(changed, "alerts")
		attrs = append(attrs, logx.String("alerts.delay", strings.TrimSpace(newCfg.Alerts.Delay)))
	}

	if oldCfg.Search != newCfg.Search {
		changed = append(changed, "search")
		attrs = append(attrs,
			logx.String("search.path", strings.TrimSpace(newCfg.Search.Path)),
			logx.String("search.debounce", strings.TrimSpace(newCfg.Search.Debounce)),
			logx.String("search.timeout", strings.TrimSpace(newCfg.Search.Timeout)),
		)
	}

	if oldCfg.Reconnect != newCfg.Reconnect {
		changed = append(changed, "reconnect")
		attrs = append(attrs,
			logx.Bool("reconnect.enabled", newCfg.Reconnect.Enabled),
			logx.Int("reconnect.max_attempts", newCfg.Reconnect.MaxAttempts),
		)
	}

	// Clear (never log csrf token)
	oc, nc := oldCfg.Clear, newCfg.Clear
	if oc != nc {
		changed = append(changed, "clear")
		attrs = append(attrs,
			logx.String("clear.task_url", strings.TrimSpace(nc.TaskURL)),
			logx.String("clear.payment_url", strings.TrimSpace(nc.PaymentURL)),
			logx.Bool("clear.csrf_token_set", strings.TrimSpace(nc.CSRFToken) != ""),
			logx.Any("clear.rate_per_sec", nc.RatePerSec),
			logx.Int("clear.burst", nc.Burst),
		)
	}

	if strings.TrimSpace(oldCfg.Digest.Schedule) != strings.TrimSpace(newCfg.Digest.Schedule) ||
		strings.TrimSpace(oldCfg.Digest.Timezone) != strings.TrimSpace(newCfg.Digest.Timezone) {
		changed = append(changed, "digest")
		attrs = append(attrs,
			logx.String("digest.schedule", strings.TrimSpace(newCfg.Digest.Schedule)),
			logx.String("digest.timezone", strings.TrimSpace(newCfg.Digest.Timezone)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.diagnostics_enabled", newCfg.Logging.Diagnostics.Enabled),
		)
	}

	// Storage. Nil means disabled.
	var oDriver, nDriver, oBusy, nBusy string
	var oPathSet, nPathSet bool
	var oLimit, nLimit int
	if s := oldCfg.Storage; s != nil {
		oDriver = strings.TrimSpace(s.Driver)
		oBusy = strings.TrimSpace(s.BusyTimeout)
		oPathSet = strings.TrimSpace(s.Path) != ""
		oLimit = s.RecentLimit
	}
	if s := newCfg.Storage; s != nil {
		nDriver = strings.TrimSpace(s.Driver)
		nBusy = strings.TrimSpace(s.BusyTimeout)
		nPathSet = strings.TrimSpace(s.Path) != ""
		nLimit = s.RecentLimit
	}
	if oDriver != nDriver || oBusy != nBusy || oPathSet != nPathSet || oLimit != nLimit {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", nDriver),
			logx.Bool("storage.path_set", nPathSet),
			logx.String("storage.busy_timeout", nBusy),
		)
	}

	// Debug server (never log token)
	od, nd := oldCfg.Debug, newCfg.Debug
	if od != nd {
		changed = append(changed, "debug")
		attrs = append(attrs,
			logx.Bool("debug.enabled", nd.Enabled),
			logx.String("debug.addr", strings.TrimSpace(nd.Addr)),
			logx.String("debug.prefix", strings.TrimSpace(nd.Prefix)),
			logx.Bool("debug.token_set", strings.TrimSpace(nd.Token) != ""),
			logx.Bool("debug.allow_insecure", nd.AllowInsecure),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// RestartRequired reports sections whose changes only take effect after a
// restart.
func RestartRequired(changed []string) []string {
	var out []string
	for _, s := range changed {
		switch s {
		case "server", "reconnect", "storage":
			out = append(out, s)
		}
	}
	return out
}
