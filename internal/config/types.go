package config

// Config is the on-disk configuration. All durations are Go duration strings
// (e.g. "400ms", "7s", "1m"); empty means the component default.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Channels  ChannelsConfig  `json:"channels,omitempty"`
	Alerts    AlertsConfig    `json:"alerts,omitempty"`
	Search    SearchConfig    `json:"search,omitempty"`
	Reconnect ReconnectConfig `json:"reconnect,omitempty"`
	Clear     ClearConfig     `json:"clear,omitempty"`
	Digest    DigestConfig    `json:"digest,omitempty"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	Debug     DebugConfig     `json:"debug,omitempty"`
}

// ServerConfig describes the web application this client talks to.
//
// Cookie carries the authenticated session (e.g. "sessionid=...") and is
// never logged.
type ServerConfig struct {
	BaseURL  string `json:"base_url"`
	PagePath string `json:"page_path,omitempty"` // default: "/"
	Cookie   string `json:"cookie,omitempty"`
	Origin   string `json:"origin,omitempty"` // default: derived from base_url
	WSPath   string `json:"ws_path,omitempty"` // default: "/ws/notifications/"

	HandshakeTimeout string `json:"handshake_timeout,omitempty"`
	ReadLimit        int64  `json:"read_limit,omitempty"`
	// Bootstrap fetches page_path at startup to seed badges, feeds, the CSRF
	// token and clear URLs. Defaults to true when omitted.
	Bootstrap *bool `json:"bootstrap,omitempty"`
}

type ChannelsConfig struct {
	// FeedCap bounds entries kept per channel. 0 keeps everything.
	FeedCap int `json:"feed_cap,omitempty"`
}

type AlertsConfig struct {
	Delay string `json:"delay,omitempty"` // default: "7s"
}

type SearchConfig struct {
	Path     string `json:"path,omitempty"`  // default: server.page_path
	Query    string `json:"query,omitempty"` // initial params, without '?'
	Debounce string `json:"debounce,omitempty"`
	Timeout  string `json:"timeout,omitempty"`
}

// ReconnectConfig controls the socket restart loop. Disabled by default: a
// dropped socket stays down until restart.
type ReconnectConfig struct {
	Enabled     bool   `json:"enabled"`
	MinBackoff  string `json:"min_backoff,omitempty"`
	MaxBackoff  string `json:"max_backoff,omitempty"`
	MaxAttempts int    `json:"max_attempts,omitempty"`
}

// ClearConfig overrides clear endpoints and throttling. URLs and the CSRF
// token found on the page are used when these are empty.
type ClearConfig struct {
	TaskURL    string  `json:"task_url,omitempty"`
	PaymentURL string  `json:"payment_url,omitempty"`
	CSRFToken  string  `json:"csrf_token,omitempty"`
	Timeout    string  `json:"timeout,omitempty"`
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
	Burst      int     `json:"burst,omitempty"`
}

type DigestConfig struct {
	Schedule string `json:"schedule,omitempty"` // cron spec or descriptor; empty disables
	Timezone string `json:"timezone,omitempty"`
}

type LoggingConfig struct {
	Level       string             `json:"level"`
	Console     bool               `json:"console"`
	File        LoggingFile        `json:"file"`
	Diagnostics LoggingDiagnostics `json:"diagnostics,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingDiagnostics forwards WARN+ entries to the status endpoint.
type LoggingDiagnostics struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// StorageConfig controls the optional audit log.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./taskbell.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
	RecentLimit int    `json:"recent_limit,omitempty"`
}

// DebugConfig controls the debug HTTP server (/healthz, /metrics, /status,
// pprof).
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:6060").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type DebugConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`   // default: "127.0.0.1:6060"
	Prefix        string `json:"prefix,omitempty"` // pprof prefix, default: "/debug/pprof/"
	Token         string `json:"token,omitempty"`  // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	// WriteTimeout defaults to 0 (disabled) so /profile works.
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int `json:"block_profile_rate,omitempty"`
	MemProfileRate       int `json:"mem_profile_rate,omitempty"`
}

// BootstrapEnabled reports whether the page should be fetched at startup.
func (s ServerConfig) BootstrapEnabled() bool {
	return s.Bootstrap == nil || *s.Bootstrap
}
