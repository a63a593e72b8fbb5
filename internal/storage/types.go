package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	// RecentLimit bounds how many entries the file driver keeps in memory
	// for RecentAudit. 0 means 100.
	RecentLimit int
}

// AuditEntry records one server-facing action (a clear or a search).
// Keep it compact and schema-stable.
type AuditEntry struct {
	At      time.Time `json:"at"`
	Action  string    `json:"action"`
	Channel string    `json:"channel,omitempty"`
	Target  string    `json:"target"`
	OK      bool      `json:"ok"`
	Status  int       `json:"status,omitempty"`
	Error   string    `json:"error,omitempty"`
	TookMS  int64     `json:"took_ms"`
}
