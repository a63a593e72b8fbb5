package app

import (
	"context"
	"sync"
	"time"

	"taskbell/internal/digest"
	"taskbell/internal/eventbus"
	"taskbell/internal/runtime/supervisor"
	"taskbell/internal/storage"
	"taskbell/internal/view/console"
	logx "taskbell/pkg/logx"
)

const maxDiagnostics = 50

// Status is the document served on /status and printed by the "status"
// command.
type Status struct {
	At          time.Time                      `json:"at"`
	Connection  string                         `json:"connection"`
	Frames      uint64                         `json:"frames"`
	Handled     uint64                         `json:"handled"`
	Dropped     uint64                         `json:"dropped"`
	View        console.Model                  `json:"view"`
	Digest      digest.Summary                 `json:"digest"`
	NextDigest  time.Time                      `json:"next_digest,omitempty"`
	Diagnostics []logx.Diagnostic              `json:"diagnostics,omitempty"`
	Audit       []storage.AuditEntry           `json:"audit,omitempty"`
	Supervisors map[string]supervisor.Snapshot `json:"supervisors"`
}

// busSink forwards diagnostics from the logger to the event bus.
type busSink struct{ bus eventbus.Bus }

func (s busSink) Emit(d logx.Diagnostic) {
	s.bus.Publish(eventbus.Event{Type: eventbus.TopicDiagnostic, Time: d.At, Data: d})
}

// diagRing keeps the most recent diagnostics.
type diagRing struct {
	mu    sync.Mutex
	items []logx.Diagnostic
}

func (r *diagRing) add(d logx.Diagnostic) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, d)
	if over := len(r.items) - maxDiagnostics; over > 0 {
		r.items = append(r.items[:0:0], r.items[over:]...)
	}
}

func (r *diagRing) list() []logx.Diagnostic {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]logx.Diagnostic(nil), r.items...)
}

// Status collects a point-in-time view of the client.
func (a *App) Status() Status {
	st := Status{
		At:          time.Now(),
		Connection:  string(a.ws.State()),
		Frames:      a.ws.Frames(),
		View:        a.view.Snapshot(),
		Digest:      a.digest.Last(),
		NextDigest:  a.digest.Next(),
		Diagnostics: a.diags.list(),
		Supervisors: map[string]supervisor.Snapshot{},
	}
	st.Handled, st.Dropped = a.router.Stats()
	if a.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if entries, err := a.store.RecentAudit(ctx, 20); err == nil {
			st.Audit = entries
		} else {
			a.log.Debug("recent audit unavailable", logx.Err(err))
		}
		cancel()
	}
	if sup := a.supervisor(); sup != nil {
		st.Supervisors["app"] = sup.Snapshot()
	}
	if sup := a.ws.Supervisor(); sup != nil {
		st.Supervisors["ws"] = sup.Snapshot()
	}
	if sup := a.debug.Supervisor(); sup != nil {
		st.Supervisors["debughttp"] = sup.Snapshot()
	}
	return st
}
