// Package alert raises short-lived notices that dismiss themselves after a
// fixed delay unless closed manually first.
package alert

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"taskbell/internal/notice"
	logx "taskbell/pkg/logx"
)

// DefaultDelay is the auto-dismiss delay measured from creation.
const DefaultDelay = 7000 * time.Millisecond

var ErrUnknownAlert = errors.New("unknown alert")

// Rendered is the presentation of one alert.
type Rendered struct {
	ID       string `json:"id"`
	Link     string `json:"link"`
	Headline string `json:"headline"`
	Byline   string `json:"byline"`
}

// View is the alert presentation capability.
type View interface {
	ShowAlert(r Rendered)
	RemoveAlert(id string)
}

// Render formats an alert. The byline includes the due date only when present.
func Render(a notice.TransientAlert) Rendered {
	by := "By: " + a.CreatedBy
	if a.DueDate != "" {
		by += " • Due: " + a.DueDate
	}
	return Rendered{
		Link:     a.Link,
		Headline: a.Category.Glyph() + " " + a.Message,
		Byline:   by,
	}
}

// Toast is one displayed alert.
type Toast struct {
	m       *Manager
	id      string
	created time.Time
	seq     uint64
	r       Rendered
	timer   clockwork.Timer
}

func (t *Toast) ID() string { return t.id }

func (t *Toast) CreatedAt() time.Time { return t.created }

func (t *Toast) Rendered() Rendered { return t.r }

// Close removes the toast now and cancels its auto-dismissal. Safe to call
// more than once.
func (t *Toast) Close() { t.m.remove(t.id, "manual") }

// Hooks observe toast lifecycle; used for metrics and the event bus.
type Hooks struct {
	OnShow    func(r Rendered)
	OnDismiss func(id, reason string)
}

type Manager struct {
	mu     sync.Mutex
	view   View
	clk    clockwork.Clock
	delay  time.Duration
	log    logx.Logger
	hooks  Hooks
	seq    uint64
	active map[string]*Toast
}

type Option func(*Manager)

func WithClock(c clockwork.Clock) Option {
	return func(m *Manager) {
		if c != nil {
			m.clk = c
		}
	}
}

func WithDelay(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.delay = d
		}
	}
}

func WithLogger(log logx.Logger) Option {
	return func(m *Manager) { m.log = log }
}

func WithHooks(h Hooks) Option {
	return func(m *Manager) { m.hooks = h }
}

func New(view View, opts ...Option) *Manager {
	m := &Manager{
		view:   view,
		clk:    clockwork.NewRealClock(),
		delay:  DefaultDelay,
		log:    logx.Nop(),
		active: map[string]*Toast{},
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// SetDelay changes the delay for alerts displayed from now on.
func (m *Manager) SetDelay(d time.Duration) {
	if d <= 0 {
		return
	}
	m.mu.Lock()
	m.delay = d
	m.mu.Unlock()
}

// Display shows a new alert and schedules its removal.
func (m *Manager) Display(a notice.TransientAlert) *Toast {
	r := Render(a)
	r.ID = uuid.NewString()

	m.mu.Lock()
	m.seq++
	t := &Toast{m: m, id: r.ID, created: m.clk.Now(), seq: m.seq, r: r}
	m.active[t.id] = t
	if m.view != nil {
		m.view.ShowAlert(r)
	}
	id := t.id
	t.timer = m.clk.AfterFunc(m.delay, func() { m.remove(id, "expired") })
	m.mu.Unlock()

	m.log.Debug("alert shown", logx.String("id", id), logx.String("category", a.Category.String()))
	if m.hooks.OnShow != nil {
		m.hooks.OnShow(r)
	}
	return t
}

// Dismiss closes an alert by id.
func (m *Manager) Dismiss(id string) error {
	if !m.remove(id, "manual") {
		return ErrUnknownAlert
	}
	return nil
}

// Active returns the number of alerts currently displayed.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// List returns the displayed alerts, oldest first.
func (m *Manager) List() []Rendered {
	m.mu.Lock()
	ts := make([]*Toast, 0, len(m.active))
	for _, t := range m.active {
		ts = append(ts, t)
	}
	m.mu.Unlock()
	sort.Slice(ts, func(i, j int) bool { return ts[i].seq < ts[j].seq })
	out := make([]Rendered, 0, len(ts))
	for _, t := range ts {
		out = append(out, t.r)
	}
	return out
}

// CloseAll dismisses every active alert. Used on shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.active))
	for id := range m.active {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		m.remove(id, "shutdown")
	}
}

// remove is the only path that deletes a toast; the map lookup makes a late
// timer after a manual close a no-op.
func (m *Manager) remove(id, reason string) bool {
	m.mu.Lock()
	t, ok := m.active[id]
	if !ok {
		m.mu.Unlock()
		return false
	}
	delete(m.active, id)
	if t.timer != nil && reason != "expired" {
		t.timer.Stop()
	}
	if m.view != nil {
		m.view.RemoveAlert(id)
	}
	m.mu.Unlock()

	m.log.Debug("alert removed", logx.String("id", id), logx.String("reason", reason))
	if m.hooks.OnDismiss != nil {
		m.hooks.OnDismiss(id, reason)
	}
	return true
}
