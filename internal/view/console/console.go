// Package console renders notification, alert and search updates as plain
// text lines and keeps an in-memory model of what is on screen.
package console

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"taskbell/internal/alert"
	"taskbell/internal/channel"
	"taskbell/internal/notice"
	"taskbell/internal/search"
)

// ChannelModel is the displayed state of one channel.
type ChannelModel struct {
	Badge       int             `json:"badge"`
	BadgeHidden bool            `json:"badge_hidden"`
	Feed        []channel.Entry `json:"feed"`
	Placeholder string          `json:"placeholder,omitempty"`
}

// Model is a copy of everything currently displayed.
type Model struct {
	Channels map[string]ChannelModel `json:"channels"`
	Alerts   []alert.Rendered        `json:"alerts"`
	Loading  bool                    `json:"loading"`
	Results  string                  `json:"results,omitempty"`
	Error    string                  `json:"error,omitempty"`
	Location string                  `json:"location,omitempty"`
}

type View struct {
	mu     sync.Mutex
	w      io.Writer
	chans  [len(notice.Categories)]*ChannelModel
	alerts map[string]alert.Rendered
	order  []string

	loading  bool
	results  string
	errMsg   string
	location string
}

var (
	_ channel.View = (*View)(nil)
	_ alert.View   = (*View)(nil)
	_ search.View  = (*View)(nil)
)

// New returns a view writing to w; nil w discards output.
func New(w io.Writer) *View {
	if w == nil {
		w = io.Discard
	}
	v := &View{w: w, alerts: map[string]alert.Rendered{}}
	for _, ch := range notice.Categories {
		v.chans[ch] = &ChannelModel{BadgeHidden: true, Placeholder: ch.Placeholder()}
	}
	return v
}

// Load mirrors seeded channel state without printing.
func (v *View) Load(ch notice.Category, st channel.State) {
	v.mu.Lock()
	defer v.mu.Unlock()
	m := v.chans[ch]
	m.Badge = st.Unread
	m.BadgeHidden = st.Unread == 0
	m.Feed = append([]channel.Entry(nil), st.Entries...)
	m.Placeholder = ""
	if st.Placeholder {
		m.Placeholder = ch.Placeholder()
	}
}

func (v *View) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(v.w, format+"\n", args...)
}

func (v *View) UpdateBadge(ch notice.Category, count int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	m := v.chans[ch]
	m.Badge = count
	m.BadgeHidden = false
	v.printf("[%s] unread %d", ch, count)
}

func (v *View) HideBadge(ch notice.Category) {
	v.mu.Lock()
	defer v.mu.Unlock()
	m := v.chans[ch]
	m.Badge = 0
	m.BadgeHidden = true
	v.printf("[%s] badge hidden", ch)
}

func (v *View) PrependFeedEntry(ch notice.Category, e channel.Entry) {
	v.mu.Lock()
	defer v.mu.Unlock()
	m := v.chans[ch]
	m.Feed = append([]channel.Entry{e}, m.Feed...)
	v.printf("[%s] + %s (%s)", ch, e.Message, e.Link)
}

func (v *View) RemovePlaceholder(ch notice.Category) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.chans[ch].Placeholder = ""
}

func (v *View) ShowPlaceholder(ch notice.Category, text string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	m := v.chans[ch]
	m.Feed = nil
	m.Placeholder = text
	v.printf("[%s] %s", ch, text)
}

func (v *View) ShowAlert(r alert.Rendered) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.alerts[r.ID] = r
	v.order = append(v.order, r.ID)
	v.printf("(!) %s | %s | %s [%s]", r.Headline, r.Byline, r.Link, shortID(r.ID))
}

func (v *View) RemoveAlert(id string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.alerts[id]; !ok {
		return
	}
	delete(v.alerts, id)
	for i, o := range v.order {
		if o == id {
			v.order = append(v.order[:i], v.order[i+1:]...)
			break
		}
	}
}

func (v *View) SetLoading(on bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.loading = on
	if on {
		v.errMsg = ""
		v.printf("search: loading...")
	}
}

func (v *View) ReplaceResults(fragment string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.results = fragment
	v.printf("search: %d result row(s)", strings.Count(strings.ToLower(fragment), "<tr"))
}

func (v *View) ShowError(msg string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.errMsg = msg
	v.printf("search: %s", msg)
}

func (v *View) PushHistory(query string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.location = query
}

// Snapshot copies the displayed model.
func (v *View) Snapshot() Model {
	v.mu.Lock()
	defer v.mu.Unlock()
	m := Model{
		Channels: make(map[string]ChannelModel, len(v.chans)),
		Loading:  v.loading,
		Results:  v.results,
		Error:    v.errMsg,
		Location: v.location,
	}
	for _, ch := range notice.Categories {
		cm := *v.chans[ch]
		cm.Feed = append([]channel.Entry(nil), cm.Feed...)
		m.Channels[ch.String()] = cm
	}
	for _, id := range v.order {
		m.Alerts = append(m.Alerts, v.alerts[id])
	}
	return m
}

// AlertIDs lists displayed alert ids, oldest first.
func (v *View) AlertIDs() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := append([]string(nil), v.order...)
	return out
}

// ResolveAlert finds a displayed alert by id or unique id prefix.
func (v *View) ResolveAlert(prefix string) (string, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.alerts[prefix]; ok {
		return prefix, true
	}
	var hits []string
	for id := range v.alerts {
		if strings.HasPrefix(id, prefix) {
			hits = append(hits, id)
		}
	}
	sort.Strings(hits)
	if len(hits) != 1 {
		return "", false
	}
	return hits[0], true
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
