// Package channel holds unread counters and recent feed entries for the task
// and payment notification channels.
//
// Each channel is guarded by its own mutex, and View calls are made while the
// lock is held so presentation never diverges from state. The router (on push)
// and the clear controller (on confirmed clear) are the only writers.
package channel

import (
	"sync"

	"taskbell/internal/notice"
)

// Entry is one feed item, most-recent-first in a channel feed.
type Entry struct {
	Link    string `json:"link"`
	Message string `json:"message"`
}

// View is the presentation capability the store drives.
type View interface {
	UpdateBadge(ch notice.Category, count int)
	HideBadge(ch notice.Category)
	PrependFeedEntry(ch notice.Category, e Entry)
	RemovePlaceholder(ch notice.Category)
	ShowPlaceholder(ch notice.Category, text string)
}

// State is a copy of one channel's data.
type State struct {
	Unread      int     `json:"unread"`
	Entries     []Entry `json:"entries"`
	Placeholder bool    `json:"placeholder"`
}

type slot struct {
	mu          sync.Mutex
	unread      int
	entries     []Entry
	placeholder bool
}

// Store owns both channels.
type Store struct {
	view    View
	feedCap int
	slots   [len(notice.Categories)]*slot
}

// Option configures a Store.
type Option func(*Store)

// WithFeedCap trims feeds to at most n entries (0 disables the cap).
func WithFeedCap(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.feedCap = n
		}
	}
}

// New creates a store with both channels empty (placeholder shown, count 0).
// view may be nil for headless use.
func New(view View, opts ...Option) *Store {
	s := &Store{view: view}
	for _, o := range opts {
		o(s)
	}
	for i := range s.slots {
		s.slots[i] = &slot{placeholder: true}
	}
	return s
}

func (s *Store) slot(ch notice.Category) *slot {
	if int(ch) < 0 || int(ch) >= len(s.slots) {
		ch = notice.Task
	}
	return s.slots[ch]
}

// Seed replaces a channel's state with server-rendered page state. It does not
// touch the view; the page already shows this state.
func (s *Store) Seed(ch notice.Category, st State) {
	sl := s.slot(ch)
	sl.mu.Lock()
	defer sl.mu.Unlock()
	sl.unread = max(st.Unread, 0)
	sl.entries = append([]Entry(nil), st.Entries...)
	sl.placeholder = len(sl.entries) == 0
	s.trimLocked(sl)
}

// Accept records one routed notice: count+1, badge shown, placeholder removed
// if present, entry prepended. It returns the new unread count.
func (s *Store) Accept(ch notice.Category, e Entry) int {
	sl := s.slot(ch)
	sl.mu.Lock()
	defer sl.mu.Unlock()

	sl.unread++
	if s.view != nil {
		s.view.UpdateBadge(ch, sl.unread)
	}
	if sl.placeholder {
		sl.placeholder = false
		if s.view != nil {
			s.view.RemovePlaceholder(ch)
		}
	}
	sl.entries = append(sl.entries, Entry{})
	copy(sl.entries[1:], sl.entries)
	sl.entries[0] = e
	s.trimLocked(sl)
	if s.view != nil {
		s.view.PrependFeedEntry(ch, e)
	}
	return sl.unread
}

// Reset applies a confirmed clear: the feed becomes the placeholder alone,
// the counter drops to zero and the badge is hidden.
func (s *Store) Reset(ch notice.Category) {
	sl := s.slot(ch)
	sl.mu.Lock()
	defer sl.mu.Unlock()

	sl.unread = 0
	sl.entries = nil
	sl.placeholder = true
	if s.view != nil {
		s.view.ShowPlaceholder(ch, ch.Placeholder())
		s.view.HideBadge(ch)
	}
}

// Snapshot returns a copy of one channel.
func (s *Store) Snapshot(ch notice.Category) State {
	sl := s.slot(ch)
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return State{
		Unread:      sl.unread,
		Entries:     append([]Entry(nil), sl.entries...),
		Placeholder: sl.placeholder,
	}
}

// Snapshots returns copies of every channel keyed by name.
func (s *Store) Snapshots() map[string]State {
	out := make(map[string]State, len(notice.Categories))
	for _, ch := range notice.Categories {
		out[ch.String()] = s.Snapshot(ch)
	}
	return out
}

func (s *Store) trimLocked(sl *slot) {
	if s.feedCap > 0 && len(sl.entries) > s.feedCap {
		sl.entries = sl.entries[:s.feedCap]
	}
}
