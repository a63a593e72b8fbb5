// Package search runs debounced incremental searches against the paginated
// task list and swaps the returned table body into the results view.
package search

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"taskbell/internal/eventbus"
	"taskbell/internal/metrics"
	"taskbell/internal/storage"
	logx "taskbell/pkg/logx"
)

const (
	DefaultDebounce = 400 * time.Millisecond
	ErrorMessage    = "Error loading results"
	maxBody         = 4 << 20
)

var ErrStatus = errors.New("search: unexpected http status")

// View is the search presentation capability.
type View interface {
	SetLoading(on bool)
	ReplaceResults(fragment string)
	ShowError(msg string)
	PushHistory(query string)
}

type Config struct {
	BaseURL  string
	Path     string // list page path, e.g. /tasks/
	Query    string // initial query string (without '?')
	Debounce time.Duration
	Timeout  time.Duration
}

// Done is published on the bus after every request that was not superseded.
type Done struct {
	Term   string `json:"term"`
	OK     bool   `json:"ok"`
	Found  bool   `json:"found"`
	Query  string `json:"query"`
	Error  string `json:"error,omitempty"`
	TookMS int64  `json:"took_ms"`
}

type Coalescer struct {
	view    View
	client  *http.Client
	clk     clockwork.Clock
	audit   storage.Store
	bus     eventbus.Bus
	metrics *metrics.Metrics
	log     logx.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	cfg      Config
	pageURL  *url.URL
	params   url.Values
	timer    clockwork.Timer
	seq      uint64
	inflight context.CancelFunc
}

type Option func(*Coalescer)

func WithHTTPClient(c *http.Client) Option {
	return func(s *Coalescer) {
		if c != nil {
			s.client = c
		}
	}
}

func WithClock(c clockwork.Clock) Option {
	return func(s *Coalescer) {
		if c != nil {
			s.clk = c
		}
	}
}

func WithAudit(st storage.Store) Option { return func(s *Coalescer) { s.audit = st } }

func WithBus(b eventbus.Bus) Option {
	return func(s *Coalescer) {
		if b != nil {
			s.bus = b
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option { return func(s *Coalescer) { s.metrics = m } }

func WithLogger(log logx.Logger) Option { return func(s *Coalescer) { s.log = log } }

// WithContext bounds every request by ctx.
func WithContext(ctx context.Context) Option {
	return func(s *Coalescer) {
		if ctx != nil {
			s.ctx = ctx
		}
	}
}

func New(view View, cfg Config, opts ...Option) (*Coalescer, error) {
	s := &Coalescer{
		view:   view,
		client: &http.Client{},
		clk:    clockwork.NewRealClock(),
		bus:    eventbus.Nop(),
		log:    logx.Nop(),
		ctx:    context.Background(),
	}
	for _, o := range opts {
		o(s)
	}
	s.ctx, s.cancel = context.WithCancel(s.ctx)
	if err := s.Apply(cfg); err != nil {
		s.cancel()
		return nil, err
	}
	return s, nil
}

// Apply swaps configuration. The current query parameters are replaced only
// when cfg.Query changes.
func (s *Coalescer) Apply(cfg Config) error {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	page, err := pageURL(cfg.BaseURL, cfg.Path)
	if err != nil {
		return err
	}
	params, err := url.ParseQuery(strings.TrimPrefix(cfg.Query, "?"))
	if err != nil {
		return fmt.Errorf("search: query: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.params == nil || cfg.Query != s.cfg.Query {
		s.params = params
	}
	s.cfg = cfg
	s.pageURL = page
	return nil
}

func pageURL(base, path string) (*url.URL, error) {
	b, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return nil, fmt.Errorf("search: base url: %w", err)
	}
	if path == "" {
		return b, nil
	}
	ref, err := url.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("search: path: %w", err)
	}
	return b.ResolveReference(ref), nil
}

// OnInput records a keystroke. Only the last term within the quiet window is
// searched.
func (s *Coalescer) OnInput(term string) { s.schedule(term) }

// OnSubmit behaves like OnInput; submitting never bypasses the debounce.
func (s *Coalescer) OnSubmit(term string) { s.schedule(term) }

// OnHistory handles back/forward navigation: query becomes the current
// parameters and its search term is fetched immediately.
func (s *Coalescer) OnHistory(query string) {
	params, err := url.ParseQuery(strings.TrimPrefix(query, "?"))
	if err != nil {
		s.log.Warn("ignoring malformed history query", logx.String("query", query), logx.Err(err))
		return
	}
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.params = params
	s.mu.Unlock()
	s.run(params.Get("search"))
}

// Query returns the current query string (without '?').
func (s *Coalescer) Query() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params.Encode()
}

// Close cancels the pending debounce and any in-flight request.
func (s *Coalescer) Close() {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()
	s.cancel()
}

func (s *Coalescer) schedule(term string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
	var t clockwork.Timer
	t = s.clk.AfterFunc(s.cfg.Debounce, func() {
		s.mu.Lock()
		if s.timer != t {
			s.mu.Unlock()
			return
		}
		s.timer = nil
		s.mu.Unlock()
		s.run(term)
	})
	s.timer = t
}

// run performs one search. A newer run supersedes an older one: the older
// request is cancelled and its outcome is never shown.
func (s *Coalescer) run(term string) {
	s.mu.Lock()
	s.seq++
	seq := s.seq
	if s.inflight != nil {
		s.inflight()
	}
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.Timeout)
	s.inflight = cancel
	params := cloneValues(s.params)
	page := *s.pageURL
	s.mu.Unlock()
	defer cancel()

	params.Set("search", term)
	params.Set("page", "1")
	query := params.Encode()
	page.RawQuery = query + "&ajax=1"
	target := page.String()

	if s.view != nil {
		s.view.SetLoading(true)
	}
	start := time.Now()
	fragment, found, err := s.fetch(ctx, target)
	took := time.Since(start)

	s.mu.Lock()
	current := seq == s.seq
	if current {
		s.inflight = nil
		if err == nil {
			s.params = params
		}
	}
	s.mu.Unlock()

	if !current {
		s.metrics.SearchDone("superseded", took)
		s.log.Debug("search superseded", logx.String("term", term))
		return
	}

	done := Done{Term: term, OK: err == nil, Found: found, Query: query, TookMS: took.Milliseconds()}
	if err != nil {
		done.Error = err.Error()
		s.metrics.SearchDone("error", took)
		s.log.Warn("search failed", logx.String("term", term), logx.Err(err))
		if s.view != nil {
			s.view.ShowError(ErrorMessage)
		}
	} else {
		s.metrics.SearchDone("ok", took)
		if s.view != nil {
			if found {
				s.view.ReplaceResults(fragment)
			}
			s.view.PushHistory("?" + query)
		}
	}
	if s.view != nil {
		s.view.SetLoading(false)
	}
	s.bus.Publish(eventbus.Event{Type: eventbus.TopicSearchDone, Data: done})
	s.auditDone(target, done)
}

func (s *Coalescer) fetch(ctx context.Context, target string) (string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", false, err
	}
	req.Header.Set("Accept", "text/html")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", false, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return "", false, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", false, fmt.Errorf("%w: %d", ErrStatus, resp.StatusCode)
	}
	return ExtractResults(bytes.NewReader(body))
}

func (s *Coalescer) auditDone(target string, d Done) {
	if s.audit == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.audit.AppendAudit(ctx, storage.AuditEntry{
		At:     time.Now(),
		Action: "search",
		Target: target,
		OK:     d.OK,
		Error:  d.Error,
		TookMS: d.TookMS,
	}); err != nil {
		s.log.Debug("audit append failed", logx.Err(err))
	}
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vs := range v {
		out[k] = append([]string(nil), vs...)
	}
	return out
}
