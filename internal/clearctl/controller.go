// Package clearctl clears a notification channel on the server and, only after
// the server confirms, resets the local channel state.
package clearctl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"taskbell/internal/eventbus"
	"taskbell/internal/metrics"
	"taskbell/internal/notice"
	"taskbell/internal/storage"
	logx "taskbell/pkg/logx"
)

// SuccessStatus is the only response status treated as a confirmed clear.
const SuccessStatus = "success"

const maxBody = 64 << 10

var (
	ErrNoURL     = errors.New("no clear url configured")
	ErrThrottled = errors.New("clear throttled")
	ErrRejected  = errors.New("clear rejected by server")
	ErrTransport = errors.New("clear request failed")
	ErrChannel   = errors.New("unknown notification channel")
)

// Resetter applies a confirmed clear to local state.
type Resetter interface {
	Reset(ch notice.Category)
}

type Config struct {
	BaseURL   string
	TaskURL   string
	PayURL    string
	CSRFToken string
	Timeout   time.Duration
	// RatePerSec and Burst bound clear attempts per channel. 0 disables.
	RatePerSec float64
	Burst      int
}

// Result is published on the bus after every attempt.
type Result struct {
	Channel string `json:"channel"`
	OK      bool   `json:"ok"`
	Status  int    `json:"status"`
	Error   string `json:"error,omitempty"`
	TookMS  int64  `json:"took_ms"`
}

type Controller struct {
	store   Resetter
	client  *http.Client
	audit   storage.Store
	bus     eventbus.Bus
	metrics *metrics.Metrics
	log     logx.Logger

	mu       sync.RWMutex
	cfg      Config
	limiters [len(notice.Categories)]*rate.Limiter
}

type Option func(*Controller)

func WithHTTPClient(c *http.Client) Option {
	return func(ctl *Controller) {
		if c != nil {
			ctl.client = c
		}
	}
}

func WithAudit(st storage.Store) Option { return func(c *Controller) { c.audit = st } }

func WithBus(b eventbus.Bus) Option {
	return func(c *Controller) {
		if b != nil {
			c.bus = b
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option { return func(c *Controller) { c.metrics = m } }

func WithLogger(log logx.Logger) Option { return func(c *Controller) { c.log = log } }

func New(store Resetter, cfg Config, opts ...Option) *Controller {
	c := &Controller{
		store:  store,
		client: &http.Client{},
		bus:    eventbus.Nop(),
		log:    logx.Nop(),
	}
	for _, o := range opts {
		o(c)
	}
	c.Apply(cfg)
	return c
}

// Apply swaps configuration at runtime. Limiters are rebuilt only when the
// rate settings change.
func (c *Controller) Apply(cfg Config) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	rebuild := c.limiters[0] == nil || cfg.RatePerSec != c.cfg.RatePerSec || cfg.Burst != c.cfg.Burst
	c.cfg = cfg
	if !rebuild {
		return
	}
	for i := range c.limiters {
		if cfg.RatePerSec <= 0 {
			c.limiters[i] = rate.NewLimiter(rate.Inf, 0)
			continue
		}
		c.limiters[i] = rate.NewLimiter(rate.Limit(cfg.RatePerSec), max(cfg.Burst, 1))
	}
}

// SetCSRFToken replaces the token, e.g. after a page refresh.
func (c *Controller) SetCSRFToken(tok string) {
	c.mu.Lock()
	c.cfg.CSRFToken = tok
	c.mu.Unlock()
}

// SetURL replaces the clear URL for one channel.
func (c *Controller) SetURL(ch notice.Category, u string) {
	c.mu.Lock()
	if ch == notice.Payment {
		c.cfg.PayURL = u
	} else {
		c.cfg.TaskURL = u
	}
	c.mu.Unlock()
}

// URL returns the absolute clear URL for a channel.
func (c *Controller) URL(ch notice.Category) (string, error) {
	c.mu.RLock()
	cfg := c.cfg
	c.mu.RUnlock()
	return resolve(cfg, ch)
}

func resolve(cfg Config, ch notice.Category) (string, error) {
	raw := cfg.TaskURL
	if ch == notice.Payment {
		raw = cfg.PayURL
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: %s", ErrNoURL, ch)
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoURL, err)
	}
	if ref.IsAbs() || cfg.BaseURL == "" {
		return ref.String(), nil
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return "", fmt.Errorf("%w: base url: %v", ErrNoURL, err)
	}
	return base.ResolveReference(ref).String(), nil
}

type clearResponse struct {
	Status string `json:"status"`
}

// Clear asks the server to clear a channel. The local channel is reset only
// when the server answers 2xx with status "success"; every other outcome
// leaves local state untouched.
func (c *Controller) Clear(ctx context.Context, ch notice.Category) error {
	if ch < 0 || int(ch) >= len(c.limiters) {
		return fmt.Errorf("%w: %d", ErrChannel, int(ch))
	}
	c.mu.RLock()
	cfg := c.cfg
	lim := c.limiters[ch]
	c.mu.RUnlock()

	target, err := resolve(cfg, ch)
	if err != nil {
		c.finish(ctx, ch, target, 0, 0, err)
		return err
	}
	if !lim.Allow() {
		c.finish(ctx, ch, target, 0, 0, ErrThrottled)
		return ErrThrottled
	}

	start := time.Now()
	status, err := c.post(ctx, cfg, target)
	took := time.Since(start)
	if err != nil {
		c.finish(ctx, ch, target, status, took, err)
		return err
	}

	c.store.Reset(ch)
	c.finish(ctx, ch, target, status, took, nil)
	return nil
}

func (c *Controller) post(ctx context.Context, cfg Config, target string) (int, error) {
	rctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(rctx, http.MethodPost, target, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	req.Header.Set("X-CSRFToken", cfg.CSRFToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	if cfg.BaseURL != "" {
		req.Header.Set("Referer", cfg.BaseURL)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("%w: read body: %v", ErrTransport, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, fmt.Errorf("%w: http %d", ErrRejected, resp.StatusCode)
	}
	var cr clearResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		return resp.StatusCode, fmt.Errorf("%w: decode: %v", ErrRejected, err)
	}
	if cr.Status != SuccessStatus {
		return resp.StatusCode, fmt.Errorf("%w: status %q", ErrRejected, cr.Status)
	}
	return resp.StatusCode, nil
}

func (c *Controller) finish(ctx context.Context, ch notice.Category, target string, status int, took time.Duration, err error) {
	res := Result{Channel: ch.String(), OK: err == nil, Status: status, TookMS: took.Milliseconds()}
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrThrottled):
		result = "throttled"
	case errors.Is(err, ErrRejected):
		result = "rejected"
	case errors.Is(err, ErrNoURL):
		result = "no_url"
	default:
		result = "error"
	}
	if err != nil {
		res.Error = err.Error()
	}
	c.metrics.ClearDone(res.Channel, result, took)

	if err == nil {
		c.log.Info("channel cleared", logx.String("channel", res.Channel), logx.Duration("took", took))
		c.bus.Publish(eventbus.Event{Type: eventbus.TopicChannelCleared, Data: res})
	} else {
		c.log.Warn("channel clear failed", logx.String("channel", res.Channel), logx.String("result", result), logx.Int("status", status), logx.Err(err))
		c.bus.Publish(eventbus.Event{Type: eventbus.TopicClearFailed, Data: res})
	}

	if c.audit == nil || errors.Is(err, ErrThrottled) {
		return
	}
	actx := context.WithoutCancel(ctx)
	entry := storage.AuditEntry{
		At:      time.Now(),
		Action:  "clear",
		Channel: res.Channel,
		Target:  target,
		OK:      res.OK,
		Status:  status,
		Error:   res.Error,
		TookMS:  res.TookMS,
	}
	if aerr := c.audit.AppendAudit(actx, entry); aerr != nil {
		c.log.Debug("audit append failed", logx.Err(aerr))
	}
}
