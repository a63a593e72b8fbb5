// Package ws owns the push connection to the notification endpoint.
//
// The client never writes application messages; it only reads text frames and
// hands their bytes to the consumer channel in arrival order. By default a
// lost connection is final for the session. Reconnect.Enabled turns the
// session into a supervised restart loop with a bounded attempt budget.
package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"taskbell/internal/eventbus"
	"taskbell/internal/metrics"
	rtsup "taskbell/internal/runtime/supervisor"
	logx "taskbell/pkg/logx"
)

// DefaultPath is the notification endpoint path.
const DefaultPath = "/ws/notifications/"

var (
	ErrDial       = errors.New("push dial failed")
	ErrClosed     = errors.New("push connection closed")
	ErrBadBaseURL = errors.New("invalid base url")
)

type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateOpen         State = "open"
	StateClosed       State = "closed"
	StateFailed       State = "failed"
)

// StateChange is published on the bus for every transition.
type StateChange struct {
	State   State  `json:"state"`
	Attempt int    `json:"attempt"`
	Err     string `json:"err,omitempty"`
}

type ReconnectConfig struct {
	Enabled     bool
	MinBackoff  time.Duration
	MaxBackoff  time.Duration
	MaxAttempts int // <=0 means unlimited
}

type Config struct {
	BaseURL          string
	Path             string
	Cookie           string
	Origin           string
	HandshakeTimeout time.Duration
	ReadLimit        int64
	Reconnect        ReconnectConfig
}

// Endpoint derives the socket URL from the page base URL: http maps to ws and
// https maps to wss.
func Endpoint(base, path string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadBaseURL, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrBadBaseURL, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: missing host", ErrBadBaseURL)
	}
	if path == "" {
		path = DefaultPath
	}
	u.Path = path
	u.RawPath = ""
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}

func originOf(base string) string {
	u, err := url.Parse(base)
	if err != nil || u.Host == "" {
		return ""
	}
	scheme := u.Scheme
	switch scheme {
	case "ws":
		scheme = "http"
	case "wss":
		scheme = "https"
	}
	return scheme + "://" + u.Host
}

type Client struct {
	cfg      Config
	endpoint string
	header   http.Header
	dialer   *websocket.Dialer
	log      logx.Logger
	bus      eventbus.Bus
	metrics  *metrics.Metrics

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor

	state    atomic.Value // State
	attempts atomic.Int64
	frames   atomic.Uint64
}

type Option func(*Client)

func WithLogger(log logx.Logger) Option { return func(c *Client) { c.log = log } }

func WithBus(b eventbus.Bus) Option {
	return func(c *Client) {
		if b != nil {
			c.bus = b
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option { return func(c *Client) { c.metrics = m } }

func New(cfg Config, opts ...Option) (*Client, error) {
	endpoint, err := Endpoint(cfg.BaseURL, cfg.Path)
	if err != nil {
		return nil, err
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	h := http.Header{}
	if cfg.Cookie != "" {
		h.Set("Cookie", cfg.Cookie)
	}
	origin := cfg.Origin
	if origin == "" {
		origin = originOf(cfg.BaseURL)
	}
	if origin != "" {
		h.Set("Origin", origin)
	}
	c := &Client{
		cfg:      cfg,
		endpoint: endpoint,
		header:   h,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		log: logx.Nop(),
		bus: eventbus.Nop(),
	}
	for _, o := range opts {
		o(c)
	}
	c.state.Store(StateDisconnected)
	return c, nil
}

func (c *Client) Endpoint() string { return c.endpoint }

func (c *Client) State() State {
	s, _ := c.state.Load().(State)
	return s
}

// Frames reports how many text frames were delivered.
func (c *Client) Frames() uint64 { return c.frames.Load() }

// Supervisor returns the client's supervisor (nil if not started).
func (c *Client) Supervisor() *rtsup.Supervisor {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	return c.sup
}

// Start opens the connection in the background and delivers each text frame
// to out. Delivery blocks until the consumer takes the frame, so frames are
// never reordered or dropped by the client.
func (c *Client) Start(ctx context.Context, out chan<- []byte) error {
	if ctx == nil {
		ctx = context.Background()
	}
	c.runMu.Lock()
	if c.running {
		c.runMu.Unlock()
		return nil
	}
	c.running = true
	c.sup = rtsup.New(ctx,
		rtsup.WithLogger(c.log),
		rtsup.WithCancelOnError(false),
	)
	sup := c.sup
	c.runMu.Unlock()

	rc := c.cfg.Reconnect
	if !rc.Enabled {
		sup.Go("ws.session", func(ctx context.Context) error {
			err := c.session(ctx, out)
			if err != nil && ctx.Err() == nil {
				c.log.Warn("push connection lost; no further updates this session", logx.Err(err))
			}
			return nil
		})
		return nil
	}

	sup.GoRestart("ws.session", func(ctx context.Context) error {
		return c.session(ctx, out)
	},
		rtsup.WithRestartBackoff(rc.MinBackoff, rc.MaxBackoff),
		rtsup.WithMaxRestarts(rc.MaxAttempts),
		rtsup.WithStopOnCleanExit(false),
		rtsup.WithOnGiveUp(func(err error) {
			c.setState(StateFailed, err)
		}),
	)
	return nil
}

func (c *Client) Stop(ctx context.Context) error {
	c.runMu.Lock()
	sup := c.sup
	c.sup = nil
	wasRunning := c.running
	c.running = false
	c.runMu.Unlock()

	if !wasRunning || sup == nil {
		return nil
	}
	sup.Cancel()
	if err := sup.Wait(ctx); err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, context.DeadlineExceeded) {
			c.log.Warn("push client stop timed out", logx.Err(err))
			return nil
		}
		return err
	}
	c.setState(StateDisconnected, nil)
	return nil
}

// session runs one connection from dial to close.
func (c *Client) session(ctx context.Context, out chan<- []byte) error {
	attempt := int(c.attempts.Add(1))
	c.setState(StateConnecting, nil)

	conn, resp, err := c.dialer.DialContext(ctx, c.endpoint, c.header)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if resp != nil {
			err = fmt.Errorf("%w: %v (http %d)", ErrDial, err, resp.StatusCode)
		} else {
			err = fmt.Errorf("%w: %v", ErrDial, err)
		}
		c.setState(StateFailed, err)
		return err
	}
	if c.cfg.ReadLimit > 0 {
		conn.SetReadLimit(c.cfg.ReadLimit)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer func() {
		stop()
		_ = conn.Close()
	}()

	c.setState(StateOpen, nil)
	c.log.Info("push connection open", logx.String("url", c.endpoint), logx.Int("attempt", attempt))

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				c.setState(StateClosed, nil)
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				err = fmt.Errorf("%w: %v", ErrClosed, err)
				c.setState(StateClosed, err)
				return err
			}
			err = fmt.Errorf("push read: %w", err)
			c.setState(StateFailed, err)
			return err
		}
		if mt != websocket.TextMessage {
			c.log.Debug("ignoring non-text frame", logx.Int("type", mt))
			continue
		}
		select {
		case out <- data:
			c.frames.Add(1)
		case <-ctx.Done():
			c.setState(StateClosed, nil)
			return ctx.Err()
		}
	}
}

func (c *Client) setState(s State, err error) {
	c.state.Store(s)
	switch s {
	case StateConnecting:
		c.metrics.SetConnectionState(metrics.StateConnecting)
	case StateOpen:
		c.metrics.SetConnectionState(metrics.StateOpen)
	default:
		c.metrics.SetConnectionState(metrics.StateDisconnected)
	}
	ch := StateChange{State: s, Attempt: int(c.attempts.Load())}
	if err != nil {
		ch.Err = err.Error()
	}
	c.bus.Publish(eventbus.Event{Type: eventbus.TopicConnectionState, Data: ch})
	if s == StateFailed {
		c.log.Warn("push connection state", logx.String("state", string(s)), logx.Err(err))
	} else {
		c.log.Debug("push connection state", logx.String("state", string(s)))
	}
}
