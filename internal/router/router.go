// Package router turns raw push payloads into channel updates and alerts.
package router

import (
	"context"
	"errors"
	"sync/atomic"

	"taskbell/internal/alert"
	"taskbell/internal/channel"
	"taskbell/internal/eventbus"
	"taskbell/internal/metrics"
	"taskbell/internal/notice"
	logx "taskbell/pkg/logx"
)

const previewLen = 120

// Channels is the subset of the channel store the router writes to.
type Channels interface {
	Accept(ch notice.Category, e channel.Entry) int
}

// Alerts displays transient alerts.
type Alerts interface {
	Display(a notice.TransientAlert) *alert.Toast
}

// Routed is published on the bus for every accepted notice.
type Routed struct {
	Channel string `json:"channel"`
	TaskID  string `json:"task_id"`
	Link    string `json:"link"`
	Message string `json:"message"`
	Unread  int    `json:"unread"`
}

// Dropped is published on the bus for every rejected payload.
type Dropped struct {
	Reason  string `json:"reason"`
	Error   string `json:"error"`
	Preview string `json:"preview"`
}

type Router struct {
	store   Channels
	alerts  Alerts
	bus     eventbus.Bus
	metrics *metrics.Metrics
	log     logx.Logger

	handled atomic.Uint64
	dropped atomic.Uint64
}

type Option func(*Router)

func WithBus(b eventbus.Bus) Option {
	return func(r *Router) {
		if b != nil {
			r.bus = b
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option { return func(r *Router) { r.metrics = m } }

func WithLogger(log logx.Logger) Option { return func(r *Router) { r.log = log } }

func New(store Channels, alerts Alerts, opts ...Option) *Router {
	r := &Router{
		store:  store,
		alerts: alerts,
		bus:    eventbus.Nop(),
		log:    logx.Nop(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Handle processes one payload. Malformed payloads are dropped and reported;
// the returned error is informational and never fatal. Duplicates are not
// detected: every accepted payload increments its channel.
func (r *Router) Handle(ctx context.Context, raw []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n, err := notice.Parse(raw)
	if err != nil {
		r.drop(raw, err)
		return err
	}

	unread := r.store.Accept(n.Category, channel.Entry{Link: n.Link, Message: n.Message})
	if r.alerts != nil {
		r.alerts.Display(n.Alert())
	}
	r.handled.Add(1)

	ch := n.Category.String()
	r.metrics.NoticeRouted(ch, unread)
	r.log.Debug("notice routed",
		logx.String("channel", ch),
		logx.String("task_id", n.TaskID),
		logx.Int("unread", unread),
	)
	r.bus.Publish(eventbus.Event{
		Type: eventbus.TopicNoticeRouted,
		Data: Routed{Channel: ch, TaskID: n.TaskID, Link: n.Link, Message: n.Message, Unread: unread},
	})
	return nil
}

// Run consumes payloads in arrival order until ctx is done or in is closed.
func (r *Router) Run(ctx context.Context, in <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-in:
			if !ok {
				return
			}
			_ = r.Handle(ctx, raw)
		}
	}
}

// Stats returns accepted and dropped totals since start.
func (r *Router) Stats() (handled, dropped uint64) {
	return r.handled.Load(), r.dropped.Load()
}

func (r *Router) drop(raw []byte, err error) {
	reason := "malformed"
	if errors.Is(err, notice.ErrEmpty) {
		reason = "empty"
	}
	r.dropped.Add(1)
	r.metrics.PayloadDropped(reason)
	preview := notice.Preview(raw, previewLen)
	r.log.Warn("payload dropped",
		logx.String("reason", reason),
		logx.String("preview", preview),
		logx.Err(err),
	)
	r.bus.Publish(eventbus.Event{
		Type: eventbus.TopicPayloadDropped,
		Data: Dropped{Reason: reason, Error: err.Error(), Preview: preview},
	})
}
