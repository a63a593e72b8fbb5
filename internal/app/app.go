package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"taskbell/internal/alert"
	"taskbell/internal/channel"
	"taskbell/internal/clearctl"
	"taskbell/internal/config"
	"taskbell/internal/digest"
	"taskbell/internal/eventbus"
	"taskbell/internal/metrics"
	"taskbell/internal/notice"
	"taskbell/internal/observability/debughttp"
	"taskbell/internal/router"
	rtsup "taskbell/internal/runtime/supervisor"
	"taskbell/internal/search"
	"taskbell/internal/storage"
	"taskbell/internal/transport/ws"
	"taskbell/internal/view/console"
	logx "taskbell/pkg/logx"
)

// StopReason is logged when the app stops.
type StopReason string

const (
	StopUnknown    StopReason = "unknown"
	StopSignal     StopReason = "signal"
	StopFatalError StopReason = "fatal_error"
	StopAppStop    StopReason = "app_stop"
)

var ErrNotStarted = errors.New("app not started")

type App struct {
	cfgPath string
	cfgm    *config.ConfigManager

	log     logx.Logger
	logs    *logx.Service
	bus     eventbus.Bus
	store   storage.Store
	metrics *metrics.Metrics

	client  *http.Client
	jar     *cookiejar.Jar
	baseURL *url.URL

	view     *console.View
	channels *channel.Store
	alerts   *alert.Manager
	router   *router.Router
	ws       *ws.Client
	clear    *clearctl.Controller
	search   *search.Coalescer
	digest   *digest.Service
	debug    *debughttp.Service

	diags  diagRing
	frames chan []byte

	mu        sync.Mutex
	sup       *rtsup.Supervisor
	pageClear clearctl.Config
	pageQuery string
}

type Option func(*appOptions)

type appOptions struct {
	out io.Writer
}

// WithOutput sets where the console view writes; nil discards.
func WithOutput(w io.Writer) Option { return func(o *appOptions) { o.out = w } }

// NewApp loads the config at cfgPath and builds every component. Nothing runs
// until Start.
func NewApp(cfgPath string, opts ...Option) (*App, error) {
	var o appOptions
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	bus := eventbus.New()
	logSvc, log := logx.New(mapLogConfig(cfg), busSink{bus: bus})
	log = log.With(logx.String("comp", "app"))

	base, err := url.Parse(strings.TrimSpace(cfg.Server.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("server.base_url: %w", err)
	}
	client, jar, err := newHTTPClient(cfg)
	if err != nil {
		return nil, err
	}

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	m := metrics.New()
	view := console.New(o.out)
	channels := channel.New(view, channel.WithFeedCap(cfg.Channels.FeedCap))

	delay, err := mapAlertDelay(cfg)
	if err != nil {
		return nil, err
	}
	var alerts *alert.Manager
	alerts = alert.New(view,
		alert.WithDelay(delay),
		alert.WithLogger(log.With(logx.String("comp", "alert"))),
		alert.WithHooks(alert.Hooks{
			OnShow: func(r alert.Rendered) {
				m.SetAlertsActive(alerts.Active())
				bus.Publish(eventbus.Event{Type: eventbus.TopicAlertShown, Time: time.Now(), Data: r})
			},
			OnDismiss: func(id, reason string) {
				m.SetAlertsActive(alerts.Active())
				bus.Publish(eventbus.Event{Type: eventbus.TopicAlertDismissed, Time: time.Now(), Data: map[string]string{"id": id, "reason": reason}})
			},
		}),
	)

	rt := router.New(channels, alerts,
		router.WithBus(bus),
		router.WithMetrics(m),
		router.WithLogger(log.With(logx.String("comp", "router"))),
	)

	wsCfg, err := mapWSConfig(cfg)
	if err != nil {
		return nil, err
	}
	wsc, err := ws.New(wsCfg,
		ws.WithLogger(log.With(logx.String("comp", "ws"))),
		ws.WithBus(bus),
		ws.WithMetrics(m),
	)
	if err != nil {
		return nil, err
	}

	clearCfg, err := mapClearConfig(cfg, clearctl.Config{})
	if err != nil {
		return nil, err
	}
	cc := clearctl.New(channels, clearCfg,
		clearctl.WithHTTPClient(client),
		clearctl.WithAudit(store),
		clearctl.WithBus(bus),
		clearctl.WithMetrics(m),
		clearctl.WithLogger(log.With(logx.String("comp", "clear"))),
	)

	searchCfg, err := mapSearchConfig(cfg, "")
	if err != nil {
		return nil, err
	}
	sc, err := search.New(view, searchCfg,
		search.WithHTTPClient(client),
		search.WithAudit(store),
		search.WithBus(bus),
		search.WithMetrics(m),
		search.WithLogger(log.With(logx.String("comp", "search"))),
	)
	if err != nil {
		return nil, err
	}

	dg := digest.New(mapDigestConfig(cfg), channels, log.With(logx.String("comp", "digest")), bus)
	if err := dg.Validate(cfg.Digest.Schedule); err != nil {
		return nil, fmt.Errorf("digest.schedule: %w", err)
	}

	debugCfg, err := mapDebugConfig(cfg)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfgPath:  cfgPath,
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		bus:      bus,
		store:    store,
		metrics:  m,
		client:   client,
		jar:      jar,
		baseURL:  base,
		view:     view,
		channels: channels,
		alerts:   alerts,
		router:   rt,
		ws:       wsc,
		clear:    cc,
		search:   sc,
		digest:   dg,
		frames:   make(chan []byte, 64),
	}
	a.debug = debughttp.New(debugCfg, log.With(logx.String("comp", "debughttp")),
		debughttp.WithMetrics(m.Handler()),
		debughttp.WithStatus(func() any { return a.Status() }),
	)
	return a, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	sup := a.supervisor()
	if sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	sup := a.supervisor()
	if sup == nil {
		return nil
	}
	return sup.Err()
}

func (a *App) supervisor() *rtsup.Supervisor {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sup
}

// Start seeds state from the page, opens the push connection and starts the
// background loops.
func (a *App) Start(ctx context.Context) error {
	sup := rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.mu.Lock()
	a.sup = sup
	a.mu.Unlock()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(a.validate)

	cfg := a.cfgm.Get()
	if cfg.Server.BootstrapEnabled() {
		st, err := a.bootstrap(sup.Context(), cfg)
		if err != nil {
			a.log.Warn("page bootstrap failed; starting empty", logx.Err(err))
		} else {
			a.mu.Lock()
			a.pageClear = a.clearFromPage(st)
			a.pageQuery = searchQuery(st)
			a.mu.Unlock()
			a.log.Info("page state loaded",
				logx.Int("task_unread", st.Channel(notice.Task).State().Unread),
				logx.Int("payment_unread", st.Channel(notice.Payment).State().Unread),
				logx.Bool("csrf_token_set", a.pageClear.CSRFToken != ""),
			)
		}
		if err := a.applyPageSettings(cfg); err != nil {
			return err
		}
	}

	// The router is the single consumer of pushed frames.
	sup.Go0("router", func(c context.Context) { a.router.Run(c, a.frames) })

	if err := a.ws.Start(sup.Context(), a.frames); err != nil {
		return err
	}

	events, unsub := a.bus.Subscribe(128)
	sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				if d, ok := e.Data.(logx.Diagnostic); ok && e.Type == eventbus.TopicDiagnostic {
					a.diags.add(d)
					continue
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	if err := a.digest.Start(sup.Context()); err != nil {
		return err
	}
	if a.debug.Enabled() {
		a.debug.Start(sup.Context())
	}

	sub := a.cfgm.Subscribe(8)
	sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started", logx.String("endpoint", a.ws.Endpoint()))
	return nil
}

// validate runs before a reloaded config is committed.
func (a *App) validate(_ context.Context, cfg *config.Config) error {
	if _, err := mapWSConfig(cfg); err != nil {
		return err
	}
	if _, err := mapAlertDelay(cfg); err != nil {
		return err
	}
	if _, err := mapClearConfig(cfg, clearctl.Config{}); err != nil {
		return err
	}
	if _, err := mapSearchConfig(cfg, ""); err != nil {
		return err
	}
	if _, err := mapDebugConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if err := a.digest.Validate(cfg.Digest.Schedule); err != nil {
		return fmt.Errorf("digest.schedule: %w", err)
	}
	if tz := strings.TrimSpace(cfg.Digest.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("digest.timezone: invalid %q: %w", tz, err)
		}
	}
	return nil
}

// applyPageSettings merges page-derived clear and search settings with cfg.
func (a *App) applyPageSettings(cfg *config.Config) error {
	a.mu.Lock()
	pc, pq := a.pageClear, a.pageQuery
	a.mu.Unlock()

	cc, err := mapClearConfig(cfg, pc)
	if err != nil {
		return err
	}
	a.clear.Apply(cc)
	sc, err := mapSearchConfig(cfg, pq)
	if err != nil {
		return err
	}
	return a.search.Apply(sc)
}

func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if restart := config.RestartRequired(sections); len(restart) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect", logx.String("sections", strings.Join(restart, ",")))
	}

	a.logs.Apply(mapLogConfig(newCfg))

	if d, err := mapAlertDelay(newCfg); err == nil {
		a.alerts.SetDelay(d)
	}
	if err := a.applyPageSettings(newCfg); err != nil {
		a.log.Warn("invalid clear/search config; keeping previous", logx.Err(err))
	}
	if err := a.digest.Apply(mapDigestConfig(newCfg)); err != nil {
		a.log.Warn("invalid digest config; keeping previous", logx.Err(err))
	} else if strings.TrimSpace(oldCfg.Digest.Schedule) == "" {
		if err := a.digest.Start(ctx); err != nil {
			a.log.Warn("digest start failed", logx.Err(err))
		}
	}
	if dc, err := mapDebugConfig(newCfg); err != nil {
		a.log.Warn("invalid debug config; keeping previous", logx.Err(err))
	} else {
		a.debug.Reconfigure(ctx, dc)
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// Clear asks the server to clear one channel.
func (a *App) Clear(ctx context.Context, ch notice.Category) error {
	return a.clear.Clear(ctx, ch)
}

// Search feeds a term into the debounced search as if typed.
func (a *App) Search(term string) { a.search.OnInput(term) }

// SearchNow submits a term; it shares the debounce window with typing.
func (a *App) SearchNow(term string) { a.search.OnSubmit(term) }

// Navigate replays a history entry (query string) and searches immediately.
func (a *App) Navigate(query string) { a.search.OnHistory(query) }

// Dismiss closes an alert by id or unique id prefix.
func (a *App) Dismiss(idOrPrefix string) error {
	id, ok := a.view.ResolveAlert(idOrPrefix)
	if !ok {
		return alert.ErrUnknownAlert
	}
	return a.alerts.Dismiss(id)
}

// Digest builds and publishes a summary now.
func (a *App) Digest() digest.Summary { return a.digest.RunNow() }

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	sup := a.supervisor()
	if sup == nil {
		return ErrNotStarted
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancel the run context first so background loops start unwinding.
	sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		if dl, ok := ctx.Deadline(); ok {
			// respect the caller's deadline; never extend it
			max = min(max, time.Until(dl))
		}
		if max > 0 {
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("ws", 2*time.Second, a.ws.Stop)
	step("search", time.Second, func(context.Context) error { a.search.Close(); return nil })
	step("alerts", time.Second, func(context.Context) error { a.alerts.CloseAll(); return nil })
	step("digest", 2*time.Second, a.digest.Stop)
	step("debughttp", time.Second, func(c context.Context) error { a.debug.Stop(c); return nil })
	step("supervisor", 2*time.Second, sup.Wait)
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
