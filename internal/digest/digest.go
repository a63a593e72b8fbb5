// Package digest periodically summarizes unread counts per channel.
package digest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"taskbell/internal/channel"
	"taskbell/internal/eventbus"
	logx "taskbell/pkg/logx"
)

// Source provides channel snapshots keyed by channel name.
type Source interface {
	Snapshots() map[string]channel.State
}

type Config struct {
	// Schedule is a cron spec or descriptor (e.g. "@every 5m", "0 9 * * *").
	// Empty disables the digest.
	Schedule string
	Timezone string
}

type Summary struct {
	At     time.Time      `json:"at"`
	Unread map[string]int `json:"unread"`
	Total  int            `json:"total"`
}

func (s Summary) String() string {
	names := make([]string, 0, len(s.Unread))
	for n := range s.Unread {
		names = append(names, n)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, n := range names {
		parts = append(parts, fmt.Sprintf("%s=%d", n, s.Unread[n]))
	}
	return strings.Join(parts, " ")
}

type Service struct {
	mu     sync.Mutex
	cfg    Config
	parser cron.Parser
	c      *cron.Cron
	entry  cron.EntryID
	src    Source
	bus    eventbus.Bus
	log    logx.Logger
	last   Summary
	now    func() time.Time
}

func New(cfg Config, src Source, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	return &Service{
		cfg: cfg,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		src:    src,
		bus:    bus,
		log:    log,
		now:    time.Now,
	}
}

// Validate reports whether spec parses.
func (s *Service) Validate(spec string) error {
	if strings.TrimSpace(spec) == "" {
		return nil
	}
	_, err := s.parser.Parse(spec)
	return err
}

// Start begins scheduling. It is a no-op when the schedule is empty.
func (s *Service) Start(ctx context.Context) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	return s.startLocked()
}

func (s *Service) startLocked() error {
	spec := strings.TrimSpace(s.cfg.Schedule)
	if spec == "" {
		s.log.Debug("digest disabled")
		return nil
	}
	sched, err := s.parser.Parse(spec)
	if err != nil {
		return fmt.Errorf("digest schedule %q: %w", spec, err)
	}
	loc := time.Local
	if tz := strings.TrimSpace(s.cfg.Timezone); tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
		} else {
			s.log.Warn("invalid digest timezone; using local", logx.String("tz", tz), logx.Err(err))
		}
	}
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	s.entry = s.c.Schedule(sched, cron.FuncJob(func() { s.RunNow() }))
	s.c.Start()
	s.log.Info("digest scheduled", logx.String("schedule", spec))
	return nil
}

// Apply swaps configuration and reschedules when the schedule changed.
func (s *Service) Apply(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := strings.TrimSpace(cfg.Schedule) != strings.TrimSpace(s.cfg.Schedule) ||
		strings.TrimSpace(cfg.Timezone) != strings.TrimSpace(s.cfg.Timezone)
	running := s.c != nil
	s.cfg = cfg
	if !changed || !running {
		return nil
	}
	s.stopLocked()
	return s.startLocked()
}

// Stop halts scheduling and waits for a running digest to finish.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return nil
	}
	done := c.Stop().Done()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) stopLocked() {
	if s.c != nil {
		s.c.Stop()
		s.c = nil
	}
}

// Next returns the next scheduled run, or zero when not scheduled.
func (s *Service) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return time.Time{}
	}
	return s.c.Entry(s.entry).Next
}

// RunNow builds, logs and publishes a summary.
func (s *Service) RunNow() Summary {
	sum := Summary{At: s.now(), Unread: map[string]int{}}
	if s.src != nil {
		for name, st := range s.src.Snapshots() {
			sum.Unread[name] = st.Unread
			sum.Total += st.Unread
		}
	}
	s.mu.Lock()
	s.last = sum
	s.mu.Unlock()

	s.log.Info("unread digest", logx.Int("total", sum.Total), logx.String("channels", sum.String()))
	s.bus.Publish(eventbus.Event{Type: eventbus.TopicDigest, Time: sum.At, Data: sum})
	return sum
}

// Last returns the most recent summary.
func (s *Service) Last() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}
