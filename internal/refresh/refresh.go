// Package refresh keeps the merged event set and the current energy reading
// up to date, either on demand or on a cron schedule.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"lilcal/internal/config"
	"lilcal/internal/energy"
	"lilcal/internal/ics"
	"lilcal/internal/layout"
	appLog "lilcal/internal/log"
	"lilcal/internal/model"
)

// Snapshot is an immutable view of the last successful refresh.
type Snapshot struct {
	Events    []model.FlattenedEvent
	Energy    energy.Reading
	UpdatedAt time.Time
}

// Fetcher is the subset of *ics.Fetcher the refresher needs.
type Fetcher interface {
	FetchAll(ctx context.Context, sources []ics.Source) ([]ics.FetchResult, []error)
}

// Hook runs after each successful refresh (e.g. a screenshot capture).
type Hook func(ctx context.Context, snap Snapshot) error

type Refresher struct {
	cfg     *config.Config
	fetcher Fetcher
	energy  energy.Reader
	now     func() time.Time
	hooks   []Hook

	mu   sync.RWMutex
	snap Snapshot

	cron *cron.Cron
}

// Option customizes a Refresher.
type Option func(*Refresher)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Refresher) { r.now = now }
}

// WithHook registers a post-refresh hook.
func WithHook(h Hook) Option {
	return func(r *Refresher) { r.hooks = append(r.hooks, h) }
}

func New(cfg *config.Config, fetcher Fetcher, reader energy.Reader, opts ...Option) *Refresher {
	r := &Refresher{
		cfg:     cfg,
		fetcher: fetcher,
		energy:  reader,
		now:     time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Snapshot returns the last successful refresh result.
func (r *Refresher) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snap
}

// RefreshOnce collects events from the config and all ICS feeds, merges them
// and swaps the snapshot. If a feed holds an invalid event or merging fails,
// the previous snapshot is kept. Unreachable feeds without a cache are
// logged and contribute nothing.
func (r *Refresher) RefreshOnce(ctx context.Context) error {
	now := r.now()

	loc, err := r.cfg.Location()
	if err != nil {
		return fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}

	events, err := r.cfg.EventList(now)
	if err != nil {
		return err
	}

	if sources := r.sources(); len(sources) > 0 && r.fetcher != nil {
		results, errs := r.fetcher.FetchAll(ctx, sources)
		if len(errs) > 0 {
			appLog.Warn("refresh: some feeds failed", "failed", len(errs), "total", len(sources), "err", errors.Join(errs...).Error())
		}
		for _, res := range results {
			parsed, perr := ics.ParseICS(res.Source, res.Body, loc)
			if perr != nil {
				appLog.Error("refresh: feed rejected, keeping previous events", perr, "id", res.Source.ID)
				return perr
			}
			events = append(events, parsed...)
		}
	}

	merged, err := layout.Merge(events)
	if err != nil {
		appLog.Error("refresh: merge failed, keeping previous events", err, "event_count", len(events))
		return err
	}

	reading, err := r.energy.Read(ctx)
	if err != nil {
		return fmt.Errorf("refresh: read energy: %w", err)
	}

	snap := Snapshot{
		Events:    merged,
		Energy:    reading,
		UpdatedAt: now,
	}

	r.mu.Lock()
	r.snap = snap
	r.mu.Unlock()

	appLog.Info("refresh completed",
		"input_events", len(events),
		"merged_events", len(merged),
		"energy", reading.Level,
		"energy_source", reading.Source,
	)

	for _, h := range r.hooks {
		if err := h(ctx, snap); err != nil {
			appLog.Error("refresh: hook failed", err)
		}
	}
	return nil
}

func (r *Refresher) sources() []ics.Source {
	out := make([]ics.Source, 0, len(r.cfg.ICS))
	for _, c := range r.cfg.ICS {
		if c.URL == "" {
			continue
		}
		id := c.ID
		if id == "" {
			id = c.Name
		}
		if id == "" {
			id = c.URL
		}
		out = append(out, ics.Source{ID: id, URL: c.URL})
	}
	return out
}

// Start schedules RefreshOnce on cfg.RefreshCron. It returns after
// scheduling; Stop (or ctx cancellation) ends the schedule.
func (r *Refresher) Start(ctx context.Context) error {
	loc, err := r.cfg.Location()
	if err != nil {
		return err
	}

	c := cron.New(cron.WithLocation(loc), cron.WithLogger(cronLogger{}))
	if _, err := c.AddJob(r.cfg.RefreshCron, r.job(ctx)); err != nil {
		return fmt.Errorf("%w: refresh %q: %v", config.ErrInvalidConfig, r.cfg.RefreshCron, err)
	}

	r.cron = c
	c.Start()
	appLog.Info("refresh scheduler started", "cron", r.cfg.RefreshCron)

	go func() {
		<-ctx.Done()
		r.Stop()
	}()
	return nil
}

// job is the scheduled refresh. A tick that fires while the previous pass
// (feeds plus capture hooks) is still running is skipped.
func (r *Refresher) job(ctx context.Context) cron.Job {
	return cron.NewChain(cron.SkipIfStillRunning(cronLogger{})).Then(cron.FuncJob(func() {
		if err := r.RefreshOnce(ctx); err != nil {
			appLog.Error("scheduled refresh failed", err)
		}
	}))
}

// cronLogger routes cron's own messages into the app logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, kv ...any) {
	appLog.Debug("cron: "+msg, kv...)
}

func (cronLogger) Error(err error, msg string, kv ...any) {
	appLog.Error("cron: "+msg, err, kv...)
}

// Stop halts the schedule and waits for a running refresh to finish.
func (r *Refresher) Stop() {
	if r.cron == nil {
		return
	}
	<-r.cron.Stop().Done()
}
