package refresh

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lilcal/internal/config"
	"lilcal/internal/energy"
	"lilcal/internal/ics"
	"lilcal/internal/model"
)

const feed = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//lilcal//test//EN\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:review@example.com\r\n" +
	"SUMMARY:Review\r\n" +
	"DTSTART:20250314T010000Z\r\n" +
	"DTEND:20250314T030000Z\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

type stubFetcher struct {
	calls int
	// body overrides feed when set.
	body string
}

func (s *stubFetcher) FetchAll(_ context.Context, sources []ics.Source) ([]ics.FetchResult, []error) {
	s.calls++
	out := make([]ics.FetchResult, 0, len(sources))
	var errs []error
	for _, src := range sources {
		if src.ID == "down" {
			errs = append(errs, errors.New("unreachable"))
			continue
		}
		body := feed
		if s.body != "" {
			body = s.body
		}
		out = append(out, ics.FetchResult{Source: src, Body: []byte(body)})
	}
	return out, errs
}

var now = time.Date(2025, 3, 14, 0, 30, 0, 0, time.UTC)

func newConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Timezone = "UTC"
	cfg.ICS = []config.ICSConfig{
		{ID: "work", URL: "https://example.com/work.ics"},
		{ID: "down", URL: "https://example.com/down.ics"},
	}
	return cfg
}

func staticReader(t *testing.T, level float64) energy.Reader {
	t.Helper()
	r, err := energy.NewStaticReader(level)
	require.NoError(t, err)
	return r
}

func TestRefreshOnceMergesConfigAndFeeds(t *testing.T) {
	fetcher := &stubFetcher{}
	r := New(newConfig(), fetcher, staticReader(t, 0.6), WithClock(func() time.Time { return now }))

	require.NoError(t, r.RefreshOnce(context.Background()))
	snap := r.Snapshot()

	// Defaults: -0.5h+1h, 0h+1.5h, 2h+1h around midnight; feed adds 01:00-03:00.
	require.Len(t, snap.Events, 1)
	day := time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)
	assert.True(t, snap.Events[0].Start.Equal(day.Add(-30*time.Minute)))
	assert.True(t, snap.Events[0].End().Equal(day.Add(3*time.Hour)))
	assert.Equal(t, 4, snap.Events[0].Merged)

	assert.Equal(t, 0.6, snap.Energy.Level)
	assert.Equal(t, now, snap.UpdatedAt)
	assert.Equal(t, 1, fetcher.calls)
}

func TestRefreshOnceKeepsPreviousOnError(t *testing.T) {
	cfg := newConfig()
	r := New(cfg, &stubFetcher{}, staticReader(t, 0.6), WithClock(func() time.Time { return now }))
	require.NoError(t, r.RefreshOnce(context.Background()))
	before := r.Snapshot()

	neg := 1.0
	cfg.Events = append(cfg.Events, config.EventConfig{ID: "bad", RelativeToToday: &neg, Length: -3})

	err := r.RefreshOnce(context.Background())
	assert.ErrorIs(t, err, model.ErrInvalidEvent)
	assert.Equal(t, before, r.Snapshot())
}

func TestRefreshOnceRejectsInvalidFeedEvent(t *testing.T) {
	fetcher := &stubFetcher{}
	r := New(newConfig(), fetcher, staticReader(t, 0.6), WithClock(func() time.Time { return now }))
	require.NoError(t, r.RefreshOnce(context.Background()))
	before := r.Snapshot()

	// DTEND before DTSTART.
	fetcher.body = strings.Replace(feed, "DTEND:20250314T030000Z", "DTEND:20250314T000000Z", 1)

	err := r.RefreshOnce(context.Background())
	assert.ErrorIs(t, err, model.ErrInvalidEvent)
	assert.Equal(t, before, r.Snapshot())
}

func TestScheduledJobSkipsWhileRunning(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	hook := func(context.Context, Snapshot) error {
		entered <- struct{}{}
		<-release
		return nil
	}

	fetcher := &stubFetcher{}
	r := New(newConfig(), fetcher, staticReader(t, 1), WithClock(func() time.Time { return now }), WithHook(hook))
	job := r.job(context.Background())

	done := make(chan struct{})
	go func() {
		job.Run()
		close(done)
	}()
	<-entered

	// The overlapping tick returns at once without refreshing.
	job.Run()

	close(release)
	<-done
	assert.Equal(t, 1, fetcher.calls)
}

func TestRefreshOnceRunsHooks(t *testing.T) {
	var got []Snapshot
	hook := func(_ context.Context, s Snapshot) error {
		got = append(got, s)
		return errors.New("hooks do not fail the refresh")
	}

	cfg := newConfig()
	cfg.ICS = nil
	r := New(cfg, nil, staticReader(t, 1), WithClock(func() time.Time { return now }), WithHook(hook))

	require.NoError(t, r.RefreshOnce(context.Background()))
	require.Len(t, got, 1)
	assert.Equal(t, r.Snapshot(), got[0])
}

func TestStartRejectsBadCron(t *testing.T) {
	cfg := newConfig()
	cfg.RefreshCron = "not a schedule"
	r := New(cfg, nil, staticReader(t, 1))

	err := r.Start(context.Background())
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestStartAndStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := New(newConfig(), &stubFetcher{}, staticReader(t, 1))
	require.NoError(t, r.Start(ctx))
	r.Stop()
}
