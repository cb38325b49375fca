package ics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lilcal/internal/model"
)

const feed = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//lilcal//test//EN\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:standup@example.com\r\n" +
	"SUMMARY:Standup\r\n" +
	"DTSTART:20250314T090000Z\r\n" +
	"DTEND:20250314T093000Z\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:offsite@example.com\r\n" +
	"SUMMARY:Offsite\r\n" +
	"DTSTART;VALUE=DATE:20250317\r\n" +
	"DTEND;VALUE=DATE:20250319\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:weekly@example.com\r\n" +
	"SUMMARY:Weekly\r\n" +
	"DTSTART:20250310T140000Z\r\n" +
	"DTEND:20250310T150000Z\r\n" +
	"RRULE:FREQ=WEEKLY\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

// brokenFeed has a valid event followed by one that ends before it starts.
const brokenFeed = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//lilcal//test//EN\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:standup@example.com\r\n" +
	"DTSTART:20250314T090000Z\r\n" +
	"DTEND:20250314T093000Z\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:broken@example.com\r\n" +
	"SUMMARY:Ends before it starts\r\n" +
	"DTSTART:20250314T120000Z\r\n" +
	"DTEND:20250314T110000Z\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func TestParseICS(t *testing.T) {
	src := Source{ID: "work", URL: "https://example.com/cal.ics"}

	events, err := ParseICS(src, []byte(feed), time.UTC)
	require.NoError(t, err)
	require.Len(t, events, 3)

	byID := map[string]int{}
	for i, ev := range events {
		byID[ev.ID] = i
		assert.Equal(t, "work", ev.SourceID)
	}

	standup := events[byID["standup@example.com"]]
	assert.Equal(t, "Standup", standup.Summary)
	assert.True(t, standup.Start.Equal(time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)))
	assert.InDelta(t, 0.5, standup.Length, 1e-9)

	offsite := events[byID["offsite@example.com"]]
	assert.Equal(t, time.Date(2025, 3, 17, 0, 0, 0, 0, time.UTC), offsite.Start)
	assert.InDelta(t, 48.0, offsite.Length, 1e-9)

	weekly := events[byID["weekly@example.com"]]
	assert.InDelta(t, 1.0, weekly.Length, 1e-9, "only the first occurrence is kept")
}

func TestParseICSRejectsInvalidEvent(t *testing.T) {
	events, err := ParseICS(Source{ID: "work"}, []byte(brokenFeed), time.UTC)
	assert.ErrorIs(t, err, model.ErrInvalidEvent)
	assert.Contains(t, err.Error(), "broken@example.com")
	assert.Nil(t, events)
}

func TestParseICSEmptyBody(t *testing.T) {
	_, err := ParseICS(Source{ID: "x"}, nil, time.UTC)
	assert.Error(t, err)
}

func TestFetchOneCachesAndRevalidates(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte(feed))
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir(), srv.Client())
	src := Source{ID: "work", URL: srv.URL + "/private/cal.ics"}

	first, err := f.FetchOne(context.Background(), src)
	require.NoError(t, err)
	assert.False(t, first.FromCache)
	assert.Equal(t, feed, string(first.Body))

	second, err := f.FetchOne(context.Background(), src)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, feed, string(second.Body))
	assert.Equal(t, int32(2), hits.Load())
}

func TestFetchOneFallsBackOnServerError(t *testing.T) {
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			http.Error(w, "boom", http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(feed))
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir(), srv.Client())
	src := Source{ID: "work", URL: srv.URL}

	_, err := f.FetchOne(context.Background(), src)
	require.NoError(t, err)

	fail.Store(true)
	res, err := f.FetchOne(context.Background(), src)
	require.NoError(t, err)
	assert.True(t, res.FromCache)
}

func TestFetchOneNotModifiedWithoutCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotModified)
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir(), srv.Client())
	_, err := f.FetchOne(context.Background(), Source{ID: "work", URL: srv.URL})
	assert.ErrorIs(t, err, ErrNoCachedFeed)
}

func TestFetchAllReportsFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/missing.ics") {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(feed))
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir(), srv.Client())
	results, errs := f.FetchAll(context.Background(), []Source{
		{ID: "ok", URL: srv.URL + "/ok.ics"},
		{ID: "missing", URL: srv.URL + "/missing.ics"},
		{ID: "empty"},
	})

	require.Len(t, results, 1)
	assert.Equal(t, "ok", results[0].Source.ID)
	assert.Len(t, errs, 2)
}

func TestRedactURL(t *testing.T) {
	assert.Equal(t, "https://example.com/...(redacted)", redactURL("https://example.com/secret/path.ics?token=abc"))
	assert.Equal(t, "ics://...(redacted)", redactURL("not a url"))
}
