package ics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"

	appLog "lilcal/internal/log"
)

// ErrNoCachedFeed is returned when the server answers 304 but nothing was
// stored for the feed yet.
var ErrNoCachedFeed = errors.New("feed unchanged upstream but not cached locally")

// Source is one subscribed calendar feed.
type Source struct {
	ID  string
	URL string
}

// FetchResult carries the payload for one source, fresh or cached.
type FetchResult struct {
	Source    Source
	Body      []byte
	FromCache bool
}

// feedState holds the validators of the last 200 response for one feed.
type feedState struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	FetchedAt    time.Time `json:"fetched_at"`
}

const (
	stateName = "state.json"
	feedName  = "feed.ics"
)

// Fetcher downloads ICS feeds with conditional requests. The last good body
// of each feed is kept on disk and served while the feed is unreachable.
type Fetcher struct {
	client *http.Client
	root   string
}

// NewFetcher stores feeds under root, one directory per URL. A nil client
// gets a 15s timeout.
func NewFetcher(root string, client *http.Client) *Fetcher {
	if root == "" {
		root = "./var/ics-cache"
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Fetcher{client: client, root: root}
}

// FetchAll fetches sources in order. Only usable bodies are returned; each
// failed source contributes one error.
func (f *Fetcher) FetchAll(ctx context.Context, sources []Source) ([]FetchResult, []error) {
	results := make([]FetchResult, 0, len(sources))
	var errs []error

	for _, src := range sources {
		res, err := f.FetchOne(ctx, src)
		if err != nil {
			appLog.Error("feed unavailable", err, "feed", src.ID, "host", redactURL(src.URL))
			errs = append(errs, fmt.Errorf("feed %s: %w", src.ID, err))
			continue
		}
		results = append(results, res)
	}

	return results, errs
}

// FetchOne fetches a single source. Transport errors and unexpected statuses
// fall back to the stored body when there is one.
func (f *Fetcher) FetchOne(ctx context.Context, src Source) (FetchResult, error) {
	if src.URL == "" {
		return FetchResult{}, errors.New("feed has no URL")
	}

	dir := f.dirFor(src.URL)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return FetchResult{}, err
	}

	state, _ := loadState(dir)
	stored, _ := os.ReadFile(filepath.Join(dir, feedName))

	useStored := func(cause error) (FetchResult, error) {
		if len(stored) == 0 {
			return FetchResult{}, cause
		}
		appLog.Warn("serving stored feed", "feed", src.ID, "host", redactURL(src.URL), "cause", cause.Error())
		return FetchResult{Source: src, Body: stored, FromCache: true}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return FetchResult{}, err
	}
	if state.ETag != "" {
		req.Header.Set("If-None-Match", state.ETag)
	}
	if state.LastModified != "" {
		req.Header.Set("If-Modified-Since", state.LastModified)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return useStored(err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNotModified:
		if len(stored) == 0 {
			return FetchResult{}, ErrNoCachedFeed
		}
		appLog.Debug("feed unchanged", "feed", src.ID)
		return FetchResult{Source: src, Body: stored, FromCache: true}, nil

	case http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return useStored(err)
		}
		next := feedState{
			URL:          src.URL,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
			FetchedAt:    time.Now().UTC(),
		}
		if err := storeFeed(dir, next, body); err != nil {
			appLog.Error("could not store feed", err, "feed", src.ID)
		}
		appLog.Debug("feed downloaded", "feed", src.ID, "size", len(body))
		return FetchResult{Source: src, Body: body}, nil

	default:
		return useStored(fmt.Errorf("unexpected status %s", resp.Status))
	}
}

func (f *Fetcher) dirFor(rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	return filepath.Join(f.root, hex.EncodeToString(sum[:8]))
}

func loadState(dir string) (feedState, error) {
	var st feedState
	data, err := os.ReadFile(filepath.Join(dir, stateName))
	if err != nil {
		return st, err
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return feedState{}, err
	}
	return st, nil
}

// storeFeed writes the body first so the state never describes a body that
// is not on disk.
func storeFeed(dir string, st feedState, body []byte) error {
	if err := os.WriteFile(filepath.Join(dir, feedName), body, 0o600); err != nil {
		return err
	}
	data, err := json.Marshal(&st)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, stateName), data, 0o600)
}

// redactURL keeps scheme and host only; feed URLs often embed tokens.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "ics://...(redacted)"
	}
	return u.Scheme + "://" + u.Host + "/...(redacted)"
}
