package capture

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"lilcal/internal/config"
	appLog "lilcal/internal/log"
)

const (
	DefaultWidth   = 1280
	DefaultHeight  = 960
	DefaultTimeout = 30 * time.Second

	// ReadySelector is set by the /calendar page once it has rendered.
	ReadySelector = `[data-ready="true"]`
)

// Options defines parameters for a Chromium-based screenshot capture.
type Options struct {
	// URL of the calendar page, e.g. "http://127.0.0.1:8080/calendar".
	URL string
	// OutputPath is where the PNG is written.
	OutputPath string
	// Viewport size in pixels; zero selects the defaults.
	Width  int
	Height int
	// Timeout bounds the whole capture; zero selects DefaultTimeout.
	Timeout time.Duration
	// Username and Password are sent as HTTP Basic Auth when both are set.
	Username string
	Password string
}

// FromConfig builds Options from the capture section of the config. When the
// web UI is behind basic auth, the same credentials are used for the page.
func FromConfig(cfg *config.Config) Options {
	c := cfg.Capture
	o := Options{
		URL:        c.URL,
		OutputPath: c.Output,
		Width:      c.Width,
		Height:     c.Height,
	}
	if cfg.BasicAuth != nil {
		o.Username = cfg.BasicAuth.Username
		o.Password = cfg.BasicAuth.Password
	}
	return o
}

// headers returns the extra request headers for the page load, or nil.
func (o Options) headers() network.Headers {
	if o.Username == "" || o.Password == "" {
		return nil
	}
	token := base64.StdEncoding.EncodeToString([]byte(o.Username + ":" + o.Password))
	return network.Headers{"Authorization": "Basic " + token}
}

// tasks is the browser script for one capture, writing the PNG into png.
func (o Options) tasks(png *[]byte) chromedp.Tasks {
	var t chromedp.Tasks
	if h := o.headers(); h != nil {
		t = append(t, network.Enable(), network.SetExtraHTTPHeaders(h))
	}
	return append(t,
		chromedp.EmulateViewport(int64(o.Width), int64(o.Height)),
		chromedp.Navigate(o.URL),
		chromedp.WaitVisible(ReadySelector, chromedp.ByQuery),
		chromedp.FullScreenshot(png, 100),
	)
}

func (o *Options) normalize() error {
	if o.URL == "" {
		return errors.New("capture: URL is required")
	}
	if o.OutputPath == "" {
		return errors.New("capture: OutputPath is required")
	}
	if o.Width <= 0 {
		o.Width = DefaultWidth
	}
	if o.Height <= 0 {
		o.Height = DefaultHeight
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	return nil
}

// CalendarPNG drives headless Chromium to opts.URL, waits for ReadySelector
// and writes a full-page PNG to opts.OutputPath.
func CalendarPNG(parent context.Context, opts Options) error {
	if err := opts.normalize(); err != nil {
		return err
	}

	ctx, cancel := chromedp.NewContext(parent)
	defer cancel()
	ctx, timeoutCancel := context.WithTimeout(ctx, opts.Timeout)
	defer timeoutCancel()

	var png []byte
	started := time.Now()
	if err := chromedp.Run(ctx, opts.tasks(&png)); err != nil {
		return fmt.Errorf("capture: chromedp run failed: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(opts.OutputPath), 0o755); err != nil {
		return fmt.Errorf("capture: %w", err)
	}
	if err := os.WriteFile(opts.OutputPath, png, 0o644); err != nil {
		return fmt.Errorf("capture: failed to write PNG: %w", err)
	}

	appLog.Info("calendar captured", "output", opts.OutputPath, "bytes", len(png), "took", time.Since(started).String())
	return nil
}
