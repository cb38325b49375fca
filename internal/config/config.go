package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"lilcal/internal/availability"
	"lilcal/internal/model"
	"lilcal/internal/timeval"
)

// ErrInvalidConfig wraps every validation failure reported by Validate.
var ErrInvalidConfig = errors.New("invalid config")

// ICSConfig describes a single ICS subscription source.
type ICSConfig struct {
	// URL is the ICS subscription endpoint.
	URL string `yaml:"url" json:"url" validate:"required,url"`
	// ID is an internal identifier used for de-dup and logging.
	ID string `yaml:"id" json:"id"`
	// Name is a human-friendly label shown in the UI.
	Name string `yaml:"name" json:"name"`
}

// EventConfig is an event declared directly in the config file.
//
// Either Start (RFC3339 or "2006-01-02 15:04" in the configured timezone) or
// RelativeToToday (hours from today's midnight, may be negative) must be set.
type EventConfig struct {
	ID              string   `yaml:"id" json:"id"`
	Summary         string   `yaml:"summary" json:"summary"`
	Start           string   `yaml:"start,omitempty" json:"start,omitempty"`
	RelativeToToday *float64 `yaml:"relative_to_today,omitempty" json:"relative_to_today,omitempty"`
	Length          float64  `yaml:"length" json:"length"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the Web UI/API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// CaptureConfig controls the headless screenshot of the /calendar page.
type CaptureConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	URL     string `yaml:"url" json:"url"`
	Output  string `yaml:"output" json:"output"`
	Width   int    `yaml:"width" json:"width" validate:"gte=0"`
	Height  int    `yaml:"height" json:"height" validate:"gte=0"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the Web UI and API.
	Listen string `yaml:"listen" json:"listen" validate:"required"`

	// Timezone is the IANA timezone all day boundaries are computed in.
	Timezone string `yaml:"timezone" json:"timezone"`

	// WeekStart is "sunday" (default) or "monday".
	WeekStart string `yaml:"week_start" json:"week_start" validate:"oneof=sunday monday"`

	// NumWeeks is how many weeks the calendar grid shows.
	NumWeeks int `yaml:"num_weeks" json:"num_weeks" validate:"gte=1,lte=52"`

	// DayBoundaryHour shifts the start of each displayed day (e.g. 6 = 06:00).
	DayBoundaryHour float64 `yaml:"day_boundary_hour" json:"day_boundary_hour" validate:"gte=0,lt=24"`

	// RetiringHour and ReadyHour mark the "off" hours [retiring, ready).
	RetiringHour float64 `yaml:"retiring_hour" json:"retiring_hour" validate:"gte=0,lte=24"`
	ReadyHour    float64 `yaml:"ready_hour" json:"ready_hour" validate:"gte=0,lt=24"`

	// Energy is the static availability level used when EnergySource is "static".
	Energy float64 `yaml:"energy" json:"energy" validate:"gte=0,lte=1"`
	// EnergySource is "static" or "battery".
	EnergySource string `yaml:"energy_source" json:"energy_source" validate:"oneof=static battery"`
	// DecayRate is the availability drain per hour.
	DecayRate float64 `yaml:"decay_rate" json:"decay_rate" validate:"gte=0"`

	// RefreshCron is a standard 5-field cron spec for periodic refresh.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	LogLevel  string `yaml:"log_level" json:"log_level" validate:"omitempty,oneof=debug info warn error"`
	LogFormat string `yaml:"log_format" json:"log_format" validate:"omitempty,oneof=console json"`

	// CacheDir holds per-feed ICS caches.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	Events []EventConfig `yaml:"events" json:"events" validate:"dive"`
	ICS    []ICSConfig   `yaml:"ics" json:"ics" validate:"dive"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`

	Capture CaptureConfig `yaml:"capture" json:"capture"`
}

func ptr(f float64) *float64 { return &f }

// DefaultConfig returns an in-memory default configuration. The sample
// events reproduce a small overlapping schedule around today's midnight.
func DefaultConfig() *Config {
	return &Config{
		Listen:          "127.0.0.1:8080",
		Timezone:        "Local",
		WeekStart:       "sunday",
		NumWeeks:        8,
		DayBoundaryHour: 6,
		RetiringHour:    22,
		ReadyHour:       8,
		Energy:          0.99,
		EnergySource:    "static",
		DecayRate:       availability.DefaultDecayRate,
		RefreshCron:     "*/15 * * * *",
		LogLevel:        "info",
		LogFormat:       "console",
		CacheDir:        "./var/ics-cache",
		Events: []EventConfig{
			{Summary: "late call", RelativeToToday: ptr(-0.5), Length: 1},
			{Summary: "night shift", RelativeToToday: ptr(2), Length: 1},
			{Summary: "wind down", RelativeToToday: ptr(0), Length: 1.5},
		},
		ICS: []ICSConfig{},
		Capture: CaptureConfig{
			Enabled: false,
			URL:     "http://127.0.0.1:8080/calendar",
			Output:  "./var/preview.png",
		},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly. Numeric fields where
// zero is meaningful (energy, hours) are not touched here; Load starts from
// DefaultConfig so absent keys keep their defaults.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8080"
	}
	if c.Timezone == "" {
		c.Timezone = "Local"
	}
	if c.WeekStart == "" {
		c.WeekStart = "sunday"
	}
	if c.NumWeeks <= 0 {
		c.NumWeeks = 8
	}
	if c.EnergySource == "" {
		c.EnergySource = "static"
	}
	if c.RefreshCron == "" {
		c.RefreshCron = "*/15 * * * *"
	}
	if c.CacheDir == "" {
		c.CacheDir = "./var/ics-cache"
	}
	if c.Events == nil {
		c.Events = []EventConfig{}
	}
	if c.ICS == nil {
		c.ICS = []ICSConfig{}
	}
	// Stable IDs so saved configs keep the same identifiers across reloads.
	for i := range c.Events {
		if c.Events[i].ID == "" {
			c.Events[i].ID = uuid.NewString()
		}
	}
}

var validate = validator.New()

// Validate checks ranges and cross-field constraints. Every error wraps
// ErrInvalidConfig.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("%w: timezone %q: %v", ErrInvalidConfig, c.Timezone, err)
	}
	if _, err := cron.ParseStandard(c.RefreshCron); err != nil {
		return fmt.Errorf("%w: refresh %q: %v", ErrInvalidConfig, c.RefreshCron, err)
	}
	for _, ev := range c.Events {
		if ev.Start == "" && ev.RelativeToToday == nil {
			return fmt.Errorf("%w: event %q has neither start nor relative_to_today", ErrInvalidConfig, ev.ID)
		}
		// Length is checked by the event model so the error carries both
		// sentinels.
		if err := (model.Event{ID: ev.ID, Length: ev.Length}).Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}
	return nil
}

// Location resolves Timezone; "Local" maps to time.Local.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

// Weekday returns the configured first day of the week.
func (c *Config) Weekday() time.Weekday {
	if c.WeekStart == "monday" {
		return time.Monday
	}
	return time.Sunday
}

// EventList converts the inline events into model events. now anchors
// relative_to_today entries and must be the render pass's captured instant.
func (c *Config) EventList(now time.Time) ([]model.Event, error) {
	loc, err := c.Location()
	if err != nil {
		return nil, fmt.Errorf("%w: timezone %q: %v", ErrInvalidConfig, c.Timezone, err)
	}
	today := timeval.StartOfDay(now.In(loc))

	out := make([]model.Event, 0, len(c.Events))
	for _, ec := range c.Events {
		var start time.Time
		switch {
		case ec.RelativeToToday != nil:
			start = timeval.AddHours(today, *ec.RelativeToToday)
		default:
			start, err = parseEventStart(ec.Start, loc)
			if err != nil {
				return nil, fmt.Errorf("%w: event %q start %q: %v", ErrInvalidConfig, ec.ID, ec.Start, err)
			}
		}

		ev := model.Event{
			ID:       ec.ID,
			SourceID: "config",
			Summary:  ec.Summary,
			Start:    start,
			Length:   ec.Length,
		}
		if err := ev.Validate(); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

func parseEventStart(s string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.In(loc), nil
	}
	return time.ParseInLocation("2006-01-02 15:04", s, loc)
}

// ApplyEnv overrides selected fields from LILCAL_* environment variables.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv("LILCAL_LISTEN"); v != "" {
		c.Listen = v
	}
	if v := os.Getenv("LILCAL_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("LILCAL_TIMEZONE"); v != "" {
		c.Timezone = v
	}
	if v := os.Getenv("LILCAL_ENERGY"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%w: LILCAL_ENERGY %q: %v", ErrInvalidConfig, v, err)
		}
		c.Energy = f
	}
	return nil
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML on top of the defaults
//   - normalize and validate
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	cfg := DefaultConfig()
	// Explicit lists in the file replace the defaults rather than merging.
	cfg.Events = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".lilcal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
