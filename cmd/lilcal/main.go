package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"lilcal/internal/availability"
	"lilcal/internal/calendar"
	"lilcal/internal/capture"
	"lilcal/internal/config"
	"lilcal/internal/energy"
	"lilcal/internal/ics"
	appLog "lilcal/internal/log"
	"lilcal/internal/refresh"
	"lilcal/internal/web"
)

const appVersion = "0.1.0"

// rootFlags holds persistent CLI flag values.
type rootFlags struct {
	configPath string
	logLevel   string
}

func main() {
	// .env is optional; a missing file is not an error.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "failed to load .env:", err)
	}

	err := newRootCmd().Execute()
	appLog.Sync()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var flags rootFlags

	root := &cobra.Command{
		Use:           "lilcal",
		Short:         "Multi-week calendar layout with hourly availability",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       appVersion,
	}
	root.SetVersionTemplate("lilcal v{{.Version}}\n")

	defaultPath := os.Getenv("LILCAL_CONFIG")
	if defaultPath == "" {
		defaultPath = "./lilcal.yaml"
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", defaultPath, "Path to config file")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Log level (overrides config): debug|info|warn|error")

	root.AddCommand(
		newServeCmd(&flags),
		newDayCmd(&flags),
		newMergeCmd(&flags),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "lilcal v%s\n", appVersion)
			},
		},
	)
	return root
}

// loadConfig applies file, env and flag layers, then configures logging.
func loadConfig(flags *rootFlags) (*config.Config, error) {
	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		return nil, err
	}
	if err := conf.ApplyEnv(); err != nil {
		appLog.Error("invalid environment override", err)
		return nil, err
	}
	if flags.logLevel != "" {
		conf.LogLevel = flags.logLevel
	}
	if err := conf.Validate(); err != nil {
		appLog.Error("invalid config", err, "config_path", flags.configPath)
		return nil, err
	}

	appLog.SetFormat(conf.LogFormat)
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	appLog.Info("effective config",
		"config_path", flags.configPath,
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"week_start", conf.WeekStart,
		"num_weeks", conf.NumWeeks,
		"day_boundary_hour", conf.DayBoundaryHour,
		"energy_source", conf.EnergySource,
		"decay_rate", conf.DecayRate,
		"events", len(conf.Events),
		"ics_count", len(conf.ICS),
	)
	return conf, nil
}

// newRefresher wires feeds and the energy reader. The scorer is built once
// here as well so an invalid energy/decay pair fails at startup.
func newRefresher(conf *config.Config, opts ...refresh.Option) (*refresh.Refresher, error) {
	reader, err := energy.NewReader(conf.EnergySource, conf.Energy)
	if err != nil {
		return nil, err
	}
	if _, err := availability.NewScorer(conf.Energy, conf.DecayRate); err != nil {
		return nil, err
	}
	fetcher := ics.NewFetcher(conf.CacheDir, nil)
	return refresh.New(conf, fetcher, reader, opts...), nil
}

func newServeCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and periodic refresh",
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf, err := loadConfig(flags)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			var opts []refresh.Option
			if conf.Capture.Enabled {
				opts = append(opts, refresh.WithHook(func(ctx context.Context, _ refresh.Snapshot) error {
					return capture.CalendarPNG(ctx, capture.FromConfig(conf))
				}))
			}

			r, err := newRefresher(conf, opts...)
			if err != nil {
				appLog.Error("failed to initialize refresher", err)
				return err
			}
			// The server must be listening before the first refresh so the
			// capture hook can load /calendar.
			srv := web.NewServer(conf, r)
			serveErr := make(chan error, 1)
			go func() { serveErr <- srv.ListenAndServe(ctx) }()

			if err := r.RefreshOnce(ctx); err != nil {
				appLog.Error("initial refresh failed", err)
				cancel()
				<-serveErr
				return err
			}
			if err := r.Start(ctx); err != nil {
				cancel()
				<-serveErr
				return err
			}

			err = <-serveErr
			r.Stop()
			appLog.Info("lilcal exiting")
			return err
		},
	}
}

func newDayCmd(flags *rootFlags) *cobra.Command {
	var dateStr string

	cmd := &cobra.Command{
		Use:   "day",
		Short: "Print one day's segments and hour cells as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf, err := loadConfig(flags)
			if err != nil {
				return err
			}
			loc, err := conf.Location()
			if err != nil {
				return err
			}

			now := time.Now().In(loc)
			r, err := newRefresher(conf, refresh.WithClock(func() time.Time { return now }))
			if err != nil {
				return err
			}
			if err := r.RefreshOnce(cmd.Context()); err != nil {
				return err
			}
			snap := r.Snapshot()

			date := now
			if dateStr != "" {
				date, err = time.ParseInLocation("2006-01-02", dateStr, loc)
				if err != nil {
					return fmt.Errorf("--date: %w", err)
				}
			}

			scorer, err := availability.NewScorer(snap.Energy.Level, conf.DecayRate)
			if err != nil {
				return err
			}
			day := calendar.BuildDay(now, date, snap.Events, scorer, calendar.Options{
				WeekStart:       conf.Weekday(),
				NumWeeks:        conf.NumWeeks,
				DayBoundaryHour: conf.DayBoundaryHour,
				RetiringHour:    conf.RetiringHour,
				ReadyHour:       conf.ReadyHour,
				FocusWeek:       -1,
			}, true)
			return printJSON(cmd, day)
		},
	}
	cmd.Flags().StringVar(&dateStr, "date", "", "Day to render (YYYY-MM-DD, default today)")
	return cmd
}

func newMergeCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "merge",
		Short: "Print the merged event blocks as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf, err := loadConfig(flags)
			if err != nil {
				return err
			}
			r, err := newRefresher(conf)
			if err != nil {
				return err
			}
			if err := r.RefreshOnce(cmd.Context()); err != nil {
				return err
			}
			return printJSON(cmd, r.Snapshot().Events)
		},
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
