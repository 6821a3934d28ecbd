package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/spendwatch/spendwatch/internal/config"
	"github.com/spendwatch/spendwatch/internal/daemon"
	"github.com/spendwatch/spendwatch/internal/logging"
	"github.com/spendwatch/spendwatch/internal/metrics"
	"github.com/spendwatch/spendwatch/internal/pipeline"
	"github.com/spendwatch/spendwatch/internal/server"
)

const shutdownTimeout = 5 * time.Second

// cliFlags holds parsed command line flags. Only flags set explicitly
// override the file and environment configuration.
type cliFlags struct {
	configFile string
	envFile    string
	runOnce    bool

	force                bool
	disableCache         bool
	disableNotifications bool
	dateRange            string
	start                string
	end                  string
	channels             string
	logLevel             string

	set map[string]bool
}

func parseFlags(args []string) (*cliFlags, error) {
	f := &cliFlags{set: map[string]bool{}}
	fs := flag.NewFlagSet("spendwatch", flag.ContinueOnError)
	fs.StringVar(&f.configFile, "config", "", "Path to YAML config file")
	fs.StringVar(&f.envFile, "env-file", ".env", "Path to a dotenv file (ignored when missing)")
	fs.BoolVar(&f.runOnce, "run-once", false, "run a single sync pass and exit")
	fs.BoolVar(&f.force, "force", false, "ignore the notification cooldown")
	fs.BoolVar(&f.disableCache, "disable-cache", false, "do not read or write the account cache")
	fs.BoolVar(&f.disableNotifications, "disable-notifications", false, "generate the summary but send nothing")
	fs.StringVar(&f.dateRange, "date-range", "", "current_month, last_month, last_3_months or custom")
	fs.StringVar(&f.start, "start", "", "custom range start (YYYY-MM-DD)")
	fs.StringVar(&f.end, "end", "", "custom range end (YYYY-MM-DD)")
	fs.StringVar(&f.channels, "channels", "", "comma separated channels: sms,email,push")
	fs.StringVar(&f.logLevel, "log-level", "", "trace, debug, info, warn or error")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	fs.Visit(func(fl *flag.Flag) { f.set[fl.Name] = true })
	return f, nil
}

// apply copies explicitly set flags onto cfg.
func (f *cliFlags) apply(cfg *config.Config) {
	if f.set["force"] {
		cfg.Force = f.force
	}
	if f.set["disable-cache"] {
		cfg.DisableCache = f.disableCache
	}
	if f.set["disable-notifications"] {
		cfg.DisableNotifications = f.disableNotifications
	}
	if f.set["date-range"] {
		cfg.DateRange = f.dateRange
	}
	if f.set["start"] {
		cfg.StartDate = f.start
	}
	if f.set["end"] {
		cfg.EndDate = f.end
	}
	if f.set["channels"] {
		cfg.Channels = splitList(f.channels)
	}
	if f.set["log-level"] {
		cfg.LogLevel = f.logLevel
	}
}

// loadConfig layers defaults, the config file, the environment (after the
// dotenv file) and finally the flags.
func loadConfig(f *cliFlags) (*config.Config, error) {
	if err := config.LoadDotEnv(f.envFile); err != nil {
		return nil, err
	}
	cfg := config.DefaultConfig()
	if f.configFile != "" {
		c, err := config.LoadConfigFromFile(f.configFile)
		if err != nil {
			return nil, fmt.Errorf("failed loading config: %w", err)
		}
		cfg = c
	}
	if err := config.ApplyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("invalid environment configuration: %w", err)
	}
	f.apply(cfg)
	return cfg, nil
}

func main() {
	f, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		os.Exit(2)
	}
	cfg, err := loadConfig(f)
	if err != nil {
		log.Fatal(err)
	}

	cleanup, err := logging.Init(logging.Options{File: cfg.LogFile, Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}

	d, err := daemon.New(cfg)
	if err != nil {
		logging.Get().Error().Err(err).Msg("failed to set up pipeline")
		cleanup()
		os.Exit(1)
	}

	var code int
	if f.runOnce {
		code = runOnce(d, os.Stdout)
	} else {
		code = serve(cfg, d)
	}
	cleanup()
	os.Exit(code)
}

func runOnce(d *daemon.Daemon, out io.Writer) int {
	defer d.Close()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	logging.Get().Info().Msg("run-once: performing a single sync pass")
	rep, err := d.RunOnce(ctx)
	printReport(out, rep, err)
	return exitCode(rep, err)
}

// serve runs the daemon with the optional metrics server and Influx pusher
// until a shutdown signal arrives.
func serve(cfg *config.Config, d *daemon.Daemon) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	if cfg.MetricsEnabled {
		addr := fmt.Sprintf(":%d", cfg.MetricsPort)
		g.Go(func() error { return server.Serve(gctx, addr) })
	}
	if cfg.InfluxURL != "" {
		g.Go(func() error {
			metrics.StartInfluxPusher(gctx, cfg.InfluxURL, cfg.InfluxToken, cfg.InfluxOrg, cfg.InfluxBucket, cfg.InfluxInterval)
			return nil
		})
	}
	g.Go(d.Start)
	g.Go(func() error {
		<-gctx.Done()
		logging.Get().Info().Msg("shutdown signal received, waiting for active runs to complete")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		d.Stop(shutdownCtx)
		return nil
	})

	if err := g.Wait(); err != nil {
		logging.Get().Error().Err(err).Msg("daemon exited with error")
		return 1
	}
	return 0
}

// exitCode maps a run result to a process status: 0 for successful and
// suppressed runs, 1 for failures, 3 when no channel delivered.
func exitCode(rep *pipeline.Report, err error) int {
	switch {
	case errors.Is(err, pipeline.ErrCooldownActive):
		return 0
	case err != nil:
		return 1
	case rep != nil && rep.Outcome == pipeline.OutcomeUndelivered:
		return 3
	default:
		return 0
	}
}

func printReport(w io.Writer, rep *pipeline.Report, err error) {
	if rep != nil {
		fmt.Fprintf(w, "run %s: %s (%s)\n", rep.RunID, rep.Outcome, rep.Period)
		fmt.Fprintf(w, "accounts: %d, changed: %d\n", rep.Accounts, len(rep.Changed))
		for _, id := range rep.Stale {
			fmt.Fprintf(w, "stale account: %s\n", id)
		}
		for _, e := range rep.BridgeErrors {
			fmt.Fprintf(w, "bridge error: %s\n", e)
		}
		if rep.Attempts > 0 {
			fmt.Fprintf(w, "summary attempts: %d\n", rep.Attempts)
		}
		for _, ch := range rep.Channels {
			fmt.Fprintf(w, "  %s\n", ch)
		}
	}
	if errors.Is(err, pipeline.ErrCooldownActive) {
		fmt.Fprintf(w, "skipped: %v\n", err)
	} else if err != nil {
		fmt.Fprintf(w, "error: %v\n", err)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
