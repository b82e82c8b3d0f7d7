package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/schoolops/rollcall/pkg/accesslog"
	"github.com/schoolops/rollcall/pkg/api"
	"github.com/schoolops/rollcall/pkg/cache"
	"github.com/schoolops/rollcall/pkg/client"
	"github.com/schoolops/rollcall/pkg/config"
	"github.com/schoolops/rollcall/pkg/events"
	"github.com/schoolops/rollcall/pkg/log"
	"github.com/schoolops/rollcall/pkg/metrics"
	"github.com/schoolops/rollcall/pkg/reconciler"
	"github.com/schoolops/rollcall/pkg/roster"
	"github.com/schoolops/rollcall/pkg/scheduler"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

const evaluateJobName = "window-close-evaluation"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "rollcall",
	Short: "Rollcall - automated school attendance reconciliation",
	Long: `Rollcall reconciles the school roster against badge-scan events
from the building's access control system. At attendance-window close it
marks members with no scan as absent, then sweeps for late arrivals
until school dismissal.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Rollcall version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.AddCommand(runCmd)

	runCmd.Flags().String("config", "rollcall.yaml", "path to config file")
	runCmd.Flags().Bool("dry-run", false, "log intended writes instead of issuing them")
	runCmd.Flags().Bool("run-now", false, "run the window-close evaluation immediately")
	runCmd.Flags().String("log-level", "", "override configured log level")
	runCmd.Flags().Bool("log-json", false, "emit JSON logs")
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the attendance reconciliation engine",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		runNow, _ := cmd.Flags().GetBool("run-now")
		logLevel, _ := cmd.Flags().GetString("log-level")
		logJSON, _ := cmd.Flags().GetBool("log-json")

		// .env is optional; the environment may already be populated
		_ = godotenv.Load()

		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if dryRun {
			cfg.DryRun = true
		}
		if runNow {
			cfg.Schedule.RunImmediately = true
		}
		if logLevel != "" {
			cfg.Log.Level = logLevel
		}

		log.Init(log.Config{
			Level:      log.Level(cfg.Log.Level),
			JSONOutput: cfg.Log.JSON || logJSON,
		})
		metrics.SetVersion(Version)

		return run(cfg)
	},
}

func run(cfg *config.Config) error {
	logger := log.WithComponent("main")
	if cfg.DryRun {
		logger.Info().Msg("dry run: all writes will be logged, not issued")
	}

	window, err := cfg.Window()
	if err != nil {
		return err
	}

	// Roster service: handshake once, then transparent token refresh
	auth := roster.NewAuthenticator(cfg.Roster.BaseURL, cfg.Roster.Username, cfg.Roster.Password)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	err = auth.Authenticate(ctx)
	cancel()
	if err != nil {
		metrics.RegisterComponent("roster", false, err.Error())
		return fmt.Errorf("roster authentication failed: %w", err)
	}
	metrics.RegisterComponent("roster", true, "")

	rosterClient := client.New("roster", cfg.Roster.BaseURL, auth)
	rosterGW := roster.New(rosterClient, cache.NewProfileCache(), cache.NewChangeCache(), roster.Config{
		LocationPattern: cfg.LocationRegexp(),
		RestoreTypes:    cfg.RestoreTypes(),
		MaxConcurrency:  cfg.Schedule.MaxConcurrency,
		DryRun:          cfg.DryRun,
	})

	// Access log service: static bearer token, no refresh
	scanClient := client.New("accesslog", cfg.AccessLog.BaseURL, client.StaticToken(cfg.AccessLog.Token))
	scanGW := accesslog.New(scanClient, cfg.AccessLog.PageSize, cfg.Schedule.MaxConcurrency)
	metrics.RegisterComponent("accesslog", true, "")

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sched := scheduler.New(broker)
	sched.Start()
	metrics.RegisterComponent("scheduler", true, "")

	var matcher reconciler.Matcher = reconciler.IDMatcher{}
	if cfg.Attendance.MatchByName {
		logger.Warn().Msg("deprecated display-name matching enabled")
		matcher = reconciler.NameMatcher{}
	}

	engine := reconciler.New(rosterGW, scanGW, sched, broker, reconciler.Config{
		Window:           window,
		PresentThreshold: cfg.Attendance.PresentThreshold,
		SweepInterval:    time.Duration(cfg.Schedule.SweepIntervalMinutes) * time.Minute,
		Matcher:          matcher,
	})

	// Log every lifecycle event the scheduler and engine publish
	sub := broker.Subscribe()
	go logEvents(sub)

	job := sched.ScheduleJob(evaluateJobName,
		scheduler.Spec{Cron: cfg.Schedule.Daily},
		engine.RunWindowClose,
		cfg.Schedule.RunImmediately)
	if job == nil {
		sched.Drain()
		return fmt.Errorf("failed to schedule %s", evaluateJobName)
	}

	var statusServer *api.Server
	if cfg.StatusAddr != "" {
		statusServer = api.NewServer(cfg.StatusAddr)
		go func() {
			if err := statusServer.Start(); err != nil {
				logger.Error().Err(err).Msg("status server failed")
			}
		}()
	}

	logger.Info().
		Str("schedule", cfg.Schedule.Daily).
		Str("window", fmt.Sprintf("%s-%s", window.Start, window.End)).
		Str("dismissal", window.Dismissal.String()).
		Msg("rollcall engine running")

	// Wait for termination, then drain
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("shutting down")

	sched.Drain()
	if statusServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = statusServer.Shutdown(shutdownCtx)
		cancel()
	}

	logger.Info().Msg("shutdown complete")
	return nil
}

// logEvents consumes broker events until the subscription closes
func logEvents(sub events.Subscriber) {
	logger := log.WithComponent("events")
	for event := range sub {
		logger.Info().
			Str("type", string(event.Type)).
			Str("event_id", event.ID).
			Fields(map[string]any{"metadata": event.Metadata}).
			Msg(event.Message)
	}
}
