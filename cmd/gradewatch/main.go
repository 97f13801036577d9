package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/noah-isme/gradewatch/internal/fetch"
	"github.com/noah-isme/gradewatch/internal/healthping"
	"github.com/noah-isme/gradewatch/internal/journal"
	"github.com/noah-isme/gradewatch/internal/metrics"
	"github.com/noah-isme/gradewatch/internal/notify"
	"github.com/noah-isme/gradewatch/internal/orchestrator"
	"github.com/noah-isme/gradewatch/internal/scheduler"
	"github.com/noah-isme/gradewatch/internal/store"
	"github.com/noah-isme/gradewatch/pkg/config"
	pipelineerr "github.com/noah-isme/gradewatch/pkg/errors"
	applog "github.com/noah-isme/gradewatch/pkg/logger"
)

var (
	daemon   bool
	cliTimes []string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the grade-change-detection pipeline",
	RunE:  runRun,
}

var rootCmd = &cobra.Command{
	Use:   "gradewatch",
	Short: "Scheduled grade-change-detection daemon",
}

func init() {
	runCmd.Flags().BoolVar(&daemon, "daemon", false, "run continuously on a schedule instead of once")
	runCmd.Flags().StringSliceVar(&cliTimes, "times", nil, "comma-separated HH:MM schedule, overrides configuration")
	rootCmd.AddCommand(runCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(pipelineerr.ExitConfigError)
	}
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", pipelineerr.Wrap(err, pipelineerr.ErrConfigInvalid.Code, pipelineerr.ErrConfigInvalid.Status, pipelineerr.ErrConfigInvalid.Message))
		os.Exit(pipelineerr.ExitConfigError)
	}

	logr, err := applog.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", pipelineerr.Wrap(err, pipelineerr.ErrConfigInvalid.Code, pipelineerr.ErrConfigInvalid.Status, "logger initialization failed"))
		os.Exit(pipelineerr.ExitConfigError)
	}
	defer logr.Sync() //nolint:errcheck

	if len(cliTimes) > 0 {
		cfg.ScrapeTimes = cliTimes
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	orch, err := buildOrchestrator(ctx, cfg, logr)
	if err != nil {
		logr.Error("failed to initialize pipeline", zap.Error(pipelineerr.FromError(err)))
		os.Exit(pipelineerr.ExitConfigError)
	}

	if !daemon {
		result := orch.RunCycle(ctx)
		logr.Info("cycle finished", zap.String("result", string(result)))
		if isOKResult(result) {
			os.Exit(pipelineerr.ExitOK)
		}
		os.Exit(pipelineerr.ExitCycleFailure)
	}

	times, err := scheduler.ParseTimes(cfg.ScrapeTimes)
	if err != nil {
		logr.Error("invalid scrape times", zap.Error(pipelineerr.Wrap(err, pipelineerr.ErrConfigInvalid.Code, pipelineerr.ErrConfigInvalid.Status, "invalid scrape_times configuration")))
		os.Exit(pipelineerr.ExitConfigError)
	}

	sig, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	s := scheduler.New(times, nil, func(ctx context.Context) {
		result := orch.RunCycle(ctx)
		logr.Info("cycle finished", zap.String("result", string(result)))
	}, logr)

	s.Run(sig)
	return nil
}

func isOKResult(r orchestrator.Result) bool {
	return r == orchestrator.ResultOKNoChanges || r == orchestrator.ResultOKChanges
}

func buildOrchestrator(ctx context.Context, cfg *config.Config, logr *zap.Logger) (*orchestrator.Orchestrator, error) {
	st, err := store.Open(ctx, cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	jrnl, err := journal.Open(cfg.Journal.Path, cfg.Journal.RetentionDays, logr)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}

	fetcher := fetch.New(cfg.API, 0, logr)
	providers := notify.AvailableProviders(cfg.Notifications, logr)
	manager := notify.NewManager(logr, providers...)
	ping := healthping.New(cfg.Healthcheck, logr)
	reg := metrics.New()

	return orchestrator.New(orchestrator.Deps{
		Fetcher: fetcher,
		Store:   st,
		Differ:  orchestrator.DefaultDiffer{Logger: logr},
		Notify:  manager,
		Journal: jrnl,
		Ping:    ping,
		Metrics: reg,
		Retry: orchestrator.RetryConfig{
			MaxAttempts: cfg.Retry.MaxAttempts,
			Delay:       cfg.Retry.Delay,
		},
		Logger: logr,
	}), nil
}
