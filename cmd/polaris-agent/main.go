// Command polaris-agent is the field diagnostics agent: it samples cellular
// telemetry, runs scheduled network probes, and syncs everything to the
// fleet server when connectivity allows.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/polaris-net/polaris-agent/internal/api"
	"github.com/polaris-net/polaris-agent/internal/collector"
	"github.com/polaris-net/polaris-agent/internal/config"
	"github.com/polaris-net/polaris-agent/internal/executor"
	"github.com/polaris-net/polaris-agent/internal/lockfile"
	"github.com/polaris-net/polaris-agent/internal/logging"
	"github.com/polaris-net/polaris-agent/internal/sampler"
	"github.com/polaris-net/polaris-agent/internal/scheduler"
	"github.com/polaris-net/polaris-agent/internal/settings"
	"github.com/polaris-net/polaris-agent/internal/storage"
	syncpkg "github.com/polaris-net/polaris-agent/internal/sync"
	"github.com/polaris-net/polaris-agent/internal/watchdog"
)

const appVersion = "1.0.0"

func main() {
	var configPath string

	root := &cobra.Command{
		Use:           "polaris-agent",
		Short:         "Field network diagnostics agent",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c",
		"/etc/polaris-agent/config.yaml", "path to config file")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the agent version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("polaris-agent %s\n", appVersion)
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: logging.Format(cfg.Logging.Format),
	})
	slog.SetDefault(logger)
	logger.Info("starting polaris-agent",
		"version", appVersion, "device_id", cfg.Device.ID)

	lock, err := lockfile.Acquire(lockfile.ForDatabase(cfg.Storage.Path))
	if err != nil {
		return err
	}
	defer lock.Release()

	store, err := storage.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	settingsStore := settings.NewStore(store.DB())
	if err := store.SeedDefaultTasks(ctx); err != nil {
		return fmt.Errorf("seed default tasks: %w", err)
	}

	recurring := scheduler.NewRecurring(logger)

	// Probe engine and its trigger loop.
	exec := executor.New(logger, smsSender(logger))
	sched := scheduler.New(store, exec, logger)
	wakeInterval, err := cfg.Scheduler.WakeInterval()
	if err != nil {
		return err
	}
	recurring.Register("scheduler-wake", wakeInterval, scheduler.KeepExisting, func() {
		wakeCtx, cancel := context.WithTimeout(context.Background(), wakeInterval)
		defer cancel()
		if err := sched.Wake(wakeCtx); err != nil {
			logger.Error("scheduler wake failed", "error", err)
		}
	})

	// Telemetry collection starts immediately; unlike the phone app there is
	// no foreground toggle to wait for.
	loop := collector.NewLoop(sampler.NewHostSampler(logger), store, settingsStore, logger)
	loop.Start(ctx)
	defer loop.Stop()

	var engine *syncpkg.Engine
	if cfg.Server.Enabled {
		timeout, err := cfg.Server.Timeout()
		if err != nil {
			return err
		}
		client := syncpkg.NewClient(cfg.Server.URL, cfg.Server.AuthToken,
			cfg.Device.ID, timeout)
		engine = syncpkg.NewEngine(client, store, settingsStore, recurring, logger)
		engine.Arm(ctx)
	} else {
		logger.Info("remote server disabled, running offline only")
	}

	recurring.Start()
	defer recurring.Stop()

	var server *api.Server
	apiErr := make(chan error, 1)
	if cfg.API.Address != "" {
		server = api.NewServer(cfg.API.Address, store, settingsStore,
			loop, sched, exec, engine, logger)
		go func() { apiErr <- server.Start() }()
	}

	pinger := watchdog.NewPinger(logger)
	go pinger.Run(ctx)
	pinger.NotifyReady()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-apiErr:
		if err != nil {
			return fmt.Errorf("api server: %w", err)
		}
	}

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("api shutdown failed", "error", err)
		}
	}
	logger.Info("polaris-agent stopped")
	return nil
}

// smsSender returns the modem-backed sender when available, nil otherwise.
// The executor treats nil as "capability absent".
func smsSender(logger *slog.Logger) executor.SMSSender {
	if sender := executor.DetectMmcliSender(logger); sender != nil {
		return sender
	}
	return nil
}
