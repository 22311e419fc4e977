package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuemby/deployd/pkg/api"
	"github.com/cuemby/deployd/pkg/events"
	"github.com/cuemby/deployd/pkg/health"
	"github.com/cuemby/deployd/pkg/log"
	"github.com/cuemby/deployd/pkg/metrics"
	"github.com/cuemby/deployd/pkg/promoter"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the promoter and the metrics listener",
	Long: `Run deployd in the foreground. The auto promoter evaluates every
AUTO promote policy on the configured interval, and health, readiness and
Prometheus metrics are served on the metrics address.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := log.WithComponent("serve")

	metrics.SetVersion(Version)
	metrics.SetCriticalComponents("storage", "lock")

	store, err := openStore(cfg.Storage.DataDir)
	if err != nil {
		metrics.RegisterComponent("storage", false, err.Error())
		return err
	}
	defer store.Close()
	metrics.RegisterComponent("storage", true, cfg.Storage.DataDir)

	locker, lockChecker, closeLocker, err := newLocker(cfg.Lock)
	if err != nil {
		metrics.RegisterComponent("lock", false, err.Error())
		return fmt.Errorf("failed to create locker: %w", err)
	}
	defer closeLocker()
	metrics.RegisterComponent("lock", true, cfg.Lock.Backend)

	monitor := health.NewMonitor(health.DefaultConfig())
	monitor.Add("storage", health.NewStorageChecker(cfg.Storage.DataDir, store))
	if lockChecker != nil {
		monitor.Add("lock", lockChecker)
	}
	monitor.Start()
	defer monitor.Stop()

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	// Events are only logged for now
	sub := broker.Subscribe()
	go func() {
		evLogger := log.WithComponent("events")
		for ev := range sub {
			evLogger.Info().
				Str("type", string(ev.Type)).
				Str("env_id", ev.EnvID).
				Str("host_id", ev.HostID).
				Msg(ev.Message)
		}
	}()
	defer broker.Unsubscribe(sub)

	collector := metrics.NewCollector(store, 0)
	collector.Start()
	defer collector.Stop()

	var prom *promoter.Promoter
	if cfg.Promoter.Enabled {
		prom = promoter.NewPromoter(store, locker, cfg.Promoter, promoter.WithBroker(broker))
		prom.Start()
		metrics.RegisterComponent("promoter", true, "running")
		logger.Info().
			Dur("interval", cfg.Promoter.Interval).
			Dur("buffer_window", cfg.Promoter.BufferWindow).
			Msg("Auto promoter started")
	}

	errCh := make(chan error, 1)
	var hs *api.HealthServer
	if cfg.Metrics.Enabled {
		hs = api.NewHealthServer(store, Version)
		go func() {
			if err := hs.Start(cfg.Metrics.Addr); err != nil {
				errCh <- fmt.Errorf("metrics server error: %w", err)
			}
		}()
		logger.Info().Str("addr", cfg.Metrics.Addr).Msg("Metrics listener started")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info().Msg("Shutting down")
	case err = <-errCh:
		logger.Error().Err(err).Msg("Shutting down")
	}

	if prom != nil {
		prom.Stop()
	}
	if hs != nil {
		if stopErr := hs.Stop(); stopErr != nil {
			logger.Warn().Err(stopErr).Msg("Failed to stop metrics listener")
		}
	}
	return err
}
