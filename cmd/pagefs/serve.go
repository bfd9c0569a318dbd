package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/marmos91/pagefs/internal/logger"
	"github.com/marmos91/pagefs/pkg/config"
	"github.com/marmos91/pagefs/pkg/notify"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the PageFS node",
		Long: `Run the PageFS node: the maintenance sweeper, the page garbage collector
(when enabled) and the Prometheus metrics endpoint (when enabled).

The sweeper runs a first cycle on startup so operations interrupted by a
crash are resumed immediately. Stop with Ctrl+C or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger.Info("PageFS %s starting", Version)
	logger.Info("Storage: %s, blobs: %s (compress=%v)", cfg.Storage.Type, cfg.Blobs.Type, cfg.Blobs.CompressEnabled())

	rt, err := config.InitializeRuntime(ctx, cfg)
	if err != nil {
		return err
	}

	events, unsubscribe := rt.Bus.Subscribe(256)
	go logEvents(events)

	if cfg.Sweeper.Enabled {
		stats, err := rt.Sweeper.RunNow(ctx)
		if err != nil {
			logger.Warn("Sweeper: startup cycle failed: %v", err)
		} else if stats.Touched() {
			logger.Info("Sweeper: startup cycle: %s", stats.Summary())
		}
	}

	rt.Start()
	if rt.Metrics.Server != nil {
		logger.Info("Metrics available on :%d/metrics", cfg.Metrics.Port)
	}
	logger.Info("PageFS ready")

	<-ctx.Done()
	logger.Info("Shutdown signal received, stopping")

	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	err = rt.Stop(stopCtx)
	unsubscribe()
	if err != nil {
		logger.Error("Shutdown error: %v", err)
		return err
	}

	logger.Info("PageFS stopped")
	return nil
}

// logEvents writes change events to the debug log until the channel closes.
func logEvents(events <-chan notify.Event) {
	for ev := range events {
		if ev.NewPath != "" {
			logger.Debug("Event %s: %s -> %s (version %d)", ev.Kind, ev.Path, ev.NewPath, ev.Version)
			continue
		}
		logger.Debug("Event %s: %s (version %d)", ev.Kind, ev.Path, ev.Version)
	}
}
