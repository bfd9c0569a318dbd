// pagefs is the command-line front end of the PageFS file lifecycle engine.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/marmos91/pagefs/internal/logger"
	"github.com/marmos91/pagefs/pkg/config"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

var (
	cfgFile  string
	logLevel string
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "pagefs",
		Short: "PageFS - durable paged file storage",
		Long: `PageFS stores files as content-addressed pages and performs rename and
delete as durable, crash-recoverable operations.

QUICK START:

  # Write a default configuration file
  pagefs config init

  # Run the node (sweeper, page GC, metrics)
  pagefs serve

FILE OPERATIONS (against the configured storage, node must not be running
with an exclusive backend such as badger):

  pagefs put ./report.pdf /docs/report.pdf
  pagefs get /docs/report.pdf ./copy.pdf
  pagefs ls /docs
  pagefs rename /docs/report.pdf /archive/report.pdf
  pagefs delete /archive/report.pdf

For more help on any command, use: pagefs <command> --help`,
		SilenceUsage: true,
		Version:      fmt.Sprintf("%s (%s)", Version, Commit),
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (default $XDG_CONFIG_HOME/pagefs/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "", "log level override (DEBUG, INFO, WARN, ERROR)")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newPutCmd())
	rootCmd.AddCommand(newGetCmd())
	rootCmd.AddCommand(newStatCmd())
	rootCmd.AddCommand(newListCmd())
	rootCmd.AddCommand(newRenameCmd())
	rootCmd.AddCommand(newDeleteCmd())
	rootCmd.AddCommand(newSweepCmd())
	rootCmd.AddCommand(newGCCmd())
	rootCmd.AddCommand(newConfigCmd())

	return rootCmd
}

// loadConfig loads the configuration and applies the logging settings.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := setupLogger(cfg.Logging); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setupLogger(cfg config.LoggingConfig) error {
	logger.SetLevel(cfg.Level)
	logger.SetFormat(cfg.Format)
	if err := logger.SetOutput(cfg.Output); err != nil {
		return fmt.Errorf("failed to set log output: %w", err)
	}
	return nil
}

// withRuntime loads the configuration, builds a runtime without starting
// its background workers, runs fn and shuts the runtime down.
func withRuntime(ctx context.Context, fn func(rt *config.Runtime) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// One-shot commands don't expose metrics
	cfg.Metrics.Enabled = false

	rt, err := config.InitializeRuntime(ctx, cfg)
	if err != nil {
		return err
	}

	runErr := fn(rt)

	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := rt.Stop(stopCtx); err != nil {
		logger.Error("Shutdown error: %v", err)
		if runErr == nil {
			runErr = err
		}
	}

	return runErr
}
