package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/pagefs/pkg/config"
	"github.com/marmos91/pagefs/pkg/gc"
)

var gcDryRun bool

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one maintenance sweep",
		Long: `Resume interrupted renames and purge deleted files once, then exit.

Deletes whose original path still has an upload in progress are deferred
to a later sweep.`,
		Args: cobra.NoArgs,
		RunE: runSweep,
	}
}

func runSweep(cmd *cobra.Command, _ []string) error {
	return withRuntime(cmd.Context(), func(rt *config.Runtime) error {
		stats, err := rt.Sweeper.RunNow(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), stats.Summary())
		return nil
	})
}

func newGCCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gc",
		Short: "Delete page blobs no file references",
		Args:  cobra.NoArgs,
		RunE:  runGC,
	}
	cmd.Flags().BoolVar(&gcDryRun, "dry-run", false, "report orphaned pages without deleting them")
	return cmd
}

func runGC(cmd *cobra.Command, _ []string) error {
	return withRuntime(cmd.Context(), func(rt *config.Runtime) error {
		collector := rt.Collector
		if gcDryRun {
			collector = gc.NewCollector(rt.Store, rt.Blobs, gc.Config{
				BatchSize: rt.Config.GC.BatchSize,
				MinAge:    rt.Config.GC.MinAge,
				DryRun:    true,
			})
		}

		stats, err := collector.RunNow(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), stats.Summary())
		return nil
	})
}
