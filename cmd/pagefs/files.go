package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/marmos91/pagefs/pkg/config"
	"github.com/marmos91/pagefs/pkg/lifecycle"
	"github.com/marmos91/pagefs/pkg/storage"
)

var (
	expectedVersion uint64
	preserveTimes   bool
	metaPairs       []string
	listAll         bool
	listSkip        int
	listTake        int
)

// versionFlag returns the --if-version value when it was set.
func versionFlag(cmd *cobra.Command) *uint64 {
	if !cmd.Flags().Changed("if-version") {
		return nil
	}
	v := expectedVersion
	return &v
}

func newPutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "put <local-file|-> <path>",
		Short: "Upload a file",
		Long: `Upload a local file (or stdin with "-") to a PageFS path.

Examples:
  pagefs put ./report.pdf /docs/report.pdf
  cat data.csv | pagefs put - /imports/data.csv
  pagefs put ./v2.pdf /docs/report.pdf --if-version 7 --meta owner=alice`,
		Args: cobra.ExactArgs(2),
		RunE: runPut,
	}
	cmd.Flags().Uint64Var(&expectedVersion, "if-version", 0, "only replace the file if its current version matches")
	cmd.Flags().BoolVar(&preserveTimes, "preserve-timestamps", false, "keep Creation-Date/Last-Modified supplied with --meta")
	cmd.Flags().StringArrayVar(&metaPairs, "meta", nil, "metadata key=value (repeatable)")
	return cmd
}

func runPut(cmd *cobra.Command, args []string) error {
	src, dst := args[0], args[1]

	md := storage.Metadata{}
	for _, pair := range metaPairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			return fmt.Errorf("invalid --meta %q (expected key=value)", pair)
		}
		md[k] = v
	}

	opts := lifecycle.PutOptions{
		ExpectedVersion:    versionFlag(cmd),
		Metadata:           md,
		PreserveTimestamps: preserveTimes,
	}

	var open lifecycle.StreamFactory
	if src == "-" {
		open = lifecycle.FromReader(cmd.InOrStdin())
	} else {
		info, err := os.Stat(src)
		if err != nil {
			return err
		}
		size := info.Size()
		opts.ContentLength = &size
		open = func() (io.ReadCloser, error) { return os.Open(src) }
	}

	return withRuntime(cmd.Context(), func(rt *config.Runtime) error {
		rec, err := rt.Engine.Put(cmd.Context(), dst, open, opts)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s version=%d size=%d hash=%s\n",
			rec.Path, rec.Version, rec.UploadedSize, rec.Metadata[lifecycle.MetaContentHash])
		return nil
	})
}

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <path> [local-file]",
		Short: "Download a file (to stdout when no local file is given)",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  runGet,
	}
}

func runGet(cmd *cobra.Command, args []string) error {
	return withRuntime(cmd.Context(), func(rt *config.Runtime) error {
		r, _, err := rt.Engine.Open(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		defer func() { _ = r.Close() }()

		out := cmd.OutOrStdout()
		if len(args) == 2 {
			f, err := os.Create(args[1])
			if err != nil {
				return err
			}
			defer func() { _ = f.Close() }()
			out = f
		}

		_, err = io.Copy(out, r)
		return err
	})
}

func newStatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stat <path>",
		Short: "Show a file's record",
		Args:  cobra.ExactArgs(1),
		RunE:  runStat,
	}
}

func runStat(cmd *cobra.Command, args []string) error {
	return withRuntime(cmd.Context(), func(rt *config.Runtime) error {
		rec, err := rt.Engine.Stat(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		printRecord(cmd.OutOrStdout(), rec)
		return nil
	})
}

func printRecord(w io.Writer, rec *storage.FileRecord) {
	fmt.Fprintf(w, "Path:      %s\n", rec.Path)
	fmt.Fprintf(w, "Version:   %d\n", rec.Version)
	fmt.Fprintf(w, "Uploaded:  %d bytes (complete: %v)\n", rec.UploadedSize, rec.UploadComplete)
	if rec.DeclaredSize != nil {
		fmt.Fprintf(w, "Declared:  %d bytes\n", *rec.DeclaredSize)
	}

	keys := make([]string, 0, len(rec.Metadata))
	for k := range rec.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "  %s: %s\n", k, rec.Metadata[k])
	}
}

func newListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "ls [prefix]",
		Aliases: []string{"list"},
		Short:   "List files",
		Args:    cobra.MaximumNArgs(1),
		RunE:    runList,
	}
	cmd.Flags().BoolVarP(&listAll, "all", "a", false, "include tombstones")
	cmd.Flags().IntVar(&listSkip, "skip", 0, "skip the first n files")
	cmd.Flags().IntVar(&listTake, "take", 0, "return at most n files (0 = all)")
	return cmd
}

func runList(cmd *cobra.Command, args []string) error {
	opts := lifecycle.ListOptions{
		Skip:              listSkip,
		Take:              listTake,
		IncludeTombstones: listAll,
	}
	if len(args) == 1 {
		opts.Prefix = args[0]
	}

	return withRuntime(cmd.Context(), func(rt *config.Runtime) error {
		recs, err := rt.Engine.List(cmd.Context(), opts)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "PATH\tVERSION\tSIZE\tSTATE")
		for _, rec := range recs {
			fmt.Fprintf(w, "%s\t%d\t%d\t%s\n", rec.Path, rec.Version, rec.UploadedSize, recordState(rec))
		}
		return w.Flush()
	})
}

func recordState(rec *storage.FileRecord) string {
	switch {
	case lifecycle.IsTombstone(rec):
		if target := rec.Metadata[lifecycle.MetaRenameMarker]; target != "" {
			return "moved to " + target
		}
		return "deleted"
	case !rec.UploadComplete:
		return "uploading"
	default:
		return "ok"
	}
}

func newRenameCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "rename <path> <new-path>",
		Aliases: []string{"mv"},
		Short:   "Rename a file",
		Args:    cobra.ExactArgs(2),
		RunE:    runRename,
	}
	cmd.Flags().Uint64Var(&expectedVersion, "if-version", 0, "only rename if the current version matches")
	return cmd
}

func runRename(cmd *cobra.Command, args []string) error {
	return withRuntime(cmd.Context(), func(rt *config.Runtime) error {
		return rt.Engine.Rename(cmd.Context(), args[0], args[1], versionFlag(cmd))
	})
}

func newDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "delete <path>",
		Aliases: []string{"rm"},
		Short:   "Delete a file",
		Long: `Delete a file. The file disappears immediately; its pages are purged by
the sweeper once no upload or synchronization touches the path.`,
		Args: cobra.ExactArgs(1),
		RunE: runDelete,
	}
	cmd.Flags().Uint64Var(&expectedVersion, "if-version", 0, "only delete if the current version matches")
	return cmd
}

func runDelete(cmd *cobra.Command, args []string) error {
	return withRuntime(cmd.Context(), func(rt *config.Runtime) error {
		return rt.Engine.Delete(cmd.Context(), args[0], versionFlag(cmd))
	})
}
