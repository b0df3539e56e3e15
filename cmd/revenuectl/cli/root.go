// Package cli implements the revenuectl commands.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/revenue/internal/revenue"
	"github.com/odyssey-erp/revenue/internal/revenue/export"
	"github.com/odyssey-erp/revenue/jobs"
)

var version = "dev"

// NewRootCommand builds the command tree. open is called once per command
// that needs the backend.
func NewRootCommand(open Opener) *cobra.Command {
	root := &cobra.Command{
		Use:   "revenuectl",
		Short: "Operate the revenue metrics pipeline",
		Long: `revenuectl computes revenue snapshots, invalidates snapshot caches and
manages the summary refresh and warmup jobs.

Configuration is read from the same environment variables as the API and
worker (PG_DSN, REDIS_ADDR, AMQP_URL, REVENUE_*).`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().Duration("timeout", time.Minute, "Deadline for the whole command")

	root.AddCommand(
		snapshotCommand(open),
		invalidateCommand(open),
		refreshCommand(open),
		warmupCommand(open),
		queueCommand(open),
		importDoneCommand(open),
	)
	return root
}

// Execute runs the CLI against the live system.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := NewRootCommand(OpenLive)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "revenuectl: %v\n", err)
		return 1
	}
	return 0
}

// withBackend bounds the command by --timeout and closes the backend after fn.
func withBackend(cmd *cobra.Command, open Opener, fn func(ctx context.Context, b Backend) error) error {
	timeout, _ := cmd.Flags().GetDuration("timeout")
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	b, err := open(ctx)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer b.Close()
	return fn(ctx, b)
}

func snapshotCommand(open Opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Compute a revenue snapshot and print it",
		Example: `  # All time, served from cache when warm
  revenuectl snapshot

  # Two months, bypassing every cache tier, as CSV
  revenuectl snapshot --window 2024-01 --window 2024-02 --no-cache --format csv`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rawWindows, _ := cmd.Flags().GetStringSlice("window")
			noCache, _ := cmd.Flags().GetBool("no-cache")
			format, _ := cmd.Flags().GetString("format")
			if format != "json" && format != "csv" {
				return fmt.Errorf("unsupported format %q (expected json or csv)", format)
			}

			windows := make([]revenue.DateWindow, 0, len(rawWindows))
			for _, raw := range rawWindows {
				w, err := revenue.ParseWindow(raw)
				if err != nil {
					return err
				}
				windows = append(windows, w)
			}

			return withBackend(cmd, open, func(ctx context.Context, b Backend) error {
				snap, err := b.Snapshot(ctx, windows, noCache)
				if err != nil {
					return err
				}
				if format == "csv" {
					return export.WriteSnapshotCSV(cmd.OutOrStdout(), snap)
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(snap)
			})
		},
	}
	cmd.Flags().StringSlice("window", nil, "Month to include (YYYY-MM); repeatable, empty means all time")
	cmd.Flags().Bool("no-cache", false, "Compute directly without reading or writing the cache")
	cmd.Flags().String("format", "json", "Output format: json or csv")
	return cmd
}

func invalidateCommand(open Opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "invalidate",
		Short: "Drop cached snapshots in every process",
		RunE: func(cmd *cobra.Command, args []string) error {
			reason, _ := cmd.Flags().GetString("reason")
			return withBackend(cmd, open, func(ctx context.Context, b Backend) error {
				if err := b.Invalidate(ctx, reason); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "invalidated (%s)\n", reason)
				return nil
			})
		},
	}
	cmd.Flags().String("reason", revenue.ReasonManual, "Reason published with the invalidation")
	return cmd
}

func refreshCommand(open Opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Refresh the materialized revenue summary",
		Long: `Queues the summary refresh job. With --direct the refresh runs in this
process and the cache invalidation is published when it succeeds.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			direct, _ := cmd.Flags().GetBool("direct")
			return withBackend(cmd, open, func(ctx context.Context, b Backend) error {
				if direct {
					if err := b.RefreshNow(ctx); err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), "summary refreshed")
					return nil
				}
				return trigger(ctx, cmd.OutOrStdout(), b, jobs.TaskSummaryRefresh)
			})
		},
	}
	cmd.Flags().Bool("direct", false, "Run the refresh now instead of queueing it")
	return cmd
}

func warmupCommand(open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "warmup",
		Short: "Queue the snapshot warmup job",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd, open, func(ctx context.Context, b Backend) error {
				return trigger(ctx, cmd.OutOrStdout(), b, jobs.TaskSnapshotWarmup)
			})
		},
	}
}

func trigger(ctx context.Context, out io.Writer, b Backend, task string) error {
	info, err := b.Trigger(ctx, task)
	if errors.Is(err, jobs.ErrDuplicateTask) {
		fmt.Fprintf(out, "%s already queued\n", task)
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "queued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
	return nil
}

func queueCommand(open Opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the job queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			scheduled, _ := cmd.Flags().GetInt("scheduled")
			return withBackend(cmd, open, func(ctx context.Context, b Backend) error {
				status, err := b.Queue(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "queue=%s pending=%d active=%d scheduled=%d retry=%d archived=%d paused=%t\n",
					status.Queue, status.Pending, status.Active, status.Scheduled, status.Retry, status.Archived, status.Paused)
				if scheduled <= 0 {
					return nil
				}
				tasks, err := b.ListScheduled(ctx, scheduled)
				if err != nil {
					return err
				}
				for _, t := range tasks {
					fmt.Fprintf(out, "  %s %s next=%s\n", t.ID, t.Type, t.NextProcessAt.UTC().Format(time.RFC3339))
				}
				return nil
			})
		},
	}
	cmd.Flags().Int("scheduled", 0, "Also list up to N scheduled tasks")
	return cmd
}

func importDoneCommand(open Opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import-done <batch-id>",
		Short: "Publish a batch-import-completed event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rows, _ := cmd.Flags().GetInt("rows")
			return withBackend(cmd, open, func(ctx context.Context, b Backend) error {
				msg, err := b.PublishImport(ctx, args[0], rows)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "published event %s for batch %s\n", msg.EventID, msg.BatchID)
				return nil
			})
		},
	}
	cmd.Flags().Int("rows", 0, "Number of rows the batch wrote")
	return cmd
}
