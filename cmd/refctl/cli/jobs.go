package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"mediaref/internal/database"
	"mediaref/internal/errs"
	"mediaref/internal/jobs"
)

// commandContext cancels on interrupt. A job interrupted mid-chunk keeps its
// committed progress and resumes on the next run.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func NewSyncCommand(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Walk the media directory and update asset records",
		Long: `Walk the media directory once, adding new assets, updating changed ones
and removing assets whose files are gone. Run "index" afterwards to
refresh their usage.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			e, err := openEnv(ctx, opts)
			if err != nil {
				return err
			}
			defer e.Close()

			if e.config.MediaDir == "" {
				return errors.New("no media directory configured (set MEDIA_DIR)")
			}
			stats, err := e.idx.Sync(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Synced %s in %v: %d added, %d updated, %d unchanged, %d removed, %d errors\n",
				e.config.MediaDir, stats.Duration.Round(time.Millisecond),
				stats.Added, stats.Updated, stats.Unchanged, stats.Removed, stats.Errors)
			return nil
		},
	}
	return cmd
}

func NewIndexCommand(opts *Options) *cobra.Command {
	var (
		full     bool
		withSync bool
		resume   bool
	)

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Run the usage index job to completion",
		Long: `Queue an index job and step it until it finishes. A smart run re-scans
only assets marked dirty; --full marks every asset dirty first.

If an index job is already active (queued, running or paused elsewhere)
it is continued instead of replaced.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			e, err := openEnv(ctx, opts)
			if err != nil {
				return err
			}
			defer e.Close()
			out := cmd.OutOrStdout()

			if withSync && e.config.MediaDir != "" {
				stats, err := e.idx.Sync(ctx)
				if err != nil {
					return fmt.Errorf("library sync failed: %w", err)
				}
				fmt.Fprintf(out, "Library sync: %d added, %d updated, %d removed\n", stats.Added, stats.Updated, stats.Removed)
			}

			mode := jobs.ModeSmart
			if full {
				mode = jobs.ModeFull
			}
			st, err := startOrContinue(ctx, e.sched, jobs.FamilyIndex, mode, nil, out)
			if err != nil {
				return err
			}
			if st.Status == database.JobPaused {
				if !resume {
					fmt.Fprintln(out, "Index job is paused; run again with --resume to continue it")
					return nil
				}
				if _, err := e.sched.Resume(ctx, jobs.FamilyIndex); err != nil {
					return err
				}
			}

			st, err = driveJob(ctx, e.sched, jobs.FamilyIndex, newProgress(out))
			if err != nil {
				return err
			}
			return reportJob(out, st)
		},
	}

	cmd.Flags().BoolVar(&full, "full", false, "re-index every asset")
	cmd.Flags().BoolVar(&withSync, "sync", false, "walk the media directory first")
	cmd.Flags().BoolVar(&resume, "resume", false, "resume a paused index job")

	return cmd
}

// startOrContinue queues a job, or returns the active one when the family
// is already busy.
func startOrContinue(ctx context.Context, sched *jobs.Scheduler, family, mode string, params any, out io.Writer) (*database.JobState, error) {
	st, err := sched.Start(ctx, family, mode, params)
	var conflict *errs.ConcurrencyError
	switch {
	case err == nil:
		fmt.Fprintf(out, "Queued %s job %s (%s)\n", family, st.JobID, mode)
		return st, nil
	case errors.As(err, &conflict):
		st, err = sched.Status(ctx, family)
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(out, "Continuing active %s job %s (%s)\n", family, st.JobID, st.Status)
		return st, nil
	default:
		return nil, err
	}
}

// reportJob prints the job's final messages and fails for failed jobs.
func reportJob(out io.Writer, st *database.JobState) error {
	for _, e := range st.Errors {
		fmt.Fprintf(out, "  error: %s\n", formatJobError(e))
	}
	if n := len(st.Messages); n > 0 {
		fmt.Fprintln(out, st.Messages[n-1])
	}
	if st.Status == database.JobFailed {
		return fmt.Errorf("%s job %s failed", st.Family, st.JobID)
	}
	return nil
}

func formatJobError(e database.JobError) string {
	if e.AssetID != 0 {
		return fmt.Sprintf("asset %d: %s", e.AssetID, e.Reason)
	}
	return e.Reason
}

func NewStatusCommand(opts *Options) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show job and index status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			e, err := openEnv(ctx, opts)
			if err != nil {
				return err
			}
			defer e.Close()

			states, err := e.sched.StatusAll(ctx)
			if err != nil {
				return err
			}
			summary, err := e.db.GetSummary(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(struct {
					Jobs    []*database.JobState       `json:"jobs"`
					Summary database.UsageIndexSummary `json:"summary"`
				}{states, summary})
			}

			fmt.Fprintln(out, "Jobs:")
			for _, st := range states {
				line := fmt.Sprintf("  %-10s %-9s", st.Family, st.Status)
				if st.JobID != "" {
					line += fmt.Sprintf(" %d/%d processed, %d changed, %d errors", st.Processed, st.Total, st.Changed, len(st.Errors))
				}
				if !st.NextRunAt.IsZero() && st.Status == database.JobQueued {
					line += " next run " + st.NextRunAt.Format(time.RFC3339)
				}
				fmt.Fprintln(out, line)
			}

			fmt.Fprintln(out, "Index:")
			fmt.Fprintf(out, "  assets:   %d (%d indexed, %d dirty)\n", summary.TotalAssets, summary.IndexedAssets, summary.DirtyAssets)
			fmt.Fprintf(out, "  entries:  %d (%d orphaned)\n", summary.TotalEntries, summary.OrphanedEntries)
			for _, ct := range database.ContextTypes {
				fmt.Fprintf(out, "    %-12s %d\n", ct, summary.ByContext[ct])
			}
			fmt.Fprintf(out, "  derived:  %d\n", summary.DerivedCount)
			if !summary.LastUpdate.IsZero() {
				fmt.Fprintf(out, "  updated:  %s\n", summary.LastUpdate.Format(time.RFC3339))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")

	return cmd
}
