package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"mediaref/internal/duplicates"
)

func NewOrphansCommand(opts *Options) *cobra.Command {
	var sweep bool

	cmd := &cobra.Command{
		Use:   "orphans",
		Short: "List index entries of deleted assets",
		Long: `List index entries that still point at assets which no longer exist.
--sweep deletes them.`,
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

			orphans, err := e.db.DetectOrphans(ctx)
			if err != nil {
				return err
			}
			if len(orphans) == 0 {
				fmt.Fprintln(out, "No orphaned entries")
				return nil
			}
			for _, o := range orphans {
				fmt.Fprintf(out, "  %6d %-40s %d entries\n", o.AssetID, o.LastKnownPath, o.Entries)
			}

			if !sweep {
				fmt.Fprintf(out, "%d orphaned assets; run with --sweep to remove their entries\n", len(orphans))
				return nil
			}
			n, err := e.db.SweepOrphans(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Removed %d orphaned entries\n", n)
			return nil
		},
	}

	cmd.Flags().BoolVar(&sweep, "sweep", false, "delete orphaned entries")

	return cmd
}

func NewUsageCommand(opts *Options) *cobra.Command {
	var deep bool

	cmd := &cobra.Command{
		Use:   "usage <asset-id>...",
		Short: "Show where assets are referenced",
		Long: `Show every indexed reference to the given assets. --deep also rescans the
content store live and marks assets whose index is stale dirty.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}

			ctx, cancel := commandContext(cmd)
			defer cancel()

			e, err := openEnv(ctx, opts)
			if err != nil {
				return err
			}
			defer e.Close()
			out := cmd.OutOrStdout()

			level := duplicates.LevelIndex
			if deep {
				level = duplicates.LevelDeep
			}
			usage, err := e.det.VerifyUsage(ctx, ids, level, e.idx)
			if err != nil {
				return err
			}

			for _, id := range ids {
				u := usage[id]
				state := "unused"
				if u.Used {
					state = "used"
				}
				fmt.Fprintf(out, "%d %s: %s, %d indexed references", u.AssetID, u.Path, state, u.Indexed)
				if u.Live != nil {
					fmt.Fprintf(out, ", %d live", *u.Live)
				}
				if u.Stale {
					fmt.Fprint(out, " (stale, marked for re-index)")
				}
				fmt.Fprintln(out)
				for _, l := range u.Locations {
					fmt.Fprintf(out, "  %-16s %d %s\n", l.ContextType, l.LocationID, l.FieldKey)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&deep, "deep", false, "rescan the content store live")

	return cmd
}
