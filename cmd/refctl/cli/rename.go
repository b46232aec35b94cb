package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"mediaref/internal/rename"
)

func NewRenameCommand(opts *Options) *cobra.Command {
	var (
		pairs     []string
		suggested []string
		full      bool
		batchSize int
	)

	cmd := &cobra.Command{
		Use:   "rename",
		Short: "Rename assets and rewrite their references",
		Long: `Rename assets and rewrite every indexed reference to them. Names come
from --asset ID=new-name pairs or from the stored suggestions of the
--suggested asset ids.

Without --full only the first 5 items are renamed, as a trial run. With
--full every item is renamed in batches of --batch items.`,
		Example: `  refctl rename --asset 12=sunset-beach --asset 40=team-photo
  refctl rename --suggested 12,40,41 --full`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := parseRenamePairs(pairs)
			if err != nil {
				return err
			}
			suggestedIDs, err := parseIDs(suggested)
			if err != nil {
				return err
			}
			if len(items) == 0 && len(suggestedIDs) == 0 {
				return fmt.Errorf("nothing to rename: give --asset ID=name or --suggested IDs")
			}

			ctx, cancel := commandContext(cmd)
			defer cancel()

			e, err := openEnv(ctx, opts)
			if err != nil {
				return err
			}
			defer e.Close()
			out := cmd.OutOrStdout()

			if len(suggestedIDs) > 0 {
				more, err := e.eng.Suggested(ctx, suggestedIDs)
				if err != nil {
					return err
				}
				items = append(items, more...)
			}

			mode := rename.ModeTest
			if full {
				mode = rename.ModeFull
			}

			var total rename.Summary
			for cursor := 0; ; {
				outcome, err := e.eng.Apply(ctx, items, mode, batchSize, cursor)
				if err != nil {
					return err
				}
				printRenameResults(out, outcome.Results)
				total.Total += outcome.Summary.Total
				total.Success += outcome.Summary.Success
				total.Skipped += outcome.Summary.Skipped
				total.Error += outcome.Summary.Error

				if !outcome.BatchInfo.HasMoreBatches {
					break
				}
				cursor = outcome.BatchInfo.NextCursor
			}

			fmt.Fprintf(out, "%d renamed, %d skipped, %d failed", total.Success, total.Skipped, total.Error)
			if mode == rename.ModeTest && len(items) > total.Total {
				fmt.Fprintf(out, " (trial run: %d items left, use --full)", len(items)-total.Total)
			}
			fmt.Fprintln(out)
			if total.Error > 0 {
				return fmt.Errorf("%d of %d renames failed", total.Error, total.Total)
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&pairs, "asset", nil, "asset to rename as ID=new-name (repeatable)")
	cmd.Flags().StringSliceVar(&suggested, "suggested", nil, "asset ids to rename to their stored suggestion")
	cmd.Flags().BoolVar(&full, "full", false, "rename every item instead of a trial batch")
	cmd.Flags().IntVar(&batchSize, "batch", rename.DefaultBatchSize, "items per batch with --full")

	return cmd
}

// parseRenamePairs parses ID=name arguments.
func parseRenamePairs(pairs []string) ([]rename.Item, error) {
	items := make([]rename.Item, 0, len(pairs))
	for _, p := range pairs {
		idStr, name, ok := strings.Cut(p, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --asset %q: want ID=new-name", p)
		}
		id, err := strconv.ParseInt(strings.TrimSpace(idStr), 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid asset id in %q", p)
		}
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("empty name in %q", p)
		}
		items = append(items, rename.Item{AssetID: id, NewName: name})
	}
	return items, nil
}

func printRenameResults(out io.Writer, results []rename.ItemResult) {
	for _, r := range results {
		switch r.Result {
		case rename.ResultSuccess:
			fmt.Fprintf(out, "  ok    %6d %s -> %s (%d references, %d files)\n", r.AssetID, r.OldPath, r.NewPath, r.References, r.Files)
		default:
			fmt.Fprintf(out, "  %-5s %6d %s: %s", r.Result, r.AssetID, r.OldPath, r.Reason)
			if r.Code != "" {
				fmt.Fprintf(out, " [%s]", r.Code)
			}
			fmt.Fprintln(out)
		}
	}
}
