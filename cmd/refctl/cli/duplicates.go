package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"mediaref/internal/duplicates"
)

func NewDuplicatesCommand(opts *Options) *cobra.Command {
	var (
		deep    bool
		asJSON  bool
		confirm []string
	)

	cmd := &cobra.Command{
		Use:   "duplicates",
		Short: "Report duplicate assets",
		Long: `Group assets that are copies of each other and show which copies are
safe to remove. The quick scan looks at the newest assets; --deep backfills
hashes and fingerprints for the whole library, chunk by chunk, first.

Nothing is deleted. --confirm marks asset ids as confirmed for removal in
the report.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			confirmRemove, err := parseIDs(confirm)
			if err != nil {
				return err
			}

			e, err := openEnv(ctx, opts)
			if err != nil {
				return err
			}
			defer e.Close()
			out := cmd.OutOrStdout()

			var report *duplicates.Report
			if deep {
				for offset := 0; ; {
					p, err := e.det.DeepScanChunk(ctx, offset, confirmRemove)
					if err != nil {
						return err
					}
					if !asJSON {
						fmt.Fprintf(out, "Deep scan: %d/%d assets, %d fingerprinted\n", p.NextOffset, p.Total, p.Fingerprinted)
						for _, je := range p.Errors {
							fmt.Fprintf(out, "  error: %s\n", formatJobError(je))
						}
					}
					if p.Complete {
						report = p.Report
						break
					}
					offset = p.NextOffset
				}
			} else if report, err = e.det.QuickScan(ctx, confirmRemove); err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			printReport(out, report)
			return nil
		},
	}

	cmd.Flags().BoolVar(&deep, "deep", false, "scan the whole library")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	cmd.Flags().StringSliceVar(&confirm, "confirm", nil, "asset ids confirmed for removal")

	return cmd
}

func printReport(out io.Writer, r *duplicates.Report) {
	t := r.Totals
	fmt.Fprintf(out, "%d candidates, %d groups, %d duplicates, %d safe to remove (%s reclaimable)\n",
		t.Candidates, t.Groups, t.Duplicates, t.SafeToRemove, formatBytes(t.ReclaimableBytes))

	for i, g := range r.Groups {
		fmt.Fprintf(out, "\nGroup %d: %s (score %.2f)\n", i+1, g.Confidence, g.Score)
		safe := make(map[int64]bool, len(g.SafeToRemove))
		for _, id := range g.SafeToRemove {
			safe[id] = true
		}
		for _, m := range g.Members {
			tag := "      "
			switch {
			case m.Keep:
				tag = "keep  "
			case safe[m.AssetID]:
				tag = "remove"
			}
			fmt.Fprintf(out, "  %s %6d %-40s %8s uses=%d\n", tag, m.AssetID, m.Path, formatBytes(m.Size), m.UsageCount)
		}
	}
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// parseIDs parses asset ids, accepting comma separated lists as well.
func parseIDs(values []string) ([]int64, error) {
	var ids []int64
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			id, err := strconv.ParseInt(part, 10, 64)
			if err != nil || id <= 0 {
				return nil, fmt.Errorf("invalid asset id %q", part)
			}
			ids = append(ids, id)
		}
	}
	return ids, nil
}
