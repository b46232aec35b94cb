package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"mediaref/internal/startup"
)

func NewVersionCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := startup.GetBuildInfo()
			out := cmd.OutOrStdout()
			if asJSON {
				return json.NewEncoder(out).Encode(info)
			}
			fmt.Fprintf(out, "refctl %s (commit %s, built %s)\n", info.Version, info.Commit, info.BuildTime)
			fmt.Fprintf(out, "%s %s/%s\n", info.GoVersion, info.OS, info.Arch)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")

	return cmd
}
