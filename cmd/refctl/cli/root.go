package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"mediaref/internal/logging"
)

// VersionInfo identifies the build shown by --version.
type VersionInfo struct {
	Version string
	Commit  string
}

// Options holds the persistent flags shared by every command.
type Options struct {
	ConfigFile string
	LogLevel   string
}

// NewRootCommand creates the refctl root command with its persistent flags
// bound to opts.
func NewRootCommand(info VersionInfo, opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "refctl",
		Short:         "mediaref command line",
		Long:          "Inspect and maintain the mediaref usage index, duplicates and asset names from the shell.",
		SilenceErrors: true,
		SilenceUsage:  true,

		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logging.SetLevel(logging.ParseLevel(opts.LogLevel))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigFile, "config", "", "config file (default is mediaref.yaml in ., ./config, /etc/mediaref)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	cmd.Version = fmt.Sprintf("%s.%s", info.Version, info.Commit)

	return cmd
}
