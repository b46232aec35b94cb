package main

import (
	"fmt"
	"os"

	"mediaref/cmd/refctl/cli"
	"mediaref/internal/startup"
)

func main() {
	opts := &cli.Options{}
	root := cli.NewRootCommand(cli.VersionInfo{
		Version: startup.Version,
		Commit:  startup.Commit,
	}, opts)

	root.AddCommand(cli.NewVersionCommand())
	root.AddCommand(cli.NewConfigCommand())
	root.AddCommand(cli.NewHashTokenCommand())
	root.AddCommand(cli.NewSyncCommand(opts))
	root.AddCommand(cli.NewIndexCommand(opts))
	root.AddCommand(cli.NewStatusCommand(opts))
	root.AddCommand(cli.NewDuplicatesCommand(opts))
	root.AddCommand(cli.NewOrphansCommand(opts))
	root.AddCommand(cli.NewUsageCommand(opts))
	root.AddCommand(cli.NewRenameCommand(opts))

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
