// Command refctl operates on a mediaref database from the shell.
//
// It reads the same configuration as the server (environment, .env files
// and mediaref.yaml) and works directly on the database, so it can run
// next to a live server: job steps take the same leases the server's
// scheduler does.
//
// Usage:
//
//	refctl <command> [flags]
//
// Commands:
//
//	sync        Walk the media directory and update asset records
//	index       Run the usage index job to completion (--full rebuilds)
//	status      Show job and index status (--json for machine output)
//	duplicates  Report duplicate groups (--deep backfills fingerprints)
//	orphans     List index entries of deleted assets (--sweep removes them)
//	usage       Show where assets are referenced (--deep rescans live)
//	rename      Rename assets and rewrite their references
//	config      Generate a config file with the defaults
//	hash-token  Print the bcrypt hash of an API token
//	version     Print build information
//
// Global flags:
//
//	--config     Config file (default: mediaref.yaml in the search path)
//	--log-level  Log level for library output (default: warn)
package main
