// Package main provides the CLI entry point for tandem, the realtime
// collaboration server.
//
// # Basic Usage
//
// Start the server:
//
//	tandem serve --config tandem.yaml
//
// Mint a session token for a user:
//
//	tandem token --config tandem.yaml --user u-ada --name Ada
//
// Follow realtime events for a room:
//
//	tandem watch --url ws://localhost:8080/ws --token $TOKEN --room doc:42
//
// Check local edits against the stored copy before saving:
//
//	tandem check --api http://localhost:8080 --token $TOKEN --type doc --id 42 \
//	    --original original.json --current edited.json --strategy merge --apply
//
// # Environment Variables
//
//   - TANDEM_CONFIG: path to the configuration file (default: tandem.yaml)
//   - TANDEM_TOKEN: token used by watch and check when --token is not set
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "tandem",
		Short: "tandem - realtime presence, editing status and conflict resolution",
		Long: `tandem keeps collaborators on the same page: who is online, who is
editing what, which records changed under them, and how to reconcile
concurrent edits before they are saved.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildMigrateCmd(),
		buildTokenCmd(),
		buildWatchCmd(),
		buildCheckCmd(),
		buildConfigCmd(),
	)
	return rootCmd
}
