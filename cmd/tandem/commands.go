package main

import (
	"github.com/spf13/cobra"
)

const defaultConfigPath = "tandem.yaml"

// buildServeCmd creates the "serve" command that starts the server.
func buildServeCmd() *cobra.Command {
	var (
		configPath  string
		debug       bool
		watchConfig bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the tandem server",
		Long: `Start the tandem server.

The server will:
1. Load configuration from the specified file (or tandem.yaml)
2. Open the resource store and the version store
3. Serve the realtime WebSocket gateway and the REST API
4. Serve /healthz and /metrics, plus gRPC health when grpc_port is set

With --watch-config the log level follows edits to the config file.

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with default config
  tandem serve

  # Start with debug logging
  tandem serve --config /etc/tandem/production.yaml --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), resolveConfigPath(configPath), debug, watchConfig)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	cmd.Flags().BoolVar(&watchConfig, "watch-config", false, "Reload the log level when the config file changes")
	return cmd
}

// buildMigrateCmd creates the "migrate" command that applies the store schema.
func buildMigrateCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd, resolveConfigPath(configPath))
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	return cmd
}

// buildTokenCmd creates the "token" command that registers a user and mints
// a session token for it.
func buildTokenCmd() *cobra.Command {
	var (
		configPath string
		opts       tokenOptions
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Register a user and print a session token",
		Long: `Register a user in the configured store and print a signed session token.

With the memory store the user only exists for the lifetime of this command;
use POST /api/tokens against a running server instead.`,
		Example: `  tandem token --user u-ada --name "Ada Lovelace" --email ada@example.com`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToken(cmd, resolveConfigPath(configPath), opts)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	cmd.Flags().StringVar(&opts.UserID, "user", "", "User ID (required)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "Display name")
	cmd.Flags().StringVar(&opts.Email, "email", "", "Email address")
	_ = cmd.MarkFlagRequired("user") //nolint:errcheck
	return cmd
}

// buildWatchCmd creates the "watch" command that prints realtime events.
func buildWatchCmd() *cobra.Command {
	var opts watchOptions
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Connect to the realtime gateway and print events",
		Example: `  tandem watch --url ws://localhost:8080/ws --token $TOKEN --user u-ada --room doc:42
  tandem watch --token $TOKEN --user u-ada --editing doc/42`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.URL, "url", "ws://localhost:8080/ws", "Realtime gateway URL")
	cmd.Flags().StringVar(&opts.Token, "token", "", "Session token (or TANDEM_TOKEN)")
	cmd.Flags().StringVar(&opts.UserID, "user", "", "User ID the token belongs to")
	cmd.Flags().StringVar(&opts.Name, "name", "", "Display name")
	cmd.Flags().StringArrayVar(&opts.Rooms, "room", nil, "Room to join (repeatable)")
	cmd.Flags().StringVar(&opts.Editing, "editing", "", "Claim editing status on type/id while watching")
	cmd.Flags().IntVar(&opts.MaxReconnectAttempts, "max-reconnect", 5, "Reconnect attempts before giving up")
	return cmd
}

// buildCheckCmd creates the "check" command that runs the pre-save conflict
// check against a running server.
func buildCheckCmd() *cobra.Command {
	var opts checkOptions
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Compare local edits with the stored copy and resolve conflicts",
		Long: `Compare a local edit with the latest stored copy of a resource.

--original is the snapshot the edit started from and --current is the edited
data, both JSON objects. Fields changed both locally and remotely are listed.
A strategy (mine, theirs, merge) or per-field --pick resolves them; --apply
saves the result.`,
		Example: `  tandem check --type doc --id 42 --original before.json --current after.json
  tandem check --type doc --id 42 --original before.json --current after.json --pick title=theirs --apply`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.API, "api", "http://localhost:8080", "Server base URL")
	cmd.Flags().StringVar(&opts.Token, "token", "", "Session token or API key (or TANDEM_TOKEN)")
	cmd.Flags().StringVar(&opts.Type, "type", "", "Resource type (required)")
	cmd.Flags().StringVar(&opts.ID, "id", "", "Resource ID (required)")
	cmd.Flags().StringVar(&opts.OriginalPath, "original", "", "JSON file with the snapshot the edit started from")
	cmd.Flags().StringVar(&opts.CurrentPath, "current", "", "JSON file with the edited data (required)")
	cmd.Flags().StringVar(&opts.Strategy, "strategy", "manual", "Resolution strategy: manual, mine, theirs or merge")
	cmd.Flags().StringArrayVar(&opts.Picks, "pick", nil, "Per-field choice field=mine|theirs (repeatable)")
	cmd.Flags().BoolVar(&opts.Apply, "apply", false, "Save the result when nothing is left unresolved")
	_ = cmd.MarkFlagRequired("type")    //nolint:errcheck
	_ = cmd.MarkFlagRequired("id")      //nolint:errcheck
	_ = cmd.MarkFlagRequired("current") //nolint:errcheck
	return cmd
}

// buildConfigCmd creates the "config" command group.
func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	var section string
	schemaCmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the configuration JSON Schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigSchema(cmd, section)
		},
	}
	schemaCmd.Flags().StringVar(&section, "section", "", "Only print one top-level section (e.g. realtime)")

	var configPath string
	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate a configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigValidate(cmd, resolveConfigPath(configPath))
		},
	}
	validateCmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")

	cmd.AddCommand(schemaCmd, validateCmd)
	return cmd
}
