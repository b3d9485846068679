package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/teranos/gemstore/cmd/gemstore/commands"
	"github.com/teranos/gemstore/errors"
	"github.com/teranos/gemstore/logger"
	"github.com/teranos/gemstore/version"
)

var rootCmd = &cobra.Command{
	Use:   "gemstore [config-file]",
	Short: "gemstore - replicated key-value store node",
	Long: `gemstore - a replicated key-value store with per-key merge policies.

Run without a subcommand to start a node (same as "gemstore serve").
Nodes exchange changes with the peers listed in the configuration, either
by polling them (sync.mode = "poll") or by pushing to them ("broadcast").

Available commands:
  serve     - Start a node
  config    - Show, validate or write configuration
  get/set   - Read and write keys on a running node
  delete    - Remove a key from a running node
  dump      - Print every key stored on a node
  load      - Import a TOML table of keys into a node
  status    - Show a node's per-peer sync state
  discover  - Find nodes on the local network (mDNS)
  version   - Show version information

Examples:
  gemstore                          # Start with ./gemstore.toml (or defaults)
  gemstore node-a.toml              # Start with an explicit config file
  gemstore --dump-config            # Print the default configuration
  gemstore set score 42             # Write to the local node
  gemstore get score --host 10.0.0.2`,
	Args:          cobra.MaximumNArgs(1),
	Version:       version.Get().String(),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbosity, _ := cmd.Flags().GetCount("verbose")
		jsonLogs, _ := cmd.Flags().GetBool("json-logs")

		// A node reports its progress by default; one-shot commands stay quiet
		if commands.IsServeCommand(cmd) && verbosity == 0 {
			verbosity = logger.VerbosityInfo
		}
		if err := logger.Initialize(jsonLogs, logger.VerbosityToLevel(verbosity)); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	RunE: commands.RunServe,
}

func init() {
	// Add global flags
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv)")
	rootCmd.PersistentFlags().Bool("json-logs", false, "Emit logs as JSON")
	rootCmd.SetVersionTemplate("{{.Version}}\n")
	commands.AddServeFlags(rootCmd)

	// Add commands
	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.ConfigCmd)
	rootCmd.AddCommand(commands.VersionCmd)
	rootCmd.AddCommand(commands.DiscoverCmd)
	for _, cmd := range commands.ClientCommands() {
		rootCmd.AddCommand(cmd)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		for _, hint := range errors.GetAllHints(err) {
			fmt.Fprintln(os.Stderr, "Hint:", hint)
		}
		os.Exit(1)
	}
}
