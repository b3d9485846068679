package commands

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/teranos/gemstore/am"
	"github.com/teranos/gemstore/errors"
)

// ConfigCmd groups the configuration commands
var ConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Show, validate or write node configuration",
	Long: `Display and check gemstore node configuration.

Configuration sources (later overrides earlier):
1. Default values
2. System config (/etc/gemstore/gemstore.toml)
3. Project config (./gemstore.toml, searched upward) or the file given as argument
4. Environment variables (GEMSTORE_* prefix, e.g. GEMSTORE_SYNC_MODE=broadcast)

Examples:
  gemstore config show                       # Effective configuration as TOML
  gemstore config show node-a.toml -f json   # A specific file, as JSON
  gemstore config validate node-a.toml       # Check a file before deploying it
  gemstore config dump gemstore.yaml         # Write the defaults as YAML`,
}

var configShowCmd = &cobra.Command{
	Use:   "show [config-file]",
	Short: "Show the effective configuration",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate [config-file]",
	Short: "Validate configuration",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runConfigValidate,
}

var configDumpCmd = &cobra.Command{
	Use:   "dump [path]",
	Short: "Write the default configuration",
	Long:  "Write the default configuration to path (format from its extension) or to stdout.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target := "-"
		if len(args) == 1 {
			target = args[0]
		}
		return dumpDefaultConfig(cmd, target)
	},
}

var configFormat string

func init() {
	configShowCmd.Flags().StringVarP(&configFormat, "format", "f", am.FormatTOML, "Output format: toml, json, yaml")

	ConfigCmd.AddCommand(configShowCmd)
	ConfigCmd.AddCommand(configValidateCmd)
	ConfigCmd.AddCommand(configDumpCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, path, err := loadConfig(args)
	if err != nil {
		return err
	}

	data, err := am.Encode(cfg, configFormat)
	if err != nil {
		return err
	}
	if configFormat == am.FormatTOML && path != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "# gemstore configuration (from %s)\n", path)
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, path, err := loadConfig(args)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "configuration validation failed")
	}

	if path == "" {
		path = "defaults"
	}
	pterm.Success.Printfln("Configuration is valid (%s)", path)
	return nil
}
