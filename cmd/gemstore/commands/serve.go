package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/teranos/gemstore/am"
	"github.com/teranos/gemstore/errors"
	"github.com/teranos/gemstore/logger"
	"github.com/teranos/gemstore/server"
)

// ServeCmd starts a gemstore node
var ServeCmd = &cobra.Command{
	Use:     "serve [config-file]",
	Aliases: []string{"server", "start"},
	Short:   "Start a gemstore node",
	Long: `Start a gemstore node: the peer listener other nodes sync against, the
client listener applications use, and the propagation worker selected by
sync.mode.

Without a config file argument, ./gemstore.toml is searched for upward from
the working directory. GEMSTORE_* environment variables override the file.`,
	Args: cobra.MaximumNArgs(1),
	RunE: RunServe,
}

const dumpConfigFlag = "dump-config"

func init() {
	AddServeFlags(ServeCmd)
}

// AddServeFlags registers the node flags on cmd; the root command shares them
func AddServeFlags(cmd *cobra.Command) {
	cmd.Flags().String(dumpConfigFlag, "", "Write the default configuration to a file (or stdout) and exit")
	cmd.Flags().Lookup(dumpConfigFlag).NoOptDefVal = "-"
}

// IsServeCommand reports whether cmd starts a node
func IsServeCommand(cmd *cobra.Command) bool {
	return cmd == ServeCmd || !cmd.HasParent()
}

// RunServe starts a node and blocks until SIGINT or SIGTERM
func RunServe(cmd *cobra.Command, args []string) error {
	if cmd.Flags().Changed(dumpConfigFlag) {
		target, _ := cmd.Flags().GetString(dumpConfigFlag)
		return dumpDefaultConfig(cmd, target)
	}

	verbosity, _ := cmd.Flags().GetCount("verbose")
	if verbosity == 0 {
		verbosity = logger.VerbosityInfo
	}

	cfg, configPath, err := loadConfig(args)
	if err != nil {
		return err
	}

	// log.json in the file applies when the flag did not ask for it already
	if cfg.Log.JSON && !logger.JSONOutput {
		if err := logger.Initialize(true, logger.VerbosityToLevel(verbosity)); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
	}

	srv, err := server.New(cfg, server.Options{ConfigPath: configPath})
	if err != nil {
		return errors.Wrap(err, "failed to create node")
	}

	if !logger.JSONOutput {
		printStartupBanner(verbosity, srv, configPath)
	}

	if err := srv.Start(); err != nil {
		return errors.Wrap(err, "node failed to start")
	}
	pterm.Success.Printfln("Listening for peers on %s and clients on %s", srv.PeerAddr(), srv.ClientAddr())

	// Wait for shutdown signal (Ctrl+C)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	pterm.Info.Println("Shutting down gracefully (press Ctrl+C again to force)...")
	shutdownDone := make(chan error, 1)
	go func() {
		shutdownDone <- srv.Stop()
	}()

	select {
	case err := <-shutdownDone:
		if err != nil {
			return errors.Wrap(err, "shutdown error")
		}
		pterm.Success.Println("Node stopped cleanly")
		return nil
	case <-sigChan:
		pterm.Warning.Println("Force shutdown - exiting immediately")
		os.Exit(1)
		return nil
	}
}

// loadConfig reads the explicit config file when given, otherwise the
// default sources. The returned path is the file to watch, or "".
func loadConfig(args []string) (*am.Config, string, error) {
	if len(args) == 1 {
		cfg, err := am.LoadFromFile(args[0])
		if err != nil {
			return nil, "", err
		}
		return cfg, args[0], nil
	}

	cfg, err := am.Load()
	if err != nil {
		return nil, "", errors.Wrap(err, "failed to load config")
	}
	return cfg, am.ConfigFileUsed(), nil
}

// dumpDefaultConfig writes the default configuration to target, or to
// stdout when target is "-"
func dumpDefaultConfig(cmd *cobra.Command, target string) error {
	cfg := am.Default()
	if target == "" || target == "-" {
		data, err := am.Encode(cfg, am.FormatTOML)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	}

	if err := am.WriteFile(cfg, target); err != nil {
		return err
	}
	pterm.Success.Printfln("Default configuration written to %s", target)
	return nil
}
