package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/teranos/gemstore/am"
	"github.com/teranos/gemstore/errors"
	"github.com/teranos/gemstore/internal/httpclient"
	"github.com/teranos/gemstore/store"
	"github.com/teranos/gemstore/sync"
)

// Target node for the client commands
var (
	nodeHost       string
	nodePeerPort   int
	nodeClientPort int
	nodeTimeout    time.Duration
)

var getCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print the value stored under key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withNode(cmd, func(ctx context.Context, c *httpclient.PeerClient, node sync.PeerInformation) error {
			return runGet(ctx, c, node, args[0], cmd.OutOrStdout())
		})
	},
}

var setCmd = &cobra.Command{
	Use:   "set <key> <json-value>",
	Short: "Store a JSON scalar or array under key",
	Long: `Store a value under key. The value is a JSON document: a number, string,
boolean, null, or an array of those. Objects are rejected.

Examples:
  gemstore set score 42
  gemstore set name '"ada"'
  gemstore set tags '[1, "x", true]'`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withNode(cmd, func(ctx context.Context, c *httpclient.PeerClient, node sync.PeerInformation) error {
			if err := runSet(ctx, c, node, args[0], args[1]); err != nil {
				return err
			}
			pterm.Success.Printfln("Set '%s' on %s", args[0], node)
			return nil
		})
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <key>",
	Short: "Remove key from the node",
	Long:  "Remove key from the node. Deletions are not propagated to peers.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withNode(cmd, func(ctx context.Context, c *httpclient.PeerClient, node sync.PeerInformation) error {
			deleted, err := c.Delete(ctx, node, args[0])
			if err != nil {
				return err
			}
			if !deleted {
				pterm.Warning.Printfln("'%s' was not stored on %s", args[0], node)
				return nil
			}
			pterm.Success.Printfln("Deleted '%s' from %s", args[0], node)
			return nil
		})
	},
}

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Print every key stored on the node",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withNode(cmd, func(ctx context.Context, c *httpclient.PeerClient, node sync.PeerInformation) error {
			return runDump(ctx, c, node, cmd.OutOrStdout())
		})
	},
}

var configInfoCmd = &cobra.Command{
	Use:   "configinfo",
	Short: "Print the node's operating configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withNode(cmd, func(ctx context.Context, c *httpclient.PeerClient, node sync.PeerInformation) error {
			raw, err := c.Config(ctx, node)
			if err != nil {
				return err
			}
			return writeIndented(cmd.OutOrStdout(), raw)
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the node's per-peer sync state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withNode(cmd, func(ctx context.Context, c *httpclient.PeerClient, node sync.PeerInformation) error {
			info, err := c.Info(ctx, node.PeerURL())
			if err != nil {
				return err
			}
			status, err := c.Status(ctx, node)
			if err != nil {
				return err
			}
			pterm.Info.Printfln("%s (%s, version %s)", info.Nickname, info.SyncMode, info.Version)
			if len(status) == 0 {
				pterm.Warning.Println("No peers configured")
				return nil
			}
			return pterm.DefaultTable.WithHasHeader().WithData(statusRows(status)).Render()
		})
	},
}

// ClientCommands returns the commands that talk to a running node
func ClientCommands() []*cobra.Command {
	return []*cobra.Command{getCmd, setCmd, deleteCmd, dumpCmd, configInfoCmd, statusCmd, loadCmd}
}

func init() {
	for _, cmd := range ClientCommands() {
		addNodeFlags(cmd)
	}
}

func addNodeFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&nodeHost, "host", "127.0.0.1", "Node address")
	cmd.Flags().IntVar(&nodePeerPort, "peer-port", am.DefaultPeerPort, "Node peer listener port")
	cmd.Flags().IntVar(&nodeClientPort, "client-port", am.DefaultClientPort, "Node client listener port")
	cmd.Flags().DurationVar(&nodeTimeout, "timeout", 10*time.Second, "Request timeout")
}

// withNode runs fn against the node selected by the flags
func withNode(cmd *cobra.Command, fn func(context.Context, *httpclient.PeerClient, sync.PeerInformation) error) error {
	node := sync.PeerInformation{Address: nodeHost, PeerPort: nodePeerPort, ClientPort: nodeClientPort}
	ctx, cancel := context.WithTimeout(cmd.Context(), nodeTimeout)
	defer cancel()
	return fn(ctx, httpclient.NewPeerClient(nodeTimeout), node)
}

func runGet(ctx context.Context, c *httpclient.PeerClient, node sync.PeerInformation, key string, out io.Writer) error {
	v, err := c.Get(ctx, node, key)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, v.String())
	return err
}

// runSet checks the value locally so a typo is reported before any request
func runSet(ctx context.Context, c *httpclient.PeerClient, node sync.PeerInformation, key, raw string) error {
	if _, err := store.FromJSON([]byte(raw)); err != nil {
		return errors.Wrapf(err, "failed to parse %q", raw)
	}
	return c.Set(ctx, node, key, json.RawMessage(raw))
}

func runDump(ctx context.Context, c *httpclient.PeerClient, node sync.PeerInformation, out io.Writer) error {
	dump, err := c.Dump(ctx, node)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(dump, "", "    ")
	if err != nil {
		return errors.Wrap(err, "failed to format dump")
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}

func writeIndented(out io.Writer, raw json.RawMessage) error {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return errors.NewMalformedMessageError(err, "decode config")
	}
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}

func statusRows(status []sync.PeerStatus) [][]string {
	rows := [][]string{{"Peer", "State", "Queued", "Retries", "Last pinged", "Last updated"}}
	for _, st := range status {
		rows = append(rows, []string{
			st.PeerInformation.String(),
			string(st.State),
			strconv.Itoa(st.Queued),
			strconv.Itoa(st.Retries),
			formatTime(st.LastPinged),
			formatTime(st.LastUpdated),
		})
	}
	return rows
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format(time.TimeOnly)
}
