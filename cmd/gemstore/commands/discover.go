package commands

import (
	"fmt"
	"io"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/teranos/gemstore/internal/discovery"
)

// DiscoverCmd browses the local network for gemstore nodes
var DiscoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Find gemstore nodes on the local network",
	Long: `Browse mDNS for nodes started with discovery.mdns = true and print them as
[[sync.peers]] entries ready to paste into a configuration file.

Discovery only finds candidates. A node syncs only with the peers listed
in its configuration.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		timeout, _ := cmd.Flags().GetDuration("timeout")

		spinner, _ := pterm.DefaultSpinner.Start(fmt.Sprintf("Browsing %s for %s", discovery.ServiceName, timeout))
		nodes, err := discovery.Browse(cmd.Context(), timeout)
		if err != nil {
			if spinner != nil {
				spinner.Fail("Browse failed")
			}
			return err
		}
		if spinner != nil {
			spinner.Success(fmt.Sprintf("Found %d node(s)", len(nodes)))
		}

		return writePeerEntries(cmd.OutOrStdout(), nodes)
	},
}

func init() {
	DiscoverCmd.Flags().Duration("timeout", 3*time.Second, "How long to listen for announcements")
}

// writePeerEntries prints nodes in config file syntax
func writePeerEntries(out io.Writer, nodes []discovery.Node) error {
	for _, n := range nodes {
		if _, err := fmt.Fprintf(out, "# %s\n[[sync.peers]]\naddress = %q\npeer_port = %d\nclient_port = %d\n\n",
			n.Name, n.Address, n.PeerPort, n.ClientPort); err != nil {
			return err
		}
	}
	return nil
}
