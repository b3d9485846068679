package commands

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/BurntSushi/toml"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/teranos/gemstore/errors"
	"github.com/teranos/gemstore/internal/httpclient"
	"github.com/teranos/gemstore/store"
	"github.com/teranos/gemstore/sync"
)

var loadCmd = &cobra.Command{
	Use:   "load <file.toml>",
	Short: "Import the keys of a TOML file into the node",
	Long: `Import every top-level key of a TOML file. Each value must be a scalar or
an array; tables are rejected before anything is sent.

Example file:
  score = 42
  name = "ada"
  tags = [1, "x", true]`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pairs, err := readLoadFile(args[0])
		if err != nil {
			return err
		}
		return withNode(cmd, func(ctx context.Context, c *httpclient.PeerClient, node sync.PeerInformation) error {
			if err := runLoad(ctx, c, node, pairs); err != nil {
				return err
			}
			pterm.Success.Printfln("Loaded %d keys into %s", len(pairs), node)
			return nil
		})
	},
}

// readLoadFile decodes path into key/value pairs sorted by key
func readLoadFile(path string) ([]store.KeyValuePair, error) {
	var doc map[string]interface{}
	if _, err := toml.DecodeFile(path, &doc); err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", path)
	}

	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]store.KeyValuePair, 0, len(keys))
	for _, k := range keys {
		v, err := store.FromInterface(doc[k])
		if err != nil {
			return nil, errors.Wrapf(err, "%s: key %q", path, k)
		}
		pairs = append(pairs, store.KeyValuePair{Key: k, Value: v})
	}
	return pairs, nil
}

func runLoad(ctx context.Context, c *httpclient.PeerClient, node sync.PeerInformation, pairs []store.KeyValuePair) error {
	for _, kv := range pairs {
		raw, err := json.Marshal(kv.Value)
		if err != nil {
			return errors.Wrapf(err, "encode %q", kv.Key)
		}
		if err := c.Set(ctx, node, kv.Key, raw); err != nil {
			return errors.Wrapf(err, "set %q", kv.Key)
		}
	}
	return nil
}
