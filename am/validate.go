package am

import (
	"strings"

	"github.com/teranos/gemstore/errors"
	"github.com/teranos/gemstore/store"
)

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if err := validatePort("server.client_listener_port", c.Server.ClientListenerPort); err != nil {
		return err
	}
	if err := validatePort("server.server_listener_port", c.Server.ServerListenerPort); err != nil {
		return err
	}
	if c.Server.ClientListenerPort == c.Server.ServerListenerPort {
		return errors.Newf("server.client_listener_port and server.server_listener_port must differ, both are %d",
			c.Server.ClientListenerPort)
	}

	// Connection and concurrency caps: 0 = unlimited, negative = invalid
	if c.Server.MaxServerConnections < 0 {
		return errors.Newf("server.max_server_connections must be >= 0, got %d", c.Server.MaxServerConnections)
	}
	if c.Server.MaxClientConnections < 0 {
		return errors.Newf("server.max_client_connections must be >= 0, got %d", c.Server.MaxClientConnections)
	}
	if c.Server.MaxConcurrency < 0 {
		return errors.Newf("server.max_concurrency must be >= 0, got %d", c.Server.MaxConcurrency)
	}

	switch strings.ToLower(c.Sync.Mode) {
	case SyncModePoll, SyncModeBroadcast:
	default:
		return errors.WithHint(
			errors.Newf("sync.mode %q is not supported", c.Sync.Mode),
			"use \"poll\" or \"broadcast\"")
	}
	if c.Sync.PollIntervalMS <= 0 {
		return errors.Newf("sync.poll_interval_ms must be > 0, got %d", c.Sync.PollIntervalMS)
	}
	if c.Sync.PeerTimeoutMS <= 0 {
		return errors.Newf("sync.peer_timeout_ms must be > 0, got %d", c.Sync.PeerTimeoutMS)
	}
	if c.Sync.BroadcastRate < 0 {
		return errors.Newf("sync.broadcast_rate must be >= 0, got %f", c.Sync.BroadcastRate)
	}

	seen := make(map[PeerConfig]bool, len(c.Sync.Peers))
	for i, p := range c.Sync.Peers {
		if p.Address == "" {
			return errors.Newf("sync.peers[%d].address cannot be empty", i)
		}
		if err := validatePort("sync.peers[].peer_port", p.PeerPort); err != nil {
			return errors.Wrapf(err, "peer %d", i)
		}
		if err := validatePort("sync.peers[].client_port", p.ClientPort); err != nil {
			return errors.Wrapf(err, "peer %d", i)
		}
		if p.Address == c.Node.AdvertiseAddress && p.PeerPort == c.Server.ServerListenerPort {
			return errors.Newf("sync.peers[%d] is this node (%s:%d)", i, p.Address, p.PeerPort)
		}
		if seen[p] {
			return errors.Newf("sync.peers[%d] duplicates %s:%d", i, p.Address, p.PeerPort)
		}
		seen[p] = true
	}

	for i, attr := range c.Merge {
		if attr.Key == "" {
			return errors.Newf("merge[%d].key cannot be empty", i)
		}
		if _, err := store.ParsePolicy(attr.Policy); err != nil {
			return errors.Wrapf(err, "merge[%d] (key %q)", i, attr.Key)
		}
	}

	return nil
}

func validatePort(name string, port int) error {
	if port <= 0 || port > 65535 {
		return errors.Newf("%s must be between 1 and 65535, got %d", name, port)
	}
	return nil
}
