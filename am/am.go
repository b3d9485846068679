// Package am holds the node's operating configuration ("I am").
//
// Configuration sources, lowest precedence first:
//  1. Defaults (defaults.go)
//  2. System file /etc/gemstore/gemstore.toml
//  3. Project file ./gemstore.toml, searched upward from the working directory
//     (or the explicit path given to LoadFromFile)
//  4. Environment variables with the GEMSTORE_ prefix, dots replaced by
//     underscores (GEMSTORE_SYNC_MODE=broadcast)
package am

// Config represents the gemstore node configuration
type Config struct {
	Node      NodeConfig       `mapstructure:"node" json:"node" toml:"node" yaml:"node"`
	Server    ServerConfig     `mapstructure:"server" json:"server" toml:"server" yaml:"server"`
	Sync      SyncConfig       `mapstructure:"sync" json:"sync" toml:"sync" yaml:"sync"`
	Merge     []MergeAttribute `mapstructure:"merge" json:"merge" toml:"merge" yaml:"merge"`
	Discovery DiscoveryConfig  `mapstructure:"discovery" json:"discovery" toml:"discovery" yaml:"discovery"`
	Metrics   MetricsConfig    `mapstructure:"metrics" json:"metrics" toml:"metrics" yaml:"metrics"`
	Log       LogConfig        `mapstructure:"log" json:"log" toml:"log" yaml:"log"`
}

// NodeConfig identifies this node to peers and clients
type NodeConfig struct {
	Name             string `mapstructure:"name" json:"name" toml:"name" yaml:"name"`                                                     // nickname reported by GET / (empty = generated)
	AdvertiseAddress string `mapstructure:"advertise_address" json:"advertise_address" toml:"advertise_address" yaml:"advertise_address"` // address sent to peers in sync requests
	BindAddress      string `mapstructure:"bind_address" json:"bind_address" toml:"bind_address" yaml:"bind_address"`                     // interface both listeners bind to
}

// ServerConfig configures the two HTTP listeners
type ServerConfig struct {
	ClientListenerPort   int      `mapstructure:"client_listener_port" json:"client_listener_port" toml:"client_listener_port" yaml:"client_listener_port"`
	ServerListenerPort   int      `mapstructure:"server_listener_port" json:"server_listener_port" toml:"server_listener_port" yaml:"server_listener_port"`
	MaxServerConnections int      `mapstructure:"max_server_connections" json:"max_server_connections" toml:"max_server_connections" yaml:"max_server_connections"` // concurrent peer connections
	MaxClientConnections int      `mapstructure:"max_client_connections" json:"max_client_connections" toml:"max_client_connections" yaml:"max_client_connections"` // concurrent client connections
	MaxConcurrency       int      `mapstructure:"max_concurrency" json:"max_concurrency" toml:"max_concurrency" yaml:"max_concurrency"`                             // in-flight handlers across both listeners
	AllowedOrigins       []string `mapstructure:"allowed_origins" json:"allowed_origins" toml:"allowed_origins" yaml:"allowed_origins"`                             // empty = echo the request Origin
}

// Sync modes
const (
	SyncModePoll      = "poll"
	SyncModeBroadcast = "broadcast"
)

// SyncConfig configures propagation between peers
type SyncConfig struct {
	Mode               string       `mapstructure:"mode" json:"mode" toml:"mode" yaml:"mode"`                                                                     // poll or broadcast
	PollIntervalMS     int          `mapstructure:"poll_interval_ms" json:"poll_interval_ms" toml:"poll_interval_ms" yaml:"poll_interval_ms"`                     // delay between poll rounds
	PeerTimeoutMS      int          `mapstructure:"peer_timeout_ms" json:"peer_timeout_ms" toml:"peer_timeout_ms" yaml:"peer_timeout_ms"`                         // per-peer request timeout
	ForceResyncOnStart bool         `mapstructure:"force_resync_on_start" json:"force_resync_on_start" toml:"force_resync_on_start" yaml:"force_resync_on_start"` // first poll of each peer asks for a full dump
	BroadcastRate      float64      `mapstructure:"broadcast_rate" json:"broadcast_rate" toml:"broadcast_rate" yaml:"broadcast_rate"`                             // pushes per second, 0 = unlimited
	Peers              []PeerConfig `mapstructure:"peers" json:"peers" toml:"peers" yaml:"peers"`
}

// PeerConfig is one entry of the peer allow-list
type PeerConfig struct {
	Address    string `mapstructure:"address" json:"address" toml:"address" yaml:"address"`
	PeerPort   int    `mapstructure:"peer_port" json:"peer_port" toml:"peer_port" yaml:"peer_port"`
	ClientPort int    `mapstructure:"client_port" json:"client_port" toml:"client_port" yaml:"client_port"`
}

// MergeAttribute binds a merge policy to a key.
// Keys without an entry are overwritten by the last writer.
type MergeAttribute struct {
	Key    string `mapstructure:"key" json:"key" toml:"key" yaml:"key"`
	Policy string `mapstructure:"policy" json:"policy" toml:"policy" yaml:"policy"` // e.g. NUM_MAX, STR_CONCAT, ARR_UNION
}

// DiscoveryConfig configures mDNS announcement
type DiscoveryConfig struct {
	MDNS bool `mapstructure:"mdns" json:"mdns" toml:"mdns" yaml:"mdns"`
}

// MetricsConfig configures the Prometheus endpoint on the peer listener
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" json:"enabled" toml:"enabled" yaml:"enabled"`
}

// LogConfig configures the global logger
type LogConfig struct {
	JSON bool `mapstructure:"json" json:"json" toml:"json" yaml:"json"`
}

// Default ports, matching the reference deployment
const (
	DefaultPeerPort   = 4095
	DefaultClientPort = 4096
)

// MergeTable returns the merge attributes as a key → policy-name map.
// Later entries for the same key win.
func (c *Config) MergeTable() map[string]string {
	table := make(map[string]string, len(c.Merge))
	for _, attr := range c.Merge {
		table[attr.Key] = attr.Policy
	}
	return table
}
