package am

import (
	"github.com/spf13/viper"
)

// DefaultFilePermissions is used when writing config files
const DefaultFilePermissions = 0644

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	v.SetDefault("node.name", "")
	v.SetDefault("node.advertise_address", "127.0.0.1")
	v.SetDefault("node.bind_address", "127.0.0.1")

	v.SetDefault("server.client_listener_port", DefaultClientPort)
	v.SetDefault("server.server_listener_port", DefaultPeerPort)
	v.SetDefault("server.max_server_connections", 20)
	v.SetDefault("server.max_client_connections", 128)
	v.SetDefault("server.max_concurrency", 30)
	v.SetDefault("server.allowed_origins", []string{})

	v.SetDefault("sync.mode", SyncModePoll)
	v.SetDefault("sync.poll_interval_ms", 500)
	v.SetDefault("sync.peer_timeout_ms", 5000)
	v.SetDefault("sync.force_resync_on_start", false)
	v.SetDefault("sync.broadcast_rate", 0.0)

	v.SetDefault("discovery.mdns", false)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("log.json", false)
}

// Default returns the configuration with only defaults applied
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	cfg, err := LoadWithViper(v)
	if err != nil {
		// Defaults always decode; a failure here is a programming error
		panic(err)
	}
	return cfg
}
