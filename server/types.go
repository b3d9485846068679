package server

import (
	"encoding/json"
	"time"
)

const (
	// MaxWatchClients is the maximum number of concurrent /watch subscribers
	MaxWatchClients = 100
	// watchQueueSize is the per-subscriber buffer; a subscriber that falls
	// this far behind is disconnected
	watchQueueSize = 256
	// ShutdownTimeout bounds graceful shutdown of both listeners and the
	// propagation worker
	ShutdownTimeout = 10 * time.Second
	// maxBodyBytes bounds request bodies on both listeners
	maxBodyBytes = 32 << 20
)

// Listener names used in logs and metrics
const (
	listenerPeer   = "peer"
	listenerClient = "client"
)

// ServerState represents the server lifecycle state
type ServerState int

const (
	ServerStateIdle     ServerState = iota // Constructed, not listening
	ServerStateRunning                     // Normal operation
	ServerStateDraining                    // Graceful shutdown in progress
	ServerStateStopped                     // Shutdown complete
)

func (s ServerState) String() string {
	switch s {
	case ServerStateIdle:
		return "idle"
	case ServerStateRunning:
		return "running"
	case ServerStateDraining:
		return "draining"
	case ServerStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// setRequest is the body of POST /set
type setRequest struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// deleteResponse is the body of DELETE /delete
type deleteResponse struct {
	Deleted bool `json:"deleted"`
}

// pushResponse is the body of a successful POST /broadcast_sync
type pushResponse struct {
	Applied  int `json:"applied"`
	Changed  int `json:"changed"`
	Rejected int `json:"rejected"`
}

// configExport is the read-only view served by GET /config
type configExport struct {
	Nickname             string            `json:"nickname"`
	Address              string            `json:"address"`
	ServerListenerPort   int               `json:"server_listener_port"`
	ClientListenerPort   int               `json:"client_listener_port"`
	MaxServerConnections int               `json:"max_server_connections"`
	MaxClientConnections int               `json:"max_client_connections"`
	MaxConcurrency       int               `json:"max_concurrency"`
	SyncMode             string            `json:"sync_mode"`
	PollIntervalMS       int               `json:"poll_interval_ms"`
	MergeAttributes      map[string]string `json:"merge_attributes"`
	Peers                []peerExport      `json:"peers"`
}

type peerExport struct {
	Address    string `json:"address"`
	PeerPort   int    `json:"peer_port"`
	ClientPort int    `json:"client_port"`
}
