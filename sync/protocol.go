package sync

import (
	"context"

	"github.com/Masterminds/semver/v3"
	"github.com/teranos/gemstore/errors"
	"github.com/teranos/gemstore/store"
)

// Sync protocol messages exchanged between gemstore peers.
//
// Poll mode (pull):
//
//	1. Requester POSTs a SyncRequest identifying itself to /sync
//	2. Responder authorizes it against the allow-list
//	3. Responder negotiates: full dump on first contact or when forced,
//	   otherwise the requester's drained dirty queue
//	4. Requester merges the ChangeSet and queues the changed keys for
//	   every other peer
//
// Broadcast mode (push):
//
//	1. Sender drains the receiver's dirty queue and POSTs a ChangeSet
//	   to /broadcast_sync
//	2. Receiver authorizes the sender, merges, and queues changed keys
//	   for every peer except the sender

// ProtocolVersion is sent with every request and changeset.
const ProtocolVersion = "0.1.0"

// ForceResyncHeader carries the force-resync signal on /sync requests and
// marks full-dump responses.
const ForceResyncHeader = "Gem-Force-Resync"

var compatibleVersions = mustConstraint("~0.1")

func mustConstraint(c string) *semver.Constraints {
	constraint, err := semver.NewConstraint(c)
	if err != nil {
		panic(err)
	}
	return constraint
}

// SyncRequest asks a peer for the changes it owes the sender.
type SyncRequest struct {
	Address    string `json:"address"`
	PeerPort   int    `json:"peer_port"`
	ClientPort int    `json:"client_port"`
	Version    string `json:"version,omitempty"`

	// ForceResync travels as the Gem-Force-Resync header.
	ForceResync bool `json:"-"`
}

// Sender returns the identity the request claims.
func (r SyncRequest) Sender() PeerInformation {
	return PeerInformation{Address: r.Address, PeerPort: r.PeerPort, ClientPort: r.ClientPort}
}

// ChangeSet is a bounded batch of key-value updates exchanged in one round.
// Full is set when Values is the responder's entire store.
type ChangeSet struct {
	PeerInfo PeerInformation      `json:"peerinfo"`
	Values   []store.KeyValuePair `json:"values"`
	Full     bool                 `json:"full"`
	Version  string               `json:"version,omitempty"`
}

// NodeInfo is served by GET / on both listeners.
type NodeInfo struct {
	Nickname       string            `json:"nickname"`
	Version        string            `json:"version"`
	SyncMode       string            `json:"sync_mode"`
	Self           PeerInformation   `json:"self"`
	ConnectedPeers []PeerInformation `json:"connected_peers"`
}

// Transport moves sync messages between nodes.
type Transport interface {
	// FetchChangeSet performs a poll exchange against peer.
	FetchChangeSet(ctx context.Context, peer PeerInformation, req SyncRequest) (ChangeSet, error)
	// PushChangeSet delivers a broadcast changeset to peer.
	PushChangeSet(ctx context.Context, peer PeerInformation, cs ChangeSet) error
}

// CheckVersion rejects senders speaking an incompatible protocol version.
// An empty version is accepted for clients predating the version field.
func CheckVersion(v string) error {
	if v == "" {
		return nil
	}
	parsed, err := semver.NewVersion(v)
	if err != nil {
		return errors.Wrapf(errors.ErrIncompatibleVersion, "unparseable version %q", v)
	}
	if !compatibleVersions.Check(parsed) {
		return errors.WithHintf(
			errors.Wrapf(errors.ErrIncompatibleVersion, "peer speaks %s", parsed),
			"this node speaks %s", ProtocolVersion)
	}
	return nil
}

// dedupe keeps the first occurrence of each key, in order.
func dedupe(keys []string) []string {
	if len(keys) < 2 {
		return keys
	}
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
