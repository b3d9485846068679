package sync

import (
	"context"
	"encoding/json"
	gosync "sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/teranos/gemstore/errors"
	"github.com/teranos/gemstore/store"
	"go.uber.org/zap/zaptest"
)

// memNetwork is an in-process Transport connecting engines directly.
// Changesets are JSON round-tripped to match what crosses the wire.
type memNetwork struct {
	mu     gosync.Mutex
	nodes  map[PeerInformation]*Engine
	down   map[PeerInformation]bool
	forced map[PeerInformation][]bool
}

func newMemNetwork() *memNetwork {
	return &memNetwork{
		nodes:  make(map[PeerInformation]*Engine),
		down:   make(map[PeerInformation]bool),
		forced: make(map[PeerInformation][]bool),
	}
}

func (n *memNetwork) setDown(p PeerInformation, down bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.down[p] = down
}

func (n *memNetwork) forcedFlags(p PeerInformation) []bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]bool(nil), n.forced[p]...)
}

func (n *memNetwork) lookup(p PeerInformation) (*Engine, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.down[p] {
		return nil, errors.Wrapf(errors.ErrNetworkFailure, "%s unreachable", p)
	}
	target, ok := n.nodes[p]
	if !ok {
		return nil, errors.Wrapf(errors.ErrNetworkFailure, "%s: no route", p)
	}
	return target, nil
}

func (n *memNetwork) FetchChangeSet(_ context.Context, peer PeerInformation, req SyncRequest) (ChangeSet, error) {
	n.mu.Lock()
	n.forced[peer] = append(n.forced[peer], req.ForceResync)
	n.mu.Unlock()

	target, err := n.lookup(peer)
	if err != nil {
		return ChangeSet{}, err
	}
	cs, err := target.ServeSync(req)
	if err != nil {
		return ChangeSet{}, err
	}
	return wire(cs)
}

func (n *memNetwork) PushChangeSet(_ context.Context, peer PeerInformation, cs ChangeSet) error {
	target, err := n.lookup(peer)
	if err != nil {
		return err
	}
	sent, err := wire(cs)
	if err != nil {
		return err
	}
	_, err = target.AcceptPush(sent)
	if errors.Is(err, errors.ErrTypeConflict) {
		return nil
	}
	return err
}

func wire(cs ChangeSet) (ChangeSet, error) {
	data, err := json.Marshal(cs)
	if err != nil {
		return ChangeSet{}, err
	}
	var out ChangeSet
	if err := json.Unmarshal(data, &out); err != nil {
		return ChangeSet{}, err
	}
	return out, nil
}

func peerAt(port int) PeerInformation {
	return PeerInformation{Address: "127.0.0.1", PeerPort: port, ClientPort: port + 1}
}

// newCluster builds a full mesh of engines, one per port, registered on a
// shared memNetwork.
func newCluster(t *testing.T, policies store.PolicyTable, ports ...int) (*memNetwork, []*Engine) {
	t.Helper()
	network := newMemNetwork()
	engines := make([]*Engine, 0, len(ports))

	for _, port := range ports {
		self := peerAt(port)
		var peers []PeerInformation
		for _, other := range ports {
			if other != port {
				peers = append(peers, peerAt(other))
			}
		}
		logger := zaptest.NewLogger(t).Sugar()
		e := NewEngine(store.New(policies, logger), NewPeerRegistry(peers), self, logger)
		network.nodes[self] = e
		engines = append(engines, e)
	}
	return network, engines
}

func requireValue(t *testing.T, e *Engine, key string, want store.Value) {
	t.Helper()
	got, err := e.Store().Get(key)
	require.NoError(t, err, "node %s", e.Self())
	require.True(t, want.Equal(got), "node %s: want %s, got %s", e.Self(), want, got)
}
