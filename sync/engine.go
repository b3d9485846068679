// Package sync keeps a node's store eventually consistent with its peers.
//
// The Engine produces and consumes changesets: it negotiates full versus
// incremental exchanges, applies inbound changesets through the store's
// merge path and queues changed keys for onward propagation. The two
// propagation strategies, PollWorker and BroadcastWorker, drive the Engine
// over a Transport and are selected at startup by NewPropagator.
package sync

import (
	gosync "sync"

	"github.com/teranos/gemstore/errors"
	"github.com/teranos/gemstore/logger"
	"github.com/teranos/gemstore/store"
	"go.uber.org/zap"
)

// SourceLocal is the source reported to observers for client writes.
const SourceLocal = "local"

// ChangeObserver is notified after a key's stored value changes.
// source is SourceLocal or the originating peer.
type ChangeObserver interface {
	OnChange(kv store.KeyValuePair, source string)
}

// Engine couples a Store with a PeerRegistry.
type Engine struct {
	store    *store.Store
	registry *PeerRegistry
	self     PeerInformation
	metrics  Metrics
	logger   *zap.SugaredLogger

	obsMu     gosync.RWMutex
	observers []ChangeObserver
}

// NewEngine creates an engine for the node identified by self.
func NewEngine(st *store.Store, registry *PeerRegistry, self PeerInformation, logger *zap.SugaredLogger) *Engine {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Engine{
		store:    st,
		registry: registry,
		self:     self,
		metrics:  noopMetrics{},
		logger:   logger,
	}
}

// SetMetrics installs a metrics sink. Call before the engine is in use.
func (e *Engine) SetMetrics(m Metrics) {
	if m == nil {
		m = noopMetrics{}
	}
	e.metrics = m
}

// RegisterObserver adds o to the set notified of committed changes.
func (e *Engine) RegisterObserver(o ChangeObserver) {
	e.obsMu.Lock()
	defer e.obsMu.Unlock()
	e.observers = append(e.observers, o)
}

// Store returns the underlying store.
func (e *Engine) Store() *store.Store { return e.store }

// Registry returns the peer registry.
func (e *Engine) Registry() *PeerRegistry { return e.registry }

// Self returns this node's identity.
func (e *Engine) Self() PeerInformation { return e.self }

// Request builds the sync request this node sends when polling.
func (e *Engine) Request(force bool) SyncRequest {
	return SyncRequest{
		Address:     e.self.Address,
		PeerPort:    e.self.PeerPort,
		ClientPort:  e.self.ClientPort,
		Version:     ProtocolVersion,
		ForceResync: force,
	}
}

// Set overwrites key locally and queues it for every peer.
func (e *Engine) Set(key string, v store.Value) {
	e.store.Set(key, v)
	e.registry.RecordLocalChange(key)
	e.reportQueueDepths()
	e.notify([]store.KeyValuePair{{Key: key, Value: v}}, SourceLocal)
}

// SetJSON decodes raw and behaves like Set. Rejected values leave both the
// store and the dirty queues untouched.
func (e *Engine) SetJSON(key string, raw []byte) (store.Value, error) {
	v, err := store.FromJSON(raw)
	if err != nil {
		return store.Value{}, errors.Wrapf(err, "key %q", key)
	}
	e.Set(key, v)
	return v, nil
}

// Delete removes key from the local store only. There are no tombstones:
// a later full dump from a peer may bring the key back.
func (e *Engine) Delete(key string) bool {
	return e.store.Delete(key)
}

// ServeSync answers a poll request from a peer.
func (e *Engine) ServeSync(req SyncRequest) (ChangeSet, error) {
	if err := CheckVersion(req.Version); err != nil {
		return ChangeSet{}, err
	}
	peer := req.Sender()
	if !e.registry.IsAuthorized(peer) {
		return ChangeSet{}, errors.Wrapf(errors.ErrPeerUnauthorized, "%s", peer)
	}
	e.registry.EnsureKnown(peer)

	cs := ChangeSet{PeerInfo: e.self, Version: ProtocolVersion}
	if e.registry.Negotiate(peer, req.ForceResync) {
		cs.Full = true
		cs.Values = e.store.DumpPairs()
		e.logger.Infow("Serving full dump",
			logger.FieldPeer, peer.String(),
			logger.FieldForced, req.ForceResync,
			logger.FieldCount, len(cs.Values),
		)
	} else {
		cs.Values = e.store.BulkGet(dedupe(e.registry.DrainFor(peer)))
	}

	e.metrics.ObserveChangeSetServed(cs.Full, len(cs.Values))
	e.metrics.SetDirtyQueueDepth(peer.String(), 0)
	return cs, nil
}

// Outgoing drains peer's dirty queue into a changeset for a push.
// It reports false when there is nothing to send.
func (e *Engine) Outgoing(peer PeerInformation) (ChangeSet, bool) {
	keys := dedupe(e.registry.DrainFor(peer))
	e.metrics.SetDirtyQueueDepth(peer.String(), 0)
	if len(keys) == 0 {
		return ChangeSet{}, false
	}
	values := e.store.BulkGet(keys)
	if len(values) == 0 {
		return ChangeSet{}, false
	}
	return ChangeSet{PeerInfo: e.self, Values: values, Version: ProtocolVersion}, true
}

// AcceptPush authorizes and applies a broadcast changeset.
func (e *Engine) AcceptPush(cs ChangeSet) ([]string, error) {
	if err := CheckVersion(cs.Version); err != nil {
		return nil, err
	}
	if !e.registry.IsAuthorized(cs.PeerInfo) {
		return nil, errors.Wrapf(errors.ErrPeerUnauthorized, "%s", cs.PeerInfo)
	}
	e.registry.EnsureKnown(cs.PeerInfo)
	return e.ApplyChangeSet(cs.PeerInfo, cs)
}

// ApplyChangeSet merges cs into the store and queues every key whose value
// changed for all peers except source. Merge rejections do not stop the
// batch; they are logged and returned combined.
func (e *Engine) ApplyChangeSet(source PeerInformation, cs ChangeSet) ([]string, error) {
	changed, err := e.store.BulkApply(cs.Values)
	if err != nil {
		var rejected *store.RejectedError
		if errors.As(err, &rejected) {
			e.metrics.IncMergeRejected(source.String(), len(rejected.Keys))
		}
		e.logger.Warnw("Changeset partially rejected",
			logger.FieldPeer, source.String(),
			logger.FieldSize, len(cs.Values),
			logger.FieldChanged, len(changed),
			logger.FieldError, err,
		)
	}
	e.metrics.ObserveChangeSetApplied(source.String(), len(cs.Values), len(changed))

	if len(changed) == 0 {
		return changed, err
	}

	e.registry.RecordChangeFrom(source, changed...)
	e.registry.RecordUpdate(source)
	e.reportQueueDepths()
	e.notify(e.store.BulkGet(changed), source.String())

	e.logger.Debugw("Applied changeset",
		logger.FieldPeer, source.String(),
		logger.FieldFull, cs.Full,
		logger.FieldSize, len(cs.Values),
		logger.FieldChanged, len(changed),
	)
	return changed, err
}

func (e *Engine) notify(pairs []store.KeyValuePair, source string) {
	e.obsMu.RLock()
	observers := e.observers
	e.obsMu.RUnlock()

	for _, kv := range pairs {
		for _, o := range observers {
			o.OnChange(kv, source)
		}
	}
}

func (e *Engine) reportQueueDepths() {
	if _, noop := e.metrics.(noopMetrics); noop {
		return
	}
	for _, p := range e.registry.Peers() {
		e.metrics.SetDirtyQueueDepth(p.String(), e.registry.QueueDepth(p))
	}
}
