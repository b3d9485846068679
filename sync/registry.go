package sync

import (
	"sort"
	gosync "sync"
	"time"
)

// PeerRegistry owns the allow-list and every peer's PeerState.
//
// All dirty-queue mutation happens under a single lock. The registry's lock
// is independent of the store's: a merge may commit before its keys are
// queued, and polling repairs the rare missed hop.
type PeerRegistry struct {
	mu      gosync.Mutex
	allowed map[PeerInformation]struct{}
	order   []PeerInformation
	states  map[PeerInformation]*PeerState
	onDirty func(PeerInformation)
	now     func() time.Time
}

// NewPeerRegistry creates a registry whose allow-list is peers.
// Every configured peer is known from the start, so local writes made
// before first contact are still queued for it.
func NewPeerRegistry(peers []PeerInformation) *PeerRegistry {
	r := &PeerRegistry{
		allowed: make(map[PeerInformation]struct{}, len(peers)),
		states:  make(map[PeerInformation]*PeerState, len(peers)),
		now:     time.Now,
	}
	for _, p := range peers {
		if _, dup := r.allowed[p]; dup {
			continue
		}
		r.allowed[p] = struct{}{}
		r.order = append(r.order, p)
		r.states[p] = &PeerState{}
	}
	sort.Slice(r.order, func(i, j int) bool { return r.order[i].Less(r.order[j]) })
	return r
}

// SetOnDirty registers fn to be called, outside the lock, for every peer
// whose dirty queue goes from empty to non-empty.
func (r *PeerRegistry) SetOnDirty(fn func(PeerInformation)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onDirty = fn
}

// Peers returns the configured peers in stable order.
func (r *PeerRegistry) Peers() []PeerInformation {
	return append([]PeerInformation(nil), r.order...)
}

// IsAuthorized reports whether p is on the allow-list.
func (r *PeerRegistry) IsAuthorized(p PeerInformation) bool {
	_, ok := r.allowed[p]
	return ok
}

// EnsureKnown creates p's state if it has none yet and reports whether it did.
func (r *PeerRegistry) EnsureKnown(p PeerInformation) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.states[p]; ok {
		return false
	}
	r.states[p] = &PeerState{}
	return true
}

// RecordLocalChange queues keys for every known peer.
func (r *PeerRegistry) RecordLocalChange(keys ...string) {
	r.record(nil, keys)
}

// RecordChangeFrom queues keys for every known peer except source, the
// node the change arrived from.
func (r *PeerRegistry) RecordChangeFrom(source PeerInformation, keys ...string) {
	r.record(&source, keys)
}

func (r *PeerRegistry) record(source *PeerInformation, keys []string) {
	if len(keys) == 0 {
		return
	}

	var woken []PeerInformation
	r.mu.Lock()
	for p, st := range r.states {
		if source != nil && p == *source {
			continue
		}
		if len(st.dirtyQueue) == 0 {
			woken = append(woken, p)
		}
		st.dirtyQueue = append(st.dirtyQueue, keys...)
	}
	notify := r.onDirty
	r.mu.Unlock()

	if notify == nil {
		return
	}
	sort.Slice(woken, func(i, j int) bool { return woken[i].Less(woken[j]) })
	for _, p := range woken {
		notify(p)
	}
}

// DrainFor returns p's dirty queue and clears it in the same critical
// section. Keys are not restored if the caller fails to deliver them.
func (r *PeerRegistry) DrainFor(p PeerInformation) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[p]
	if !ok {
		return nil
	}
	keys := st.dirtyQueue
	st.dirtyQueue = nil
	return keys
}

// Negotiate decides how to serve an exchange with p and reports whether it
// must be a full dump. The first exchange with a peer, or any forced one,
// is full; it marks the peer as contacted. The queue is left alone: a key
// that changed between dump and apply is still owed to the peer.
func (r *PeerRegistry) Negotiate(p PeerInformation, force bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[p]
	if !ok {
		st = &PeerState{}
		r.states[p] = st
	}
	st.lastPinged = r.now()

	if st.accessedOnce && !force {
		return false
	}
	st.accessedOnce = true
	return true
}

// AccessedOnce reports whether p has completed first contact.
func (r *PeerRegistry) AccessedOnce(p PeerInformation) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[p]
	return ok && st.accessedOnce
}

// RecordPing notes an outbound exchange with p. A nil err resets the retry
// counter; otherwise it is incremented. Returns the retry count.
func (r *PeerRegistry) RecordPing(p PeerInformation, err error) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[p]
	if !ok {
		return 0
	}
	st.lastPinged = r.now()
	if err != nil {
		st.retries++
	} else {
		st.retries = 0
	}
	return st.retries
}

// RecordUpdate notes that a changeset from p changed the local store.
func (r *PeerRegistry) RecordUpdate(p PeerInformation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.states[p]; ok {
		st.lastUpdated = r.now()
	}
}

// QueueDepth returns the number of queued keys for p, duplicates included.
func (r *PeerRegistry) QueueDepth(p PeerInformation) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.states[p]; ok {
		return len(st.dirtyQueue)
	}
	return 0
}

// Contacted returns the peers that have completed first contact.
func (r *PeerRegistry) Contacted() []PeerInformation {
	r.mu.Lock()
	defer r.mu.Unlock()
	var peers []PeerInformation
	for _, p := range r.order {
		if r.states[p].accessedOnce {
			peers = append(peers, p)
		}
	}
	return peers
}

// Status snapshots every known peer in stable order.
func (r *PeerRegistry) Status() []PeerStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]PeerStatus, 0, len(r.states))
	for p, st := range r.states {
		out = append(out, st.status(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeerInformation.Less(out[j].PeerInformation) })
	return out
}
