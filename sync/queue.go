package sync

import (
	gosync "sync"
)

// BroadcastQueue is a FIFO of peers with pending dirty keys.
// A peer is held at most once; pushing a peer that is already waiting is a
// no-op since its drain will pick up the new keys as well.
type BroadcastQueue struct {
	mu      gosync.Mutex
	cond    *gosync.Cond
	items   []PeerInformation
	pending map[PeerInformation]struct{}
	closed  bool
}

// NewBroadcastQueue creates an empty queue.
func NewBroadcastQueue() *BroadcastQueue {
	q := &BroadcastQueue{pending: make(map[PeerInformation]struct{})}
	q.cond = gosync.NewCond(&q.mu)
	return q
}

// Push appends p and wakes one waiter. Pushes after Close are dropped.
func (q *BroadcastQueue) Push(p PeerInformation) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	if _, ok := q.pending[p]; ok {
		return
	}
	q.pending[p] = struct{}{}
	q.items = append(q.items, p)
	q.cond.Signal()
}

// Pop blocks until a peer is available or the queue is closed.
// ok is false once the queue is closed.
func (q *BroadcastQueue) Pop() (p PeerInformation, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.closed {
		return PeerInformation{}, false
	}
	p = q.items[0]
	q.items = q.items[1:]
	delete(q.pending, p)
	return p, true
}

// Len returns the number of waiting peers.
func (q *BroadcastQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close wakes every waiter; subsequent Pops return false.
func (q *BroadcastQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}
