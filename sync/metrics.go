package sync

import "time"

// Metrics captures sync-layer metric sinks.
type Metrics interface {
	ObserveRound(mode string, d time.Duration, failures int)
	ObserveChangeSetServed(full bool, size int)
	ObserveChangeSetApplied(peer string, size, changed int)
	IncMergeRejected(peer string, n int)
	IncPeerFailure(peer, op string)
	SetDirtyQueueDepth(peer string, depth int)
	SetBroadcastQueueDepth(depth int)
}

type noopMetrics struct{}

func (noopMetrics) ObserveRound(string, time.Duration, int)  {}
func (noopMetrics) ObserveChangeSetServed(bool, int)         {}
func (noopMetrics) ObserveChangeSetApplied(string, int, int) {}
func (noopMetrics) IncMergeRejected(string, int)             {}
func (noopMetrics) IncPeerFailure(string, string)            {}
func (noopMetrics) SetDirtyQueueDepth(string, int)           {}
func (noopMetrics) SetBroadcastQueueDepth(int)               {}
