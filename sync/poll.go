package sync

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/teranos/gemstore/am"
	"github.com/teranos/gemstore/logger"
	"go.uber.org/zap"
)

// PollWorker is pull-based anti-entropy: every interval it asks each
// configured peer for the changes it is owed and merges them.
type PollWorker struct {
	engine    *Engine
	transport Transport
	opts      Options
	logger    *zap.SugaredLogger

	failures  *failureLog
	forceNext map[PeerInformation]bool
}

// NewPollWorker creates a poll worker over transport.
func NewPollWorker(engine *Engine, transport Transport, opts Options, logger *zap.SugaredLogger) *PollWorker {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	w := &PollWorker{
		engine:    engine,
		transport: transport,
		opts:      opts.withDefaults(),
		logger:    logger,
		failures:  newFailureLog(),
		forceNext: make(map[PeerInformation]bool),
	}
	if opts.ForceResyncOnStart {
		for _, p := range engine.registry.Peers() {
			w.forceNext[p] = true
		}
	}
	return w
}

// Mode implements Propagator.
func (w *PollWorker) Mode() string { return am.SyncModePoll }

// Run polls every interval until ctx is cancelled.
func (w *PollWorker) Run(ctx context.Context) error {
	w.logger.Infow("Poll worker started",
		logger.FieldInterval, w.opts.Interval,
		"peers", len(w.engine.registry.Peers()),
	)

	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Infow("Poll worker stopped")
			return nil
		case <-ticker.C:
			w.Round(ctx)
		}
	}
}

// RoundResult summarizes one poll round.
type RoundResult struct {
	Synced      int
	Changed     int
	Unreachable []PeerInformation
}

// Round exchanges with every configured peer once. A failing peer is
// logged and skipped; it never prevents the remaining peers from syncing.
// Round must not be called concurrently with itself or Run.
func (w *PollWorker) Round(ctx context.Context) RoundResult {
	start := time.Now()
	var result RoundResult
	var transferred []string

	for _, p := range w.engine.registry.Peers() {
		if ctx.Err() != nil {
			break
		}

		received, changed, err := w.syncPeer(ctx, p)
		if err != nil {
			result.Unreachable = append(result.Unreachable, p)
			retries := w.engine.registry.RecordPing(p, err)
			w.engine.metrics.IncPeerFailure(p.String(), "poll")
			if w.failures.shouldWarn(p, retries) {
				w.logger.Warnw("Poll sync failed",
					logger.FieldPeer, p.String(),
					logger.FieldFailures, retries,
					logger.FieldError, err,
				)
			}
			continue
		}

		w.engine.registry.RecordPing(p, nil)
		result.Synced++
		result.Changed += changed
		if received > 0 {
			transferred = append(transferred, fmt.Sprintf("%s ↓%d/%d", p, changed, received))
		}
	}

	w.engine.metrics.ObserveRound(am.SyncModePoll, time.Since(start), len(result.Unreachable))

	// One summary line per tick, only when something noteworthy happened
	if len(transferred) > 0 || len(result.Unreachable) > 0 {
		fields := []interface{}{}
		if result.Synced > 0 {
			fields = append(fields, "synced", result.Synced)
		}
		if len(transferred) > 0 {
			fields = append(fields, "transferred", strings.Join(transferred, ", "))
		}
		if len(result.Unreachable) > 0 {
			fields = append(fields, "unreachable", len(result.Unreachable))
		}
		w.logger.Debugw("Sync tick", fields...)
	}
	return result
}

func (w *PollWorker) syncPeer(ctx context.Context, p PeerInformation) (received, changed int, err error) {
	peerCtx, cancel := context.WithTimeout(ctx, w.opts.PeerTimeout)
	defer cancel()

	force := w.forceNext[p]
	cs, err := w.transport.FetchChangeSet(peerCtx, p, w.engine.Request(force))
	if err != nil {
		return 0, 0, err
	}
	delete(w.forceNext, p)

	// Merge rejections are logged by the engine and do not fail the exchange
	keys, _ := w.engine.ApplyChangeSet(p, cs)
	return len(cs.Values), len(keys), nil
}
