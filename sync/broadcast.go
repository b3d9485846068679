package sync

import (
	"context"
	"time"

	"github.com/teranos/gemstore/am"
	"github.com/teranos/gemstore/logger"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// BroadcastWorker is push-based gossip. It parks on a BroadcastQueue and,
// for every peer whose dirty queue became non-empty, pushes the drained
// keys to that peer.
type BroadcastWorker struct {
	engine    *Engine
	transport Transport
	queue     *BroadcastQueue
	opts      Options
	limiter   *rate.Limiter
	logger    *zap.SugaredLogger
	failures  *failureLog
}

// NewBroadcastWorker creates a broadcast worker and hooks its queue into
// the engine's registry.
func NewBroadcastWorker(engine *Engine, transport Transport, opts Options, logger *zap.SugaredLogger) *BroadcastWorker {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	w := &BroadcastWorker{
		engine:    engine,
		transport: transport,
		queue:     NewBroadcastQueue(),
		opts:      opts.withDefaults(),
		logger:    logger,
		failures:  newFailureLog(),
	}
	if opts.BroadcastRate > 0 {
		w.limiter = rate.NewLimiter(rate.Limit(opts.BroadcastRate), 1)
	}
	engine.registry.SetOnDirty(func(p PeerInformation) {
		w.queue.Push(p)
		engine.metrics.SetBroadcastQueueDepth(w.queue.Len())
	})
	return w
}

// Mode implements Propagator.
func (w *BroadcastWorker) Mode() string { return am.SyncModeBroadcast }

// Queue exposes the notification queue.
func (w *BroadcastWorker) Queue() *BroadcastQueue { return w.queue }

// Run pushes changesets until ctx is cancelled.
func (w *BroadcastWorker) Run(ctx context.Context) error {
	w.logger.Infow("Broadcast worker started",
		"peers", len(w.engine.registry.Peers()),
		"rate", w.opts.BroadcastRate,
	)

	stop := context.AfterFunc(ctx, w.queue.Close)
	defer stop()

	for {
		p, ok := w.queue.Pop()
		if !ok {
			w.logger.Infow("Broadcast worker stopped")
			return nil
		}
		w.engine.metrics.SetBroadcastQueueDepth(w.queue.Len())
		w.Push(ctx, p)
	}
}

// Push delivers p's pending changes once. A failed push is logged and
// dropped; the keys go out again with the next write that dirties p.
func (w *BroadcastWorker) Push(ctx context.Context, p PeerInformation) {
	if w.limiter != nil {
		if err := w.limiter.Wait(ctx); err != nil {
			return
		}
	}

	cs, ok := w.engine.Outgoing(p)
	if !ok {
		return
	}

	start := time.Now()
	pushCtx, cancel := context.WithTimeout(ctx, w.opts.PeerTimeout)
	err := w.transport.PushChangeSet(pushCtx, p, cs)
	cancel()

	retries := w.engine.registry.RecordPing(p, err)
	if err != nil {
		w.engine.metrics.IncPeerFailure(p.String(), "push")
		w.engine.metrics.ObserveRound(am.SyncModeBroadcast, time.Since(start), 1)
		if w.failures.shouldWarn(p, retries) {
			w.logger.Warnw("Broadcast push failed",
				logger.FieldPeer, p.String(),
				logger.FieldDropped, len(cs.Values),
				logger.FieldFailures, retries,
				logger.FieldError, err,
			)
		}
		return
	}

	w.engine.metrics.ObserveRound(am.SyncModeBroadcast, time.Since(start), 0)
	w.logger.Debugw("Pushed changeset",
		logger.FieldPeer, p.String(),
		logger.FieldCount, len(cs.Values),
	)
}
