package sync

import (
	"context"
	"time"

	"github.com/teranos/gemstore/am"
	"github.com/teranos/gemstore/errors"
	"go.uber.org/zap"
)

// Default worker timings, matching the reference deployment.
const (
	DefaultPollInterval = 500 * time.Millisecond
	DefaultPeerTimeout  = 5 * time.Second
)

// Individual failure warnings are logged for the first N consecutive
// failures per peer, then at most once per syncWarnInterval.
const (
	syncWarnInitialAttempts = 5
	syncWarnInterval        = time.Hour
)

// Propagator is a propagation strategy. Exactly one runs per node.
type Propagator interface {
	// Run blocks until ctx is cancelled.
	Run(ctx context.Context) error
	// Mode names the strategy (am.SyncModePoll or am.SyncModeBroadcast).
	Mode() string
}

// Options tune the propagation workers.
type Options struct {
	Interval           time.Duration // poll: time between rounds
	PeerTimeout        time.Duration // deadline for one exchange with one peer
	ForceResyncOnStart bool          // poll: first exchange with each peer asks for a full dump
	BroadcastRate      float64       // broadcast: pushes per second, 0 = unlimited
}

// OptionsFromConfig derives worker options from the sync configuration.
func OptionsFromConfig(cfg am.SyncConfig) Options {
	return Options{
		Interval:           time.Duration(cfg.PollIntervalMS) * time.Millisecond,
		PeerTimeout:        time.Duration(cfg.PeerTimeoutMS) * time.Millisecond,
		ForceResyncOnStart: cfg.ForceResyncOnStart,
		BroadcastRate:      cfg.BroadcastRate,
	}
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = DefaultPollInterval
	}
	if o.PeerTimeout <= 0 {
		o.PeerTimeout = DefaultPeerTimeout
	}
	return o
}

// NewPropagator selects the strategy for mode. The store and registry are
// unaware of which one is active.
func NewPropagator(mode string, engine *Engine, transport Transport, opts Options, logger *zap.SugaredLogger) (Propagator, error) {
	switch mode {
	case am.SyncModePoll:
		return NewPollWorker(engine, transport, opts, logger), nil
	case am.SyncModeBroadcast:
		return NewBroadcastWorker(engine, transport, opts, logger), nil
	default:
		return nil, errors.WithHintf(
			errors.Wrapf(errors.ErrInvalidRequest, "unknown sync mode %q", mode),
			"valid modes: %s, %s", am.SyncModePoll, am.SyncModeBroadcast)
	}
}

// failureLog suppresses repeated per-peer warnings.
// It is used from a single worker goroutine and is not synchronized.
type failureLog struct {
	lastWarned map[PeerInformation]time.Time
	now        func() time.Time
}

func newFailureLog() *failureLog {
	return &failureLog{lastWarned: make(map[PeerInformation]time.Time), now: time.Now}
}

// shouldWarn reports whether the consecutive failure number n for p
// deserves its own log line, and records it if so.
func (f *failureLog) shouldWarn(p PeerInformation, n int) bool {
	if n <= syncWarnInitialAttempts || f.now().Sub(f.lastWarned[p]) > syncWarnInterval {
		f.lastWarned[p] = f.now()
		return true
	}
	return false
}
