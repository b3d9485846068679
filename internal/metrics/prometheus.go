// Package metrics exposes gemstore's Prometheus collectors.
//
// Prometheus implements sync.Metrics and the server's request observer
// through method set compatibility, so neither package imports this one.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/teranos/gemstore/errors"
)

const namespace = "gemstore"

// Prometheus holds every collector the node reports.
type Prometheus struct {
	reg prometheus.Gatherer

	syncRoundDuration   *prometheus.HistogramVec
	syncPeerFailures    *prometheus.CounterVec
	changesetServed     *prometheus.HistogramVec
	changesetApplied    *prometheus.HistogramVec
	changesetChanged    *prometheus.CounterVec
	mergeRejected       *prometheus.CounterVec
	dirtyQueueDepth     *prometheus.GaugeVec
	broadcastQueueDepth prometheus.Gauge
	httpRequests        *prometheus.CounterVec
	httpDuration        *prometheus.HistogramVec
	storeKeys           prometheus.GaugeFunc
}

// NewPrometheus registers the collectors with reg (the default registry
// when nil). keyCount, if non-nil, backs the store size gauge.
func NewPrometheus(reg *prometheus.Registry, keyCount func() int) (*Prometheus, error) {
	var registerer prometheus.Registerer = prometheus.DefaultRegisterer
	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	if reg != nil {
		registerer, gatherer = reg, reg
	}

	m := &Prometheus{
		reg: gatherer,
		syncRoundDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "sync",
				Name:      "round_duration_seconds",
				Help:      "Duration of a poll round or a single broadcast push.",
				Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"mode", "result"},
		),
		syncPeerFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sync",
				Name:      "peer_failures_total",
				Help:      "Failed exchanges with a peer by operation (poll, push).",
			},
			[]string{"peer", "op"},
		),
		changesetServed: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "sync",
				Name:      "changeset_served_size",
				Help:      "Number of pairs in changesets served to polling peers.",
				Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
			},
			[]string{"full"},
		),
		changesetApplied: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "sync",
				Name:      "changeset_applied_size",
				Help:      "Number of pairs in inbound changesets.",
				Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
			},
			[]string{"peer"},
		),
		changesetChanged: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sync",
				Name:      "keys_changed_total",
				Help:      "Keys whose stored value changed when applying inbound changesets.",
			},
			[]string{"peer"},
		),
		mergeRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "merge_rejected_total",
				Help:      "Inbound pairs rejected by the merge path (type conflicts).",
			},
			[]string{"peer"},
		),
		dirtyQueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "sync",
				Name:      "dirty_queue_depth",
				Help:      "Keys queued for delivery to a peer, duplicates included.",
			},
			[]string{"peer"},
		),
		broadcastQueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "sync",
				Name:      "broadcast_queue_depth",
				Help:      "Peers waiting for a broadcast push.",
			},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "HTTP requests by listener, route and status code.",
			},
			[]string{"listener", "route", "code"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP handler latency by listener and route.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"listener", "route"},
		),
	}
	if keyCount != nil {
		m.storeKeys = prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "keys",
				Help:      "Keys currently held by the local store.",
			},
			func() float64 { return float64(keyCount()) },
		)
	}

	if err := m.register(registerer); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Prometheus) register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := reg.Register(c); err != nil && !isAlreadyRegistered(err) {
			return errors.Wrap(err, "register runtime collector")
		}
	}

	for name, c := range map[string]**prometheus.HistogramVec{
		"sync round duration":   &m.syncRoundDuration,
		"changeset served size": &m.changesetServed,
		"changeset applied":     &m.changesetApplied,
		"http duration":         &m.httpDuration,
	} {
		if err := registerOrReuse(reg, c); err != nil {
			return errors.Wrapf(err, "register %s histogram", name)
		}
	}
	for name, c := range map[string]**prometheus.CounterVec{
		"peer failures":  &m.syncPeerFailures,
		"keys changed":   &m.changesetChanged,
		"merge rejected": &m.mergeRejected,
		"http requests":  &m.httpRequests,
	} {
		if err := registerOrReuse(reg, c); err != nil {
			return errors.Wrapf(err, "register %s counter", name)
		}
	}
	if err := registerOrReuse(reg, &m.dirtyQueueDepth); err != nil {
		return errors.Wrap(err, "register dirty queue gauge")
	}
	if err := registerOrReuse(reg, &m.broadcastQueueDepth); err != nil {
		return errors.Wrap(err, "register broadcast queue gauge")
	}
	if m.storeKeys != nil {
		if err := registerOrReuse(reg, &m.storeKeys); err != nil {
			return errors.Wrap(err, "register store keys gauge")
		}
	}
	return nil
}

// registerOrReuse registers *c, or swaps in the collector already
// registered under the same descriptor.
func registerOrReuse[C prometheus.Collector](reg prometheus.Registerer, c *C) error {
	if err := reg.Register(*c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return err
		}
		existing, ok := already.ExistingCollector.(C)
		if !ok {
			return errors.Newf("collector type mismatch for %T", *c)
		}
		*c = existing
	}
	return nil
}

func isAlreadyRegistered(err error) bool {
	var already prometheus.AlreadyRegisteredError
	return errors.As(err, &already)
}

// Handler serves the exposition format for the registry in use.
func (m *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func (m *Prometheus) ObserveRound(mode string, d time.Duration, failures int) {
	result := "ok"
	if failures > 0 {
		result = "partial"
	}
	m.syncRoundDuration.WithLabelValues(mode, result).Observe(d.Seconds())
}

func (m *Prometheus) ObserveChangeSetServed(full bool, size int) {
	m.changesetServed.WithLabelValues(strconv.FormatBool(full)).Observe(float64(size))
}

func (m *Prometheus) ObserveChangeSetApplied(peer string, size, changed int) {
	m.changesetApplied.WithLabelValues(peer).Observe(float64(size))
	m.changesetChanged.WithLabelValues(peer).Add(float64(changed))
}

func (m *Prometheus) IncMergeRejected(peer string, n int) {
	m.mergeRejected.WithLabelValues(peer).Add(float64(n))
}

func (m *Prometheus) IncPeerFailure(peer, op string) {
	m.syncPeerFailures.WithLabelValues(peer, op).Inc()
}

func (m *Prometheus) SetDirtyQueueDepth(peer string, depth int) {
	m.dirtyQueueDepth.WithLabelValues(peer).Set(float64(depth))
}

func (m *Prometheus) SetBroadcastQueueDepth(depth int) {
	m.broadcastQueueDepth.Set(float64(depth))
}

// ObserveHTTPRequest records one handled request.
func (m *Prometheus) ObserveHTTPRequest(listener, route string, status int, d time.Duration) {
	m.httpRequests.WithLabelValues(listener, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(listener, route).Observe(d.Seconds())
}
