// Package server runs a gemstore node: the peer listener that other nodes
// sync against, the client listener applications read and write through,
// and the propagation worker selected by sync.mode.
package server

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/teranos/gemstore/am"
	"github.com/teranos/gemstore/errors"
	"github.com/teranos/gemstore/internal/discovery"
	"github.com/teranos/gemstore/internal/httpclient"
	"github.com/teranos/gemstore/internal/metrics"
	"github.com/teranos/gemstore/logger"
	"github.com/teranos/gemstore/store"
	syncPkg "github.com/teranos/gemstore/sync"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// requestObserver records handled requests; implemented by *metrics.Prometheus
type requestObserver interface {
	ObserveHTTPRequest(listener, route string, status int, d time.Duration)
}

// Options carries the dependencies New does not derive from the config.
// Every field is optional.
type Options struct {
	// ConfigPath enables hot reload of the merge table when set
	ConfigPath string
	// Transport overrides the HTTP peer client (tests use an in-memory one)
	Transport syncPkg.Transport
	// MetricsRegistry receives the collectors; nil means the default registry
	MetricsRegistry *prometheus.Registry
	// Logger is the base logger; nil means logger.Logger
	Logger *zap.SugaredLogger
}

// Server is one gemstore node
type Server struct {
	nickname string
	engine   *syncPkg.Engine

	cfgMu sync.RWMutex
	cfg   *am.Config

	propagator syncPkg.Propagator
	metrics    *metrics.Prometheus // nil when metrics.enabled = false
	observer   requestObserver
	sem        *semaphore.Weighted
	hub        *watchHub
	configPath string

	peerHandler   http.Handler
	clientHandler http.Handler

	// Listeners, populated by Start
	peerServer     *http.Server
	clientServer   *http.Server
	peerListener   net.Listener
	clientListener net.Listener
	configWatcher  *am.ConfigWatcher
	mdns           *discovery.MDNS

	logger *zap.SugaredLogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	state  atomic.Int32
}

// New wires a node from cfg. Nothing listens until Start.
func New(cfg *am.Config, opts Options) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log := opts.Logger
	if log == nil {
		log = logger.Logger
	}
	log = log.Named("server")

	policies, err := store.ParsePolicyTable(cfg.MergeTable())
	if err != nil {
		return nil, errors.Wrap(err, "failed to build merge table")
	}

	self := syncPkg.PeerInformation{
		Address:    cfg.Node.AdvertiseAddress,
		PeerPort:   cfg.Server.ServerListenerPort,
		ClientPort: cfg.Server.ClientListenerPort,
	}
	st := store.New(policies, log.Named("store"))
	registry := syncPkg.NewPeerRegistry(syncPkg.PeersFromConfig(cfg.Sync.Peers))
	engine := syncPkg.NewEngine(st, registry, self, log.Named("sync"))

	nickname := cfg.Node.Name
	if nickname == "" {
		nickname = "gem-" + uuid.NewString()[:8]
	}

	s := &Server{
		nickname:   nickname,
		engine:     engine,
		cfg:        cfg,
		configPath: opts.ConfigPath,
		logger:     log,
	}
	if cfg.Server.MaxConcurrency > 0 {
		s.sem = semaphore.NewWeighted(int64(cfg.Server.MaxConcurrency))
	}

	if cfg.Metrics.Enabled {
		m, err := metrics.NewPrometheus(opts.MetricsRegistry, st.Len)
		if err != nil {
			return nil, errors.Wrap(err, "failed to register metrics")
		}
		s.metrics = m
		s.observer = m
		engine.SetMetrics(m)
	}

	transport := opts.Transport
	if transport == nil {
		transport = httpclient.NewPeerClient(syncPkg.OptionsFromConfig(cfg.Sync).PeerTimeout + time.Second)
	}
	mode := strings.ToLower(cfg.Sync.Mode)
	s.propagator, err = syncPkg.NewPropagator(mode, engine, transport,
		syncPkg.OptionsFromConfig(cfg.Sync), log.Named("sync."+mode))
	if err != nil {
		return nil, err
	}

	s.hub = newWatchHub(log.Named("watch"))
	engine.RegisterObserver(s.hub)

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.peerHandler = s.setupPeerRoutes()
	s.clientHandler = s.setupClientRoutes()
	return s, nil
}

// Engine returns the node's sync engine
func (s *Server) Engine() *syncPkg.Engine { return s.engine }

// Store returns the node's store
func (s *Server) Store() *store.Store { return s.engine.Store() }

// Propagator returns the active propagation strategy
func (s *Server) Propagator() syncPkg.Propagator { return s.propagator }

// PeerHandler serves the peer listener routes
func (s *Server) PeerHandler() http.Handler { return s.peerHandler }

// ClientHandler serves the client listener routes
func (s *Server) ClientHandler() http.Handler { return s.clientHandler }

// Config returns the operating configuration
func (s *Server) Config() *am.Config {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.cfg
}

// Info returns the root info document served by GET /
func (s *Server) Info() syncPkg.NodeInfo {
	connected := s.engine.Registry().Contacted()
	if connected == nil {
		connected = []syncPkg.PeerInformation{}
	}
	return syncPkg.NodeInfo{
		Nickname:       s.nickname,
		Version:        versionString(),
		SyncMode:       s.propagator.Mode(),
		Self:           s.engine.Self(),
		ConnectedPeers: connected,
	}
}

// export builds the read-only configuration view
func (s *Server) export() configExport {
	cfg := s.Config()
	peers := make([]peerExport, 0, len(cfg.Sync.Peers))
	for _, p := range cfg.Sync.Peers {
		peers = append(peers, peerExport{Address: p.Address, PeerPort: p.PeerPort, ClientPort: p.ClientPort})
	}
	return configExport{
		Nickname:             s.nickname,
		Address:              cfg.Node.AdvertiseAddress,
		ServerListenerPort:   cfg.Server.ServerListenerPort,
		ClientListenerPort:   cfg.Server.ClientListenerPort,
		MaxServerConnections: cfg.Server.MaxServerConnections,
		MaxClientConnections: cfg.Server.MaxClientConnections,
		MaxConcurrency:       cfg.Server.MaxConcurrency,
		SyncMode:             cfg.Sync.Mode,
		PollIntervalMS:       cfg.Sync.PollIntervalMS,
		MergeAttributes:      cfg.MergeTable(),
		Peers:                peers,
	}
}

func listenAddr(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
