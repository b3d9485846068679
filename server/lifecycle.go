package server

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/teranos/gemstore/am"
	"github.com/teranos/gemstore/errors"
	"github.com/teranos/gemstore/internal/discovery"
	"github.com/teranos/gemstore/logger"
	"golang.org/x/net/netutil"
)

// State returns the current server state
func (s *Server) State() ServerState {
	return ServerState(s.state.Load())
}

// setState atomically updates the server state
func (s *Server) setState(newState ServerState) {
	s.state.Store(int32(newState))
	s.logger.Infow("Server state changed", "new_state", newState.String())
}

// Start binds both listeners and starts the propagation worker, the config
// watcher and mDNS announcement. It returns once the node is serving;
// failing to bind is the only fatal error.
func (s *Server) Start() error {
	if s.State() != ServerStateIdle {
		return errors.Newf("server already %s", s.State())
	}
	cfg := s.Config()

	peerLn, err := s.listen(listenerPeer, cfg.Node.BindAddress, cfg.Server.ServerListenerPort, cfg.Server.MaxServerConnections)
	if err != nil {
		return err
	}
	clientLn, err := s.listen(listenerClient, cfg.Node.BindAddress, cfg.Server.ClientListenerPort, cfg.Server.MaxClientConnections)
	if err != nil {
		peerLn.Close()
		return err
	}
	s.peerListener, s.clientListener = peerLn, clientLn

	s.peerServer = newHTTPServer(s.peerHandler)
	s.clientServer = newHTTPServer(s.clientHandler)
	s.serve(listenerPeer, s.peerServer, peerLn)
	s.serve(listenerClient, s.clientServer, clientLn)

	s.startPropagation()

	s.startConfigWatcher()
	if cfg.Discovery.MDNS {
		s.startDiscovery()
	}

	s.setState(ServerStateRunning)
	s.logger.Infow("Node ready",
		logger.FieldNode, s.nickname,
		"peer_addr", peerLn.Addr().String(),
		"client_addr", clientLn.Addr().String(),
		logger.FieldMode, s.propagator.Mode(),
		"peers", len(s.engine.Registry().Peers()),
	)
	return nil
}

// PeerAddr returns the bound peer listener address (nil before Start)
func (s *Server) PeerAddr() net.Addr {
	if s.peerListener == nil {
		return nil
	}
	return s.peerListener.Addr()
}

// ClientAddr returns the bound client listener address (nil before Start)
func (s *Server) ClientAddr() net.Addr {
	if s.clientListener == nil {
		return nil
	}
	return s.clientListener.Addr()
}

func (s *Server) listen(name, host string, port, maxConns int) (net.Listener, error) {
	ln, err := net.Listen("tcp", listenAddr(host, port))
	if err != nil {
		return nil, errors.WithHintf(
			errors.Wrapf(err, "failed to bind %s listener", name),
			"is another node already using port %d?", port)
	}
	if maxConns > 0 {
		ln = netutil.LimitListener(ln, maxConns)
	}
	return ln, nil
}

func newHTTPServer(h http.Handler) *http.Server {
	return &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

func (s *Server) serve(name string, srv *http.Server, ln net.Listener) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Errorw("Listener stopped",
				logger.FieldListener, name,
				logger.FieldError, err,
			)
		}
	}()
}

// startPropagation runs the propagation worker unless there is no one to
// sync with.
func (s *Server) startPropagation() {
	if len(s.engine.Registry().Peers()) == 0 {
		s.logger.Infow("No peers configured, propagation disabled", logger.FieldMode, s.propagator.Mode())
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.propagator.Run(s.ctx); err != nil {
			s.logger.Errorw("Propagation worker stopped",
				logger.FieldMode, s.propagator.Mode(),
				logger.FieldError, err,
			)
		}
	}()
}

// startConfigWatcher hot-reloads the merge table when a config path was given
func (s *Server) startConfigWatcher() {
	if s.configPath == "" {
		return
	}
	watcher, err := am.NewConfigWatcher(s.configPath)
	if err != nil {
		s.logger.Warnw("Config hot reload disabled", logger.FieldError, err)
		return
	}
	watcher.OnReload(s.applyConfig)
	watcher.Start()
	am.SetGlobalWatcher(watcher)
	s.configWatcher = watcher
	s.logger.Infow("Watching config for changes", logger.FieldPath, s.configPath)
}

func (s *Server) startDiscovery() {
	m, err := discovery.Start(s.nickname, s.engine.Self(), func(n discovery.Node) {
		p := n.PeerInformation()
		if s.engine.Registry().IsAuthorized(p) {
			s.logger.Debugw("Discovered configured peer", logger.FieldPeer, p.String())
			return
		}
		s.logger.Infow("Discovered node outside sync.peers",
			logger.FieldNode, n.Name,
			logger.FieldPeer, p.String(),
		)
	})
	if err != nil {
		s.logger.Warnw("mDNS discovery disabled", logger.FieldError, err)
		return
	}
	s.mdns = m
	s.logger.Infow("Announcing on mDNS", "service", discovery.ServiceName)
}

// Stop gracefully shuts down the node
func (s *Server) Stop() error {
	if s.State() != ServerStateRunning {
		s.cancel()
		return nil
	}
	s.logger.Infow("Initiating server shutdown")
	s.setState(ServerStateDraining)

	if s.mdns != nil {
		s.mdns.Stop()
	}
	if s.configWatcher != nil {
		if err := s.configWatcher.Stop(); err != nil {
			s.logger.Warnw("Failed to stop config watcher", logger.FieldError, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()

	var errs error
	for name, srv := range map[string]*http.Server{listenerPeer: s.peerServer, listenerClient: s.clientServer} {
		if err := srv.Shutdown(ctx); err != nil {
			errs = errors.CombineErrors(errs, errors.Wrapf(err, "shutdown %s listener", name))
		}
	}

	// Hijacked websocket connections are not covered by Shutdown
	s.hub.closeAll()
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Infow("All goroutines stopped cleanly")
	case <-ctx.Done():
		s.logger.Warnw("Goroutine shutdown timed out", "timeout", ShutdownTimeout)
	}

	s.setState(ServerStateStopped)
	s.logger.Infow("Server shutdown complete", "watch_drops", s.hub.drops.Load())
	return errs
}
