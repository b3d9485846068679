package server

import (
	"net"
	"net/http"
	"strings"

	"github.com/teranos/gemstore/errors"
	"github.com/teranos/gemstore/logger"
	"github.com/teranos/gemstore/store"
	syncPkg "github.com/teranos/gemstore/sync"
	"github.com/teranos/gemstore/version"
)

func versionString() string {
	return version.Version
}

// HandleInfo serves GET / on both listeners
func (s *Server) HandleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Info())
}

// HandleSync answers a poll exchange. The requester is identified by the
// address it declares, falling back to the connection's remote host, and
// by the ports it declares.
func (s *Server) HandleSync(w http.ResponseWriter, r *http.Request) {
	log := logger.LoggerFromContext(r.Context(), s.logger)

	var req syncPkg.SyncRequest
	if err := readJSON(w, r, &req); err != nil {
		log.Debugw("Rejected sync request", logger.FieldError, err)
		writeError(w, err)
		return
	}
	if req.Address == "" {
		req.Address = remoteHost(r)
	}
	req.ForceResync = strings.EqualFold(r.Header.Get(syncPkg.ForceResyncHeader), "true")

	cs, err := s.engine.ServeSync(req)
	if err != nil {
		log.Warnw("Refused sync request",
			logger.FieldPeer, req.Sender().String(),
			logger.FieldError, err,
		)
		writeError(w, err)
		return
	}

	if cs.Full {
		w.Header().Set(syncPkg.ForceResyncHeader, "true")
	}
	writeJSON(w, http.StatusOK, cs)
}

// HandleBroadcastSync applies a pushed changeset. Merge rejections are
// logged and counted but do not fail the request: the rest of the batch
// was applied.
func (s *Server) HandleBroadcastSync(w http.ResponseWriter, r *http.Request) {
	log := logger.LoggerFromContext(r.Context(), s.logger)

	var cs syncPkg.ChangeSet
	if err := readJSON(w, r, &cs); err != nil {
		log.Debugw("Rejected broadcast push", logger.FieldError, err)
		writeError(w, err)
		return
	}
	if cs.PeerInfo.Address == "" {
		cs.PeerInfo.Address = remoteHost(r)
	}

	changed, err := s.engine.AcceptPush(cs)
	resp := pushResponse{Applied: len(cs.Values), Changed: len(changed)}
	if err != nil {
		var rejected *store.RejectedError
		if !errors.As(err, &rejected) {
			log.Warnw("Refused broadcast push",
				logger.FieldPeer, cs.PeerInfo.String(),
				logger.FieldError, err,
			)
			writeError(w, err)
			return
		}
		resp.Rejected = len(rejected.Keys)
		resp.Applied -= resp.Rejected
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleConfig serves the read-only operating configuration
func (s *Server) HandleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.export())
}

// HandleStatus serves per-peer propagation state
func (s *Server) HandleStatus(w http.ResponseWriter, r *http.Request) {
	status := s.engine.Registry().Status()
	if status == nil {
		status = []syncPkg.PeerStatus{}
	}
	writeJSON(w, http.StatusOK, status)
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
