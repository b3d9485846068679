package server

import (
	"reflect"

	"github.com/teranos/gemstore/am"
	"github.com/teranos/gemstore/errors"
	"github.com/teranos/gemstore/logger"
	"github.com/teranos/gemstore/store"
)

// applyConfig is the config watcher callback. The merge table and allowed
// origins apply live; every other section needs a restart and is only
// reported.
func (s *Server) applyConfig(next *am.Config) error {
	policies, err := store.ParsePolicyTable(next.MergeTable())
	if err != nil {
		return errors.Wrap(err, "reloaded merge table rejected")
	}

	s.cfgMu.Lock()
	prev := s.cfg
	updated := *prev
	updated.Merge = next.Merge
	updated.Server.AllowedOrigins = next.Server.AllowedOrigins
	s.cfg = &updated
	s.cfgMu.Unlock()

	s.Store().SetPolicies(policies)
	s.logger.Infow("Merge table reloaded", logger.FieldCount, len(policies))

	if ignored := restartOnlyChanges(prev, next); len(ignored) > 0 {
		s.logger.Warnw("Config changes need a restart to take effect",
			"sections", ignored,
		)
	}
	return nil
}

// restartOnlyChanges lists the sections that differ but are not applied live
func restartOnlyChanges(prev, next *am.Config) []string {
	var changed []string
	if !reflect.DeepEqual(prev.Node, next.Node) {
		changed = append(changed, "node")
	}
	prevServer, nextServer := prev.Server, next.Server
	prevServer.AllowedOrigins, nextServer.AllowedOrigins = nil, nil
	if !reflect.DeepEqual(prevServer, nextServer) {
		changed = append(changed, "server")
	}
	if !reflect.DeepEqual(prev.Sync, next.Sync) {
		changed = append(changed, "sync")
	}
	if prev.Discovery != next.Discovery {
		changed = append(changed, "discovery")
	}
	if prev.Metrics != next.Metrics {
		changed = append(changed, "metrics")
	}
	if prev.Log != next.Log {
		changed = append(changed, "log")
	}
	return changed
}
