package server

import (
	"net/http"

	"github.com/teranos/gemstore/errors"
	"github.com/teranos/gemstore/logger"
	"github.com/teranos/gemstore/store"
)

// queryKey extracts the q parameter shared by /query and /delete
func queryKey(r *http.Request) (string, error) {
	key := r.URL.Query().Get("q")
	if key == "" {
		return "", errors.WithHint(
			errors.Wrap(errors.ErrInvalidRequest, "missing key"),
			"pass the key as ?q=<key>")
	}
	return key, nil
}

// HandleQuery serves GET /query?q=<key>
func (s *Server) HandleQuery(w http.ResponseWriter, r *http.Request) {
	key, err := queryKey(r)
	if err != nil {
		writeError(w, err)
		return
	}

	v, err := s.Store().Get(key)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, store.KeyValuePair{Key: key, Value: v})
}

// HandleSet serves POST /set with body {"key": ..., "value": ...}.
// Object values are refused with 501.
func (s *Server) HandleSet(w http.ResponseWriter, r *http.Request) {
	var req setRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Key == "" {
		writeError(w, errors.Wrap(errors.ErrMalformedMessage, "missing key"))
		return
	}
	if len(req.Value) == 0 {
		writeError(w, errors.Wrapf(errors.ErrMalformedMessage, "missing value for key %q", req.Key))
		return
	}

	v, err := s.engine.SetJSON(req.Key, req.Value)
	if err != nil {
		logger.LoggerFromContext(r.Context(), s.logger).Debugw("Rejected client write",
			logger.FieldKey, req.Key,
			logger.FieldError, err,
		)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, store.KeyValuePair{Key: req.Key, Value: v})
}

// HandleDelete serves DELETE /delete?q=<key>. Deletion is local to this
// node and is not propagated.
func (s *Server) HandleDelete(w http.ResponseWriter, r *http.Request) {
	key, err := queryKey(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, deleteResponse{Deleted: s.engine.Delete(key)})
}

// HandleDump serves the whole store as a JSON object. encoding/json emits
// map keys sorted.
func (s *Server) HandleDump(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Store().Dump())
}
