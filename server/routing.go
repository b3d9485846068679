package server

import (
	"bufio"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/teranos/gemstore/am"
	"github.com/teranos/gemstore/errors"
	"github.com/teranos/gemstore/logger"
)

// route describes one registered endpoint
type route struct {
	pattern string // ServeMux pattern, e.g. "POST /sync"
	handler http.HandlerFunc
	limited bool // counts against server.max_concurrency
}

// setupPeerRoutes configures the peer listener
func (s *Server) setupPeerRoutes() http.Handler {
	routes := []route{
		{"GET /{$}", s.HandleInfo, true},
		{"POST /sync", s.HandleSync, true},
		{"GET /config", s.HandleConfig, true},
		{"GET /status", s.HandleStatus, true},
	}
	// Push gossip is only accepted by nodes running the broadcast strategy
	if s.propagator.Mode() == am.SyncModeBroadcast {
		routes = append(routes, route{"POST /broadcast_sync", s.HandleBroadcastSync, true})
	}
	if s.metrics != nil {
		routes = append(routes, route{"GET /metrics", s.metrics.Handler().ServeHTTP, false})
	}
	return s.buildMux(listenerPeer, routes)
}

// setupClientRoutes configures the client listener
func (s *Server) setupClientRoutes() http.Handler {
	return s.buildMux(listenerClient, []route{
		{"GET /{$}", s.HandleInfo, true},
		{"GET /query", s.HandleQuery, true},
		{"POST /set", s.HandleSet, true},
		{"DELETE /delete", s.HandleDelete, true},
		{"GET /dump", s.HandleDump, true},
		{"GET /watch", s.HandleWatch, false}, // Long-lived; never holds a concurrency slot
	})
}

func (s *Server) buildMux(listener string, routes []route) http.Handler {
	mux := http.NewServeMux()
	for _, rt := range routes {
		h := rt.handler
		if rt.limited {
			h = s.concurrencyMiddleware(h)
		}
		mux.Handle(rt.pattern, s.observeMiddleware(listener, routeLabel(rt.pattern), h))
	}
	return s.requestIDMiddleware(s.corsMiddleware(mux))
}

// routeLabel strips the method and wildcard suffix from a mux pattern
func routeLabel(pattern string) string {
	if _, path, ok := strings.Cut(pattern, " "); ok {
		pattern = path
	}
	return strings.TrimSuffix(pattern, "{$}")
}

// corsMiddleware adds CORS headers to every response. With no
// server.allowed_origins configured the request Origin is echoed back;
// otherwise only origins matching a configured prefix are echoed.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		}
		w.Header().Set("Allow", "GET, POST, HEAD, DELETE")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, HEAD, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID, Gem-Force-Resync")

		// Handle preflight requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// originAllowed checks origin against server.allowed_origins (prefix match,
// so any port on an allowed host passes)
func (s *Server) originAllowed(origin string) bool {
	allowed := s.Config().Server.AllowedOrigins
	if len(allowed) == 0 {
		return true
	}
	for _, prefix := range allowed {
		if prefix == "*" || strings.HasPrefix(origin, prefix) {
			return true
		}
	}
	return false
}

// requestIDMiddleware propagates X-Request-ID, generating one when absent
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(logger.WithRequestID(r.Context(), id)))
	})
}

// concurrencyMiddleware rejects requests with 503 while max_concurrency
// handlers are already running
func (s *Server) concurrencyMiddleware(next http.HandlerFunc) http.HandlerFunc {
	if s.sem == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.sem.TryAcquire(1) {
			w.Header().Set("Retry-After", "1")
			writeError(w, errors.Wrap(errors.ErrServiceUnavailable, "too many concurrent requests"))
			return
		}
		defer s.sem.Release(1)
		next(w, r)
	}
}

// observeMiddleware logs each request at debug level and feeds the
// request metrics
func (s *Server) observeMiddleware(listener, route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)

		if s.observer != nil {
			s.observer.ObserveHTTPRequest(listener, route, rec.status, elapsed)
		}
		logger.LoggerFromContext(r.Context(), s.logger).Debugw("Handled request",
			logger.FieldListener, listener,
			logger.FieldMethod, r.Method,
			logger.FieldPath, r.URL.Path,
			logger.FieldStatus, rec.status,
			logger.FieldDurationMS, elapsed.Milliseconds(),
		)
	})
}

// statusRecorder captures the response status for logging and metrics
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (rr *statusRecorder) WriteHeader(code int) {
	if !rr.wroteHeader {
		rr.status = code
		rr.wroteHeader = true
	}
	rr.ResponseWriter.WriteHeader(code)
}

func (rr *statusRecorder) Write(b []byte) (int, error) {
	rr.wroteHeader = true
	return rr.ResponseWriter.Write(b)
}

// Flush lets streaming handlers flush through the recorder
func (rr *statusRecorder) Flush() {
	if f, ok := rr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack lets the websocket upgrader take over the connection
func (rr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rr.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	rr.status = http.StatusSwitchingProtocols
	rr.wroteHeader = true
	return h.Hijack()
}

// Unwrap exposes the underlying writer to http.ResponseController
func (rr *statusRecorder) Unwrap() http.ResponseWriter {
	return rr.ResponseWriter
}
