package server

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teranos/gemstore/errors"
)

func TestCORS(t *testing.T) {
	s := newTestServer(t, testConfig())

	rec := do(t, s.ClientHandler(), "OPTIONS", "/set", "", "Origin", "http://app.example:3000")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://app.example:3000", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, POST, HEAD, DELETE", rec.Header().Get("Access-Control-Allow-Methods"))

	rec = do(t, s.PeerHandler(), "GET", "/", "", "Origin", "http://other.example")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "http://other.example", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORS_AllowedOrigins(t *testing.T) {
	cfg := testConfig()
	cfg.Server.AllowedOrigins = []string{"http://localhost"}
	s := newTestServer(t, cfg)

	rec := do(t, s.ClientHandler(), "GET", "/dump", "", "Origin", "http://localhost:8080")
	assert.Equal(t, "http://localhost:8080", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = do(t, s.ClientHandler(), "GET", "/dump", "", "Origin", "http://evil.example")
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, http.StatusOK, rec.Code, "CORS only withholds the header")
}

func TestRequestID(t *testing.T) {
	s := newTestServer(t, testConfig())

	rec := do(t, s.ClientHandler(), "GET", "/dump", "")
	assert.Len(t, rec.Header().Get("X-Request-ID"), 36)

	rec = do(t, s.ClientHandler(), "GET", "/dump", "", "X-Request-ID", "abc-123")
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}

func TestConcurrencyLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Server.MaxConcurrency = 1
	s := newTestServer(t, cfg)

	require.True(t, s.sem.TryAcquire(1))
	rec := do(t, s.ClientHandler(), "GET", "/dump", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "service_unavailable", decodeError(t, rec).Kind)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	s.sem.Release(1)
	rec = do(t, s.ClientHandler(), "GET", "/dump", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestConcurrencyLimit_Unlimited(t *testing.T) {
	cfg := testConfig()
	cfg.Server.MaxConcurrency = 0
	s := newTestServer(t, cfg)
	assert.Nil(t, s.sem)
	assert.Equal(t, http.StatusOK, do(t, s.ClientHandler(), "GET", "/dump", "").Code)
}

func TestRouteLabel(t *testing.T) {
	assert.Equal(t, "/", routeLabel("GET /{$}"))
	assert.Equal(t, "/sync", routeLabel("POST /sync"))
	assert.Equal(t, "/watch", routeLabel("/watch"))
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{errors.NewKeyNotFoundError("k"), http.StatusNotFound},
		{errors.Wrap(errors.ErrTypeConflict, "k"), http.StatusConflict},
		{errors.Wrap(errors.ErrIncompatibleVersion, "v"), http.StatusConflict},
		{errors.Wrap(errors.ErrUnsupportedValueShape, "obj"), http.StatusNotImplemented},
		{errors.Wrap(errors.ErrPeerUnauthorized, "p"), http.StatusForbidden},
		{errors.Wrap(errors.ErrMalformedMessage, "m"), http.StatusBadRequest},
		{errors.Wrap(errors.ErrInvalidRequest, "m"), http.StatusBadRequest},
		{errors.Wrap(errors.ErrServiceUnavailable, "busy"), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), "%v", tt.err)
	}

	assert.Equal(t, "internal error", publicMessage(errors.New("secret path /etc/x")))
}
