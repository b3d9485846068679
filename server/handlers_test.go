package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teranos/gemstore/am"
	"github.com/teranos/gemstore/store"
	syncPkg "github.com/teranos/gemstore/sync"
)

// httptest.NewRequest uses this remote address
const testRemoteHost = "192.0.2.1"

func do(t *testing.T, h http.Handler, method, target, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var body errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func TestClientRoutes(t *testing.T) {
	s := newTestServer(t, testConfig())
	h := s.ClientHandler()

	rec := do(t, h, "POST", "/set", `{"key":"b","value":2.0}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"key":"b","value":2.0}`, rec.Body.String())
	do(t, h, "POST", "/set", `{"key":"a","value":[1,"x",null,true]}`)

	rec = do(t, h, "GET", "/query?q=a", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"key":"a","value":[1,"x",null,true]}`, rec.Body.String())

	rec = do(t, h, "GET", "/dump", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `{"a":[1,"x",null,true],"b":2.0}`, strings.TrimSpace(rec.Body.String()))

	rec = do(t, h, "DELETE", "/delete?q=a", "")
	assert.JSONEq(t, `{"deleted":true}`, rec.Body.String())
	rec = do(t, h, "DELETE", "/delete?q=a", "")
	assert.JSONEq(t, `{"deleted":false}`, rec.Body.String())

	rec = do(t, h, "GET", "/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var info syncPkg.NodeInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, "gem-test", info.Nickname)
}

func TestClientRoutes_Errors(t *testing.T) {
	s := newTestServer(t, testConfig())
	h := s.ClientHandler()

	tests := []struct {
		name     string
		method   string
		target   string
		body     string
		wantCode int
		wantKind string
	}{
		{"missing key", "GET", "/query", "", http.StatusBadRequest, "invalid_request"},
		{"absent key", "GET", "/query?q=nope", "", http.StatusNotFound, "key_not_found"},
		{"object value", "POST", "/set", `{"key":"k","value":{"a":1}}`, http.StatusNotImplemented, "unsupported_value_shape"},
		{"nested object", "POST", "/set", `{"key":"k","value":[1,{"a":1}]}`, http.StatusNotImplemented, "unsupported_value_shape"},
		{"undecodable body", "POST", "/set", `{"key":`, http.StatusBadRequest, "malformed_message"},
		{"empty body", "POST", "/set", "", http.StatusBadRequest, "malformed_message"},
		{"missing value", "POST", "/set", `{"key":"k"}`, http.StatusBadRequest, "malformed_message"},
		{"delete without key", "DELETE", "/delete", "", http.StatusBadRequest, "invalid_request"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, tt.method, tt.target, tt.body)
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantKind, decodeError(t, rec).Kind)
		})
	}

	_, err := s.Store().Get("k")
	assert.Error(t, err, "rejected writes leave the store untouched")

	rec := do(t, h, "GET", "/set", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func peerConfig() *am.Config {
	cfg := testConfig()
	cfg.Sync.Peers = []am.PeerConfig{
		{Address: "10.0.0.2", PeerPort: 4095, ClientPort: 4096},
		{Address: testRemoteHost, PeerPort: 4095, ClientPort: 4096},
	}
	cfg.Merge = []am.MergeAttribute{{Key: "n", Policy: "NUM_MAX"}}
	return cfg
}

func TestSync_FirstContactThenIncremental(t *testing.T) {
	s := newTestServer(t, peerConfig())
	h := s.PeerHandler()
	s.Engine().Set("a", store.Int(1))

	req := `{"address":"10.0.0.2","peer_port":4095,"client_port":4096,"version":"0.1.0"}`
	rec := do(t, h, "POST", "/sync", req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "true", rec.Header().Get(syncPkg.ForceResyncHeader))

	var cs syncPkg.ChangeSet
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cs))
	assert.True(t, cs.Full)
	assert.Equal(t, s.Engine().Self(), cs.PeerInfo)
	require.Len(t, cs.Values, 1)

	s.Engine().Set("b", store.String("x"))
	rec = do(t, h, "POST", "/sync", req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get(syncPkg.ForceResyncHeader))
	cs = syncPkg.ChangeSet{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cs))
	assert.False(t, cs.Full)
	require.Len(t, cs.Values, 2, "keys owed before the dump are sent once more")
	assert.Equal(t, "a", cs.Values[0].Key)
	assert.Equal(t, "b", cs.Values[1].Key)

	rec = do(t, h, "POST", "/sync", req, syncPkg.ForceResyncHeader, "true")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "true", rec.Header().Get(syncPkg.ForceResyncHeader))
}

func TestSync_IdentityFallsBackToRemoteHost(t *testing.T) {
	s := newTestServer(t, peerConfig())

	rec := do(t, s.PeerHandler(), "POST", "/sync", `{"peer_port":4095,"client_port":4096}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, s.Engine().Registry().AccessedOnce(syncPkg.PeerInformation{
		Address: testRemoteHost, PeerPort: 4095, ClientPort: 4096,
	}))
}

func TestSync_Rejections(t *testing.T) {
	s := newTestServer(t, peerConfig())
	h := s.PeerHandler()

	tests := []struct {
		name     string
		body     string
		wantCode int
		wantKind string
	}{
		{"unknown peer", `{"address":"10.9.9.9","peer_port":4095,"client_port":4096}`, http.StatusForbidden, "peer_unauthorized"},
		{"wrong port", `{"address":"10.0.0.2","peer_port":5000,"client_port":4096}`, http.StatusForbidden, "peer_unauthorized"},
		{"incompatible version", `{"address":"10.0.0.2","peer_port":4095,"client_port":4096,"version":"2.0.0"}`, http.StatusConflict, "incompatible_version"},
		{"undecodable", `not json`, http.StatusBadRequest, "malformed_message"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, "POST", "/sync", tt.body)
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantKind, decodeError(t, rec).Kind)
		})
	}

	for _, st := range s.Engine().Registry().Status() {
		assert.False(t, st.AccessedOnce, "rejected requests change no state")
	}
}

func TestBroadcastSync(t *testing.T) {
	t.Run("not served in poll mode", func(t *testing.T) {
		s := newTestServer(t, peerConfig())
		rec := do(t, s.PeerHandler(), "POST", "/broadcast_sync", `{}`)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("applies best effort", func(t *testing.T) {
		cfg := peerConfig()
		cfg.Sync.Mode = am.SyncModeBroadcast
		s := newTestServer(t, cfg)
		s.Engine().Set("n", store.Int(7))

		body := `{"peerinfo":{"address":"10.0.0.2","peer_port":4095,"client_port":4096},
			"values":[{"key":"n","value":"oops"},{"key":"m","value":3}],"version":"0.1.0"}`
		rec := do(t, s.PeerHandler(), "POST", "/broadcast_sync", body)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.JSONEq(t, `{"applied":1,"changed":1,"rejected":1}`, rec.Body.String())

		v, err := s.Store().Get("n")
		require.NoError(t, err)
		assert.True(t, store.Int(7).Equal(v), "type conflict keeps the stored value")
		_, err = s.Store().Get("m")
		assert.NoError(t, err)
	})

	t.Run("refuses strangers", func(t *testing.T) {
		cfg := peerConfig()
		cfg.Sync.Mode = am.SyncModeBroadcast
		s := newTestServer(t, cfg)

		body := `{"peerinfo":{"address":"10.9.9.9","peer_port":4095,"client_port":4096},"values":[{"key":"m","value":3}]}`
		rec := do(t, s.PeerHandler(), "POST", "/broadcast_sync", body)
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Zero(t, s.Store().Len())
	})
}

func TestConfigAndStatus(t *testing.T) {
	s := newTestServer(t, peerConfig())
	h := s.PeerHandler()

	rec := do(t, h, "GET", "/config", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var exported configExport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &exported))
	assert.Equal(t, 14095, exported.ServerListenerPort)
	assert.Equal(t, 14096, exported.ClientListenerPort)
	assert.Equal(t, 30, exported.MaxConcurrency)
	assert.Equal(t, "poll", exported.SyncMode)
	assert.Equal(t, map[string]string{"n": "NUM_MAX"}, exported.MergeAttributes)
	assert.Len(t, exported.Peers, 2)

	s.Engine().Set("k", store.Bool(true))
	rec = do(t, h, "GET", "/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var status []syncPkg.PeerStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	require.Len(t, status, 2)
	for _, st := range status {
		assert.Equal(t, 1, st.Queued)
		assert.Equal(t, syncPkg.StateUnknown, st.State)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, testConfig())
	do(t, s.ClientHandler(), "GET", "/query?q=missing", "")

	rec := do(t, s.PeerHandler(), "GET", "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `gemstore_http_requests_total{code="404",listener="client",route="/query"} 1`)

	cfg := testConfig()
	cfg.Metrics.Enabled = false
	bare := newTestServer(t, cfg)
	rec = do(t, bare.PeerHandler(), "GET", "/metrics", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
