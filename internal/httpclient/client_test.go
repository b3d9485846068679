package httpclient

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teranos/gemstore/errors"
	"github.com/teranos/gemstore/store"
	"github.com/teranos/gemstore/sync"
)

// nodeFor points both listener ports of a PeerInformation at srv.
func nodeFor(t *testing.T, srv *httptest.Server) sync.PeerInformation {
	t.Helper()
	host, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return sync.PeerInformation{Address: host, PeerPort: port, ClientPort: port}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestFetchChangeSet(t *testing.T) {
	var gotForce string
	var gotReq sync.SyncRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/sync", r.URL.Path)
		gotForce = r.Header.Get(sync.ForceResyncHeader)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		w.Header().Set(sync.ForceResyncHeader, "true")
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"peerinfo":{"address":"10.0.0.1","peer_port":4095,"client_port":4096},"values":[{"key":"f","value":2.0},{"key":"a","value":[1,"x"]}]}`)
	}))
	defer srv.Close()

	client := WrapClient(srv.Client())
	req := sync.SyncRequest{Address: "10.0.0.2", PeerPort: 4095, ClientPort: 4096, Version: sync.ProtocolVersion, ForceResync: true}

	cs, err := client.FetchChangeSet(context.Background(), nodeFor(t, srv), req)
	require.NoError(t, err)

	assert.Equal(t, "true", gotForce)
	assert.Equal(t, "10.0.0.2", gotReq.Address)
	assert.Equal(t, sync.ProtocolVersion, gotReq.Version)
	assert.False(t, gotReq.ForceResync, "force travels only as a header")

	assert.True(t, cs.Full, "the response header marks a full dump")
	require.Len(t, cs.Values, 2)
	assert.Equal(t, store.KindFloat, cs.Values[0].Value.Kind())
	assert.Equal(t, `[1,"x"]`, cs.Values[1].Value.String())
}

func TestPushChangeSet(t *testing.T) {
	var got sync.ChangeSet
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/broadcast_sync", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeJSON(w, http.StatusOK, map[string]int{"applied": len(got.Values)})
	}))
	defer srv.Close()

	cs := sync.ChangeSet{
		PeerInfo: sync.PeerInformation{Address: "10.0.0.2", PeerPort: 4095, ClientPort: 4096},
		Values:   []store.KeyValuePair{{Key: "k", Value: store.Float(3)}},
		Version:  sync.ProtocolVersion,
	}
	require.NoError(t, WrapClient(srv.Client()).PushChangeSet(context.Background(), nodeFor(t, srv), cs))
	require.Len(t, got.Values, 1)
	assert.True(t, store.Float(3).Equal(got.Values[0].Value))
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"kind wins over status", http.StatusConflict, `{"error":"peer speaks 2.0.0","kind":"incompatible_version"}`, errors.ErrIncompatibleVersion},
		{"conflict without kind", http.StatusConflict, `{"error":"type conflict"}`, errors.ErrTypeConflict},
		{"forbidden", http.StatusForbidden, `{"error":"not a peer"}`, errors.ErrPeerUnauthorized},
		{"not found", http.StatusNotFound, `{"error":"key not found"}`, errors.ErrKeyNotFound},
		{"object value", http.StatusNotImplemented, `{"error":"object storage is not implemented"}`, errors.ErrUnsupportedValueShape},
		{"bad request", http.StatusBadRequest, `{"error":"bad json"}`, errors.ErrMalformedMessage},
		{"busy", http.StatusServiceUnavailable, `{"error":"too many requests"}`, errors.ErrServiceUnavailable},
		{"plain text 500", http.StatusInternalServerError, "boom", errors.ErrNetworkFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			_, err := WrapClient(srv.Client()).Get(context.Background(), nodeFor(t, srv), "k")
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestUnreachablePeerIsNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	node := nodeFor(t, srv)
	srv.Close()

	client := NewPeerClient(500 * time.Millisecond)
	_, err := client.FetchChangeSet(context.Background(), node, sync.SyncRequest{})
	require.Error(t, err)
	assert.True(t, errors.IsNetworkFailure(err))
}

func TestMalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"peerinfo":`)
	}))
	defer srv.Close()

	_, err := WrapClient(srv.Client()).FetchChangeSet(context.Background(), nodeFor(t, srv), sync.SyncRequest{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrMalformedMessage))
}

func TestClientCalls(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/query", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"key": r.URL.Query().Get("q"), "value": []int{1, 2}})
	})
	mux.HandleFunc("/set", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]json.RawMessage
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.JSONEq(t, `"a b"`, string(body["key"]))
		assert.JSONEq(t, `{"x":1}`, string(body["value"]), "values are forwarded untouched")
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("/delete", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		writeJSON(w, http.StatusOK, map[string]bool{"deleted": r.URL.Query().Get("q") == "a b"})
	})
	mux.HandleFunc("/dump", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"a":1,"b":"two"}`)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, sync.NodeInfo{Nickname: "gem-1", Version: "0.1", SyncMode: "poll"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ctx := context.Background()
	client := WrapClient(srv.Client())
	node := nodeFor(t, srv)

	v, err := client.Get(ctx, node, "a b")
	require.NoError(t, err)
	assert.Equal(t, "[1,2]", v.String())

	require.NoError(t, client.Set(ctx, node, "a b", json.RawMessage(`{"x":1}`)))

	deleted, err := client.Delete(ctx, node, "a b")
	require.NoError(t, err)
	assert.True(t, deleted)

	dump, err := client.Dump(ctx, node)
	require.NoError(t, err)
	assert.Len(t, dump, 2)
	assert.Equal(t, store.KindString, dump["b"].Kind())

	info, err := client.Info(ctx, srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "gem-1", info.Nickname)
}
