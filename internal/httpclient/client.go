// Package httpclient is the HTTP side of the gemstore wire protocol.
//
// PeerClient implements sync.Transport for the propagation workers and the
// client-facing calls used by the CLI. Every failure it returns belongs to
// the errors taxonomy: transport problems and unexpected statuses are
// ErrNetworkFailure, error bodies from a node are mapped back to the kind
// the node reported.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/teranos/gemstore/errors"
	"github.com/teranos/gemstore/store"
	"github.com/teranos/gemstore/sync"
)

// maxErrorBody bounds how much of an error response is read.
const maxErrorBody = 64 << 10

// PeerClient talks to gemstore nodes over HTTP.
type PeerClient struct {
	*http.Client
	userAgent string
}

// NewPeerClient creates a client whose requests time out after timeout.
// Redirects are refused: a node that answers with one is misconfigured.
func NewPeerClient(timeout time.Duration) *PeerClient {
	dialer := &net.Dialer{
		Timeout:   timeout,
		KeepAlive: 30 * time.Second,
	}
	client := &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			DialContext:           dialer.DialContext,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   4,
			IdleConnTimeout:       90 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return errors.Newf("refusing redirect to %s", req.URL.Redacted())
		},
	}
	return WrapClient(client)
}

// WrapClient wraps an existing http.Client, e.g. one from httptest.
func WrapClient(client *http.Client) *PeerClient {
	return &PeerClient{Client: client, userAgent: "gemstore/" + sync.ProtocolVersion}
}

// FetchChangeSet implements sync.Transport: POST /sync on the peer listener.
func (c *PeerClient) FetchChangeSet(ctx context.Context, peer sync.PeerInformation, req sync.SyncRequest) (sync.ChangeSet, error) {
	header := http.Header{}
	if req.ForceResync {
		header.Set(sync.ForceResyncHeader, "true")
	}

	var cs sync.ChangeSet
	resp, err := c.do(ctx, http.MethodPost, peer.PeerURL()+"/sync", header, req, &cs)
	if err != nil {
		return sync.ChangeSet{}, err
	}
	if resp.Header.Get(sync.ForceResyncHeader) == "true" {
		cs.Full = true
	}
	return cs, nil
}

// PushChangeSet implements sync.Transport: POST /broadcast_sync.
func (c *PeerClient) PushChangeSet(ctx context.Context, peer sync.PeerInformation, cs sync.ChangeSet) error {
	_, err := c.do(ctx, http.MethodPost, peer.PeerURL()+"/broadcast_sync", nil, cs, nil)
	return err
}

// Info fetches GET / from baseURL (either listener).
func (c *PeerClient) Info(ctx context.Context, baseURL string) (sync.NodeInfo, error) {
	var info sync.NodeInfo
	_, err := c.do(ctx, http.MethodGet, strings.TrimSuffix(baseURL, "/")+"/", nil, nil, &info)
	return info, err
}

// Get fetches key from node's client listener.
func (c *PeerClient) Get(ctx context.Context, node sync.PeerInformation, key string) (store.Value, error) {
	var kv store.KeyValuePair
	_, err := c.do(ctx, http.MethodGet, node.ClientURL()+"/query?q="+url.QueryEscape(key), nil, nil, &kv)
	return kv.Value, err
}

// Set stores value under key on node. value is sent as-is and validated
// by the node.
func (c *PeerClient) Set(ctx context.Context, node sync.PeerInformation, key string, value json.RawMessage) error {
	body := struct {
		Key   string          `json:"key"`
		Value json.RawMessage `json:"value"`
	}{Key: key, Value: value}
	_, err := c.do(ctx, http.MethodPost, node.ClientURL()+"/set", nil, body, nil)
	return err
}

// Delete removes key from node and reports whether it existed.
func (c *PeerClient) Delete(ctx context.Context, node sync.PeerInformation, key string) (bool, error) {
	var out struct {
		Deleted bool `json:"deleted"`
	}
	_, err := c.do(ctx, http.MethodDelete, node.ClientURL()+"/delete?q="+url.QueryEscape(key), nil, nil, &out)
	return out.Deleted, err
}

// Dump fetches node's full store.
func (c *PeerClient) Dump(ctx context.Context, node sync.PeerInformation) (map[string]store.Value, error) {
	dump := map[string]store.Value{}
	_, err := c.do(ctx, http.MethodGet, node.ClientURL()+"/dump", nil, nil, &dump)
	return dump, err
}

// Config fetches node's operating configuration as raw JSON.
func (c *PeerClient) Config(ctx context.Context, node sync.PeerInformation) (json.RawMessage, error) {
	var raw json.RawMessage
	_, err := c.do(ctx, http.MethodGet, node.PeerURL()+"/config", nil, nil, &raw)
	return raw, err
}

// Status fetches node's per-peer sync state.
func (c *PeerClient) Status(ctx context.Context, node sync.PeerInformation) ([]sync.PeerStatus, error) {
	var status []sync.PeerStatus
	_, err := c.do(ctx, http.MethodGet, node.PeerURL()+"/status", nil, nil, &status)
	return status, err
}

// do sends one JSON request and decodes a 2xx body into out (if non-nil).
func (c *PeerClient) do(ctx context.Context, method, target string, header http.Header, in, out interface{}) (*http.Response, error) {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return nil, errors.Wrapf(err, "encode %s %s", method, target)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrInvalidRequest, "%s %s: %v", method, target, err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "%s %s", method, target), errors.ErrNetworkFailure)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp, statusError(method, target, resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp, errors.NewMalformedMessageError(err, method+" "+target)
		}
	}
	return resp, nil
}

// errorBody mirrors the server's error responses.
type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// statusError maps a non-2xx response to a taxonomy error. The kind named
// in the body wins; otherwise the status decides. Statuses with no kind
// are network failures.
func statusError(method, target string, resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var body errorBody
	if err := json.Unmarshal(data, &body); err != nil || body.Error == "" {
		body.Error = strings.TrimSpace(string(data))
	}

	sentinel := errors.FromKindName(body.Kind)
	if sentinel == nil {
		sentinel = sentinelForStatus(resp.StatusCode)
	}
	return errors.Wrapf(sentinel, "%s %s: %d %s", method, target, resp.StatusCode, body.Error)
}

func sentinelForStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return errors.ErrMalformedMessage
	case http.StatusForbidden:
		return errors.ErrPeerUnauthorized
	case http.StatusNotFound:
		return errors.ErrKeyNotFound
	case http.StatusConflict:
		return errors.ErrTypeConflict
	case http.StatusNotImplemented:
		return errors.ErrUnsupportedValueShape
	case http.StatusServiceUnavailable:
		return errors.ErrServiceUnavailable
	default:
		return errors.ErrNetworkFailure
	}
}
