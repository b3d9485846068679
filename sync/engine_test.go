package sync

import (
	gosync "sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teranos/gemstore/errors"
	"github.com/teranos/gemstore/store"
)

type recordingObserver struct {
	mu      gosync.Mutex
	changes []string
}

func (o *recordingObserver) OnChange(kv store.KeyValuePair, source string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.changes = append(o.changes, source+":"+kv.Key+"="+kv.Value.String())
}

func (o *recordingObserver) snapshot() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.changes...)
}

func keysOf(pairs []store.KeyValuePair) []string {
	keys := make([]string, 0, len(pairs))
	for _, kv := range pairs {
		keys = append(keys, kv.Key)
	}
	return keys
}

func TestEngine_FirstContactThenIncremental(t *testing.T) {
	_, nodes := newCluster(t, nil, 4000, 5000)
	a, b := nodes[0], nodes[1]

	a.Set("x", store.Int(1))
	a.Set("y", store.String("why"))

	cs, err := a.ServeSync(b.Request(false))
	require.NoError(t, err)
	assert.True(t, cs.Full)
	assert.Equal(t, a.Self(), cs.PeerInfo)
	assert.Equal(t, []string{"x", "y"}, keysOf(cs.Values))

	a.Set("z", store.Bool(true))
	a.Set("z", store.Bool(false))

	// The dump does not drain the queue, so keys owed before it go out once more
	cs, err = a.ServeSync(b.Request(false))
	require.NoError(t, err)
	assert.False(t, cs.Full)
	require.Equal(t, []string{"x", "y", "z"}, keysOf(cs.Values), "deduplicated in queue order")
	assert.True(t, store.Bool(false).Equal(cs.Values[2].Value))

	cs, err = a.ServeSync(b.Request(false))
	require.NoError(t, err)
	assert.Empty(t, cs.Values)
}

func TestEngine_ForceResync(t *testing.T) {
	_, nodes := newCluster(t, nil, 4000, 5000)
	a, b := nodes[0], nodes[1]
	a.Set("x", store.Int(1))

	_, err := a.ServeSync(b.Request(false))
	require.NoError(t, err)

	cs, err := a.ServeSync(b.Request(true))
	require.NoError(t, err)
	assert.True(t, cs.Full)
	assert.Len(t, cs.Values, 1)

	cs, err = a.ServeSync(b.Request(false))
	require.NoError(t, err)
	assert.False(t, cs.Full, "force applies to one exchange only")
}

func TestEngine_RejectsUnknownPeer(t *testing.T) {
	_, nodes := newCluster(t, nil, 4000, 5000)
	a := nodes[0]
	a.Set("secret", store.Int(1))

	stranger := SyncRequest{Address: "10.9.9.9", PeerPort: 4095, ClientPort: 4096, Version: ProtocolVersion}
	_, err := a.ServeSync(stranger)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrPeerUnauthorized))
	assert.Len(t, a.Registry().Status(), 1, "rejected peer gains no state")

	_, err = a.AcceptPush(ChangeSet{PeerInfo: stranger.Sender(), Values: []store.KeyValuePair{{Key: "secret", Value: store.Int(2)}}})
	assert.True(t, errors.Is(err, errors.ErrPeerUnauthorized))
	requireValue(t, a, "secret", store.Int(1))
}

func TestEngine_RejectsIncompatibleVersion(t *testing.T) {
	_, nodes := newCluster(t, nil, 4000, 5000)
	a, b := nodes[0], nodes[1]

	req := b.Request(false)
	req.Version = "1.0.0"
	_, err := a.ServeSync(req)
	assert.True(t, errors.Is(err, errors.ErrIncompatibleVersion))
	assert.False(t, a.Registry().AccessedOnce(b.Self()))

	req.Version = ""
	_, err = a.ServeSync(req)
	assert.NoError(t, err, "unversioned senders are accepted")
}

func TestEngine_ApplyChangeSetPropagatesOnlyChanges(t *testing.T) {
	_, nodes := newCluster(t, store.PolicyTable{"hits": store.NumMax}, 4000, 5000, 6000)
	a, b, c := nodes[0], nodes[1], nodes[2]
	obs := &recordingObserver{}
	a.RegisterObserver(obs)

	a.Set("hits", store.Int(5))
	a.Registry().DrainFor(b.Self())
	a.Registry().DrainFor(c.Self())

	changed, err := a.ApplyChangeSet(b.Self(), ChangeSet{PeerInfo: b.Self(), Values: []store.KeyValuePair{
		{Key: "hits", Value: store.Int(3)},
		{Key: "fresh", Value: store.Array(store.Int(1))},
	}})
	require.NoError(t, err)
	assert.Equal(t, []string{"fresh"}, changed)

	assert.Zero(t, a.Registry().QueueDepth(b.Self()), "source is not echoed")
	assert.Equal(t, []string{"fresh"}, a.Registry().DrainFor(c.Self()), "unchanged merges are not re-propagated")

	assert.Equal(t, []string{
		"local:hits=5",
		b.Self().String() + ":fresh=[1]",
	}, obs.snapshot())
}

func TestEngine_ApplyChangeSetIsBestEffort(t *testing.T) {
	_, nodes := newCluster(t, nil, 4000, 5000)
	a, b := nodes[0], nodes[1]
	a.Set("n", store.Int(1))

	changed, err := a.ApplyChangeSet(b.Self(), ChangeSet{Values: []store.KeyValuePair{
		{Key: "n", Value: store.String("one")},
		{Key: "m", Value: store.Int(2)},
	}})
	require.Error(t, err)
	assert.True(t, errors.IsTypeConflict(err))
	assert.Equal(t, []string{"m"}, changed)
	requireValue(t, a, "n", store.Int(1))
	requireValue(t, a, "m", store.Int(2))
}

func TestEngine_SetJSONRejectionQueuesNothing(t *testing.T) {
	_, nodes := newCluster(t, nil, 4000, 5000)
	a, b := nodes[0], nodes[1]

	_, err := a.SetJSON("obj", []byte(`{"nested":{"a":1}}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrUnsupportedValueShape))
	assert.Zero(t, a.Store().Len())
	assert.Zero(t, a.Registry().QueueDepth(b.Self()))

	v, err := a.SetJSON("arr", []byte(`[1, 2.5, "x"]`))
	require.NoError(t, err)
	assert.Equal(t, store.KindArray, v.Kind())
	assert.Equal(t, 1, a.Registry().QueueDepth(b.Self()))
}

func TestEngine_DeleteIsLocal(t *testing.T) {
	_, nodes := newCluster(t, nil, 4000, 5000)
	a, b := nodes[0], nodes[1]

	_, err := a.ServeSync(b.Request(false))
	require.NoError(t, err)

	a.Set("gone", store.Int(1))
	assert.True(t, a.Delete("gone"))
	assert.False(t, a.Delete("gone"))

	cs, err := a.ServeSync(b.Request(false))
	require.NoError(t, err)
	assert.Empty(t, cs.Values, "deleted keys are omitted from incremental changesets")
}

func TestDedupe(t *testing.T) {
	assert.Equal(t, []string{"b", "a", "c"}, dedupe([]string{"b", "a", "b", "c", "a"}))
	assert.Nil(t, dedupe(nil))
}

func TestCheckVersion(t *testing.T) {
	assert.NoError(t, CheckVersion(ProtocolVersion))
	assert.NoError(t, CheckVersion("0.1.7"))
	assert.True(t, errors.Is(CheckVersion("0.2.0"), errors.ErrIncompatibleVersion))
	assert.True(t, errors.Is(CheckVersion("banana"), errors.ErrIncompatibleVersion))
}
