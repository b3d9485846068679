package store

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teranos/gemstore/errors"
	"github.com/teranos/gemstore/logger"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestStore_GetSetDelete(t *testing.T) {
	st := New(nil, nil)

	_, err := st.Get("missing")
	require.Error(t, err)
	assert.True(t, errors.IsKeyNotFound(err))

	st.Set("k", Int(1))
	v, err := st.Get("k")
	require.NoError(t, err)
	assert.True(t, Int(1).Equal(v))

	// Set ignores merge policies and kinds
	st.Set("k", String("now a string"))
	v, _ = st.Get("k")
	assert.Equal(t, KindString, v.Kind())

	assert.True(t, st.Delete("k"))
	assert.False(t, st.Delete("k"))
	assert.Equal(t, 0, st.Len())
}

func TestStore_MergeRejectionLogsStandardFields(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	st := New(PolicyTable{"max": NumMax}, zap.New(core).Sugar())
	st.Set("max", Int(5))

	_, err := st.MergeAndSet("max", String("5"))
	require.Error(t, err)

	entries := logs.FilterMessage("Merge rejected").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "max", fields[logger.FieldKey])
	assert.Equal(t, "NUM_MAX", fields[logger.FieldPolicy])
	assert.Equal(t, "int", fields[logger.FieldLocalKind])
	assert.Equal(t, "string", fields[logger.FieldIncomingKind])
	assert.Contains(t, fields, logger.FieldError)
}

func TestStore_SetJSONRejectsObjects(t *testing.T) {
	st := New(nil, nil)
	_, err := st.SetJSON("k", []byte(`[1,2]`))
	require.NoError(t, err)

	_, err = st.SetJSON("k", []byte(`{"a":1}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrUnsupportedValueShape))

	v, err := st.Get("k")
	require.NoError(t, err)
	assert.Equal(t, `[1,2]`, v.String(), "rejected write must leave the store unchanged")
}

func TestStore_MergeAndSet(t *testing.T) {
	st := New(PolicyTable{"max": NumMax, "log": StrConcat, "tags": ArrUnion}, nil)

	changed, err := st.MergeAndSet("max", Int(5))
	require.NoError(t, err)
	assert.True(t, changed, "absent key is inserted")

	changed, err = st.MergeAndSet("max", Int(3))
	require.NoError(t, err)
	assert.False(t, changed)
	v, _ := st.Get("max")
	assert.True(t, Int(5).Equal(v))

	changed, err = st.MergeAndSet("max", Int(9))
	require.NoError(t, err)
	assert.True(t, changed)
	v, _ = st.Get("max")
	assert.True(t, Int(9).Equal(v))

	st.Set("log", String("foo"))
	_, err = st.MergeAndSet("log", String("bar"))
	require.NoError(t, err)
	v, _ = st.Get("log")
	assert.Equal(t, `"foobar"`, v.String())

	st.Set("tags", Array(Int(1), Int(2)))
	_, err = st.MergeAndSet("tags", Array(Int(2), Int(3)))
	require.NoError(t, err)
	v, _ = st.Get("tags")
	assert.Equal(t, `[1,2,3]`, v.String())
}

func TestStore_MergeAndSetTypeConflictLeavesValue(t *testing.T) {
	st := New(PolicyTable{"max": NumMax}, nil)
	st.Set("max", Int(5))
	st.Set("plain", Int(1))

	_, err := st.MergeAndSet("max", String("5"))
	require.Error(t, err)
	assert.True(t, errors.IsTypeConflict(err))

	_, err = st.MergeAndSet("plain", Float(1))
	require.Error(t, err)
	assert.True(t, errors.IsTypeConflict(err), "overwrite still requires matching kinds")

	v, _ := st.Get("max")
	assert.True(t, Int(5).Equal(v))
	v, _ = st.Get("plain")
	assert.True(t, Int(1).Equal(v))
}

func TestStore_BulkGetOmitsMissing(t *testing.T) {
	st := New(nil, nil)
	st.Set("a", Int(1))
	st.Set("c", Int(3))

	pairs := st.BulkGet([]string{"c", "b", "a"})
	require.Len(t, pairs, 2)
	assert.Equal(t, "c", pairs[0].Key)
	assert.Equal(t, "a", pairs[1].Key)
}

func TestStore_BulkApplyIsBestEffort(t *testing.T) {
	st := New(PolicyTable{"n": NumMax}, nil)
	st.Set("n", Int(10))

	changed, err := st.BulkApply([]KeyValuePair{
		{Key: "a", Value: Int(1)},
		{Key: "n", Value: String("x")},
		{Key: "n", Value: Int(4)},
		{Key: "b", Value: Bool(true)},
	})
	require.Error(t, err)
	assert.True(t, errors.IsTypeConflict(err))
	assert.Equal(t, []string{"a", "b"}, changed)
	assert.Equal(t, 3, st.Len())

	var rejected *RejectedError
	require.True(t, errors.As(err, &rejected))
	assert.Equal(t, []string{"n"}, rejected.Keys)

	v, _ := st.Get("n")
	assert.True(t, Int(10).Equal(v))
}

func TestStore_BulkApplyIdempotent(t *testing.T) {
	st := New(PolicyTable{"tags": ArrUnion}, nil)
	batch := []KeyValuePair{
		{Key: "tags", Value: Array(String("x"))},
		{Key: "name", Value: String("gem")},
	}

	changed, err := st.BulkApply(batch)
	require.NoError(t, err)
	assert.Len(t, changed, 2)
	first := st.Dump()

	changed, err = st.BulkApply(batch)
	require.NoError(t, err)
	assert.Empty(t, changed)
	assert.Equal(t, first, st.Dump())
}

func TestStore_DumpIsDeepCopy(t *testing.T) {
	st := New(nil, nil)
	st.Set("arr", Array(Int(1)))
	st.Set("b", Float(2))

	snapshot := st.Dump()
	snapshot["arr"] = None()
	delete(snapshot, "b")

	data, err := json.Marshal(st.Dump())
	require.NoError(t, err)
	assert.JSONEq(t, `{"arr":[1],"b":2.0}`, string(data))
	assert.Equal(t, `{"arr":[1],"b":2.0}`, string(data))

	pairs := st.DumpPairs()
	require.Len(t, pairs, 2)
	assert.Equal(t, "arr", pairs[0].Key)
}

func TestStore_SetPolicies(t *testing.T) {
	st := New(nil, nil)
	st.Set("n", Int(3))
	assert.Equal(t, PolicyOverwrite, st.PolicyFor("n"))

	st.SetPolicies(PolicyTable{"n": NumMin})
	assert.Equal(t, NumMin, st.PolicyFor("n"))

	_, err := st.MergeAndSet("n", Int(7))
	require.NoError(t, err)
	v, _ := st.Get("n")
	assert.True(t, Int(3).Equal(v))
}

func TestStore_ConcurrentMerges(t *testing.T) {
	st := New(PolicyTable{"max": NumMax, "tags": ArrUnion}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = st.MergeAndSet("max", Int(int64(i)))
			_, _ = st.MergeAndSet("tags", Array(Int(int64(i%5))))
			st.Set(fmt.Sprintf("k%d", i), Int(int64(i)))
			_ = st.BulkGet([]string{"max", "tags"})
		}(i)
	}
	wg.Wait()

	v, err := st.Get("max")
	require.NoError(t, err)
	assert.True(t, Int(49).Equal(v))

	tags, _ := st.Get("tags")
	items, _ := tags.Items()
	assert.Len(t, items, 5)
	assert.Equal(t, 52, st.Len())
}
