// Package store is the node's authoritative in-memory key-value map.
//
// Every mutation and merge decision happens under one mutex. There is no
// reader/writer split and no per-key locking: maps are expected to be small
// and the lock is never exposed to callers.
package store

import (
	"strconv"
	"sync"

	"github.com/teranos/gemstore/errors"
	"github.com/teranos/gemstore/logger"
	"go.uber.org/zap"
)

// Store is a concurrent key-value map with per-key merge policies.
type Store struct {
	mu       sync.Mutex
	values   map[string]Value
	policies PolicyTable
	logger   *zap.SugaredLogger
}

// New creates an empty store using policies for merges.
func New(policies PolicyTable, logger *zap.SugaredLogger) *Store {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Store{
		values:   make(map[string]Value),
		policies: copyTable(policies),
		logger:   logger,
	}
}

// SetPolicies replaces the merge policy table. Stored values are untouched.
func (s *Store) SetPolicies(policies PolicyTable) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies = copyTable(policies)
}

// PolicyFor returns the merge policy configured for key.
func (s *Store) PolicyFor(key string) Policy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.policies.Lookup(key)
}

// Get returns the value stored under key, or ErrKeyNotFound.
func (s *Store) Get(key string) (Value, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.values[key]
	if !ok {
		return Value{}, errors.NewKeyNotFoundError(key)
	}
	return v.Clone(), nil
}

// Set unconditionally overwrites key. No merge policy is consulted.
// Object values cannot be constructed, so every Value is storable.
func (s *Store) Set(key string, v Value) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = v.Clone()
}

// SetJSON decodes raw and overwrites key. Objects are rejected with
// ErrUnsupportedValueShape and leave the store unchanged.
func (s *Store) SetJSON(key string, raw []byte) (Value, error) {
	v, err := FromJSON(raw)
	if err != nil {
		return Value{}, errors.Wrapf(err, "key %q", key)
	}
	s.Set(key, v)
	return v, nil
}

// Delete removes key and reports whether it was present.
func (s *Store) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.values[key]; !ok {
		return false
	}
	delete(s.values, key)
	return true
}

// BulkGet returns the pairs for keys in order. Missing keys are omitted.
func (s *Store) BulkGet(keys []string) []KeyValuePair {
	s.mu.Lock()
	defer s.mu.Unlock()

	pairs := make([]KeyValuePair, 0, len(keys))
	for _, key := range keys {
		if v, ok := s.values[key]; ok {
			pairs = append(pairs, KeyValuePair{Key: key, Value: v.Clone()})
		}
	}
	return pairs
}

// MergeAndSet resolves incoming against the stored value using the key's
// policy and stores the result. An absent key is inserted as is.
// It reports whether the stored value changed.
func (s *Store) MergeAndSet(key string, incoming Value) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mergeLocked(key, incoming)
}

func (s *Store) mergeLocked(key string, incoming Value) (bool, error) {
	local, exists := s.values[key]
	if !exists {
		s.values[key] = incoming.Clone()
		return true, nil
	}

	policy := s.policies.Lookup(key)
	merged, err := Merge(policy, local, incoming)
	if err != nil {
		s.logger.Warnw("Merge rejected",
			logger.FieldKey, key,
			logger.FieldPolicy, policy.String(),
			logger.FieldLocalKind, local.kind.String(),
			logger.FieldIncomingKind, incoming.kind.String(),
			logger.FieldError, err,
		)
		return false, errors.Wrapf(err, "merge key %q", key)
	}

	if merged.Equal(local) {
		return false, nil
	}
	s.values[key] = merged
	return true, nil
}

// BulkApply merges pairs in order. Each merge is atomic; the batch is not.
// Rejected pairs do not roll back earlier ones. The keys whose stored value
// changed are returned; rejections are reported as one *RejectedError.
func (s *Store) BulkApply(pairs []KeyValuePair) ([]string, error) {
	changed := make([]string, 0, len(pairs))
	var rejected *RejectedError

	for _, kv := range pairs {
		s.mu.Lock()
		ok, err := s.mergeLocked(kv.Key, kv.Value)
		s.mu.Unlock()

		if err != nil {
			if rejected == nil {
				rejected = &RejectedError{}
			}
			rejected.Keys = append(rejected.Keys, kv.Key)
			rejected.Err = errors.CombineErrors(rejected.Err, err)
			continue
		}
		if ok {
			changed = append(changed, kv.Key)
		}
	}
	if rejected != nil {
		return changed, rejected
	}
	return changed, nil
}

// RejectedError lists the pairs a BulkApply call refused.
// errors.Is sees through it to the first rejection's cause.
type RejectedError struct {
	Keys []string
	Err  error
}

func (e *RejectedError) Error() string {
	return strconv.Itoa(len(e.Keys)) + " rejected: " + e.Err.Error()
}

func (e *RejectedError) Unwrap() error { return e.Err }

// Dump returns a deep copy of the whole map.
// Encoding it with encoding/json yields an object with sorted keys.
func (s *Store) Dump() map[string]Value {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := make(map[string]Value, len(s.values))
	for k, v := range s.values {
		snapshot[k] = v.Clone()
	}
	return snapshot
}

// DumpPairs returns the whole map as pairs, for full-dump changesets.
func (s *Store) DumpPairs() []KeyValuePair {
	snapshot := s.Dump()
	pairs := make([]KeyValuePair, 0, len(snapshot))
	for _, k := range sortedKeys(snapshot) {
		pairs = append(pairs, KeyValuePair{Key: k, Value: snapshot[k]})
	}
	return pairs
}

// Len returns the number of stored keys.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.values)
}

func copyTable(t PolicyTable) PolicyTable {
	cp := make(PolicyTable, len(t))
	for k, p := range t {
		cp[k] = p
	}
	return cp
}
