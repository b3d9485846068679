// Package errors provides error handling for gemstore.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - Errors that keep their identity when encoded across process boundaries
//
// It also defines the gemstore error taxonomy. Every failure surfaced by the
// store, the peer registry or the sync transport wraps exactly one of the
// taxonomy sentinels, so callers classify with errors.Is regardless of how
// much context was added on the way up.
//
// Usage:
//
//	if err := st.MergeAndSet(key, v); errors.Is(err, errors.ErrTypeConflict) {
//	    // rejected, store unchanged
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
	Mark         = crdb.Mark
)

// User-facing messages and details
var (
	WithHint       = crdb.WithHint
	WithHintf      = crdb.WithHintf
	WithDetail     = crdb.WithDetail
	WithDetailf    = crdb.WithDetailf
	CombineErrors  = crdb.CombineErrors
	GetAllHints    = crdb.GetAllHints
	GetAllDetails  = crdb.GetAllDetails
	FlattenHints   = crdb.FlattenHints
	FlattenDetails = crdb.FlattenDetails
)

// Error inspection
var (
	Is        = crdb.Is
	IsAny     = crdb.IsAny
	As        = crdb.As
	Unwrap    = crdb.Unwrap
	UnwrapAll = crdb.UnwrapAll
)

// Taxonomy sentinels. Wrap these with context; never compare messages.
var (
	// ErrKeyNotFound is returned when a key is absent from the store.
	ErrKeyNotFound = New("key not found")

	// ErrTypeConflict is returned when a merge would combine values of
	// different kinds, or a policy is applied to a kind it does not cover.
	ErrTypeConflict = New("type conflict")

	// ErrUnsupportedValueShape is returned for object or nested-object values.
	ErrUnsupportedValueShape = New("unsupported value shape")

	// ErrPeerUnauthorized is returned when a sync request comes from a node
	// outside the configured peer list.
	ErrPeerUnauthorized = New("not a peer")

	// ErrNetworkFailure covers unreachable peers and unexpected statuses.
	ErrNetworkFailure = New("network failure")

	// ErrMalformedMessage is returned for payloads that cannot be decoded.
	ErrMalformedMessage = New("malformed message")

	// ErrIncompatibleVersion is returned when a peer speaks a protocol
	// version outside the accepted range.
	ErrIncompatibleVersion = New("incompatible protocol version")
)

// Generic sentinels shared by the transport layers.
var (
	// ErrNotFound indicates the requested resource does not exist
	ErrNotFound = New("not found")

	// ErrInvalidRequest indicates the request was malformed or invalid
	ErrInvalidRequest = New("invalid request")

	// ErrServiceUnavailable indicates the node cannot take more work right now
	ErrServiceUnavailable = New("service unavailable")
)

// IsKeyNotFound reports whether err is or wraps ErrKeyNotFound.
func IsKeyNotFound(err error) bool {
	return err != nil && Is(err, ErrKeyNotFound)
}

// IsTypeConflict reports whether err is or wraps ErrTypeConflict.
func IsTypeConflict(err error) bool {
	return err != nil && Is(err, ErrTypeConflict)
}

// IsNetworkFailure reports whether err is or wraps ErrNetworkFailure.
func IsNetworkFailure(err error) bool {
	return err != nil && Is(err, ErrNetworkFailure)
}

// NewKeyNotFoundError creates a key-not-found error for key.
func NewKeyNotFoundError(key string) error {
	return Wrapf(ErrKeyNotFound, "key %q", key)
}

// NewMalformedMessageError wraps a decode failure as a malformed-message error
func NewMalformedMessageError(cause error, context string) error {
	return Wrap(Wrapf(ErrMalformedMessage, "%v", cause), context)
}

// Kind returns the taxonomy sentinel err wraps, or nil when err is nil or
// does not belong to the taxonomy.
func Kind(err error) error {
	if err == nil {
		return nil
	}
	for _, sentinel := range []error{
		ErrKeyNotFound,
		ErrTypeConflict,
		ErrUnsupportedValueShape,
		ErrPeerUnauthorized,
		ErrNetworkFailure,
		ErrMalformedMessage,
		ErrIncompatibleVersion,
		ErrServiceUnavailable,
		ErrInvalidRequest,
		ErrNotFound,
	} {
		if Is(err, sentinel) {
			return sentinel
		}
	}
	return nil
}

// kindNames are the wire names of the taxonomy, carried in error bodies so
// peers can tell apart kinds that share an HTTP status.
var kindNames = map[error]string{
	ErrKeyNotFound:           "key_not_found",
	ErrTypeConflict:          "type_conflict",
	ErrUnsupportedValueShape: "unsupported_value_shape",
	ErrPeerUnauthorized:      "peer_unauthorized",
	ErrNetworkFailure:        "network_failure",
	ErrMalformedMessage:      "malformed_message",
	ErrIncompatibleVersion:   "incompatible_version",
	ErrServiceUnavailable:    "service_unavailable",
	ErrInvalidRequest:        "invalid_request",
	ErrNotFound:              "not_found",
}

// KindName returns the wire name of err's taxonomy kind, or "" if it has none.
func KindName(err error) string {
	return kindNames[Kind(err)]
}

// FromKindName returns the sentinel for a wire name, or nil if unknown.
func FromKindName(name string) error {
	for sentinel, n := range kindNames {
		if n == name {
			return sentinel
		}
	}
	return nil
}
