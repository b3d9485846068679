package server

import (
	"net/http"

	"github.com/teranos/gemstore/errors"
)

// statusFor maps the error taxonomy onto HTTP status codes.
// TypeConflict and IncompatibleVersion share 409; the "kind" field of the
// error body tells them apart.
func statusFor(err error) int {
	switch errors.Kind(err) {
	case errors.ErrKeyNotFound, errors.ErrNotFound:
		return http.StatusNotFound
	case errors.ErrTypeConflict, errors.ErrIncompatibleVersion:
		return http.StatusConflict
	case errors.ErrUnsupportedValueShape:
		return http.StatusNotImplemented
	case errors.ErrPeerUnauthorized:
		return http.StatusForbidden
	case errors.ErrMalformedMessage, errors.ErrInvalidRequest:
		return http.StatusBadRequest
	case errors.ErrServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// publicMessage is the text sent to callers. Unclassified errors are not
// echoed since they may carry internal detail.
func publicMessage(err error) string {
	if errors.Kind(err) == nil {
		return "internal error"
	}
	return err.Error()
}
