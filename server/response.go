package server

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/teranos/gemstore/errors"
)

// errorResponse is the body of every non-2xx response
type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		return errors.Wrap(err, "failed to encode JSON")
	}
	return nil
}

// writeError writes err as a JSON error response with the status its kind maps to
func writeError(w http.ResponseWriter, err error) {
	_ = writeJSON(w, statusFor(err), errorResponse{
		Error: publicMessage(err),
		Kind:  errors.KindName(err),
	})
}

// readJSON decodes a request body into v. Decode failures are
// malformed-message errors; the caller writes the response.
func readJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(body)
	if err := dec.Decode(v); err != nil {
		if err == io.EOF {
			return errors.Wrap(errors.ErrMalformedMessage, "empty request body")
		}
		return errors.NewMalformedMessageError(err, "request body")
	}
	return nil
}
