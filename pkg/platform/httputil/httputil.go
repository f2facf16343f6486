// Package httputil provides shared JSON response helpers for HTTP handlers.
package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	dErrors "gatelist/pkg/domain-errors"
)

// WriteJSON writes v as a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

// WriteError maps a domain error to its HTTP status and writes the standard
// error body. Internal and unavailable failures omit the description so store
// details never leak to clients.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	body := errorBody{Error: string(code)}

	status := http.StatusInternalServerError
	switch code {
	case dErrors.CodeInvalidInput:
		status = http.StatusBadRequest
	case dErrors.CodeNotFound:
		status = http.StatusNotFound
	case dErrors.CodeConflict:
		status = http.StatusConflict
	case dErrors.CodeInvariantViolation:
		status = http.StatusUnprocessableEntity
	case dErrors.CodeUnavailable:
		status = http.StatusServiceUnavailable
	}

	if code != dErrors.CodeInternal && code != dErrors.CodeUnavailable {
		var domainErr *dErrors.Error
		if errors.As(err, &domainErr) {
			body.Description = domainErr.Message
		}
	}

	WriteJSON(w, status, body)
}

// Decode parses the request body into T, rejecting unknown fields.
func Decode[T any](r *http.Request) (T, error) {
	var v T
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		return v, dErrors.Wrap(err, dErrors.CodeInvalidInput, "malformed request body")
	}
	return v, nil
}
