package common

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// ErrorBody represents a consistent error payload returned by the API.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// JSON writes the provided value to the response writer as JSON.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// JSONError renders an error response using the canonical error shape.
func JSONError(w http.ResponseWriter, status int, code, message string, details any) {
	JSON(w, status, map[string]any{
		"error": ErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

// DecodeJSON decodes a single JSON object from the request body into dst.
// Unknown fields and trailing data are rejected.
func DecodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return NewAppError("BAD_REQUEST", "request body required", http.StatusBadRequest, nil)
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return NewAppError("BAD_REQUEST", "request body required", http.StatusBadRequest, err)
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return NewAppError("PAYLOAD_TOO_LARGE", "request body too large", http.StatusRequestEntityTooLarge, err)
		}
		return NewAppError("BAD_REQUEST", fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest, err)
	}
	if dec.More() {
		return NewAppError("BAD_REQUEST", "invalid payload: trailing data", http.StatusBadRequest, nil)
	}
	return nil
}
