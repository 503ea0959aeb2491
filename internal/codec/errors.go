// Package codec writes JSON responses and errors in the gateway's wire format.
package codec

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/kamesh6592-cell/v0-clone/internal/domain"
)

// ToCanonicalError converts any error to a domain.APIError.
// If the error is already a domain.APIError, it returns it directly.
// Otherwise, it wraps the error in a generic server error.
func ToCanonicalError(err error) *domain.APIError {
	var apiErr *domain.APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return domain.ErrServer(err.Error())
}

// WriteError writes err as {"error": ..., "code"?: ..., "details"?: ...}.
func WriteError(w http.ResponseWriter, err error) {
	apiErr := ToCanonicalError(err)
	WriteJSON(w, apiErr.HTTPStatusCode(), apiErr)
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"error":"failed to encode response"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}
