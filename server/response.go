package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/veridict/veridict/errors"
)

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}

// writeError writes a JSON error response
func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeDomainError maps pipeline error taxonomy onto HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.IsNotFoundError(err):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, errors.ErrInvalidPayload):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, errors.ErrAlreadyHeld), errors.IsConflict(err):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, errors.ErrCapacityExceeded):
		// Retryable: the worker should back off and try another claim
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, errors.ErrSlotExpired):
		writeError(w, http.StatusGone, err.Error())
	case errors.Is(err, errors.ErrUnauthorizedSubmission):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, errors.ErrStoreUnavailable):
		writeError(w, http.StatusServiceUnavailable, "storage temporarily unavailable")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// readJSON reads and decodes a JSON request body
func readJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return err
	}
	return nil
}

// shortID truncates an ID to 12 characters for logging
func shortID(id string) string {
	if len(id) >= 12 {
		return id[:12]
	}
	return id
}
