package reel

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// ValidationError reports a missing or malformed client-supplied field. It is
// always detected before any storage interaction for the offending field and
// maps to a 400 response.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string {
	return e.msg
}

func validationErrorf(format string, args ...any) error {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}

// writeJSON encodes v and writes it with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Encode JSON response", "err", err)
	}
}

// writeError writes a structured JSON error body. No internal identifiers or
// stack traces are exposed; details is optional and only populated for
// replace failures.
func writeError(w http.ResponseWriter, status int, message string, details string) {
	writeJSON(w, status, ErrorResponse{Error: message, Details: details})
}
