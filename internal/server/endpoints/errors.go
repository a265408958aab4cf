package endpoints

import (
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"net/http"

	"github.com/jackzampolin/brieflink/internal/arbiter"
	"github.com/jackzampolin/brieflink/internal/ingest"
	"github.com/jackzampolin/brieflink/internal/jobs"
	"github.com/jackzampolin/brieflink/internal/refs"
	"github.com/jackzampolin/brieflink/internal/store"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// ErrorResponse is a standard error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, fs.ErrNotExist):
		return http.StatusNotFound
	case errors.Is(err, arbiter.ErrNoTrialRecord):
		return http.StatusUnprocessableEntity
	case errors.Is(err, arbiter.ErrInvalidOverride),
		errors.Is(err, ingest.ErrInvalidNotification),
		errors.Is(err, ingest.ErrOutsideBundleRoot),
		errors.Is(err, refs.ErrTrialRecordInBriefs):
		return http.StatusBadRequest
	case errors.Is(err, jobs.ErrAlreadyRunning), errors.Is(err, store.ErrPartitionConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError writes err with the status statusFor assigns it.
func writeServiceError(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err.Error())
}

// decodeBody decodes a JSON request body. An empty body leaves v untouched.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
