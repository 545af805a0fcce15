package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Strob0t/swarmcore/internal/domain"
	"github.com/Strob0t/swarmcore/internal/domain/knowledge"
	"github.com/Strob0t/swarmcore/internal/domain/task"
)

const maxRequestBodySize = 1 << 20 // 1 MB

// ---------------------------------------------------------------------------
// Request helpers
// ---------------------------------------------------------------------------

// readJSON decodes a JSON request body with a size limit.
func readJSON[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var v T
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		} else {
			writeError(w, http.StatusBadRequest, "invalid request body")
		}
		return v, false
	}
	return v, true
}

// urlParam is a short alias for chi.URLParam.
func urlParam(r *http.Request, name string) string {
	return chi.URLParam(r, name)
}

// requireField writes a 400 error and returns false when value is empty.
func requireField(w http.ResponseWriter, value, fieldName string) bool {
	if value == "" {
		writeError(w, http.StatusBadRequest, fieldName+" is required")
		return false
	}
	return true
}

// ---------------------------------------------------------------------------
// Response helpers
// ---------------------------------------------------------------------------

type errorResponse struct {
	Error string `json:"error"`
}

// conflictResponse carries both sides of a manual-policy memory conflict so
// the client can retry with the merged clock.
type conflictResponse struct {
	Error    string                `json:"error"`
	Current  *knowledge.Entry      `json:"current"`
	Incoming *knowledge.Entry      `json:"incoming"`
	Merged   knowledge.VectorClock `json:"merged_clock"`
}

// checkpointResponse lists the criteria a phase report failed.
type checkpointResponse struct {
	Error  string           `json:"error"`
	Failed []task.Shortfall `json:"failed"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// writeDomainError maps the domain error taxonomy onto status codes.
func writeDomainError(w http.ResponseWriter, err error, fallbackMsg string) {
	var conflict *knowledge.ConflictError
	var checkpoint *task.CheckpointError
	switch {
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, conflictResponse{
			Error:    err.Error(),
			Current:  conflict.Current,
			Incoming: conflict.Incoming,
			Merged:   conflict.Merged,
		})
	case errors.As(err, &checkpoint):
		writeJSON(w, http.StatusUnprocessableEntity, checkpointResponse{Error: err.Error(), Failed: checkpoint.Shortfalls})
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, fallbackMsg)
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrInvalidTaskSpec),
		errors.Is(err, domain.ErrInvalidStrategy),
		errors.Is(err, domain.ErrInvalidDeadline):
		writeError(w, http.StatusBadRequest, clientMessage(err))
	case errors.Is(err, domain.ErrIneligibleVoter):
		writeError(w, http.StatusForbidden, clientMessage(err))
	case errors.Is(err, domain.ErrProposalClosed),
		errors.Is(err, domain.ErrDuplicateVote),
		errors.Is(err, domain.ErrNotResolved),
		errors.Is(err, domain.ErrMemoryConflict):
		writeError(w, http.StatusConflict, clientMessage(err))
	case errors.Is(err, domain.ErrCapabilityMismatch),
		errors.Is(err, domain.ErrCapacityExceeded),
		errors.Is(err, domain.ErrCheckpointFailed):
		writeError(w, http.StatusUnprocessableEntity, clientMessage(err))
	default:
		slog.Error("unhandled domain error", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func clientMessage(err error) string {
	return strings.TrimPrefix(err.Error(), domain.ErrValidation.Error()+": ")
}

// writeInternalError logs the actual error server-side and returns a generic message to the client.
func writeInternalError(w http.ResponseWriter, err error) {
	slog.Error("request failed", "error", err)
	writeError(w, http.StatusInternalServerError, "internal server error")
}
