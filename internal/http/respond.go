package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"patungan/internal/core"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// writeError maps domain errors onto HTTP statuses. Conflicts and
// validation failures both answer 400 with the message; anything
// unrecognized answers 500 with a generic body and the real error
// logged server-side only.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, core.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found"})
	case errors.Is(err, core.ErrForbidden):
		writeJSON(w, http.StatusForbidden, errorResponse{Error: "forbidden"})
	case isBadRequest(err):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	default:
		slog.ErrorContext(r.Context(), "Request failed",
			"method", r.Method, "url", r.URL.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal server error"})
	}
}

func isBadRequest(err error) bool {
	for _, target := range []error{
		core.ErrInvalidAmount,
		core.ErrInvalidDuration,
		core.ErrInvalidPeriodUnit,
		core.ErrEmptyName,
		core.ErrEmptyDescription,
		core.ErrInvalidDate,
		core.ErrInvalidType,
		core.ErrInvalidEmail,
		core.ErrAlreadyConfirmed,
		core.ErrDuplicateInvite,
		core.ErrAlreadyMember,
		core.ErrInviteResolved,
		core.ErrEmailMismatch,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// decodeJSON reads the request body into v, rejecting unknown fields.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
