package http

import (
	"net/http"
	"strconv"

	"patungan/internal/auth"
	"patungan/internal/core"
)

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid limit"})
			return
		}
		limit = n
	}

	notes, err := s.notes.List(r.Context(), auth.UserID(r.Context()), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if notes == nil {
		notes = []core.Notification{}
	}
	writeJSON(w, http.StatusOK, notes)
}

func (s *Server) handleMarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	if err := s.notes.MarkRead(r.Context(), auth.UserID(r.Context()), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
