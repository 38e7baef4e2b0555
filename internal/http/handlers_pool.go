package http

import (
	"net/http"

	"patungan/internal/auth"
	"patungan/internal/core"
	"patungan/internal/services"
)

func (s *Server) handleCreatePool(w http.ResponseWriter, r *http.Request) {
	var in services.CreatePoolInput
	if err := decodeJSON(r, &in); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	pool, periods, err := s.pools.Create(r.Context(), auth.UserID(r.Context()), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, poolDetail{GroupBudget: pool, Periods: periods})
}

func (s *Server) handleListPools(w http.ResponseWriter, r *http.Request) {
	pools, err := s.pools.List(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if pools == nil {
		pools = []core.Pool{}
	}
	writeJSON(w, http.StatusOK, pools)
}

func (s *Server) handleGetPool(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	poolID := r.PathValue("id")

	// cache per (user, pool) so membership checks stay per-caller
	key := userID + "/" + poolID
	if detail, ok := s.detailCache.Get(key); ok {
		writeJSON(w, http.StatusOK, detail)
		return
	}

	pool, periods, err := s.pools.Get(r.Context(), userID, poolID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	detail := poolDetail{GroupBudget: pool, Periods: periods}
	s.detailCache.Set(key, detail)
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleUpdatePool(w http.ResponseWriter, r *http.Request) {
	var in services.UpdatePoolInput
	if err := decodeJSON(r, &in); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	poolID := r.PathValue("id")
	pool, err := s.pools.Update(r.Context(), auth.UserID(r.Context()), poolID, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.invalidatePool(poolID)
	writeJSON(w, http.StatusOK, pool)
}

func (s *Server) handleDeletePool(w http.ResponseWriter, r *http.Request) {
	poolID := r.PathValue("id")
	if err := s.pools.Delete(r.Context(), auth.UserID(r.Context()), poolID); err != nil {
		writeError(w, r, err)
		return
	}
	s.invalidatePool(poolID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRecompute(w http.ResponseWriter, r *http.Request) {
	poolID := r.PathValue("id")
	pool, err := s.pools.Recompute(r.Context(), auth.UserID(r.Context()), poolID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.invalidatePool(poolID)
	writeJSON(w, http.StatusOK, pool)
}

// invalidatePool drops every cached detail entry for the pool. Keys are
// per-caller, so the whole cache is scanned via Clear semantics on the
// shared suffix.
func (s *Server) invalidatePool(poolID string) {
	s.detailCache.DeleteSuffix("/" + poolID)
}
