package http

import (
	"errors"
	"io"
	"net/http"

	"patungan/internal/auth"
	"patungan/internal/core"
	"patungan/internal/services"
)

func (s *Server) handleListPeriods(w http.ResponseWriter, r *http.Request) {
	periods, err := s.pools.ListPeriods(r.Context(), auth.UserID(r.Context()), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if periods == nil {
		periods = []core.Period{}
	}
	writeJSON(w, http.StatusOK, periods)
}

func (s *Server) handleGetPeriod(w http.ResponseWriter, r *http.Request) {
	period, err := s.pools.GetPeriod(r.Context(), auth.UserID(r.Context()),
		r.PathValue("id"), r.PathValue("periodId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, period)
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := s.txs.List(r.Context(), auth.UserID(r.Context()),
		r.PathValue("id"), r.PathValue("periodId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if txs == nil {
		txs = []core.Transaction{}
	}
	writeJSON(w, http.StatusOK, txs)
}

func (s *Server) handlePostTransaction(w http.ResponseWriter, r *http.Request) {
	var in services.PostTransactionInput
	if err := decodeJSON(r, &in); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	res, err := s.txs.Post(r.Context(), auth.UserID(r.Context()), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.invalidatePool(in.GroupBudgetID)
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	// The body is optional. io.EOF means it was empty; a ContentLength
	// check would miss chunked requests, which report -1.
	var in services.ConfirmInput
	if err := decodeJSON(r, &in); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	poolID := r.PathValue("id")
	conf, err := s.confs.Confirm(r.Context(), auth.UserID(r.Context()),
		poolID, r.PathValue("periodId"), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.invalidatePool(poolID)
	writeJSON(w, http.StatusOK, conf)
}

func (s *Server) handleRoster(w http.ResponseWriter, r *http.Request) {
	roster, err := s.confs.Roster(r.Context(), auth.UserID(r.Context()),
		r.PathValue("id"), r.PathValue("periodId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if roster == nil {
		roster = []core.RosterEntry{}
	}
	writeJSON(w, http.StatusOK, roster)
}
