package http

import (
	"net/http"

	"patungan/internal/auth"
	"patungan/internal/core"
	"patungan/internal/services"
)

func (s *Server) handleInvite(w http.ResponseWriter, r *http.Request) {
	var in services.InviteInput
	if err := decodeJSON(r, &in); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	inv, err := s.invites.Invite(r.Context(), auth.UserID(r.Context()), r.PathValue("id"), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, inv)
}

func (s *Server) handleListInvitations(w http.ResponseWriter, r *http.Request) {
	invs, err := s.invites.List(r.Context(), auth.UserID(r.Context()), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if invs == nil {
		invs = []core.Invitation{}
	}
	writeJSON(w, http.StatusOK, invs)
}

func (s *Server) handleUserInvitations(w http.ResponseWriter, r *http.Request) {
	invs, err := s.invites.ListPendingForUser(r.Context(), auth.Email(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if invs == nil {
		invs = []core.Invitation{}
	}
	writeJSON(w, http.StatusOK, invs)
}

func (s *Server) handleAcceptInvitation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	member, err := s.invites.Accept(ctx, auth.UserID(ctx), auth.Email(ctx), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.invalidatePool(member.PoolID)
	writeJSON(w, http.StatusOK, member)
}

func (s *Server) handleDeclineInvitation(w http.ResponseWriter, r *http.Request) {
	if err := s.invites.Decline(r.Context(), auth.Email(r.Context()), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
