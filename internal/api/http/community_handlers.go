package http

import (
	"context"
	"net/http"

	"helpboard-backend/internal/domain"
)

func (s *Server) createCommunity(w http.ResponseWriter, r *http.Request) {
	var body domain.NewCommunity
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	c, err := s.services.Communities.CreateCommunity(r.Context(), actorFrom(r.Context()), body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) getCommunity(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	c, err := s.services.Communities.GetCommunity(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) joinCommunity(w http.ResponseWriter, r *http.Request) {
	s.membershipAction(w, r, s.services.Communities.JoinCommunity)
}

func (s *Server) leaveCommunity(w http.ResponseWriter, r *http.Request) {
	s.membershipAction(w, r, s.services.Communities.LeaveCommunity)
}

func (s *Server) approveMembership(w http.ResponseWriter, r *http.Request) {
	s.membershipAction(w, r, s.services.Communities.ApproveMembership)
}

func (s *Server) rejectMembership(w http.ResponseWriter, r *http.Request) {
	s.membershipAction(w, r, s.services.Communities.RejectMembership)
}

// membershipAction runs an operation taking the path id and the caller.
func (s *Server) membershipAction(w http.ResponseWriter, r *http.Request,
	action func(ctx context.Context, id, actorID int64) (*domain.Membership, error)) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	m, err := action(r.Context(), id, actorFrom(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) listMembers(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	members, err := s.services.Communities.ListMembers(r.Context(), id, actorFrom(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"members": members})
}

func (s *Server) setRole(w http.ResponseWriter, r *http.Request) {
	communityID, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	userID, err := pathID(r, "userID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var body struct {
		Role domain.MembershipRole `json:"role"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	m, err := s.services.Communities.SetRole(r.Context(), communityID, actorFrom(r.Context()), userID, body.Role)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) listApprovals(w http.ResponseWriter, r *http.Request) {
	approvals, err := s.services.Communities.ListPendingApprovals(r.Context(), actorFrom(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"approvals": approvals})
}

func (s *Server) reviewCommunity(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var body struct {
		Approve bool   `json:"approve"`
		Note    string `json:"note"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	c, err := s.services.Communities.ReviewCommunity(r.Context(), id, actorFrom(r.Context()), body.Approve, body.Note)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}
