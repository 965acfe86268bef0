package http

import (
	"net/http"

	"helpboard-backend/internal/service"
)

func (s *Server) myRequests(w http.ResponseWriter, r *http.Request) {
	list, err := s.services.Views.MyRequests(r.Context(), actorFrom(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) myOffers(w http.ResponseWriter, r *http.Request) {
	list, err := s.services.Views.MyOffers(r.Context(), actorFrom(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) helpedRequests(w http.ResponseWriter, r *http.Request) {
	list, err := s.services.Views.HelpedRequests(r.Context(), actorFrom(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) myCommunities(w http.ResponseWriter, r *http.Request) {
	list, err := s.services.Views.MyCommunities(r.Context(), actorFrom(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) browse(w http.ResponseWriter, r *http.Request) {
	q, err := service.ParseBrowseQuery(queryParams(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	list, err := s.services.Views.Browse(r.Context(), actorFrom(r.Context()), q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// feedToken mints a short-lived token for opening a feed stream from a
// browser EventSource.
func (s *Server) feedToken(w http.ResponseWriter, r *http.Request) {
	token, err := s.tokens.GenerateFeedToken(actorFrom(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}
