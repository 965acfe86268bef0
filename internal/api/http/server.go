package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"helpboard-backend/internal/feed"
	"helpboard-backend/internal/security"
	"helpboard-backend/internal/service"
)

// Services is everything the HTTP surface calls into.
type Services struct {
	Requests      service.RequestLedger
	Offers        service.OfferLedger
	Communities   service.MembershipRegistry
	Notifications service.NotificationService
	Views         service.AggregationService
}

type Server struct {
	services  Services
	tokens    security.TokenManager
	broker    *feed.Broker
	router    *mux.Router
	keepAlive time.Duration
}

// NewServer builds the router. broker backs the /v1/feed streams.
func NewServer(services Services, tokens security.TokenManager, broker *feed.Broker) *Server {
	s := &Server{
		services:  services,
		tokens:    tokens,
		broker:    broker,
		router:    mux.NewRouter(),
		keepAlive: 25 * time.Second,
	}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.router.Use(requestLogger)
	s.router.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	api := s.router.PathPrefix("/v1").Subrouter()
	api.Use(s.authenticate, idempotencyKey)

	// requests and offers
	api.HandleFunc("/requests", s.createRequest).Methods(http.MethodPost)
	api.HandleFunc("/requests/{id:[0-9]+}", s.getRequest).Methods(http.MethodGet)
	api.HandleFunc("/requests/{id:[0-9]+}/transition", s.transitionRequest).Methods(http.MethodPost)
	api.HandleFunc("/requests/{id:[0-9]+}/offers", s.listOffers).Methods(http.MethodGet)
	api.HandleFunc("/requests/{id:[0-9]+}/offers", s.createOffer).Methods(http.MethodPost)
	api.HandleFunc("/offers/{id:[0-9]+}/accept", s.acceptOffer).Methods(http.MethodPost)
	api.HandleFunc("/offers/{id:[0-9]+}/decline", s.declineOffer).Methods(http.MethodPost)
	api.HandleFunc("/offers/{id:[0-9]+}/report", s.reportOffer).Methods(http.MethodPost)

	// communities
	api.HandleFunc("/communities", s.createCommunity).Methods(http.MethodPost)
	api.HandleFunc("/communities/{id:[0-9]+}", s.getCommunity).Methods(http.MethodGet)
	api.HandleFunc("/communities/{id:[0-9]+}/join", s.joinCommunity).Methods(http.MethodPost)
	api.HandleFunc("/communities/{id:[0-9]+}/leave", s.leaveCommunity).Methods(http.MethodPost)
	api.HandleFunc("/communities/{id:[0-9]+}/members", s.listMembers).Methods(http.MethodGet)
	api.HandleFunc("/communities/{id:[0-9]+}/members/{userID:[0-9]+}/role", s.setRole).Methods(http.MethodPut)
	api.HandleFunc("/memberships/{id:[0-9]+}/approve", s.approveMembership).Methods(http.MethodPost)
	api.HandleFunc("/memberships/{id:[0-9]+}/reject", s.rejectMembership).Methods(http.MethodPost)
	api.HandleFunc("/approvals", s.listApprovals).Methods(http.MethodGet)
	api.HandleFunc("/approvals/{id:[0-9]+}/review", s.reviewCommunity).Methods(http.MethodPost)

	// notifications
	api.HandleFunc("/notifications", s.inbox).Methods(http.MethodGet)
	api.HandleFunc("/notifications/unread-count", s.unreadCount).Methods(http.MethodGet)
	api.HandleFunc("/notifications/read-all", s.markAllRead).Methods(http.MethodPost)
	api.HandleFunc("/notifications/{id:[0-9]+}/read", s.markRead).Methods(http.MethodPost)
	api.HandleFunc("/notifications/{id:[0-9]+}", s.deleteNotification).Methods(http.MethodDelete)

	// views
	api.HandleFunc("/me/requests", s.myRequests).Methods(http.MethodGet)
	api.HandleFunc("/me/offers", s.myOffers).Methods(http.MethodGet)
	api.HandleFunc("/me/helped", s.helpedRequests).Methods(http.MethodGet)
	api.HandleFunc("/me/communities", s.myCommunities).Methods(http.MethodGet)
	api.HandleFunc("/browse", s.browse).Methods(http.MethodGet)
	api.HandleFunc("/feed-token", s.feedToken).Methods(http.MethodPost)
	api.HandleFunc("/feed/{view}", s.streamFeed).Methods(http.MethodGet)
}
