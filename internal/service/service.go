package service

import (
	"context"

	"helpboard-backend/internal/domain"
)

// Every operation takes the acting user explicitly. An actor id <= 0 is
// rejected with domain.ErrUnauthorized.

type RequestLedger interface {
	CreateRequest(ctx context.Context, ownerID int64, fields domain.NewHelpRequest) (*domain.HelpRequest, error)
	TransitionRequest(ctx context.Context, requestID int64, target domain.RequestStatus, actorID int64) (*domain.HelpRequest, error)
	GetRequest(ctx context.Context, viewerID, requestID int64) (*domain.HelpRequest, error)
}

type OfferLedger interface {
	CreateOffer(ctx context.Context, requestID, helperID int64, message string) (*domain.HelpOffer, error)
	AcceptOffer(ctx context.Context, offerID, actorID int64) (*domain.HelpOffer, error)
	DeclineOffer(ctx context.Context, offerID, actorID int64) (*domain.HelpOffer, error)
	ReportOffer(ctx context.Context, offerID, reporterID int64) (*domain.ReportResult, error)
	ListOffersForRequest(ctx context.Context, requestID, actorID int64) ([]domain.HelpOffer, error)
}

type MembershipRegistry interface {
	CreateCommunity(ctx context.Context, creatorID int64, fields domain.NewCommunity) (*domain.Community, error)
	ReviewCommunity(ctx context.Context, approvalID, moderatorID int64, approve bool, note string) (*domain.Community, error)
	ListPendingApprovals(ctx context.Context, moderatorID int64) ([]domain.CommunityApproval, error)
	GetCommunity(ctx context.Context, communityID int64) (*domain.Community, error)

	JoinCommunity(ctx context.Context, communityID, userID int64) (*domain.Membership, error)
	ApproveMembership(ctx context.Context, membershipID, adminID int64) (*domain.Membership, error)
	RejectMembership(ctx context.Context, membershipID, adminID int64) (*domain.Membership, error)
	LeaveCommunity(ctx context.Context, communityID, userID int64) (*domain.Membership, error)
	SetRole(ctx context.Context, communityID, adminID, targetUserID int64, role domain.MembershipRole) (*domain.Membership, error)
	ListMembers(ctx context.Context, communityID, actorID int64) ([]domain.Membership, error)
}

// NotificationService holds the recipient-side operations. Notifications are
// only ever created by the fan-out engine.
type NotificationService interface {
	List(ctx context.Context, recipientID int64, page, pageSize int) ([]domain.Notification, int, error)
	UnreadCount(ctx context.Context, recipientID int64) (int, error)
	MarkRead(ctx context.Context, recipientID, notificationID int64) (*domain.Notification, error)
	MarkAllRead(ctx context.Context, recipientID int64) (int, error)
	Delete(ctx context.Context, recipientID, notificationID int64) error
}

type AggregationService interface {
	MyRequests(ctx context.Context, userID int64) (*RequestList, error)
	MyOffers(ctx context.Context, userID int64) (*OfferList, error)
	HelpedRequests(ctx context.Context, userID int64) (*RequestList, error)
	Browse(ctx context.Context, viewerID int64, q BrowseQuery) (*RequestList, error)
	MyCommunities(ctx context.Context, userID int64) (*CommunityList, error)
	Inbox(ctx context.Context, userID int64, page, pageSize int) (*Inbox, error)

	// LiveView resolves a named view to the table, filter and snapshot a
	// feed.LiveView needs.
	LiveView(ctx context.Context, viewerID int64, name string, params map[string]string) (*ViewSpec, error)
}
