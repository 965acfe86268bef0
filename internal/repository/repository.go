package repository

import (
	"context"
	"time"

	"helpboard-backend/internal/domain"
)

type RequestRepository interface {
	Create(ctx context.Context, r *domain.HelpRequest) error
	GetByID(ctx context.Context, id int64) (*domain.HelpRequest, error)
	// Update writes r if the stored version equals expectedVersion and bumps
	// r.Version. A stale version yields domain.ErrConflict.
	Update(ctx context.Context, r *domain.HelpRequest, expectedVersion int64) error
	ListByOwner(ctx context.Context, ownerID int64) ([]domain.HelpRequest, error)
	ListByIDs(ctx context.Context, ids []int64) ([]domain.HelpRequest, error)
	Browse(ctx context.Context, f BrowseFilter) ([]domain.HelpRequest, error)
}

// BrowseFilter selects open requests for the public browse views.
type BrowseFilter struct {
	Scope        domain.Scope
	CommunityIDs []int64 // community scope: restrict to these communities
	Category     string
	MinUrgency   domain.Urgency
	ExcludeOwner int64
	Limit        int
}

type OfferRepository interface {
	Create(ctx context.Context, o *domain.HelpOffer) error
	GetByID(ctx context.Context, id int64) (*domain.HelpOffer, error)
	GetByRequestAndHelper(ctx context.Context, requestID, helperID int64) (*domain.HelpOffer, error)
	Update(ctx context.Context, o *domain.HelpOffer, expectedVersion int64) error
	ListByRequest(ctx context.Context, requestID int64) ([]domain.HelpOffer, error)
	ListByHelper(ctx context.Context, helperID int64) ([]domain.HelpOffer, error)
	CountByRequestAndStatus(ctx context.Context, requestID int64, statuses ...domain.OfferStatus) (int, error)

	// Reporter set
	AddReporter(ctx context.Context, offerID, reporterID int64) (bool, error)
	CountReporters(ctx context.Context, offerID int64) (int, error)
	ListReporters(ctx context.Context, offerID int64) ([]int64, error)
}

type CommunityRepository interface {
	Create(ctx context.Context, c *domain.Community) error
	GetByID(ctx context.Context, id int64) (*domain.Community, error)
	Update(ctx context.Context, c *domain.Community, expectedVersion int64) error
	List(ctx context.Context, status domain.CommunityStatus) ([]domain.Community, error)
	ListByIDs(ctx context.Context, ids []int64) ([]domain.Community, error)
}

type MembershipRepository interface {
	Create(ctx context.Context, m *domain.Membership) error
	GetByID(ctx context.Context, id int64) (*domain.Membership, error)
	Get(ctx context.Context, communityID, userID int64) (*domain.Membership, error)
	Update(ctx context.Context, m *domain.Membership, expectedVersion int64) error
	Delete(ctx context.Context, id, expectedVersion int64) error
	ListByCommunity(ctx context.Context, communityID int64) ([]domain.Membership, error)
	ListByUser(ctx context.Context, userID int64) ([]domain.Membership, error)
	CountActiveAdmins(ctx context.Context, communityID int64) (int, error)
}

type ApprovalRepository interface {
	Create(ctx context.Context, a *domain.CommunityApproval) error
	GetByID(ctx context.Context, id int64) (*domain.CommunityApproval, error)
	Update(ctx context.Context, a *domain.CommunityApproval) error
	ListPending(ctx context.Context) ([]domain.CommunityApproval, error)
}

type NotificationRepository interface {
	// Create inserts n unless a notification with the same dedup key exists.
	Create(ctx context.Context, n *domain.Notification) (bool, error)
	GetByID(ctx context.Context, id int64) (*domain.Notification, error)
	ListByRecipient(ctx context.Context, recipientID int64, limit, offset int) ([]domain.Notification, int, error)
	CountUnread(ctx context.Context, recipientID int64) (int, error)
	MarkRead(ctx context.Context, id, recipientID int64, at time.Time) error
	MarkAllRead(ctx context.Context, recipientID int64, at time.Time) (int64, error)
	Delete(ctx context.Context, id, recipientID int64) error

	// ListUndelivered returns notifications not yet delivered that were created
	// before cutoff and have fewer than maxAttempts attempts.
	ListUndelivered(ctx context.Context, cutoff time.Time, maxAttempts, limit int) ([]domain.Notification, error)
	UpdateDelivery(ctx context.Context, n *domain.Notification) error
	PurgeRead(ctx context.Context, before time.Time) (int64, error)
}

type ProfileRepository interface {
	Get(ctx context.Context, id int64) (*domain.Profile, error)
	Upsert(ctx context.Context, p *domain.Profile) error
	ListModerators(ctx context.Context) ([]domain.Profile, error)
}

// ChangeQuery pages through the change log.
type ChangeQuery struct {
	AfterSeq int64
	Since    time.Time
	Limit    int
}

type ChangeLogRepository interface {
	// Append assigns e.Seq and e.CreatedAt.
	Append(ctx context.Context, e *domain.ChangeEvent) error
	List(ctx context.Context, q ChangeQuery) ([]domain.ChangeEvent, error)
	MaxSeq(ctx context.Context) (int64, error)
}

type IdempotencyRepository interface {
	Get(ctx context.Context, actorID int64, key string) (*domain.IdempotencyRecord, error)
	Put(ctx context.Context, rec *domain.IdempotencyRecord) error
	PurgeBefore(ctx context.Context, before time.Time) (int64, error)
}

// Repositories is the full set of repositories bound to one connection or
// one transaction.
type Repositories interface {
	Requests() RequestRepository
	Offers() OfferRepository
	Communities() CommunityRepository
	Memberships() MembershipRepository
	Approvals() ApprovalRepository
	Notifications() NotificationRepository
	Profiles() ProfileRepository
	ChangeLog() ChangeLogRepository
	Idempotency() IdempotencyRepository
}

type Store interface {
	Repositories
	// WithTx runs fn inside one transaction; fn's error rolls it back.
	WithTx(ctx context.Context, fn func(tx Repositories) error) error
	// ReadSnapshot runs fn against a consistent read view and returns the
	// change-log sequence that view reflects.
	ReadSnapshot(ctx context.Context, fn func(r Repositories) error) (int64, error)
	Close() error
}
