package service

import (
	"context"
	"sort"
	"strconv"

	"helpboard-backend/internal/domain"
	"helpboard-backend/internal/feed"
	"helpboard-backend/internal/repository"
)

const defaultBrowseLimit = 100

// Live view names accepted by AggregationService.LiveView.
const (
	ViewMyRequests    = "my-requests"
	ViewMyOffers      = "my-offers"
	ViewBrowse        = "browse"
	ViewInbox         = "inbox"
	ViewMyCommunities = "my-communities"
	ViewRequestOffers = "request-offers"
)

type RequestList struct {
	Requests []domain.HelpRequest `json:"requests"`
	Seq      int64                `json:"seq"`
}

type OfferSummary struct {
	Offer   domain.HelpOffer    `json:"offer"`
	Request *domain.HelpRequest `json:"request,omitempty"`
}

type OfferList struct {
	Offers []OfferSummary `json:"offers"`
	Seq    int64          `json:"seq"`
}

type CommunitySummary struct {
	Community  domain.Community  `json:"community"`
	Membership domain.Membership `json:"membership"`
}

type CommunityList struct {
	Communities []CommunitySummary `json:"communities"`
	Seq         int64              `json:"seq"`
}

type Inbox struct {
	Notifications []domain.Notification `json:"notifications"`
	Total         int                   `json:"total"`
	Unread        int                   `json:"unread"`
	Seq           int64                 `json:"seq"`
}

// BrowseQuery selects open requests. An empty scope merges global requests
// with those of the viewer's communities.
type BrowseQuery struct {
	Scope       domain.Scope   `json:"scope"`
	CommunityID *int64         `json:"community_id,omitempty"`
	Category    string         `json:"category"`
	MinUrgency  domain.Urgency `json:"min_urgency"`
	Limit       int            `json:"limit"`
}

// ViewSpec is everything a feed.LiveView needs to serve one named view.
type ViewSpec struct {
	Name     string
	Table    domain.Table
	Filter   feed.Filter
	Snapshot feed.SnapshotFunc
}

type aggregationService struct {
	store repository.Store
}

func NewAggregationService(store repository.Store) AggregationService {
	return &aggregationService{store: store}
}

func (s *aggregationService) MyRequests(ctx context.Context, userID int64) (*RequestList, error) {
	if err := requireActor(userID); err != nil {
		return nil, err
	}
	out := &RequestList{}
	seq, err := s.store.ReadSnapshot(ctx, func(r repository.Repositories) error {
		var err error
		out.Requests, err = r.Requests().ListByOwner(ctx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	out.Seq = seq
	return out, nil
}

func (s *aggregationService) MyOffers(ctx context.Context, userID int64) (*OfferList, error) {
	if err := requireActor(userID); err != nil {
		return nil, err
	}
	out := &OfferList{Offers: []OfferSummary{}}
	seq, err := s.store.ReadSnapshot(ctx, func(r repository.Repositories) error {
		offers, err := r.Offers().ListByHelper(ctx, userID)
		if err != nil {
			return err
		}
		ids := make([]int64, 0, len(offers))
		for _, o := range offers {
			ids = append(ids, o.RequestID)
		}
		requests, err := r.Requests().ListByIDs(ctx, ids)
		if err != nil {
			return err
		}
		byID := make(map[int64]*domain.HelpRequest, len(requests))
		for i := range requests {
			byID[requests[i].ID] = &requests[i]
		}
		for _, o := range offers {
			out.Offers = append(out.Offers, OfferSummary{Offer: o, Request: byID[o.RequestID]})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	out.Seq = seq
	return out, nil
}

// HelpedRequests lists the requests userID contributed to, completed ones
// included.
func (s *aggregationService) HelpedRequests(ctx context.Context, userID int64) (*RequestList, error) {
	if err := requireActor(userID); err != nil {
		return nil, err
	}
	out := &RequestList{}
	seq, err := s.store.ReadSnapshot(ctx, func(r repository.Repositories) error {
		offers, err := r.Offers().ListByHelper(ctx, userID)
		if err != nil {
			return err
		}
		var ids []int64
		for _, o := range offers {
			if o.Status.Contributed() {
				ids = append(ids, o.RequestID)
			}
		}
		out.Requests, err = r.Requests().ListByIDs(ctx, ids)
		return err
	})
	if err != nil {
		return nil, err
	}
	sortRequests(out.Requests)
	out.Seq = seq
	return out, nil
}

func (s *aggregationService) Browse(ctx context.Context, viewerID int64, q BrowseQuery) (*RequestList, error) {
	if err := requireActor(viewerID); err != nil {
		return nil, err
	}
	if err := q.validate(); err != nil {
		return nil, err
	}
	out := &RequestList{}
	seq, err := s.store.ReadSnapshot(ctx, func(r repository.Repositories) error {
		communities, err := browseCommunities(ctx, r, viewerID, q)
		if err != nil {
			return err
		}
		out.Requests, err = browse(ctx, r, q, communities)
		return err
	})
	if err != nil {
		return nil, err
	}
	out.Seq = seq
	return out, nil
}

func (s *aggregationService) MyCommunities(ctx context.Context, userID int64) (*CommunityList, error) {
	if err := requireActor(userID); err != nil {
		return nil, err
	}
	out := &CommunityList{Communities: []CommunitySummary{}}
	seq, err := s.store.ReadSnapshot(ctx, func(r repository.Repositories) error {
		memberships, err := r.Memberships().ListByUser(ctx, userID)
		if err != nil {
			return err
		}
		ids := make([]int64, 0, len(memberships))
		for _, m := range memberships {
			ids = append(ids, m.CommunityID)
		}
		communities, err := r.Communities().ListByIDs(ctx, ids)
		if err != nil {
			return err
		}
		byID := make(map[int64]domain.Community, len(communities))
		for _, c := range communities {
			byID[c.ID] = c
		}
		for _, m := range memberships {
			if c, ok := byID[m.CommunityID]; ok {
				out.Communities = append(out.Communities, CommunitySummary{Community: c, Membership: m})
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	out.Seq = seq
	return out, nil
}

func (s *aggregationService) Inbox(ctx context.Context, userID int64, page, pageSize int) (*Inbox, error) {
	if err := requireActor(userID); err != nil {
		return nil, err
	}
	limit, offset := paginate(page, pageSize)
	out := &Inbox{}
	seq, err := s.store.ReadSnapshot(ctx, func(r repository.Repositories) error {
		var err error
		out.Notifications, out.Total, err = r.Notifications().ListByRecipient(ctx, userID, limit, offset)
		if err != nil {
			return err
		}
		out.Unread, err = r.Notifications().CountUnread(ctx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	out.Seq = seq
	return out, nil
}

// LiveView resolves a named view for viewerID. request-offers needs a
// request_id parameter and is only open to the request's owner.
func (s *aggregationService) LiveView(ctx context.Context, viewerID int64, name string, params map[string]string) (*ViewSpec, error) {
	if err := requireActor(viewerID); err != nil {
		return nil, err
	}
	switch name {
	case ViewMyRequests:
		return &ViewSpec{
			Name:   name,
			Table:  domain.TableRequests,
			Filter: OwnedRequests(viewerID),
			Snapshot: func(ctx context.Context) ([]domain.Entity, int64, error) {
				list, err := s.MyRequests(ctx, viewerID)
				if err != nil {
					return nil, 0, err
				}
				return requestEntities(list.Requests), list.Seq, nil
			},
		}, nil

	case ViewMyOffers:
		return &ViewSpec{
			Name:   name,
			Table:  domain.TableOffers,
			Filter: HelperOffers(viewerID),
			Snapshot: func(ctx context.Context) ([]domain.Entity, int64, error) {
				var offers []domain.HelpOffer
				seq, err := s.store.ReadSnapshot(ctx, func(r repository.Repositories) error {
					var err error
					offers, err = r.Offers().ListByHelper(ctx, viewerID)
					return err
				})
				if err != nil {
					return nil, 0, err
				}
				return offerEntities(offers), seq, nil
			},
		}, nil

	case ViewBrowse:
		q, err := ParseBrowseQuery(params)
		if err != nil {
			return nil, err
		}
		var communities []int64
		if _, err := s.store.ReadSnapshot(ctx, func(r repository.Repositories) error {
			var err error
			communities, err = browseCommunities(ctx, r, viewerID, q)
			return err
		}); err != nil {
			return nil, err
		}
		return &ViewSpec{
			Name:   name,
			Table:  domain.TableRequests,
			Filter: BrowseFilter(q, communities),
			Snapshot: func(ctx context.Context) ([]domain.Entity, int64, error) {
				var requests []domain.HelpRequest
				seq, err := s.store.ReadSnapshot(ctx, func(r repository.Repositories) error {
					var err error
					requests, err = browse(ctx, r, q, communities)
					return err
				})
				if err != nil {
					return nil, 0, err
				}
				return requestEntities(requests), seq, nil
			},
		}, nil

	case ViewInbox:
		return &ViewSpec{
			Name:   name,
			Table:  domain.TableNotifications,
			Filter: RecipientNotifications(viewerID),
			Snapshot: func(ctx context.Context) ([]domain.Entity, int64, error) {
				inbox, err := s.Inbox(ctx, viewerID, 1, maxInboxPage)
				if err != nil {
					return nil, 0, err
				}
				out := make([]domain.Entity, 0, len(inbox.Notifications))
				for i := range inbox.Notifications {
					out = append(out, &inbox.Notifications[i])
				}
				return out, inbox.Seq, nil
			},
		}, nil

	case ViewMyCommunities:
		return &ViewSpec{
			Name:   name,
			Table:  domain.TableMemberships,
			Filter: UserMemberships(viewerID),
			Snapshot: func(ctx context.Context) ([]domain.Entity, int64, error) {
				var memberships []domain.Membership
				seq, err := s.store.ReadSnapshot(ctx, func(r repository.Repositories) error {
					var err error
					memberships, err = r.Memberships().ListByUser(ctx, viewerID)
					return err
				})
				if err != nil {
					return nil, 0, err
				}
				out := make([]domain.Entity, 0, len(memberships))
				for i := range memberships {
					out = append(out, &memberships[i])
				}
				return out, seq, nil
			},
		}, nil

	case ViewRequestOffers:
		requestID, err := strconv.ParseInt(params["request_id"], 10, 64)
		if err != nil || requestID <= 0 {
			return nil, domain.Validationf("request-offers needs a numeric request_id")
		}
		req, err := s.store.Requests().GetByID(ctx, requestID)
		if err != nil {
			return nil, err
		}
		if req.OwnerID != viewerID {
			return nil, domain.Forbiddenf("only the owner can watch offers on request %d", requestID)
		}
		return &ViewSpec{
			Name:   name,
			Table:  domain.TableOffers,
			Filter: RequestOffers(requestID),
			Snapshot: func(ctx context.Context) ([]domain.Entity, int64, error) {
				var offers []domain.HelpOffer
				seq, err := s.store.ReadSnapshot(ctx, func(r repository.Repositories) error {
					var err error
					offers, err = r.Offers().ListByRequest(ctx, requestID)
					return err
				})
				if err != nil {
					return nil, 0, err
				}
				return offerEntities(offers), seq, nil
			},
		}, nil
	}
	return nil, domain.NotFoundf("unknown view %q", name)
}

func OwnedRequests(userID int64) feed.Filter {
	return func(e domain.Entity) bool {
		r, ok := e.(*domain.HelpRequest)
		return ok && r.OwnerID == userID
	}
}

func HelperOffers(userID int64) feed.Filter {
	return func(e domain.Entity) bool {
		o, ok := e.(*domain.HelpOffer)
		return ok && o.HelperID == userID
	}
}

func RequestOffers(requestID int64) feed.Filter {
	return func(e domain.Entity) bool {
		o, ok := e.(*domain.HelpOffer)
		return ok && o.RequestID == requestID
	}
}

func RecipientNotifications(userID int64) feed.Filter {
	return func(e domain.Entity) bool {
		n, ok := e.(*domain.Notification)
		return ok && n.RecipientID == userID
	}
}

func UserMemberships(userID int64) feed.Filter {
	return func(e domain.Entity) bool {
		m, ok := e.(*domain.Membership)
		return ok && m.UserID == userID
	}
}

// BrowseFilter matches the open requests a browse query shows. communities
// is the resolved set of communities the viewer may see.
func BrowseFilter(q BrowseQuery, communities []int64) feed.Filter {
	allowed := make(map[int64]bool, len(communities))
	for _, id := range communities {
		allowed[id] = true
	}
	return func(e domain.Entity) bool {
		r, ok := e.(*domain.HelpRequest)
		if !ok || r.Status == domain.RequestStatusCompleted {
			return false
		}
		switch r.Scope {
		case domain.ScopeGlobal:
			if q.Scope == domain.ScopeCommunity || q.CommunityID != nil {
				return false
			}
		case domain.ScopeCommunity:
			if q.Scope == domain.ScopeGlobal || r.CommunityID == nil || !allowed[*r.CommunityID] {
				return false
			}
		}
		if q.Category != "" && r.Category != q.Category {
			return false
		}
		if q.MinUrgency != "" && r.Urgency.Rank() < q.MinUrgency.Rank() {
			return false
		}
		return true
	}
}

func (q *BrowseQuery) validate() error {
	switch q.Scope {
	case "", domain.ScopeGlobal, domain.ScopeCommunity:
	default:
		return domain.Validationf("unknown scope %q", q.Scope)
	}
	if q.MinUrgency != "" && !q.MinUrgency.Valid() {
		return domain.Validationf("unknown urgency %q", q.MinUrgency)
	}
	if q.CommunityID != nil && q.Scope == domain.ScopeGlobal {
		return domain.Validationf("a community filter needs community scope")
	}
	if q.Limit <= 0 || q.Limit > defaultBrowseLimit {
		q.Limit = defaultBrowseLimit
	}
	return nil
}

// ParseBrowseQuery reads a browse query from string parameters (scope,
// community_id, category, min_urgency, limit).
func ParseBrowseQuery(params map[string]string) (BrowseQuery, error) {
	q := BrowseQuery{
		Scope:      domain.Scope(params["scope"]),
		Category:   params["category"],
		MinUrgency: domain.Urgency(params["min_urgency"]),
	}
	if raw := params["community_id"]; raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return q, domain.Validationf("invalid community_id %q", raw)
		}
		q.CommunityID = &id
	}
	if raw := params["limit"]; raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return q, domain.Validationf("invalid limit %q", raw)
		}
		q.Limit = n
	}
	return q, q.validate()
}

// browseCommunities resolves the communities a browse query covers: the
// requested one, or every approved community the viewer is active in.
func browseCommunities(ctx context.Context, r repository.Repositories, viewerID int64, q BrowseQuery) ([]int64, error) {
	if q.Scope == domain.ScopeGlobal {
		return nil, nil
	}
	memberships, err := r.Memberships().ListByUser(ctx, viewerID)
	if err != nil {
		return nil, err
	}
	var ids []int64
	for _, m := range memberships {
		if m.Status != domain.MembershipStatusActive {
			continue
		}
		if q.CommunityID != nil && *q.CommunityID != m.CommunityID {
			continue
		}
		ids = append(ids, m.CommunityID)
	}
	if q.CommunityID != nil && len(ids) == 0 {
		return nil, domain.Forbiddenf("not a member of community %d", *q.CommunityID)
	}
	return ids, nil
}

func browse(ctx context.Context, r repository.Repositories, q BrowseQuery, communities []int64) ([]domain.HelpRequest, error) {
	base := repository.BrowseFilter{Category: q.Category, MinUrgency: q.MinUrgency, Limit: q.Limit}
	var out []domain.HelpRequest
	if q.Scope != domain.ScopeCommunity && q.CommunityID == nil {
		f := base
		f.Scope = domain.ScopeGlobal
		global, err := r.Requests().Browse(ctx, f)
		if err != nil {
			return nil, err
		}
		out = append(out, global...)
	}
	if q.Scope != domain.ScopeGlobal && len(communities) > 0 {
		f := base
		f.Scope = domain.ScopeCommunity
		f.CommunityIDs = communities
		scoped, err := r.Requests().Browse(ctx, f)
		if err != nil {
			return nil, err
		}
		out = append(out, scoped...)
	}
	sortRequests(out)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	if out == nil {
		out = []domain.HelpRequest{}
	}
	return out, nil
}

// sortRequests orders newest first.
func sortRequests(rs []domain.HelpRequest) {
	sort.SliceStable(rs, func(i, j int) bool {
		if !rs[i].CreatedAt.Equal(rs[j].CreatedAt) {
			return rs[i].CreatedAt.After(rs[j].CreatedAt)
		}
		return rs[i].ID > rs[j].ID
	})
}

func requestEntities(rs []domain.HelpRequest) []domain.Entity {
	out := make([]domain.Entity, 0, len(rs))
	for i := range rs {
		out = append(out, &rs[i])
	}
	return out
}

func offerEntities(offers []domain.HelpOffer) []domain.Entity {
	out := make([]domain.Entity, 0, len(offers))
	for i := range offers {
		out = append(out, &offers[i])
	}
	return out
}
