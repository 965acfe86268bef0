package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"helpboard-backend/internal/domain"
	"helpboard-backend/internal/feed"
	"helpboard-backend/internal/repository"
	"helpboard-backend/internal/repository/sqlstore"
)

const (
	ownerID     int64 = 1
	helperID    int64 = 2
	otherHelper int64 = 3
	moderatorID int64 = 99
)

// sentLog records every out-of-band delivery.
type sentLog struct {
	mu   sync.Mutex
	sent []domain.Notification
	fail bool
}

func (s *sentLog) Deliver(_ context.Context, _ *domain.Profile, n *domain.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return assertErr("push gateway unavailable")
	}
	s.sent = append(s.sent, *n)
	return nil
}

func (s *sentLog) setFail(fail bool) {
	s.mu.Lock()
	s.fail = fail
	s.mu.Unlock()
}

func (s *sentLog) to(recipientID int64, typ domain.NotificationType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, x := range s.sent {
		if x.RecipientID == recipientID && x.Type == typ {
			n++
		}
	}
	return n
}

type assertErr string

func (e assertErr) Error() string { return string(e) }

// syncPublisher runs the notification engine inline before handing events to
// the broker, so tests observe notifications as soon as a ledger call returns.
type syncPublisher struct {
	broker *feed.Broker
	engine *NotificationEngine
}

func (p *syncPublisher) Publish(ctx context.Context, events ...domain.ChangeEvent) {
	p.broker.Publish(ctx, events...)
	for _, e := range events {
		if _, err := p.engine.HandleEvent(ctx, e); err != nil {
			panic(err)
		}
	}
}

type harness struct {
	t        *testing.T
	ctx      context.Context
	store    *sqlstore.Store
	broker   *feed.Broker
	engine   *NotificationEngine
	sent     *sentLog
	requests RequestLedger
	offers   OfferLedger
	members  MembershipRegistry
	inbox    NotificationService
	views    AggregationService
}

func newHarness(t *testing.T) *harness {
	return newHarnessWithStore(t, nil)
}

// newHarnessWithStore lets a test put a wrapper in front of the ledgers'
// store. wrap may be nil.
func newHarnessWithStore(t *testing.T, wrap func(*sqlstore.Store) repository.Store) *harness {
	t.Helper()
	ctx := context.Background()
	store, err := sqlstore.OpenSQLite(ctx, ":memory:")
	require.NoError(t, err)

	broker := feed.NewBroker()
	sent := &sentLog{}
	engine := NewNotificationEngine(store, broker, sent, NotificationEngineConfig{})
	t.Cleanup(func() {
		engine.Stop()
		broker.Close()
		store.Close()
	})

	var ledgerStore repository.Store = store
	if wrap != nil {
		ledgerStore = wrap(store)
	}
	pub := &syncPublisher{broker: broker, engine: engine}
	h := &harness{
		t:        t,
		ctx:      ctx,
		store:    store,
		broker:   broker,
		engine:   engine,
		sent:     sent,
		requests: NewRequestLedger(ledgerStore, pub),
		offers:   NewOfferLedger(ledgerStore, pub, OfferLedgerConfig{}),
		members:  NewMembershipRegistry(ledgerStore, pub, StaticTrust{}, MembershipConfig{CreationTrustThreshold: 0.8, JoinTrustThreshold: 0.9}),
		inbox:    NewNotificationService(store, broker),
		views:    NewAggregationService(store),
	}
	h.profile(ownerID, "Ana", domain.ActorTypeIndividual, false)
	h.profile(helperID, "Bo", domain.ActorTypeIndividual, false)
	h.profile(otherHelper, "Cy", domain.ActorTypeIndividual, false)
	h.profile(moderatorID, "Mod", domain.ActorTypeIndividual, true)
	return h
}

func (h *harness) profile(id int64, name string, actorType domain.ActorType, moderator bool) {
	h.t.Helper()
	now := time.Now().UTC()
	require.NoError(h.t, h.store.Profiles().Upsert(h.ctx, &domain.Profile{
		ID:          id,
		DisplayName: name,
		Email:       name + "@example.com",
		Phone:       "555-0100",
		ActorType:   actorType,
		IsModerator: moderator,
		CreatedAt:   now,
		UpdatedAt:   now,
	}))
}

func (h *harness) request(owner int64) *domain.HelpRequest {
	h.t.Helper()
	r, err := h.requests.CreateRequest(h.ctx, owner, domain.NewHelpRequest{
		Title:    "Groceries for the week",
		Category: "Food",
		Urgency:  domain.UrgencyHigh,
	})
	require.NoError(h.t, err)
	return r
}

func (h *harness) offer(requestID, helper int64) *domain.HelpOffer {
	h.t.Helper()
	o, err := h.offers.CreateOffer(h.ctx, requestID, helper, "I can drive over tonight")
	require.NoError(h.t, err)
	return o
}

func (h *harness) reloadRequest(id int64) *domain.HelpRequest {
	h.t.Helper()
	r, err := h.store.Requests().GetByID(h.ctx, id)
	require.NoError(h.t, err)
	return r
}

func (h *harness) reloadOffer(id int64) *domain.HelpOffer {
	h.t.Helper()
	o, err := h.store.Offers().GetByID(h.ctx, id)
	require.NoError(h.t, err)
	return o
}

// notifications returns the recipient's inbox filtered by type.
func (h *harness) notifications(recipientID int64, typ domain.NotificationType) []domain.Notification {
	h.t.Helper()
	all, _, err := h.store.Notifications().ListByRecipient(h.ctx, recipientID, 100, 0)
	require.NoError(h.t, err)
	var out []domain.Notification
	for _, n := range all {
		if n.Type == typ {
			out = append(out, n)
		}
	}
	return out
}

// approvedCommunity creates an auto-approved community administered by admin.
func (h *harness) approvedCommunity(admin int64, privacy domain.CommunityPrivacy) *domain.Community {
	h.t.Helper()
	h.profile(admin, "NGO", domain.ActorTypeNGO, false)
	c, err := h.members.CreateCommunity(h.ctx, admin, domain.NewCommunity{Name: "Riverside", Privacy: privacy})
	require.NoError(h.t, err)
	require.Equal(h.t, domain.CommunityStatusApproved, c.Status)
	return c
}
