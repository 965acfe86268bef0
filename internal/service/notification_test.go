package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"helpboard-backend/internal/domain"
	"helpboard-backend/internal/feed"
	"helpboard-backend/internal/repository"
)

// holdingPublisher forwards batches to the broker but holds back the first
// batch carrying transition until the next batch has gone out, the way a
// relay from another node can deliver a pair of events swapped.
type holdingPublisher struct {
	broker     *feed.Broker
	transition domain.Transition

	mu   sync.Mutex
	held []domain.ChangeEvent
	done bool
}

func (p *holdingPublisher) Publish(ctx context.Context, events ...domain.ChangeEvent) {
	p.mu.Lock()
	if !p.done && p.held == nil {
		for _, e := range events {
			if e.Transition == p.transition {
				p.held = events
				p.mu.Unlock()
				return
			}
		}
	}
	held := p.held
	if held != nil {
		p.held = nil
		p.done = true
	}
	p.mu.Unlock()

	p.broker.Publish(ctx, events...)
	if held != nil {
		p.broker.Publish(ctx, held...)
	}
}

func TestNotificationEngine_DedupOnRedelivery(t *testing.T) {
	h := newHarness(t)
	r := h.request(ownerID)
	h.offer(r.ID, helperID)

	events, err := h.store.ChangeLog().List(h.ctx, repository.ChangeQuery{})
	require.NoError(t, err)
	var created domain.ChangeEvent
	for _, e := range events {
		if e.Transition == domain.TransitionOfferCreated {
			created = e
		}
	}
	require.NotZero(t, created.Seq)

	n, err := h.engine.HandleEvent(h.ctx, created)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, h.notifications(ownerID, domain.NotificationOfferCreated), 1)
}

func TestNotificationEngine_Reconcile(t *testing.T) {
	h := newHarness(t)
	r := h.request(ownerID)
	o := h.offer(r.ID, helperID)
	_, err := h.offers.AcceptOffer(h.ctx, o.ID, ownerID)
	require.NoError(t, err)

	// lose every notification, then replay the log
	all, _, err := h.store.Notifications().ListByRecipient(h.ctx, helperID, 100, 0)
	require.NoError(t, err)
	for _, n := range all {
		require.NoError(t, h.store.Notifications().Delete(h.ctx, n.ID, helperID))
	}

	created, err := h.engine.Reconcile(h.ctx, time.Time{}, 2)
	require.NoError(t, err)
	assert.Equal(t, len(all), created)
	assert.Len(t, h.notifications(helperID, domain.NotificationOfferAccepted), 1)

	again, err := h.engine.Reconcile(h.ctx, time.Time{}, 100)
	require.NoError(t, err)
	assert.Zero(t, again)
}

func TestNotificationEngine_RetryDeliveries(t *testing.T) {
	h := newHarness(t)
	h.sent.setFail(true)

	r := h.request(ownerID)
	h.offer(r.ID, helperID)
	h.engine.Wait()

	notes := h.notifications(ownerID, domain.NotificationOfferCreated)
	require.Len(t, notes, 1)
	stored, err := h.store.Notifications().GetByID(h.ctx, notes[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DeliveryStatusFailed, stored.DeliveryStatus)
	assert.Equal(t, int32(1), stored.DeliveryAttempts)
	assert.Contains(t, stored.LastError, "unavailable")

	h.engine.core.clock = func() time.Time { return time.Now().UTC().Add(time.Hour) }
	h.sent.setFail(false)
	delivered, err := h.engine.RetryDeliveries(h.ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, delivered)

	stored, err = h.store.Notifications().GetByID(h.ctx, notes[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DeliveryStatusDelivered, stored.DeliveryStatus)
	assert.Equal(t, int32(2), stored.DeliveryAttempts)

	delivered, err = h.engine.RetryDeliveries(h.ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, delivered)
}

func TestNotificationEngine_SubscribesToBroker(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.engine.Start(h.broker))

	// ledgers wired straight to the broker, the way the server runs them
	requests := NewRequestLedger(h.store, h.broker)
	offers := NewOfferLedger(h.store, h.broker, OfferLedgerConfig{})

	r, err := requests.CreateRequest(h.ctx, ownerID, domain.NewHelpRequest{Title: "Soup", Category: "food"})
	require.NoError(t, err)
	_, err = offers.CreateOffer(h.ctx, r.ID, helperID, "")
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return len(h.notifications(ownerID, domain.NotificationOfferCreated)) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestNotificationEngine_LateTransitionStillNotifies(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.engine.Start(h.broker))

	pub := &holdingPublisher{broker: h.broker, transition: domain.TransitionOfferAccepted}
	requests := NewRequestLedger(h.store, pub)
	offers := NewOfferLedger(h.store, pub, OfferLedgerConfig{})

	r, err := requests.CreateRequest(h.ctx, ownerID, domain.NewHelpRequest{Title: "Ride to clinic", Category: "transport"})
	require.NoError(t, err)
	o, err := offers.CreateOffer(h.ctx, r.ID, helperID, "")
	require.NoError(t, err)
	_, err = offers.AcceptOffer(h.ctx, o.ID, ownerID)
	require.NoError(t, err)
	_, err = requests.TransitionRequest(h.ctx, r.ID, domain.RequestStatusCompleted, ownerID)
	require.NoError(t, err)

	// the acceptance reaches the broker after the completion
	assert.Eventually(t, func() bool {
		return len(h.notifications(helperID, domain.NotificationOfferAccepted)) == 1 &&
			len(h.notifications(helperID, domain.NotificationRequestCompleted)) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool {
		return h.sent.to(helperID, domain.NotificationOfferAccepted) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestNotificationService_RecipientOnly(t *testing.T) {
	h := newHarness(t)
	r := h.request(ownerID)
	h.offer(r.ID, helperID)
	h.offer(r.ID, otherHelper)

	list, total, err := h.inbox.List(h.ctx, ownerID, 1, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, 2, total)

	_, err = h.inbox.MarkRead(h.ctx, helperID, list[0].ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, h.inbox.Delete(h.ctx, helperID, list[0].ID), domain.ErrNotFound)

	read, err := h.inbox.MarkRead(h.ctx, ownerID, list[0].ID)
	require.NoError(t, err)
	assert.True(t, read.IsRead)
	assert.NotNil(t, read.ReadAt)

	unread, err := h.inbox.UnreadCount(h.ctx, ownerID)
	require.NoError(t, err)
	assert.Equal(t, 1, unread)

	marked, err := h.inbox.MarkAllRead(h.ctx, ownerID)
	require.NoError(t, err)
	assert.Equal(t, 1, marked)
	unread, err = h.inbox.UnreadCount(h.ctx, ownerID)
	require.NoError(t, err)
	assert.Zero(t, unread)

	require.NoError(t, h.inbox.Delete(h.ctx, ownerID, list[1].ID))
	_, total, err = h.inbox.List(h.ctx, ownerID, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestDedupKeyDistinguishesTransitions(t *testing.T) {
	a := domain.DedupKey(2, domain.NotificationOfferAccepted, domain.TableOffers, 5, 10)
	b := domain.DedupKey(2, domain.NotificationOfferAccepted, domain.TableOffers, 5, 11)
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, domain.DedupKey(2, domain.NotificationOfferAccepted, domain.TableOffers, 5, 10))
}
