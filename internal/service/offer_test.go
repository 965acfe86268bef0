package service

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"helpboard-backend/internal/domain"
	"helpboard-backend/internal/repository"
	"helpboard-backend/internal/repository/sqlstore"
)

func TestOfferLifecycle_AcceptThenComplete(t *testing.T) {
	h := newHarness(t)

	r1 := h.request(ownerID)
	require.Equal(t, domain.RequestStatusPending, r1.Status)
	o1 := h.offer(r1.ID, helperID)
	require.Equal(t, domain.OfferStatusPending, o1.Status)
	assert.Equal(t, ownerID, o1.RequesterID)
	assert.Len(t, h.notifications(ownerID, domain.NotificationOfferCreated), 1)

	accepted, err := h.offers.AcceptOffer(h.ctx, o1.ID, ownerID)
	require.NoError(t, err)
	assert.Equal(t, domain.OfferStatusAccepted, accepted.Status)
	r := h.reloadRequest(r1.ID)
	assert.Equal(t, domain.RequestStatusMatched, r.Status)
	assert.Equal(t, int32(1), r.SupporterCount)

	acceptedNotes := h.notifications(helperID, domain.NotificationOfferAccepted)
	require.Len(t, acceptedNotes, 1)
	assert.Equal(t, "Ana", acceptedNotes[0].ActorName)
	assert.Equal(t, "Ana@example.com", acceptedNotes[0].Attributes["requester_email"])
	assert.Equal(t, "555-0100", acceptedNotes[0].Attributes["requester_phone"])

	completed, err := h.requests.TransitionRequest(h.ctx, r1.ID, domain.RequestStatusCompleted, ownerID)
	require.NoError(t, err)
	assert.Equal(t, domain.RequestStatusCompleted, completed.Status)
	assert.Equal(t, domain.OfferStatusCompleted, h.reloadOffer(o1.ID).Status)
	assert.Len(t, h.notifications(helperID, domain.NotificationRequestCompleted), 1)

	h.engine.Wait()
	assert.Equal(t, 1, h.sent.to(helperID, domain.NotificationOfferAccepted))
	assert.Equal(t, 1, h.sent.to(helperID, domain.NotificationRequestCompleted))

	browse, err := h.views.Browse(h.ctx, otherHelper, BrowseQuery{})
	require.NoError(t, err)
	assert.Empty(t, browse.Requests)
}

func TestCreateOffer_Rules(t *testing.T) {
	h := newHarness(t)
	r := h.request(ownerID)

	_, err := h.offers.CreateOffer(h.ctx, r.ID, ownerID, "me")
	assert.ErrorIs(t, err, domain.ErrForbidden)

	o := h.offer(r.ID, helperID)
	_, err = h.offers.CreateOffer(h.ctx, r.ID, helperID, "again")
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	_, err = h.offers.CreateOffer(h.ctx, 999, helperID, "")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	declined, err := h.offers.DeclineOffer(h.ctx, o.ID, ownerID)
	require.NoError(t, err)
	assert.Equal(t, domain.OfferStatusDeclined, declined.Status)
	assert.Len(t, h.notifications(helperID, domain.NotificationOfferDeclined), 1)

	revived, err := h.offers.CreateOffer(h.ctx, r.ID, helperID, "Still happy to help")
	require.NoError(t, err)
	assert.Equal(t, o.ID, revived.ID)
	assert.Equal(t, domain.OfferStatusPending, revived.Status)
	assert.Equal(t, "Still happy to help", revived.Message)
	assert.Len(t, h.notifications(ownerID, domain.NotificationOfferCreated), 2)
}

func TestDecideOffer_OwnerOnly(t *testing.T) {
	h := newHarness(t)
	r := h.request(ownerID)
	o := h.offer(r.ID, helperID)

	_, err := h.offers.AcceptOffer(h.ctx, o.ID, otherHelper)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = h.offers.DeclineOffer(h.ctx, o.ID, otherHelper)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = h.offers.AcceptOffer(h.ctx, o.ID, ownerID)
	require.NoError(t, err)
	_, err = h.offers.AcceptOffer(h.ctx, o.ID, ownerID)
	assert.ErrorIs(t, err, domain.ErrConflict)
	_, err = h.offers.DeclineOffer(h.ctx, o.ID, ownerID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestReportOffer_FraudThreshold(t *testing.T) {
	h := newHarness(t)
	r := h.request(ownerID)
	o2 := h.offer(r.ID, helperID)
	_, err := h.offers.AcceptOffer(h.ctx, o2.ID, ownerID)
	require.NoError(t, err)

	for reporter := int64(100); reporter < 109; reporter++ {
		res, err := h.offers.ReportOffer(h.ctx, o2.ID, reporter)
		require.NoError(t, err)
		assert.Equal(t, domain.OfferStatusAccepted, res.Status)
		assert.False(t, res.Flagged)
	}
	assert.Equal(t, int32(9), h.reloadOffer(o2.ID).ReportCount)

	res, err := h.offers.ReportOffer(h.ctx, o2.ID, 109)
	require.NoError(t, err)
	assert.True(t, res.Flagged)
	assert.Equal(t, domain.OfferStatusFraud, res.Status)
	assert.Equal(t, int32(10), res.ReportCount)

	res, err = h.offers.ReportOffer(h.ctx, o2.ID, 110)
	require.NoError(t, err)
	assert.False(t, res.Flagged)
	assert.Equal(t, domain.OfferStatusFraud, res.Status)
	assert.Equal(t, int32(11), res.ReportCount)

	assert.Len(t, h.notifications(helperID, domain.NotificationOfferFraud), 1)
	assert.Len(t, h.notifications(moderatorID, domain.NotificationOfferFraudReview), 1)

	reporters, err := h.store.Offers().ListReporters(h.ctx, o2.ID)
	require.NoError(t, err)
	assert.Len(t, reporters, 11)
}

func TestReportOffer_SameReporterCountsOnce(t *testing.T) {
	h := newHarness(t)
	r := h.request(ownerID)
	o := h.offer(r.ID, helperID)

	for i := 0; i < 3; i++ {
		res, err := h.offers.ReportOffer(h.ctx, o.ID, otherHelper)
		require.NoError(t, err)
		assert.Equal(t, int32(1), res.ReportCount)
	}
	assert.Equal(t, int32(1), h.reloadOffer(o.ID).ReportCount)

	_, err := h.offers.ReportOffer(h.ctx, o.ID, helperID)
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestFraudIsTerminal(t *testing.T) {
	h := newHarness(t)
	r := h.request(ownerID)
	o := h.offer(r.ID, helperID)
	for reporter := int64(200); reporter < 210; reporter++ {
		_, err := h.offers.ReportOffer(h.ctx, o.ID, reporter)
		require.NoError(t, err)
	}
	require.Equal(t, domain.OfferStatusFraud, h.reloadOffer(o.ID).Status)

	_, err := h.offers.AcceptOffer(h.ctx, o.ID, ownerID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	_, err = h.offers.DeclineOffer(h.ctx, o.ID, ownerID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	_, err = h.offers.CreateOffer(h.ctx, r.ID, helperID, "let me try again")
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
	_, err = h.requests.TransitionRequest(h.ctx, r.ID, domain.RequestStatusCompleted, ownerID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Equal(t, domain.OfferStatusFraud, h.reloadOffer(o.ID).Status)
}

// barrierRequests holds every reader of a request until `parties` readers
// have loaded it, so they all act on the same version.
type barrierRequests struct {
	repository.RequestRepository
	arrive *sync.WaitGroup
}

func (b barrierRequests) GetByID(ctx context.Context, id int64) (*domain.HelpRequest, error) {
	r, err := b.RequestRepository.GetByID(ctx, id)
	b.arrive.Done()
	b.arrive.Wait()
	return r, err
}

type barrierStore struct {
	*sqlstore.Store
	requests repository.RequestRepository
}

func (s *barrierStore) Requests() repository.RequestRepository { return s.requests }

func TestAcceptOffer_ConcurrentAcceptsOnSameRequest(t *testing.T) {
	h := newHarness(t)
	r := h.request(ownerID)
	o1 := h.offer(r.ID, helperID)
	o2 := h.offer(r.ID, otherHelper)

	arrive := &sync.WaitGroup{}
	arrive.Add(2)
	racing := NewOfferLedger(&barrierStore{
		Store:    h.store,
		requests: barrierRequests{RequestRepository: h.store.Requests(), arrive: arrive},
	}, nil, OfferLedgerConfig{})

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i, offerID := range []int64{o1.ID, o2.ID} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = racing.AcceptOffer(h.ctx, offerID, ownerID)
		}()
	}
	wg.Wait()

	var ok, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case assert.ErrorIs(t, err, domain.ErrConflict):
			conflicts++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, conflicts)

	got := h.reloadRequest(r.ID)
	assert.Equal(t, domain.RequestStatusMatched, got.Status)
	assert.Equal(t, int32(1), got.SupporterCount)

	accepted := 0
	for _, id := range []int64{o1.ID, o2.ID} {
		if h.reloadOffer(id).Status == domain.OfferStatusAccepted {
			accepted++
		}
	}
	assert.Equal(t, 1, accepted)
}

func TestListOffersForRequest(t *testing.T) {
	h := newHarness(t)
	r := h.request(ownerID)
	h.offer(r.ID, helperID)
	h.offer(r.ID, otherHelper)

	all, err := h.offers.ListOffersForRequest(h.ctx, r.ID, ownerID)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	mine, err := h.offers.ListOffersForRequest(h.ctx, r.ID, helperID)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, helperID, mine[0].HelperID)

	none, err := h.offers.ListOffersForRequest(h.ctx, r.ID, 77)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestReportOffer_ConcurrentReportersFlagOnce(t *testing.T) {
	h := newHarness(t)
	r := h.request(ownerID)
	o := h.offer(r.ID, helperID)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		flagged int
	)
	for reporter := int64(300); reporter < 315; reporter++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := h.offers.ReportOffer(h.ctx, o.ID, reporter)
			if !assert.NoError(t, err, fmt.Sprintf("reporter %d", reporter)) {
				return
			}
			if res.Flagged {
				mu.Lock()
				flagged++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, flagged)
	got := h.reloadOffer(o.ID)
	assert.Equal(t, domain.OfferStatusFraud, got.Status)
	assert.Equal(t, int32(15), got.ReportCount)
	assert.Len(t, h.notifications(helperID, domain.NotificationOfferFraud), 1)
}
