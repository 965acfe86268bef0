package feed

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"helpboard-backend/internal/domain"
)

func TestBroker_DeliversMatchingEventsInOrder(t *testing.T) {
	b := NewBroker()
	defer b.Close()
	rec := newRecorder()
	mine := func(e domain.Entity) bool { return e.(*domain.HelpRequest).OwnerID == 1 }

	_, err := b.Subscribe(domain.TableRequests, mine, rec.onEvent, nil)
	require.NoError(t, err)

	ctx := context.Background()
	b.Publish(ctx, upsert(1, request(10, 1, domain.RequestStatusPending), nil))
	b.Publish(ctx, upsert(2, request(11, 2, domain.RequestStatusPending), nil))
	b.Publish(ctx, upsert(3, request(10, 1, domain.RequestStatusMatched), request(10, 1, domain.RequestStatusPending)))

	first := rec.next(t)
	assert.Equal(t, int64(1), first.Seq)
	second := rec.next(t)
	assert.Equal(t, int64(3), second.Seq)
	assert.Equal(t, domain.RequestStatusMatched, second.Payload.(*domain.HelpRequest).Status)
	rec.none(t)
}

func TestBroker_DeliversLateEvents(t *testing.T) {
	b := NewBroker()
	defer b.Close()
	rec := newRecorder()
	_, err := b.Subscribe(domain.TableOffers, nil, rec.onEvent, nil)
	require.NoError(t, err)

	accepted := &domain.HelpOffer{ID: 3, Status: domain.OfferStatusAccepted}
	completed := &domain.HelpOffer{ID: 3, Status: domain.OfferStatusCompleted}
	ctx := context.Background()
	b.Publish(ctx, transition(7, domain.TransitionOfferCompleted, completed))
	b.Publish(ctx, transition(5, domain.TransitionOfferAccepted, accepted))

	assert.Equal(t, domain.TransitionOfferCompleted, rec.next(t).Transition)
	late := rec.next(t)
	assert.Equal(t, domain.TransitionOfferAccepted, late.Transition)
	assert.Equal(t, int64(5), late.Seq)
	rec.none(t)
}

func TestBroker_LateEventDoesNotRegressCache(t *testing.T) {
	b := NewBroker()
	defer b.Close()
	cache := NewCache()
	applied := make(chan struct{}, 4)
	_, err := b.Subscribe(domain.TableRequests, nil, func(e domain.ChangeEvent) {
		cache.Apply(e)
		applied <- struct{}{}
	}, nil)
	require.NoError(t, err)

	b.Inject(upsert(7, request(10, 1, domain.RequestStatusCompleted), nil))
	b.Inject(upsert(5, request(10, 1, domain.RequestStatusMatched), nil))
	for i := 0; i < 2; i++ {
		select {
		case <-applied:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for event")
		}
	}

	got, ok := cache.Get(10)
	require.True(t, ok)
	assert.Equal(t, domain.RequestStatusCompleted, got.(*domain.HelpRequest).Status)
	assert.Equal(t, int64(7), cache.Seq(10))
}

func TestBroker_KeepsNoPerEntityWatermark(t *testing.T) {
	b := NewBroker()
	defer b.Close()
	var delivered atomic.Int32
	h, err := b.Subscribe(domain.TableRequests, nil, func(domain.ChangeEvent) { delivered.Add(1) }, nil)
	require.NoError(t, err)

	const n = 10000
	for id := int64(1); id <= n; id++ {
		b.Inject(upsert(id+n, request(id, 1, domain.RequestStatusPending), nil))
	}
	// a redelivery with an old sequence still reaches the subscriber
	b.Inject(upsert(1, request(1, 1, domain.RequestStatusPending), nil))

	assert.Eventually(t, func() bool { return delivered.Load() == n+1 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(2*n), h.Cursor())
}

func TestBroker_RecordLeavingViewBecomesDelete(t *testing.T) {
	b := NewBroker()
	defer b.Close()
	rec := newRecorder()
	_, err := b.Subscribe(domain.TableRequests, openRequests, rec.onEvent, nil)
	require.NoError(t, err)

	prev := request(10, 1, domain.RequestStatusMatched)
	b.Inject(upsert(7, request(10, 1, domain.RequestStatusCompleted), prev))

	e := rec.next(t)
	assert.Equal(t, domain.EventDelete, e.Type)
	assert.Equal(t, int64(10), e.EntityID)
}

func TestBroker_UnsubscribeIsIdempotentAndStopsDelivery(t *testing.T) {
	b := NewBroker()
	defer b.Close()
	rec := newRecorder()
	h, err := b.Subscribe(domain.TableOffers, nil, rec.onEvent, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, b.Subscribers(domain.TableOffers))

	h.Unsubscribe()
	h.Unsubscribe()
	assert.Equal(t, 0, b.Subscribers(domain.TableOffers))

	b.Inject(upsert(1, &domain.HelpOffer{ID: 3}, nil))
	rec.none(t)
	select {
	case <-h.Done():
	default:
		t.Fatal("handle not marked done")
	}
}

func TestBroker_OverflowClosesHandle(t *testing.T) {
	b := NewBroker(WithMailboxLimit(1))
	defer b.Close()
	release := make(chan struct{})
	errs := make(chan error, 1)

	h, err := b.Subscribe(domain.TableRequests, nil,
		func(domain.ChangeEvent) { <-release },
		func(err error) { errs <- err })
	require.NoError(t, err)

	for seq := int64(1); seq <= 3; seq++ {
		b.Inject(upsert(seq, request(seq, 1, domain.RequestStatusPending), nil))
	}
	close(release)

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, ErrSubscriberOverflow)
	case <-time.After(2 * time.Second):
		t.Fatal("overflow not reported")
	}
	<-h.Done()
	assert.Equal(t, 0, b.Subscribers(domain.TableRequests))
}

func TestBroker_PublishExportsInjectDoesNot(t *testing.T) {
	b := NewBroker()
	defer b.Close()
	var exported atomic.Int32
	b.AddSink(sinkFunc(func(ctx context.Context, events []domain.ChangeEvent) error {
		exported.Add(int32(len(events)))
		return nil
	}))

	b.Publish(context.Background(), upsert(1, request(1, 1, domain.RequestStatusPending), nil))
	b.Inject(upsert(2, request(2, 1, domain.RequestStatusPending), nil))
	assert.Equal(t, int32(1), exported.Load())
}

func TestBroker_SubscribeValidation(t *testing.T) {
	b := NewBroker()
	_, err := b.Subscribe("nope", nil, func(domain.ChangeEvent) {}, nil)
	assert.ErrorIs(t, err, domain.ErrValidation)

	b.Close()
	_, err = b.Subscribe(domain.TableRequests, nil, func(domain.ChangeEvent) {}, nil)
	assert.ErrorIs(t, err, ErrBrokerClosed)
}
