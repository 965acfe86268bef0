package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"helpboard-backend/internal/config"
	"helpboard-backend/internal/domain"
	"helpboard-backend/internal/repository/sqlstore"
)

type mockEngine struct {
	mock.Mock
}

func (m *mockEngine) RetryDeliveries(ctx context.Context, limit int) (int, error) {
	args := m.Called(ctx, limit)
	return args.Int(0), args.Error(1)
}

func (m *mockEngine) Reconcile(ctx context.Context, since time.Time, batch int) (int, error) {
	args := m.Called(ctx, since, batch)
	return args.Int(0), args.Error(1)
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newRunner(t *testing.T, engine NotificationEngine) (*JobRunner, *sqlstore.Store) {
	t.Helper()
	store, err := sqlstore.OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg := &config.Config{
		Ledger:    config.LedgerConfig{IdempotencyTTLHours: 24},
		Scheduler: config.SchedulerConfig{ReconcileWindowHours: 2, ReadNotificationMaxDays: 30},
	}
	jr := NewJobRunner(store, engine, cfg)
	jr.now = func() time.Time { return fixedNow }
	return jr, store
}

func TestRetryNotificationDelivery(t *testing.T) {
	engine := &mockEngine{}
	engine.On("RetryDeliveries", mock.Anything, retryBatchSize).Return(3, nil).Once()
	jr, _ := newRunner(t, engine)

	assert.NoError(t, jr.retryNotificationDelivery())
	engine.AssertExpectations(t)
}

func TestReconcileNotifications_UsesWindow(t *testing.T) {
	engine := &mockEngine{}
	engine.On("Reconcile", mock.Anything, fixedNow.Add(-2*time.Hour), reconcileBatchSize).Return(0, nil).Once()
	jr, _ := newRunner(t, engine)

	assert.NoError(t, jr.reconcileNotifications())
	engine.AssertExpectations(t)
}

func TestReconcileNotifications_Error(t *testing.T) {
	engine := &mockEngine{}
	engine.On("Reconcile", mock.Anything, mock.Anything, mock.Anything).Return(0, errors.New("db down"))
	jr, _ := newRunner(t, engine)

	assert.EqualError(t, jr.reconcileNotifications(), "db down")
}

func TestRunWithRecovery_Panic(t *testing.T) {
	jr, _ := newRunner(t, &mockEngine{})
	err := jr.runWithRecovery("Boom", func(context.Context) error { panic("nil map") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
}

func TestPurgeIdempotencyKeys(t *testing.T) {
	jr, store := newRunner(t, &mockEngine{})
	ctx := context.Background()
	for i, age := range []time.Duration{48 * time.Hour, time.Hour} {
		require.NoError(t, store.Idempotency().Put(ctx, &domain.IdempotencyRecord{
			ActorID:   1,
			Key:       []string{"old", "fresh"}[i],
			Operation: "offer.create",
			Table:     domain.TableOffers,
			EntityID:  int64(i + 1),
			CreatedAt: fixedNow.Add(-age),
		}))
	}

	require.NoError(t, jr.purgeIdempotencyKeys())

	_, err := store.Idempotency().Get(ctx, 1, "old")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	fresh, err := store.Idempotency().Get(ctx, 1, "fresh")
	require.NoError(t, err)
	assert.Equal(t, int64(2), fresh.EntityID)
}

func TestPurgeReadNotifications(t *testing.T) {
	jr, store := newRunner(t, &mockEngine{})
	ctx := context.Background()

	old := &domain.Notification{
		RecipientID: 1, Type: domain.NotificationOfferCreated, Title: "t", Message: "m",
		DedupKey: "old", DeliveryStatus: domain.DeliveryStatusDelivered, CreatedAt: fixedNow.AddDate(0, 0, -60),
	}
	unread := &domain.Notification{
		RecipientID: 1, Type: domain.NotificationOfferCreated, Title: "t", Message: "m",
		DedupKey: "unread", DeliveryStatus: domain.DeliveryStatusDelivered, CreatedAt: fixedNow.AddDate(0, 0, -60),
	}
	for _, n := range []*domain.Notification{old, unread} {
		created, err := store.Notifications().Create(ctx, n)
		require.NoError(t, err)
		require.True(t, created)
	}
	require.NoError(t, store.Notifications().MarkRead(ctx, old.ID, 1, fixedNow.AddDate(0, 0, -45)))

	require.NoError(t, jr.purgeReadNotifications())

	_, err := store.Notifications().GetByID(ctx, old.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = store.Notifications().GetByID(ctx, unread.ID)
	assert.NoError(t, err)
}

func TestRunOnce(t *testing.T) {
	engine := &mockEngine{}
	engine.On("RetryDeliveries", mock.Anything, mock.Anything).Return(0, nil)
	engine.On("Reconcile", mock.Anything, mock.Anything, mock.Anything).Return(0, nil)
	jr, _ := newRunner(t, engine)

	assert.Error(t, jr.RunOnce("mark-overdue-rentals"))
	assert.NoError(t, jr.RunOnce("retry-notification-delivery"))
	assert.NoError(t, jr.RunOnce("all"))
	engine.AssertNumberOfCalls(t, "RetryDeliveries", 2)
	engine.AssertNumberOfCalls(t, "Reconcile", 1)
	assert.Equal(t, []string{
		"purge-idempotency-keys", "purge-read-notifications", "reconcile-notifications", "retry-notification-delivery",
	}, jr.JobNames())
}
