package sqlstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"helpboard-backend/internal/domain"
	"helpboard-backend/internal/repository"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(sqlx.NewDb(db, "postgres"), DialectPostgres), mock
}

func TestRequestRepository_Create(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	t.Run("Success", func(t *testing.T) {
		req := &domain.HelpRequest{
			OwnerID: 7, Scope: domain.ScopeGlobal, Title: "Groceries", Category: "food",
			Urgency: domain.UrgencyHigh, Status: domain.RequestStatusPending, CreatedAt: now, UpdatedAt: now,
		}
		mock.ExpectQuery(`INSERT INTO help_requests`).
			WithArgs(int64(7), sqlmock.AnyArg(), nil, "Groceries", "", "food", sqlmock.AnyArg(), int64(0),
				sqlmock.AnyArg(), int64(0), int64(1), now, now, nil).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(11))

		err := store.Requests().Create(ctx, req)
		assert.NoError(t, err)
		assert.Equal(t, int64(11), req.ID)
		assert.Equal(t, int64(1), req.Version)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepository_GetByID(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()
	cols := []string{"id", "owner_id", "scope", "community_id", "title", "description", "category", "urgency",
		"amount_cents", "status", "supporter_count", "version", "created_at", "updated_at", "completed_at"}

	t.Run("Success", func(t *testing.T) {
		rows := sqlmock.NewRows(cols).
			AddRow(3, 7, "community", 2, "Ride", "", "transport", "low", 0, "matched", 1, 4, time.Now(), time.Now(), nil)
		mock.ExpectQuery(`SELECT (.+) FROM help_requests WHERE id = \$1`).WithArgs(int64(3)).WillReturnRows(rows)

		req, err := store.Requests().GetByID(ctx, 3)
		require.NoError(t, err)
		assert.Equal(t, domain.RequestStatusMatched, req.Status)
		require.NotNil(t, req.CommunityID)
		assert.Equal(t, int64(2), *req.CommunityID)
		assert.Nil(t, req.CompletedAt)
	})

	t.Run("NotFound", func(t *testing.T) {
		mock.ExpectQuery(`SELECT (.+) FROM help_requests WHERE id = \$1`).WithArgs(int64(4)).WillReturnRows(sqlmock.NewRows(cols))

		req, err := store.Requests().GetByID(ctx, 4)
		assert.Nil(t, req)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestRequestRepository_Update(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()
	req := &domain.HelpRequest{ID: 3, Status: domain.RequestStatusMatched, Version: 2}

	t.Run("Success", func(t *testing.T) {
		mock.ExpectExec(`UPDATE help_requests SET`).WillReturnResult(sqlmock.NewResult(0, 1))

		err := store.Requests().Update(ctx, req, 2)
		assert.NoError(t, err)
		assert.Equal(t, int64(3), req.Version)
	})

	t.Run("StaleVersion", func(t *testing.T) {
		mock.ExpectExec(`UPDATE help_requests SET`).WillReturnResult(sqlmock.NewResult(0, 0))

		err := store.Requests().Update(ctx, req, 2)
		assert.ErrorIs(t, err, domain.ErrConflict)
		assert.Equal(t, int64(3), req.Version)
	})
}

func TestOfferRepository_Create_Duplicate(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(`INSERT INTO help_offers`).WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key"})

	err := store.Offers().Create(context.Background(), &domain.HelpOffer{RequestID: 1, HelperID: 2, Status: domain.OfferStatusPending})
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
	assert.Equal(t, domain.CodeAlreadyExists, domain.CodeOf(err))
}

func TestOfferRepository_AddReporter(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	t.Run("NewReporter", func(t *testing.T) {
		mock.ExpectExec(`INSERT INTO offer_reports`).
			WithArgs(int64(5), int64(9), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		added, err := store.Offers().AddReporter(ctx, 5, 9)
		assert.NoError(t, err)
		assert.True(t, added)
	})

	t.Run("SameReporterTwice", func(t *testing.T) {
		mock.ExpectExec(`INSERT INTO offer_reports`).
			WithArgs(int64(5), int64(9), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 0))

		added, err := store.Offers().AddReporter(ctx, 5, 9)
		assert.NoError(t, err)
		assert.False(t, added)
	})
}

func TestNotificationRepository_Create_Deduplicated(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(`INSERT INTO notifications`).WillReturnRows(sqlmock.NewRows([]string{"id"}))

	n := &domain.Notification{RecipientID: 4, Type: domain.NotificationOfferCreated, DedupKey: "4:offer_created:help_offers:1:3"}
	created, err := store.Notifications().Create(context.Background(), n)
	assert.NoError(t, err)
	assert.False(t, created)
	assert.Zero(t, n.ID)
}

func TestNotificationRepository_MarkRead_OtherRecipient(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(`UPDATE notifications SET is_read`).WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Notifications().MarkRead(context.Background(), 1, 99, time.Now())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestChangeLogRepository_Append_LocksOnPostgres(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(`SELECT pg_advisory_xact_lock`).WithArgs(int64(changeLogLockKey)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`INSERT INTO change_log`).
		WithArgs("help_requests", int64(3), "upsert", "request.matched", int64(7), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(42))

	req := &domain.HelpRequest{ID: 3, Status: domain.RequestStatusMatched}
	prev := &domain.HelpRequest{ID: 3, Status: domain.RequestStatusPending}
	e := domain.NewChangeEvent(domain.EventUpsert, domain.TransitionRequestMatched, 7, req, prev)

	require.NoError(t, store.ChangeLog().Append(context.Background(), e))
	assert.Equal(t, int64(42), e.Seq)
	assert.False(t, e.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_WithTx(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	t.Run("Commit", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec(`DELETE FROM idempotency_keys`).WillReturnResult(sqlmock.NewResult(0, 2))
		mock.ExpectCommit()

		err := store.WithTx(ctx, func(tx repository.Repositories) error {
			n, err := tx.Idempotency().PurgeBefore(ctx, time.Now())
			assert.Equal(t, int64(2), n)
			return err
		})
		assert.NoError(t, err)
	})

	t.Run("RollbackOnError", func(t *testing.T) {
		boom := errors.New("boom")
		mock.ExpectBegin()
		mock.ExpectRollback()

		err := store.WithTx(ctx, func(tx repository.Repositories) error { return boom })
		assert.ErrorIs(t, err, boom)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_ReadSnapshot(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT COALESCE\(MAX\(seq\), 0\) FROM change_log`).
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(17))
	mock.ExpectCommit()

	called := false
	seq, err := store.ReadSnapshot(context.Background(), func(r repository.Repositories) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, int64(17), seq)
	assert.NoError(t, mock.ExpectationsWereMet())
}
