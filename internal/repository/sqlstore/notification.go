package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"helpboard-backend/internal/domain"
	"helpboard-backend/internal/logger"
)

const notificationColumns = `id, recipient_id, actor_id, actor_name, type, request_id, offer_id, community_id,
	title, message, attributes, is_read, dedup_key, delivery_status, delivery_attempts, last_error, created_at, read_at`

type notificationRepository struct {
	q sqlx.ExtContext
}

// Create inserts n unless its dedup key is already taken, in which case it
// returns false and leaves n.ID zero.
func (r *notificationRepository) Create(ctx context.Context, n *domain.Notification) (bool, error) {
	logger.EnterMethod("notificationRepository.Create", "recipientID", n.RecipientID, "type", n.Type, "dedupKey", n.DedupKey)
	if n.DeliveryStatus == "" {
		n.DeliveryStatus = domain.DeliveryStatusPending
	}
	if n.Attributes == nil {
		n.Attributes = domain.Attributes{}
	}
	query := r.q.Rebind(`INSERT INTO notifications (recipient_id, actor_id, actor_name, type, request_id, offer_id,
		community_id, title, message, attributes, is_read, dedup_key, delivery_status, delivery_attempts, last_error,
		created_at, read_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (dedup_key) DO NOTHING RETURNING id`)
	logger.DatabaseCall("INSERT", "notifications", "recipientID", n.RecipientID)
	err := r.q.QueryRowxContext(ctx, query,
		n.RecipientID, n.ActorID, n.ActorName, n.Type, n.RequestID, n.OfferID, n.CommunityID,
		n.Title, n.Message, n.Attributes, n.IsRead, n.DedupKey, n.DeliveryStatus, n.DeliveryAttempts, n.LastError,
		n.CreatedAt, n.ReadAt,
	).Scan(&n.ID)
	if errors.Is(err, sql.ErrNoRows) {
		logger.ExitMethod("notificationRepository.Create", "duplicate", true)
		return false, nil
	}
	logger.DatabaseResult("INSERT", 1, err, "notificationID", n.ID)
	if err != nil {
		logger.ExitMethodWithError("notificationRepository.Create", err)
		return false, translate(err, "notification")
	}
	logger.ExitMethod("notificationRepository.Create", "notificationID", n.ID)
	return true, nil
}

func (r *notificationRepository) GetByID(ctx context.Context, id int64) (*domain.Notification, error) {
	var n domain.Notification
	query := r.q.Rebind(`SELECT ` + notificationColumns + ` FROM notifications WHERE id = ?`)
	if err := sqlx.GetContext(ctx, r.q, &n, query, id); err != nil {
		return nil, translate(err, "notification")
	}
	return &n, nil
}

func (r *notificationRepository) ListByRecipient(ctx context.Context, recipientID int64, limit, offset int) ([]domain.Notification, int, error) {
	var total int
	if err := sqlx.GetContext(ctx, r.q, &total, r.q.Rebind(`SELECT COUNT(*) FROM notifications WHERE recipient_id = ?`), recipientID); err != nil {
		return nil, 0, translate(err, "notifications")
	}
	var out []domain.Notification
	query := r.q.Rebind(`SELECT ` + notificationColumns + ` FROM notifications WHERE recipient_id = ?
		ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`)
	if err := sqlx.SelectContext(ctx, r.q, &out, query, recipientID, limit, offset); err != nil {
		return nil, 0, translate(err, "notifications")
	}
	return out, total, nil
}

func (r *notificationRepository) CountUnread(ctx context.Context, recipientID int64) (int, error) {
	var n int
	query := r.q.Rebind(`SELECT COUNT(*) FROM notifications WHERE recipient_id = ? AND is_read = ?`)
	if err := sqlx.GetContext(ctx, r.q, &n, query, recipientID, false); err != nil {
		return 0, translate(err, "notifications")
	}
	return n, nil
}

// MarkRead is scoped to the recipient; any other caller sees NotFound.
func (r *notificationRepository) MarkRead(ctx context.Context, id, recipientID int64, at time.Time) error {
	query := r.q.Rebind(`UPDATE notifications SET is_read = ?, read_at = COALESCE(read_at, ?) WHERE id = ? AND recipient_id = ?`)
	res, err := r.q.ExecContext(ctx, query, true, at, id, recipientID)
	if err != nil {
		return translate(err, "notification")
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return domain.NotFoundf("notification %d not found", id)
	}
	return nil
}

func (r *notificationRepository) MarkAllRead(ctx context.Context, recipientID int64, at time.Time) (int64, error) {
	query := r.q.Rebind(`UPDATE notifications SET is_read = ?, read_at = ? WHERE recipient_id = ? AND is_read = ?`)
	res, err := r.q.ExecContext(ctx, query, true, at, recipientID, false)
	if err != nil {
		return 0, translate(err, "notifications")
	}
	return res.RowsAffected()
}

func (r *notificationRepository) Delete(ctx context.Context, id, recipientID int64) error {
	res, err := r.q.ExecContext(ctx, r.q.Rebind(`DELETE FROM notifications WHERE id = ? AND recipient_id = ?`), id, recipientID)
	if err != nil {
		return translate(err, "notification")
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return domain.NotFoundf("notification %d not found", id)
	}
	return nil
}

func (r *notificationRepository) ListUndelivered(ctx context.Context, cutoff time.Time, maxAttempts, limit int) ([]domain.Notification, error) {
	var out []domain.Notification
	query := r.q.Rebind(`SELECT ` + notificationColumns + ` FROM notifications
		WHERE delivery_status <> ? AND delivery_attempts < ? AND created_at < ?
		ORDER BY id LIMIT ?`)
	if err := sqlx.SelectContext(ctx, r.q, &out, query, domain.DeliveryStatusDelivered, maxAttempts, cutoff, limit); err != nil {
		return nil, translate(err, "notifications")
	}
	return out, nil
}

func (r *notificationRepository) UpdateDelivery(ctx context.Context, n *domain.Notification) error {
	query := r.q.Rebind(`UPDATE notifications SET delivery_status = ?, delivery_attempts = ?, last_error = ? WHERE id = ?`)
	logger.DatabaseCall("UPDATE", "notifications", "notificationID", n.ID, "deliveryStatus", n.DeliveryStatus)
	_, err := r.q.ExecContext(ctx, query, n.DeliveryStatus, n.DeliveryAttempts, n.LastError, n.ID)
	return translate(err, "notification")
}

func (r *notificationRepository) PurgeRead(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.q.ExecContext(ctx, r.q.Rebind(`DELETE FROM notifications WHERE is_read = ? AND read_at < ?`), true, before)
	if err != nil {
		return 0, translate(err, "notifications")
	}
	return res.RowsAffected()
}
