package sqlstore

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"helpboard-backend/internal/domain"
)

type idempotencyRepository struct {
	q sqlx.ExtContext
}

func (r *idempotencyRepository) Get(ctx context.Context, actorID int64, key string) (*domain.IdempotencyRecord, error) {
	var rec domain.IdempotencyRecord
	query := r.q.Rebind(`SELECT actor_id, idem_key, operation, entity_table, entity_id, created_at
		FROM idempotency_keys WHERE actor_id = ? AND idem_key = ?`)
	if err := sqlx.GetContext(ctx, r.q, &rec, query, actorID, key); err != nil {
		return nil, translate(err, "idempotency key")
	}
	return &rec, nil
}

func (r *idempotencyRepository) Put(ctx context.Context, rec *domain.IdempotencyRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	query := r.q.Rebind(`INSERT INTO idempotency_keys (actor_id, idem_key, operation, entity_table, entity_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	_, err := r.q.ExecContext(ctx, query, rec.ActorID, rec.Key, rec.Operation, rec.Table, rec.EntityID, rec.CreatedAt)
	return translate(err, "idempotency key")
}

func (r *idempotencyRepository) PurgeBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.q.ExecContext(ctx, r.q.Rebind(`DELETE FROM idempotency_keys WHERE created_at < ?`), before)
	if err != nil {
		return 0, translate(err, "idempotency keys")
	}
	return res.RowsAffected()
}
