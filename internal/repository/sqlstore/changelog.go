package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"helpboard-backend/internal/domain"
	"helpboard-backend/internal/logger"
	"helpboard-backend/internal/repository"
)

// changeLogLockKey serializes change-log appends on postgres so sequence
// numbers become visible in commit order.
const changeLogLockKey = 7_201_001

type changeLogRepository struct {
	q       sqlx.ExtContext
	dialect Dialect
}

type changeRow struct {
	Seq        int64          `db:"seq"`
	Table      string         `db:"entity_table"`
	EntityID   int64          `db:"entity_id"`
	Type       string         `db:"event_type"`
	Transition string         `db:"transition"`
	ActorID    int64          `db:"actor_id"`
	Payload    string         `db:"payload"`
	Previous   sql.NullString `db:"previous"`
	CreatedAt  time.Time      `db:"created_at"`
}

func (r *changeLogRepository) Append(ctx context.Context, e *domain.ChangeEvent) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("encoding change payload: %w", err)
	}
	var previous sql.NullString
	if e.Previous != nil {
		raw, err := json.Marshal(e.Previous)
		if err != nil {
			return fmt.Errorf("encoding previous payload: %w", err)
		}
		previous = sql.NullString{String: string(raw), Valid: true}
	}

	if r.dialect == DialectPostgres {
		if _, err := r.q.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, changeLogLockKey); err != nil {
			return fmt.Errorf("locking change log: %w", err)
		}
	}

	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	query := r.q.Rebind(`INSERT INTO change_log (entity_table, entity_id, event_type, transition, actor_id, payload,
		previous, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?) RETURNING seq`)
	logger.DatabaseCall("INSERT", "change_log", "table", e.Table, "entityID", e.EntityID, "transition", e.Transition)
	err = r.q.QueryRowxContext(ctx, query,
		e.Table, e.EntityID, e.Type, e.Transition, e.ActorID, string(payload), previous, e.CreatedAt,
	).Scan(&e.Seq)
	logger.DatabaseResult("INSERT", 1, err, "seq", e.Seq)
	return translate(err, "change log entry")
}

func (r *changeLogRepository) List(ctx context.Context, q repository.ChangeQuery) ([]domain.ChangeEvent, error) {
	query := `SELECT seq, entity_table, entity_id, event_type, transition, actor_id, payload, previous, created_at
		FROM change_log WHERE seq > ?`
	args := []any{q.AfterSeq}
	if !q.Since.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, q.Since)
	}
	query += ` ORDER BY seq`
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	var rows []changeRow
	if err := sqlx.SelectContext(ctx, r.q, &rows, r.q.Rebind(query), args...); err != nil {
		return nil, translate(err, "change log")
	}
	out := make([]domain.ChangeEvent, 0, len(rows))
	for _, row := range rows {
		e, err := row.event()
		if err != nil {
			return nil, fmt.Errorf("change log seq %d: %w", row.Seq, err)
		}
		out = append(out, e)
	}
	return out, nil
}

func (r *changeLogRepository) MaxSeq(ctx context.Context) (int64, error) {
	var seq int64
	if err := sqlx.GetContext(ctx, r.q, &seq, `SELECT COALESCE(MAX(seq), 0) FROM change_log`); err != nil {
		return 0, translate(err, "change log")
	}
	return seq, nil
}

func (row changeRow) event() (domain.ChangeEvent, error) {
	table := domain.Table(row.Table)
	payload, err := domain.DecodeEntity(table, []byte(row.Payload))
	if err != nil {
		return domain.ChangeEvent{}, err
	}
	var previous domain.Entity
	if row.Previous.Valid {
		if previous, err = domain.DecodeEntity(table, []byte(row.Previous.String)); err != nil {
			return domain.ChangeEvent{}, err
		}
	}
	return domain.ChangeEvent{
		Seq:        row.Seq,
		Table:      table,
		EntityID:   row.EntityID,
		Type:       domain.EventType(row.Type),
		Transition: domain.Transition(row.Transition),
		ActorID:    row.ActorID,
		Payload:    payload,
		Previous:   previous,
		CreatedAt:  row.CreatedAt,
	}, nil
}
