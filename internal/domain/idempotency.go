package domain

import "time"

// IdempotencyRecord remembers the entity produced by a keyed mutation so a
// retried call with the same key returns the original result.
type IdempotencyRecord struct {
	ActorID   int64     `db:"actor_id"`
	Key       string    `db:"idem_key"`
	Operation string    `db:"operation"`
	Table     Table     `db:"entity_table"`
	EntityID  int64     `db:"entity_id"`
	CreatedAt time.Time `db:"created_at"`
}
