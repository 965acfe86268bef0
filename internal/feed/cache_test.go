package feed

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"helpboard-backend/internal/domain"
)

func deleteEvent(seq int64, payload domain.Entity) domain.ChangeEvent {
	e := upsert(seq, payload, nil)
	e.Type = domain.EventDelete
	return e
}

func TestCache_LastWriteWinsBySequence(t *testing.T) {
	c := NewCache()
	assert.True(t, c.Apply(upsert(3, request(1, 1, domain.RequestStatusMatched), nil)))
	assert.False(t, c.Apply(upsert(2, request(1, 1, domain.RequestStatusPending), nil)))

	got, ok := c.Get(1)
	assert.True(t, ok)
	assert.Equal(t, domain.RequestStatusMatched, got.(*domain.HelpRequest).Status)
	assert.Equal(t, int64(3), c.Seq(1))
}

func TestCache_ApplyingSameEventTwiceIsIdempotent(t *testing.T) {
	events := []domain.ChangeEvent{
		upsert(1, request(1, 1, domain.RequestStatusPending), nil),
		upsert(2, request(2, 1, domain.RequestStatusPending), nil),
		deleteEvent(3, request(2, 1, domain.RequestStatusPending)),
	}
	once, twice := NewCache(), NewCache()
	for _, e := range events {
		once.Apply(e)
		twice.Apply(e)
		twice.Apply(e)
	}
	assert.Equal(t, once.Records(), twice.Records())
	assert.Equal(t, 1, twice.Len())
}

func TestCache_DeleteTombstoneBlocksStaleUpsert(t *testing.T) {
	c := NewCache()
	c.Apply(upsert(1, request(1, 1, domain.RequestStatusPending), nil))
	assert.True(t, c.Apply(deleteEvent(4, request(1, 1, domain.RequestStatusPending))))
	assert.False(t, c.Apply(upsert(3, request(1, 1, domain.RequestStatusMatched), nil)))
	_, ok := c.Get(1)
	assert.False(t, ok)

	assert.True(t, c.Apply(upsert(5, request(1, 1, domain.RequestStatusMatched), nil)))
}

func TestCache_DeleteOlderThanCachedRecordIsIgnored(t *testing.T) {
	c := NewCache()
	c.Apply(upsert(9, request(2, 1, domain.RequestStatusPending), nil))
	assert.False(t, c.Apply(deleteEvent(8, request(2, 1, domain.RequestStatusPending))))

	c.Apply(upsert(1, request(1, 1, domain.RequestStatusPending), nil))
	assert.True(t, c.Apply(deleteEvent(2, request(1, 1, domain.RequestStatusPending))))
	assert.Equal(t, 1, c.Len())
}

func TestCache_LoadReplacesContents(t *testing.T) {
	c := NewCache()
	c.Apply(upsert(1, request(1, 1, domain.RequestStatusPending), nil))
	c.Load([]domain.Entity{request(5, 1, domain.RequestStatusPending), request(4, 1, domain.RequestStatusMatched)}, 20)

	records := c.Records()
	assert.Len(t, records, 2)
	assert.Equal(t, int64(4), records[0].EntityID())
	assert.Equal(t, int64(20), c.Seq(5))
	assert.False(t, c.Apply(upsert(20, request(5, 1, domain.RequestStatusMatched), nil)))
}
