package feed

import (
	"sort"
	"sync"

	"helpboard-backend/internal/domain"
)

type cacheEntry struct {
	record domain.Entity
	seq    int64
}

// Cache is a keyed local view of one table, patched by change events.
// Upserts win by sequence, never by arrival order, and applying the same
// event twice leaves the cache unchanged.
type Cache struct {
	mu         sync.RWMutex
	records    map[int64]cacheEntry
	tombstones map[int64]int64
}

func NewCache() *Cache {
	return &Cache{
		records:    make(map[int64]cacheEntry),
		tombstones: make(map[int64]int64),
	}
}

// Load replaces the cache contents with a snapshot taken at seq.
func (c *Cache) Load(records []domain.Entity, seq int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = make(map[int64]cacheEntry, len(records))
	c.tombstones = make(map[int64]int64)
	for _, r := range records {
		c.records[r.EntityID()] = cacheEntry{record: r, seq: seq}
	}
}

// Apply merges e and reports whether the cache changed.
func (c *Cache) Apply(e domain.ChangeEvent) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	current, exists := c.records[e.EntityID]
	floor := c.tombstones[e.EntityID]
	if exists && current.seq > floor {
		floor = current.seq
	}
	if e.Seq <= floor {
		return false
	}

	switch e.Type {
	case domain.EventUpsert:
		c.records[e.EntityID] = cacheEntry{record: e.Payload, seq: e.Seq}
		return true
	case domain.EventDelete:
		c.tombstones[e.EntityID] = e.Seq
		if exists {
			delete(c.records, e.EntityID)
			return true
		}
		return false
	}
	return false
}

func (c *Cache) Get(id int64) (domain.Entity, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.records[id]
	return entry.record, ok
}

// Seq returns the sequence recorded for id, zero when absent.
func (c *Cache) Seq(id int64) int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.records[id].seq
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}

// Records returns the cached records ordered by entity id.
func (c *Cache) Records() []domain.Entity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.Entity, 0, len(c.records))
	for _, entry := range c.records {
		out = append(out, entry.record)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID() < out[j].EntityID() })
	return out
}
