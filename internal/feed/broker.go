// Package feed is the change-feed: an in-process broker that fans ledger
// change events out to filtered subscribers, and the client-side cache and
// live view that reconcile those events into a consistent local state.
package feed

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"helpboard-backend/internal/domain"
	"helpboard-backend/internal/logger"
)

var (
	ErrBrokerClosed        = errors.New("feed: broker closed")
	ErrSubscriberOverflow  = errors.New("feed: subscriber fell behind and was dropped")
	errMissingEventHandler = errors.New("feed: onEvent callback required")
)

// Filter is a predicate over entity fields. It runs on the publishing
// goroutine and must not block.
type Filter func(domain.Entity) bool

// MatchAll accepts every record of the subscribed table.
func MatchAll(domain.Entity) bool { return true }

// Sink receives locally published events for export to other processes.
type Sink interface {
	Export(ctx context.Context, events []domain.ChangeEvent) error
}

// Broker delivers every published event to each matching subscriber in
// publish order. It never drops an event for being older than one already
// seen: subscribers reconcile by sequence (see Cache) or deduplicate by key.
type Broker struct {
	mu     sync.Mutex
	subs   map[domain.Table]map[uuid.UUID]*Handle
	sinks  []Sink
	limit  int
	closed bool
	log    *slog.Logger

	commitMu sync.Mutex
}

type Option func(*Broker)

// WithMailboxLimit bounds each subscriber's pending queue. Zero means unbounded.
func WithMailboxLimit(n int) Option {
	return func(b *Broker) { b.limit = n }
}

func NewBroker(opts ...Option) *Broker {
	b := &Broker{
		subs: make(map[domain.Table]map[uuid.UUID]*Handle),
		log:  logger.WithComponent("FeedBroker"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// AddSink registers a sink for events passed to Publish.
func (b *Broker) AddSink(s Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, s)
}

// Subscribe registers filter on table. onEvent is called from the handle's
// own goroutine, one event at a time, in publish order. onError
// may be nil.
func (b *Broker) Subscribe(table domain.Table, filter Filter, onEvent func(domain.ChangeEvent), onError func(error)) (*Handle, error) {
	if !table.Valid() {
		return nil, domain.Validationf("unknown table %q", table)
	}
	if onEvent == nil {
		return nil, errMissingEventHandler
	}
	if filter == nil {
		filter = MatchAll
	}
	h := newHandle(b, table, filter, onEvent, onError)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrBrokerClosed
	}
	set, ok := b.subs[table]
	if !ok {
		set = make(map[uuid.UUID]*Handle)
		b.subs[table] = set
	}
	set[h.id] = h
	b.mu.Unlock()

	go h.run()
	b.log.Debug("Feed subscriber added", "handleID", h.id, "table", table)
	return h, nil
}

// Publish dispatches committed local events and exports them to every sink.
func (b *Broker) Publish(ctx context.Context, events ...domain.ChangeEvent) {
	if len(events) == 0 {
		return
	}
	b.dispatch(events)

	b.mu.Lock()
	sinks := append([]Sink(nil), b.sinks...)
	b.mu.Unlock()
	for _, s := range sinks {
		if err := s.Export(ctx, events); err != nil {
			b.log.Warn("Feed sink export failed", "error", err, "events", len(events))
		}
	}
}

// Inject dispatches events that originated in another process.
func (b *Broker) Inject(events ...domain.ChangeEvent) {
	b.dispatch(events)
}

// CommitLock orders writers. A writer that takes it before its transaction
// commits and releases it after Publish returns gets its events delivered in
// commit order relative to every other writer doing the same.
func (b *Broker) CommitLock() sync.Locker { return &b.commitMu }

// Subscribers reports the number of live handles on table.
func (b *Broker) Subscribers(table domain.Table) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[table])
}

// Close releases every handle; later subscriptions fail with ErrBrokerClosed.
func (b *Broker) Close() {
	b.mu.Lock()
	b.closed = true
	var handles []*Handle
	for _, set := range b.subs {
		for _, h := range set {
			handles = append(handles, h)
		}
	}
	b.mu.Unlock()
	for _, h := range handles {
		h.Unsubscribe()
	}
}

func (b *Broker) dispatch(events []domain.ChangeEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range events {
		if e.Payload == nil {
			continue
		}
		for id, h := range b.subs[e.Table] {
			out, ok := project(e, h.filter)
			if !ok {
				continue
			}
			if !h.enqueue(out) {
				delete(b.subs[e.Table], id)
				b.log.Warn("Feed subscriber overflowed", "handleID", id, "table", e.Table)
			}
		}
	}
}

// project decides what a subscriber with filter sees of e. A record that
// matched before the change but no longer matches is delivered as a delete.
func project(e domain.ChangeEvent, filter Filter) (domain.ChangeEvent, bool) {
	matchedBefore := e.Previous != nil && filter(e.Previous)
	if e.Type == domain.EventDelete {
		return e, matchedBefore || filter(e.Payload)
	}
	if filter(e.Payload) {
		return e, true
	}
	if matchedBefore {
		e.Type = domain.EventDelete
		return e, true
	}
	return e, false
}

func (b *Broker) remove(h *Handle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if set, ok := b.subs[h.table]; ok {
		delete(set, h.id)
		if len(set) == 0 {
			delete(b.subs, h.table)
		}
	}
}
