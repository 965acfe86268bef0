package feed

import (
	"context"
	"sync"

	"helpboard-backend/internal/domain"
)

// SnapshotFunc loads the full current record set of a view together with the
// change-log sequence the load reflects.
type SnapshotFunc func(ctx context.Context) ([]domain.Entity, int64, error)

// LiveView keeps a Cache in sync with the ledger: it subscribes first,
// buffers stream events while the snapshot loads, discards buffered events
// the snapshot already covers, then applies everything newer.
type LiveView struct {
	cache    *Cache
	handle   *Handle
	onChange func(domain.ChangeEvent)

	mu          sync.Mutex
	ready       bool
	snapshotSeq int64
	pending     []domain.ChangeEvent
}

// OpenLiveView starts a session over table. onChange, when set, is called for
// every stream event applied after the snapshot; onError receives broker
// failures such as ErrSubscriberOverflow, after which the view must be
// reopened.
func OpenLiveView(ctx context.Context, b *Broker, table domain.Table, filter Filter, snapshot SnapshotFunc,
	onChange func(domain.ChangeEvent), onError func(error)) (*LiveView, error) {
	v := &LiveView{cache: NewCache(), onChange: onChange}

	h, err := b.Subscribe(table, filter, v.receive, onError)
	if err != nil {
		return nil, err
	}
	v.handle = h

	records, seq, err := snapshot(ctx)
	if err != nil {
		h.Unsubscribe()
		return nil, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.cache.Load(records, seq)
	v.snapshotSeq = seq
	for _, e := range v.pending {
		if e.Seq > seq {
			v.cache.Apply(e)
		}
	}
	v.pending = nil
	v.ready = true
	return v, nil
}

// receive runs on the handle goroutine, so onChange calls stay ordered even
// though they happen outside the lock.
func (v *LiveView) receive(e domain.ChangeEvent) {
	v.mu.Lock()
	if !v.ready {
		v.pending = append(v.pending, e)
		v.mu.Unlock()
		return
	}
	applied := e.Seq > v.snapshotSeq && v.cache.Apply(e)
	v.mu.Unlock()

	if applied && v.onChange != nil {
		v.onChange(e)
	}
}

func (v *LiveView) Cache() *Cache           { return v.cache }
func (v *LiveView) Records() []domain.Entity { return v.cache.Records() }
func (v *LiveView) Done() <-chan struct{}    { return v.handle.Done() }

// SnapshotSeq is the sequence of the snapshot the view was seeded from.
func (v *LiveView) SnapshotSeq() int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.snapshotSeq
}

// Close releases the subscription. Safe to call more than once.
func (v *LiveView) Close() {
	v.handle.Unsubscribe()
}
