package feed

import (
	"context"
	"testing"
	"time"

	"helpboard-backend/internal/domain"
)

func request(id int64, owner int64, status domain.RequestStatus) *domain.HelpRequest {
	return &domain.HelpRequest{ID: id, OwnerID: owner, Status: status, Scope: domain.ScopeGlobal}
}

func upsert(seq int64, payload, previous domain.Entity) domain.ChangeEvent {
	e := domain.NewChangeEvent(domain.EventUpsert, "", 0, payload, previous)
	e.Seq = seq
	return *e
}

func transition(seq int64, tr domain.Transition, payload domain.Entity) domain.ChangeEvent {
	e := domain.NewChangeEvent(domain.EventUpsert, tr, 0, payload, nil)
	e.Seq = seq
	return *e
}

func openRequests(e domain.Entity) bool {
	return e.(*domain.HelpRequest).Status != domain.RequestStatusCompleted
}

type recorder struct {
	events chan domain.ChangeEvent
}

func newRecorder() *recorder { return &recorder{events: make(chan domain.ChangeEvent, 64)} }

func (r *recorder) onEvent(e domain.ChangeEvent) { r.events <- e }

func (r *recorder) next(t *testing.T) domain.ChangeEvent {
	t.Helper()
	select {
	case e := <-r.events:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return domain.ChangeEvent{}
	}
}

func (r *recorder) none(t *testing.T) {
	t.Helper()
	select {
	case e := <-r.events:
		t.Fatalf("unexpected event seq=%d", e.Seq)
	case <-time.After(50 * time.Millisecond):
	}
}

func onlyHandle(b *Broker, table domain.Table) *Handle {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, h := range b.subs[table] {
		return h
	}
	return nil
}

type sinkFunc func(ctx context.Context, events []domain.ChangeEvent) error

func (f sinkFunc) Export(ctx context.Context, events []domain.ChangeEvent) error { return f(ctx, events) }
