package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"helpboard-backend/internal/domain"
	"helpboard-backend/internal/logger"
	"helpboard-backend/internal/repository"
)

var tracer = otel.Tracer("helpboard/service")

// Publisher receives committed change events. *feed.Broker satisfies it.
type Publisher interface {
	Publish(ctx context.Context, events ...domain.ChangeEvent)
}

// commitSequencer is implemented by publishers that can order concurrent
// writers. The lock is held from just before commit until Publish returns,
// so events reach the publisher in commit order.
type commitSequencer interface {
	CommitLock() sync.Locker
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, ...domain.ChangeEvent) {}

type idempotencyKeyCtx struct{}

// WithIdempotencyKey attaches a caller-supplied idempotency key to ctx. A
// ledger mutation retried with the same key returns the entity the first
// attempt produced instead of applying twice.
func WithIdempotencyKey(ctx context.Context, key string) context.Context {
	if key == "" {
		return ctx
	}
	return context.WithValue(ctx, idempotencyKeyCtx{}, key)
}

func IdempotencyKeyFrom(ctx context.Context) string {
	key, _ := ctx.Value(idempotencyKeyCtx{}).(string)
	return key
}

// ledgerCore is shared by the three ledgers: it owns the transaction, change
// log append and post-commit publish of a mutation.
type ledgerCore struct {
	store     repository.Store
	publisher Publisher
	order     sync.Locker
	clock     func() time.Time
}

func newLedgerCore(store repository.Store, publisher Publisher) *ledgerCore {
	if publisher == nil {
		publisher = nopPublisher{}
	}
	c := &ledgerCore{
		store:     store,
		publisher: publisher,
		clock:     func() time.Time { return time.Now().UTC() },
	}
	if seq, ok := publisher.(commitSequencer); ok {
		c.order = seq.CommitLock()
	}
	return c
}

// mutation is the state of one ledger transaction.
type mutation struct {
	ctx     context.Context
	tx      repository.Repositories
	actorID int64
	now     time.Time
	events  []*domain.ChangeEvent
}

// emit appends a change event for payload to the change log of the running
// transaction. previous must be an untyped nil on create.
func (m *mutation) emit(typ domain.EventType, transition domain.Transition, payload, previous domain.Entity) error {
	e := domain.NewChangeEvent(typ, transition, m.actorID, domain.CloneEntity(payload), domain.CloneEntity(previous))
	if err := m.tx.ChangeLog().Append(m.ctx, e); err != nil {
		return fmt.Errorf("append %s: %w", transition, err)
	}
	m.events = append(m.events, e)
	return nil
}

// mutate runs fn in one transaction and publishes the events it emitted once
// the transaction has committed. With a sequencing publisher the commit and
// the publish happen under its commit lock.
func (c *ledgerCore) mutate(ctx context.Context, actorID int64, fn func(m *mutation) error) error {
	m := &mutation{ctx: ctx, actorID: actorID}
	locked := false
	defer func() {
		if locked {
			c.order.Unlock()
		}
	}()
	err := c.store.WithTx(ctx, func(tx repository.Repositories) error {
		m.tx = tx
		m.now = c.clock()
		m.events = m.events[:0]
		if err := fn(m); err != nil {
			return err
		}
		if c.order != nil && len(m.events) > 0 {
			c.order.Lock()
			locked = true
		}
		return nil
	})
	if err != nil {
		return err
	}

	published := make([]domain.ChangeEvent, 0, len(m.events))
	for _, e := range m.events {
		logger.Transition(ctx, string(e.Table), e.EntityID, statusOf(e.Previous), statusOf(e.Payload), e.Seq,
			"transition", e.Transition, "actorID", actorID)
		published = append(published, *e)
	}
	c.publisher.Publish(ctx, published...)
	return nil
}

// runMutation is mutate with idempotency-key handling: a key already recorded
// for the actor short-circuits to the entity it produced.
func runMutation[T domain.Entity](ctx context.Context, c *ledgerCore, op string, actorID int64, fn func(m *mutation) (T, error)) (T, error) {
	var zero T
	if prior, ok, err := replay[T](ctx, c, op, actorID); err != nil || ok {
		return prior, err
	}

	var result T
	err := c.mutate(ctx, actorID, func(m *mutation) error {
		r, err := fn(m)
		if err != nil {
			return err
		}
		result = r
		key := IdempotencyKeyFrom(ctx)
		if key == "" {
			return nil
		}
		err = m.tx.Idempotency().Put(ctx, &domain.IdempotencyRecord{
			ActorID:   actorID,
			Key:       key,
			Operation: op,
			Table:     r.EntityTable(),
			EntityID:  r.EntityID(),
			CreatedAt: m.now,
		})
		if errors.Is(err, domain.ErrAlreadyExists) {
			return domain.Conflictf("idempotency key %q is in use by a concurrent call", key)
		}
		return err
	})
	if err != nil {
		return zero, err
	}
	return result, nil
}

// replay looks up the idempotency key in ctx. ok is true when the key was
// already used by this actor for op.
func replay[T domain.Entity](ctx context.Context, c *ledgerCore, op string, actorID int64) (T, bool, error) {
	var zero T
	key := IdempotencyKeyFrom(ctx)
	if key == "" {
		return zero, false, nil
	}
	rec, err := c.store.Idempotency().Get(ctx, actorID, key)
	if errors.Is(err, domain.ErrNotFound) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, err
	}
	if rec.Operation != op {
		return zero, false, domain.Validationf("idempotency key %q was already used for %s", key, rec.Operation)
	}
	e, err := c.load(ctx, rec.Table, rec.EntityID)
	if err != nil {
		return zero, false, err
	}
	t, ok := e.(T)
	if !ok {
		return zero, false, fmt.Errorf("idempotency key %q: unexpected entity %T", key, e)
	}
	logger.Debug("Idempotent replay", "operation", op, "actorID", actorID, "entityID", rec.EntityID)
	return t, true, nil
}

// load reads the current state of one entity.
func (c *ledgerCore) load(ctx context.Context, table domain.Table, id int64) (domain.Entity, error) {
	switch table {
	case domain.TableRequests:
		r, err := c.store.Requests().GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		return r, nil
	case domain.TableOffers:
		o, err := c.store.Offers().GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		return o, nil
	case domain.TableCommunities:
		cm, err := c.store.Communities().GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		return cm, nil
	case domain.TableMemberships:
		m, err := c.store.Memberships().GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		return m, nil
	case domain.TableNotifications:
		n, err := c.store.Notifications().GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		return n, nil
	}
	return nil, domain.Validationf("unknown table %q", table)
}

// bumpCommunity CAS-writes c so concurrent membership mutations on the same
// community serialize on its version.
func (m *mutation) bumpCommunity(c *domain.Community) error {
	expected := c.Version
	c.UpdatedAt = m.now
	return m.tx.Communities().Update(m.ctx, c, expected)
}

func statusOf(e domain.Entity) string {
	switch v := e.(type) {
	case *domain.HelpRequest:
		return string(v.Status)
	case *domain.HelpOffer:
		return string(v.Status)
	case *domain.Community:
		return string(v.Status)
	case *domain.Membership:
		return string(v.Status)
	case *domain.Notification:
		if v.IsRead {
			return "read"
		}
		return "unread"
	}
	return ""
}

func requireActor(actorID int64) error {
	if actorID <= 0 {
		return domain.ErrUnauthorized
	}
	return nil
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(domain.CodeOf(err)))
	}
	span.End()
}

// isMember reports whether userID is an active member of communityID.
func isMember(ctx context.Context, repos repository.Repositories, communityID, userID int64) (bool, error) {
	m, err := repos.Memberships().Get(ctx, communityID, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return m.Status == domain.MembershipStatusActive, nil
}
