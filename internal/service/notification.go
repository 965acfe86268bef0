package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"helpboard-backend/internal/delivery"
	"helpboard-backend/internal/domain"
	"helpboard-backend/internal/feed"
	"helpboard-backend/internal/logger"
	"helpboard-backend/internal/repository"
)

const (
	defaultMaxDeliveryAttempts = 5
	defaultRetryAfter          = time.Minute
	deliveryTimeout            = 30 * time.Second
	retryConcurrency           = 4
)

// sourceTables are the ledger tables the engine listens to.
var sourceTables = []domain.Table{
	domain.TableRequests,
	domain.TableOffers,
	domain.TableCommunities,
	domain.TableMemberships,
}

// notifiable lists the transitions that fan out to recipients.
var notifiable = map[domain.Transition]bool{
	domain.TransitionOfferCreated:        true,
	domain.TransitionOfferAccepted:       true,
	domain.TransitionOfferDeclined:       true,
	domain.TransitionOfferFlagged:        true,
	domain.TransitionRequestCompleted:    true,
	domain.TransitionMembershipRequested: true,
	domain.TransitionMembershipApproved:  true,
	domain.TransitionCommunityReviewed:   true,
}

type NotificationEngineConfig struct {
	MaxAttempts int
	// RetryAfter keeps the retry job away from notifications whose first
	// delivery may still be in flight.
	RetryAfter time.Duration
}

// NotificationEngine derives notifications from ledger transitions. Every
// notification carries a dedup key built from the transition's sequence, so
// replaying an event creates nothing new.
type NotificationEngine struct {
	core      *ledgerCore
	deliverer delivery.Deliverer
	cfg       NotificationEngineConfig
	log       *slog.Logger

	mu       sync.Mutex
	handles  []*feed.Handle
	inflight sync.WaitGroup
}

func NewNotificationEngine(store repository.Store, publisher Publisher, deliverer delivery.Deliverer, cfg NotificationEngineConfig) *NotificationEngine {
	if deliverer == nil {
		deliverer = delivery.Log{}
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxDeliveryAttempts
	}
	if cfg.RetryAfter <= 0 {
		cfg.RetryAfter = defaultRetryAfter
	}
	return &NotificationEngine{
		core:      newLedgerCore(store, publisher),
		deliverer: deliverer,
		cfg:       cfg,
		log:       logger.WithComponent("notification-engine"),
	}
}

// Start subscribes the engine to every ledger table of b.
func (e *NotificationEngine) Start(b *feed.Broker) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, table := range sourceTables {
		h, err := b.Subscribe(table, feed.MatchAll, e.onEvent, e.onError)
		if err != nil {
			for _, prev := range e.handles {
				prev.Unsubscribe()
			}
			e.handles = nil
			return fmt.Errorf("subscribe %s: %w", table, err)
		}
		e.handles = append(e.handles, h)
	}
	e.log.Info("Notification engine started", "tables", len(sourceTables))
	return nil
}

// Stop releases the subscriptions and waits for in-flight deliveries.
func (e *NotificationEngine) Stop() {
	e.mu.Lock()
	for _, h := range e.handles {
		h.Unsubscribe()
	}
	e.handles = nil
	e.mu.Unlock()
	e.inflight.Wait()
}

// Wait blocks until every delivery started so far has finished.
func (e *NotificationEngine) Wait() { e.inflight.Wait() }

func (e *NotificationEngine) onEvent(ev domain.ChangeEvent) {
	if _, err := e.HandleEvent(context.Background(), ev); err != nil {
		e.log.Error("Failed to fan out transition", "seq", ev.Seq, "transition", ev.Transition, "error", err)
	}
}

func (e *NotificationEngine) onError(err error) {
	e.log.Error("Notification engine subscription failed", "error", err)
}

// HandleEvent creates the notifications ev calls for and starts their
// delivery. It returns how many were newly created.
func (e *NotificationEngine) HandleEvent(ctx context.Context, ev domain.ChangeEvent) (int, error) {
	planned, err := e.plan(ctx, ev)
	if err != nil || len(planned) == 0 {
		return 0, err
	}

	var created []*domain.Notification
	err = e.core.mutate(ctx, ev.ActorID, func(m *mutation) error {
		created = created[:0]
		for _, n := range planned {
			n.CreatedAt = m.now
			ok, err := m.tx.Notifications().Create(ctx, n)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			if err := m.emit(domain.EventUpsert, domain.TransitionNotificationCreated, n, nil); err != nil {
				return err
			}
			created = append(created, n)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	for _, n := range created {
		e.inflight.Add(1)
		go func(n *domain.Notification) {
			defer e.inflight.Done()
			dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deliveryTimeout)
			defer cancel()
			if err := e.deliver(dctx, n); err != nil {
				e.log.Warn("Notification delivery failed, will retry", "notificationID", n.ID, "error", err)
			}
		}(n)
	}
	if len(created) > 0 {
		e.log.Debug("Notifications created", "seq", ev.Seq, "transition", ev.Transition, "count", len(created))
	}
	return len(created), nil
}

// plan maps one transition to its notifications.
func (e *NotificationEngine) plan(ctx context.Context, ev domain.ChangeEvent) ([]*domain.Notification, error) {
	if !notifiable[ev.Transition] || ev.Type != domain.EventUpsert {
		return nil, nil
	}
	store := e.core.store
	b := planner{ev: ev}

	switch p := ev.Payload.(type) {
	case *domain.HelpOffer:
		req, err := store.Requests().GetByID(ctx, p.RequestID)
		if err != nil {
			return nil, err
		}
		switch ev.Transition {
		case domain.TransitionOfferCreated:
			name, err := e.actorName(ctx, ev.ActorID)
			if err != nil {
				return nil, err
			}
			b.add(p.RequesterID, domain.NotificationOfferCreated, name, "New offer of help",
				fmt.Sprintf("%s offered to help with %q", orSomeone(name), req.Title), req.ID, p.ID, nil)
		case domain.TransitionOfferAccepted:
			owner, err := e.profile(ctx, req.OwnerID)
			if err != nil {
				return nil, err
			}
			n := b.add(p.HelperID, domain.NotificationOfferAccepted, owner.DisplayName, "Your offer was accepted",
				fmt.Sprintf("%s accepted your offer on %q", orSomeone(owner.DisplayName), req.Title), req.ID, p.ID, nil)
			n.Attributes = domain.Attributes{
				"requester_name":  owner.DisplayName,
				"requester_email": owner.Email,
				"requester_phone": owner.Phone,
			}
		case domain.TransitionOfferDeclined:
			name, err := e.actorName(ctx, ev.ActorID)
			if err != nil {
				return nil, err
			}
			b.add(p.HelperID, domain.NotificationOfferDeclined, name, "Your offer was declined",
				fmt.Sprintf("Your offer on %q was declined", req.Title), req.ID, p.ID, nil)
		case domain.TransitionOfferFlagged:
			b.anonymous = true
			b.add(p.HelperID, domain.NotificationOfferFraud, "", "Your offer was flagged",
				fmt.Sprintf("Your offer on %q was reported by %d users and is under review", req.Title, p.ReportCount),
				req.ID, p.ID, nil)
			mods, err := store.Profiles().ListModerators(ctx)
			if err != nil {
				return nil, err
			}
			for _, mod := range mods {
				b.add(mod.ID, domain.NotificationOfferFraudReview, "", "Offer flagged as fraud",
					fmt.Sprintf("Offer %d on %q reached %d reports", p.ID, req.Title, p.ReportCount), req.ID, p.ID, nil)
			}
		}

	case *domain.HelpRequest:
		if ev.Transition != domain.TransitionRequestCompleted {
			return nil, nil
		}
		offers, err := store.Offers().ListByRequest(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		name, err := e.actorName(ctx, ev.ActorID)
		if err != nil {
			return nil, err
		}
		for _, o := range offers {
			if !o.Status.Contributed() {
				continue
			}
			b.add(o.HelperID, domain.NotificationRequestCompleted, name, "Request completed",
				fmt.Sprintf("%q was marked completed. Thank you for helping!", p.Title), p.ID, o.ID, nil)
		}

	case *domain.Membership:
		c, err := store.Communities().GetByID(ctx, p.CommunityID)
		if err != nil {
			return nil, err
		}
		switch ev.Transition {
		case domain.TransitionMembershipRequested:
			name, err := e.actorName(ctx, ev.ActorID)
			if err != nil {
				return nil, err
			}
			members, err := store.Memberships().ListByCommunity(ctx, c.ID)
			if err != nil {
				return nil, err
			}
			for _, mem := range members {
				if !mem.IsActiveAdmin() {
					continue
				}
				b.add(mem.UserID, domain.NotificationMembershipRequested, name, "New membership request",
					fmt.Sprintf("%s asked to join %s", orSomeone(name), c.Name), 0, 0, &c.ID)
			}
		case domain.TransitionMembershipApproved:
			name, err := e.actorName(ctx, ev.ActorID)
			if err != nil {
				return nil, err
			}
			b.add(p.UserID, domain.NotificationMembershipApproved, name, "Membership approved",
				fmt.Sprintf("You are now a member of %s", c.Name), 0, 0, &c.ID)
		}

	case *domain.Community:
		if ev.Transition != domain.TransitionCommunityReviewed {
			return nil, nil
		}
		outcome := "approved"
		if p.Status == domain.CommunityStatusRejected {
			outcome = "rejected"
		}
		b.add(p.CreatorID, domain.NotificationCommunityReviewed, "", "Community "+outcome,
			fmt.Sprintf("Your community %s was %s", p.Name, outcome), 0, 0, &p.ID)
	}
	return b.out, nil
}

// planner accumulates the notifications of one event, one per recipient and
// type.
type planner struct {
	ev        domain.ChangeEvent
	anonymous bool
	seen      map[string]bool
	out       []*domain.Notification
}

func (b *planner) add(recipientID int64, typ domain.NotificationType, actorName, title, message string,
	requestID, offerID int64, communityID *int64) *domain.Notification {
	key := domain.DedupKey(recipientID, typ, b.ev.Table, b.ev.EntityID, b.ev.Seq)
	n := &domain.Notification{
		RecipientID: recipientID,
		ActorName:   actorName,
		Type:        typ,
		CommunityID: communityID,
		Title:       title,
		Message:     message,
		Attributes:  domain.Attributes{},
		DedupKey:    key,
	}
	if !b.anonymous && b.ev.ActorID > 0 {
		actor := b.ev.ActorID
		n.ActorID = &actor
	}
	if requestID > 0 {
		n.RequestID = &requestID
	}
	if offerID > 0 {
		n.OfferID = &offerID
	}
	if b.seen == nil {
		b.seen = map[string]bool{}
	}
	if !b.seen[key] {
		b.seen[key] = true
		b.out = append(b.out, n)
	}
	return n
}

func (e *NotificationEngine) profile(ctx context.Context, userID int64) (*domain.Profile, error) {
	p, err := e.core.store.Profiles().Get(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return &domain.Profile{ID: userID}, nil
	}
	return p, err
}

func (e *NotificationEngine) actorName(ctx context.Context, userID int64) (string, error) {
	if userID <= 0 {
		return "", nil
	}
	p, err := e.profile(ctx, userID)
	if err != nil {
		return "", err
	}
	return p.DisplayName, nil
}

func orSomeone(name string) string {
	if name == "" {
		return "Someone"
	}
	return name
}

// deliver pushes n out of band and records the attempt. A recipient without
// any delivery address counts as delivered; the inbox still has it.
func (e *NotificationEngine) deliver(ctx context.Context, n *domain.Notification) error {
	recipient, err := e.profile(ctx, n.RecipientID)
	if err != nil {
		return err
	}
	deliverErr := e.deliverer.Deliver(ctx, recipient, n)

	n.DeliveryAttempts++
	n.DeliveryStatus = domain.DeliveryStatusDelivered
	n.LastError = ""
	if deliverErr != nil && !errors.Is(deliverErr, delivery.ErrNoRoute) {
		n.DeliveryStatus = domain.DeliveryStatusFailed
		n.LastError = deliverErr.Error()
	}
	if err := e.core.store.Notifications().UpdateDelivery(ctx, n); err != nil {
		return fmt.Errorf("record delivery of notification %d: %w", n.ID, err)
	}
	if n.DeliveryStatus == domain.DeliveryStatusFailed {
		return deliverErr
	}
	return nil
}

// RetryDeliveries re-delivers up to limit notifications that are still
// pending or failed, and returns how many went out.
func (e *NotificationEngine) RetryDeliveries(ctx context.Context, limit int) (int, error) {
	cutoff := e.core.clock().Add(-e.cfg.RetryAfter)
	pending, err := e.core.store.Notifications().ListUndelivered(ctx, cutoff, e.cfg.MaxAttempts, limit)
	if err != nil {
		return 0, err
	}

	var (
		mu        sync.Mutex
		delivered int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(retryConcurrency)
	for i := range pending {
		n := &pending[i]
		g.Go(func() error {
			dctx, cancel := context.WithTimeout(gctx, deliveryTimeout)
			defer cancel()
			if err := e.deliver(dctx, n); err != nil {
				e.log.Warn("Retry delivery failed", "notificationID", n.ID, "attempts", n.DeliveryAttempts, "error", err)
				return nil
			}
			mu.Lock()
			delivered++
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return delivered, err
	}
	return delivered, nil
}

// Reconcile replays ledger transitions recorded since the given time through
// the engine. Transitions that already produced their notifications are
// no-ops because of the dedup key.
func (e *NotificationEngine) Reconcile(ctx context.Context, since time.Time, batch int) (int, error) {
	if batch <= 0 {
		batch = 500
	}
	var (
		after   int64
		created int
	)
	for {
		events, err := e.core.store.ChangeLog().List(ctx, repository.ChangeQuery{AfterSeq: after, Since: since, Limit: batch})
		if err != nil {
			return created, err
		}
		for _, ev := range events {
			after = ev.Seq
			if ev.Table == domain.TableNotifications {
				continue
			}
			n, err := e.HandleEvent(ctx, ev)
			if err != nil {
				return created, fmt.Errorf("replay seq %d: %w", ev.Seq, err)
			}
			created += n
		}
		if len(events) < batch {
			return created, nil
		}
	}
}
