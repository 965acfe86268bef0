package service

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"

	"helpboard-backend/internal/domain"
	"helpboard-backend/internal/logger"
	"helpboard-backend/internal/repository"
)

const (
	opCreateRequest     = "request.create"
	opTransitionRequest = "request.transition"
)

type requestLedger struct {
	core *ledgerCore
}

func NewRequestLedger(store repository.Store, publisher Publisher) RequestLedger {
	return &requestLedger{core: newLedgerCore(store, publisher)}
}

func (s *requestLedger) CreateRequest(ctx context.Context, ownerID int64, fields domain.NewHelpRequest) (req *domain.HelpRequest, err error) {
	ctx, span := startSpan(ctx, "RequestLedger.CreateRequest", attribute.Int64("owner.id", ownerID))
	defer func() { endSpan(span, err) }()

	if err := requireActor(ownerID); err != nil {
		return nil, err
	}
	if err := fields.Validate(); err != nil {
		return nil, err
	}

	return runMutation(ctx, s.core, opCreateRequest, ownerID, func(m *mutation) (*domain.HelpRequest, error) {
		if fields.Scope == domain.ScopeCommunity {
			c, err := m.tx.Communities().GetByID(ctx, *fields.CommunityID)
			if err != nil {
				return nil, err
			}
			if c.Status != domain.CommunityStatusApproved {
				return nil, domain.Forbiddenf("community %d is not approved", c.ID)
			}
			ok, err := isMember(ctx, m.tx, c.ID, ownerID)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, domain.Forbiddenf("only active members can post to community %d", c.ID)
			}
		}

		r := &domain.HelpRequest{
			OwnerID:     ownerID,
			Scope:       fields.Scope,
			CommunityID: fields.CommunityID,
			Title:       fields.Title,
			Description: fields.Description,
			Category:    fields.Category,
			Urgency:     fields.Urgency,
			AmountCents: fields.AmountCents,
			Status:      domain.RequestStatusPending,
			CreatedAt:   m.now,
			UpdatedAt:   m.now,
		}
		if err := m.tx.Requests().Create(ctx, r); err != nil {
			return nil, err
		}
		if err := m.emit(domain.EventUpsert, domain.TransitionRequestCreated, r, nil); err != nil {
			return nil, err
		}
		return r, nil
	})
}

// TransitionRequest applies an explicit owner transition. pending->matched is
// not accepted here; it happens when an offer is accepted.
func (s *requestLedger) TransitionRequest(ctx context.Context, requestID int64, target domain.RequestStatus, actorID int64) (req *domain.HelpRequest, err error) {
	ctx, span := startSpan(ctx, "RequestLedger.TransitionRequest",
		attribute.Int64("request.id", requestID), attribute.String("request.target", string(target)))
	defer func() { endSpan(span, err) }()

	if err := requireActor(actorID); err != nil {
		return nil, err
	}
	if !target.Valid() {
		return nil, domain.Validationf("unknown request status %q", target)
	}
	if target == domain.RequestStatusPending || target == domain.RequestStatusMatched {
		return nil, domain.InvalidTransitionf("request cannot be moved to %s explicitly", target)
	}

	return runMutation(ctx, s.core, opTransitionRequest, actorID, func(m *mutation) (*domain.HelpRequest, error) {
		r, err := m.tx.Requests().GetByID(ctx, requestID)
		if err != nil {
			return nil, err
		}
		if r.OwnerID != actorID {
			return nil, domain.Forbiddenf("only the owner can move request %d to %s", r.ID, target)
		}
		if r.Status.Rank() >= target.Rank() {
			return nil, domain.Conflictf("request %d is already %s", r.ID, r.Status)
		}
		if !r.Status.CanTransitionDirectly(target) {
			return nil, domain.InvalidTransitionf("request %d cannot go from %s to %s", r.ID, r.Status, target)
		}

		transition := domain.TransitionRequestInProgress
		if target == domain.RequestStatusCompleted {
			transition = domain.TransitionRequestCompleted
			n, err := m.tx.Offers().CountByRequestAndStatus(ctx, r.ID, domain.OfferStatusAccepted, domain.OfferStatusCompleted)
			if err != nil {
				return nil, err
			}
			if n == 0 {
				return nil, domain.InvalidTransitionf("request %d has no accepted offer", r.ID)
			}
		}

		prev := *r
		r.Status = target
		r.UpdatedAt = m.now
		if target == domain.RequestStatusCompleted {
			at := m.now
			r.CompletedAt = &at
		}
		if err := m.tx.Requests().Update(ctx, r, prev.Version); err != nil {
			return nil, err
		}
		if err := m.emit(domain.EventUpsert, transition, r, &prev); err != nil {
			return nil, err
		}

		if target == domain.RequestStatusCompleted {
			if err := completeAcceptedOffers(m, r.ID); err != nil {
				return nil, err
			}
		}
		return r, nil
	})
}

// completeAcceptedOffers cascades a request completion onto its accepted offers.
func completeAcceptedOffers(m *mutation, requestID int64) error {
	offers, err := m.tx.Offers().ListByRequest(m.ctx, requestID)
	if err != nil {
		return err
	}
	for i := range offers {
		o := &offers[i]
		if o.Status != domain.OfferStatusAccepted {
			continue
		}
		prev := *o
		o.Status = domain.OfferStatusCompleted
		o.UpdatedAt = m.now
		if err := m.tx.Offers().Update(m.ctx, o, prev.Version); err != nil {
			return err
		}
		if err := m.emit(domain.EventUpsert, domain.TransitionOfferCompleted, o, &prev); err != nil {
			return err
		}
	}
	return nil
}

// GetRequest returns a request if viewerID may see it. Completed requests are
// visible to the owner and contributing helpers only; community requests to
// members and helpers with an offer.
func (s *requestLedger) GetRequest(ctx context.Context, viewerID, requestID int64) (*domain.HelpRequest, error) {
	logger.EnterMethod("requestLedger.GetRequest", "viewerID", viewerID, "requestID", requestID)
	r, err := s.visibleRequest(ctx, viewerID, requestID)
	if err != nil {
		logger.ExitMethodWithError("requestLedger.GetRequest", err, "requestID", requestID)
		return nil, err
	}
	logger.ExitMethod("requestLedger.GetRequest", "requestID", requestID, "status", r.Status)
	return r, nil
}

func (s *requestLedger) visibleRequest(ctx context.Context, viewerID, requestID int64) (*domain.HelpRequest, error) {
	if err := requireActor(viewerID); err != nil {
		return nil, err
	}
	store := s.core.store
	r, err := store.Requests().GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if r.OwnerID == viewerID {
		return r, nil
	}

	offer, err := store.Offers().GetByRequestAndHelper(ctx, requestID, viewerID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	hidden := domain.NotFoundf("help request %d not found", requestID)
	if r.Status == domain.RequestStatusCompleted {
		if offer != nil && offer.Status.Contributed() {
			return r, nil
		}
		return nil, hidden
	}
	if r.Scope == domain.ScopeCommunity && offer == nil {
		ok, err := isMember(ctx, store, *r.CommunityID, viewerID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, hidden
		}
	}
	return r, nil
}
