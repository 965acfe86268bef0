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
	opCreateOffer  = "offer.create"
	opAcceptOffer  = "offer.accept"
	opDeclineOffer = "offer.decline"
)

type OfferLedgerConfig struct {
	FraudThreshold  int
	ConflictRetries int
}

type offerLedger struct {
	core            *ledgerCore
	fraudThreshold  int
	conflictRetries int
}

func NewOfferLedger(store repository.Store, publisher Publisher, cfg OfferLedgerConfig) OfferLedger {
	if cfg.FraudThreshold <= 0 {
		cfg.FraudThreshold = domain.DefaultFraudThreshold
	}
	if cfg.ConflictRetries <= 0 {
		cfg.ConflictRetries = DefaultConflictRetries
	}
	return &offerLedger{
		core:            newLedgerCore(store, publisher),
		fraudThreshold:  cfg.FraudThreshold,
		conflictRetries: cfg.ConflictRetries,
	}
}

// CreateOffer records helperID's offer on a request. A previously declined
// offer by the same helper is revived instead of duplicated.
func (s *offerLedger) CreateOffer(ctx context.Context, requestID, helperID int64, message string) (offer *domain.HelpOffer, err error) {
	ctx, span := startSpan(ctx, "OfferLedger.CreateOffer",
		attribute.Int64("request.id", requestID), attribute.Int64("helper.id", helperID))
	defer func() { endSpan(span, err) }()

	if err := requireActor(helperID); err != nil {
		return nil, err
	}
	msg, err := domain.NormalizeOfferMessage(message)
	if err != nil {
		return nil, err
	}

	return runMutation(ctx, s.core, opCreateOffer, helperID, func(m *mutation) (*domain.HelpOffer, error) {
		r, err := m.tx.Requests().GetByID(ctx, requestID)
		if err != nil {
			return nil, err
		}
		if r.OwnerID == helperID {
			return nil, domain.Forbiddenf("cannot offer help on your own request")
		}
		if r.Status == domain.RequestStatusCompleted {
			return nil, domain.InvalidTransitionf("request %d is completed", r.ID)
		}
		if r.Scope == domain.ScopeCommunity {
			ok, err := isMember(ctx, m.tx, *r.CommunityID, helperID)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, domain.Forbiddenf("only members of community %d can offer help", *r.CommunityID)
			}
		}

		existing, err := m.tx.Offers().GetByRequestAndHelper(ctx, requestID, helperID)
		switch {
		case err == nil && existing.Status != domain.OfferStatusDeclined:
			return nil, domain.AlreadyExistsf("helper %d already has an offer on request %d", helperID, requestID)
		case err == nil:
			prev := *existing
			existing.Status = domain.OfferStatusPending
			existing.Message = msg
			existing.UpdatedAt = m.now
			if err := m.tx.Offers().Update(ctx, existing, prev.Version); err != nil {
				return nil, err
			}
			if err := m.emit(domain.EventUpsert, domain.TransitionOfferCreated, existing, &prev); err != nil {
				return nil, err
			}
			return existing, nil
		case !errors.Is(err, domain.ErrNotFound):
			return nil, err
		}

		o := &domain.HelpOffer{
			RequestID:   r.ID,
			HelperID:    helperID,
			RequesterID: r.OwnerID,
			Message:     msg,
			Status:      domain.OfferStatusPending,
			CreatedAt:   m.now,
			UpdatedAt:   m.now,
		}
		if err := m.tx.Offers().Create(ctx, o); err != nil {
			return nil, err
		}
		if err := m.emit(domain.EventUpsert, domain.TransitionOfferCreated, o, nil); err != nil {
			return nil, err
		}
		return o, nil
	})
}

// AcceptOffer reads the offer and its request outside the transaction and
// then compare-and-sets both on the versions it read, so two owners' tabs
// accepting different offers of one request cannot both win.
func (s *offerLedger) AcceptOffer(ctx context.Context, offerID, actorID int64) (offer *domain.HelpOffer, err error) {
	ctx, span := startSpan(ctx, "OfferLedger.AcceptOffer", attribute.Int64("offer.id", offerID))
	defer func() { endSpan(span, err) }()

	if err := requireActor(actorID); err != nil {
		return nil, err
	}
	if prior, ok, err := replay[*domain.HelpOffer](ctx, s.core, opAcceptOffer, actorID); err != nil || ok {
		return prior, err
	}

	o, r, err := s.loadForDecision(ctx, offerID, actorID)
	if err != nil {
		return nil, err
	}
	if o.Status == domain.OfferStatusAccepted {
		return nil, domain.Conflictf("offer %d is already accepted", o.ID)
	}
	if o.Status != domain.OfferStatusPending {
		return nil, domain.InvalidTransitionf("offer %d is %s", o.ID, o.Status)
	}
	if r.Status == domain.RequestStatusCompleted {
		return nil, domain.InvalidTransitionf("request %d is completed", r.ID)
	}

	return runMutation(ctx, s.core, opAcceptOffer, actorID, func(m *mutation) (*domain.HelpOffer, error) {
		prevOffer := *o
		o.Status = domain.OfferStatusAccepted
		o.UpdatedAt = m.now
		if err := m.tx.Offers().Update(ctx, o, prevOffer.Version); err != nil {
			return nil, err
		}

		prevRequest := *r
		transition := domain.TransitionRequestUpdated
		if r.Status == domain.RequestStatusPending {
			r.Status = domain.RequestStatusMatched
			transition = domain.TransitionRequestMatched
		}
		r.SupporterCount++
		r.UpdatedAt = m.now
		if err := m.tx.Requests().Update(ctx, r, prevRequest.Version); err != nil {
			return nil, err
		}

		if err := m.emit(domain.EventUpsert, domain.TransitionOfferAccepted, o, &prevOffer); err != nil {
			return nil, err
		}
		if err := m.emit(domain.EventUpsert, transition, r, &prevRequest); err != nil {
			return nil, err
		}
		return o, nil
	})
}

func (s *offerLedger) DeclineOffer(ctx context.Context, offerID, actorID int64) (offer *domain.HelpOffer, err error) {
	ctx, span := startSpan(ctx, "OfferLedger.DeclineOffer", attribute.Int64("offer.id", offerID))
	defer func() { endSpan(span, err) }()

	if err := requireActor(actorID); err != nil {
		return nil, err
	}

	return runMutation(ctx, s.core, opDeclineOffer, actorID, func(m *mutation) (*domain.HelpOffer, error) {
		o, err := m.tx.Offers().GetByID(ctx, offerID)
		if err != nil {
			return nil, err
		}
		if o.RequesterID != actorID {
			return nil, domain.Forbiddenf("only the request owner can decline offer %d", o.ID)
		}
		if o.Status != domain.OfferStatusPending {
			return nil, domain.InvalidTransitionf("offer %d is %s", o.ID, o.Status)
		}
		prev := *o
		o.Status = domain.OfferStatusDeclined
		o.UpdatedAt = m.now
		if err := m.tx.Offers().Update(ctx, o, prev.Version); err != nil {
			return nil, err
		}
		if err := m.emit(domain.EventUpsert, domain.TransitionOfferDeclined, o, &prev); err != nil {
			return nil, err
		}
		return o, nil
	})
}

// ReportOffer adds reporterID to the offer's reporter set. The reporter
// insert, the recount and the status flip commit together under the offer's
// version, so exactly one report crosses the fraud threshold.
func (s *offerLedger) ReportOffer(ctx context.Context, offerID, reporterID int64) (res *domain.ReportResult, err error) {
	ctx, span := startSpan(ctx, "OfferLedger.ReportOffer",
		attribute.Int64("offer.id", offerID), attribute.Int64("reporter.id", reporterID))
	defer func() { endSpan(span, err) }()

	if err := requireActor(reporterID); err != nil {
		return nil, err
	}

	err = RetryOnConflict(ctx, s.conflictRetries, func(ctx context.Context) error {
		return s.core.mutate(ctx, reporterID, func(m *mutation) error {
			o, err := m.tx.Offers().GetByID(ctx, offerID)
			if err != nil {
				return err
			}
			if o.HelperID == reporterID {
				return domain.Forbiddenf("cannot report your own offer")
			}
			added, err := m.tx.Offers().AddReporter(ctx, offerID, reporterID)
			if err != nil {
				return err
			}
			count, err := m.tx.Offers().CountReporters(ctx, offerID)
			if err != nil {
				return err
			}

			res = &domain.ReportResult{Status: o.Status, ReportCount: int32(count)}
			if !added && int(o.ReportCount) == count {
				return nil
			}

			prev := *o
			o.ReportCount = int32(count)
			transition := domain.TransitionOfferReported
			if count >= s.fraudThreshold && o.Status != domain.OfferStatusFraud {
				o.Status = domain.OfferStatusFraud
				transition = domain.TransitionOfferFlagged
				res.Flagged = true
			}
			o.UpdatedAt = m.now
			if err := m.tx.Offers().Update(ctx, o, prev.Version); err != nil {
				return err
			}
			res.Status = o.Status
			return m.emit(domain.EventUpsert, transition, o, &prev)
		})
	})
	if err != nil {
		return nil, err
	}
	if res.Flagged {
		logger.Warn("Offer flagged as fraud", "offerID", offerID, "reportCount", res.ReportCount)
	}
	return res, nil
}

// ListOffersForRequest returns every offer on a request to its owner, and
// only their own offer to anyone else.
func (s *offerLedger) ListOffersForRequest(ctx context.Context, requestID, actorID int64) ([]domain.HelpOffer, error) {
	if err := requireActor(actorID); err != nil {
		return nil, err
	}
	store := s.core.store
	r, err := store.Requests().GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if r.OwnerID == actorID {
		return store.Offers().ListByRequest(ctx, requestID)
	}
	o, err := store.Offers().GetByRequestAndHelper(ctx, requestID, actorID)
	if errors.Is(err, domain.ErrNotFound) {
		return []domain.HelpOffer{}, nil
	}
	if err != nil {
		return nil, err
	}
	return []domain.HelpOffer{*o}, nil
}

func (s *offerLedger) loadForDecision(ctx context.Context, offerID, actorID int64) (*domain.HelpOffer, *domain.HelpRequest, error) {
	o, err := s.core.store.Offers().GetByID(ctx, offerID)
	if err != nil {
		return nil, nil, err
	}
	r, err := s.core.store.Requests().GetByID(ctx, o.RequestID)
	if err != nil {
		return nil, nil, err
	}
	if r.OwnerID != actorID {
		return nil, nil, domain.Forbiddenf("only the request owner can decide on offer %d", o.ID)
	}
	return o, r, nil
}
