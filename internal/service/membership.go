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
	opCreateCommunity   = "community.create"
	opReviewCommunity   = "community.review"
	opJoinCommunity     = "membership.join"
	opApproveMembership = "membership.approve"
	opSetRole           = "membership.set_role"
)

type MembershipConfig struct {
	// CreationTrustThreshold is the score an individual must exceed for their
	// community to be approved without moderator review.
	CreationTrustThreshold float64
	// JoinTrustThreshold lets trusted users skip the admin queue of an
	// approval-only community.
	JoinTrustThreshold float64
}

type membershipRegistry struct {
	core  *ledgerCore
	trust TrustProvider
	cfg   MembershipConfig
}

func NewMembershipRegistry(store repository.Store, publisher Publisher, trust TrustProvider, cfg MembershipConfig) MembershipRegistry {
	if trust == nil {
		trust = ProfileTrust{Profiles: store.Profiles()}
	}
	return &membershipRegistry{core: newLedgerCore(store, publisher), trust: trust, cfg: cfg}
}

func (s *membershipRegistry) CreateCommunity(ctx context.Context, creatorID int64, fields domain.NewCommunity) (community *domain.Community, err error) {
	ctx, span := startSpan(ctx, "MembershipRegistry.CreateCommunity", attribute.Int64("creator.id", creatorID))
	defer func() { endSpan(span, err) }()

	if err := requireActor(creatorID); err != nil {
		return nil, err
	}
	if err := fields.Validate(); err != nil {
		return nil, err
	}
	auto, err := s.autoApproves(ctx, creatorID)
	if err != nil {
		return nil, err
	}

	return runMutation(ctx, s.core, opCreateCommunity, creatorID, func(m *mutation) (*domain.Community, error) {
		c := &domain.Community{
			Name:        fields.Name,
			Description: fields.Description,
			Privacy:     fields.Privacy,
			Status:      domain.CommunityStatusPendingApproval,
			CreatorID:   creatorID,
			MemberCount: 1,
			CreatedAt:   m.now,
			UpdatedAt:   m.now,
		}
		if auto {
			c.Status = domain.CommunityStatusApproved
			c.Verified = true
		}
		if err := m.tx.Communities().Create(ctx, c); err != nil {
			return nil, err
		}

		joined := m.now
		admin := &domain.Membership{
			CommunityID: c.ID,
			UserID:      creatorID,
			Role:        domain.MembershipRoleAdmin,
			Status:      domain.MembershipStatusActive,
			JoinedAt:    &joined,
			CreatedAt:   m.now,
			UpdatedAt:   m.now,
		}
		if err := m.tx.Memberships().Create(ctx, admin); err != nil {
			return nil, err
		}
		if !auto {
			if err := m.tx.Approvals().Create(ctx, &domain.CommunityApproval{
				CommunityID: c.ID,
				RequestedBy: creatorID,
				Status:      domain.ApprovalStatusPending,
				CreatedAt:   m.now,
			}); err != nil {
				return nil, err
			}
		}

		if err := m.emit(domain.EventUpsert, domain.TransitionCommunityCreated, c, nil); err != nil {
			return nil, err
		}
		if err := m.emit(domain.EventUpsert, domain.TransitionMembershipJoined, admin, nil); err != nil {
			return nil, err
		}
		return c, nil
	})
}

// autoApproves reports whether a community created by creatorID skips
// moderator review: NGO accounts always do, individuals above the trust bar.
func (s *membershipRegistry) autoApproves(ctx context.Context, creatorID int64) (bool, error) {
	p, err := s.core.store.Profiles().Get(ctx, creatorID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return false, err
	}
	if p != nil && p.ActorType == domain.ActorTypeNGO {
		return true, nil
	}
	score, err := s.trust.TrustScore(ctx, creatorID)
	if err != nil {
		return false, err
	}
	return score > s.cfg.CreationTrustThreshold, nil
}

func (s *membershipRegistry) ReviewCommunity(ctx context.Context, approvalID, moderatorID int64, approve bool, note string) (community *domain.Community, err error) {
	ctx, span := startSpan(ctx, "MembershipRegistry.ReviewCommunity", attribute.Int64("approval.id", approvalID))
	defer func() { endSpan(span, err) }()

	if err := s.requireModerator(ctx, moderatorID); err != nil {
		return nil, err
	}

	return runMutation(ctx, s.core, opReviewCommunity, moderatorID, func(m *mutation) (*domain.Community, error) {
		a, err := m.tx.Approvals().GetByID(ctx, approvalID)
		if err != nil {
			return nil, err
		}
		if a.Status != domain.ApprovalStatusPending {
			return nil, domain.Conflictf("approval %d was already reviewed", a.ID)
		}
		c, err := m.tx.Communities().GetByID(ctx, a.CommunityID)
		if err != nil {
			return nil, err
		}

		prev := *c
		c.Status = domain.CommunityStatusRejected
		a.Status = domain.ApprovalStatusRejected
		if approve {
			c.Status = domain.CommunityStatusApproved
			a.Status = domain.ApprovalStatusApproved
		}
		if err := m.bumpCommunity(c); err != nil {
			return nil, err
		}
		reviewed := m.now
		a.ReviewerID = &moderatorID
		a.Note = note
		a.ReviewedAt = &reviewed
		if err := m.tx.Approvals().Update(ctx, a); err != nil {
			return nil, err
		}
		if err := m.emit(domain.EventUpsert, domain.TransitionCommunityReviewed, c, &prev); err != nil {
			return nil, err
		}
		return c, nil
	})
}

func (s *membershipRegistry) ListPendingApprovals(ctx context.Context, moderatorID int64) ([]domain.CommunityApproval, error) {
	if err := s.requireModerator(ctx, moderatorID); err != nil {
		return nil, err
	}
	return s.core.store.Approvals().ListPending(ctx)
}

func (s *membershipRegistry) GetCommunity(ctx context.Context, communityID int64) (*domain.Community, error) {
	return s.core.store.Communities().GetByID(ctx, communityID)
}

// JoinCommunity creates an active membership for open communities and for
// trusted users, and a pending one otherwise.
func (s *membershipRegistry) JoinCommunity(ctx context.Context, communityID, userID int64) (membership *domain.Membership, err error) {
	ctx, span := startSpan(ctx, "MembershipRegistry.JoinCommunity",
		attribute.Int64("community.id", communityID), attribute.Int64("user.id", userID))
	defer func() { endSpan(span, err) }()

	if err := requireActor(userID); err != nil {
		return nil, err
	}
	score, err := s.trust.TrustScore(ctx, userID)
	if err != nil {
		return nil, err
	}

	return runMutation(ctx, s.core, opJoinCommunity, userID, func(m *mutation) (*domain.Membership, error) {
		c, err := m.tx.Communities().GetByID(ctx, communityID)
		if err != nil {
			return nil, err
		}
		if c.Status != domain.CommunityStatusApproved {
			return nil, domain.Forbiddenf("community %d is not open for members", c.ID)
		}
		if _, err := m.tx.Memberships().Get(ctx, communityID, userID); err == nil {
			return nil, domain.AlreadyExistsf("user %d already belongs to community %d", userID, communityID)
		} else if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}

		trusted := s.cfg.JoinTrustThreshold > 0 && score >= s.cfg.JoinTrustThreshold
		active := c.Privacy == domain.CommunityPrivacyOpen || trusted
		mem := &domain.Membership{
			CommunityID: communityID,
			UserID:      userID,
			Role:        domain.MembershipRoleMember,
			Status:      domain.MembershipStatusPending,
			CreatedAt:   m.now,
			UpdatedAt:   m.now,
		}
		transition := domain.TransitionMembershipRequested
		if active {
			joined := m.now
			mem.Status = domain.MembershipStatusActive
			mem.JoinedAt = &joined
			transition = domain.TransitionMembershipJoined
		}
		if err := m.tx.Memberships().Create(ctx, mem); err != nil {
			return nil, err
		}

		prev := *c
		if active {
			c.MemberCount++
		}
		if err := m.bumpCommunity(c); err != nil {
			return nil, err
		}
		if err := m.emit(domain.EventUpsert, transition, mem, nil); err != nil {
			return nil, err
		}
		if active {
			if err := m.emit(domain.EventUpsert, domain.TransitionCommunityUpdated, c, &prev); err != nil {
				return nil, err
			}
		}
		return mem, nil
	})
}

func (s *membershipRegistry) ApproveMembership(ctx context.Context, membershipID, adminID int64) (membership *domain.Membership, err error) {
	ctx, span := startSpan(ctx, "MembershipRegistry.ApproveMembership", attribute.Int64("membership.id", membershipID))
	defer func() { endSpan(span, err) }()

	if err := requireActor(adminID); err != nil {
		return nil, err
	}

	return runMutation(ctx, s.core, opApproveMembership, adminID, func(m *mutation) (*domain.Membership, error) {
		mem, c, err := s.loadPendingForAdmin(m, membershipID, adminID)
		if err != nil {
			return nil, err
		}
		prevMem := *mem
		joined := m.now
		mem.Status = domain.MembershipStatusActive
		mem.JoinedAt = &joined
		mem.UpdatedAt = m.now
		if err := m.tx.Memberships().Update(ctx, mem, prevMem.Version); err != nil {
			return nil, err
		}
		prevCommunity := *c
		c.MemberCount++
		if err := m.bumpCommunity(c); err != nil {
			return nil, err
		}
		if err := m.emit(domain.EventUpsert, domain.TransitionMembershipApproved, mem, &prevMem); err != nil {
			return nil, err
		}
		if err := m.emit(domain.EventUpsert, domain.TransitionCommunityUpdated, c, &prevCommunity); err != nil {
			return nil, err
		}
		return mem, nil
	})
}

// RejectMembership removes a pending membership. The returned record is the
// last state before removal.
func (s *membershipRegistry) RejectMembership(ctx context.Context, membershipID, adminID int64) (membership *domain.Membership, err error) {
	ctx, span := startSpan(ctx, "MembershipRegistry.RejectMembership", attribute.Int64("membership.id", membershipID))
	defer func() { endSpan(span, err) }()

	if err := requireActor(adminID); err != nil {
		return nil, err
	}

	err = s.core.mutate(ctx, adminID, func(m *mutation) error {
		mem, c, err := s.loadPendingForAdmin(m, membershipID, adminID)
		if err != nil {
			return err
		}
		if err := m.tx.Memberships().Delete(ctx, mem.ID, mem.Version); err != nil {
			return err
		}
		if err := m.bumpCommunity(c); err != nil {
			return err
		}
		membership = mem
		return m.emit(domain.EventDelete, domain.TransitionMembershipRejected, mem, nil)
	})
	if err != nil {
		return nil, err
	}
	return membership, nil
}

// LeaveCommunity removes userID's membership. The sole active admin cannot
// leave.
func (s *membershipRegistry) LeaveCommunity(ctx context.Context, communityID, userID int64) (membership *domain.Membership, err error) {
	ctx, span := startSpan(ctx, "MembershipRegistry.LeaveCommunity",
		attribute.Int64("community.id", communityID), attribute.Int64("user.id", userID))
	defer func() { endSpan(span, err) }()

	if err := requireActor(userID); err != nil {
		return nil, err
	}

	err = s.core.mutate(ctx, userID, func(m *mutation) error {
		c, err := m.tx.Communities().GetByID(ctx, communityID)
		if err != nil {
			return err
		}
		mem, err := m.tx.Memberships().Get(ctx, communityID, userID)
		if err != nil {
			return err
		}
		if mem.IsActiveAdmin() {
			admins, err := m.tx.Memberships().CountActiveAdmins(ctx, communityID)
			if err != nil {
				return err
			}
			if admins <= 1 {
				return domain.Forbiddenf("the only active admin of community %d cannot leave", communityID)
			}
		}
		if err := m.tx.Memberships().Delete(ctx, mem.ID, mem.Version); err != nil {
			return err
		}

		prev := *c
		wasActive := mem.Status == domain.MembershipStatusActive
		if wasActive {
			c.MemberCount--
		}
		if err := m.bumpCommunity(c); err != nil {
			return err
		}
		membership = mem
		if err := m.emit(domain.EventDelete, domain.TransitionMembershipLeft, mem, nil); err != nil {
			return err
		}
		if wasActive {
			return m.emit(domain.EventUpsert, domain.TransitionCommunityUpdated, c, &prev)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return membership, nil
}

// SetRole promotes or demotes an active member. Demoting the last active
// admin is rejected.
func (s *membershipRegistry) SetRole(ctx context.Context, communityID, adminID, targetUserID int64, role domain.MembershipRole) (membership *domain.Membership, err error) {
	ctx, span := startSpan(ctx, "MembershipRegistry.SetRole",
		attribute.Int64("community.id", communityID), attribute.String("role", string(role)))
	defer func() { endSpan(span, err) }()

	if err := requireActor(adminID); err != nil {
		return nil, err
	}
	if !role.Valid() {
		return nil, domain.Validationf("unknown role %q", role)
	}

	return runMutation(ctx, s.core, opSetRole, adminID, func(m *mutation) (*domain.Membership, error) {
		actor, err := m.tx.Memberships().Get(ctx, communityID, adminID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		if !actor.IsActiveAdmin() {
			return nil, domain.Forbiddenf("only admins can change roles in community %d", communityID)
		}
		target, err := m.tx.Memberships().Get(ctx, communityID, targetUserID)
		if err != nil {
			return nil, err
		}
		if target.Status != domain.MembershipStatusActive {
			return nil, domain.InvalidTransitionf("membership %d is not active", target.ID)
		}
		if target.Role == role {
			return target, nil
		}
		if target.IsActiveAdmin() {
			admins, err := m.tx.Memberships().CountActiveAdmins(ctx, communityID)
			if err != nil {
				return nil, err
			}
			if admins <= 1 {
				return nil, domain.Forbiddenf("community %d must keep an active admin", communityID)
			}
		}
		c, err := m.tx.Communities().GetByID(ctx, communityID)
		if err != nil {
			return nil, err
		}

		prev := *target
		target.Role = role
		target.UpdatedAt = m.now
		if err := m.tx.Memberships().Update(ctx, target, prev.Version); err != nil {
			return nil, err
		}
		if err := m.bumpCommunity(c); err != nil {
			return nil, err
		}
		if err := m.emit(domain.EventUpsert, domain.TransitionMembershipRoleChanged, target, &prev); err != nil {
			return nil, err
		}
		return target, nil
	})
}

// ListMembers shows active members to members, and pending requests to admins
// as well.
func (s *membershipRegistry) ListMembers(ctx context.Context, communityID, actorID int64) ([]domain.Membership, error) {
	if err := requireActor(actorID); err != nil {
		return nil, err
	}
	store := s.core.store
	actor, err := store.Memberships().Get(ctx, communityID, actorID)
	if errors.Is(err, domain.ErrNotFound) || (err == nil && actor.Status != domain.MembershipStatusActive) {
		return nil, domain.Forbiddenf("only members can list community %d", communityID)
	}
	if err != nil {
		return nil, err
	}
	all, err := store.Memberships().ListByCommunity(ctx, communityID)
	if err != nil {
		return nil, err
	}
	if actor.Role == domain.MembershipRoleAdmin {
		return all, nil
	}
	active := make([]domain.Membership, 0, len(all))
	for _, mem := range all {
		if mem.Status == domain.MembershipStatusActive {
			active = append(active, mem)
		}
	}
	return active, nil
}

// loadPendingForAdmin loads a pending membership and its community and checks
// that adminID administers it.
func (s *membershipRegistry) loadPendingForAdmin(m *mutation, membershipID, adminID int64) (*domain.Membership, *domain.Community, error) {
	mem, err := m.tx.Memberships().GetByID(m.ctx, membershipID)
	if err != nil {
		return nil, nil, err
	}
	admin, err := m.tx.Memberships().Get(m.ctx, mem.CommunityID, adminID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, nil, err
	}
	if !admin.IsActiveAdmin() {
		return nil, nil, domain.Forbiddenf("only admins can decide on membership %d", mem.ID)
	}
	c, err := m.tx.Communities().GetByID(m.ctx, mem.CommunityID)
	if err != nil {
		return nil, nil, err
	}
	if c.Status != domain.CommunityStatusApproved {
		return nil, nil, domain.Forbiddenf("community %d is not approved", c.ID)
	}
	if mem.Status != domain.MembershipStatusPending {
		return nil, nil, domain.InvalidTransitionf("membership %d is already %s", mem.ID, mem.Status)
	}
	return mem, c, nil
}

func (s *membershipRegistry) requireModerator(ctx context.Context, userID int64) error {
	if err := requireActor(userID); err != nil {
		return err
	}
	p, err := s.core.store.Profiles().Get(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Forbiddenf("user %d is not a moderator", userID)
	}
	if err != nil {
		return err
	}
	if !p.IsModerator {
		logger.Warn("Moderator action refused", "userID", userID)
		return domain.Forbiddenf("user %d is not a moderator", userID)
	}
	return nil
}
