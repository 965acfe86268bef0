package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"helpboard-backend/internal/domain"
)

func TestCreateCommunity_Approval(t *testing.T) {
	h := newHarness(t)

	ngo := h.approvedCommunity(10, domain.CommunityPrivacyApproval)
	assert.True(t, ngo.Verified)
	assert.Equal(t, int32(1), ngo.MemberCount)

	pending, err := h.members.CreateCommunity(h.ctx, ownerID, domain.NewCommunity{Name: "Book club"})
	require.NoError(t, err)
	assert.Equal(t, domain.CommunityStatusPendingApproval, pending.Status)
	assert.False(t, pending.Verified)

	_, err = h.members.ListPendingApprovals(h.ctx, ownerID)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	queue, err := h.members.ListPendingApprovals(h.ctx, moderatorID)
	require.NoError(t, err)
	require.Len(t, queue, 1)
	assert.Equal(t, pending.ID, queue[0].CommunityID)

	_, err = h.members.JoinCommunity(h.ctx, pending.ID, helperID)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	reviewed, err := h.members.ReviewCommunity(h.ctx, queue[0].ID, moderatorID, true, "looks fine")
	require.NoError(t, err)
	assert.Equal(t, domain.CommunityStatusApproved, reviewed.Status)
	assert.False(t, reviewed.Verified)
	assert.Len(t, h.notifications(ownerID, domain.NotificationCommunityReviewed), 1)

	_, err = h.members.ReviewCommunity(h.ctx, queue[0].ID, moderatorID, false, "")
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestCreateCommunity_TrustedIndividualAutoApproves(t *testing.T) {
	h := newHarness(t)
	registry := NewMembershipRegistry(h.store, nil, StaticTrust{helperID: 0.95}, MembershipConfig{CreationTrustThreshold: 0.8})

	c, err := registry.CreateCommunity(h.ctx, helperID, domain.NewCommunity{Name: "Cyclists", Privacy: domain.CommunityPrivacyOpen})
	require.NoError(t, err)
	assert.Equal(t, domain.CommunityStatusApproved, c.Status)
	assert.True(t, c.Verified)

	c, err = registry.CreateCommunity(h.ctx, otherHelper, domain.NewCommunity{Name: "Runners"})
	require.NoError(t, err)
	assert.Equal(t, domain.CommunityStatusPendingApproval, c.Status)
}

func TestJoinCommunity(t *testing.T) {
	h := newHarness(t)
	open := h.approvedCommunity(10, domain.CommunityPrivacyOpen)
	gated := h.approvedCommunity(11, domain.CommunityPrivacyApproval)

	m, err := h.members.JoinCommunity(h.ctx, open.ID, helperID)
	require.NoError(t, err)
	assert.Equal(t, domain.MembershipStatusActive, m.Status)
	assert.NotNil(t, m.JoinedAt)
	c, err := h.members.GetCommunity(h.ctx, open.ID)
	require.NoError(t, err)
	assert.Equal(t, int32(2), c.MemberCount)

	_, err = h.members.JoinCommunity(h.ctx, open.ID, helperID)
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	m, err = h.members.JoinCommunity(h.ctx, gated.ID, helperID)
	require.NoError(t, err)
	assert.Equal(t, domain.MembershipStatusPending, m.Status)
	c, err = h.members.GetCommunity(h.ctx, gated.ID)
	require.NoError(t, err)
	assert.Equal(t, int32(1), c.MemberCount)
	assert.Len(t, h.notifications(11, domain.NotificationMembershipRequested), 1)

	_, err = h.members.ApproveMembership(h.ctx, m.ID, helperID)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	approved, err := h.members.ApproveMembership(h.ctx, m.ID, 11)
	require.NoError(t, err)
	assert.Equal(t, domain.MembershipStatusActive, approved.Status)
	c, err = h.members.GetCommunity(h.ctx, gated.ID)
	require.NoError(t, err)
	assert.Equal(t, int32(2), c.MemberCount)
	assert.Len(t, h.notifications(helperID, domain.NotificationMembershipApproved), 1)

	_, err = h.members.ApproveMembership(h.ctx, m.ID, 11)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestJoinCommunity_TrustedUserSkipsQueue(t *testing.T) {
	h := newHarness(t)
	gated := h.approvedCommunity(10, domain.CommunityPrivacyApproval)
	registry := NewMembershipRegistry(h.store, nil, StaticTrust{helperID: 0.95}, MembershipConfig{JoinTrustThreshold: 0.9})

	m, err := registry.JoinCommunity(h.ctx, gated.ID, helperID)
	require.NoError(t, err)
	assert.Equal(t, domain.MembershipStatusActive, m.Status)

	m, err = registry.JoinCommunity(h.ctx, gated.ID, otherHelper)
	require.NoError(t, err)
	assert.Equal(t, domain.MembershipStatusPending, m.Status)
}

func TestRejectMembership(t *testing.T) {
	h := newHarness(t)
	gated := h.approvedCommunity(10, domain.CommunityPrivacyApproval)
	m, err := h.members.JoinCommunity(h.ctx, gated.ID, helperID)
	require.NoError(t, err)

	rejected, err := h.members.RejectMembership(h.ctx, m.ID, 10)
	require.NoError(t, err)
	assert.Equal(t, m.ID, rejected.ID)

	_, err = h.store.Memberships().GetByID(h.ctx, m.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// rejected users may ask again
	_, err = h.members.JoinCommunity(h.ctx, gated.ID, helperID)
	assert.NoError(t, err)
}

func TestLeaveCommunity_AdminRetention(t *testing.T) {
	h := newHarness(t)
	c := h.approvedCommunity(10, domain.CommunityPrivacyOpen)

	_, err := h.members.LeaveCommunity(h.ctx, c.ID, 10)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = h.members.JoinCommunity(h.ctx, c.ID, helperID)
	require.NoError(t, err)
	_, err = h.members.SetRole(h.ctx, c.ID, 10, helperID, domain.MembershipRoleAdmin)
	require.NoError(t, err)
	_, err = h.members.SetRole(h.ctx, c.ID, 10, helperID, domain.MembershipRoleMember)
	require.NoError(t, err)

	_, err = h.members.SetRole(h.ctx, c.ID, 10, 10, domain.MembershipRoleMember)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = h.members.LeaveCommunity(h.ctx, c.ID, 10)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = h.members.SetRole(h.ctx, c.ID, 10, helperID, domain.MembershipRoleAdmin)
	require.NoError(t, err)
	left, err := h.members.LeaveCommunity(h.ctx, c.ID, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(10), left.UserID)

	_, err = h.members.LeaveCommunity(h.ctx, c.ID, helperID)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	got, err := h.members.GetCommunity(h.ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, int32(1), got.MemberCount)
	admins, err := h.store.Memberships().CountActiveAdmins(h.ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, admins)
}

func TestSetRole_RequiresAdmin(t *testing.T) {
	h := newHarness(t)
	c := h.approvedCommunity(10, domain.CommunityPrivacyOpen)
	_, err := h.members.JoinCommunity(h.ctx, c.ID, helperID)
	require.NoError(t, err)
	_, err = h.members.JoinCommunity(h.ctx, c.ID, otherHelper)
	require.NoError(t, err)

	_, err = h.members.SetRole(h.ctx, c.ID, helperID, otherHelper, domain.MembershipRoleAdmin)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = h.members.SetRole(h.ctx, c.ID, 10, otherHelper, domain.MembershipRole("owner"))
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = h.members.SetRole(h.ctx, c.ID, 10, 404, domain.MembershipRoleAdmin)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListMembers(t *testing.T) {
	h := newHarness(t)
	c := h.approvedCommunity(10, domain.CommunityPrivacyApproval)
	m, err := h.members.JoinCommunity(h.ctx, c.ID, helperID)
	require.NoError(t, err)
	require.Equal(t, domain.MembershipStatusPending, m.Status)

	all, err := h.members.ListMembers(h.ctx, c.ID, 10)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = h.members.ListMembers(h.ctx, c.ID, helperID)
	assert.ErrorIs(t, err, domain.ErrForbidden)
}
