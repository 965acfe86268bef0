package sqlstore

import (
	"context"

	"github.com/jmoiron/sqlx"

	"helpboard-backend/internal/domain"
	"helpboard-backend/internal/logger"
)

const membershipColumns = `id, community_id, user_id, role, status, joined_at, version, created_at, updated_at`

type membershipRepository struct {
	q sqlx.ExtContext
}

func (r *membershipRepository) Create(ctx context.Context, m *domain.Membership) error {
	if m.Version == 0 {
		m.Version = 1
	}
	query := r.q.Rebind(`INSERT INTO community_memberships (community_id, user_id, role, status, joined_at, version,
		created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`)
	logger.DatabaseCall("INSERT", "community_memberships", "communityID", m.CommunityID, "userID", m.UserID)
	err := r.q.QueryRowxContext(ctx, query,
		m.CommunityID, m.UserID, m.Role, m.Status, m.JoinedAt, m.Version, m.CreatedAt, m.UpdatedAt,
	).Scan(&m.ID)
	logger.DatabaseResult("INSERT", 1, err, "membershipID", m.ID)
	return translate(err, "membership")
}

func (r *membershipRepository) GetByID(ctx context.Context, id int64) (*domain.Membership, error) {
	var m domain.Membership
	query := r.q.Rebind(`SELECT ` + membershipColumns + ` FROM community_memberships WHERE id = ?`)
	if err := sqlx.GetContext(ctx, r.q, &m, query, id); err != nil {
		return nil, translate(err, "membership")
	}
	return &m, nil
}

func (r *membershipRepository) Get(ctx context.Context, communityID, userID int64) (*domain.Membership, error) {
	var m domain.Membership
	query := r.q.Rebind(`SELECT ` + membershipColumns + ` FROM community_memberships WHERE community_id = ? AND user_id = ?`)
	if err := sqlx.GetContext(ctx, r.q, &m, query, communityID, userID); err != nil {
		return nil, translate(err, "membership")
	}
	return &m, nil
}

func (r *membershipRepository) Update(ctx context.Context, m *domain.Membership, expectedVersion int64) error {
	query := r.q.Rebind(`UPDATE community_memberships SET role = ?, status = ?, joined_at = ?, updated_at = ?,
		version = version + 1 WHERE id = ? AND version = ?`)
	logger.DatabaseCall("UPDATE", "community_memberships", "membershipID", m.ID, "expectedVersion", expectedVersion)
	res, err := r.q.ExecContext(ctx, query, m.Role, m.Status, m.JoinedAt, m.UpdatedAt, m.ID, expectedVersion)
	if err != nil {
		return translate(err, "membership")
	}
	if err := expectOne(res, "membership", m.ID); err != nil {
		return err
	}
	m.Version = expectedVersion + 1
	return nil
}

func (r *membershipRepository) Delete(ctx context.Context, id, expectedVersion int64) error {
	logger.DatabaseCall("DELETE", "community_memberships", "membershipID", id)
	res, err := r.q.ExecContext(ctx, r.q.Rebind(`DELETE FROM community_memberships WHERE id = ? AND version = ?`), id, expectedVersion)
	if err != nil {
		return translate(err, "membership")
	}
	return expectOne(res, "membership", id)
}

func (r *membershipRepository) ListByCommunity(ctx context.Context, communityID int64) ([]domain.Membership, error) {
	var out []domain.Membership
	query := r.q.Rebind(`SELECT ` + membershipColumns + ` FROM community_memberships WHERE community_id = ? ORDER BY id`)
	if err := sqlx.SelectContext(ctx, r.q, &out, query, communityID); err != nil {
		return nil, translate(err, "memberships")
	}
	return out, nil
}

func (r *membershipRepository) ListByUser(ctx context.Context, userID int64) ([]domain.Membership, error) {
	var out []domain.Membership
	query := r.q.Rebind(`SELECT ` + membershipColumns + ` FROM community_memberships WHERE user_id = ? ORDER BY id`)
	if err := sqlx.SelectContext(ctx, r.q, &out, query, userID); err != nil {
		return nil, translate(err, "memberships")
	}
	return out, nil
}

func (r *membershipRepository) CountActiveAdmins(ctx context.Context, communityID int64) (int, error) {
	var n int
	query := r.q.Rebind(`SELECT COUNT(*) FROM community_memberships WHERE community_id = ? AND role = ? AND status = ?`)
	if err := sqlx.GetContext(ctx, r.q, &n, query, communityID, domain.MembershipRoleAdmin, domain.MembershipStatusActive); err != nil {
		return 0, translate(err, "memberships")
	}
	return n, nil
}
