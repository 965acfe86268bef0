package sqlstore

import (
	"context"

	"github.com/jmoiron/sqlx"

	"helpboard-backend/internal/domain"
)

const approvalColumns = `id, community_id, requested_by, status, reviewer_id, note, created_at, reviewed_at`

type approvalRepository struct {
	q sqlx.ExtContext
}

func (r *approvalRepository) Create(ctx context.Context, a *domain.CommunityApproval) error {
	query := r.q.Rebind(`INSERT INTO community_approvals (community_id, requested_by, status, reviewer_id, note,
		created_at, reviewed_at) VALUES (?, ?, ?, ?, ?, ?, ?) RETURNING id`)
	err := r.q.QueryRowxContext(ctx, query,
		a.CommunityID, a.RequestedBy, a.Status, a.ReviewerID, a.Note, a.CreatedAt, a.ReviewedAt,
	).Scan(&a.ID)
	return translate(err, "community approval")
}

func (r *approvalRepository) GetByID(ctx context.Context, id int64) (*domain.CommunityApproval, error) {
	var a domain.CommunityApproval
	query := r.q.Rebind(`SELECT ` + approvalColumns + ` FROM community_approvals WHERE id = ?`)
	if err := sqlx.GetContext(ctx, r.q, &a, query, id); err != nil {
		return nil, translate(err, "community approval")
	}
	return &a, nil
}

// Update only succeeds on a pending approval; a reviewed one yields a conflict.
func (r *approvalRepository) Update(ctx context.Context, a *domain.CommunityApproval) error {
	query := r.q.Rebind(`UPDATE community_approvals SET status = ?, reviewer_id = ?, note = ?, reviewed_at = ?
		WHERE id = ? AND status = ?`)
	res, err := r.q.ExecContext(ctx, query, a.Status, a.ReviewerID, a.Note, a.ReviewedAt, a.ID, domain.ApprovalStatusPending)
	if err != nil {
		return translate(err, "community approval")
	}
	return expectOne(res, "community approval", a.ID)
}

func (r *approvalRepository) ListPending(ctx context.Context) ([]domain.CommunityApproval, error) {
	var out []domain.CommunityApproval
	query := r.q.Rebind(`SELECT ` + approvalColumns + ` FROM community_approvals WHERE status = ? ORDER BY created_at, id`)
	if err := sqlx.SelectContext(ctx, r.q, &out, query, domain.ApprovalStatusPending); err != nil {
		return nil, translate(err, "community approvals")
	}
	return out, nil
}
