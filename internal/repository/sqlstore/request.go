package sqlstore

import (
	"context"

	"github.com/jmoiron/sqlx"

	"helpboard-backend/internal/domain"
	"helpboard-backend/internal/logger"
	"helpboard-backend/internal/repository"
)

const requestColumns = `id, owner_id, scope, community_id, title, description, category, urgency,
	amount_cents, status, supporter_count, version, created_at, updated_at, completed_at`

type requestRepository struct {
	q sqlx.ExtContext
}

func (r *requestRepository) Create(ctx context.Context, req *domain.HelpRequest) error {
	logger.EnterMethod("requestRepository.Create", "ownerID", req.OwnerID, "scope", req.Scope)
	if req.Version == 0 {
		req.Version = 1
	}
	query := r.q.Rebind(`INSERT INTO help_requests (owner_id, scope, community_id, title, description, category,
		urgency, amount_cents, status, supporter_count, version, created_at, updated_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`)
	logger.DatabaseCall("INSERT", "help_requests", "ownerID", req.OwnerID)
	err := r.q.QueryRowxContext(ctx, query,
		req.OwnerID, req.Scope, req.CommunityID, req.Title, req.Description, req.Category,
		req.Urgency, req.AmountCents, req.Status, req.SupporterCount, req.Version,
		req.CreatedAt, req.UpdatedAt, req.CompletedAt,
	).Scan(&req.ID)
	logger.DatabaseResult("INSERT", 1, err, "requestID", req.ID)
	if err != nil {
		logger.ExitMethodWithError("requestRepository.Create", err)
		return translate(err, "help request")
	}
	logger.ExitMethod("requestRepository.Create", "requestID", req.ID)
	return nil
}

func (r *requestRepository) GetByID(ctx context.Context, id int64) (*domain.HelpRequest, error) {
	var req domain.HelpRequest
	query := r.q.Rebind(`SELECT ` + requestColumns + ` FROM help_requests WHERE id = ?`)
	if err := sqlx.GetContext(ctx, r.q, &req, query, id); err != nil {
		return nil, translate(err, "help request")
	}
	return &req, nil
}

func (r *requestRepository) Update(ctx context.Context, req *domain.HelpRequest, expectedVersion int64) error {
	query := r.q.Rebind(`UPDATE help_requests SET title = ?, description = ?, category = ?, urgency = ?,
		amount_cents = ?, status = ?, supporter_count = ?, updated_at = ?, completed_at = ?, version = version + 1
		WHERE id = ? AND version = ?`)
	logger.DatabaseCall("UPDATE", "help_requests", "requestID", req.ID, "expectedVersion", expectedVersion)
	res, err := r.q.ExecContext(ctx, query,
		req.Title, req.Description, req.Category, req.Urgency, req.AmountCents, req.Status,
		req.SupporterCount, req.UpdatedAt, req.CompletedAt, req.ID, expectedVersion,
	)
	if err != nil {
		logger.DatabaseResult("UPDATE", 0, err, "requestID", req.ID)
		return translate(err, "help request")
	}
	if err := expectOne(res, "help request", req.ID); err != nil {
		return err
	}
	req.Version = expectedVersion + 1
	return nil
}

func (r *requestRepository) ListByOwner(ctx context.Context, ownerID int64) ([]domain.HelpRequest, error) {
	var out []domain.HelpRequest
	query := r.q.Rebind(`SELECT ` + requestColumns + ` FROM help_requests WHERE owner_id = ? ORDER BY created_at DESC, id DESC`)
	if err := sqlx.SelectContext(ctx, r.q, &out, query, ownerID); err != nil {
		return nil, translate(err, "help requests")
	}
	return out, nil
}

func (r *requestRepository) ListByIDs(ctx context.Context, ids []int64) ([]domain.HelpRequest, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`SELECT `+requestColumns+` FROM help_requests WHERE id IN (?) ORDER BY created_at DESC, id DESC`, ids)
	if err != nil {
		return nil, err
	}
	var out []domain.HelpRequest
	if err := sqlx.SelectContext(ctx, r.q, &out, r.q.Rebind(query), args...); err != nil {
		return nil, translate(err, "help requests")
	}
	return out, nil
}

// Browse lists open (not completed) requests matching f, newest first.
func (r *requestRepository) Browse(ctx context.Context, f repository.BrowseFilter) ([]domain.HelpRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM help_requests WHERE status <> ?`
	args := []any{domain.RequestStatusCompleted}

	if f.Scope != "" {
		query += ` AND scope = ?`
		args = append(args, f.Scope)
	}
	if f.Scope == domain.ScopeCommunity {
		if len(f.CommunityIDs) == 0 {
			return nil, nil
		}
		query += ` AND community_id IN (?)`
		args = append(args, f.CommunityIDs)
	}
	if f.Category != "" {
		query += ` AND category = ?`
		args = append(args, f.Category)
	}
	if f.MinUrgency != "" {
		var urgencies []string
		for _, u := range f.MinUrgency.AtLeast() {
			urgencies = append(urgencies, string(u))
		}
		query += ` AND urgency IN (?)`
		args = append(args, urgencies)
	}
	if f.ExcludeOwner != 0 {
		query += ` AND owner_id <> ?`
		args = append(args, f.ExcludeOwner)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return nil, err
	}
	var out []domain.HelpRequest
	if err := sqlx.SelectContext(ctx, r.q, &out, r.q.Rebind(query), args...); err != nil {
		return nil, translate(err, "help requests")
	}
	return out, nil
}
