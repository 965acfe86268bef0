package sqlstore

import (
	"context"

	"github.com/jmoiron/sqlx"

	"helpboard-backend/internal/domain"
	"helpboard-backend/internal/logger"
)

const communityColumns = `id, name, description, privacy, status, verified, creator_id, member_count, version, created_at, updated_at`

type communityRepository struct {
	q sqlx.ExtContext
}

func (r *communityRepository) Create(ctx context.Context, c *domain.Community) error {
	if c.Version == 0 {
		c.Version = 1
	}
	query := r.q.Rebind(`INSERT INTO communities (name, description, privacy, status, verified, creator_id,
		member_count, version, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`)
	logger.DatabaseCall("INSERT", "communities", "creatorID", c.CreatorID)
	err := r.q.QueryRowxContext(ctx, query,
		c.Name, c.Description, c.Privacy, c.Status, c.Verified, c.CreatorID, c.MemberCount, c.Version, c.CreatedAt, c.UpdatedAt,
	).Scan(&c.ID)
	logger.DatabaseResult("INSERT", 1, err, "communityID", c.ID)
	return translate(err, "community")
}

func (r *communityRepository) GetByID(ctx context.Context, id int64) (*domain.Community, error) {
	var c domain.Community
	if err := sqlx.GetContext(ctx, r.q, &c, r.q.Rebind(`SELECT `+communityColumns+` FROM communities WHERE id = ?`), id); err != nil {
		return nil, translate(err, "community")
	}
	return &c, nil
}

func (r *communityRepository) Update(ctx context.Context, c *domain.Community, expectedVersion int64) error {
	query := r.q.Rebind(`UPDATE communities SET name = ?, description = ?, privacy = ?, status = ?, verified = ?,
		member_count = ?, updated_at = ?, version = version + 1 WHERE id = ? AND version = ?`)
	logger.DatabaseCall("UPDATE", "communities", "communityID", c.ID, "expectedVersion", expectedVersion)
	res, err := r.q.ExecContext(ctx, query,
		c.Name, c.Description, c.Privacy, c.Status, c.Verified, c.MemberCount, c.UpdatedAt, c.ID, expectedVersion,
	)
	if err != nil {
		return translate(err, "community")
	}
	if err := expectOne(res, "community", c.ID); err != nil {
		return err
	}
	c.Version = expectedVersion + 1
	return nil
}

// List returns communities in status, or every community when status is empty.
func (r *communityRepository) List(ctx context.Context, status domain.CommunityStatus) ([]domain.Community, error) {
	var out []domain.Community
	var err error
	if status == "" {
		err = sqlx.SelectContext(ctx, r.q, &out, `SELECT `+communityColumns+` FROM communities ORDER BY name, id`)
	} else {
		err = sqlx.SelectContext(ctx, r.q, &out, r.q.Rebind(`SELECT `+communityColumns+` FROM communities WHERE status = ? ORDER BY name, id`), status)
	}
	if err != nil {
		return nil, translate(err, "communities")
	}
	return out, nil
}

func (r *communityRepository) ListByIDs(ctx context.Context, ids []int64) ([]domain.Community, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`SELECT `+communityColumns+` FROM communities WHERE id IN (?) ORDER BY name, id`, ids)
	if err != nil {
		return nil, err
	}
	var out []domain.Community
	if err := sqlx.SelectContext(ctx, r.q, &out, r.q.Rebind(query), args...); err != nil {
		return nil, translate(err, "communities")
	}
	return out, nil
}
