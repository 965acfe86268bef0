package sqlstore

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"helpboard-backend/internal/domain"
)

const profileColumns = `id, display_name, email, phone, push_token, actor_type, is_moderator, trust_score, created_at, updated_at`

type profileRepository struct {
	q sqlx.ExtContext
}

func (r *profileRepository) Get(ctx context.Context, id int64) (*domain.Profile, error) {
	var p domain.Profile
	if err := sqlx.GetContext(ctx, r.q, &p, r.q.Rebind(`SELECT `+profileColumns+` FROM profiles WHERE id = ?`), id); err != nil {
		return nil, translate(err, "profile")
	}
	return &p, nil
}

// Upsert mirrors an identity-provider profile into the local directory.
func (r *profileRepository) Upsert(ctx context.Context, p *domain.Profile) error {
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	if p.ActorType == "" {
		p.ActorType = domain.ActorTypeIndividual
	}
	query := r.q.Rebind(`INSERT INTO profiles (` + profileColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET display_name = excluded.display_name, email = excluded.email,
		phone = excluded.phone, push_token = excluded.push_token, actor_type = excluded.actor_type,
		is_moderator = excluded.is_moderator, trust_score = excluded.trust_score, updated_at = excluded.updated_at`)
	_, err := r.q.ExecContext(ctx, query,
		p.ID, p.DisplayName, p.Email, p.Phone, p.PushToken, p.ActorType, p.IsModerator, p.TrustScore, p.CreatedAt, p.UpdatedAt,
	)
	return translate(err, "profile")
}

func (r *profileRepository) ListModerators(ctx context.Context) ([]domain.Profile, error) {
	var out []domain.Profile
	query := r.q.Rebind(`SELECT ` + profileColumns + ` FROM profiles WHERE is_moderator = ? ORDER BY id`)
	if err := sqlx.SelectContext(ctx, r.q, &out, query, true); err != nil {
		return nil, translate(err, "profiles")
	}
	return out, nil
}
