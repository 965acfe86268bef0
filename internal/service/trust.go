package service

import (
	"context"
	"errors"

	"helpboard-backend/internal/domain"
	"helpboard-backend/internal/repository"
)

// TrustProvider supplies the opaque trust signal used to auto-approve
// community creation and joins.
type TrustProvider interface {
	TrustScore(ctx context.Context, userID int64) (float64, error)
}

// StaticTrust is a fixed score table. Unknown users score 0.
type StaticTrust map[int64]float64

func (s StaticTrust) TrustScore(_ context.Context, userID int64) (float64, error) {
	return s[userID], nil
}

// ProfileTrust reads the score the identity provider syncs into profiles.
type ProfileTrust struct {
	Profiles repository.ProfileRepository
}

func (p ProfileTrust) TrustScore(ctx context.Context, userID int64) (float64, error) {
	prof, err := p.Profiles.Get(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return prof.TrustScore, nil
}
