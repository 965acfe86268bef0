package delivery

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"

	"helpboard-backend/internal/domain"
)

// Multi fans a notification out to every channel in parallel. It succeeds if
// at least one channel delivered; when none had a route it returns ErrNoRoute.
type Multi []Deliverer

func (m Multi) Deliver(ctx context.Context, recipient *domain.Profile, n *domain.Notification) error {
	var (
		mu        sync.Mutex
		delivered int
		failures  []error
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, d := range m {
		g.Go(func() error {
			err := d.Deliver(gctx, recipient, n)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				delivered++
			case !errors.Is(err, ErrNoRoute):
				failures = append(failures, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	if delivered > 0 {
		return nil
	}
	if len(failures) == 0 {
		return ErrNoRoute
	}
	return errors.Join(failures...)
}
