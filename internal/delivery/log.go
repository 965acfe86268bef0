package delivery

import (
	"context"

	"helpboard-backend/internal/domain"
	"helpboard-backend/internal/logger"
)

// Log writes notifications to the structured log. It is the default channel
// in development.
type Log struct{}

func (Log) Deliver(ctx context.Context, recipient *domain.Profile, n *domain.Notification) error {
	logger.InfoContext(ctx, "Notification delivered",
		"channel", "log",
		"notificationID", n.ID,
		"recipientID", recipient.ID,
		"type", n.Type,
		"title", n.Title,
	)
	return nil
}
