package delivery

import (
	"context"
	"errors"
	"strconv"

	"helpboard-backend/internal/domain"
)

// ErrNoRoute is returned when the recipient has no address for a channel.
// The notification stays readable in the inbox, so it is not retried.
var ErrNoRoute = errors.New("recipient has no delivery address")

// Deliverer pushes a stored notification to its recipient out of band.
type Deliverer interface {
	Deliver(ctx context.Context, recipient *domain.Profile, n *domain.Notification) error
}

// Func adapts a plain function to Deliverer.
type Func func(ctx context.Context, recipient *domain.Profile, n *domain.Notification) error

func (f Func) Deliver(ctx context.Context, recipient *domain.Profile, n *domain.Notification) error {
	return f(ctx, recipient, n)
}

// payload flattens a notification into string key/values for push data and
// email templates.
func payload(n *domain.Notification) map[string]string {
	data := map[string]string{
		"notification_id": itoa(n.ID),
		"type":            string(n.Type),
	}
	if n.RequestID != nil {
		data["request_id"] = itoa(*n.RequestID)
	}
	if n.OfferID != nil {
		data["offer_id"] = itoa(*n.OfferID)
	}
	if n.CommunityID != nil {
		data["community_id"] = itoa(*n.CommunityID)
	}
	for k, v := range n.Attributes {
		data[k] = v
	}
	return data
}

func itoa(v int64) string { return strconv.FormatInt(v, 10) }
