package delivery

import (
	"context"
	"fmt"

	"helpboard-backend/internal/config"
)

// New builds the deliverer for cfg.Mode.
func New(ctx context.Context, cfg config.DeliveryConfig) (Deliverer, error) {
	switch cfg.Mode {
	case "", "log":
		return Log{}, nil
	case "fcm":
		return NewFCM(ctx, cfg.FirebaseCredentials)
	case "sendgrid":
		return NewSendGrid(cfg.SendGridAPIKey, cfg.FromEmail, cfg.FromName), nil
	case "all":
		push, err := NewFCM(ctx, cfg.FirebaseCredentials)
		if err != nil {
			return nil, err
		}
		return Multi{push, NewSendGrid(cfg.SendGridAPIKey, cfg.FromEmail, cfg.FromName)}, nil
	default:
		return nil, fmt.Errorf("unsupported delivery mode %q", cfg.Mode)
	}
}
