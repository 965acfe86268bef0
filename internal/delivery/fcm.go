package delivery

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"

	"helpboard-backend/internal/domain"
	"helpboard-backend/internal/logger"
)

type pushSender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// FCM sends notifications as Firebase Cloud Messaging pushes to the
// recipient's registered device token.
type FCM struct {
	client pushSender
}

// NewFCM builds a messaging client from a service account file. An empty
// path falls back to application default credentials.
func NewFCM(ctx context.Context, credentialsFile string) (*FCM, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	app, err := firebase.NewApp(ctx, nil, opts...)
	if err != nil {
		return nil, fmt.Errorf("init firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("init firebase messaging: %w", err)
	}
	return &FCM{client: client}, nil
}

func (f *FCM) Deliver(ctx context.Context, recipient *domain.Profile, n *domain.Notification) error {
	if recipient.PushToken == "" {
		return ErrNoRoute
	}
	msg := &messaging.Message{
		Token: recipient.PushToken,
		Notification: &messaging.Notification{
			Title: n.Title,
			Body:  n.Message,
		},
		Data: payload(n),
	}
	logger.ExternalServiceCall("FCM", "Send", "notificationID", n.ID, "recipientID", recipient.ID)
	id, err := f.client.Send(ctx, msg)
	logger.ExternalServiceResult("FCM", "Send", err, "messageID", id)
	if err != nil {
		return fmt.Errorf("fcm send: %w", err)
	}
	return nil
}
