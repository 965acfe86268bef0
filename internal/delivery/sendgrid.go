package delivery

import (
	"context"
	"fmt"
	"html"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"helpboard-backend/internal/domain"
	"helpboard-backend/internal/logger"
)

type sendFunc func(ctx context.Context, message *mail.SGMailV3) (status int, body string, err error)

// SendGrid emails notifications to the recipient's address.
type SendGrid struct {
	send      sendFunc
	fromEmail string
	fromName  string
}

func NewSendGrid(apiKey, fromEmail, fromName string) *SendGrid {
	client := sendgrid.NewSendClient(apiKey)
	return &SendGrid{
		send: func(ctx context.Context, message *mail.SGMailV3) (int, string, error) {
			resp, err := client.SendWithContext(ctx, message)
			if err != nil {
				return 0, "", err
			}
			return resp.StatusCode, resp.Body, nil
		},
		fromEmail: fromEmail,
		fromName:  fromName,
	}
}

func (s *SendGrid) Deliver(ctx context.Context, recipient *domain.Profile, n *domain.Notification) error {
	if recipient.Email == "" {
		return ErrNoRoute
	}
	from := mail.NewEmail(s.fromName, s.fromEmail)
	to := mail.NewEmail(recipient.DisplayName, recipient.Email)
	message := mail.NewSingleEmail(from, n.Title, to, n.Message, renderHTML(n))
	for k, v := range payload(n) {
		message.SetHeader("X-Helpboard-"+k, v)
	}

	logger.ExternalServiceCall("SendGrid", "Send", "notificationID", n.ID, "recipientID", recipient.ID)
	status, body, err := s.send(ctx, message)
	if err == nil && status >= 400 {
		err = fmt.Errorf("sendgrid error: status %d, body: %s", status, body)
	}
	logger.ExternalServiceResult("SendGrid", "Send", err, "status", status)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

func renderHTML(n *domain.Notification) string {
	return fmt.Sprintf("<html><body><h2>%s</h2><p>%s</p></body></html>",
		html.EscapeString(n.Title), html.EscapeString(n.Message))
}
