package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

type NotificationType string

const (
	NotificationOfferCreated        NotificationType = "offer_created"
	NotificationOfferAccepted       NotificationType = "offer_accepted"
	NotificationOfferDeclined       NotificationType = "offer_declined"
	NotificationRequestCompleted    NotificationType = "request_completed"
	NotificationOfferFraud          NotificationType = "offer_fraud"
	NotificationOfferFraudReview    NotificationType = "offer_fraud_review" // moderators
	NotificationMembershipRequested NotificationType = "membership_requested"
	NotificationMembershipApproved  NotificationType = "membership_approved"
	NotificationCommunityReviewed   NotificationType = "community_reviewed"
)

type DeliveryStatus string

const (
	DeliveryStatusPending   DeliveryStatus = "pending"
	DeliveryStatusDelivered DeliveryStatus = "delivered"
	DeliveryStatusFailed    DeliveryStatus = "failed"
)

// Attributes is a JSON-encoded string map column.
type Attributes map[string]string

func (a Attributes) Value() (driver.Value, error) {
	if a == nil {
		return "{}", nil
	}
	raw, err := json.Marshal(map[string]string(a))
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

func (a *Attributes) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*a = Attributes{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("attributes: unsupported source type %T", src)
	}
	m := map[string]string{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &m); err != nil {
			return fmt.Errorf("attributes: %w", err)
		}
	}
	*a = m
	return nil
}

type Notification struct {
	ID               int64            `json:"id" db:"id"`
	RecipientID      int64            `json:"recipient_id" db:"recipient_id"`
	ActorID          *int64           `json:"actor_id,omitempty" db:"actor_id"`
	ActorName        string           `json:"actor_name" db:"actor_name"`
	Type             NotificationType `json:"type" db:"type"`
	RequestID        *int64           `json:"request_id,omitempty" db:"request_id"`
	OfferID          *int64           `json:"offer_id,omitempty" db:"offer_id"`
	CommunityID      *int64           `json:"community_id,omitempty" db:"community_id"`
	Title            string           `json:"title" db:"title"`
	Message          string           `json:"message" db:"message"`
	Attributes       Attributes       `json:"attributes" db:"attributes"`
	IsRead           bool             `json:"is_read" db:"is_read"`
	DedupKey         string           `json:"-" db:"dedup_key"`
	DeliveryStatus   DeliveryStatus   `json:"-" db:"delivery_status"`
	DeliveryAttempts int32            `json:"-" db:"delivery_attempts"`
	LastError        string           `json:"-" db:"last_error"`
	CreatedAt        time.Time        `json:"created_at" db:"created_at"`
	ReadAt           *time.Time       `json:"read_at,omitempty" db:"read_at"`
}

func (n *Notification) EntityTable() Table { return TableNotifications }
func (n *Notification) EntityID() int64    { return n.ID }
func (*Notification) isEntity()            {}

// DedupKey derives the idempotency key of a fan-out notification from the
// recipient, the notification type, the originating entity and the sequence
// number of the transition that produced it.
func DedupKey(recipientID int64, typ NotificationType, table Table, entityID, seq int64) string {
	return fmt.Sprintf("%d:%s:%s:%d:%d", recipientID, typ, table, entityID, seq)
}
