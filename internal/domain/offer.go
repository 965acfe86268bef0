package domain

import (
	"strings"
	"time"
)

// DefaultFraudThreshold is the number of distinct reporters after which an
// offer is irreversibly reclassified as fraud.
const DefaultFraudThreshold = 10

const maxOfferMessageLength = 2000

type OfferStatus string

const (
	OfferStatusPending   OfferStatus = "pending"
	OfferStatusAccepted  OfferStatus = "accepted"
	OfferStatusDeclined  OfferStatus = "declined"
	OfferStatusCompleted OfferStatus = "completed"
	OfferStatusFraud     OfferStatus = "fraud"
)

func (s OfferStatus) Valid() bool {
	switch s {
	case OfferStatusPending, OfferStatusAccepted, OfferStatusDeclined, OfferStatusCompleted, OfferStatusFraud:
		return true
	}
	return false
}

// Terminal statuses accept no further status writes.
func (s OfferStatus) Terminal() bool {
	return s == OfferStatusFraud || s == OfferStatusCompleted
}

// Contributed reports whether the helper of an offer in this status counts as
// having contributed to the request.
func (s OfferStatus) Contributed() bool {
	return s == OfferStatusAccepted || s == OfferStatusCompleted
}

type HelpOffer struct {
	ID          int64       `json:"id" db:"id"`
	RequestID   int64       `json:"request_id" db:"request_id"`
	HelperID    int64       `json:"helper_id" db:"helper_id"`
	RequesterID int64       `json:"requester_id" db:"requester_id"` // snapshot at creation
	Message     string      `json:"message" db:"message"`
	Status      OfferStatus `json:"status" db:"status"`
	ReportCount int32       `json:"report_count" db:"report_count"`
	Version     int64       `json:"version" db:"version"`
	CreatedAt   time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at" db:"updated_at"`
}

func (o *HelpOffer) EntityTable() Table { return TableOffers }
func (o *HelpOffer) EntityID() int64    { return o.ID }
func (*HelpOffer) isEntity()            {}

// ReportResult is returned by the report operation.
type ReportResult struct {
	Status      OfferStatus `json:"status"`
	ReportCount int32       `json:"report_count"`
	Flagged     bool        `json:"flagged"` // true only for the call that crossed the threshold
}

// NormalizeOfferMessage trims and bounds a helper message.
func NormalizeOfferMessage(msg string) (string, error) {
	msg = strings.TrimSpace(msg)
	if len(msg) > maxOfferMessageLength {
		return "", Validationf("message exceeds %d characters", maxOfferMessageLength)
	}
	return msg, nil
}
