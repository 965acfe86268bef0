package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Table names an entity table of the change feed.
type Table string

const (
	TableRequests      Table = "help_requests"
	TableOffers        Table = "help_offers"
	TableCommunities   Table = "communities"
	TableMemberships   Table = "community_memberships"
	TableNotifications Table = "notifications"
)

func (t Table) Valid() bool {
	switch t {
	case TableRequests, TableOffers, TableCommunities, TableMemberships, TableNotifications:
		return true
	}
	return false
}

// Entity is the closed set of records carried by change events. The
// unexported method keeps the set limited to this package.
type Entity interface {
	EntityTable() Table
	EntityID() int64
	isEntity()
}

// DecodeEntity parses a JSON payload into the concrete record type of table.
func DecodeEntity(table Table, raw []byte) (Entity, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var target Entity
	switch table {
	case TableRequests:
		target = &HelpRequest{}
	case TableOffers:
		target = &HelpOffer{}
	case TableCommunities:
		target = &Community{}
	case TableMemberships:
		target = &Membership{}
	case TableNotifications:
		target = &Notification{}
	default:
		return nil, Validationf("unknown table %q", table)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", table, err)
	}
	return target, nil
}

type EventType string

const (
	EventUpsert EventType = "upsert"
	EventDelete EventType = "delete"
)

// Transition names the ledger transition that produced an event.
type Transition string

const (
	TransitionRequestCreated    Transition = "request.created"
	TransitionRequestMatched    Transition = "request.matched"
	TransitionRequestInProgress Transition = "request.in_progress"
	TransitionRequestCompleted  Transition = "request.completed"
	TransitionRequestUpdated    Transition = "request.updated"

	TransitionOfferCreated   Transition = "offer.created"
	TransitionOfferAccepted  Transition = "offer.accepted"
	TransitionOfferDeclined  Transition = "offer.declined"
	TransitionOfferCompleted Transition = "offer.completed"
	TransitionOfferReported  Transition = "offer.reported"
	TransitionOfferFlagged   Transition = "offer.flagged_fraud"

	TransitionCommunityCreated  Transition = "community.created"
	TransitionCommunityReviewed Transition = "community.reviewed"
	TransitionCommunityUpdated  Transition = "community.updated"

	TransitionMembershipRequested   Transition = "membership.requested"
	TransitionMembershipJoined      Transition = "membership.joined"
	TransitionMembershipApproved    Transition = "membership.approved"
	TransitionMembershipRejected    Transition = "membership.rejected"
	TransitionMembershipLeft        Transition = "membership.left"
	TransitionMembershipRoleChanged Transition = "membership.role_changed"

	TransitionNotificationCreated Transition = "notification.created"
	TransitionNotificationRead    Transition = "notification.read"
	TransitionNotificationDeleted Transition = "notification.deleted"
)

// ChangeEvent is one ordered mutation of one entity. Seq is the server
// sequence assigned by the change log; it is strictly increasing per entity.
type ChangeEvent struct {
	Seq        int64
	Table      Table
	EntityID   int64
	Type       EventType
	Transition Transition
	ActorID    int64
	Payload    Entity // state after the transition; last known state for deletes
	Previous   Entity // state before the transition, nil on create
	CreatedAt  time.Time
}

// NewChangeEvent builds an event for payload. Seq and CreatedAt are assigned
// by the change log.
func NewChangeEvent(typ EventType, transition Transition, actorID int64, payload, previous Entity) *ChangeEvent {
	return &ChangeEvent{
		Table:      payload.EntityTable(),
		EntityID:   payload.EntityID(),
		Type:       typ,
		Transition: transition,
		ActorID:    actorID,
		Payload:    payload,
		Previous:   previous,
	}
}

type changeEventWire struct {
	Seq        int64           `json:"seq"`
	Table      Table           `json:"table"`
	EntityID   int64           `json:"entity_id"`
	Type       EventType       `json:"type"`
	Transition Transition      `json:"transition,omitempty"`
	ActorID    int64           `json:"actor_id,omitempty"`
	Payload    json.RawMessage `json:"payload"`
	Previous   json.RawMessage `json:"previous,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

func (e ChangeEvent) MarshalJSON() ([]byte, error) {
	w := changeEventWire{
		Seq:        e.Seq,
		Table:      e.Table,
		EntityID:   e.EntityID,
		Type:       e.Type,
		Transition: e.Transition,
		ActorID:    e.ActorID,
		CreatedAt:  e.CreatedAt,
	}
	var err error
	if w.Payload, err = json.Marshal(e.Payload); err != nil {
		return nil, err
	}
	if e.Previous != nil {
		if w.Previous, err = json.Marshal(e.Previous); err != nil {
			return nil, err
		}
	}
	return json.Marshal(w)
}

// UnmarshalJSON validates the table and event type before decoding payloads
// into their concrete record types.
func (e *ChangeEvent) UnmarshalJSON(raw []byte) error {
	var w changeEventWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return err
	}
	if !w.Table.Valid() {
		return Validationf("unknown table %q", w.Table)
	}
	if w.Type != EventUpsert && w.Type != EventDelete {
		return Validationf("unknown event type %q", w.Type)
	}
	payload, err := DecodeEntity(w.Table, w.Payload)
	if err != nil {
		return err
	}
	if payload == nil {
		return Validationf("event %d has no payload", w.Seq)
	}
	previous, err := DecodeEntity(w.Table, w.Previous)
	if err != nil {
		return err
	}
	*e = ChangeEvent{
		Seq:        w.Seq,
		Table:      w.Table,
		EntityID:   w.EntityID,
		Type:       w.Type,
		Transition: w.Transition,
		ActorID:    w.ActorID,
		Payload:    payload,
		Previous:   previous,
		CreatedAt:  w.CreatedAt,
	}
	return nil
}

// CloneEntity returns a shallow copy of e so a published payload does not
// alias a record the caller keeps mutating. nil stays nil.
func CloneEntity(e Entity) Entity {
	switch v := e.(type) {
	case *HelpRequest:
		if v == nil {
			return nil
		}
		c := *v
		return &c
	case *HelpOffer:
		if v == nil {
			return nil
		}
		c := *v
		return &c
	case *Community:
		if v == nil {
			return nil
		}
		c := *v
		return &c
	case *Membership:
		if v == nil {
			return nil
		}
		c := *v
		return &c
	case *Notification:
		if v == nil {
			return nil
		}
		c := *v
		return &c
	}
	return nil
}
