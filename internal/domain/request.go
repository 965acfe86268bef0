package domain

import (
	"strings"
	"time"
)

type Scope string

const (
	ScopeGlobal    Scope = "global"
	ScopeCommunity Scope = "community"
)

type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyMedium   Urgency = "medium"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

var urgencyRank = map[Urgency]int{
	UrgencyLow:      0,
	UrgencyMedium:   1,
	UrgencyHigh:     2,
	UrgencyCritical: 3,
}

func (u Urgency) Valid() bool {
	_, ok := urgencyRank[u]
	return ok
}

// Rank orders urgencies low < medium < high < critical. Unknown values rank -1.
func (u Urgency) Rank() int {
	if r, ok := urgencyRank[u]; ok {
		return r
	}
	return -1
}

// AtLeast returns every urgency ranked at or above u.
func (u Urgency) AtLeast() []Urgency {
	var out []Urgency
	for _, candidate := range []Urgency{UrgencyLow, UrgencyMedium, UrgencyHigh, UrgencyCritical} {
		if candidate.Rank() >= u.Rank() {
			out = append(out, candidate)
		}
	}
	return out
}

type RequestStatus string

const (
	RequestStatusPending    RequestStatus = "pending"
	RequestStatusMatched    RequestStatus = "matched"
	RequestStatusInProgress RequestStatus = "in_progress"
	RequestStatusCompleted  RequestStatus = "completed"
)

var requestStatusRank = map[RequestStatus]int{
	RequestStatusPending:    0,
	RequestStatusMatched:    1,
	RequestStatusInProgress: 2,
	RequestStatusCompleted:  3,
}

func (s RequestStatus) Valid() bool {
	_, ok := requestStatusRank[s]
	return ok
}

// Rank is the position of s in the forward-only request lifecycle.
func (s RequestStatus) Rank() int {
	if r, ok := requestStatusRank[s]; ok {
		return r
	}
	return -1
}

// requestEdges is the allowed transition table. pending->matched is only
// reachable through an accepted offer, see CanTransitionDirectly.
var requestEdges = map[RequestStatus][]RequestStatus{
	RequestStatusPending:    {RequestStatusMatched},
	RequestStatusMatched:    {RequestStatusInProgress, RequestStatusCompleted},
	RequestStatusInProgress: {RequestStatusCompleted},
}

// CanTransition reports whether from->to is an edge of the request lifecycle.
func (s RequestStatus) CanTransition(to RequestStatus) bool {
	for _, next := range requestEdges[s] {
		if next == to {
			return true
		}
	}
	return false
}

// CanTransitionDirectly reports whether an actor may request from->to explicitly.
// The pending->matched edge is driven by offer acceptance only.
func (s RequestStatus) CanTransitionDirectly(to RequestStatus) bool {
	if to == RequestStatusMatched {
		return false
	}
	return s.CanTransition(to)
}

type HelpRequest struct {
	ID             int64         `json:"id" db:"id"`
	OwnerID        int64         `json:"owner_id" db:"owner_id"`
	Scope          Scope         `json:"scope" db:"scope"`
	CommunityID    *int64        `json:"community_id,omitempty" db:"community_id"`
	Title          string        `json:"title" db:"title"`
	Description    string        `json:"description" db:"description"`
	Category       string        `json:"category" db:"category"`
	Urgency        Urgency       `json:"urgency" db:"urgency"`
	AmountCents    int64         `json:"amount_cents" db:"amount_cents"`
	Status         RequestStatus `json:"status" db:"status"`
	SupporterCount int32         `json:"supporter_count" db:"supporter_count"` // offers ever accepted
	Version        int64         `json:"version" db:"version"`
	CreatedAt      time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at" db:"updated_at"`
	CompletedAt    *time.Time    `json:"completed_at,omitempty" db:"completed_at"`
}

func (r *HelpRequest) EntityTable() Table { return TableRequests }
func (r *HelpRequest) EntityID() int64    { return r.ID }
func (*HelpRequest) isEntity()            {}

// NewHelpRequest carries the caller-supplied fields of a request.
type NewHelpRequest struct {
	Scope       Scope   `json:"scope"`
	CommunityID *int64  `json:"community_id,omitempty"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Category    string  `json:"category"`
	Urgency     Urgency `json:"urgency"`
	AmountCents int64   `json:"amount_cents"`
}

// Validate normalizes and checks the fields at the boundary.
func (n *NewHelpRequest) Validate() error {
	n.Title = strings.TrimSpace(n.Title)
	n.Category = strings.TrimSpace(strings.ToLower(n.Category))
	if n.Title == "" {
		return Validationf("title is required")
	}
	if n.Category == "" {
		return Validationf("category is required")
	}
	if n.Urgency == "" {
		n.Urgency = UrgencyMedium
	}
	if !n.Urgency.Valid() {
		return Validationf("unknown urgency %q", n.Urgency)
	}
	if n.AmountCents < 0 {
		return Validationf("requested amount must not be negative")
	}
	if n.Scope == "" {
		n.Scope = ScopeGlobal
	}
	switch n.Scope {
	case ScopeGlobal:
		if n.CommunityID != nil {
			return Validationf("global requests must not reference a community")
		}
	case ScopeCommunity:
		if n.CommunityID == nil || *n.CommunityID <= 0 {
			return Validationf("community requests require a community id")
		}
	default:
		return Validationf("unknown scope %q", n.Scope)
	}
	return nil
}
