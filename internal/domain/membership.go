package domain

import "time"

type MembershipRole string

const (
	MembershipRoleAdmin  MembershipRole = "admin"
	MembershipRoleMember MembershipRole = "member"
)

func (r MembershipRole) Valid() bool {
	return r == MembershipRoleAdmin || r == MembershipRoleMember
}

type MembershipStatus string

const (
	MembershipStatusPending MembershipStatus = "pending"
	MembershipStatusActive  MembershipStatus = "active"
)

type Membership struct {
	ID          int64            `json:"id" db:"id"`
	CommunityID int64            `json:"community_id" db:"community_id"`
	UserID      int64            `json:"user_id" db:"user_id"`
	Role        MembershipRole   `json:"role" db:"role"`
	Status      MembershipStatus `json:"status" db:"status"`
	JoinedAt    *time.Time       `json:"joined_at,omitempty" db:"joined_at"` // set on activation
	Version     int64            `json:"version" db:"version"`
	CreatedAt   time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at" db:"updated_at"`
}

func (m *Membership) EntityTable() Table { return TableMemberships }
func (m *Membership) EntityID() int64    { return m.ID }
func (*Membership) isEntity()            {}

// IsActiveAdmin reports whether m counts toward the admin-retention invariant.
func (m *Membership) IsActiveAdmin() bool {
	return m != nil && m.Role == MembershipRoleAdmin && m.Status == MembershipStatusActive
}

type ActorType string

const (
	ActorTypeIndividual ActorType = "individual"
	ActorTypeNGO        ActorType = "ngo"
)

// Profile is the core's read-only view of an actor supplied by the identity
// provider. Contact fields are snapshotted into notifications.
type Profile struct {
	ID          int64     `json:"id" db:"id"`
	DisplayName string    `json:"display_name" db:"display_name"`
	Email       string    `json:"email" db:"email"`
	Phone       string    `json:"phone" db:"phone"`
	PushToken   string    `json:"-" db:"push_token"`
	ActorType   ActorType `json:"actor_type" db:"actor_type"`
	IsModerator bool      `json:"is_moderator" db:"is_moderator"`
	TrustScore  float64   `json:"-" db:"trust_score"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}
