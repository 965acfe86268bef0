package domain

import (
	"strings"
	"time"
)

type CommunityPrivacy string

const (
	// CommunityPrivacyOpen accepts joins immediately.
	CommunityPrivacyOpen CommunityPrivacy = "open"
	// CommunityPrivacyApproval queues joins for an admin unless the joiner is trusted.
	CommunityPrivacyApproval CommunityPrivacy = "approval"
)

type CommunityStatus string

const (
	CommunityStatusPendingApproval CommunityStatus = "pending_approval"
	CommunityStatusApproved        CommunityStatus = "approved"
	CommunityStatusRejected        CommunityStatus = "rejected"
)

type Community struct {
	ID          int64            `json:"id" db:"id"`
	Name        string           `json:"name" db:"name"`
	Description string           `json:"description" db:"description"`
	Privacy     CommunityPrivacy `json:"privacy" db:"privacy"`
	Status      CommunityStatus  `json:"status" db:"status"`
	Verified    bool             `json:"verified" db:"verified"`
	CreatorID   int64            `json:"creator_id" db:"creator_id"`
	MemberCount int32            `json:"member_count" db:"member_count"` // active members only
	Version     int64            `json:"version" db:"version"`
	CreatedAt   time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at" db:"updated_at"`
}

func (c *Community) EntityTable() Table { return TableCommunities }
func (c *Community) EntityID() int64    { return c.ID }
func (*Community) isEntity()            {}

type NewCommunity struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Privacy     CommunityPrivacy `json:"privacy"`
}

func (n *NewCommunity) Validate() error {
	n.Name = strings.TrimSpace(n.Name)
	if n.Name == "" {
		return Validationf("community name is required")
	}
	if n.Privacy == "" {
		n.Privacy = CommunityPrivacyApproval
	}
	if n.Privacy != CommunityPrivacyOpen && n.Privacy != CommunityPrivacyApproval {
		return Validationf("unknown privacy %q", n.Privacy)
	}
	return nil
}

type ApprovalStatus string

const (
	ApprovalStatusPending  ApprovalStatus = "pending"
	ApprovalStatusApproved ApprovalStatus = "approved"
	ApprovalStatusRejected ApprovalStatus = "rejected"
)

// CommunityApproval is a moderator review queue entry for a community whose
// creator did not qualify for auto-approval.
type CommunityApproval struct {
	ID          int64          `json:"id" db:"id"`
	CommunityID int64          `json:"community_id" db:"community_id"`
	RequestedBy int64          `json:"requested_by" db:"requested_by"`
	Status      ApprovalStatus `json:"status" db:"status"`
	ReviewerID  *int64         `json:"reviewer_id,omitempty" db:"reviewer_id"`
	Note        string         `json:"note" db:"note"`
	CreatedAt   time.Time      `json:"created_at" db:"created_at"`
	ReviewedAt  *time.Time     `json:"reviewed_at,omitempty" db:"reviewed_at"`
}
