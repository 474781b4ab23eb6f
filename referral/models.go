package referral

import "time"

// RelationshipStatus tracks a referral relationship.
type RelationshipStatus string

const (
	RelationshipPending   RelationshipStatus = "pending"
	RelationshipCompleted RelationshipStatus = "completed"
)

// Code mirrors the referral_codes table: one shareable code per user.
type Code struct {
	ID        string
	UserID    string
	Code      string
	CreatedAt time.Time
}

// Relationship mirrors the referral_relationships table. RewardGranted
// guards reward issuance so a repeated completion hook cannot pay twice.
type Relationship struct {
	ID            string
	ReferrerID    string
	RefereeID     string
	Status        RelationshipStatus
	RewardGranted bool
	OrderID       *string
	CompletedAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Reward mirrors the referral_rewards table. Amount is the grant;
// Remaining shrinks as credit is consumed against order deposits.
// Monetary amounts are integer HK$ cents.
type Reward struct {
	ID             string
	UserID         string
	RelationshipID string
	Amount         int64
	Remaining      int64
	ExpiresAt      time.Time
	CreatedAt      time.Time
}
