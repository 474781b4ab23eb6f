package partner

import "time"

// Status represents the lifecycle of a partner account.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
)

// Partner mirrors the partners table. Rating and ReviewCount are aggregates
// recomputed whenever a new review lands.
type Partner struct {
	ID          string
	UserID      string
	CompanyName string
	ContactName string
	Phone       string
	Email       string
	Status      Status
	Rating      float64
	ReviewCount int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Review is a customer's rating of a partner, tied to a completed order.
type Review struct {
	ID        string
	OrderID   string
	PartnerID string
	UserID    string
	Rating    int
	Comment   string
	CreatedAt time.Time
}

// RegisterParams contains write parameters for creating partner accounts.
type RegisterParams struct {
	UserID      string
	CompanyName string
	ContactName string
	Phone       string
	Email       string
}
