package order

import "time"

// Status tracks the order lifecycle.
type Status string

const (
	StatusConfirmed  Status = "confirmed"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// PaymentType classifies a payment row.
type PaymentType string

const (
	PaymentDeposit PaymentType = "deposit"
	PaymentFinal   PaymentType = "final"
	PaymentFull    PaymentType = "full"
	PaymentRefund  PaymentType = "refund"
)

// PaymentStatus tracks a payment row.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)

// Order mirrors the orders table. The ID is human-readable
// (MO-YYYYMMDD-NNNN) and generated with collision retry. Monetary amounts
// are integer HK$ cents.
type Order struct {
	ID              string
	QuoteID         string
	RequestID       string
	UserID          string
	PartnerID       string
	TotalAmount     int64
	DepositAmount   int64
	RemainingAmount int64
	ScheduledAt     time.Time
	Status          Status
	Notes           []string
	CancelReason    string
	CompletedAt     *time.Time
	SettlementID    *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Payment mirrors the payments table. Refund rows carry a negative amount
// and point at the payment they draw down via RefundOf; the amount on the
// original row is never mutated afterwards, only its status.
type Payment struct {
	ID         string
	OrderID    string
	Amount     int64
	Type       PaymentType
	Status     PaymentStatus
	GatewayRef string
	RefundOf   *string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Settlement mirrors the settlements table: one periodic payout of
// collected deposits to a partner, minus the platform fee.
type Settlement struct {
	ID          string
	PartnerID   string
	PeriodStart time.Time
	PeriodEnd   time.Time
	GrossAmount int64
	PlatformFee int64
	NetAmount   int64
	OrderCount  int
	CreatedAt   time.Time
}
