package quote

import "time"

// RequestStatus tracks the quote-request lifecycle.
type RequestStatus string

const (
	RequestPending   RequestStatus = "pending"
	RequestSent      RequestStatus = "sent"
	RequestQuoted    RequestStatus = "quoted"
	RequestAccepted  RequestStatus = "accepted"
	RequestCompleted RequestStatus = "completed"
	RequestCancelled RequestStatus = "cancelled"
)

// Status tracks an individual quote.
type Status string

const (
	StatusSubmitted Status = "submitted"
	StatusAccepted  Status = "accepted"
	StatusRejected  Status = "rejected"
	StatusExpired   Status = "expired"
)

// Address describes one end of the move.
type Address struct {
	Line     string `json:"line"`
	District string `json:"district"`
	Floor    int    `json:"floor"`
	Elevator bool   `json:"elevator"`
}

// Item is one entry on the customer's inventory list.
type Item struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	Note     string `json:"note,omitempty"`
}

// ServiceFlags are the optional services the customer asked for.
type ServiceFlags struct {
	Packing  bool `json:"packing"`
	Disposal bool `json:"disposal"`
	Storage  bool `json:"storage"`
}

// NotificationStatus carries the per-channel dispatch counters written back
// by the notification dispatcher.
type NotificationStatus struct {
	EmailSent   int `json:"email_sent"`
	EmailFailed int `json:"email_failed"`
	SMSSent     int `json:"sms_sent"`
	SMSFailed   int `json:"sms_failed"`
}

// Request mirrors the quote_requests table. The ID is human-readable
// (MR-YYYYMMDD-NNNN) and generated with collision retry.
type Request struct {
	ID                 string
	UserID             string
	ContactName        string
	ContactPhone       string
	ContactEmail       string
	MoveDate           time.Time
	Origin             Address
	Destination        Address
	Items              []Item
	Services           ServiceFlags
	Status             RequestStatus
	NotificationStatus NotificationStatus
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// TimeSlot is a partner-proposed service window.
type TimeSlot struct {
	Date string `json:"date"`
	Time string `json:"time"`
}

// Quote mirrors the quotes table. Monetary amounts are integer HK$ cents.
type Quote struct {
	ID                 string
	RequestID          string
	PartnerID          string
	BasicFee           int64
	AdditionalServices map[string]int64
	Discount           int64
	TotalAmount        int64
	AvailableTimes     []TimeSlot
	Status             Status
	ExpiresAt          time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// CreateRequestParams contains customer-submitted request data.
type CreateRequestParams struct {
	UserID       string
	ContactName  string
	ContactPhone string
	ContactEmail string
	MoveDate     time.Time
	Origin       Address
	Destination  Address
	Items        []Item
	Services     ServiceFlags
}

// SubmitQuoteParams contains a partner's pricing for a request.
type SubmitQuoteParams struct {
	RequestID          string
	PartnerID          string
	BasicFee           int64
	AdditionalServices map[string]int64
	Discount           int64
	AvailableTimes     []TimeSlot
}
