package notify

import "time"

// Channel identifies the delivery medium of one attempt.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// RecordStatus is the outcome of a single delivery attempt.
type RecordStatus string

const (
	StatusSent   RecordStatus = "sent"
	StatusFailed RecordStatus = "failed"
)

// Record mirrors the notification_records table: one row per partner per
// channel per request. Resends update the row in place, so a partner/channel
// pair never appears twice for the same request.
type Record struct {
	ID        string
	RequestID string
	PartnerID string
	Channel   Channel
	Status    RecordStatus
	Error     *string
	Attempts  int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Summary aggregates per-channel delivery counts for a request.
type Summary struct {
	EmailSent   int
	EmailFailed int
	SMSSent     int
	SMSFailed   int
}

// Total returns the number of attempts across both channels.
func (s Summary) Total() int {
	return s.EmailSent + s.EmailFailed + s.SMSSent + s.SMSFailed
}
