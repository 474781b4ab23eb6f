package main

import (
	"time"

	"moveflow/auth"
	"moveflow/notify"
	"moveflow/order"
	"moveflow/partner"
	"moveflow/quote"
	"moveflow/referral"
)

// Response DTOs. Domain models carry no JSON tags, so the wire shape is
// pinned down here and nowhere else.

type userResponse struct {
	ID        string    `json:"id"`
	Phone     string    `json:"phone"`
	Email     *string   `json:"email,omitempty"`
	FullName  string    `json:"full_name"`
	Role      auth.Role `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

func toUserResponse(u auth.User) userResponse {
	return userResponse{
		ID:        u.ID,
		Phone:     u.Phone,
		Email:     u.Email,
		FullName:  u.FullName,
		Role:      u.Role,
		CreatedAt: u.CreatedAt,
	}
}

type loginResponse struct {
	Token string       `json:"token"`
	User  userResponse `json:"user"`
}

type requestResponse struct {
	ID            string                   `json:"id"`
	ContactName   string                   `json:"contact_name"`
	ContactPhone  string                   `json:"contact_phone"`
	ContactEmail  string                   `json:"contact_email,omitempty"`
	MoveDate      time.Time                `json:"move_date"`
	Origin        quote.Address            `json:"origin"`
	Destination   quote.Address            `json:"destination"`
	Items         []quote.Item             `json:"items"`
	Services      quote.ServiceFlags       `json:"services"`
	Status        quote.RequestStatus      `json:"status"`
	Notifications quote.NotificationStatus `json:"notifications"`
	CreatedAt     time.Time                `json:"created_at"`
}

func toRequestResponse(req quote.Request) requestResponse {
	return requestResponse{
		ID:            req.ID,
		ContactName:   req.ContactName,
		ContactPhone:  req.ContactPhone,
		ContactEmail:  req.ContactEmail,
		MoveDate:      req.MoveDate,
		Origin:        req.Origin,
		Destination:   req.Destination,
		Items:         req.Items,
		Services:      req.Services,
		Status:        req.Status,
		Notifications: req.NotificationStatus,
		CreatedAt:     req.CreatedAt,
	}
}

func toRequestResponses(reqs []quote.Request) []requestResponse {
	out := make([]requestResponse, len(reqs))
	for i, req := range reqs {
		out[i] = toRequestResponse(req)
	}
	return out
}

type quoteResponse struct {
	ID                 string           `json:"id"`
	RequestID          string           `json:"request_id"`
	PartnerID          string           `json:"partner_id"`
	BasicFee           int64            `json:"basic_fee"`
	AdditionalServices map[string]int64 `json:"additional_services,omitempty"`
	Discount           int64            `json:"discount"`
	TotalAmount        int64            `json:"total_amount"`
	AvailableTimes     []quote.TimeSlot `json:"available_times"`
	Status             quote.Status     `json:"status"`
	ExpiresAt          time.Time        `json:"expires_at"`
	CreatedAt          time.Time        `json:"created_at"`
}

func toQuoteResponse(q quote.Quote) quoteResponse {
	return quoteResponse{
		ID:                 q.ID,
		RequestID:          q.RequestID,
		PartnerID:          q.PartnerID,
		BasicFee:           q.BasicFee,
		AdditionalServices: q.AdditionalServices,
		Discount:           q.Discount,
		TotalAmount:        q.TotalAmount,
		AvailableTimes:     q.AvailableTimes,
		Status:             q.Status,
		ExpiresAt:          q.ExpiresAt,
		CreatedAt:          q.CreatedAt,
	}
}

func toQuoteResponses(quotes []quote.Quote) []quoteResponse {
	out := make([]quoteResponse, len(quotes))
	for i, q := range quotes {
		out[i] = toQuoteResponse(q)
	}
	return out
}

type orderResponse struct {
	ID              string       `json:"id"`
	QuoteID         string       `json:"quote_id"`
	RequestID       string       `json:"request_id"`
	UserID          string       `json:"user_id"`
	PartnerID       string       `json:"partner_id"`
	TotalAmount     int64        `json:"total_amount"`
	DepositAmount   int64        `json:"deposit_amount"`
	RemainingAmount int64        `json:"remaining_amount"`
	ScheduledAt     time.Time    `json:"scheduled_at"`
	Status          order.Status `json:"status"`
	Notes           []string     `json:"notes,omitempty"`
	CancelReason    string       `json:"cancel_reason,omitempty"`
	CompletedAt     *time.Time   `json:"completed_at,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
}

func toOrderResponse(o order.Order) orderResponse {
	return orderResponse{
		ID:              o.ID,
		QuoteID:         o.QuoteID,
		RequestID:       o.RequestID,
		UserID:          o.UserID,
		PartnerID:       o.PartnerID,
		TotalAmount:     o.TotalAmount,
		DepositAmount:   o.DepositAmount,
		RemainingAmount: o.RemainingAmount,
		ScheduledAt:     o.ScheduledAt,
		Status:          o.Status,
		Notes:           o.Notes,
		CancelReason:    o.CancelReason,
		CompletedAt:     o.CompletedAt,
		CreatedAt:       o.CreatedAt,
	}
}

func toOrderResponses(orders []order.Order) []orderResponse {
	out := make([]orderResponse, len(orders))
	for i, o := range orders {
		out[i] = toOrderResponse(o)
	}
	return out
}

type paymentResponse struct {
	ID         string              `json:"id"`
	OrderID    string              `json:"order_id"`
	Amount     int64               `json:"amount"`
	Type       order.PaymentType   `json:"type"`
	Status     order.PaymentStatus `json:"status"`
	GatewayRef string              `json:"gateway_ref,omitempty"`
	CreatedAt  time.Time           `json:"created_at"`
}

func toPaymentResponse(p order.Payment) paymentResponse {
	return paymentResponse{
		ID:         p.ID,
		OrderID:    p.OrderID,
		Amount:     p.Amount,
		Type:       p.Type,
		Status:     p.Status,
		GatewayRef: p.GatewayRef,
		CreatedAt:  p.CreatedAt,
	}
}

type settlementResponse struct {
	ID          string    `json:"id"`
	PartnerID   string    `json:"partner_id"`
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
	GrossAmount int64     `json:"gross_amount"`
	PlatformFee int64     `json:"platform_fee"`
	NetAmount   int64     `json:"net_amount"`
	OrderCount  int       `json:"order_count"`
	CreatedAt   time.Time `json:"created_at"`
}

func toSettlementResponse(st order.Settlement) settlementResponse {
	return settlementResponse{
		ID:          st.ID,
		PartnerID:   st.PartnerID,
		PeriodStart: st.PeriodStart,
		PeriodEnd:   st.PeriodEnd,
		GrossAmount: st.GrossAmount,
		PlatformFee: st.PlatformFee,
		NetAmount:   st.NetAmount,
		OrderCount:  st.OrderCount,
		CreatedAt:   st.CreatedAt,
	}
}

type partnerResponse struct {
	ID          string         `json:"id"`
	CompanyName string         `json:"company_name"`
	ContactName string         `json:"contact_name,omitempty"`
	Phone       string         `json:"phone"`
	Email       string         `json:"email"`
	Status      partner.Status `json:"status"`
	Rating      float64        `json:"rating"`
	ReviewCount int            `json:"review_count"`
	CreatedAt   time.Time      `json:"created_at"`
}

func toPartnerResponse(p partner.Partner) partnerResponse {
	return partnerResponse{
		ID:          p.ID,
		CompanyName: p.CompanyName,
		ContactName: p.ContactName,
		Phone:       p.Phone,
		Email:       p.Email,
		Status:      p.Status,
		Rating:      p.Rating,
		ReviewCount: p.ReviewCount,
		CreatedAt:   p.CreatedAt,
	}
}

func toPartnerResponses(partners []partner.Partner) []partnerResponse {
	out := make([]partnerResponse, len(partners))
	for i, p := range partners {
		out[i] = toPartnerResponse(p)
	}
	return out
}

type reviewResponse struct {
	ID        string    `json:"id"`
	OrderID   string    `json:"order_id"`
	PartnerID string    `json:"partner_id"`
	Rating    int       `json:"rating"`
	Comment   string    `json:"comment,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func toReviewResponse(rv partner.Review) reviewResponse {
	return reviewResponse{
		ID:        rv.ID,
		OrderID:   rv.OrderID,
		PartnerID: rv.PartnerID,
		Rating:    rv.Rating,
		Comment:   rv.Comment,
		CreatedAt: rv.CreatedAt,
	}
}

func toReviewResponses(reviews []partner.Review) []reviewResponse {
	out := make([]reviewResponse, len(reviews))
	for i, rv := range reviews {
		out[i] = toReviewResponse(rv)
	}
	return out
}

type notificationRecordResponse struct {
	PartnerID string              `json:"partner_id"`
	Channel   notify.Channel      `json:"channel"`
	Status    notify.RecordStatus `json:"status"`
	Error     *string             `json:"error,omitempty"`
	Attempts  int                 `json:"attempts"`
	UpdatedAt time.Time           `json:"updated_at"`
}

func toNotificationResponses(records []notify.Record) []notificationRecordResponse {
	out := make([]notificationRecordResponse, len(records))
	for i, rec := range records {
		out[i] = notificationRecordResponse{
			PartnerID: rec.PartnerID,
			Channel:   rec.Channel,
			Status:    rec.Status,
			Error:     rec.Error,
			Attempts:  rec.Attempts,
			UpdatedAt: rec.UpdatedAt,
		}
	}
	return out
}

type summaryResponse struct {
	EmailSent   int `json:"email_sent"`
	EmailFailed int `json:"email_failed"`
	SMSSent     int `json:"sms_sent"`
	SMSFailed   int `json:"sms_failed"`
	Total       int `json:"total"`
}

func toSummaryResponse(s notify.Summary) summaryResponse {
	return summaryResponse{
		EmailSent:   s.EmailSent,
		EmailFailed: s.EmailFailed,
		SMSSent:     s.SMSSent,
		SMSFailed:   s.SMSFailed,
		Total:       s.Total(),
	}
}

type referralCodeResponse struct {
	Code      string    `json:"code"`
	CreatedAt time.Time `json:"created_at"`
}

type relationshipResponse struct {
	ReferrerID  string                      `json:"referrer_id"`
	RefereeID   string                      `json:"referee_id"`
	Status      referral.RelationshipStatus `json:"status"`
	CompletedAt *time.Time                  `json:"completed_at,omitempty"`
	CreatedAt   time.Time                   `json:"created_at"`
}

func toRelationshipResponse(rel referral.Relationship) relationshipResponse {
	return relationshipResponse{
		ReferrerID:  rel.ReferrerID,
		RefereeID:   rel.RefereeID,
		Status:      rel.Status,
		CompletedAt: rel.CompletedAt,
		CreatedAt:   rel.CreatedAt,
	}
}

type rewardResponse struct {
	Amount    int64     `json:"amount"`
	Remaining int64     `json:"remaining"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

func toRewardResponses(rewards []referral.Reward) []rewardResponse {
	out := make([]rewardResponse, len(rewards))
	for i, rw := range rewards {
		out[i] = rewardResponse{
			Amount:    rw.Amount,
			Remaining: rw.Remaining,
			ExpiresAt: rw.ExpiresAt,
			CreatedAt: rw.CreatedAt,
		}
	}
	return out
}

type uploadResponse struct {
	Key string `json:"key"`
	URL string `json:"url"`
}
