package notify

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"moveflow/partner"
	"moveflow/quote"
)

// emailTemplate is the transactional-email template for new quote requests.
const emailTemplate = "quote_request_new"

// RequestSource loads quote requests for resend content.
type RequestSource interface {
	GetRequest(ctx context.Context, requestID string) (quote.Request, error)
}

// PartnerSource loads partner contact details for resend targets.
type PartnerSource interface {
	GetByID(ctx context.Context, partnerID string) (partner.Partner, error)
}

// Dispatcher fans a quote request out to partners over email and SMS.
// Delivery is best-effort: failures are captured per record and never fail
// the parent workflow.
type Dispatcher struct {
	repo     Repository
	requests RequestSource
	partners PartnerSource
	email    EmailSender
	sms      SMSSender
}

// NewDispatcher builds the dispatcher. Providers are injected so tests can
// substitute fakes and dev environments can use the simulated senders.
func NewDispatcher(repo Repository, requests RequestSource, partners PartnerSource, email EmailSender, sms SMSSender) *Dispatcher {
	return &Dispatcher{
		repo:     repo,
		requests: requests,
		partners: partners,
		email:    email,
		sms:      sms,
	}
}

type attempt struct {
	partnerID string
	channel   Channel
	err       error
}

// DispatchQuoteRequest sends one email and one SMS to every partner. The
// two channels are independent failure domains: an email failure never
// blocks the SMS attempt and vice versa. Per-channel counts are written
// back onto the request.
func (d *Dispatcher) DispatchQuoteRequest(ctx context.Context, req quote.Request, partners []partner.Partner) (Summary, error) {
	var (
		mu       sync.Mutex
		attempts = make([]attempt, 0, len(partners)*2)
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range partners {
		g.Go(func() error {
			err := d.email.SendTemplate(gctx, p.Email, emailTemplate, emailData(req))
			mu.Lock()
			attempts = append(attempts, attempt{partnerID: p.ID, channel: ChannelEmail, err: err})
			mu.Unlock()
			return nil
		})
		g.Go(func() error {
			err := d.sms.SendSMS(gctx, p.Phone, smsText(req))
			mu.Lock()
			attempts = append(attempts, attempt{partnerID: p.ID, channel: ChannelSMS, err: err})
			mu.Unlock()
			return nil
		})
	}
	// Workers always return nil; failures live in the attempts slice.
	_ = g.Wait()

	for _, a := range attempts {
		if _, err := d.repo.UpsertRecord(ctx, recordFor(req.ID, a)); err != nil {
			return Summary{}, err
		}
	}

	summary := summarize(attempts)
	if err := d.repo.UpdateRequestCounters(ctx, req.ID, summary); err != nil {
		return Summary{}, err
	}
	return summary, nil
}

// ResendFailed retries only the failed partner/channel pairs for the
// request and recomputes the counters. Previously sent records are never
// reprocessed.
func (d *Dispatcher) ResendFailed(ctx context.Context, requestID string) (Summary, error) {
	failed, err := d.repo.ListFailed(ctx, requestID)
	if err != nil {
		return Summary{}, err
	}

	if len(failed) > 0 {
		req, err := d.requests.GetRequest(ctx, requestID)
		if err != nil {
			return Summary{}, err
		}

		var (
			mu       sync.Mutex
			attempts = make([]attempt, 0, len(failed))
		)
		g, gctx := errgroup.WithContext(ctx)
		for _, rec := range failed {
			g.Go(func() error {
				p, err := d.partners.GetByID(gctx, rec.PartnerID)
				if err == nil {
					switch rec.Channel {
					case ChannelEmail:
						err = d.email.SendTemplate(gctx, p.Email, emailTemplate, emailData(req))
					case ChannelSMS:
						err = d.sms.SendSMS(gctx, p.Phone, smsText(req))
					}
				}
				mu.Lock()
				attempts = append(attempts, attempt{partnerID: rec.PartnerID, channel: rec.Channel, err: err})
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()

		for _, a := range attempts {
			if _, err := d.repo.UpsertRecord(ctx, recordFor(requestID, a)); err != nil {
				return Summary{}, err
			}
		}
	}

	records, err := d.repo.ListByRequest(ctx, requestID)
	if err != nil {
		return Summary{}, err
	}
	summary := summarizeRecords(records)
	if err := d.repo.UpdateRequestCounters(ctx, requestID, summary); err != nil {
		return Summary{}, err
	}
	return summary, nil
}

// Records returns the delivery history for a request.
func (d *Dispatcher) Records(ctx context.Context, requestID string) ([]Record, error) {
	return d.repo.ListByRequest(ctx, requestID)
}

func recordFor(requestID string, a attempt) Record {
	rec := Record{
		RequestID: requestID,
		PartnerID: a.partnerID,
		Channel:   a.channel,
		Status:    StatusSent,
	}
	if a.err != nil {
		rec.Status = StatusFailed
		msg := a.err.Error()
		rec.Error = &msg
	}
	return rec
}

func summarize(attempts []attempt) Summary {
	var s Summary
	for _, a := range attempts {
		switch {
		case a.channel == ChannelEmail && a.err == nil:
			s.EmailSent++
		case a.channel == ChannelEmail:
			s.EmailFailed++
		case a.err == nil:
			s.SMSSent++
		default:
			s.SMSFailed++
		}
	}
	return s
}

func summarizeRecords(records []Record) Summary {
	var s Summary
	for _, rec := range records {
		switch {
		case rec.Channel == ChannelEmail && rec.Status == StatusSent:
			s.EmailSent++
		case rec.Channel == ChannelEmail:
			s.EmailFailed++
		case rec.Status == StatusSent:
			s.SMSSent++
		default:
			s.SMSFailed++
		}
	}
	return s
}

func emailData(req quote.Request) map[string]string {
	return map[string]string{
		"request_id":   req.ID,
		"move_date":    req.MoveDate.Format("2006-01-02"),
		"origin":       req.Origin.District,
		"destination":  req.Destination.District,
		"contact_name": req.ContactName,
	}
}

func smsText(req quote.Request) string {
	return fmt.Sprintf("【搬屋易】新搬運需求 %s：%s → %s（%s），請登入平台報價。",
		req.ID, req.Origin.District, req.Destination.District, req.MoveDate.Format("01-02"))
}
