package quote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

var (
	// ErrNotOwner signals the caller does not own the request.
	ErrNotOwner = errors.New("quote: request not owned by caller")
	// ErrRequestClosed signals the request no longer accepts this operation.
	ErrRequestClosed = errors.New("quote: request closed")
	// ErrQuoteExpired signals the 48-hour quote window has passed.
	ErrQuoteExpired = errors.New("quote: quote expired")
	// ErrQuoteNotAcceptable signals the quote is rejected or otherwise dead.
	ErrQuoteNotAcceptable = errors.New("quote: quote not acceptable")
	// ErrPartnerInactive signals a quote submission from a non-active partner.
	ErrPartnerInactive = errors.New("quote: partner not active")
	// ErrInvalidPricing signals a negative fee or total.
	ErrInvalidPricing = errors.New("quote: invalid pricing")
)

// quoteTTL is the window during which a submitted quote can be accepted.
const quoteTTL = 48 * time.Hour

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PartnerGate reports whether a partner may submit quotes. The partner
// package provides the production implementation.
type PartnerGate interface {
	IsActivePartner(ctx context.Context, partnerID string) (bool, error)
}

// Service owns the quote-request workflow.
type Service struct {
	pool     TxBeginner
	repo     Repository
	partners PartnerGate
	now      func() time.Time
	idGen    func(time.Time) string
}

// NewService builds the quote service.
func NewService(pool TxBeginner, repo Repository, partners PartnerGate) *Service {
	return &Service{
		pool:     pool,
		repo:     repo,
		partners: partners,
		now:      time.Now,
		idGen:    NewRequestID,
	}
}

// WithClock overrides the time source for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// WithIDGenerator overrides request ID generation for tests.
func (s *Service) WithIDGenerator(gen func(time.Time) string) *Service {
	s.idGen = gen
	return s
}

// CreateRequest validates and persists a new quote request in pending
// state, retrying the human-readable ID on collision. Notification fan-out
// is the caller's next step and its failure never rolls this back.
func (s *Service) CreateRequest(ctx context.Context, params CreateRequestParams) (Request, error) {
	if params.UserID == "" {
		return Request{}, fmt.Errorf("quote: missing user id")
	}
	if params.ContactName == "" || params.ContactPhone == "" {
		return Request{}, fmt.Errorf("quote: contact name and phone are required")
	}
	if params.Origin.Line == "" || params.Destination.Line == "" {
		return Request{}, fmt.Errorf("quote: origin and destination are required")
	}
	if len(params.Items) == 0 {
		return Request{}, fmt.Errorf("quote: item list is empty")
	}
	if params.MoveDate.Before(s.now()) {
		return Request{}, fmt.Errorf("quote: move date is in the past")
	}

	req := Request{
		UserID:       params.UserID,
		ContactName:  params.ContactName,
		ContactPhone: params.ContactPhone,
		ContactEmail: params.ContactEmail,
		MoveDate:     params.MoveDate,
		Origin:       params.Origin,
		Destination:  params.Destination,
		Items:        params.Items,
		Services:     params.Services,
		Status:       RequestPending,
	}

	const maxIDRetries = 5
	for attempt := 0; attempt < maxIDRetries; attempt++ {
		req.ID = s.idGen(s.now())
		created, err := s.repo.CreateRequest(ctx, req)
		if err == nil {
			return created, nil
		}
		if !errors.Is(err, ErrDuplicateID) {
			return Request{}, err
		}
	}
	return Request{}, fmt.Errorf("quote: exhausted request id retries")
}

// MarkSent flips a pending request to sent once fan-out has run.
func (s *Service) MarkSent(ctx context.Context, requestID string) error {
	req, err := s.repo.GetRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if req.Status != RequestPending {
		return nil
	}
	return s.repo.SetRequestStatus(ctx, requestID, RequestSent)
}

// GetRequest returns the request, enforcing ownership for customers.
func (s *Service) GetRequest(ctx context.Context, requestID, userID string, isAdmin bool) (Request, error) {
	req, err := s.repo.GetRequest(ctx, requestID)
	if err != nil {
		return Request{}, err
	}
	if !isAdmin && req.UserID != userID {
		return Request{}, ErrNotOwner
	}
	return req, nil
}

// ListRequests returns the caller's requests.
func (s *Service) ListRequests(ctx context.Context, userID string) ([]Request, error) {
	return s.repo.ListRequestsByUser(ctx, userID)
}

// SubmitQuote records a partner's pricing. The total is computed
// server-side; the first quote flips the request to quoted.
func (s *Service) SubmitQuote(ctx context.Context, params SubmitQuoteParams) (Quote, error) {
	if params.RequestID == "" || params.PartnerID == "" {
		return Quote{}, fmt.Errorf("quote: request and partner ids are required")
	}
	if params.BasicFee < 0 || params.Discount < 0 {
		return Quote{}, ErrInvalidPricing
	}

	active, err := s.partners.IsActivePartner(ctx, params.PartnerID)
	if err != nil {
		return Quote{}, err
	}
	if !active {
		return Quote{}, ErrPartnerInactive
	}

	total := params.BasicFee
	for _, fee := range params.AdditionalServices {
		if fee < 0 {
			return Quote{}, ErrInvalidPricing
		}
		total += fee
	}
	total -= params.Discount
	if total < 0 {
		return Quote{}, ErrInvalidPricing
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Quote{}, fmt.Errorf("quote: begin submit tx: %w", err)
	}
	defer tx.Rollback(ctx)

	req, err := s.repo.GetRequestForUpdate(ctx, tx, params.RequestID)
	if err != nil {
		return Quote{}, err
	}
	switch req.Status {
	case RequestPending, RequestSent, RequestQuoted:
		// open for quoting
	default:
		return Quote{}, ErrRequestClosed
	}

	created, err := s.repo.InsertQuote(ctx, tx, Quote{
		RequestID:          params.RequestID,
		PartnerID:          params.PartnerID,
		BasicFee:           params.BasicFee,
		AdditionalServices: params.AdditionalServices,
		Discount:           params.Discount,
		TotalAmount:        total,
		AvailableTimes:     params.AvailableTimes,
		Status:             StatusSubmitted,
		ExpiresAt:          s.now().Add(quoteTTL),
	})
	if err != nil {
		return Quote{}, err
	}

	if req.Status != RequestQuoted {
		count, err := s.repo.CountQuotes(ctx, tx, params.RequestID)
		if err != nil {
			return Quote{}, err
		}
		if count == 1 {
			if err := s.repo.SetRequestStatusTx(ctx, tx, params.RequestID, RequestQuoted); err != nil {
				return Quote{}, err
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Quote{}, fmt.Errorf("quote: commit submit: %w", err)
	}
	return created, nil
}

// AcceptQuote accepts one quote and rejects its siblings in a single
// transaction. No partial-accept state is observable: the request row is
// locked first and the partial unique index backs the lock up. Re-accepting
// the already-accepted quote is a no-op success.
func (s *Service) AcceptQuote(ctx context.Context, quoteID, userID string) (Quote, error) {
	if quoteID == "" || userID == "" {
		return Quote{}, fmt.Errorf("quote: quote and user ids are required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Quote{}, fmt.Errorf("quote: begin accept tx: %w", err)
	}
	defer tx.Rollback(ctx)

	q, err := s.repo.GetQuoteForUpdate(ctx, tx, quoteID)
	if err != nil {
		return Quote{}, err
	}

	req, err := s.repo.GetRequestForUpdate(ctx, tx, q.RequestID)
	if err != nil {
		return Quote{}, err
	}
	if req.UserID != userID {
		return Quote{}, ErrNotOwner
	}

	if q.Status == StatusAccepted {
		return q, nil
	}
	if q.Status != StatusSubmitted {
		return Quote{}, ErrQuoteNotAcceptable
	}
	if !q.ExpiresAt.After(s.now()) {
		return Quote{}, ErrQuoteExpired
	}
	if req.Status != RequestQuoted && req.Status != RequestSent {
		return Quote{}, ErrRequestClosed
	}

	if err := s.repo.MarkAccepted(ctx, tx, quoteID); err != nil {
		return Quote{}, err
	}
	if _, err := s.repo.RejectSiblings(ctx, tx, q.RequestID, quoteID); err != nil {
		return Quote{}, err
	}
	if err := s.repo.SetRequestStatusTx(ctx, tx, q.RequestID, RequestAccepted); err != nil {
		return Quote{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Quote{}, fmt.Errorf("quote: commit accept: %w", err)
	}

	q.Status = StatusAccepted
	return q, nil
}

// CancelRequest cancels the request and expires all of its live quotes.
func (s *Service) CancelRequest(ctx context.Context, requestID, userID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("quote: begin cancel tx: %w", err)
	}
	defer tx.Rollback(ctx)

	req, err := s.repo.GetRequestForUpdate(ctx, tx, requestID)
	if err != nil {
		return err
	}
	if req.UserID != userID {
		return ErrNotOwner
	}
	switch req.Status {
	case RequestAccepted, RequestCompleted, RequestCancelled:
		return ErrRequestClosed
	}

	if err := s.repo.SetRequestStatusTx(ctx, tx, requestID, RequestCancelled); err != nil {
		return err
	}
	if _, err := s.repo.ExpireQuotesForRequest(ctx, tx, requestID); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("quote: commit cancel: %w", err)
	}
	return nil
}

// ListQuotesForRequest returns the quotes visible to the request owner.
func (s *Service) ListQuotesForRequest(ctx context.Context, requestID, userID string, isAdmin bool) ([]Quote, error) {
	req, err := s.repo.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !isAdmin && req.UserID != userID {
		return nil, ErrNotOwner
	}
	return s.repo.ListQuotes(ctx, requestID)
}

// GetQuote returns a single quote without ownership checks; callers gate access.
func (s *Service) GetQuote(ctx context.Context, quoteID string) (Quote, error) {
	return s.repo.GetQuote(ctx, quoteID)
}

// ExpireStaleQuotes sweeps submitted quotes past their expiry.
func (s *Service) ExpireStaleQuotes(ctx context.Context) (int64, error) {
	return s.repo.ExpireStale(ctx, s.now())
}
