package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"moveflow/quote"
)

var (
	// ErrNotOwner signals the caller does not own the order.
	ErrNotOwner = errors.New("order: not owned by caller")
	// ErrNotParticipant signals the caller is neither the customer nor the partner.
	ErrNotParticipant = errors.New("order: caller not a participant")
	// ErrOrderClosed signals the order is completed or cancelled.
	ErrOrderClosed = errors.New("order: order closed")
	// ErrInvalidTransition signals a status change the lifecycle does not allow.
	ErrInvalidTransition = errors.New("order: invalid status transition")
	// ErrQuoteNotAccepted signals an order attempt on a non-accepted quote.
	ErrQuoteNotAccepted = errors.New("order: quote not accepted")
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// QuoteSource reads accepted quotes and their requests, and cascades
// request status changes inside order transactions. The quote package
// provides the production implementation.
type QuoteSource interface {
	GetQuote(ctx context.Context, quoteID string) (quote.Quote, error)
	GetRequest(ctx context.Context, requestID string) (quote.Request, error)
	SetRequestStatusTx(ctx context.Context, tx pgx.Tx, requestID string, status quote.RequestStatus) error
}

// ReferralHook is invoked after an order completes so the referral
// subsystem can grant first-order rewards.
type ReferralHook interface {
	CompleteFirstOrder(ctx context.Context, refereeID, orderID string) error
}

// Service owns the order, payment and settlement workflow.
type Service struct {
	pool      TxBeginner
	repo      Repository
	quotes    QuoteSource
	referrals ReferralHook
	now       func() time.Time
	idGen     func(time.Time) string
}

// NewService builds the order service. referrals may be nil when the
// referral subsystem is disabled.
func NewService(pool TxBeginner, repo Repository, quotes QuoteSource, referrals ReferralHook) *Service {
	return &Service{
		pool:      pool,
		repo:      repo,
		quotes:    quotes,
		referrals: referrals,
		now:       time.Now,
		idGen:     NewOrderID,
	}
}

// WithClock overrides the time source for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// WithIDGenerator overrides order ID generation for tests.
func (s *Service) WithIDGenerator(gen func(time.Time) string) *Service {
	s.idGen = gen
	return s
}

// CreateFromQuote turns an accepted quote into a confirmed order. Deposit
// is a fixed 30% of the total; the remainder is due on completion. The
// unique constraint on quote_id makes a second order for the same quote
// impossible.
func (s *Service) CreateFromQuote(ctx context.Context, quoteID, userID string) (Order, error) {
	if quoteID == "" || userID == "" {
		return Order{}, fmt.Errorf("order: quote and user ids are required")
	}

	q, err := s.quotes.GetQuote(ctx, quoteID)
	if err != nil {
		return Order{}, err
	}
	if q.Status != quote.StatusAccepted {
		return Order{}, ErrQuoteNotAccepted
	}

	req, err := s.quotes.GetRequest(ctx, q.RequestID)
	if err != nil {
		return Order{}, err
	}
	if req.UserID != userID {
		return Order{}, ErrNotOwner
	}

	deposit := DepositAmount(q.TotalAmount)
	o := Order{
		QuoteID:         q.ID,
		RequestID:       q.RequestID,
		UserID:          req.UserID,
		PartnerID:       q.PartnerID,
		TotalAmount:     q.TotalAmount,
		DepositAmount:   deposit,
		RemainingAmount: q.TotalAmount - deposit,
		ScheduledAt:     req.MoveDate,
		Notes:           []string{},
	}

	const maxIDRetries = 5
	for attempt := 0; attempt < maxIDRetries; attempt++ {
		o.ID = s.idGen(s.now())
		created, err := s.createOrderTx(ctx, o)
		if err == nil {
			return created, nil
		}
		if !errors.Is(err, ErrDuplicateID) {
			return Order{}, err
		}
	}
	return Order{}, fmt.Errorf("order: exhausted order id retries")
}

func (s *Service) createOrderTx(ctx context.Context, o Order) (Order, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Order{}, fmt.Errorf("order: begin create tx: %w", err)
	}
	defer tx.Rollback(ctx)

	created, err := s.repo.CreateOrder(ctx, tx, o)
	if err != nil {
		return Order{}, err
	}
	// Quote acceptance already set this; reaffirm in case of a manual fix-up.
	if err := s.quotes.SetRequestStatusTx(ctx, tx, o.RequestID, quote.RequestAccepted); err != nil {
		return Order{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Order{}, fmt.Errorf("order: commit create: %w", err)
	}
	return created, nil
}

// Cancel cancels the order and refunds the deposit per the step policy:
// 100% of the deposit at 48 hours or more before the scheduled service,
// 50% at 24 hours, nothing under that. The refund is a separate
// negative-amount payment row; the deposit row's amount never changes.
// Returns the refunded amount in cents.
func (s *Service) Cancel(ctx context.Context, orderID, userID, reason string) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("order: begin cancel tx: %w", err)
	}
	defer tx.Rollback(ctx)

	o, err := s.repo.GetOrderForUpdate(ctx, tx, orderID)
	if err != nil {
		return 0, err
	}
	if o.UserID != userID {
		return 0, ErrNotOwner
	}
	if o.Status == StatusCompleted || o.Status == StatusCancelled {
		return 0, ErrOrderClosed
	}

	var refunded int64
	if percent := RefundPercent(s.now(), o.ScheduledAt); percent > 0 {
		dep, err := s.repo.FindCompletedPaymentTx(ctx, tx, orderID, PaymentDeposit)
		switch {
		case errors.Is(err, ErrPaymentNotFound):
			// Nothing collected yet, nothing to refund.
		case err != nil:
			return 0, err
		case dep.Status == PaymentCompleted:
			refunded = RefundAmount(o.DepositAmount, percent)
			if refunded > 0 {
				if _, err := s.repo.InsertPaymentTx(ctx, tx, Payment{
					OrderID:  orderID,
					Amount:   -refunded,
					Type:     PaymentRefund,
					Status:   PaymentCompleted,
					RefundOf: &dep.ID,
				}); err != nil {
					return 0, err
				}
				if refunded == dep.Amount {
					if err := s.repo.MarkPaymentRefundedTx(ctx, tx, dep.ID); err != nil {
						return 0, err
					}
				}
			}
		}
	}

	if err := s.repo.MarkCancelled(ctx, tx, orderID, reason); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("order: commit cancel: %w", err)
	}
	return refunded, nil
}

// UpdateStatus moves the order along its lifecycle. Only the order's
// customer or partner may act. Completing the order stamps the completion
// time, cascades the quote request to completed and fires the referral
// first-order hook.
func (s *Service) UpdateStatus(ctx context.Context, orderID, actorID string, next Status) error {
	if next != StatusInProgress && next != StatusCompleted {
		return ErrInvalidTransition
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("order: begin status tx: %w", err)
	}
	defer tx.Rollback(ctx)

	o, err := s.repo.GetOrderForUpdate(ctx, tx, orderID)
	if err != nil {
		return err
	}
	if o.UserID != actorID && o.PartnerID != actorID {
		return ErrNotParticipant
	}
	if o.Status == StatusCompleted || o.Status == StatusCancelled {
		return ErrOrderClosed
	}
	if next == StatusInProgress && o.Status != StatusConfirmed {
		return ErrInvalidTransition
	}

	if next == StatusCompleted {
		if err := s.repo.MarkCompleted(ctx, tx, orderID, s.now()); err != nil {
			return err
		}
		if err := s.quotes.SetRequestStatusTx(ctx, tx, o.RequestID, quote.RequestCompleted); err != nil {
			return err
		}
	} else {
		if err := s.repo.SetStatusTx(ctx, tx, orderID, next); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("order: commit status: %w", err)
	}

	// Reward issuance is best-effort and idempotent on the referral side;
	// the completed order never rolls back because of it.
	if next == StatusCompleted && s.referrals != nil {
		_ = s.referrals.CompleteFirstOrder(ctx, o.UserID, o.ID)
	}
	return nil
}

// AddNote appends a note, visible to both sides of the order.
func (s *Service) AddNote(ctx context.Context, orderID, actorID, note string) error {
	if note == "" {
		return fmt.Errorf("order: note is empty")
	}
	o, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if o.UserID != actorID && o.PartnerID != actorID {
		return ErrNotParticipant
	}
	return s.repo.AddNote(ctx, orderID, note)
}

// GetOrder returns the order, enforcing participation unless the caller is
// an admin.
func (s *Service) GetOrder(ctx context.Context, orderID, actorID string, isAdmin bool) (Order, error) {
	o, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if !isAdmin && o.UserID != actorID && o.PartnerID != actorID {
		return Order{}, ErrNotParticipant
	}
	return o, nil
}

// ListOrders returns the caller's orders, customer side.
func (s *Service) ListOrders(ctx context.Context, userID string) ([]Order, error) {
	return s.repo.ListByUser(ctx, userID)
}

// ListPartnerOrders returns the caller's orders, partner side.
func (s *Service) ListPartnerOrders(ctx context.Context, partnerID string) ([]Order, error) {
	return s.repo.ListByPartner(ctx, partnerID)
}
