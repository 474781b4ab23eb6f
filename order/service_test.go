package order

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"moveflow/quote"
)

var testNow = time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

func newTestService(repo *fakeRepo, quotes *fakeQuotes) (*Service, *fakeReferrals) {
	referrals := &fakeReferrals{}
	svc := NewService(&fakePool{}, repo, quotes, referrals).
		WithClock(func() time.Time { return testNow })
	return svc, referrals
}

func acceptedQuote() quote.Quote {
	return quote.Quote{
		ID:          "q-1",
		RequestID:   "req-1",
		PartnerID:   "partner-1",
		TotalAmount: 340000,
		Status:      quote.StatusAccepted,
	}
}

func quoteRequest(scheduled time.Time) quote.Request {
	return quote.Request{
		ID:       "req-1",
		UserID:   "user-1",
		MoveDate: scheduled,
		Status:   quote.RequestAccepted,
	}
}

func TestCreateFromQuote_DepositArithmetic(t *testing.T) {
	repo := newFakeOrderRepo()
	quotes := &fakeQuotes{
		quotes:   map[string]quote.Quote{"q-1": acceptedQuote()},
		requests: map[string]quote.Request{"req-1": quoteRequest(testNow.Add(96 * time.Hour))},
	}

	svc, _ := newTestService(repo, quotes)
	o, err := svc.CreateFromQuote(context.Background(), "q-1", "user-1")
	if err != nil {
		t.Fatalf("create from quote: %v", err)
	}
	if o.DepositAmount != 102000 {
		t.Fatalf("expected deposit 102000, got %d", o.DepositAmount)
	}
	if o.RemainingAmount != 238000 {
		t.Fatalf("expected remaining 238000, got %d", o.RemainingAmount)
	}
	if o.DepositAmount+o.RemainingAmount != o.TotalAmount {
		t.Fatal("deposit and remainder must sum to the total")
	}
	if o.Status != StatusConfirmed {
		t.Fatalf("expected confirmed, got %s", o.Status)
	}
	if quotes.statuses["req-1"] != quote.RequestAccepted {
		t.Fatalf("expected request reaffirmed accepted, got %s", quotes.statuses["req-1"])
	}
}

func TestCreateFromQuote_RejectsNonAcceptedQuote(t *testing.T) {
	q := acceptedQuote()
	q.Status = quote.StatusSubmitted
	quotes := &fakeQuotes{
		quotes:   map[string]quote.Quote{"q-1": q},
		requests: map[string]quote.Request{"req-1": quoteRequest(testNow.Add(96 * time.Hour))},
	}

	svc, _ := newTestService(newFakeOrderRepo(), quotes)
	if _, err := svc.CreateFromQuote(context.Background(), "q-1", "user-1"); !errors.Is(err, ErrQuoteNotAccepted) {
		t.Fatalf("expected ErrQuoteNotAccepted, got %v", err)
	}
}

func TestCreateFromQuote_OwnershipEnforced(t *testing.T) {
	quotes := &fakeQuotes{
		quotes:   map[string]quote.Quote{"q-1": acceptedQuote()},
		requests: map[string]quote.Request{"req-1": quoteRequest(testNow.Add(96 * time.Hour))},
	}

	svc, _ := newTestService(newFakeOrderRepo(), quotes)
	if _, err := svc.CreateFromQuote(context.Background(), "q-1", "somebody-else"); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
}

func TestCreateFromQuote_RetriesOnIDCollision(t *testing.T) {
	repo := newFakeOrderRepo()
	repo.orders["MO-20260901-0001"] = &Order{ID: "MO-20260901-0001", QuoteID: "q-other"}
	quotes := &fakeQuotes{
		quotes:   map[string]quote.Quote{"q-1": acceptedQuote()},
		requests: map[string]quote.Request{"req-1": quoteRequest(testNow.Add(96 * time.Hour))},
	}

	ids := []string{"MO-20260901-0001", "MO-20260901-0002"}
	svc, _ := newTestService(repo, quotes)
	svc.WithIDGenerator(func(time.Time) string {
		id := ids[0]
		if len(ids) > 1 {
			ids = ids[1:]
		}
		return id
	})

	o, err := svc.CreateFromQuote(context.Background(), "q-1", "user-1")
	if err != nil {
		t.Fatalf("create from quote: %v", err)
	}
	if o.ID != "MO-20260901-0002" {
		t.Fatalf("expected retried id, got %s", o.ID)
	}
}

func TestCreateFromQuote_OnePerQuote(t *testing.T) {
	repo := newFakeOrderRepo()
	quotes := &fakeQuotes{
		quotes:   map[string]quote.Quote{"q-1": acceptedQuote()},
		requests: map[string]quote.Request{"req-1": quoteRequest(testNow.Add(96 * time.Hour))},
	}

	svc, _ := newTestService(repo, quotes)
	if _, err := svc.CreateFromQuote(context.Background(), "q-1", "user-1"); err != nil {
		t.Fatalf("first order: %v", err)
	}
	if _, err := svc.CreateFromQuote(context.Background(), "q-1", "user-1"); !errors.Is(err, ErrOrderExists) {
		t.Fatalf("expected ErrOrderExists, got %v", err)
	}
}

func TestCancel_FullRefundAt50Hours(t *testing.T) {
	repo := newFakeOrderRepo()
	repo.orders["o-1"] = &Order{
		ID: "o-1", RequestID: "req-1", UserID: "user-1", PartnerID: "partner-1",
		TotalAmount: 340000, DepositAmount: 102000, RemainingAmount: 238000,
		ScheduledAt: testNow.Add(50 * time.Hour), Status: StatusConfirmed,
	}
	repo.payments["pay-1"] = &Payment{
		ID: "pay-1", OrderID: "o-1", Amount: 102000, Type: PaymentDeposit, Status: PaymentCompleted,
	}

	svc, _ := newTestService(repo, &fakeQuotes{})
	refunded, err := svc.Cancel(context.Background(), "o-1", "user-1", "改期")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if refunded != 102000 {
		t.Fatalf("expected full deposit refund 102000, got %d", refunded)
	}
	if repo.orders["o-1"].Status != StatusCancelled {
		t.Fatalf("expected cancelled, got %s", repo.orders["o-1"].Status)
	}

	refund := repo.paymentOfType("o-1", PaymentRefund)
	if refund == nil || refund.Amount != -102000 {
		t.Fatalf("expected refund row of -102000, got %+v", refund)
	}
	if repo.payments["pay-1"].Status != PaymentRefunded {
		t.Fatalf("expected original deposit marked refunded, got %s", repo.payments["pay-1"].Status)
	}
	if repo.payments["pay-1"].Amount != 102000 {
		t.Fatal("the original payment amount must never change")
	}
}

func TestCancel_HalfRefundAt25Hours(t *testing.T) {
	repo := newFakeOrderRepo()
	repo.orders["o-1"] = &Order{
		ID: "o-1", UserID: "user-1", DepositAmount: 102000,
		ScheduledAt: testNow.Add(25 * time.Hour), Status: StatusConfirmed,
	}
	repo.payments["pay-1"] = &Payment{
		ID: "pay-1", OrderID: "o-1", Amount: 102000, Type: PaymentDeposit, Status: PaymentCompleted,
	}

	svc, _ := newTestService(repo, &fakeQuotes{})
	refunded, err := svc.Cancel(context.Background(), "o-1", "user-1", "")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if refunded != 51000 {
		t.Fatalf("expected half refund 51000, got %d", refunded)
	}
	// Partial refund: the original row stays completed.
	if repo.payments["pay-1"].Status != PaymentCompleted {
		t.Fatalf("expected original still completed, got %s", repo.payments["pay-1"].Status)
	}
}

func TestCancel_NoRefundAt10Hours(t *testing.T) {
	repo := newFakeOrderRepo()
	repo.orders["o-1"] = &Order{
		ID: "o-1", UserID: "user-1", DepositAmount: 102000,
		ScheduledAt: testNow.Add(10 * time.Hour), Status: StatusConfirmed,
	}
	repo.payments["pay-1"] = &Payment{
		ID: "pay-1", OrderID: "o-1", Amount: 102000, Type: PaymentDeposit, Status: PaymentCompleted,
	}

	svc, _ := newTestService(repo, &fakeQuotes{})
	refunded, err := svc.Cancel(context.Background(), "o-1", "user-1", "臨時取消")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if refunded != 0 {
		t.Fatalf("expected no refund, got %d", refunded)
	}
	if repo.paymentOfType("o-1", PaymentRefund) != nil {
		t.Fatal("expected no refund row")
	}
	if repo.orders["o-1"].Status != StatusCancelled {
		t.Fatalf("expected cancelled, got %s", repo.orders["o-1"].Status)
	}
}

func TestCancel_CompletedOrderIsFinal(t *testing.T) {
	repo := newFakeOrderRepo()
	repo.orders["o-1"] = &Order{ID: "o-1", UserID: "user-1", Status: StatusCompleted}

	svc, _ := newTestService(repo, &fakeQuotes{})
	if _, err := svc.Cancel(context.Background(), "o-1", "user-1", ""); !errors.Is(err, ErrOrderClosed) {
		t.Fatalf("expected ErrOrderClosed, got %v", err)
	}
}

func TestUpdateStatus_CompletionCascades(t *testing.T) {
	repo := newFakeOrderRepo()
	repo.orders["o-1"] = &Order{
		ID: "o-1", RequestID: "req-1", UserID: "user-1", PartnerID: "partner-1",
		Status: StatusInProgress,
	}
	quotes := &fakeQuotes{}

	svc, referrals := newTestService(repo, quotes)
	if err := svc.UpdateStatus(context.Background(), "o-1", "partner-1", StatusCompleted); err != nil {
		t.Fatalf("complete: %v", err)
	}

	o := repo.orders["o-1"]
	if o.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", o.Status)
	}
	if o.CompletedAt == nil || !o.CompletedAt.Equal(testNow) {
		t.Fatalf("expected completion stamped at %v, got %v", testNow, o.CompletedAt)
	}
	if quotes.statuses["req-1"] != quote.RequestCompleted {
		t.Fatalf("expected request cascaded to completed, got %s", quotes.statuses["req-1"])
	}
	if referrals.calls != 1 || referrals.lastReferee != "user-1" || referrals.lastOrder != "o-1" {
		t.Fatalf("expected one first-order hook call for user-1/o-1, got %+v", referrals)
	}
}

func TestUpdateStatus_HookFailureDoesNotFailCompletion(t *testing.T) {
	repo := newFakeOrderRepo()
	repo.orders["o-1"] = &Order{ID: "o-1", RequestID: "req-1", UserID: "user-1", PartnerID: "partner-1", Status: StatusConfirmed}
	quotes := &fakeQuotes{}

	svc, referrals := newTestService(repo, quotes)
	referrals.err = errors.New("referral store down")

	if err := svc.UpdateStatus(context.Background(), "o-1", "user-1", StatusCompleted); err != nil {
		t.Fatalf("completion must not fail on hook error: %v", err)
	}
	if repo.orders["o-1"].Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", repo.orders["o-1"].Status)
	}
}

func TestUpdateStatus_StrangerRejected(t *testing.T) {
	repo := newFakeOrderRepo()
	repo.orders["o-1"] = &Order{ID: "o-1", UserID: "user-1", PartnerID: "partner-1", Status: StatusConfirmed}

	svc, _ := newTestService(repo, &fakeQuotes{})
	if err := svc.UpdateStatus(context.Background(), "o-1", "stranger", StatusInProgress); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("expected ErrNotParticipant, got %v", err)
	}
}

func TestUpdateStatus_CancelledIsTerminal(t *testing.T) {
	repo := newFakeOrderRepo()
	repo.orders["o-1"] = &Order{ID: "o-1", UserID: "user-1", Status: StatusCancelled}

	svc, _ := newTestService(repo, &fakeQuotes{})
	if err := svc.UpdateStatus(context.Background(), "o-1", "user-1", StatusCompleted); !errors.Is(err, ErrOrderClosed) {
		t.Fatalf("expected ErrOrderClosed, got %v", err)
	}
}

func TestAddNote_ParticipantsOnly(t *testing.T) {
	repo := newFakeOrderRepo()
	repo.orders["o-1"] = &Order{ID: "o-1", UserID: "user-1", PartnerID: "partner-1", Status: StatusConfirmed}

	svc, _ := newTestService(repo, &fakeQuotes{})
	if err := svc.AddNote(context.Background(), "o-1", "partner-1", "已到達上址"); err != nil {
		t.Fatalf("add note: %v", err)
	}
	if err := svc.AddNote(context.Background(), "o-1", "stranger", "x"); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("expected ErrNotParticipant, got %v", err)
	}
	if got := repo.orders["o-1"].Notes; len(got) != 1 || got[0] != "已到達上址" {
		t.Fatalf("unexpected notes: %v", got)
	}
}

func TestProcessDeposit_DoublePaymentBlocked(t *testing.T) {
	repo := newFakeOrderRepo()
	repo.orders["o-1"] = &Order{ID: "o-1", UserID: "user-1", DepositAmount: 102000, Status: StatusConfirmed}

	svc, _ := newTestService(repo, &fakeQuotes{})
	ctx := context.Background()

	p, err := svc.ProcessDeposit(ctx, "o-1", "user-1")
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if p.Amount != 102000 || p.Status != PaymentPending {
		t.Fatalf("expected pending 102000 deposit, got %+v", p)
	}

	if _, err := svc.ConfirmPayment(ctx, p.ID, "gw-123"); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if _, err := svc.ProcessDeposit(ctx, "o-1", "user-1"); !errors.Is(err, ErrDoublePayment) {
		t.Fatalf("expected ErrDoublePayment, got %v", err)
	}
}

func TestProcessDeposit_PendingDoesNotBlockRetry(t *testing.T) {
	repo := newFakeOrderRepo()
	repo.orders["o-1"] = &Order{ID: "o-1", UserID: "user-1", DepositAmount: 102000, Status: StatusConfirmed}

	svc, _ := newTestService(repo, &fakeQuotes{})
	ctx := context.Background()

	if _, err := svc.ProcessDeposit(ctx, "o-1", "user-1"); err != nil {
		t.Fatalf("first attempt: %v", err)
	}
	// An abandoned pending attempt must not lock the customer out.
	if _, err := svc.ProcessDeposit(ctx, "o-1", "user-1"); err != nil {
		t.Fatalf("second attempt: %v", err)
	}
}

func TestConfirmPayment_Idempotent(t *testing.T) {
	repo := newFakeOrderRepo()
	repo.payments["pay-1"] = &Payment{ID: "pay-1", OrderID: "o-1", Amount: 102000, Type: PaymentDeposit, Status: PaymentCompleted, GatewayRef: "gw-1"}

	svc, _ := newTestService(repo, &fakeQuotes{})
	p, err := svc.ConfirmPayment(context.Background(), "pay-1", "gw-2")
	if err != nil {
		t.Fatalf("reconfirm: %v", err)
	}
	if p.GatewayRef != "gw-1" {
		t.Fatalf("expected original gateway ref kept, got %s", p.GatewayRef)
	}
}

func TestProcessRefund_Validation(t *testing.T) {
	repo := newFakeOrderRepo()
	repo.payments["pay-1"] = &Payment{ID: "pay-1", OrderID: "o-1", Amount: 102000, Type: PaymentDeposit, Status: PaymentCompleted}

	svc, _ := newTestService(repo, &fakeQuotes{})
	ctx := context.Background()

	if _, err := svc.ProcessRefund(ctx, "pay-1", 200000); !errors.Is(err, ErrRefundTooLarge) {
		t.Fatalf("expected ErrRefundTooLarge, got %v", err)
	}

	refund, err := svc.ProcessRefund(ctx, "pay-1", 102000)
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if refund.Amount != -102000 || refund.Type != PaymentRefund {
		t.Fatalf("unexpected refund row: %+v", refund)
	}
	if repo.payments["pay-1"].Status != PaymentRefunded {
		t.Fatalf("expected original refunded, got %s", repo.payments["pay-1"].Status)
	}

	// A refunded payment cannot be refunded again.
	if _, err := svc.ProcessRefund(ctx, "pay-1", 1000); !errors.Is(err, ErrPaymentState) {
		t.Fatalf("expected ErrPaymentState, got %v", err)
	}
}

func TestProcessRefund_PartialsNeverExceedPayment(t *testing.T) {
	repo := newFakeOrderRepo()
	repo.payments["pay-1"] = &Payment{ID: "pay-1", OrderID: "o-1", Amount: 100000, Type: PaymentDeposit, Status: PaymentCompleted}

	svc, _ := newTestService(repo, &fakeQuotes{})
	ctx := context.Background()

	first, err := svc.ProcessRefund(ctx, "pay-1", 60000)
	if err != nil {
		t.Fatalf("first partial refund: %v", err)
	}
	if first.Amount != -60000 || first.RefundOf == nil || *first.RefundOf != "pay-1" {
		t.Fatalf("unexpected refund row: %+v", first)
	}
	// 60000 already out: only 40000 is left to refund.
	if _, err := svc.ProcessRefund(ctx, "pay-1", 60000); !errors.Is(err, ErrRefundTooLarge) {
		t.Fatalf("expected ErrRefundTooLarge on second 60000, got %v", err)
	}
	if repo.payments["pay-1"].Status != PaymentCompleted {
		t.Fatalf("expected original still completed, got %s", repo.payments["pay-1"].Status)
	}

	// Consuming the remainder flips the original to refunded.
	if _, err := svc.ProcessRefund(ctx, "pay-1", 40000); err != nil {
		t.Fatalf("remainder refund: %v", err)
	}
	if repo.payments["pay-1"].Status != PaymentRefunded {
		t.Fatalf("expected original refunded, got %s", repo.payments["pay-1"].Status)
	}

	var total int64
	for _, p := range repo.payments {
		if p.Type == PaymentRefund {
			total -= p.Amount
		}
	}
	if total != 100000 {
		t.Fatalf("expected exactly 100000 refunded in total, got %d", total)
	}
}

func TestSettle_BatchesDepositsMinusFee(t *testing.T) {
	repo := newFakeOrderRepo()
	done := testNow.Add(-24 * time.Hour)
	for i, deposit := range []int64{102000, 60000, 45000} {
		id := fmt.Sprintf("o-%d", i+1)
		repo.orders[id] = &Order{
			ID: id, PartnerID: "partner-1", DepositAmount: deposit,
			Status: StatusCompleted, CompletedAt: &done,
		}
	}
	// A different partner's order stays untouched.
	repo.orders["o-other"] = &Order{
		ID: "o-other", PartnerID: "partner-2", DepositAmount: 99999,
		Status: StatusCompleted, CompletedAt: &done,
	}

	svc, _ := newTestService(repo, &fakeQuotes{})
	settled, err := svc.Settle(context.Background(), "partner-1", testNow.Add(-7*24*time.Hour), testNow)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if settled.GrossAmount != 207000 {
		t.Fatalf("expected gross 207000, got %d", settled.GrossAmount)
	}
	if settled.PlatformFee != 20700 {
		t.Fatalf("expected fee 20700, got %d", settled.PlatformFee)
	}
	if settled.NetAmount != 186300 {
		t.Fatalf("expected net 186300, got %d", settled.NetAmount)
	}
	if settled.OrderCount != 3 {
		t.Fatalf("expected 3 orders, got %d", settled.OrderCount)
	}
	for _, id := range []string{"o-1", "o-2", "o-3"} {
		if repo.orders[id].SettlementID == nil {
			t.Fatalf("expected %s linked to settlement", id)
		}
	}
	if repo.orders["o-other"].SettlementID != nil {
		t.Fatal("expected other partner's order unlinked")
	}

	// Linked orders never settle twice.
	if _, err := svc.Settle(context.Background(), "partner-1", testNow.Add(-7*24*time.Hour), testNow); !errors.Is(err, ErrNothingToSettle) {
		t.Fatalf("expected ErrNothingToSettle, got %v", err)
	}
}

// --- fakes ---

type fakeReferrals struct {
	calls       int
	lastReferee string
	lastOrder   string
	err         error
}

func (f *fakeReferrals) CompleteFirstOrder(_ context.Context, refereeID, orderID string) error {
	f.calls++
	f.lastReferee = refereeID
	f.lastOrder = orderID
	return f.err
}

type fakeQuotes struct {
	quotes   map[string]quote.Quote
	requests map[string]quote.Request
	statuses map[string]quote.RequestStatus
}

func (f *fakeQuotes) GetQuote(_ context.Context, id string) (quote.Quote, error) {
	q, ok := f.quotes[id]
	if !ok {
		return quote.Quote{}, quote.ErrQuoteNotFound
	}
	return q, nil
}

func (f *fakeQuotes) GetRequest(_ context.Context, id string) (quote.Request, error) {
	req, ok := f.requests[id]
	if !ok {
		return quote.Request{}, quote.ErrRequestNotFound
	}
	return req, nil
}

func (f *fakeQuotes) SetRequestStatusTx(_ context.Context, _ pgx.Tx, id string, status quote.RequestStatus) error {
	if f.statuses == nil {
		f.statuses = make(map[string]quote.RequestStatus)
	}
	f.statuses[id] = status
	return nil
}

type fakeRepo struct {
	orders      map[string]*Order
	payments    map[string]*Payment
	settlements map[string]*Settlement
	seq         int
}

func newFakeOrderRepo() *fakeRepo {
	return &fakeRepo{
		orders:      make(map[string]*Order),
		payments:    make(map[string]*Payment),
		settlements: make(map[string]*Settlement),
	}
}

func (f *fakeRepo) paymentOfType(orderID string, typ PaymentType) *Payment {
	for _, p := range f.payments {
		if p.OrderID == orderID && p.Type == typ {
			return p
		}
	}
	return nil
}

func (f *fakeRepo) CreateOrder(_ context.Context, _ pgx.Tx, o Order) (Order, error) {
	if _, exists := f.orders[o.ID]; exists {
		return Order{}, ErrDuplicateID
	}
	for _, existing := range f.orders {
		if existing.QuoteID == o.QuoteID {
			return Order{}, ErrOrderExists
		}
	}
	o.Status = StatusConfirmed
	o.CreatedAt = time.Now()
	o.UpdatedAt = o.CreatedAt
	f.orders[o.ID] = &o
	return o, nil
}

func (f *fakeRepo) GetOrder(_ context.Context, id string) (Order, error) {
	o, ok := f.orders[id]
	if !ok {
		return Order{}, ErrOrderNotFound
	}
	return *o, nil
}

func (f *fakeRepo) GetOrderForUpdate(ctx context.Context, _ pgx.Tx, id string) (Order, error) {
	return f.GetOrder(ctx, id)
}

func (f *fakeRepo) ListByUser(_ context.Context, userID string) ([]Order, error) {
	var out []Order
	for _, o := range f.orders {
		if o.UserID == userID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (f *fakeRepo) ListByPartner(_ context.Context, partnerID string) ([]Order, error) {
	var out []Order
	for _, o := range f.orders {
		if o.PartnerID == partnerID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (f *fakeRepo) SetStatusTx(_ context.Context, _ pgx.Tx, id string, status Status) error {
	o, ok := f.orders[id]
	if !ok {
		return ErrOrderNotFound
	}
	o.Status = status
	return nil
}

func (f *fakeRepo) MarkCancelled(_ context.Context, _ pgx.Tx, id, reason string) error {
	o, ok := f.orders[id]
	if !ok {
		return ErrOrderNotFound
	}
	o.Status = StatusCancelled
	o.CancelReason = reason
	return nil
}

func (f *fakeRepo) MarkCompleted(_ context.Context, _ pgx.Tx, id string, at time.Time) error {
	o, ok := f.orders[id]
	if !ok {
		return ErrOrderNotFound
	}
	o.Status = StatusCompleted
	o.CompletedAt = &at
	return nil
}

func (f *fakeRepo) AddNote(_ context.Context, id, note string) error {
	o, ok := f.orders[id]
	if !ok {
		return ErrOrderNotFound
	}
	o.Notes = append(o.Notes, note)
	return nil
}

func (f *fakeRepo) insertPayment(p Payment) (Payment, error) {
	f.seq++
	for {
		if _, taken := f.payments[fmt.Sprintf("pay-%d", f.seq)]; !taken {
			break
		}
		f.seq++
	}
	p.ID = fmt.Sprintf("pay-%d", f.seq)
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	f.payments[p.ID] = &p
	return p, nil
}

func (f *fakeRepo) InsertPayment(_ context.Context, p Payment) (Payment, error) {
	return f.insertPayment(p)
}

func (f *fakeRepo) InsertPaymentTx(_ context.Context, _ pgx.Tx, p Payment) (Payment, error) {
	return f.insertPayment(p)
}

func (f *fakeRepo) GetPayment(_ context.Context, id string) (Payment, error) {
	p, ok := f.payments[id]
	if !ok {
		return Payment{}, ErrPaymentNotFound
	}
	return *p, nil
}

func (f *fakeRepo) GetPaymentForUpdate(ctx context.Context, _ pgx.Tx, id string) (Payment, error) {
	return f.GetPayment(ctx, id)
}

func (f *fakeRepo) findCompleted(orderID string, typ PaymentType) (Payment, error) {
	for _, p := range f.payments {
		if p.OrderID == orderID && p.Type == typ && (p.Status == PaymentCompleted || p.Status == PaymentRefunded) {
			return *p, nil
		}
	}
	return Payment{}, ErrPaymentNotFound
}

func (f *fakeRepo) FindCompletedPayment(_ context.Context, orderID string, typ PaymentType) (Payment, error) {
	return f.findCompleted(orderID, typ)
}

func (f *fakeRepo) FindCompletedPaymentTx(_ context.Context, _ pgx.Tx, orderID string, typ PaymentType) (Payment, error) {
	return f.findCompleted(orderID, typ)
}

func (f *fakeRepo) SetPaymentStatus(_ context.Context, id string, status PaymentStatus, gatewayRef string) error {
	p, ok := f.payments[id]
	if !ok {
		return ErrPaymentNotFound
	}
	p.Status = status
	p.GatewayRef = gatewayRef
	return nil
}

func (f *fakeRepo) MarkPaymentRefundedTx(_ context.Context, _ pgx.Tx, id string) error {
	p, ok := f.payments[id]
	if !ok {
		return ErrPaymentNotFound
	}
	p.Status = PaymentRefunded
	return nil
}

func (f *fakeRepo) SumRefundsTx(_ context.Context, _ pgx.Tx, paymentID string) (int64, error) {
	var refunded int64
	for _, p := range f.payments {
		if p.Type == PaymentRefund && p.RefundOf != nil && *p.RefundOf == paymentID {
			refunded -= p.Amount
		}
	}
	return refunded, nil
}

func (f *fakeRepo) ListUnsettled(_ context.Context, _ pgx.Tx, partnerID string, periodStart, periodEnd time.Time) ([]Order, error) {
	var out []Order
	for _, o := range f.orders {
		if o.PartnerID != partnerID || o.Status != StatusCompleted || o.SettlementID != nil {
			continue
		}
		if o.CompletedAt == nil || o.CompletedAt.Before(periodStart) || !o.CompletedAt.Before(periodEnd) {
			continue
		}
		out = append(out, *o)
	}
	return out, nil
}

func (f *fakeRepo) InsertSettlement(_ context.Context, _ pgx.Tx, s Settlement) (Settlement, error) {
	f.seq++
	s.ID = fmt.Sprintf("stl-%d", f.seq)
	s.CreatedAt = time.Now()
	f.settlements[s.ID] = &s
	return s, nil
}

func (f *fakeRepo) LinkSettlement(_ context.Context, _ pgx.Tx, settlementID string, orderIDs []string) error {
	for _, id := range orderIDs {
		o, ok := f.orders[id]
		if !ok {
			return ErrOrderNotFound
		}
		sid := settlementID
		o.SettlementID = &sid
	}
	return nil
}

type fakePool struct {
	tx *fakeTx
}

func (f *fakePool) Begin(ctx context.Context) (pgx.Tx, error) {
	f.tx = &fakeTx{}
	return f.tx, nil
}

type fakeTx struct {
	rolled    bool
	committed bool
}

func (f *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("fakeTx does not support nested transactions")
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	f.rolled = true
	return nil
}

func (f *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (f *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (f *fakeTx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (f *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (f *fakeTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}

func (f *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (f *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (f *fakeTx) Conn() *pgx.Conn {
	return nil
}
