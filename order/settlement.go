package order

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNothingToSettle signals the period contains no unsettled orders.
var ErrNothingToSettle = errors.New("order: nothing to settle")

// Settle batches the partner's completed, unsettled orders from the period
// into one payout: the collected deposits minus the 10% platform fee. The
// settlement row and the order linkage commit together, so an order can
// never appear in two settlements.
func (s *Service) Settle(ctx context.Context, partnerID string, periodStart, periodEnd time.Time) (Settlement, error) {
	if partnerID == "" {
		return Settlement{}, fmt.Errorf("order: partner id is required")
	}
	if !periodEnd.After(periodStart) {
		return Settlement{}, fmt.Errorf("order: settlement period is empty")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Settlement{}, fmt.Errorf("order: begin settle tx: %w", err)
	}
	defer tx.Rollback(ctx)

	orders, err := s.repo.ListUnsettled(ctx, tx, partnerID, periodStart, periodEnd)
	if err != nil {
		return Settlement{}, err
	}
	if len(orders) == 0 {
		return Settlement{}, ErrNothingToSettle
	}

	var gross int64
	ids := make([]string, 0, len(orders))
	for _, o := range orders {
		gross += o.DepositAmount
		ids = append(ids, o.ID)
	}
	fee := PlatformFee(gross)

	settled, err := s.repo.InsertSettlement(ctx, tx, Settlement{
		PartnerID:   partnerID,
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
		GrossAmount: gross,
		PlatformFee: fee,
		NetAmount:   gross - fee,
		OrderCount:  len(orders),
	})
	if err != nil {
		return Settlement{}, err
	}
	if err := s.repo.LinkSettlement(ctx, tx, settled.ID, ids); err != nil {
		return Settlement{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Settlement{}, fmt.Errorf("order: commit settle: %w", err)
	}
	return settled, nil
}
