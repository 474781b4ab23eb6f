package order

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrDoublePayment signals a completed payment of the same type already exists.
	ErrDoublePayment = errors.New("order: payment already made")
	// ErrPaymentState signals the payment is not in the state the operation needs.
	ErrPaymentState = errors.New("order: payment not in expected state")
	// ErrRefundTooLarge signals a refund exceeding what remains
	// refundable on the original payment.
	ErrRefundTooLarge = errors.New("order: refund exceeds original payment")
)

// ProcessDeposit opens a pending deposit payment for the order. A
// completed deposit or full payment blocks a second attempt.
func (s *Service) ProcessDeposit(ctx context.Context, orderID, userID string) (Payment, error) {
	o, err := s.ownedOpenOrder(ctx, orderID, userID)
	if err != nil {
		return Payment{}, err
	}
	if err := s.guardDouble(ctx, orderID, PaymentDeposit, PaymentFull); err != nil {
		return Payment{}, err
	}
	return s.repo.InsertPayment(ctx, Payment{
		OrderID: orderID,
		Amount:  o.DepositAmount,
		Type:    PaymentDeposit,
		Status:  PaymentPending,
	})
}

// ProcessFinal opens a pending payment for the remaining balance.
func (s *Service) ProcessFinal(ctx context.Context, orderID, userID string) (Payment, error) {
	o, err := s.ownedOpenOrder(ctx, orderID, userID)
	if err != nil {
		return Payment{}, err
	}
	if err := s.guardDouble(ctx, orderID, PaymentFinal, PaymentFull); err != nil {
		return Payment{}, err
	}
	return s.repo.InsertPayment(ctx, Payment{
		OrderID: orderID,
		Amount:  o.RemainingAmount,
		Type:    PaymentFinal,
		Status:  PaymentPending,
	})
}

// ProcessFull opens a pending payment for the whole order amount, for
// customers paying in one go.
func (s *Service) ProcessFull(ctx context.Context, orderID, userID string) (Payment, error) {
	o, err := s.ownedOpenOrder(ctx, orderID, userID)
	if err != nil {
		return Payment{}, err
	}
	if err := s.guardDouble(ctx, orderID, PaymentFull, PaymentDeposit); err != nil {
		return Payment{}, err
	}
	return s.repo.InsertPayment(ctx, Payment{
		OrderID: orderID,
		Amount:  o.TotalAmount,
		Type:    PaymentFull,
		Status:  PaymentPending,
	})
}

// ConfirmPayment marks a pending payment completed once the gateway
// callback arrives. Confirming an already-completed payment is a no-op.
func (s *Service) ConfirmPayment(ctx context.Context, paymentID, gatewayRef string) (Payment, error) {
	p, err := s.repo.GetPayment(ctx, paymentID)
	if err != nil {
		return Payment{}, err
	}
	if p.Status == PaymentCompleted {
		return p, nil
	}
	if p.Status != PaymentPending {
		return Payment{}, ErrPaymentState
	}
	if err := s.repo.SetPaymentStatus(ctx, paymentID, PaymentCompleted, gatewayRef); err != nil {
		return Payment{}, err
	}
	p.Status = PaymentCompleted
	p.GatewayRef = gatewayRef
	return p, nil
}

// FailPayment marks a pending payment failed.
func (s *Service) FailPayment(ctx context.Context, paymentID, gatewayRef string) error {
	p, err := s.repo.GetPayment(ctx, paymentID)
	if err != nil {
		return err
	}
	if p.Status != PaymentPending {
		return ErrPaymentState
	}
	return s.repo.SetPaymentStatus(ctx, paymentID, PaymentFailed, gatewayRef)
}

// ProcessRefund refunds part or all of a completed payment. The refund is
// recorded as a negative-amount row pointing back at the payment; prior
// partial refunds count against the limit, and consuming the full amount
// flips the original row to refunded.
func (s *Service) ProcessRefund(ctx context.Context, paymentID string, amount int64) (Payment, error) {
	if amount <= 0 {
		return Payment{}, fmt.Errorf("order: refund amount must be positive")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Payment{}, fmt.Errorf("order: begin refund tx: %w", err)
	}
	defer tx.Rollback(ctx)

	p, err := s.repo.GetPaymentForUpdate(ctx, tx, paymentID)
	if err != nil {
		return Payment{}, err
	}
	if p.Status != PaymentCompleted {
		return Payment{}, ErrPaymentState
	}
	refunded, err := s.repo.SumRefundsTx(ctx, tx, p.ID)
	if err != nil {
		return Payment{}, err
	}
	if amount > p.Amount-refunded {
		return Payment{}, ErrRefundTooLarge
	}

	refund, err := s.repo.InsertPaymentTx(ctx, tx, Payment{
		OrderID:  p.OrderID,
		Amount:   -amount,
		Type:     PaymentRefund,
		Status:   PaymentCompleted,
		RefundOf: &p.ID,
	})
	if err != nil {
		return Payment{}, err
	}
	if refunded+amount == p.Amount {
		if err := s.repo.MarkPaymentRefundedTx(ctx, tx, p.ID); err != nil {
			return Payment{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Payment{}, fmt.Errorf("order: commit refund: %w", err)
	}
	return refund, nil
}

func (s *Service) ownedOpenOrder(ctx context.Context, orderID, userID string) (Order, error) {
	o, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if o.UserID != userID {
		return Order{}, ErrNotOwner
	}
	if o.Status == StatusCancelled || o.Status == StatusCompleted {
		return Order{}, ErrOrderClosed
	}
	return o, nil
}

func (s *Service) guardDouble(ctx context.Context, orderID string, types ...PaymentType) error {
	for _, typ := range types {
		_, err := s.repo.FindCompletedPayment(ctx, orderID, typ)
		switch {
		case err == nil:
			return ErrDoublePayment
		case errors.Is(err, ErrPaymentNotFound):
			// clear to proceed
		default:
			return err
		}
	}
	return nil
}
