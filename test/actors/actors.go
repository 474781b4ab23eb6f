package actors

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// QuoteSubmitter keeps adding submitted quotes from a partner to the same
// request, simulating the fan-out audience responding.
func QuoteSubmitter(ctx context.Context, pool *pgxpool.Pool, requestID, partnerID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		// Multiples of 10 keep the 30% deposit an exact cent amount.
		basic := int64(100000 + rand.Intn(30000)*10)
		_, err := pool.Exec(ctx, `INSERT INTO quotes (request_id, partner_id, basic_fee, total_amount, expires_at, status)
                                  VALUES ($1, $2, $3, $3, NOW() + interval '48 hours', 'submitted')`,
			requestID, partnerID, basic)
		if err != nil && !isExpectedContention(err) {
			return fmt.Errorf("submitter insert: %w", err)
		}
		time.Sleep(time.Duration(20+rand.Intn(40)) * time.Millisecond)
	}
}

// Acceptor races to accept a submitted quote for the request. The partial
// unique index on accepted quotes makes all but one concurrent accept fail
// with a unique violation, which is the expected outcome under contention.
func Acceptor(ctx context.Context, pool *pgxpool.Pool, requestID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		var quoteID string
		err = tx.QueryRow(ctx, `SELECT id FROM quotes WHERE request_id=$1 AND status='submitted'
                                ORDER BY random() LIMIT 1 FOR UPDATE SKIP LOCKED`, requestID).Scan(&quoteID)
		if err == nil {
			_, err = tx.Exec(ctx, `UPDATE quotes SET status='accepted', updated_at=NOW() WHERE id=$1`, quoteID)
			if err == nil {
				_, err = tx.Exec(ctx, `UPDATE quotes SET status='rejected', updated_at=NOW()
                                       WHERE request_id=$1 AND id<>$2 AND status='submitted'`, requestID, quoteID)
			}
			if err == nil {
				_, err = tx.Exec(ctx, `UPDATE quote_requests SET status='accepted', updated_at=NOW() WHERE id=$1`, requestID)
			}
			if err == nil {
				err = tx.Commit(ctx)
			}
		}
		_ = tx.Rollback(ctx)
		if err != nil && !isExpectedContention(err) && !isNoRows(err) && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("acceptor: %w", err)
		}
		time.Sleep(time.Duration(30+rand.Intn(50)) * time.Millisecond)
	}
}

// OrderCreator races to create the order for whichever quote is accepted.
// The unique quote_id column allows exactly one winner.
func OrderCreator(ctx context.Context, pool *pgxpool.Pool, requestID, userID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		var quoteID, partnerID string
		var total int64
		err := pool.QueryRow(ctx, `SELECT id, partner_id, total_amount FROM quotes
                                   WHERE request_id=$1 AND status='accepted' LIMIT 1`, requestID).
			Scan(&quoteID, &partnerID, &total)
		if err == nil {
			deposit := int64(math.Round(float64(total) * 0.30))
			orderID := fmt.Sprintf("MO-%s-%04d", time.Now().Format("20060102"), rand.Intn(10000))
			_, err = pool.Exec(ctx, `INSERT INTO orders
                    (id, quote_id, request_id, user_id, partner_id, total_amount, deposit_amount, remaining_amount, scheduled_at, status)
                 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW() + interval '72 hours', 'confirmed')`,
				orderID, quoteID, requestID, userID, partnerID, total, deposit, total-deposit)
			if err != nil && !isExpectedContention(err) {
				return fmt.Errorf("order creator: %w", err)
			}
		}
		time.Sleep(time.Duration(40+rand.Intn(60)) * time.Millisecond)
	}
}

// PaymentProcessor pays deposits on confirmed orders: insert pending, then
// flip to completed. Repeats on the same order to exercise double-payment
// handling at the data layer.
func PaymentProcessor(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		var orderID string
		var deposit int64
		err = tx.QueryRow(ctx, `SELECT o.id, o.deposit_amount FROM orders o
                                WHERE o.status='confirmed'
                                  AND NOT EXISTS (SELECT 1 FROM payments p
                                                  WHERE p.order_id=o.id AND p.payment_type='deposit'
                                                    AND p.payment_status IN ('completed','refunded'))
                                ORDER BY random() LIMIT 1 FOR UPDATE SKIP LOCKED`).Scan(&orderID, &deposit)
		if err == nil {
			var paymentID string
			err = tx.QueryRow(ctx, `INSERT INTO payments (order_id, amount, payment_type, payment_status)
                                    VALUES ($1, $2, 'deposit', 'pending') RETURNING id`, orderID, deposit).Scan(&paymentID)
			if err == nil {
				_, err = tx.Exec(ctx, `UPDATE payments SET payment_status='completed', gateway_ref=$2, updated_at=NOW()
                                       WHERE id=$1 AND payment_status='pending'`, paymentID, fmt.Sprintf("gw-%d", rand.Int63()))
			}
			if err == nil {
				err = tx.Commit(ctx)
			}
		}
		_ = tx.Rollback(ctx)
		if err != nil && !isExpectedContention(err) && !isNoRows(err) && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("payment processor: %w", err)
		}
		time.Sleep(time.Duration(50+rand.Intn(80)) * time.Millisecond)
	}
}

// Refunder issues random partial refunds against completed deposit
// payments. Each refund row points at its payment, so concurrent refunds
// racing on the same lock can never drain more than the payment amount.
func Refunder(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		var paymentID, orderID string
		var amount, refunded int64
		err = tx.QueryRow(ctx, `SELECT id, order_id, amount FROM payments
                                WHERE payment_type='deposit' AND payment_status='completed'
                                ORDER BY random() LIMIT 1 FOR UPDATE SKIP LOCKED`).Scan(&paymentID, &orderID, &amount)
		if err == nil {
			err = tx.QueryRow(ctx, `SELECT COALESCE(SUM(-amount), 0) FROM payments
                                    WHERE refund_of=$1 AND payment_type='refund'`, paymentID).Scan(&refunded)
		}
		if err == nil && refunded < amount {
			take := 1 + rand.Int63n(amount-refunded)
			_, err = tx.Exec(ctx, `INSERT INTO payments (order_id, amount, payment_type, payment_status, refund_of)
                                   VALUES ($1, $2, 'refund', 'completed', $3)`, orderID, -take, paymentID)
			if err == nil && refunded+take == amount {
				_, err = tx.Exec(ctx, `UPDATE payments SET payment_status='refunded', updated_at=NOW() WHERE id=$1`, paymentID)
			}
		}
		if err == nil {
			err = tx.Commit(ctx)
		}
		_ = tx.Rollback(ctx)
		if err != nil && !isExpectedContention(err) && !isNoRows(err) && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("refunder: %w", err)
		}
		time.Sleep(time.Duration(80+rand.Intn(120)) * time.Millisecond)
	}
}

// Completer walks paid orders through in_progress to completed.
func Completer(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		_, err := pool.Exec(ctx, `UPDATE orders SET status='in_progress', updated_at=NOW()
                                  WHERE status='confirmed'
                                    AND EXISTS (SELECT 1 FROM payments p WHERE p.order_id=orders.id
                                                AND p.payment_type='deposit' AND p.payment_status='completed')`)
		if err == nil {
			_, err = pool.Exec(ctx, `UPDATE orders SET status='completed', completed_at=NOW(), updated_at=NOW()
                                     WHERE status='in_progress'`)
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("completer: %w", err)
		}
		time.Sleep(time.Duration(100+rand.Intn(100)) * time.Millisecond)
	}
}

// RewardGranter repeatedly fires the first-order reward grant for the same
// relationship. The FOR UPDATE lock plus the reward_granted guard must keep
// the grant exactly-once no matter how many racers fire.
func RewardGranter(ctx context.Context, pool *pgxpool.Pool, relationshipID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		var referrerID, refereeID string
		var granted bool
		err = tx.QueryRow(ctx, `SELECT referrer_id, referee_id, reward_granted FROM referral_relationships
                                WHERE id=$1 FOR UPDATE`, relationshipID).Scan(&referrerID, &refereeID, &granted)
		if err == nil && !granted {
			tag, updErr := tx.Exec(ctx, `UPDATE referral_relationships
                                         SET status='completed', reward_granted=TRUE, completed_at=NOW(), updated_at=NOW()
                                         WHERE id=$1 AND reward_granted=FALSE`, relationshipID)
			err = updErr
			if err == nil && tag.RowsAffected() == 1 {
				for _, userID := range []string{referrerID, refereeID} {
					_, err = tx.Exec(ctx, `INSERT INTO referral_rewards (user_id, relationship_id, amount, remaining, expires_at)
                                           VALUES ($1, $2, 10000, 10000, NOW() + interval '12 months')`, userID, relationshipID)
					if err != nil {
						break
					}
				}
			}
		}
		if err == nil {
			err = tx.Commit(ctx)
		}
		_ = tx.Rollback(ctx)
		if err != nil && !isExpectedContention(err) && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("reward granter: %w", err)
		}
		time.Sleep(time.Duration(20+rand.Intn(40)) * time.Millisecond)
	}
}

// CreditSpender drains the referee's credit in small random bites, never
// allowing remaining to go negative thanks to the CHECK constraint.
func CreditSpender(ctx context.Context, pool *pgxpool.Pool, userID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		take := int64(100 + rand.Intn(500))
		_, err := pool.Exec(ctx, `UPDATE referral_rewards SET remaining = remaining - $2
                                  WHERE id = (SELECT id FROM referral_rewards
                                              WHERE user_id=$1 AND remaining >= $2 AND expires_at > NOW()
                                              ORDER BY expires_at ASC LIMIT 1)`, userID, take)
		if err != nil && !isExpectedContention(err) && !errors.Is(err, context.Canceled) {
			var pgErr *pgconn.PgError
			// 23514: the remaining >= 0 check lost a race; the row is intact.
			if !errors.As(err, &pgErr) || pgErr.Code != "23514" {
				return fmt.Errorf("credit spender: %w", err)
			}
		}
		time.Sleep(time.Duration(30+rand.Intn(60)) * time.Millisecond)
	}
}

// NotificationWriter replays dispatch records for a partner/channel pair.
// The upsert must bump attempts in place and never duplicate the row.
func NotificationWriter(ctx context.Context, pool *pgxpool.Pool, requestID, partnerID string, stop <-chan struct{}) error {
	channels := []string{"email", "sms"}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		channel := channels[rand.Intn(len(channels))]
		status := "sent"
		if rand.Intn(4) == 0 {
			status = "failed"
		}
		_, err := pool.Exec(ctx, `INSERT INTO notification_records (request_id, partner_id, channel, status)
                                  VALUES ($1, $2, $3, $4)
                                  ON CONFLICT (request_id, partner_id, channel)
                                  DO UPDATE SET status=EXCLUDED.status, attempts=notification_records.attempts+1, updated_at=NOW()`,
			requestID, partnerID, channel, status)
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("notification writer: %w", err)
		}
		time.Sleep(time.Duration(40+rand.Intn(60)) * time.Millisecond)
	}
}

func isExpectedContention(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	// Unique violations and serialization failures are the point of the
	// exercise, not defects.
	return pgErr.Code == "23505" || pgErr.Code == "40001" || pgErr.Code == "55P03"
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
