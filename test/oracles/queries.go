package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

// All returns the invariant checks run against the live database while the
// actors hammer it. Any returned row is a violation.
func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_single_accepted_quote",
			SQL: `SELECT request_id, COUNT(*) FROM quotes
                  WHERE status = 'accepted'
                  GROUP BY request_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O2_deposit_arithmetic",
			SQL: `SELECT id, total_amount, deposit_amount, remaining_amount FROM orders
                  WHERE deposit_amount + remaining_amount <> total_amount
                     OR deposit_amount <> ROUND(total_amount * 0.30)`,
		},
		{
			Name: "O3_order_backed_by_accepted_quote",
			SQL: `SELECT o.id, q.status FROM orders o
                  JOIN quotes q ON q.id = o.quote_id
                  WHERE q.status <> 'accepted'`,
		},
		{
			Name: "O4_one_order_per_quote",
			SQL: `SELECT quote_id, COUNT(*) FROM orders
                  GROUP BY quote_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O5_notification_no_duplicates",
			SQL: `SELECT request_id, partner_id, channel, COUNT(*) FROM notification_records
                  GROUP BY request_id, partner_id, channel HAVING COUNT(*) > 1`,
		},
		{
			Name: "O6_notification_attempts_positive",
			SQL:  `SELECT id, attempts FROM notification_records WHERE attempts < 1`,
		},
		{
			Name: "O7_reward_exactly_once",
			SQL: `SELECT relationship_id, user_id, COUNT(*) FROM referral_rewards
                  GROUP BY relationship_id, user_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O8_reward_pair_complete",
			SQL: `SELECT r.id FROM referral_relationships r
                  WHERE r.reward_granted = TRUE
                    AND (SELECT COUNT(*) FROM referral_rewards rw WHERE rw.relationship_id = r.id) <> 2`,
		},
		{
			Name: "O9_reward_remaining_bounds",
			SQL: `SELECT id, amount, remaining FROM referral_rewards
                  WHERE remaining < 0 OR remaining > amount`,
		},
		{
			Name: "O10_completed_orders_have_deposit",
			SQL: `SELECT o.id FROM orders o
                  WHERE o.status = 'completed'
                    AND NOT EXISTS (SELECT 1 FROM payments p
                                    WHERE p.order_id = o.id
                                      AND p.payment_type IN ('deposit','full')
                                      AND p.payment_status IN ('completed','refunded'))`,
		},
		{
			Name: "O11_refund_within_original",
			SQL: `SELECT p.order_id,
                         SUM(CASE WHEN p.payment_type = 'refund' THEN -p.amount ELSE 0 END) AS refunded,
                         SUM(CASE WHEN p.payment_type <> 'refund' AND p.payment_status IN ('completed','refunded')
                                  THEN p.amount ELSE 0 END) AS paid
                  FROM payments p
                  GROUP BY p.order_id
                  HAVING SUM(CASE WHEN p.payment_type = 'refund' THEN -p.amount ELSE 0 END) >
                         SUM(CASE WHEN p.payment_type <> 'refund' AND p.payment_status IN ('completed','refunded')
                                  THEN p.amount ELSE 0 END)`,
		},
		{
			Name: "O12_settlement_conservation",
			SQL: `SELECT s.id, s.gross_amount, s.platform_fee, s.net_amount,
                         COALESCE(SUM(o.deposit_amount), 0) AS linked
                  FROM settlements s
                  LEFT JOIN orders o ON o.settlement_id = s.id
                  GROUP BY s.id
                  HAVING s.net_amount <> s.gross_amount - s.platform_fee
                      OR s.gross_amount <> COALESCE(SUM(o.deposit_amount), 0)
                      OR s.order_count <> COUNT(o.id)`,
		},
		{
			Name: "O13_refund_within_payment",
			SQL: `SELECT p.id, p.amount, SUM(-r.amount) AS refunded
                  FROM payments p
                  JOIN payments r ON r.refund_of = p.id AND r.payment_type = 'refund'
                  GROUP BY p.id
                  HAVING SUM(-r.amount) > p.amount`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample
// row text) or an empty name when every invariant holds.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
