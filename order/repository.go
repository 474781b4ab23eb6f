package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrDuplicateID signals the generated order ID already exists.
	ErrDuplicateID = errors.New("order: duplicate order id")
	// ErrOrderExists signals the quote already has an order.
	ErrOrderExists = errors.New("order: order already exists for quote")
	// ErrOrderNotFound is returned when no order row exists.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrPaymentNotFound is returned when no payment row exists.
	ErrPaymentNotFound = errors.New("order: payment not found")
)

// Repository defines the data access required by the order service. Methods
// taking a pgx.Tx participate in the caller's transaction.
type Repository interface {
	CreateOrder(ctx context.Context, tx pgx.Tx, o Order) (Order, error)
	GetOrder(ctx context.Context, orderID string) (Order, error)
	GetOrderForUpdate(ctx context.Context, tx pgx.Tx, orderID string) (Order, error)
	ListByUser(ctx context.Context, userID string) ([]Order, error)
	ListByPartner(ctx context.Context, partnerID string) ([]Order, error)
	SetStatusTx(ctx context.Context, tx pgx.Tx, orderID string, status Status) error
	MarkCancelled(ctx context.Context, tx pgx.Tx, orderID, reason string) error
	MarkCompleted(ctx context.Context, tx pgx.Tx, orderID string, at time.Time) error
	AddNote(ctx context.Context, orderID, note string) error

	InsertPayment(ctx context.Context, p Payment) (Payment, error)
	InsertPaymentTx(ctx context.Context, tx pgx.Tx, p Payment) (Payment, error)
	GetPayment(ctx context.Context, paymentID string) (Payment, error)
	GetPaymentForUpdate(ctx context.Context, tx pgx.Tx, paymentID string) (Payment, error)
	FindCompletedPayment(ctx context.Context, orderID string, typ PaymentType) (Payment, error)
	FindCompletedPaymentTx(ctx context.Context, tx pgx.Tx, orderID string, typ PaymentType) (Payment, error)
	SetPaymentStatus(ctx context.Context, paymentID string, status PaymentStatus, gatewayRef string) error
	MarkPaymentRefundedTx(ctx context.Context, tx pgx.Tx, paymentID string) error
	SumRefundsTx(ctx context.Context, tx pgx.Tx, paymentID string) (int64, error)

	ListUnsettled(ctx context.Context, tx pgx.Tx, partnerID string, periodStart, periodEnd time.Time) ([]Order, error)
	InsertSettlement(ctx context.Context, tx pgx.Tx, s Settlement) (Settlement, error)
	LinkSettlement(ctx context.Context, tx pgx.Tx, settlementID string, orderIDs []string) error
}

const orderColumns = `id, quote_id, request_id, user_id, partner_id, total_amount, deposit_amount,
	remaining_amount, scheduled_at, status, notes, cancel_reason, completed_at, settlement_id,
	created_at, updated_at`

const paymentColumns = `id, order_id, amount, payment_type, payment_status, gateway_ref, refund_of, created_at, updated_at`

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a PostgreSQL-backed order repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// CreateOrder inserts a confirmed order inside the transaction. The unique
// constraint on quote_id guarantees one order per quote.
func (r *PGRepository) CreateOrder(ctx context.Context, tx pgx.Tx, o Order) (Order, error) {
	notes, err := json.Marshal(o.Notes)
	if err != nil {
		return Order{}, fmt.Errorf("order: marshal notes: %w", err)
	}

	const insertSQL = `
		INSERT INTO orders
			(id, quote_id, request_id, user_id, partner_id, total_amount, deposit_amount,
			 remaining_amount, scheduled_at, status, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 'confirmed', $10)
		RETURNING ` + orderColumns

	created, err := scanOrder(tx.QueryRow(ctx, insertSQL,
		o.ID, o.QuoteID, o.RequestID, o.UserID, o.PartnerID, o.TotalAmount, o.DepositAmount,
		o.RemainingAmount, o.ScheduledAt, notes))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			if pgErr.ConstraintName == "orders_quote_id_key" {
				return Order{}, ErrOrderExists
			}
			return Order{}, ErrDuplicateID
		}
		return Order{}, fmt.Errorf("order: create: %w", err)
	}
	return created, nil
}

// GetOrder retrieves an order by ID.
func (r *PGRepository) GetOrder(ctx context.Context, orderID string) (Order, error) {
	const selectSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	o, err := scanOrder(r.pool.QueryRow(ctx, selectSQL, orderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrOrderNotFound
		}
		return Order{}, fmt.Errorf("order: get: %w", err)
	}
	return o, nil
}

// GetOrderForUpdate locks the order row inside the transaction.
func (r *PGRepository) GetOrderForUpdate(ctx context.Context, tx pgx.Tx, orderID string) (Order, error) {
	const selectSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 FOR UPDATE`

	o, err := scanOrder(tx.QueryRow(ctx, selectSQL, orderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrOrderNotFound
		}
		return Order{}, fmt.Errorf("order: lock: %w", err)
	}
	return o, nil
}

// ListByUser returns the customer's orders, newest first.
func (r *PGRepository) ListByUser(ctx context.Context, userID string) ([]Order, error) {
	return r.list(ctx, `SELECT `+orderColumns+` FROM orders WHERE user_id = $1 ORDER BY created_at DESC`, userID)
}

// ListByPartner returns the partner's orders, newest first.
func (r *PGRepository) ListByPartner(ctx context.Context, partnerID string) ([]Order, error) {
	return r.list(ctx, `SELECT `+orderColumns+` FROM orders WHERE partner_id = $1 ORDER BY created_at DESC`, partnerID)
}

func (r *PGRepository) list(ctx context.Context, query, key string) ([]Order, error) {
	rows, err := r.pool.Query(ctx, query, key)
	if err != nil {
		return nil, fmt.Errorf("order: list: %w", err)
	}
	defer rows.Close()

	out := make([]Order, 0, 8)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("order: scan: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("order: iterate: %w", err)
	}
	return out, nil
}

// SetStatusTx updates the order status inside the transaction.
func (r *PGRepository) SetStatusTx(ctx context.Context, tx pgx.Tx, orderID string, status Status) error {
	tag, err := tx.Exec(ctx,
		`UPDATE orders SET status = $2, updated_at = now() WHERE id = $1`, orderID, status)
	if err != nil {
		return fmt.Errorf("order: set status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// MarkCancelled cancels the order and records the reason.
func (r *PGRepository) MarkCancelled(ctx context.Context, tx pgx.Tx, orderID, reason string) error {
	tag, err := tx.Exec(ctx, `
		UPDATE orders
		SET status = 'cancelled', cancel_reason = $2, updated_at = now()
		WHERE id = $1
	`, orderID, reason)
	if err != nil {
		return fmt.Errorf("order: mark cancelled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// MarkCompleted completes the order and stamps the completion time.
func (r *PGRepository) MarkCompleted(ctx context.Context, tx pgx.Tx, orderID string, at time.Time) error {
	tag, err := tx.Exec(ctx, `
		UPDATE orders
		SET status = 'completed', completed_at = $2, updated_at = now()
		WHERE id = $1
	`, orderID, at)
	if err != nil {
		return fmt.Errorf("order: mark completed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// AddNote appends one note to the order's note list.
func (r *PGRepository) AddNote(ctx context.Context, orderID, note string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE orders
		SET notes = notes || to_jsonb($2::text), updated_at = now()
		WHERE id = $1
	`, orderID, note)
	if err != nil {
		return fmt.Errorf("order: add note: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// InsertPayment inserts a payment row outside a transaction.
func (r *PGRepository) InsertPayment(ctx context.Context, p Payment) (Payment, error) {
	created, err := scanPayment(r.pool.QueryRow(ctx, insertPaymentSQL,
		p.OrderID, p.Amount, p.Type, p.Status, p.GatewayRef, p.RefundOf))
	if err != nil {
		return Payment{}, fmt.Errorf("order: insert payment: %w", err)
	}
	return created, nil
}

// InsertPaymentTx inserts a payment row inside the transaction.
func (r *PGRepository) InsertPaymentTx(ctx context.Context, tx pgx.Tx, p Payment) (Payment, error) {
	created, err := scanPayment(tx.QueryRow(ctx, insertPaymentSQL,
		p.OrderID, p.Amount, p.Type, p.Status, p.GatewayRef, p.RefundOf))
	if err != nil {
		return Payment{}, fmt.Errorf("order: insert payment: %w", err)
	}
	return created, nil
}

const insertPaymentSQL = `
	INSERT INTO payments (order_id, amount, payment_type, payment_status, gateway_ref, refund_of)
	VALUES ($1, $2, $3, $4, $5, $6)
	RETURNING ` + paymentColumns

// GetPayment retrieves a payment by ID.
func (r *PGRepository) GetPayment(ctx context.Context, paymentID string) (Payment, error) {
	const selectSQL = `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`

	p, err := scanPayment(r.pool.QueryRow(ctx, selectSQL, paymentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Payment{}, ErrPaymentNotFound
		}
		return Payment{}, fmt.Errorf("order: get payment: %w", err)
	}
	return p, nil
}

// GetPaymentForUpdate locks the payment row inside the transaction.
func (r *PGRepository) GetPaymentForUpdate(ctx context.Context, tx pgx.Tx, paymentID string) (Payment, error) {
	const selectSQL = `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1 FOR UPDATE`

	p, err := scanPayment(tx.QueryRow(ctx, selectSQL, paymentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Payment{}, ErrPaymentNotFound
		}
		return Payment{}, fmt.Errorf("order: lock payment: %w", err)
	}
	return p, nil
}

// FindCompletedPayment returns the completed payment of the given type, if any.
func (r *PGRepository) FindCompletedPayment(ctx context.Context, orderID string, typ PaymentType) (Payment, error) {
	p, err := scanPayment(r.pool.QueryRow(ctx, findCompletedSQL, orderID, typ))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Payment{}, ErrPaymentNotFound
		}
		return Payment{}, fmt.Errorf("order: find completed payment: %w", err)
	}
	return p, nil
}

// FindCompletedPaymentTx is FindCompletedPayment inside the transaction.
func (r *PGRepository) FindCompletedPaymentTx(ctx context.Context, tx pgx.Tx, orderID string, typ PaymentType) (Payment, error) {
	p, err := scanPayment(tx.QueryRow(ctx, findCompletedSQL, orderID, typ))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Payment{}, ErrPaymentNotFound
		}
		return Payment{}, fmt.Errorf("order: find completed payment: %w", err)
	}
	return p, nil
}

const findCompletedSQL = `
	SELECT ` + paymentColumns + `
	FROM payments
	WHERE order_id = $1 AND payment_type = $2 AND payment_status IN ('completed', 'refunded')
	ORDER BY created_at ASC
	LIMIT 1`

// SetPaymentStatus updates a payment's status and gateway reference.
func (r *PGRepository) SetPaymentStatus(ctx context.Context, paymentID string, status PaymentStatus, gatewayRef string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE payments
		SET payment_status = $2, gateway_ref = $3, updated_at = now()
		WHERE id = $1
	`, paymentID, status, gatewayRef)
	if err != nil {
		return fmt.Errorf("order: set payment status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

// MarkPaymentRefundedTx flips a payment to refunded. The amount column is
// left untouched.
func (r *PGRepository) MarkPaymentRefundedTx(ctx context.Context, tx pgx.Tx, paymentID string) error {
	tag, err := tx.Exec(ctx,
		`UPDATE payments SET payment_status = 'refunded', updated_at = now() WHERE id = $1`, paymentID)
	if err != nil {
		return fmt.Errorf("order: mark payment refunded: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

// SumRefundsTx returns the cents already refunded against the payment,
// as a positive number. Reads inside the caller's transaction so the
// total is stable under the payment row's lock.
func (r *PGRepository) SumRefundsTx(ctx context.Context, tx pgx.Tx, paymentID string) (int64, error) {
	var refunded int64
	err := tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(-amount), 0)
		FROM payments
		WHERE refund_of = $1 AND payment_type = 'refund'
	`, paymentID).Scan(&refunded)
	if err != nil {
		return 0, fmt.Errorf("order: sum refunds: %w", err)
	}
	return refunded, nil
}

// ListUnsettled locks the partner's completed, unsettled orders whose
// completion falls inside the period.
func (r *PGRepository) ListUnsettled(ctx context.Context, tx pgx.Tx, partnerID string, periodStart, periodEnd time.Time) ([]Order, error) {
	const selectSQL = `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE partner_id = $1
		  AND status = 'completed'
		  AND settlement_id IS NULL
		  AND completed_at >= $2 AND completed_at < $3
		ORDER BY completed_at ASC
		FOR UPDATE`

	rows, err := tx.Query(ctx, selectSQL, partnerID, periodStart, periodEnd)
	if err != nil {
		return nil, fmt.Errorf("order: list unsettled: %w", err)
	}
	defer rows.Close()

	out := make([]Order, 0, 8)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("order: scan unsettled: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("order: iterate unsettled: %w", err)
	}
	return out, nil
}

// InsertSettlement inserts the settlement row inside the transaction.
func (r *PGRepository) InsertSettlement(ctx context.Context, tx pgx.Tx, s Settlement) (Settlement, error) {
	const insertSQL = `
		INSERT INTO settlements
			(partner_id, period_start, period_end, gross_amount, platform_fee, net_amount, order_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, partner_id, period_start, period_end, gross_amount, platform_fee, net_amount, order_count, created_at`

	var created Settlement
	err := tx.QueryRow(ctx, insertSQL,
		s.PartnerID, s.PeriodStart, s.PeriodEnd, s.GrossAmount, s.PlatformFee, s.NetAmount, s.OrderCount,
	).Scan(
		&created.ID, &created.PartnerID, &created.PeriodStart, &created.PeriodEnd,
		&created.GrossAmount, &created.PlatformFee, &created.NetAmount, &created.OrderCount, &created.CreatedAt,
	)
	if err != nil {
		return Settlement{}, fmt.Errorf("order: insert settlement: %w", err)
	}
	return created, nil
}

// LinkSettlement stamps the settlement onto its orders.
func (r *PGRepository) LinkSettlement(ctx context.Context, tx pgx.Tx, settlementID string, orderIDs []string) error {
	tag, err := tx.Exec(ctx, `
		UPDATE orders
		SET settlement_id = $1, updated_at = now()
		WHERE id = ANY($2)
	`, settlementID, orderIDs)
	if err != nil {
		return fmt.Errorf("order: link settlement: %w", err)
	}
	if int(tag.RowsAffected()) != len(orderIDs) {
		return fmt.Errorf("order: linked %d of %d orders", tag.RowsAffected(), len(orderIDs))
	}
	return nil
}

func scanOrder(row pgx.Row) (Order, error) {
	var (
		o     Order
		notes []byte
	)
	err := row.Scan(
		&o.ID, &o.QuoteID, &o.RequestID, &o.UserID, &o.PartnerID, &o.TotalAmount, &o.DepositAmount,
		&o.RemainingAmount, &o.ScheduledAt, &o.Status, &notes, &o.CancelReason, &o.CompletedAt,
		&o.SettlementID, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return Order{}, err
	}
	if err := json.Unmarshal(notes, &o.Notes); err != nil {
		return Order{}, fmt.Errorf("order: decode notes: %w", err)
	}
	return o, nil
}

func scanPayment(row pgx.Row) (Payment, error) {
	var p Payment
	err := row.Scan(
		&p.ID, &p.OrderID, &p.Amount, &p.Type, &p.Status, &p.GatewayRef, &p.RefundOf, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return Payment{}, err
	}
	return p, nil
}
