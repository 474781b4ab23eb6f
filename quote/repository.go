package quote

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
	// ErrDuplicateID signals the generated request ID already exists.
	ErrDuplicateID = errors.New("quote: duplicate request id")
	// ErrRequestNotFound is returned when no request row exists.
	ErrRequestNotFound = errors.New("quote: request not found")
	// ErrQuoteNotFound is returned when no quote row exists.
	ErrQuoteNotFound = errors.New("quote: quote not found")
	// ErrAcceptConflict signals another quote on the request is already accepted.
	ErrAcceptConflict = errors.New("quote: another quote already accepted")
)

// Repository defines the data access required by the quote service. Methods
// taking a pgx.Tx participate in the caller's transaction.
type Repository interface {
	CreateRequest(ctx context.Context, req Request) (Request, error)
	GetRequest(ctx context.Context, requestID string) (Request, error)
	GetRequestForUpdate(ctx context.Context, tx pgx.Tx, requestID string) (Request, error)
	ListRequestsByUser(ctx context.Context, userID string) ([]Request, error)
	SetRequestStatus(ctx context.Context, requestID string, status RequestStatus) error
	SetRequestStatusTx(ctx context.Context, tx pgx.Tx, requestID string, status RequestStatus) error

	InsertQuote(ctx context.Context, tx pgx.Tx, q Quote) (Quote, error)
	GetQuote(ctx context.Context, quoteID string) (Quote, error)
	GetQuoteForUpdate(ctx context.Context, tx pgx.Tx, quoteID string) (Quote, error)
	CountQuotes(ctx context.Context, tx pgx.Tx, requestID string) (int, error)
	MarkAccepted(ctx context.Context, tx pgx.Tx, quoteID string) error
	RejectSiblings(ctx context.Context, tx pgx.Tx, requestID, acceptedQuoteID string) (int64, error)
	ExpireQuotesForRequest(ctx context.Context, tx pgx.Tx, requestID string) (int64, error)
	ListQuotes(ctx context.Context, requestID string) ([]Quote, error)
	ExpireStale(ctx context.Context, cutoff time.Time) (int64, error)
}

const requestColumns = `id, user_id, contact_name, contact_phone, contact_email, move_date,
	origin, destination, items, services, status, notification_status, created_at, updated_at`

const quoteColumns = `id, request_id, partner_id, basic_fee, additional_services, discount,
	total_amount, available_times, status, expires_at, created_at, updated_at`

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a PostgreSQL-backed quote repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// CreateRequest inserts a new quote request in pending state.
func (r *PGRepository) CreateRequest(ctx context.Context, req Request) (Request, error) {
	origin, destination, items, services, notif, err := marshalRequestJSON(req)
	if err != nil {
		return Request{}, err
	}

	const insertSQL = `
		INSERT INTO quote_requests
			(id, user_id, contact_name, contact_phone, contact_email, move_date,
			 origin, destination, items, services, status, notification_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 'pending', $11)
		RETURNING ` + requestColumns

	created, err := scanRequest(r.pool.QueryRow(ctx, insertSQL,
		req.ID, req.UserID, req.ContactName, req.ContactPhone, req.ContactEmail, req.MoveDate,
		origin, destination, items, services, notif))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Request{}, ErrDuplicateID
		}
		return Request{}, fmt.Errorf("quote: create request: %w", err)
	}
	return created, nil
}

// GetRequest retrieves a request by ID.
func (r *PGRepository) GetRequest(ctx context.Context, requestID string) (Request, error) {
	const selectSQL = `SELECT ` + requestColumns + ` FROM quote_requests WHERE id = $1`

	req, err := scanRequest(r.pool.QueryRow(ctx, selectSQL, requestID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Request{}, ErrRequestNotFound
		}
		return Request{}, fmt.Errorf("quote: get request: %w", err)
	}
	return req, nil
}

// GetRequestForUpdate locks the request row inside the transaction.
func (r *PGRepository) GetRequestForUpdate(ctx context.Context, tx pgx.Tx, requestID string) (Request, error) {
	const selectSQL = `SELECT ` + requestColumns + ` FROM quote_requests WHERE id = $1 FOR UPDATE`

	req, err := scanRequest(tx.QueryRow(ctx, selectSQL, requestID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Request{}, ErrRequestNotFound
		}
		return Request{}, fmt.Errorf("quote: lock request: %w", err)
	}
	return req, nil
}

// ListRequestsByUser returns the user's requests, newest first.
func (r *PGRepository) ListRequestsByUser(ctx context.Context, userID string) ([]Request, error) {
	const selectSQL = `SELECT ` + requestColumns + ` FROM quote_requests WHERE user_id = $1 ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, selectSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("quote: list requests: %w", err)
	}
	defer rows.Close()

	out := make([]Request, 0, 8)
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("quote: scan request: %w", err)
		}
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("quote: iterate requests: %w", err)
	}
	return out, nil
}

// SetRequestStatus updates the request status outside a transaction.
func (r *PGRepository) SetRequestStatus(ctx context.Context, requestID string, status RequestStatus) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE quote_requests SET status = $2, updated_at = now() WHERE id = $1`, requestID, status)
	if err != nil {
		return fmt.Errorf("quote: set request status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRequestNotFound
	}
	return nil
}

// SetRequestStatusTx updates the request status inside the transaction.
func (r *PGRepository) SetRequestStatusTx(ctx context.Context, tx pgx.Tx, requestID string, status RequestStatus) error {
	tag, err := tx.Exec(ctx,
		`UPDATE quote_requests SET status = $2, updated_at = now() WHERE id = $1`, requestID, status)
	if err != nil {
		return fmt.Errorf("quote: set request status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRequestNotFound
	}
	return nil
}

// InsertQuote inserts a partner quote inside the transaction.
func (r *PGRepository) InsertQuote(ctx context.Context, tx pgx.Tx, q Quote) (Quote, error) {
	additional, err := json.Marshal(q.AdditionalServices)
	if err != nil {
		return Quote{}, fmt.Errorf("quote: marshal additional services: %w", err)
	}
	times, err := json.Marshal(q.AvailableTimes)
	if err != nil {
		return Quote{}, fmt.Errorf("quote: marshal available times: %w", err)
	}

	const insertSQL = `
		INSERT INTO quotes
			(request_id, partner_id, basic_fee, additional_services, discount,
			 total_amount, available_times, status, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'submitted', $8)
		RETURNING ` + quoteColumns

	created, err := scanQuote(tx.QueryRow(ctx, insertSQL,
		q.RequestID, q.PartnerID, q.BasicFee, additional, q.Discount,
		q.TotalAmount, times, q.ExpiresAt))
	if err != nil {
		return Quote{}, fmt.Errorf("quote: insert quote: %w", err)
	}
	return created, nil
}

// GetQuote retrieves a quote by ID.
func (r *PGRepository) GetQuote(ctx context.Context, quoteID string) (Quote, error) {
	const selectSQL = `SELECT ` + quoteColumns + ` FROM quotes WHERE id = $1`

	q, err := scanQuote(r.pool.QueryRow(ctx, selectSQL, quoteID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Quote{}, ErrQuoteNotFound
		}
		return Quote{}, fmt.Errorf("quote: get quote: %w", err)
	}
	return q, nil
}

// GetQuoteForUpdate locks the quote row inside the transaction.
func (r *PGRepository) GetQuoteForUpdate(ctx context.Context, tx pgx.Tx, quoteID string) (Quote, error) {
	const selectSQL = `SELECT ` + quoteColumns + ` FROM quotes WHERE id = $1 FOR UPDATE`

	q, err := scanQuote(tx.QueryRow(ctx, selectSQL, quoteID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Quote{}, ErrQuoteNotFound
		}
		return Quote{}, fmt.Errorf("quote: lock quote: %w", err)
	}
	return q, nil
}

// CountQuotes counts every quote on the request inside the transaction.
func (r *PGRepository) CountQuotes(ctx context.Context, tx pgx.Tx, requestID string) (int, error) {
	var count int
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM quotes WHERE request_id = $1`, requestID).Scan(&count); err != nil {
		return 0, fmt.Errorf("quote: count quotes: %w", err)
	}
	return count, nil
}

// MarkAccepted flips the quote to accepted. The partial unique index on
// quotes (request_id) WHERE status='accepted' makes a double accept
// impossible even across concurrent transactions.
func (r *PGRepository) MarkAccepted(ctx context.Context, tx pgx.Tx, quoteID string) error {
	tag, err := tx.Exec(ctx,
		`UPDATE quotes SET status = 'accepted', updated_at = now() WHERE id = $1 AND status = 'submitted'`, quoteID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrAcceptConflict
		}
		return fmt.Errorf("quote: mark accepted: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrQuoteNotFound
	}
	return nil
}

// RejectSiblings rejects every other live quote on the request.
func (r *PGRepository) RejectSiblings(ctx context.Context, tx pgx.Tx, requestID, acceptedQuoteID string) (int64, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE quotes
		SET status = 'rejected', updated_at = now()
		WHERE request_id = $1 AND id <> $2 AND status = 'submitted'
	`, requestID, acceptedQuoteID)
	if err != nil {
		return 0, fmt.Errorf("quote: reject siblings: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ExpireQuotesForRequest expires every live quote on the request.
func (r *PGRepository) ExpireQuotesForRequest(ctx context.Context, tx pgx.Tx, requestID string) (int64, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE quotes
		SET status = 'expired', updated_at = now()
		WHERE request_id = $1 AND status = 'submitted'
	`, requestID)
	if err != nil {
		return 0, fmt.Errorf("quote: expire quotes: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListQuotes returns every quote on the request, cheapest first.
func (r *PGRepository) ListQuotes(ctx context.Context, requestID string) ([]Quote, error) {
	const selectSQL = `SELECT ` + quoteColumns + ` FROM quotes WHERE request_id = $1 ORDER BY total_amount ASC`

	rows, err := r.pool.Query(ctx, selectSQL, requestID)
	if err != nil {
		return nil, fmt.Errorf("quote: list quotes: %w", err)
	}
	defer rows.Close()

	out := make([]Quote, 0, 8)
	for rows.Next() {
		q, err := scanQuote(rows)
		if err != nil {
			return nil, fmt.Errorf("quote: scan quote: %w", err)
		}
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("quote: iterate quotes: %w", err)
	}
	return out, nil
}

// ExpireStale expires submitted quotes whose 48-hour window has passed.
func (r *PGRepository) ExpireStale(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE quotes
		SET status = 'expired', updated_at = now()
		WHERE status = 'submitted' AND expires_at <= $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("quote: expire stale: %w", err)
	}
	return tag.RowsAffected(), nil
}

func marshalRequestJSON(req Request) (origin, destination, items, services, notif []byte, err error) {
	if origin, err = json.Marshal(req.Origin); err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("quote: marshal origin: %w", err)
	}
	if destination, err = json.Marshal(req.Destination); err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("quote: marshal destination: %w", err)
	}
	if items, err = json.Marshal(req.Items); err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("quote: marshal items: %w", err)
	}
	if services, err = json.Marshal(req.Services); err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("quote: marshal services: %w", err)
	}
	if notif, err = json.Marshal(req.NotificationStatus); err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("quote: marshal notification status: %w", err)
	}
	return origin, destination, items, services, notif, nil
}

func scanRequest(row pgx.Row) (Request, error) {
	var (
		req                                     Request
		origin, destination, items, svcs, notif []byte
	)
	err := row.Scan(
		&req.ID, &req.UserID, &req.ContactName, &req.ContactPhone, &req.ContactEmail, &req.MoveDate,
		&origin, &destination, &items, &svcs, &req.Status, &notif, &req.CreatedAt, &req.UpdatedAt,
	)
	if err != nil {
		return Request{}, err
	}
	if err := json.Unmarshal(origin, &req.Origin); err != nil {
		return Request{}, fmt.Errorf("quote: decode origin: %w", err)
	}
	if err := json.Unmarshal(destination, &req.Destination); err != nil {
		return Request{}, fmt.Errorf("quote: decode destination: %w", err)
	}
	if err := json.Unmarshal(items, &req.Items); err != nil {
		return Request{}, fmt.Errorf("quote: decode items: %w", err)
	}
	if err := json.Unmarshal(svcs, &req.Services); err != nil {
		return Request{}, fmt.Errorf("quote: decode services: %w", err)
	}
	if err := json.Unmarshal(notif, &req.NotificationStatus); err != nil {
		return Request{}, fmt.Errorf("quote: decode notification status: %w", err)
	}
	return req, nil
}

func scanQuote(row pgx.Row) (Quote, error) {
	var (
		q                 Quote
		additional, times []byte
	)
	err := row.Scan(
		&q.ID, &q.RequestID, &q.PartnerID, &q.BasicFee, &additional, &q.Discount,
		&q.TotalAmount, &times, &q.Status, &q.ExpiresAt, &q.CreatedAt, &q.UpdatedAt,
	)
	if err != nil {
		return Quote{}, err
	}
	if err := json.Unmarshal(additional, &q.AdditionalServices); err != nil {
		return Quote{}, fmt.Errorf("quote: decode additional services: %w", err)
	}
	if err := json.Unmarshal(times, &q.AvailableTimes); err != nil {
		return Quote{}, fmt.Errorf("quote: decode available times: %w", err)
	}
	return q, nil
}
