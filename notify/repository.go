package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrRecordNotFound is returned when no notification record exists.
var ErrRecordNotFound = errors.New("notify: record not found")

// Repository persists delivery records and writes the aggregate counters
// back onto the quote request.
type Repository interface {
	UpsertRecord(ctx context.Context, rec Record) (Record, error)
	ListByRequest(ctx context.Context, requestID string) ([]Record, error)
	ListFailed(ctx context.Context, requestID string) ([]Record, error)
	UpdateRequestCounters(ctx context.Context, requestID string, summary Summary) error
}

const recordColumns = `id, request_id, partner_id, channel, status, error, attempts, created_at, updated_at`

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a PostgreSQL-backed notification repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// UpsertRecord inserts the attempt, or updates the existing row for the
// same request/partner/channel on retry.
func (r *PGRepository) UpsertRecord(ctx context.Context, rec Record) (Record, error) {
	const upsertSQL = `
		INSERT INTO notification_records (request_id, partner_id, channel, status, error, attempts)
		VALUES ($1, $2, $3, $4, $5, 1)
		ON CONFLICT (request_id, partner_id, channel) DO UPDATE
		SET status = EXCLUDED.status,
		    error = EXCLUDED.error,
		    attempts = notification_records.attempts + 1,
		    updated_at = now()
		RETURNING ` + recordColumns

	saved, err := scanRecord(r.pool.QueryRow(ctx, upsertSQL,
		rec.RequestID, rec.PartnerID, rec.Channel, rec.Status, rec.Error))
	if err != nil {
		return Record{}, fmt.Errorf("notify: upsert record: %w", err)
	}
	return saved, nil
}

// ListByRequest returns every delivery record for the request.
func (r *PGRepository) ListByRequest(ctx context.Context, requestID string) ([]Record, error) {
	return r.list(ctx, `SELECT `+recordColumns+` FROM notification_records WHERE request_id = $1 ORDER BY created_at ASC`, requestID)
}

// ListFailed returns only the failed delivery records for the request.
func (r *PGRepository) ListFailed(ctx context.Context, requestID string) ([]Record, error) {
	return r.list(ctx, `SELECT `+recordColumns+` FROM notification_records WHERE request_id = $1 AND status = 'failed' ORDER BY created_at ASC`, requestID)
}

func (r *PGRepository) list(ctx context.Context, query, requestID string) ([]Record, error) {
	rows, err := r.pool.Query(ctx, query, requestID)
	if err != nil {
		return nil, fmt.Errorf("notify: list records: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0, 16)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("notify: scan record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("notify: iterate records: %w", err)
	}
	return out, nil
}

// UpdateRequestCounters writes the per-channel counts onto the request row.
func (r *PGRepository) UpdateRequestCounters(ctx context.Context, requestID string, summary Summary) error {
	counters, err := json.Marshal(map[string]int{
		"email_sent":   summary.EmailSent,
		"email_failed": summary.EmailFailed,
		"sms_sent":     summary.SMSSent,
		"sms_failed":   summary.SMSFailed,
	})
	if err != nil {
		return fmt.Errorf("notify: marshal counters: %w", err)
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE quote_requests
		SET notification_status = $2, updated_at = now()
		WHERE id = $1
	`, requestID, counters)
	if err != nil {
		return fmt.Errorf("notify: update request counters: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("notify: request %s not found", requestID)
	}
	return nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var (
		rec    Record
		errTxt *string
	)
	err := row.Scan(
		&rec.ID, &rec.RequestID, &rec.PartnerID, &rec.Channel,
		&rec.Status, &errTxt, &rec.Attempts, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return Record{}, err
	}
	rec.Error = errTxt
	return rec, nil
}
