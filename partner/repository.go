package partner

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound signals the requested partner does not exist.
	ErrNotFound = errors.New("partner: not found")
	// ErrDuplicateReview signals the order already carries a review.
	ErrDuplicateReview = errors.New("partner: order already reviewed")
)

const partnerColumns = `id, user_id, company_name, contact_name, phone, email, status, rating, review_count, created_at, updated_at`

// Repository provides data access for partner accounts and reviews.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed repository implementation.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a new partner account in pending state.
func (r *Repository) Create(ctx context.Context, params RegisterParams) (Partner, error) {
	const query = `
		INSERT INTO partners (user_id, company_name, contact_name, phone, email, status)
		VALUES ($1, $2, $3, $4, $5, 'pending')
		RETURNING ` + partnerColumns

	p, err := scanPartner(r.pool.QueryRow(ctx, query,
		params.UserID, params.CompanyName, params.ContactName, params.Phone, params.Email))
	if err != nil {
		return Partner{}, fmt.Errorf("partner: create: %w", err)
	}
	return p, nil
}

// GetByID fetches a partner by its primary key.
func (r *Repository) GetByID(ctx context.Context, id string) (Partner, error) {
	const query = `SELECT ` + partnerColumns + ` FROM partners WHERE id = $1`

	p, err := scanPartner(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Partner{}, ErrNotFound
		}
		return Partner{}, fmt.Errorf("partner: query by id: %w", err)
	}
	return p, nil
}

// GetByUserID fetches the partner account owned by the given user.
func (r *Repository) GetByUserID(ctx context.Context, userID string) (Partner, error) {
	const query = `SELECT ` + partnerColumns + ` FROM partners WHERE user_id = $1`

	p, err := scanPartner(r.pool.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Partner{}, ErrNotFound
		}
		return Partner{}, fmt.Errorf("partner: query by user id: %w", err)
	}
	return p, nil
}

// ListActive fetches every active partner, the fan-out audience for new
// quote requests.
func (r *Repository) ListActive(ctx context.Context) ([]Partner, error) {
	const query = `SELECT ` + partnerColumns + ` FROM partners WHERE status = 'active' ORDER BY company_name ASC`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("partner: list active: %w", err)
	}
	defer rows.Close()

	partners := make([]Partner, 0, 16)
	for rows.Next() {
		p, err := scanPartnerRows(rows)
		if err != nil {
			return nil, fmt.Errorf("partner: scan: %w", err)
		}
		partners = append(partners, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("partner: iterate: %w", err)
	}
	return partners, nil
}

// UpdateStatus transitions the partner account state.
func (r *Repository) UpdateStatus(ctx context.Context, id string, status Status) (Partner, error) {
	const query = `
		UPDATE partners
		SET status = $2, updated_at = now()
		WHERE id = $1
		RETURNING ` + partnerColumns

	p, err := scanPartner(r.pool.QueryRow(ctx, query, id, status))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Partner{}, ErrNotFound
		}
		return Partner{}, fmt.Errorf("partner: update status: %w", err)
	}
	return p, nil
}

// AddReview inserts the review and recomputes the partner's aggregates in
// the same transaction.
func (r *Repository) AddReview(ctx context.Context, review Review) (Review, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Review{}, fmt.Errorf("partner: begin review tx: %w", err)
	}
	defer tx.Rollback(ctx)

	const insertSQL = `
		INSERT INTO partner_reviews (order_id, partner_id, user_id, rating, comment)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`
	if err := tx.QueryRow(ctx, insertSQL,
		review.OrderID, review.PartnerID, review.UserID, review.Rating, review.Comment,
	).Scan(&review.ID, &review.CreatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Review{}, ErrDuplicateReview
		}
		return Review{}, fmt.Errorf("partner: insert review: %w", err)
	}

	const recomputeSQL = `
		UPDATE partners p
		SET rating = agg.avg_rating,
		    review_count = agg.cnt,
		    updated_at = now()
		FROM (
			SELECT AVG(rating)::numeric(3,2) AS avg_rating, COUNT(*) AS cnt
			FROM partner_reviews
			WHERE partner_id = $1
		) agg
		WHERE p.id = $1
	`
	if _, err := tx.Exec(ctx, recomputeSQL, review.PartnerID); err != nil {
		return Review{}, fmt.Errorf("partner: recompute rating: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Review{}, fmt.Errorf("partner: commit review: %w", err)
	}
	return review, nil
}

// ListReviews returns the partner's reviews, newest first.
func (r *Repository) ListReviews(ctx context.Context, partnerID string, limit int) ([]Review, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	const query = `
		SELECT id, order_id, partner_id, user_id, rating, comment, created_at
		FROM partner_reviews
		WHERE partner_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, partnerID, limit)
	if err != nil {
		return nil, fmt.Errorf("partner: list reviews: %w", err)
	}
	defer rows.Close()

	reviews := make([]Review, 0, limit)
	for rows.Next() {
		var rv Review
		if err := rows.Scan(&rv.ID, &rv.OrderID, &rv.PartnerID, &rv.UserID, &rv.Rating, &rv.Comment, &rv.CreatedAt); err != nil {
			return nil, fmt.Errorf("partner: scan review: %w", err)
		}
		reviews = append(reviews, rv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("partner: iterate reviews: %w", err)
	}
	return reviews, nil
}

func scanPartner(row pgx.Row) (Partner, error) {
	var p Partner
	err := row.Scan(
		&p.ID, &p.UserID, &p.CompanyName, &p.ContactName, &p.Phone, &p.Email,
		&p.Status, &p.Rating, &p.ReviewCount, &p.CreatedAt, &p.UpdatedAt,
	)
	return p, err
}

func scanPartnerRows(rows pgx.Rows) (Partner, error) {
	var p Partner
	err := rows.Scan(
		&p.ID, &p.UserID, &p.CompanyName, &p.ContactName, &p.Phone, &p.Email,
		&p.Status, &p.Rating, &p.ReviewCount, &p.CreatedAt, &p.UpdatedAt,
	)
	return p, err
}
