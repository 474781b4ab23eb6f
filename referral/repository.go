package referral

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrDuplicateCode signals the generated code already exists.
	ErrDuplicateCode = errors.New("referral: duplicate code")
	// ErrCodeExists signals the user already has a code.
	ErrCodeExists = errors.New("referral: user already has a code")
	// ErrCodeNotFound is returned when no code row exists.
	ErrCodeNotFound = errors.New("referral: code not found")
	// ErrAlreadyReferred signals the referee already has a relationship.
	ErrAlreadyReferred = errors.New("referral: referee already referred")
	// ErrRelationshipNotFound is returned when no relationship row exists.
	ErrRelationshipNotFound = errors.New("referral: relationship not found")
)

// Repository defines the data access required by the referral service.
// Methods taking a pgx.Tx participate in the caller's transaction.
type Repository interface {
	InsertCode(ctx context.Context, c Code) (Code, error)
	GetCodeByUser(ctx context.Context, userID string) (Code, error)
	GetCodeByValue(ctx context.Context, code string) (Code, error)

	InsertRelationship(ctx context.Context, rel Relationship) (Relationship, error)
	GetRelationshipByReferee(ctx context.Context, refereeID string) (Relationship, error)
	GetRelationshipForUpdate(ctx context.Context, tx pgx.Tx, refereeID string) (Relationship, error)
	CompleteRelationship(ctx context.Context, tx pgx.Tx, relationshipID, orderID string, at time.Time) error

	InsertReward(ctx context.Context, tx pgx.Tx, r Reward) (Reward, error)
	ListActiveRewards(ctx context.Context, tx pgx.Tx, userID string, now time.Time) ([]Reward, error)
	DeductReward(ctx context.Context, tx pgx.Tx, rewardID string, amount int64) error
	ListRewards(ctx context.Context, userID string) ([]Reward, error)
}

const codeColumns = `id, user_id, code, created_at`

const relationshipColumns = `id, referrer_id, referee_id, status, reward_granted,
	order_id, completed_at, created_at, updated_at`

const rewardColumns = `id, user_id, relationship_id, amount, remaining, expires_at, created_at`

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a PostgreSQL-backed referral repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// InsertCode inserts the user's referral code. The unique constraints
// distinguish a code collision from an already-issued user.
func (r *PGRepository) InsertCode(ctx context.Context, c Code) (Code, error) {
	const insertSQL = `
		INSERT INTO referral_codes (user_id, code)
		VALUES ($1, $2)
		RETURNING ` + codeColumns

	created, err := scanCode(r.pool.QueryRow(ctx, insertSQL, c.UserID, c.Code))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			if pgErr.ConstraintName == "referral_codes_user_id_key" {
				return Code{}, ErrCodeExists
			}
			return Code{}, ErrDuplicateCode
		}
		return Code{}, fmt.Errorf("referral: insert code: %w", err)
	}
	return created, nil
}

// GetCodeByUser returns the user's code, if issued.
func (r *PGRepository) GetCodeByUser(ctx context.Context, userID string) (Code, error) {
	const selectSQL = `SELECT ` + codeColumns + ` FROM referral_codes WHERE user_id = $1`

	c, err := scanCode(r.pool.QueryRow(ctx, selectSQL, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Code{}, ErrCodeNotFound
		}
		return Code{}, fmt.Errorf("referral: get code by user: %w", err)
	}
	return c, nil
}

// GetCodeByValue resolves a shared code back to its owner.
func (r *PGRepository) GetCodeByValue(ctx context.Context, code string) (Code, error) {
	const selectSQL = `SELECT ` + codeColumns + ` FROM referral_codes WHERE code = $1`

	c, err := scanCode(r.pool.QueryRow(ctx, selectSQL, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Code{}, ErrCodeNotFound
		}
		return Code{}, fmt.Errorf("referral: get code by value: %w", err)
	}
	return c, nil
}

// InsertRelationship records the referral in pending state. The unique
// constraint on referee_id allows at most one referral per user.
func (r *PGRepository) InsertRelationship(ctx context.Context, rel Relationship) (Relationship, error) {
	const insertSQL = `
		INSERT INTO referral_relationships (referrer_id, referee_id, status)
		VALUES ($1, $2, 'pending')
		RETURNING ` + relationshipColumns

	created, err := scanRelationship(r.pool.QueryRow(ctx, insertSQL, rel.ReferrerID, rel.RefereeID))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Relationship{}, ErrAlreadyReferred
		}
		return Relationship{}, fmt.Errorf("referral: insert relationship: %w", err)
	}
	return created, nil
}

// GetRelationshipByReferee returns the referee's relationship.
func (r *PGRepository) GetRelationshipByReferee(ctx context.Context, refereeID string) (Relationship, error) {
	const selectSQL = `SELECT ` + relationshipColumns + ` FROM referral_relationships WHERE referee_id = $1`

	rel, err := scanRelationship(r.pool.QueryRow(ctx, selectSQL, refereeID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Relationship{}, ErrRelationshipNotFound
		}
		return Relationship{}, fmt.Errorf("referral: get relationship: %w", err)
	}
	return rel, nil
}

// GetRelationshipForUpdate locks the referee's relationship inside the
// transaction.
func (r *PGRepository) GetRelationshipForUpdate(ctx context.Context, tx pgx.Tx, refereeID string) (Relationship, error) {
	const selectSQL = `SELECT ` + relationshipColumns + ` FROM referral_relationships WHERE referee_id = $1 FOR UPDATE`

	rel, err := scanRelationship(tx.QueryRow(ctx, selectSQL, refereeID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Relationship{}, ErrRelationshipNotFound
		}
		return Relationship{}, fmt.Errorf("referral: lock relationship: %w", err)
	}
	return rel, nil
}

// CompleteRelationship flips the relationship to completed and sets the
// reward_granted guard in the same statement.
func (r *PGRepository) CompleteRelationship(ctx context.Context, tx pgx.Tx, relationshipID, orderID string, at time.Time) error {
	tag, err := tx.Exec(ctx, `
		UPDATE referral_relationships
		SET status = 'completed', reward_granted = TRUE, order_id = $2, completed_at = $3, updated_at = now()
		WHERE id = $1 AND reward_granted = FALSE
	`, relationshipID, orderID, at)
	if err != nil {
		return fmt.Errorf("referral: complete relationship: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRelationshipNotFound
	}
	return nil
}

// InsertReward grants a credit inside the transaction.
func (r *PGRepository) InsertReward(ctx context.Context, tx pgx.Tx, rw Reward) (Reward, error) {
	const insertSQL = `
		INSERT INTO referral_rewards (user_id, relationship_id, amount, remaining, expires_at)
		VALUES ($1, $2, $3, $3, $4)
		RETURNING ` + rewardColumns

	created, err := scanReward(tx.QueryRow(ctx, insertSQL, rw.UserID, rw.RelationshipID, rw.Amount, rw.ExpiresAt))
	if err != nil {
		return Reward{}, fmt.Errorf("referral: insert reward: %w", err)
	}
	return created, nil
}

// ListActiveRewards locks the user's unexpired, unexhausted rewards,
// soonest expiry first, so consumption drains the most urgent credit.
func (r *PGRepository) ListActiveRewards(ctx context.Context, tx pgx.Tx, userID string, now time.Time) ([]Reward, error) {
	const selectSQL = `
		SELECT ` + rewardColumns + `
		FROM referral_rewards
		WHERE user_id = $1 AND remaining > 0 AND expires_at > $2
		ORDER BY expires_at ASC
		FOR UPDATE`

	rows, err := tx.Query(ctx, selectSQL, userID, now)
	if err != nil {
		return nil, fmt.Errorf("referral: list active rewards: %w", err)
	}
	defer rows.Close()

	out := make([]Reward, 0, 4)
	for rows.Next() {
		rw, err := scanReward(rows)
		if err != nil {
			return nil, fmt.Errorf("referral: scan reward: %w", err)
		}
		out = append(out, rw)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("referral: iterate rewards: %w", err)
	}
	return out, nil
}

// DeductReward reduces a reward's remaining credit.
func (r *PGRepository) DeductReward(ctx context.Context, tx pgx.Tx, rewardID string, amount int64) error {
	tag, err := tx.Exec(ctx, `
		UPDATE referral_rewards
		SET remaining = remaining - $2
		WHERE id = $1 AND remaining >= $2
	`, rewardID, amount)
	if err != nil {
		return fmt.Errorf("referral: deduct reward: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("referral: reward %s lacks %d remaining", rewardID, amount)
	}
	return nil
}

// ListRewards returns the user's reward history, newest first.
func (r *PGRepository) ListRewards(ctx context.Context, userID string) ([]Reward, error) {
	const selectSQL = `SELECT ` + rewardColumns + ` FROM referral_rewards WHERE user_id = $1 ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, selectSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("referral: list rewards: %w", err)
	}
	defer rows.Close()

	out := make([]Reward, 0, 4)
	for rows.Next() {
		rw, err := scanReward(rows)
		if err != nil {
			return nil, fmt.Errorf("referral: scan reward: %w", err)
		}
		out = append(out, rw)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("referral: iterate rewards: %w", err)
	}
	return out, nil
}

func scanCode(row pgx.Row) (Code, error) {
	var c Code
	if err := row.Scan(&c.ID, &c.UserID, &c.Code, &c.CreatedAt); err != nil {
		return Code{}, err
	}
	return c, nil
}

func scanRelationship(row pgx.Row) (Relationship, error) {
	var rel Relationship
	err := row.Scan(
		&rel.ID, &rel.ReferrerID, &rel.RefereeID, &rel.Status, &rel.RewardGranted,
		&rel.OrderID, &rel.CompletedAt, &rel.CreatedAt, &rel.UpdatedAt,
	)
	if err != nil {
		return Relationship{}, err
	}
	return rel, nil
}

func scanReward(row pgx.Row) (Reward, error) {
	var rw Reward
	err := row.Scan(
		&rw.ID, &rw.UserID, &rw.RelationshipID, &rw.Amount, &rw.Remaining, &rw.ExpiresAt, &rw.CreatedAt,
	)
	if err != nil {
		return Reward{}, err
	}
	return rw, nil
}
