package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrUserNotFound signals that the user does not exist.
	ErrUserNotFound = errors.New("auth: user not found")
	// ErrCodeNotFound signals that no live verification code exists for the phone.
	ErrCodeNotFound = errors.New("auth: verification code not found")
)

// Repository handles data access for authentication.
type Repository interface {
	CreateCode(ctx context.Context, code VerificationCode) error
	GetActiveCode(ctx context.Context, phone string) (VerificationCode, error)
	IncrementAttempts(ctx context.Context, codeID string) (int, error)
	ConsumeCode(ctx context.Context, codeID string) error
	InvalidateCodes(ctx context.Context, phone string) error

	UpsertUser(ctx context.Context, phone string, role Role) (User, error)
	GetUserByID(ctx context.Context, userID string) (User, error)
	UpdateProfile(ctx context.Context, userID, fullName string, email *string) (User, error)
	SetRole(ctx context.Context, userID string, role Role) error
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a PostgreSQL-backed auth repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// CreateCode inserts a fresh verification code row.
func (r *PGRepository) CreateCode(ctx context.Context, code VerificationCode) error {
	const insertSQL = `
		INSERT INTO verification_codes (phone, code_hash, expires_at)
		VALUES ($1, $2, $3)
	`
	if _, err := r.pool.Exec(ctx, insertSQL, code.Phone, code.CodeHash, code.ExpiresAt); err != nil {
		return fmt.Errorf("auth: create code: %w", err)
	}
	return nil
}

// GetActiveCode returns the newest unconsumed, unexpired code for the phone.
func (r *PGRepository) GetActiveCode(ctx context.Context, phone string) (VerificationCode, error) {
	const selectSQL = `
		SELECT id, phone, code_hash, attempts, used, expires_at, created_at
		FROM verification_codes
		WHERE phone = $1 AND used = false AND expires_at > now()
		ORDER BY created_at DESC
		LIMIT 1
	`
	var code VerificationCode
	err := r.pool.QueryRow(ctx, selectSQL, phone).Scan(
		&code.ID,
		&code.Phone,
		&code.CodeHash,
		&code.Attempts,
		&code.Used,
		&code.ExpiresAt,
		&code.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return VerificationCode{}, ErrCodeNotFound
		}
		return VerificationCode{}, fmt.Errorf("auth: get active code: %w", err)
	}
	return code, nil
}

// IncrementAttempts bumps the failed-attempt counter and returns the new value.
func (r *PGRepository) IncrementAttempts(ctx context.Context, codeID string) (int, error) {
	const updateSQL = `
		UPDATE verification_codes
		SET attempts = attempts + 1
		WHERE id = $1
		RETURNING attempts
	`
	var attempts int
	if err := r.pool.QueryRow(ctx, updateSQL, codeID).Scan(&attempts); err != nil {
		return 0, fmt.Errorf("auth: increment attempts: %w", err)
	}
	return attempts, nil
}

// ConsumeCode marks the code used so it cannot be replayed.
func (r *PGRepository) ConsumeCode(ctx context.Context, codeID string) error {
	if _, err := r.pool.Exec(ctx, `UPDATE verification_codes SET used = true WHERE id = $1`, codeID); err != nil {
		return fmt.Errorf("auth: consume code: %w", err)
	}
	return nil
}

// InvalidateCodes retires every outstanding code for the phone.
func (r *PGRepository) InvalidateCodes(ctx context.Context, phone string) error {
	if _, err := r.pool.Exec(ctx, `UPDATE verification_codes SET used = true WHERE phone = $1 AND used = false`, phone); err != nil {
		return fmt.Errorf("auth: invalidate codes: %w", err)
	}
	return nil
}

// UpsertUser creates the account on first login and returns the existing row
// afterwards. The role is only applied on insert.
func (r *PGRepository) UpsertUser(ctx context.Context, phone string, role Role) (User, error) {
	const upsertSQL = `
		INSERT INTO users (phone, role)
		VALUES ($1, $2)
		ON CONFLICT (phone) DO UPDATE SET updated_at = now()
		RETURNING id, phone, email, full_name, role, created_at, updated_at
	`
	return scanUser(r.pool.QueryRow(ctx, upsertSQL, phone, role))
}

// GetUserByID retrieves a user by ID.
func (r *PGRepository) GetUserByID(ctx context.Context, userID string) (User, error) {
	const selectSQL = `
		SELECT id, phone, email, full_name, role, created_at, updated_at
		FROM users
		WHERE id = $1
	`
	user, err := scanUser(r.pool.QueryRow(ctx, selectSQL, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("auth: get user by id: %w", err)
	}
	return user, nil
}

// UpdateProfile sets the display name and contact email.
func (r *PGRepository) UpdateProfile(ctx context.Context, userID, fullName string, email *string) (User, error) {
	const updateSQL = `
		UPDATE users
		SET full_name = $2,
		    email = $3,
		    updated_at = now()
		WHERE id = $1
		RETURNING id, phone, email, full_name, role, created_at, updated_at
	`
	user, err := scanUser(r.pool.QueryRow(ctx, updateSQL, userID, fullName, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("auth: update profile: %w", err)
	}
	return user, nil
}

// SetRole overwrites the account role.
func (r *PGRepository) SetRole(ctx context.Context, userID string, role Role) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET role = $2, updated_at = now() WHERE id = $1`, userID, role)
	if err != nil {
		return fmt.Errorf("auth: set role: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func scanUser(row pgx.Row) (User, error) {
	var (
		user  User
		email *string
	)
	err := row.Scan(
		&user.ID,
		&user.Phone,
		&email,
		&user.FullName,
		&user.Role,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return User{}, err
	}
	user.Email = email
	return user, nil
}
