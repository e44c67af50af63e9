package auth

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-bi/backoffice/internal/platform/db"
	"github.com/odyssey-bi/backoffice/internal/shared"
)

// Repository defines persistence operations for the auth module.
type Repository interface {
	FindByEmail(ctx context.Context, email string) (Credentials, error)
	TrackSignIn(ctx context.Context, userID int64, at time.Time, ip string) error
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// FindByEmail fetches the credentials of a kept user.
func (r *PGRepository) FindByEmail(ctx context.Context, email string) (Credentials, error) {
	var c Credentials
	err := r.pool.QueryRow(ctx, `SELECT id, email, password_hash, is_active FROM users
		WHERE lower(email) = lower($1) AND discarded_at IS NULL`, email).
		Scan(&c.ID, &c.Email, &c.PasswordHash, &c.IsActive)
	if err != nil {
		if db.IsNoRows(err) {
			return Credentials{}, shared.ErrNotFound
		}
		return Credentials{}, err
	}
	return c, nil
}

// TrackSignIn stamps the sign-in time and address on the user row.
func (r *PGRepository) TrackSignIn(ctx context.Context, userID int64, at time.Time, ip string) error {
	_, err := r.pool.Exec(ctx, `UPDATE users SET sign_in_count = sign_in_count + 1,
			last_sign_in_at = current_sign_in_at, last_sign_in_ip = current_sign_in_ip,
			current_sign_in_at = $2, current_sign_in_ip = NULLIF($3, '')
		WHERE id = $1`, userID, at.UTC(), ip)
	return err
}

var _ Repository = (*PGRepository)(nil)
