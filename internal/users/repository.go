package users

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-bi/backoffice/internal/platform/db"
	"github.com/odyssey-bi/backoffice/internal/platform/query"
	"github.com/odyssey-bi/backoffice/internal/shared"
	"github.com/odyssey-bi/backoffice/internal/softdelete"
)

var columns = []string{
	"u.id", "u.email", "u.name", "u.role_id", "COALESCE(r.name, '')", "u.company_id", "COALESCE(c.name, '')",
	"u.is_active", "u.password_hash", "u.discarded_at", "u.created_at", "u.updated_at",
}

// BaseQuery is the unscoped user listing.
func BaseQuery() query.Query {
	return query.From("users", "u", columns...).
		Join("LEFT JOIN roles r ON r.id = u.role_id").
		Join("LEFT JOIN companies c ON c.id = u.company_id")
}

// PGRepository stores users in PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PGRepository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// Find implements Repository.
func (r *PGRepository) Find(ctx context.Context, q query.Query) ([]User, error) {
	if q.IsNone() {
		return nil, nil
	}
	sql, args := q.SQL()
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// Count implements Repository.
func (r *PGRepository) Count(ctx context.Context, q query.Query) (int, error) {
	if q.IsNone() {
		return 0, nil
	}
	sql, args := q.CountSQL()
	var n int
	err := r.pool.QueryRow(ctx, sql, args...).Scan(&n)
	return n, err
}

// Get returns a user whether or not it is discarded.
func (r *PGRepository) Get(ctx context.Context, id int64) (User, error) {
	sql, args := BaseQuery().Where("u.id = ?", id).SQL()
	u, err := scanUser(r.pool.QueryRow(ctx, sql, args...))
	if db.IsNoRows(err) {
		return User{}, shared.ErrNotFound
	}
	return u, err
}

// Role looks up a role by id.
func (r *PGRepository) Role(ctx context.Context, id int64) (RoleRef, error) {
	ref := RoleRef{ID: id}
	err := r.pool.QueryRow(ctx, `SELECT name FROM roles WHERE id = $1`, id).Scan(&ref.Name)
	if db.IsNoRows(err) {
		return RoleRef{}, shared.ErrNotFound
	}
	return ref, err
}

// Create inserts a kept user and counts it on its company.
func (r *PGRepository) Create(ctx context.Context, rec Record) (User, error) {
	var id int64
	err := db.WithTxIso(ctx, r.pool, pgx.ReadCommitted, func(tx pgx.Tx) error {
		now := time.Now().UTC()
		err := tx.QueryRow(ctx, `INSERT INTO users (email, name, password_hash, role_id, company_id, is_active, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $7) RETURNING id`,
			rec.Email, rec.Name, rec.PasswordHash, rec.RoleID, rec.CompanyID, rec.IsActive, now).Scan(&id)
		if err != nil {
			return mapWriteError(err)
		}
		if rec.CompanyID == nil {
			return nil
		}
		_, err = tx.Exec(ctx, `UPDATE companies SET users_count = users_count + 1 WHERE id = $1`, *rec.CompanyID)
		return err
	})
	if err != nil {
		return User{}, err
	}
	return r.Get(ctx, id)
}

// Update changes profile, role and credentials. An empty PasswordHash keeps the stored one.
// When move is set the project assignments are dropped and the company link moves with its
// counter unit, all in the same transaction as the row update.
func (r *PGRepository) Update(ctx context.Context, id int64, rec Record, move bool) (User, error) {
	err := db.WithTxIso(ctx, r.pool, pgx.ReadCommitted, func(tx pgx.Tx) error {
		return updateUser(ctx, tx, id, rec, move)
	})
	if err != nil {
		return User{}, err
	}
	return r.Get(ctx, id)
}

func updateUser(ctx context.Context, tx db.DBTX, id int64, rec Record, move bool) error {
	tag, err := tx.Exec(ctx, `UPDATE users SET email = $2, name = $3, role_id = $4, is_active = $5,
			password_hash = COALESCE(NULLIF($6, ''), password_hash), updated_at = NOW()
		WHERE id = $1 AND discarded_at IS NULL`,
		id, rec.Email, rec.Name, rec.RoleID, rec.IsActive, rec.PasswordHash)
	if err != nil {
		return mapWriteError(err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	if !move {
		return nil
	}
	if _, err := tx.Exec(ctx, `DELETE FROM projects_users WHERE user_id = $1`, id); err != nil {
		return err
	}
	if err := softdelete.ReparentTx(ctx, tx, softdelete.Users, "company_id", id, rec.CompanyID); err != nil {
		return mapWriteError(err)
	}
	return nil
}

func mapWriteError(err error) error {
	switch {
	case db.IsUniqueViolation(err):
		return shared.NewValidationError("email", "has already been taken")
	case db.IsForeignKeyViolation(err):
		return shared.NewValidationError("company_id", "does not exist")
	}
	return err
}

func scanUser(row pgx.Row) (User, error) {
	var (
		u           User
		roleID      pgtype.Int8
		companyID   pgtype.Int8
		discardedAt pgtype.Timestamptz
		createdAt   pgtype.Timestamptz
		updatedAt   pgtype.Timestamptz
	)
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &roleID, &u.RoleName, &companyID, &u.CompanyName,
		&u.IsActive, &u.PasswordHash, &discardedAt, &createdAt, &updatedAt); err != nil {
		return User{}, err
	}
	if roleID.Valid {
		id := roleID.Int64
		u.RoleID = &id
	}
	if companyID.Valid {
		id := companyID.Int64
		u.CompanyID = &id
	}
	if discardedAt.Valid {
		t := discardedAt.Time
		u.DiscardedAt = &t
	}
	u.CreatedAt = createdAt.Time
	u.UpdatedAt = updatedAt.Time
	return u, nil
}

var _ Repository = (*PGRepository)(nil)
