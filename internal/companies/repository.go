package companies

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-bi/backoffice/internal/platform/db"
	"github.com/odyssey-bi/backoffice/internal/platform/query"
	"github.com/odyssey-bi/backoffice/internal/shared"
)

var columns = []string{
	"c.id", "c.name", "COALESCE(c.description, '')", "c.status", "c.users_count", "c.projects_count",
	"c.discarded_at", "c.created_at", "c.updated_at",
}

// BaseQuery is the unscoped company listing.
func BaseQuery() query.Query {
	return query.From("companies", "c", columns...)
}

// PGRepository stores companies in PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PGRepository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// Find implements Repository.
func (r *PGRepository) Find(ctx context.Context, q query.Query) ([]Company, error) {
	if q.IsNone() {
		return nil, nil
	}
	sql, args := q.SQL()
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Company
	for rows.Next() {
		c, err := scanCompany(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
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

// Get returns a company whether or not it is discarded.
func (r *PGRepository) Get(ctx context.Context, id int64) (Company, error) {
	sql, args := BaseQuery().Where("c.id = ?", id).SQL()
	c, err := scanCompany(r.pool.QueryRow(ctx, sql, args...))
	if db.IsNoRows(err) {
		return Company{}, shared.ErrNotFound
	}
	return c, err
}

// Create inserts a company with zeroed counters.
func (r *PGRepository) Create(ctx context.Context, in Input) (Company, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `INSERT INTO companies (name, description, status, users_count, projects_count, created_at, updated_at)
		VALUES ($1, $2, $3, 0, 0, NOW(), NOW()) RETURNING id`, in.Name, in.Description, in.Status).Scan(&id)
	if err != nil {
		return Company{}, err
	}
	return r.Get(ctx, id)
}

// Update changes a kept company's fields. Counters are never written here.
func (r *PGRepository) Update(ctx context.Context, id int64, in Input) (Company, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE companies SET name = $2, description = $3, status = $4, updated_at = NOW()
		WHERE id = $1 AND discarded_at IS NULL`, id, in.Name, in.Description, in.Status)
	if err != nil {
		return Company{}, err
	}
	if tag.RowsAffected() == 0 {
		return Company{}, shared.ErrNotFound
	}
	return r.Get(ctx, id)
}

func scanCompany(row pgx.Row) (Company, error) {
	var (
		c           Company
		discardedAt pgtype.Timestamptz
		createdAt   pgtype.Timestamptz
		updatedAt   pgtype.Timestamptz
	)
	if err := row.Scan(&c.ID, &c.Name, &c.Description, &c.Status, &c.UsersCount, &c.ProjectsCount,
		&discardedAt, &createdAt, &updatedAt); err != nil {
		return Company{}, err
	}
	if discardedAt.Valid {
		t := discardedAt.Time
		c.DiscardedAt = &t
	}
	c.CreatedAt = createdAt.Time
	c.UpdatedAt = updatedAt.Time
	return c, nil
}

var _ Repository = (*PGRepository)(nil)
