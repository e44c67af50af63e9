package projects

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
	"p.id", "p.company_id", "COALESCE(c.name, '')", "p.name", "COALESCE(p.description, '')", "p.status",
	"(SELECT COUNT(*) FROM dashboards d WHERE d.project_id = p.id AND d.discarded_at IS NULL)",
	"p.discarded_at", "p.created_at", "p.updated_at",
}

// BaseQuery is the unscoped project listing.
func BaseQuery() query.Query {
	return query.From("projects", "p", columns...).Join("LEFT JOIN companies c ON c.id = p.company_id")
}

// PGRepository stores projects in PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PGRepository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// Find implements Repository.
func (r *PGRepository) Find(ctx context.Context, q query.Query) ([]Project, error) {
	if q.IsNone() {
		return nil, nil
	}
	sql, args := q.SQL()
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
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

// Get returns a project whether or not it is discarded.
func (r *PGRepository) Get(ctx context.Context, id int64) (Project, error) {
	sql, args := BaseQuery().Where("p.id = ?", id).SQL()
	p, err := scanProject(r.pool.QueryRow(ctx, sql, args...))
	if db.IsNoRows(err) {
		return Project{}, shared.ErrNotFound
	}
	return p, err
}

// Create inserts a kept project and counts it on its company.
func (r *PGRepository) Create(ctx context.Context, in Input) (Project, error) {
	var id int64
	err := db.WithTxIso(ctx, r.pool, pgx.ReadCommitted, func(tx pgx.Tx) error {
		now := time.Now().UTC()
		err := tx.QueryRow(ctx, `INSERT INTO projects (company_id, name, description, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $5) RETURNING id`, in.CompanyID, in.Name, in.Description, in.Status, now).Scan(&id)
		if err != nil {
			if db.IsForeignKeyViolation(err) {
				return shared.NewValidationError("company_id", "does not exist")
			}
			return err
		}
		_, err = tx.Exec(ctx, `UPDATE companies SET projects_count = projects_count + 1 WHERE id = $1`, in.CompanyID)
		return err
	})
	if err != nil {
		return Project{}, err
	}
	return r.Get(ctx, id)
}

// Update changes the descriptive fields. When move is set the company link moves with its
// counter unit in the same transaction.
func (r *PGRepository) Update(ctx context.Context, id int64, in Input, move bool) (Project, error) {
	err := db.WithTxIso(ctx, r.pool, pgx.ReadCommitted, func(tx pgx.Tx) error {
		return updateProject(ctx, tx, id, in, move)
	})
	if err != nil {
		return Project{}, err
	}
	return r.Get(ctx, id)
}

func updateProject(ctx context.Context, tx db.DBTX, id int64, in Input, move bool) error {
	tag, err := tx.Exec(ctx, `UPDATE projects SET name = $2, description = $3, status = $4, updated_at = NOW()
		WHERE id = $1 AND discarded_at IS NULL`, id, in.Name, in.Description, in.Status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	if !move {
		return nil
	}
	companyID := in.CompanyID
	if err := softdelete.ReparentTx(ctx, tx, softdelete.Projects, "company_id", id, &companyID); err != nil {
		if db.IsForeignKeyViolation(err) {
			return shared.NewValidationError("company_id", "does not exist")
		}
		return err
	}
	return nil
}

func scanProject(row pgx.Row) (Project, error) {
	var (
		p           Project
		discardedAt pgtype.Timestamptz
		createdAt   pgtype.Timestamptz
		updatedAt   pgtype.Timestamptz
	)
	if err := row.Scan(&p.ID, &p.CompanyID, &p.CompanyName, &p.Name, &p.Description, &p.Status,
		&p.DashboardsCount, &discardedAt, &createdAt, &updatedAt); err != nil {
		return Project{}, err
	}
	if discardedAt.Valid {
		t := discardedAt.Time
		p.DiscardedAt = &t
	}
	p.CreatedAt = createdAt.Time
	p.UpdatedAt = updatedAt.Time
	return p, nil
}

var _ Repository = (*PGRepository)(nil)
