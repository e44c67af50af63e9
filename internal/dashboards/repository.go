package dashboards

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
	"d.id", "d.project_id", "p.name", "p.company_id", "d.name", "d.embed_url", "d.embed_type", "d.status",
	"d.position", "d.discarded_at", "d.created_at", "d.updated_at",
}

// BaseQuery is the unscoped dashboard listing.
func BaseQuery() query.Query {
	return query.From("dashboards", "d", columns...).Join("JOIN projects p ON p.id = d.project_id")
}

// ViewerQuery lists dashboards a viewer may open: kept and active, under a kept active project.
func ViewerQuery() query.Query {
	return BaseQuery().Kept().
		Where("d.status = ?", StatusActive).
		Where("p.discarded_at IS NULL").
		Where("p.status = ?", StatusActive)
}

// PGRepository stores dashboards in PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PGRepository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// Find implements Repository.
func (r *PGRepository) Find(ctx context.Context, q query.Query) ([]Dashboard, error) {
	if q.IsNone() {
		return nil, nil
	}
	sql, args := q.SQL()
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Dashboard
	for rows.Next() {
		d, err := scanDashboard(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
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

// Get returns a dashboard whether or not it is discarded.
func (r *PGRepository) Get(ctx context.Context, id int64) (Dashboard, error) {
	sql, args := BaseQuery().Where("d.id = ?", id).SQL()
	d, err := scanDashboard(r.pool.QueryRow(ctx, sql, args...))
	if db.IsNoRows(err) {
		return Dashboard{}, shared.ErrNotFound
	}
	return d, err
}

// Project loads the owner reference of a project.
func (r *PGRepository) Project(ctx context.Context, id int64) (ProjectRef, error) {
	ref := ProjectRef{ID: id}
	err := r.pool.QueryRow(ctx, `SELECT company_id, discarded_at IS NULL FROM projects WHERE id = $1`, id).Scan(&ref.CompanyID, &ref.Kept)
	if db.IsNoRows(err) {
		return ProjectRef{}, shared.ErrNotFound
	}
	return ref, err
}

// Create inserts a dashboard.
func (r *PGRepository) Create(ctx context.Context, in Input) (Dashboard, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `INSERT INTO dashboards (project_id, name, embed_url, embed_type, status, position, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW()) RETURNING id`,
		in.ProjectID, in.Name, in.EmbedURL, in.EmbedType, in.Status, in.Position).Scan(&id)
	if err != nil {
		return Dashboard{}, err
	}
	return r.Get(ctx, id)
}

// Update changes a kept dashboard, including its project.
func (r *PGRepository) Update(ctx context.Context, id int64, in Input) (Dashboard, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE dashboards SET project_id = $2, name = $3, embed_url = $4, embed_type = $5,
		status = $6, position = $7, updated_at = NOW() WHERE id = $1 AND discarded_at IS NULL`,
		id, in.ProjectID, in.Name, in.EmbedURL, in.EmbedType, in.Status, in.Position)
	if err != nil {
		return Dashboard{}, err
	}
	if tag.RowsAffected() == 0 {
		return Dashboard{}, shared.ErrNotFound
	}
	return r.Get(ctx, id)
}

func scanDashboard(row pgx.Row) (Dashboard, error) {
	var (
		d           Dashboard
		discardedAt pgtype.Timestamptz
		createdAt   pgtype.Timestamptz
		updatedAt   pgtype.Timestamptz
	)
	if err := row.Scan(&d.ID, &d.ProjectID, &d.ProjectName, &d.CompanyID, &d.Name, &d.EmbedURL, &d.EmbedType,
		&d.Status, &d.Position, &discardedAt, &createdAt, &updatedAt); err != nil {
		return Dashboard{}, err
	}
	if discardedAt.Valid {
		t := discardedAt.Time
		d.DiscardedAt = &t
	}
	d.CreatedAt = createdAt.Time
	d.UpdatedAt = updatedAt.Time
	return d, nil
}

var _ Repository = (*PGRepository)(nil)
