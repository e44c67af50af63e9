package audit

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-bi/backoffice/internal/platform/db"
	"github.com/odyssey-bi/backoffice/internal/platform/query"
	"github.com/odyssey-bi/backoffice/internal/shared"
)

// Columns selected by ledger queries, in scan order.
var Columns = []string{
	"a.id", "a.actor_id", "a.actor_name", "a.module", "a.action", "a.target_type", "a.target_id",
	"a.summary", "a.data_before", "a.data_after", "a.ip", "a.user_agent", "a.created_at",
}

// BaseQuery is the unscoped ledger listing.
func BaseQuery() query.Query {
	return query.From("audit_logs", "a", Columns...)
}

// Repository stores entries in audit_logs.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const insertSQL = `INSERT INTO audit_logs
	(actor_id, actor_name, module, action, target_type, target_id, summary, data_before, data_after, ip, user_agent, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	RETURNING id`

// insertArgs maps an entry onto insertSQL's placeholders. An empty target id,
// ip or user agent is stored as NULL.
func insertArgs(e Entry) []any {
	return []any{
		e.ActorID, e.ActorName, e.Module, e.Action, e.TargetType, nullableText(e.TargetID),
		e.Summary, nullableJSON(e.Before), nullableJSON(e.After),
		nullableText(e.IP), nullableText(e.UserAgent), e.CreatedAt,
	}
}

// Insert appends an entry and returns it with its id.
func (r *Repository) Insert(ctx context.Context, e Entry) (Entry, error) {
	err := r.pool.QueryRow(ctx, insertSQL, insertArgs(e)...).Scan(&e.ID)
	if err != nil {
		return Entry{}, err
	}
	return e, nil
}

// Find runs a scoped listing query.
func (r *Repository) Find(ctx context.Context, q query.Query) ([]Entry, error) {
	if q.IsNone() {
		return nil, nil
	}
	sql, args := q.SQL()
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Count returns the number of rows a scoped query matches.
func (r *Repository) Count(ctx context.Context, q query.Query) (int, error) {
	if q.IsNone() {
		return 0, nil
	}
	sql, args := q.CountSQL()
	var n int
	err := r.pool.QueryRow(ctx, sql, args...).Scan(&n)
	return n, err
}

// Get loads a single entry by id.
func (r *Repository) Get(ctx context.Context, id int64) (Entry, error) {
	sql, args := BaseQuery().Where("a.id = ?", id).SQL()
	e, err := scanEntry(r.pool.QueryRow(ctx, sql, args...))
	if db.IsNoRows(err) {
		return Entry{}, shared.ErrNotFound
	}
	return e, err
}

func scanEntry(row pgx.Row) (Entry, error) {
	var (
		e          Entry
		actorID    pgtype.Int8
		targetType pgtype.Text
		targetID   pgtype.Text
		summary    pgtype.Text
		before     []byte
		after      []byte
		ip         pgtype.Text
		ua         pgtype.Text
		createdAt  pgtype.Timestamptz
	)
	if err := row.Scan(&e.ID, &actorID, &e.ActorName, &e.Module, &e.Action, &targetType, &targetID,
		&summary, &before, &after, &ip, &ua, &createdAt); err != nil {
		return Entry{}, err
	}
	if actorID.Valid {
		id := actorID.Int64
		e.ActorID = &id
	}
	e.TargetType = targetType.String
	e.TargetID = targetID.String
	e.Summary = summary.String
	if len(before) > 0 {
		e.Before = json.RawMessage(before)
	}
	if len(after) > 0 {
		e.After = json.RawMessage(after)
	}
	e.IP = ip.String
	e.UserAgent = ua.String
	e.CreatedAt = createdAt.Time
	return e, nil
}

func nullableText(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

var _ Reader = (*Repository)(nil)
