package softdelete

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-bi/backoffice/internal/platform/db"
	"github.com/odyssey-bi/backoffice/internal/shared"
)

// PGStore runs transitions in READ COMMITTED transactions. Counter deltas are applied as
// col = col + $delta so concurrent sibling transitions serialise on the parent row lock.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore constructs a PGStore.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func ident(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// Discard implements Store.
func (s *PGStore) Discard(ctx context.Context, spec Spec, id int64, at time.Time) error {
	return db.WithTxIso(ctx, s.pool, pgx.ReadCommitted, func(tx pgx.Tx) error {
		if len(spec.Guards) > 0 {
			if err := lockKept(ctx, tx, spec.Table, id); err != nil {
				return err
			}
			for _, g := range spec.Guards {
				var exists bool
				sql := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE %s = $1 AND discarded_at IS NULL)`, ident(g.Table), ident(g.ForeignKey))
				if err := tx.QueryRow(ctx, sql, id).Scan(&exists); err != nil {
					return err
				}
				if exists {
					return activeChildren(spec.Table, g)
				}
			}
		}
		sql := fmt.Sprintf(`UPDATE %s SET discarded_at = $2, updated_at = $2 WHERE id = $1 AND discarded_at IS NULL RETURNING %s`,
			ident(spec.Table), returningParents(spec))
		return s.transition(ctx, tx, spec, id, sql, at, -1, ErrAlreadyDiscarded)
	})
}

// Restore implements Store.
func (s *PGStore) Restore(ctx context.Context, spec Spec, id int64, at time.Time) error {
	return db.WithTxIso(ctx, s.pool, pgx.ReadCommitted, func(tx pgx.Tx) error {
		sql := fmt.Sprintf(`UPDATE %s SET discarded_at = NULL, updated_at = $2 WHERE id = $1 AND discarded_at IS NOT NULL RETURNING %s`,
			ident(spec.Table), returningParents(spec))
		return s.transition(ctx, tx, spec, id, sql, at, 1, ErrNotDiscarded)
	})
}

func (s *PGStore) transition(ctx context.Context, tx pgx.Tx, spec Spec, id int64, sql string, at time.Time, delta int64, stateErr error) error {
	parents := make([]pgtype.Int8, len(spec.Counters))
	dest := make([]any, 0, len(parents))
	for i := range parents {
		dest = append(dest, &parents[i])
	}
	if len(dest) == 0 {
		var ignored int64
		dest = append(dest, &ignored)
	}
	if err := tx.QueryRow(ctx, sql, id, at).Scan(dest...); err != nil {
		if db.IsNoRows(err) {
			return missingOrState(ctx, tx, spec.Table, id, stateErr)
		}
		return err
	}
	for i, c := range spec.Counters {
		if !parents[i].Valid {
			continue
		}
		if err := bump(ctx, tx, c, parents[i].Int64, delta); err != nil {
			return err
		}
	}
	return nil
}

// Reparent implements Store.
func (s *PGStore) Reparent(ctx context.Context, spec Spec, c Counter, id int64, parent *int64) error {
	return db.WithTxIso(ctx, s.pool, pgx.ReadCommitted, func(tx pgx.Tx) error {
		return reparentRow(ctx, tx, spec, c, id, parent)
	})
}

// ReparentTx moves id under parent for the counter keyed by foreignKey inside the caller's
// transaction, so the move commits together with the caller's other writes.
func ReparentTx(ctx context.Context, tx db.DBTX, spec Spec, foreignKey string, id int64, parent *int64) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	c, ok := spec.counter(foreignKey)
	if !ok {
		return fmt.Errorf("softdelete: %s has no counter on %s", spec.Table, foreignKey)
	}
	if err := reparentRow(ctx, tx, spec, c, id, parent); err != nil {
		return fmt.Errorf("softdelete: reparent %s %d: %w", spec.Table, id, err)
	}
	return nil
}

func reparentRow(ctx context.Context, tx db.DBTX, spec Spec, c Counter, id int64, parent *int64) error {
	var (
		old  pgtype.Int8
		kept bool
	)
	sql := fmt.Sprintf(`SELECT %s, discarded_at IS NULL FROM %s WHERE id = $1 FOR UPDATE`, ident(c.ForeignKey), ident(spec.Table))
	if err := tx.QueryRow(ctx, sql, id).Scan(&old, &kept); err != nil {
		if db.IsNoRows(err) {
			return shared.ErrNotFound
		}
		return err
	}
	var oldParent *int64
	if old.Valid {
		oldParent = &old.Int64
	}
	if sameParent(oldParent, parent) {
		return nil
	}
	update := fmt.Sprintf(`UPDATE %s SET %s = $2, updated_at = NOW() WHERE id = $1`, ident(spec.Table), ident(c.ForeignKey))
	if _, err := tx.Exec(ctx, update, id, parent); err != nil {
		return err
	}
	if !kept {
		return nil
	}
	if oldParent != nil {
		if err := bump(ctx, tx, c, *oldParent, -1); err != nil {
			return err
		}
	}
	if parent != nil {
		if err := bump(ctx, tx, c, *parent, 1); err != nil {
			return err
		}
	}
	return nil
}

// Recount implements Store.
func (s *PGStore) Recount(ctx context.Context, c Counter, parentID int64) (RecountResult, error) {
	res := RecountResult{Counter: c.Name, ParentID: parentID}
	err := db.WithTxIso(ctx, s.pool, pgx.ReadCommitted, func(tx pgx.Tx) error {
		lock := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1 FOR UPDATE`, ident(c.Column), ident(c.ParentTable))
		if err := tx.QueryRow(ctx, lock, parentID).Scan(&res.Stored); err != nil {
			if db.IsNoRows(err) {
				return shared.ErrNotFound
			}
			return err
		}
		update := fmt.Sprintf(`UPDATE %[1]s p SET %[2]s = (SELECT COUNT(*) FROM %[3]s c WHERE c.%[4]s = p.id AND c.discarded_at IS NULL)
			WHERE p.id = $1 RETURNING p.%[2]s`, ident(c.ParentTable), ident(c.Column), ident(c.ChildTable), ident(c.ForeignKey))
		return tx.QueryRow(ctx, update, parentID).Scan(&res.Actual)
	})
	return res, err
}

// ParentIDs implements Store.
func (s *PGStore) ParentIDs(ctx context.Context, c Counter) ([]int64, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`SELECT id FROM %s ORDER BY id`, ident(c.ParentTable)))
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

func lockKept(ctx context.Context, tx pgx.Tx, table string, id int64) error {
	var discarded bool
	sql := fmt.Sprintf(`SELECT discarded_at IS NOT NULL FROM %s WHERE id = $1 FOR UPDATE`, ident(table))
	if err := tx.QueryRow(ctx, sql, id).Scan(&discarded); err != nil {
		if db.IsNoRows(err) {
			return shared.ErrNotFound
		}
		return err
	}
	if discarded {
		return invalidTransition(ErrAlreadyDiscarded)
	}
	return nil
}

func missingOrState(ctx context.Context, tx pgx.Tx, table string, id int64, stateErr error) error {
	var exists bool
	sql := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE id = $1)`, ident(table))
	if err := tx.QueryRow(ctx, sql, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return shared.ErrNotFound
	}
	return invalidTransition(stateErr)
}

func bump(ctx context.Context, tx db.DBTX, c Counter, parentID, delta int64) error {
	sql := fmt.Sprintf(`UPDATE %[1]s SET %[2]s = %[2]s + $2 WHERE id = $1`, ident(c.ParentTable), ident(c.Column))
	_, err := tx.Exec(ctx, sql, parentID, delta)
	return err
}

func returningParents(spec Spec) string {
	if len(spec.Counters) == 0 {
		return "id"
	}
	cols := make([]string, 0, len(spec.Counters))
	for _, c := range spec.Counters {
		cols = append(cols, ident(c.ForeignKey))
	}
	return strings.Join(cols, ", ")
}

func sameParent(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
