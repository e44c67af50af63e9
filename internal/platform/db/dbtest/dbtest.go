// Package dbtest provides a scripted db.DBTX for exercising transaction bodies without a server.
package dbtest

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/odyssey-bi/backoffice/internal/platform/db"
)

// Row is one scripted QueryRow result, scanned positionally.
type Row []any

// Tx records every statement sent through it. QueryRow results are served from Rows in
// order; a statement containing FailOn returns Err instead. Exec reports Affected rows, or
// one when Affected is zero.
type Tx struct {
	Rows       []Row
	Affected   int64
	FailOn     string
	Err        error
	Statements []string
	Args       [][]any
}

// Exec implements db.DBTX.
func (t *Tx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if err := t.record(sql, args); err != nil {
		return pgconn.CommandTag{}, err
	}
	affected := t.Affected
	if affected == 0 {
		affected = 1
	}
	return pgconn.NewCommandTag(fmt.Sprintf("UPDATE %d", affected)), nil
}

// Query implements db.DBTX. Scripted row sets are not supported.
func (t *Tx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if err := t.record(sql, args); err != nil {
		return nil, err
	}
	return nil, errors.New("dbtest: Query not scripted")
}

// QueryRow implements db.DBTX.
func (t *Tx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if err := t.record(sql, args); err != nil {
		return errRow{err}
	}
	if len(t.Rows) == 0 {
		return errRow{pgx.ErrNoRows}
	}
	row := t.Rows[0]
	t.Rows = t.Rows[1:]
	return row
}

// Matching returns the recorded statements containing fragment.
func (t *Tx) Matching(fragment string) []string {
	var out []string
	for _, s := range t.Statements {
		if strings.Contains(s, fragment) {
			out = append(out, s)
		}
	}
	return out
}

func (t *Tx) record(sql string, args []any) error {
	t.Statements = append(t.Statements, sql)
	t.Args = append(t.Args, args)
	if t.FailOn != "" && strings.Contains(sql, t.FailOn) {
		return t.Err
	}
	return nil
}

// Scan implements pgx.Row for the destination types repositories use.
func (r Row) Scan(dest ...any) error {
	if len(dest) != len(r) {
		return fmt.Errorf("dbtest: scan %d columns into %d targets", len(r), len(dest))
	}
	for i, d := range dest {
		if err := assign(d, r[i]); err != nil {
			return fmt.Errorf("dbtest: column %d: %w", i, err)
		}
	}
	return nil
}

func assign(dest, v any) error {
	switch d := dest.(type) {
	case *pgtype.Int8:
		if v == nil {
			*d = pgtype.Int8{}
			return nil
		}
		n, ok := v.(int64)
		if !ok {
			return fmt.Errorf("want int64, got %T", v)
		}
		*d = pgtype.Int8{Int64: n, Valid: true}
	case *int64:
		n, ok := v.(int64)
		if !ok {
			return fmt.Errorf("want int64, got %T", v)
		}
		*d = n
	case *bool:
		b, ok := v.(bool)
		if !ok {
			return fmt.Errorf("want bool, got %T", v)
		}
		*d = b
	case *string:
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("want string, got %T", v)
		}
		*d = s
	default:
		return fmt.Errorf("unsupported target %T", dest)
	}
	return nil
}

type errRow struct{ err error }

func (r errRow) Scan(dest ...any) error { return r.err }

var _ db.DBTX = (*Tx)(nil)
