// Package query builds parameterised SELECT statements that policies can narrow before
// they reach PostgreSQL.
package query

import (
	"strconv"
	"strings"
)

type condition struct {
	expr string
	args []any
}

// Query is an immutable SELECT description. Every method returns a modified copy.
type Query struct {
	table   string
	alias   string
	columns []string
	joins   []condition
	conds   []condition
	orders  []string
	limit   int
	offset  int
	none    bool
}

// From starts a query over table, addressed as alias in expressions.
func From(table, alias string, columns ...string) Query {
	if alias == "" {
		alias = table
	}
	return Query{table: table, alias: alias, columns: append([]string(nil), columns...)}
}

// Alias returns the alias of the root table.
func (q Query) Alias() string {
	return q.alias
}

// Table returns the root table name.
func (q Query) Table() string {
	return q.table
}

// Col qualifies column with the root alias.
func (q Query) Col(column string) string {
	return q.alias + "." + column
}

// Join adds a JOIN clause. Placeholders use '?'.
func (q Query) Join(clause string, args ...any) Query {
	out := q.clone()
	out.joins = append(out.joins, condition{expr: clause, args: args})
	return out
}

// Where adds an AND-ed predicate. Placeholders use '?'.
func (q Query) Where(expr string, args ...any) Query {
	out := q.clone()
	out.conds = append(out.conds, condition{expr: expr, args: args})
	return out
}

// Kept restricts the root table to rows that are not soft-deleted.
func (q Query) Kept() Query {
	return q.Where(q.Col("discarded_at") + " IS NULL")
}

// Discarded restricts the root table to soft-deleted rows.
func (q Query) Discarded() Query {
	return q.Where(q.Col("discarded_at") + " IS NOT NULL")
}

// None returns a query that matches nothing.
func (q Query) None() Query {
	out := q.clone()
	out.none = true
	return out
}

// IsNone reports whether the query was narrowed to the empty set.
func (q Query) IsNone() bool {
	return q.none
}

// OrderBy replaces the ordering expressions.
func (q Query) OrderBy(exprs ...string) Query {
	out := q.clone()
	out.orders = append([]string(nil), exprs...)
	return out
}

// Page sets LIMIT and OFFSET. A non-positive limit disables paging.
func (q Query) Page(limit, offset int) Query {
	out := q.clone()
	out.limit = limit
	if offset < 0 {
		offset = 0
	}
	out.offset = offset
	return out
}

// SQL renders the SELECT statement with $n placeholders.
func (q Query) SQL() (string, []any) {
	var b strings.Builder
	b.WriteString("SELECT ")
	if len(q.columns) == 0 {
		b.WriteString(q.alias + ".*")
	} else {
		b.WriteString(strings.Join(q.columns, ", "))
	}
	args := q.writeBody(&b)
	if len(q.orders) > 0 {
		b.WriteString(" ORDER BY ")
		b.WriteString(strings.Join(q.orders, ", "))
	}
	if q.limit > 0 {
		b.WriteString(" LIMIT ?")
		args = append(args, q.limit)
		if q.offset > 0 {
			b.WriteString(" OFFSET ?")
			args = append(args, q.offset)
		}
	}
	return rebind(b.String()), args
}

// CountSQL renders a COUNT(*) over the same filtered set, ignoring order and paging.
func (q Query) CountSQL() (string, []any) {
	var b strings.Builder
	b.WriteString("SELECT COUNT(*)")
	args := q.writeBody(&b)
	return rebind(b.String()), args
}

func (q Query) writeBody(b *strings.Builder) []any {
	var args []any
	b.WriteString(" FROM ")
	b.WriteString(q.table)
	if q.alias != q.table {
		b.WriteString(" ")
		b.WriteString(q.alias)
	}
	for _, j := range q.joins {
		b.WriteString(" ")
		b.WriteString(j.expr)
		args = append(args, j.args...)
	}
	if q.none {
		b.WriteString(" WHERE FALSE")
		return args
	}
	for i, c := range q.conds {
		if i == 0 {
			b.WriteString(" WHERE ")
		} else {
			b.WriteString(" AND ")
		}
		b.WriteString("(")
		b.WriteString(c.expr)
		b.WriteString(")")
		args = append(args, c.args...)
	}
	return args
}

func (q Query) clone() Query {
	out := q
	out.columns = append([]string(nil), q.columns...)
	out.joins = append([]condition(nil), q.joins...)
	out.conds = append([]condition(nil), q.conds...)
	out.orders = append([]string(nil), q.orders...)
	return out
}

// rebind rewrites '?' placeholders into PostgreSQL positional parameters.
func rebind(sql string) string {
	var b strings.Builder
	b.Grow(len(sql) + 8)
	n := 0
	for i := 0; i < len(sql); i++ {
		if sql[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(sql[i])
	}
	return b.String()
}
