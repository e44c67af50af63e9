package softdelete

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/odyssey-bi/backoffice/internal/shared"
)

type memRow struct {
	parents     map[string]*int64
	discardedAt *time.Time
	counters    map[string]int64
}

// MemoryStore is an in-process Store used by tests and local tooling.
type MemoryStore struct {
	mu     sync.Mutex
	tables map[string]map[int64]*memRow
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tables: make(map[string]map[int64]*memRow)}
}

// Put inserts or replaces a kept row with the given foreign keys.
func (s *MemoryStore) Put(table string, id int64, parents map[string]*int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.tables[table]
	if rows == nil {
		rows = make(map[int64]*memRow)
		s.tables[table] = rows
	}
	copied := make(map[string]*int64, len(parents))
	for k, v := range parents {
		if v != nil {
			p := *v
			copied[k] = &p
		}
	}
	rows[id] = &memRow{parents: copied, counters: make(map[string]int64)}
}

// SetCounter overwrites a counter column, for simulating drift.
func (s *MemoryStore) SetCounter(c Counter, parentID, value int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row := s.row(c.ParentTable, parentID); row != nil {
		row.counters[c.Column] = value
	}
}

// CounterValue reads a counter column.
func (s *MemoryStore) CounterValue(c Counter, parentID int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row := s.row(c.ParentTable, parentID); row != nil {
		return row.counters[c.Column]
	}
	return 0
}

// Kept reports whether the row exists and is not discarded.
func (s *MemoryStore) Kept(table string, id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := s.row(table, id)
	return row != nil && row.discardedAt == nil
}

func (s *MemoryStore) row(table string, id int64) *memRow {
	return s.tables[table][id]
}

// Discard implements Store.
func (s *MemoryStore) Discard(ctx context.Context, spec Spec, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := s.row(spec.Table, id)
	if row == nil {
		return shared.ErrNotFound
	}
	if row.discardedAt != nil {
		return invalidTransition(ErrAlreadyDiscarded)
	}
	for _, g := range spec.Guards {
		if s.countKept(g.Table, g.ForeignKey, id) > 0 {
			return activeChildren(spec.Table, g)
		}
	}
	t := at
	row.discardedAt = &t
	s.applyDelta(spec, row, -1)
	return nil
}

// Restore implements Store.
func (s *MemoryStore) Restore(ctx context.Context, spec Spec, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := s.row(spec.Table, id)
	if row == nil {
		return shared.ErrNotFound
	}
	if row.discardedAt == nil {
		return invalidTransition(ErrNotDiscarded)
	}
	row.discardedAt = nil
	s.applyDelta(spec, row, 1)
	return nil
}

// Reparent implements Store.
func (s *MemoryStore) Reparent(ctx context.Context, spec Spec, c Counter, id int64, parent *int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := s.row(spec.Table, id)
	if row == nil {
		return shared.ErrNotFound
	}
	old := row.parents[c.ForeignKey]
	if sameParent(old, parent) {
		return nil
	}
	if parent == nil {
		delete(row.parents, c.ForeignKey)
	} else {
		p := *parent
		row.parents[c.ForeignKey] = &p
	}
	if row.discardedAt != nil {
		return nil
	}
	if old != nil {
		s.bump(c, *old, -1)
	}
	if parent != nil {
		s.bump(c, *parent, 1)
	}
	return nil
}

// Recount implements Store.
func (s *MemoryStore) Recount(ctx context.Context, c Counter, parentID int64) (RecountResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := s.row(c.ParentTable, parentID)
	if row == nil {
		return RecountResult{}, shared.ErrNotFound
	}
	res := RecountResult{Counter: c.Name, ParentID: parentID, Stored: row.counters[c.Column]}
	res.Actual = s.countKept(c.ChildTable, c.ForeignKey, parentID)
	row.counters[c.Column] = res.Actual
	return res, nil
}

// ParentIDs implements Store.
func (s *MemoryStore) ParentIDs(ctx context.Context, c Counter) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int64, 0, len(s.tables[c.ParentTable]))
	for id := range s.tables[c.ParentTable] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *MemoryStore) applyDelta(spec Spec, row *memRow, delta int64) {
	for _, c := range spec.Counters {
		if parent := row.parents[c.ForeignKey]; parent != nil {
			s.bump(c, *parent, delta)
		}
	}
}

func (s *MemoryStore) bump(c Counter, parentID, delta int64) {
	if parent := s.row(c.ParentTable, parentID); parent != nil {
		parent.counters[c.Column] += delta
	}
}

func (s *MemoryStore) countKept(table, foreignKey string, parentID int64) int64 {
	var n int64
	for _, row := range s.tables[table] {
		if row.discardedAt != nil {
			continue
		}
		if p := row.parents[foreignKey]; p != nil && *p == parentID {
			n++
		}
	}
	return n
}
