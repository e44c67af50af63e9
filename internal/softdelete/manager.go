package softdelete

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/odyssey-bi/backoffice/internal/observability"
)

const recountConcurrency = 4

// Store performs the lifecycle transitions atomically. Each call is one transaction:
// the discarded_at flip and every counter delta commit together or not at all.
type Store interface {
	Discard(ctx context.Context, spec Spec, id int64, at time.Time) error
	Restore(ctx context.Context, spec Spec, id int64, at time.Time) error
	Reparent(ctx context.Context, spec Spec, c Counter, id int64, parent *int64) error
	Recount(ctx context.Context, c Counter, parentID int64) (RecountResult, error)
	ParentIDs(ctx context.Context, c Counter) ([]int64, error)
}

// Lifecycle is the transition surface domain services depend on.
type Lifecycle interface {
	Discard(ctx context.Context, spec Spec, id int64) error
	Restore(ctx context.Context, spec Spec, id int64) error
}

// RecountResult reports one repaired counter.
type RecountResult struct {
	Counter  string `json:"counter"`
	ParentID int64  `json:"parent_id"`
	Stored   int64  `json:"stored"`
	Actual   int64  `json:"actual"`
}

// Drifted reports whether the stored value disagreed with the kept children.
func (r RecountResult) Drifted() bool {
	return r.Stored != r.Actual
}

// Manager drives discard, restore and counter repair.
type Manager struct {
	store   Store
	metrics *observability.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewManager constructs a Manager.
func NewManager(store Store, metrics *observability.Metrics, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: store, metrics: metrics, logger: logger, now: time.Now}
}

// Discard marks id as discarded and decrements each counted parent once.
func (m *Manager) Discard(ctx context.Context, spec Spec, id int64) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	if err := m.store.Discard(ctx, spec, id, m.now().UTC()); err != nil {
		return fmt.Errorf("softdelete: discard %s %d: %w", spec.Table, id, err)
	}
	return nil
}

// Restore clears discarded_at and increments each counted parent once.
func (m *Manager) Restore(ctx context.Context, spec Spec, id int64) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	if err := m.store.Restore(ctx, spec, id, m.now().UTC()); err != nil {
		return fmt.Errorf("softdelete: restore %s %d: %w", spec.Table, id, err)
	}
	return nil
}

// Reparent moves id under a new parent for the counter keyed by foreignKey. Kept rows move
// one unit from the old parent's counter to the new one; discarded rows move no units.
func (m *Manager) Reparent(ctx context.Context, spec Spec, foreignKey string, id int64, parent *int64) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	c, ok := spec.counter(foreignKey)
	if !ok {
		return fmt.Errorf("softdelete: %s has no counter on %s", spec.Table, foreignKey)
	}
	if err := m.store.Reparent(ctx, spec, c, id, parent); err != nil {
		return fmt.Errorf("softdelete: reparent %s %d: %w", spec.Table, id, err)
	}
	return nil
}

// Recount resets one parent's counter to the number of kept children. Running it twice in
// a row leaves the same value.
func (m *Manager) Recount(ctx context.Context, c Counter, parentID int64) (RecountResult, error) {
	if err := c.Validate(); err != nil {
		return RecountResult{}, err
	}
	res, err := m.store.Recount(ctx, c, parentID)
	if err != nil {
		return RecountResult{}, fmt.Errorf("softdelete: recount %s %d: %w", c.Name, parentID, err)
	}
	if res.Drifted() {
		m.metrics.CounterDrift(c.Name)
		m.logger.Warn("counter drift repaired",
			slog.String("counter", c.Name),
			slog.Int64("parent_id", parentID),
			slog.Int64("stored", res.Stored),
			slog.Int64("actual", res.Actual),
		)
	}
	return res, nil
}

// RecountAll repairs c on every parent row and returns the rows that had drifted.
func (m *Manager) RecountAll(ctx context.Context, c Counter) ([]RecountResult, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	ids, err := m.store.ParentIDs(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("softdelete: list %s: %w", c.ParentTable, err)
	}
	results := make([]RecountResult, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(recountConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			res, err := m.Recount(gctx, c, id)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	drifted := make([]RecountResult, 0)
	for _, res := range results {
		if res.Drifted() {
			drifted = append(drifted, res)
		}
	}
	m.logger.Info("counter recount finished",
		slog.String("counter", c.Name),
		slog.Int("parents", len(ids)),
		slog.Int("drifted", len(drifted)),
	)
	return drifted, nil
}

var _ Lifecycle = (*Manager)(nil)
