package softdelete

import (
	"context"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-bi/backoffice/internal/observability"
	"github.com/odyssey-bi/backoffice/internal/shared"
)

func ref(v int64) *int64 { return &v }

func company(store *MemoryStore, id int64) {
	store.Put("companies", id, nil)
}

func project(store *MemoryStore, id, companyID int64) {
	store.Put("projects", id, map[string]*int64{"company_id": ref(companyID)})
}

func seededManager(t *testing.T, projects int) (*Manager, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	company(store, 1)
	company(store, 2)
	for i := 1; i <= projects; i++ {
		project(store, int64(i), 1)
	}
	store.SetCounter(CompanyProjects, 1, int64(projects))
	return NewManager(store, nil, nil), store
}

func TestDiscardAndRestoreAdjustCounterOnce(t *testing.T) {
	m, store := seededManager(t, 3)
	ctx := context.Background()

	require.NoError(t, m.Discard(ctx, Projects, 2))
	assert.EqualValues(t, 2, store.CounterValue(CompanyProjects, 1))
	assert.False(t, store.Kept("projects", 2))

	require.NoError(t, m.Restore(ctx, Projects, 2))
	assert.EqualValues(t, 3, store.CounterValue(CompanyProjects, 1))
	assert.True(t, store.Kept("projects", 2))
}

func TestRepeatedTransitionsDoNotMoveCounter(t *testing.T) {
	m, store := seededManager(t, 3)
	ctx := context.Background()

	require.NoError(t, m.Discard(ctx, Projects, 1))
	err := m.Discard(ctx, Projects, 1)
	assert.ErrorIs(t, err, ErrAlreadyDiscarded)
	assert.ErrorIs(t, err, shared.ErrValidationFailed)
	assert.EqualValues(t, 2, store.CounterValue(CompanyProjects, 1))

	err = m.Restore(ctx, Projects, 3)
	assert.ErrorIs(t, err, ErrNotDiscarded)
	assert.EqualValues(t, 2, store.CounterValue(CompanyProjects, 1))

	assert.ErrorIs(t, m.Discard(ctx, Projects, 99), shared.ErrNotFound)
}

func TestCounterMatchesKeptChildrenAfterAnySequence(t *testing.T) {
	m, store := seededManager(t, 5)
	ctx := context.Background()
	ops := []struct {
		discard bool
		id      int64
	}{
		{true, 1}, {true, 2}, {false, 1}, {true, 5}, {true, 1}, {false, 2}, {true, 3}, {false, 5},
	}
	for _, op := range ops {
		if op.discard {
			require.NoError(t, m.Discard(ctx, Projects, op.id))
		} else {
			require.NoError(t, m.Restore(ctx, Projects, op.id))
		}
	}
	assert.EqualValues(t, 3, store.CounterValue(CompanyProjects, 1))
	res, err := m.Recount(ctx, CompanyProjects, 1)
	require.NoError(t, err)
	assert.False(t, res.Drifted())
	assert.EqualValues(t, 3, res.Actual)
}

func TestConcurrentSiblingDiscardsAreBothCounted(t *testing.T) {
	const n = 40
	m, store := seededManager(t, n)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 1; i <= n/2; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			assert.NoError(t, m.Discard(ctx, Projects, id))
		}(int64(i))
	}
	wg.Wait()
	assert.EqualValues(t, n/2, store.CounterValue(CompanyProjects, 1))
}

func TestDiscardParentWithKeptChildrenFails(t *testing.T) {
	m, store := seededManager(t, 2)
	ctx := context.Background()

	err := m.Discard(ctx, Companies, 1)
	assert.ErrorIs(t, err, shared.ErrHasActiveChildren)
	assert.True(t, store.Kept("companies", 1))

	require.NoError(t, m.Discard(ctx, Projects, 1))
	require.NoError(t, m.Discard(ctx, Projects, 2))
	require.NoError(t, m.Discard(ctx, Companies, 1))
	assert.False(t, store.Kept("companies", 1))
}

func TestReparentMovesOneUnit(t *testing.T) {
	store := NewMemoryStore()
	company(store, 1)
	company(store, 2)
	store.Put("users", 10, map[string]*int64{"company_id": ref(1)})
	store.Put("users", 11, map[string]*int64{"company_id": ref(1)})
	store.SetCounter(CompanyUsers, 1, 2)
	m := NewManager(store, nil, nil)
	ctx := context.Background()

	require.NoError(t, m.Reparent(ctx, Users, "company_id", 10, ref(2)))
	assert.EqualValues(t, 1, store.CounterValue(CompanyUsers, 1))
	assert.EqualValues(t, 1, store.CounterValue(CompanyUsers, 2))

	require.NoError(t, m.Reparent(ctx, Users, "company_id", 10, ref(2)))
	assert.EqualValues(t, 1, store.CounterValue(CompanyUsers, 2))

	require.NoError(t, m.Discard(ctx, Users, 11))
	require.NoError(t, m.Reparent(ctx, Users, "company_id", 11, nil))
	assert.EqualValues(t, 0, store.CounterValue(CompanyUsers, 1))

	require.NoError(t, m.Restore(ctx, Users, 11))
	assert.EqualValues(t, 0, store.CounterValue(CompanyUsers, 1))

	assert.Error(t, m.Reparent(ctx, Users, "role_id", 10, ref(1)))
}

func TestRecountRepairsDriftIdempotently(t *testing.T) {
	m, store := seededManager(t, 3)
	metrics := observability.NewMetrics()
	m.metrics = metrics
	ctx := context.Background()
	store.SetCounter(CompanyProjects, 1, 9)

	first, err := m.Recount(ctx, CompanyProjects, 1)
	require.NoError(t, err)
	assert.True(t, first.Drifted())
	assert.EqualValues(t, 9, first.Stored)
	assert.EqualValues(t, 3, first.Actual)

	second, err := m.Recount(ctx, CompanyProjects, 1)
	require.NoError(t, err)
	assert.False(t, second.Drifted())
	assert.Equal(t, first.Actual, second.Actual)
	assert.EqualValues(t, 3, store.CounterValue(CompanyProjects, 1))

	series, err := testutil.GatherAndCount(metrics.Gatherer(), "backoffice_counter_drift_total")
	require.NoError(t, err)
	assert.Equal(t, 1, series)
}

func TestRecountAllReturnsOnlyDrifted(t *testing.T) {
	m, store := seededManager(t, 2)
	ctx := context.Background()
	project(store, 7, 2)

	drifted, err := m.RecountAll(ctx, CompanyProjects)
	require.NoError(t, err)
	require.Len(t, drifted, 1)
	assert.EqualValues(t, 2, drifted[0].ParentID)
	assert.EqualValues(t, 1, store.CounterValue(CompanyProjects, 2))

	again, err := m.RecountAll(ctx, CompanyProjects)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestSpecValidationRejectsBadIdentifiers(t *testing.T) {
	m, _ := seededManager(t, 0)
	bad := Spec{Table: "projects; DROP TABLE users"}
	assert.Error(t, m.Discard(context.Background(), bad, 1))

	_, ok := CounterByName("companies.projects_count")
	assert.True(t, ok)
	_, ok = CounterByName("projects.dashboards_count")
	assert.False(t, ok)
}
