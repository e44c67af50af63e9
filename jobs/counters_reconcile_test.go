package jobs

import (
	"context"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/odyssey-bi/backoffice/internal/jobs"
	"github.com/odyssey-bi/backoffice/internal/softdelete"
	_ "github.com/odyssey-bi/backoffice/testing"
)

func ptr(v int64) *int64 { return &v }

func driftedStore() *softdelete.MemoryStore {
	store := softdelete.NewMemoryStore()
	store.Put("companies", 10, nil)
	store.Put("companies", 20, nil)
	store.Put("projects", 1, map[string]*int64{"company_id": ptr(10)})
	store.Put("projects", 2, map[string]*int64{"company_id": ptr(10)})
	store.Put("users", 5, map[string]*int64{"company_id": ptr(20)})
	store.SetCounter(softdelete.CompanyProjects, 10, 7)
	store.SetCounter(softdelete.CompanyUsers, 20, 1)
	return store
}

func TestCountersReconcileRepairsEveryCompany(t *testing.T) {
	store := driftedStore()
	registry := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(registry)
	job := NewCountersReconcileJob(softdelete.NewManager(store, nil, nil), nil, metrics)

	task, err := NewCountersReconcileTask(CountersReconcilePayload{})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))

	assert.Equal(t, int64(2), store.CounterValue(softdelete.CompanyProjects, 10))
	assert.Equal(t, int64(1), store.CounterValue(softdelete.CompanyUsers, 20))
	assert.Equal(t, int64(0), store.CounterValue(softdelete.CompanyUsers, 10))

	count, err := testutil.GatherAndCount(registry, "backoffice_job_counters_repaired_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	runs, err := testutil.GatherAndCount(registry, "backoffice_jobs_total")
	require.NoError(t, err)
	assert.Equal(t, 1, runs)
	stamped, err := testutil.GatherAndCount(registry, "backoffice_job_last_success_timestamp_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, stamped)
}

func TestCountersReconcileSingleCompany(t *testing.T) {
	store := driftedStore()
	job := NewCountersReconcileJob(softdelete.NewManager(store, nil, nil), nil, nil)

	drifted, err := job.Run(context.Background(), 20, []softdelete.Counter{softdelete.CompanyProjects})
	require.NoError(t, err)
	assert.Empty(t, drifted)
	assert.Equal(t, int64(7), store.CounterValue(softdelete.CompanyProjects, 10), "other companies untouched")

	drifted, err = job.Run(context.Background(), 10, []softdelete.Counter{softdelete.CompanyProjects})
	require.NoError(t, err)
	require.Len(t, drifted, 1)
	assert.Equal(t, softdelete.RecountResult{Counter: "companies.projects_count", ParentID: 10, Stored: 7, Actual: 2}, drifted[0])
}

func TestCountersReconcileRejectsBadPayload(t *testing.T) {
	job := NewCountersReconcileJob(softdelete.NewManager(softdelete.NewMemoryStore(), nil, nil), nil, nil)

	err := job.Handle(context.Background(), asynq.NewTask(TaskCountersReconcile, []byte("{")))
	assert.True(t, errors.Is(err, asynq.SkipRetry))

	err = job.Handle(context.Background(), asynq.NewTask(TaskCountersReconcile, []byte(`{"counter":"companies.widgets"}`)))
	assert.True(t, errors.Is(err, asynq.SkipRetry))

	_, err = NewCountersReconcileTask(CountersReconcilePayload{Counter: "companies.widgets"})
	assert.Error(t, err)
}

func TestCountersReconcilePayloadSelectsCounter(t *testing.T) {
	counters, err := CountersReconcilePayload{Counter: "companies.users_count"}.Counters()
	require.NoError(t, err)
	assert.Equal(t, []softdelete.Counter{softdelete.CompanyUsers}, counters)

	counters, err = CountersReconcilePayload{}.Counters()
	require.NoError(t, err)
	assert.Len(t, counters, 2)
}
