package projects

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-bi/backoffice/internal/audit"
	"github.com/odyssey-bi/backoffice/internal/platform/query"
	"github.com/odyssey-bi/backoffice/internal/policy"
	"github.com/odyssey-bi/backoffice/internal/rbac"
	"github.com/odyssey-bi/backoffice/internal/shared"
	"github.com/odyssey-bi/backoffice/internal/softdelete"
)

type memRepo struct {
	mu        sync.Mutex
	items     map[int64]Project
	nextID    int64
	lastQuery query.Query
	reparents []int64
	moveErr   error
}

func newMemRepo(items ...Project) *memRepo {
	repo := &memRepo{items: make(map[int64]Project), nextID: 100}
	for _, p := range items {
		repo.items[p.ID] = p
	}
	return repo
}

func (m *memRepo) Find(ctx context.Context, q query.Query) ([]Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastQuery = q
	if q.IsNone() {
		return nil, nil
	}
	out := make([]Project, 0, len(m.items))
	for _, p := range m.items {
		out = append(out, p)
	}
	return out, nil
}

func (m *memRepo) Count(ctx context.Context, q query.Query) (int, error) {
	if q.IsNone() {
		return 0, nil
	}
	return len(m.items), nil
}

func (m *memRepo) Get(ctx context.Context, id int64) (Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.items[id]
	if !ok {
		return Project{}, shared.ErrNotFound
	}
	return p, nil
}

func (m *memRepo) Create(ctx context.Context, in Input) (Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	p := Project{ID: m.nextID, CompanyID: in.CompanyID, Name: in.Name, Description: in.Description, Status: in.Status}
	m.items[p.ID] = p
	return p, nil
}

func (m *memRepo) Update(ctx context.Context, id int64, in Input, move bool) (Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if move && m.moveErr != nil {
		return Project{}, m.moveErr
	}
	p := m.items[id]
	p.Name, p.Description, p.Status = in.Name, in.Description, in.Status
	if move {
		p.CompanyID = in.CompanyID
		m.reparents = append(m.reparents, id)
	}
	m.items[id] = p
	return p, nil
}

func (m *memRepo) Discard(ctx context.Context, spec softdelete.Spec, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.items[id]
	if p.DiscardedAt != nil {
		return softdelete.ErrAlreadyDiscarded
	}
	now := time.Now()
	p.DiscardedAt = &now
	m.items[id] = p
	return nil
}

func (m *memRepo) Restore(ctx context.Context, spec softdelete.Spec, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.items[id]
	p.DiscardedAt = nil
	m.items[id] = p
	return nil
}

type recorder struct {
	events []audit.Event
}

func (r *recorder) RecordBestEffort(ctx context.Context, ev audit.Event) {
	r.events = append(r.events, ev)
}

type grants map[int64]rbac.RoleGrant

func (g grants) RoleGrant(ctx context.Context, roleID, version int64) (rbac.RoleGrant, error) {
	return g[roleID], nil
}

func ptr(v int64) *int64 { return &v }

func superadmin() rbac.Actor {
	return rbac.Actor{ID: 1, Name: "Admin", RoleID: ptr(1), RoleName: rbac.SuperadminRoleName}
}

func client(companyID int64) rbac.Actor {
	return rbac.Actor{ID: 5, Name: "Client", RoleID: ptr(2), RoleName: "Client", RoleVersion: 1, CompanyID: ptr(companyID), CompanyActive: true}
}

func newService(repo *memRepo, codes ...string) (*Service, *recorder) {
	engine := policy.NewEngine(policy.DefaultRegistry(), grants{2: {RoleID: 2, Version: 1, Codes: codes}}, nil, nil)
	rec := &recorder{}
	return NewService(repo, engine, repo, rec), rec
}

func TestListIsScopedToClientCompany(t *testing.T) {
	repo := newMemRepo(Project{ID: 1, CompanyID: 10, Name: "A"})
	svc, _ := newService(repo, "projects.index")

	_, err := svc.List(context.Background(), client(10), ListParams{Search: "fin"})
	require.NoError(t, err)
	sql, args := repo.lastQuery.SQL()
	assert.Contains(t, sql, "(p.discarded_at IS NULL)")
	assert.Contains(t, sql, "(p.company_id = $3)")
	assert.Contains(t, sql, "ORDER BY p.created_at DESC, p.id DESC")
	assert.Equal(t, []any{"%fin%", "%fin%", int64(10), shared.DefaultPerPage}, args)
}

func TestListWithoutIndexPermissionIsEmpty(t *testing.T) {
	repo := newMemRepo(Project{ID: 1, CompanyID: 10, Name: "A"})
	svc, _ := newService(repo)

	page, err := svc.List(context.Background(), client(10), ListParams{})
	require.NoError(t, err)
	assert.Empty(t, page.Projects)
	assert.True(t, repo.lastQuery.IsNone())
}

func TestListDiscardedNeedsDestroyPermission(t *testing.T) {
	repo := newMemRepo()
	svc, _ := newService(repo, "projects.index")
	_, err := svc.List(context.Background(), client(10), ListParams{Discarded: true})
	assert.ErrorIs(t, err, shared.ErrNotAuthorized)

	_, err = svc.List(context.Background(), superadmin(), ListParams{Discarded: true})
	require.NoError(t, err)
	sql, _ := repo.lastQuery.SQL()
	assert.Contains(t, sql, "(p.discarded_at IS NOT NULL)")
}

func TestGetHidesOtherCompaniesAndDiscarded(t *testing.T) {
	gone := time.Now()
	repo := newMemRepo(
		Project{ID: 1, CompanyID: 10, Name: "Mine"},
		Project{ID: 2, CompanyID: 20, Name: "Theirs"},
		Project{ID: 3, CompanyID: 10, Name: "Old", DiscardedAt: &gone},
	)
	svc, _ := newService(repo, "projects.index", "projects.show")
	ctx := context.Background()

	p, err := svc.Get(ctx, client(10), 1)
	require.NoError(t, err)
	assert.Equal(t, "Mine", p.Name)

	_, err = svc.Get(ctx, client(10), 2)
	assert.ErrorIs(t, err, shared.ErrNotFound)
	_, err = svc.Get(ctx, client(10), 3)
	assert.ErrorIs(t, err, shared.ErrNotFound)
	_, err = svc.Get(ctx, client(10), 404)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestMutationsAreSuperadminOnly(t *testing.T) {
	repo := newMemRepo(Project{ID: 1, CompanyID: 10, Name: "Mine", Status: StatusActive})
	svc, rec := newService(repo, "projects.index", "projects.show", "projects.create", "projects.update", "projects.destroy")
	ctx := context.Background()

	_, err := svc.Create(ctx, client(10), Input{CompanyID: 10, Name: "New"})
	assert.ErrorIs(t, err, shared.ErrNotAuthorized)
	_, err = svc.Update(ctx, client(10), 1, Input{CompanyID: 10, Name: "Renamed"})
	assert.ErrorIs(t, err, shared.ErrNotFound)
	assert.ErrorIs(t, svc.Discard(ctx, client(10), 1), shared.ErrNotFound)
	assert.Empty(t, rec.events)
}

func TestCreateValidatesAndAudits(t *testing.T) {
	repo := newMemRepo()
	svc, rec := newService(repo)
	ctx := context.Background()

	_, err := svc.Create(ctx, superadmin(), Input{CompanyID: 10, Status: "archived"})
	var vErr *shared.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.Fields, "name")
	assert.Contains(t, vErr.Fields, "status")

	created, err := svc.Create(ctx, superadmin(), Input{CompanyID: 10, Name: "  Finance  "})
	require.NoError(t, err)
	assert.Equal(t, "Finance", created.Name)
	assert.Equal(t, StatusActive, created.Status)
	require.Len(t, rec.events, 1)
	assert.Equal(t, audit.ActionCreate, rec.events[0].Action)
	assert.Equal(t, "projects", rec.events[0].Module)
	assert.Nil(t, rec.events[0].Before)
}

func TestUpdateMovingCompanyReparents(t *testing.T) {
	repo := newMemRepo(Project{ID: 1, CompanyID: 10, Name: "Mine", Status: StatusActive})
	svc, rec := newService(repo)

	after, err := svc.Update(context.Background(), superadmin(), 1, Input{CompanyID: 20, Name: "Mine", Status: StatusInactive})
	require.NoError(t, err)
	assert.EqualValues(t, 20, after.CompanyID)
	assert.Equal(t, []int64{1}, repo.reparents)
	require.Len(t, rec.events, 1)
	assert.Equal(t, Project{ID: 1, CompanyID: 10, Name: "Mine", Status: StatusActive}, rec.events[0].Before)
}

func TestUpdateFailedMoveKeepsProjectAndSkipsAudit(t *testing.T) {
	repo := newMemRepo(Project{ID: 1, CompanyID: 10, Name: "Mine", Status: StatusActive})
	repo.moveErr = errors.New("db: connection reset")
	svc, rec := newService(repo)

	_, err := svc.Update(context.Background(), superadmin(), 1, Input{CompanyID: 20, Name: "Renamed", Status: StatusInactive})
	require.Error(t, err)

	stored, err := repo.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, Project{ID: 1, CompanyID: 10, Name: "Mine", Status: StatusActive}, stored)
	assert.Empty(t, repo.reparents)
	assert.Empty(t, rec.events)
}

func TestDiscardRestoreAreAudited(t *testing.T) {
	repo := newMemRepo(Project{ID: 1, CompanyID: 10, Name: "Mine", Status: StatusActive})
	svc, rec := newService(repo)
	ctx := context.Background()

	require.NoError(t, svc.Discard(ctx, superadmin(), 1))
	assert.ErrorIs(t, svc.Discard(ctx, superadmin(), 1), shared.ErrNotFound)
	_, err := svc.Restore(ctx, superadmin(), 1)
	require.NoError(t, err)

	require.Len(t, rec.events, 2)
	assert.Equal(t, audit.ActionDelete, rec.events[0].Action)
	assert.Equal(t, "Deleted project: Mine", rec.events[0].Summary)
	assert.Equal(t, audit.ActionRestore, rec.events[1].Action)
}
