package roles

import (
	"context"
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-bi/backoffice/internal/audit"
	"github.com/odyssey-bi/backoffice/internal/policy"
	"github.com/odyssey-bi/backoffice/internal/rbac"
	"github.com/odyssey-bi/backoffice/internal/shared"
)

type fakeGraph struct {
	roles  map[int64]rbac.Role
	grants map[int64][]int64
	perms  map[int64]rbac.Permission
	nextID int64
	users  map[int64]int
}

func newFakeGraph() *fakeGraph {
	return &fakeGraph{
		roles: map[int64]rbac.Role{
			1: {ID: 1, Name: "Superadmin", Version: 1},
			2: {ID: 2, Name: "Client", Version: 3},
		},
		grants: map[int64][]int64{2: {10}},
		perms: map[int64]rbac.Permission{
			10: {ID: 10, Code: "projects.index", Name: "List projects", Resource: "projects", Section: "Projects"},
			11: {ID: 11, Code: "projects.show", Name: "Show project", Resource: "projects", Section: "Projects"},
			12: {ID: 12, Code: "audit_logs.index", Name: "List audit logs", Resource: "audit_logs", Section: "Audit"},
		},
		nextID: 20,
		users:  map[int64]int{2: 4},
	}
}

func (g *fakeGraph) ListRoles(ctx context.Context) ([]rbac.Role, error) {
	out := make([]rbac.Role, 0, len(g.roles))
	for _, r := range g.roles {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (g *fakeGraph) GetRole(ctx context.Context, id int64) (rbac.Role, error) {
	r, ok := g.roles[id]
	if !ok {
		return rbac.Role{}, shared.ErrNotFound
	}
	return r, nil
}

func (g *fakeGraph) CreateRole(ctx context.Context, name, description string) (rbac.Role, error) {
	g.nextID++
	r := rbac.Role{ID: g.nextID, Name: name, Description: description, Version: 1}
	g.roles[r.ID] = r
	return r, nil
}

func (g *fakeGraph) UpdateRole(ctx context.Context, id int64, name, description string) (rbac.Role, error) {
	r := g.roles[id]
	r.Name, r.Description = name, description
	g.roles[id] = r
	return r, nil
}

func (g *fakeGraph) DeleteRole(ctx context.Context, id int64) error {
	if n := g.users[id]; n > 0 {
		return fmt.Errorf("role %d referenced by %d users: %w", id, n, shared.ErrHasActiveChildren)
	}
	delete(g.roles, id)
	return nil
}

func (g *fakeGraph) RolePermissionIDs(ctx context.Context, roleID int64) ([]int64, error) {
	return append([]int64(nil), g.grants[roleID]...), nil
}

func (g *fakeGraph) SetRolePermissions(ctx context.Context, roleID int64, ids []int64) (rbac.Role, error) {
	g.grants[roleID] = append([]int64(nil), ids...)
	r := g.roles[roleID]
	r.Version++
	g.roles[roleID] = r
	return r, nil
}

func (g *fakeGraph) ListPermissions(ctx context.Context) ([]rbac.Permission, error) {
	ids := make([]int64, 0, len(g.perms))
	for id := range g.perms {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]rbac.Permission, 0, len(ids))
	for _, id := range ids {
		out = append(out, g.perms[id])
	}
	return out, nil
}

func (g *fakeGraph) EnsurePermission(ctx context.Context, entry rbac.CatalogEntry) (rbac.Permission, error) {
	g.nextID++
	p := rbac.Permission{ID: g.nextID, Code: entry.Code, Name: entry.Name, Resource: entry.Resource(), Section: entry.Section}
	g.perms[p.ID] = p
	return p, nil
}

func (g *fakeGraph) DeletePermission(ctx context.Context, id int64) (rbac.Permission, error) {
	p, ok := g.perms[id]
	if !ok {
		return rbac.Permission{}, shared.ErrNotFound
	}
	delete(g.perms, id)
	return p, nil
}

type eventLog struct {
	events []audit.Event
}

func (l *eventLog) RecordBestEffort(ctx context.Context, ev audit.Event) {
	l.events = append(l.events, ev)
}

type grantTable map[int64]rbac.RoleGrant

func (g grantTable) RoleGrant(ctx context.Context, roleID, version int64) (rbac.RoleGrant, error) {
	return g[roleID], nil
}

func ref(v int64) *int64 { return &v }

func admin() rbac.Actor {
	return rbac.Actor{ID: 1, Name: "Admin", RoleID: ref(1), RoleName: "Superadmin"}
}

func operator() rbac.Actor {
	return rbac.Actor{ID: 3, Name: "Operator", RoleID: ref(5), RoleName: "Operator", RoleVersion: 1, CompanyID: ref(10), CompanyActive: true}
}

func newFixture(codes ...string) (*Service, *fakeGraph, *eventLog) {
	graph := newFakeGraph()
	engine := policy.NewEngine(policy.DefaultRegistry(), grantTable{5: {RoleID: 5, Version: 1, Codes: codes}}, nil, nil)
	log := &eventLog{}
	return NewService(graph, engine, log), graph, log
}

func TestListNeedsIndexPermission(t *testing.T) {
	svc, _, _ := newFixture()
	_, err := svc.List(context.Background(), operator())
	assert.ErrorIs(t, err, shared.ErrNotAuthorized)

	svc, _, _ = newFixture("user_management.roles.index")
	roles, err := svc.List(context.Background(), operator())
	require.NoError(t, err)
	require.Len(t, roles, 2)
	assert.Equal(t, "Client", roles[0].Name)
	assert.True(t, roles[1].Superadmin)
}

func TestGetIncludesPermissionIDs(t *testing.T) {
	svc, _, _ := newFixture("user_management.roles.show")
	role, err := svc.Get(context.Background(), operator(), 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{10}, role.PermissionIDs)

	svc, _, _ = newFixture()
	_, err = svc.Get(context.Background(), operator(), 2)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestCreateGrantsPermissionsAndAudits(t *testing.T) {
	svc, graph, log := newFixture("user_management.roles.create")

	role, err := svc.Create(context.Background(), operator(), Input{Name: " Auditor ", PermissionIDs: []int64{12}})
	require.NoError(t, err)
	assert.Equal(t, "Auditor", role.Name)
	assert.Equal(t, []int64{12}, role.PermissionIDs)
	assert.EqualValues(t, 2, role.Version)
	assert.Equal(t, []int64{12}, graph.grants[role.ID])

	require.Len(t, log.events, 1)
	assert.Equal(t, "user_management", log.events[0].Module)
	assert.Equal(t, "Role", log.events[0].TargetType)
	assert.Equal(t, "Created role: Auditor", log.events[0].Summary)
}

func TestCreateValidation(t *testing.T) {
	svc, _, log := newFixture("user_management.roles.create")
	_, err := svc.Create(context.Background(), operator(), Input{Name: "  ", PermissionIDs: []int64{0}})
	var vErr *shared.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.Fields, "name")
	assert.Empty(t, log.events)
}

func TestUpdateKeepsOrReplacesPermissions(t *testing.T) {
	svc, graph, log := newFixture()
	ctx := context.Background()

	role, err := svc.Update(ctx, admin(), 2, Input{Name: "Client", Description: "External"})
	require.NoError(t, err)
	assert.Equal(t, []int64{10}, role.PermissionIDs)
	assert.EqualValues(t, 3, graph.roles[2].Version)

	role, err = svc.Update(ctx, admin(), 2, Input{Name: "Client", PermissionIDs: []int64{}})
	require.NoError(t, err)
	assert.Empty(t, role.PermissionIDs)
	assert.EqualValues(t, 4, graph.roles[2].Version)

	require.Len(t, log.events, 2)
	assert.Equal(t, []int64{10}, log.events[1].Before.(Role).PermissionIDs)
}

func TestSuperadminRoleIsProtected(t *testing.T) {
	svc, graph, log := newFixture()
	ctx := context.Background()
	var vErr *shared.ValidationError

	_, err := svc.Update(ctx, admin(), 1, Input{Name: "Admin"})
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.Fields, "name")

	_, err = svc.Update(ctx, admin(), 1, Input{Name: "SUPERADMIN", Description: "bypass"})
	require.NoError(t, err)

	require.ErrorAs(t, svc.Delete(ctx, admin(), 1), &vErr)
	assert.Contains(t, graph.roles, int64(1))
	assert.Len(t, log.events, 1)
}

func TestDeleteHeldRoleConflicts(t *testing.T) {
	svc, graph, log := newFixture()
	ctx := context.Background()

	assert.ErrorIs(t, svc.Delete(ctx, admin(), 2), shared.ErrHasActiveChildren)
	assert.Empty(t, log.events)

	graph.users[2] = 0
	require.NoError(t, svc.Delete(ctx, admin(), 2))
	require.Len(t, log.events, 1)
	assert.Equal(t, audit.ActionDelete, log.events[0].Action)
}

func TestCatalogGroupsBySection(t *testing.T) {
	svc, _, _ := newFixture("user_management.roles.index")
	sections, err := svc.Catalog(context.Background(), operator())
	require.NoError(t, err)
	require.Len(t, sections, 2)
	assert.Equal(t, "Projects", sections[0].Name)
	assert.Len(t, sections[0].Permissions, 2)
	assert.Equal(t, "Audit", sections[1].Name)
}

func TestPermissionCatalogEditsAreSuperadminOnly(t *testing.T) {
	svc, graph, log := newFixture("user_management.roles.index", "user_management.roles.create", "user_management.roles.destroy")
	ctx := context.Background()

	_, err := svc.EnsurePermission(ctx, operator(), PermissionInput{Code: "reports.index"})
	assert.ErrorIs(t, err, shared.ErrNotAuthorized)
	assert.ErrorIs(t, svc.DeletePermission(ctx, operator(), 10), shared.ErrNotAuthorized)

	_, err = svc.EnsurePermission(ctx, admin(), PermissionInput{Code: "Reports"})
	var vErr *shared.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.Fields, "code")

	p, err := svc.EnsurePermission(ctx, admin(), PermissionInput{Code: "reports.index", Section: "Reports"})
	require.NoError(t, err)
	assert.Equal(t, "reports", p.Resource)
	require.NoError(t, svc.DeletePermission(ctx, admin(), 10))
	assert.NotContains(t, graph.perms, int64(10))

	require.Len(t, log.events, 2)
	assert.Equal(t, "Permission", log.events[1].TargetType)
	assert.Equal(t, "Deleted permission: projects.index", log.events[1].Summary)
}
