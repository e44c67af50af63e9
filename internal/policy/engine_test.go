package policy_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-bi/backoffice/internal/observability"
	"github.com/odyssey-bi/backoffice/internal/platform/query"
	"github.com/odyssey-bi/backoffice/internal/policy"
	"github.com/odyssey-bi/backoffice/internal/rbac"
	"github.com/odyssey-bi/backoffice/internal/shared"
)

type grantMap map[int64]rbac.RoleGrant

func (g grantMap) RoleGrant(ctx context.Context, roleID, version int64) (rbac.RoleGrant, error) {
	return g[roleID], nil
}

type companyRecord struct{ companyID int64 }

func (r companyRecord) CompanyRef() int64 { return r.companyID }

type actorRecord struct{ actorID *int64 }

func (r actorRecord) ActorRef() *int64 { return r.actorID }

const (
	superadminRoleID int64 = 1
	clientRoleID     int64 = 2
	emptyRoleID      int64 = 3
	tenantA          int64 = 10
	tenantB          int64 = 20
)

func ptr(v int64) *int64 { return &v }

func newEngine(codes ...string) (*policy.Engine, *observability.Metrics) {
	grants := grantMap{
		clientRoleID: {RoleID: clientRoleID, Version: 1, Codes: codes},
		emptyRoleID:  {RoleID: emptyRoleID, Version: 1},
	}
	metrics := observability.NewMetrics()
	return policy.NewEngine(policy.DefaultRegistry(), grants, metrics, nil), metrics
}

func superadmin() rbac.Actor {
	return rbac.Actor{ID: 1, RoleID: ptr(superadminRoleID), RoleName: "Superadmin"}
}

func client(id, company int64) rbac.Actor {
	return rbac.Actor{ID: id, RoleID: ptr(clientRoleID), RoleName: "Client", RoleVersion: 1, CompanyID: ptr(company), CompanyActive: true}
}

func TestSuperadminBypassesEveryCheck(t *testing.T) {
	engine, _ := newEngine()
	ctx := context.Background()
	for _, resource := range append(policy.DefaultRegistry().Resources(), "reports") {
		for _, action := range []string{"index", "show", "create", "update", "destroy", "confirm_delete", "restore"} {
			assert.NoError(t, engine.Authorize(ctx, superadmin(), resource, action, companyRecord{companyID: tenantB}), resource+"."+action)
		}
	}
	q := query.From("projects", "p")
	scoped, err := engine.Scope(ctx, superadmin(), rbac.ResourceProjects, q)
	require.NoError(t, err)
	assert.Equal(t, q, scoped)
}

func TestClientDashboardScenario(t *testing.T) {
	ctx := context.Background()
	x := client(5, tenantA)

	indexOnly, _ := newEngine("bi_dashboards.index")
	assert.ErrorIs(t, indexOnly.Authorize(ctx, x, rbac.ResourceBIDashboards, "show", companyRecord{tenantB}), shared.ErrNotAuthorized)
	assert.ErrorIs(t, indexOnly.Authorize(ctx, x, rbac.ResourceBIDashboards, "show", companyRecord{tenantA}), shared.ErrNotAuthorized)

	withShow, _ := newEngine("bi_dashboards.index", "bi_dashboards.show")
	assert.ErrorIs(t, withShow.Authorize(ctx, x, rbac.ResourceBIDashboards, "show", companyRecord{tenantB}), shared.ErrNotAuthorized)
	assert.NoError(t, withShow.Authorize(ctx, x, rbac.ResourceBIDashboards, "show", companyRecord{tenantA}))

	inactive := x
	inactive.CompanyActive = false
	assert.ErrorIs(t, withShow.Authorize(ctx, inactive, rbac.ResourceBIDashboards, "show", companyRecord{tenantA}), shared.ErrNotAuthorized)
}

func TestTenantIsolationInScope(t *testing.T) {
	engine, _ := newEngine("projects.index", "projects.show")
	ctx := context.Background()

	scoped, err := engine.Scope(ctx, client(5, tenantA), rbac.ResourceProjects, query.From("projects", "p").Kept())
	require.NoError(t, err)
	sql, args := scoped.SQL()
	assert.Equal(t, "SELECT p.* FROM projects p WHERE (p.discarded_at IS NULL) AND (p.company_id = $1)", sql)
	assert.Equal(t, []any{tenantA}, args)

	assert.ErrorIs(t, engine.Authorize(ctx, client(5, tenantA), rbac.ResourceProjects, "show", companyRecord{tenantB}), shared.ErrNotAuthorized)
	assert.NoError(t, engine.Authorize(ctx, client(5, tenantA), rbac.ResourceProjects, "show", companyRecord{tenantA}))
}

func TestDashboardScopeJoinsThroughProject(t *testing.T) {
	engine, _ := newEngine("bi_dashboards.index")
	scoped, err := engine.Scope(context.Background(), client(5, tenantA), rbac.ResourceBIDashboards, query.From("dashboards", "d"))
	require.NoError(t, err)
	sql, args := scoped.SQL()
	assert.Equal(t, "SELECT d.* FROM dashboards d WHERE ((SELECT dp.company_id FROM projects dp WHERE dp.id = d.project_id) = $1)", sql)
	assert.Equal(t, []any{tenantA}, args)

	inactive := client(5, tenantA)
	inactive.CompanyActive = false
	scoped, err = engine.Scope(context.Background(), inactive, rbac.ResourceBIDashboards, query.From("dashboards", "d"))
	require.NoError(t, err)
	assert.True(t, scoped.IsNone())
}

func TestScopeWithoutIndexPermissionIsEmpty(t *testing.T) {
	engine, _ := newEngine("projects.show")
	scoped, err := engine.Scope(context.Background(), client(5, tenantA), rbac.ResourceProjects, query.From("projects", "p"))
	require.NoError(t, err)
	assert.True(t, scoped.IsNone())

	noCompany := client(6, tenantA)
	noCompany.CompanyID = nil
	engine, _ = newEngine("projects.index")
	scoped, err = engine.Scope(context.Background(), noCompany, rbac.ResourceProjects, query.From("projects", "p"))
	require.NoError(t, err)
	assert.True(t, scoped.IsNone())
}

func TestActorWithoutRoleIsLockedOut(t *testing.T) {
	engine, _ := newEngine("projects.index")
	nobody := rbac.Actor{ID: 9, CompanyID: ptr(tenantA), CompanyActive: true}
	assert.ErrorIs(t, engine.Authorize(context.Background(), nobody, rbac.ResourceProjects, "show", companyRecord{tenantA}), shared.ErrNotAuthorized)
}

func TestProjectMutationsAreSuperadminOnly(t *testing.T) {
	engine, _ := newEngine("projects.create", "projects.update", "projects.destroy")
	ctx := context.Background()
	own := companyRecord{tenantA}
	for _, action := range []string{"new", "create", "edit", "update", "confirm_delete", "destroy", "restore"} {
		assert.ErrorIs(t, engine.Authorize(ctx, client(5, tenantA), rbac.ResourceProjects, action, own), shared.ErrNotAuthorized, action)
		assert.NoError(t, engine.Authorize(ctx, superadmin(), rbac.ResourceProjects, action, own), action)
	}
}

func TestConfirmDeleteUsesDestroyCheck(t *testing.T) {
	engine, _ := newEngine("user_management.users.destroy")
	ctx := context.Background()
	own := companyRecord{tenantA}
	assert.NoError(t, engine.Authorize(ctx, client(5, tenantA), rbac.ResourceUsers, "confirm_delete", own))
	assert.NoError(t, engine.Authorize(ctx, client(5, tenantA), rbac.ResourceUsers, "restore", own))
	assert.ErrorIs(t, engine.Authorize(ctx, client(5, tenantA), rbac.ResourceUsers, "confirm_delete", companyRecord{tenantB}), shared.ErrNotAuthorized)
}

func TestAuditLogsVisibleOnlyToTheirActor(t *testing.T) {
	engine, _ := newEngine("audit_logs.index", "audit_logs.show")
	ctx := context.Background()
	me := client(5, tenantA)

	assert.NoError(t, engine.Authorize(ctx, me, rbac.ResourceAuditLogs, "show", actorRecord{ptr(5)}))
	assert.ErrorIs(t, engine.Authorize(ctx, me, rbac.ResourceAuditLogs, "show", actorRecord{ptr(6)}), shared.ErrNotAuthorized)
	assert.ErrorIs(t, engine.Authorize(ctx, me, rbac.ResourceAuditLogs, "show", actorRecord{nil}), shared.ErrNotAuthorized)

	scoped, err := engine.Scope(ctx, me, rbac.ResourceAuditLogs, query.From("audit_logs", "a"))
	require.NoError(t, err)
	_, args := scoped.SQL()
	assert.Equal(t, []any{int64(5)}, args)
}

func TestRolesAreGlobal(t *testing.T) {
	engine, _ := newEngine("user_management.roles.index", "user_management.roles.show")
	scoped, err := engine.Scope(context.Background(), client(5, tenantA), rbac.ResourceRoles, query.From("roles", "r"))
	require.NoError(t, err)
	assert.False(t, scoped.IsNone())
	assert.NoError(t, engine.Authorize(context.Background(), client(5, tenantA), rbac.ResourceRoles, "show", nil))
}

func TestUnknownResourceFailsClosed(t *testing.T) {
	engine, _ := newEngine("reports.index")
	err := engine.Authorize(context.Background(), client(5, tenantA), "reports", "index", nil)
	assert.ErrorIs(t, err, shared.ErrNotAuthorized)
}

func TestFetchHidesDenialAsNotFound(t *testing.T) {
	engine, _ := newEngine("projects.show")
	ctx := context.Background()
	me := client(5, tenantA)

	_, denied := policy.Fetch(ctx, engine, me, rbac.ResourceProjects, "show", func(context.Context) (companyRecord, error) {
		return companyRecord{tenantB}, nil
	})
	_, missing := policy.Fetch(ctx, engine, me, rbac.ResourceProjects, "show", func(context.Context) (companyRecord, error) {
		return companyRecord{}, shared.ErrNotFound
	})
	assert.ErrorIs(t, denied, shared.ErrNotFound)
	assert.Equal(t, missing, denied)

	rec, err := policy.Fetch(ctx, engine, me, rbac.ResourceProjects, "show", func(context.Context) (companyRecord, error) {
		return companyRecord{tenantA}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, tenantA, rec.companyID)
}

func TestAllowedReducesToBool(t *testing.T) {
	engine, _ := newEngine("companies.show")
	ok, err := engine.Allowed(context.Background(), client(5, tenantA), rbac.ResourceCompanies, "show", companyRecord{tenantA})
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = engine.Allowed(context.Background(), client(5, tenantA), rbac.ResourceCompanies, "update", companyRecord{tenantA})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEngineUsesRequestResolver(t *testing.T) {
	engine, _ := newEngine()
	other := grantMap{clientRoleID: {RoleID: clientRoleID, Version: 1, Codes: []string{"companies.show"}}}
	ctx := rbac.ContextWithResolver(context.Background(), rbac.NewResolver(other))
	assert.NoError(t, engine.Authorize(ctx, client(5, tenantA), rbac.ResourceCompanies, "show", companyRecord{tenantA}))
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	reg := policy.NewRegistry().Register(policy.New("projects", policy.OwnershipGlobal, policy.Options{}))
	assert.Panics(t, func() {
		reg.Register(policy.New("projects", policy.OwnershipGlobal, policy.Options{}))
	})
	assert.Panics(t, func() {
		policy.New("projects", policy.OwnershipCompany, policy.Options{})
	})
}

func TestCanIgnoresRecordPredicates(t *testing.T) {
	engine, _ := newEngine("user_management.users.destroy")
	ctx := context.Background()

	ok, err := engine.Can(ctx, client(5, tenantA), rbac.ResourceUsers, "restore")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = engine.Can(ctx, client(5, tenantA), rbac.ResourceProjects, "destroy")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = engine.Can(ctx, client(5, tenantA), "reports", "index")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = engine.Can(ctx, superadmin(), "reports", "index")
	require.NoError(t, err)
	assert.True(t, ok)
}
