package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-bi/backoffice/internal/observability"
	"github.com/odyssey-bi/backoffice/internal/rbac"
	"github.com/odyssey-bi/backoffice/internal/shared"
	"github.com/odyssey-bi/backoffice/jobs"
	_ "github.com/odyssey-bi/backoffice/testing"
)

type actorTable map[int64]rbac.Actor

func (a actorTable) LoadActor(ctx context.Context, userID int64) (rbac.Actor, error) {
	actor, ok := a[userID]
	if !ok {
		return rbac.Actor{}, shared.ErrNotFound
	}
	return actor, nil
}

type grantTable map[int64]rbac.RoleGrant

func (g grantTable) RoleGrant(ctx context.Context, roleID, version int64) (rbac.RoleGrant, error) {
	return g[roleID], nil
}

type routerFixture struct {
	handler  http.Handler
	redis    *miniredis.Miniredis
	sessions *shared.SessionManager
}

func newRouterFixture(t *testing.T) routerFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	sessions := shared.NewSessionManager(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "bo_session", "secret", time.Hour, false)
	viewerRole, managerRole := int64(2), int64(3)
	company := int64(10)
	actors := actorTable{
		7: {ID: 7, Name: "Viewer", Email: "viewer@acme.test", RoleID: &viewerRole, RoleName: "Client", RoleVersion: 1, CompanyID: &company, CompanyActive: true},
		8: {ID: 8, Name: "Manager", Email: "manager@acme.test", RoleID: &managerRole, RoleName: "Manager", RoleVersion: 1, CompanyID: &company, CompanyActive: true},
	}
	grants := grantTable{
		2: {RoleID: 2, Version: 1, Codes: []string{"bi_dashboards.index"}},
		3: {RoleID: 3, Version: 1, Codes: []string{"dashboard.index", "projects.index"}},
	}
	handler := NewRouter(RouterParams{
		Config:         &Config{AppEnv: "test", RateLimitPerMinute: 1000},
		SessionManager: sessions,
		CSRFManager:    shared.NewCSRFManager("csrfsecret"),
		RBACMiddleware: rbac.Middleware{Loader: actors, Grants: grants},
		Metrics:        observability.NewMetrics(),
		JobsHandler:    jobs.NewHandler(nil, nil),
	})
	return routerFixture{handler: handler, redis: mr, sessions: sessions}
}

func (f routerFixture) signIn(t *testing.T, userID string) *http.Cookie {
	t.Helper()
	id := "session-" + userID
	require.NoError(t, f.redis.Set("backoffice:session:"+id, `{"values":{},"user_id":"`+userID+`","flashes":[]}`))
	return &http.Cookie{Name: "bo_session", Value: f.sessions.CookieValue(id)}
}

func TestHealthz(t *testing.T) {
	f := newRouterFixture(t)
	res := httptest.NewRecorder()
	f.handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, res.Code)
	assert.JSONEq(t, `{"status":"ok"}`, res.Body.String())
	assert.Equal(t, "nosniff", res.Header().Get("X-Content-Type-Options"))
}

func TestJobsHealthIsPublic(t *testing.T) {
	f := newRouterFixture(t)
	res := httptest.NewRecorder()
	f.handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))

	require.Equal(t, http.StatusOK, res.Code)
	assert.JSONEq(t, `{"queue":"default","pending":0,"failed":0}`, res.Body.String())
}

func TestHomeRequiresSignIn(t *testing.T) {
	f := newRouterFixture(t)

	res := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept", "application/json")
	f.handler.ServeHTTP(res, req)
	assert.Equal(t, http.StatusUnauthorized, res.Code)

	res = httptest.NewRecorder()
	f.handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusSeeOther, res.Code)
	assert.Equal(t, "/login", res.Header().Get("Location"))
}

func TestHomeRequiresDashboardPermission(t *testing.T) {
	f := newRouterFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept", "application/json")
	req.AddCookie(f.signIn(t, "7"))
	res := httptest.NewRecorder()
	f.handler.ServeHTTP(res, req)
	assert.Equal(t, http.StatusNotFound, res.Code)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept", "application/json")
	req.AddCookie(f.signIn(t, "8"))
	res = httptest.NewRecorder()
	f.handler.ServeHTTP(res, req)
	require.Equal(t, http.StatusOK, res.Code)

	var body homeView
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &body))
	assert.Equal(t, int64(8), body.UserID)
	assert.Equal(t, "Manager", body.Role)
	assert.False(t, body.Superadmin)
}

func TestUnsafeRequestsNeedCSRFToken(t *testing.T) {
	f := newRouterFixture(t)
	req := httptest.NewRequest(http.MethodPost, "/logout", strings.NewReader(""))
	req.AddCookie(f.signIn(t, "8"))
	res := httptest.NewRecorder()
	f.handler.ServeHTTP(res, req)

	assert.Equal(t, http.StatusForbidden, res.Code)
}

func TestClientIPStripsPort(t *testing.T) {
	assert.Equal(t, "10.0.0.1", clientIP("10.0.0.1:5123"))
	assert.Equal(t, "10.0.0.1", clientIP("10.0.0.1"))
}
