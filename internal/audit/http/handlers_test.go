package audithttp

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-bi/backoffice/internal/audit"
	"github.com/odyssey-bi/backoffice/internal/rbac"
	"github.com/odyssey-bi/backoffice/internal/shared"
)

type stubService struct {
	page        audit.Page
	entries     map[int64]audit.Entry
	lastFilters audit.Filters
	exportErr   error
}

func (s *stubService) Find(ctx context.Context, actor rbac.Actor, filters audit.Filters) (audit.Page, error) {
	s.lastFilters = filters
	return s.page, nil
}

func (s *stubService) Show(ctx context.Context, actor rbac.Actor, id int64) (audit.Entry, error) {
	e, ok := s.entries[id]
	if !ok {
		return audit.Entry{}, shared.ErrNotFound
	}
	return e, nil
}

func (s *stubService) Export(ctx context.Context, actor rbac.Actor, filters audit.Filters, w io.Writer) (int, error) {
	s.lastFilters = filters
	if s.exportErr != nil {
		return 0, s.exportErr
	}
	return 1, audit.WriteCSV(w, []audit.Entry{{ID: 1, ActorName: "system", Module: "counters", Action: audit.ActionUpdate}})
}

func newRouter(service *stubService) http.Handler {
	handler := NewHandler(nil, service)
	handler.now = func() time.Time { return time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC) }
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			actor := rbac.Actor{ID: 7, Name: "Auditor"}
			next.ServeHTTP(w, req.WithContext(rbac.ContextWithActor(req.Context(), actor)))
		})
	})
	handler.MountRoutes(r)
	return r
}

func jsonRequest(method, target string) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	req.Header.Set("Accept", "application/json")
	return req
}

func TestIndexParsesFilters(t *testing.T) {
	service := &stubService{page: audit.Page{Entries: []audit.Entry{{ID: 3}}, Pagination: shared.NewPagination(1, 20, 1)}}
	rec := httptest.NewRecorder()
	newRouter(service).ServeHTTP(rec, jsonRequest(http.MethodGet, "/audit-logs?action=UPDATE&module=projects&actor_id=4&from=2025-03-01&to=2025-03-10&page=2&per_page=10"))

	require.Equal(t, http.StatusOK, rec.Code)
	f := service.lastFilters
	assert.Equal(t, "update", f.Action)
	assert.Equal(t, "projects", f.Module)
	require.NotNil(t, f.ActorID)
	assert.Equal(t, int64(4), *f.ActorID)
	assert.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), f.From)
	assert.Equal(t, time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC), f.To)
	assert.Equal(t, 2, f.Page)
	assert.Equal(t, 10, f.PageSize)

	var body audit.Page
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Entries, 1)
}

func TestIndexRejectsBadFilters(t *testing.T) {
	cases := map[string]string{
		"action":   "/audit-logs?action=purge",
		"actor_id": "/audit-logs?actor_id=abc",
		"from":     "/audit-logs?from=03-01-2025",
		"range":    "/audit-logs?from=2025-03-10&to=2025-03-01",
	}
	for field, target := range cases {
		rec := httptest.NewRecorder()
		newRouter(&stubService{}).ServeHTTP(rec, jsonRequest(http.MethodGet, target))
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, target)
		assert.Contains(t, rec.Body.String(), field, target)
	}
}

func TestShowMissingAndForeignLookTheSame(t *testing.T) {
	service := &stubService{entries: map[int64]audit.Entry{1: {ID: 1, Module: "projects", Action: audit.ActionCreate}}}
	router := newRouter(service)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, jsonRequest(http.MethodGet, "/audit-logs/1"))
	assert.Equal(t, http.StatusOK, rec.Code)

	missing := httptest.NewRecorder()
	router.ServeHTTP(missing, jsonRequest(http.MethodGet, "/audit-logs/2"))
	assert.Equal(t, http.StatusNotFound, missing.Code)
	assert.Contains(t, missing.Body.String(), shared.DeniedMessage)

	bogus := httptest.NewRecorder()
	router.ServeHTTP(bogus, jsonRequest(http.MethodGet, "/audit-logs/x"))
	assert.Equal(t, missing.Code, bogus.Code)
	assert.Equal(t, missing.Body.String(), bogus.Body.String())
}

func TestExportStreamsCSV(t *testing.T) {
	service := &stubService{}
	rec := httptest.NewRecorder()
	newRouter(service).ServeHTTP(rec, jsonRequest(http.MethodGet, "/audit-logs/export.csv?module=counters"))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "filename=\"audit-logs-20250315-")
	assert.Equal(t, "1", rec.Header().Get("X-Total-Count"))
	assert.Contains(t, rec.Body.String(), "counters")
	assert.Equal(t, "counters", service.lastFilters.Module)
}

func TestExportDeniedLooksLikeNotFound(t *testing.T) {
	service := &stubService{exportErr: shared.ErrNotAuthorized}
	rec := httptest.NewRecorder()
	newRouter(service).ServeHTTP(rec, jsonRequest(http.MethodGet, "/audit-logs/export.csv"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExportIsRateLimitedPerUser(t *testing.T) {
	router := newRouter(&stubService{})
	var last int
	for i := 0; i < exportLimit+1; i++ {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, jsonRequest(http.MethodGet, "/audit-logs/export.csv"))
		last = rec.Code
	}
	assert.Equal(t, http.StatusTooManyRequests, last)
}
