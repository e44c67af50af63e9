package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	audithttp "github.com/odyssey-bi/backoffice/internal/audit/http"
	"github.com/odyssey-bi/backoffice/internal/auth"
	"github.com/odyssey-bi/backoffice/internal/companies"
	"github.com/odyssey-bi/backoffice/internal/dashboards"
	"github.com/odyssey-bi/backoffice/internal/observability"
	"github.com/odyssey-bi/backoffice/internal/platform/httpx"
	"github.com/odyssey-bi/backoffice/internal/projects"
	"github.com/odyssey-bi/backoffice/internal/rbac"
	"github.com/odyssey-bi/backoffice/internal/roles"
	"github.com/odyssey-bi/backoffice/internal/shared"
	"github.com/odyssey-bi/backoffice/internal/users"
	"github.com/odyssey-bi/backoffice/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger            *slog.Logger
	Config            *Config
	SessionManager    *shared.SessionManager
	CSRFManager       *shared.CSRFManager
	AuthHandler       *auth.Handler
	ProjectsHandler   *projects.Handler
	CompaniesHandler  *companies.Handler
	DashboardsHandler *dashboards.Handler
	UsersHandler      *users.Handler
	RolesHandler      *roles.Handler
	AuditHandler      *audithttp.Handler
	JobsHandler       *jobs.Handler
	RBACMiddleware    rbac.Middleware
	Metrics           *observability.Metrics
}

// NewRouter constructs the chi.Router with backoffice defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		CSRFManager:    params.CSRFManager,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	if params.JobsHandler != nil {
		r.Route("/jobs", params.JobsHandler.MountRoutes)
	}

	r.Group(func(r chi.Router) {
		r.Use(params.RBACMiddleware.LoadActor)
		if params.AuthHandler != nil {
			params.AuthHandler.MountRoutes(r)
		}

		r.Group(func(r chi.Router) {
			r.Use(params.RBACMiddleware.RequireActor)

			r.With(params.RBACMiddleware.RequirePermission(
				rbac.BuildCode(rbac.ResourceDashboard, rbac.ActionIndex),
			)).Get("/", home())

			if params.ProjectsHandler != nil {
				params.ProjectsHandler.MountRoutes(r)
			}
			if params.CompaniesHandler != nil {
				params.CompaniesHandler.MountRoutes(r)
			}
			if params.DashboardsHandler != nil {
				params.DashboardsHandler.MountRoutes(r)
			}
			if params.UsersHandler != nil {
				params.UsersHandler.MountRoutes(r)
			}
			if params.RolesHandler != nil {
				params.RolesHandler.MountRoutes(r)
			}
			if params.AuditHandler != nil {
				params.AuditHandler.MountRoutes(r)
			}
		})
	})

	return r
}
