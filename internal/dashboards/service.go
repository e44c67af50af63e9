package dashboards

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/odyssey-bi/backoffice/internal/audit"
	"github.com/odyssey-bi/backoffice/internal/platform/query"
	"github.com/odyssey-bi/backoffice/internal/platform/validate"
	"github.com/odyssey-bi/backoffice/internal/policy"
	"github.com/odyssey-bi/backoffice/internal/rbac"
	"github.com/odyssey-bi/backoffice/internal/shared"
	"github.com/odyssey-bi/backoffice/internal/softdelete"
)

const auditModule = "dashboards"

// Repository defines persistence for dashboards.
type Repository interface {
	Find(ctx context.Context, q query.Query) ([]Dashboard, error)
	Count(ctx context.Context, q query.Query) (int, error)
	Get(ctx context.Context, id int64) (Dashboard, error)
	Project(ctx context.Context, id int64) (ProjectRef, error)
	Create(ctx context.Context, in Input) (Dashboard, error)
	Update(ctx context.Context, id int64, in Input) (Dashboard, error)
}

// Service manages dashboards and serves the BI viewer.
type Service struct {
	repo      Repository
	authz     *policy.Engine
	lifecycle softdelete.Lifecycle
	audit     audit.Recorder
	validate  *validate.Validator
}

// NewService builds a Service.
func NewService(repo Repository, authz *policy.Engine, lifecycle softdelete.Lifecycle, recorder audit.Recorder) *Service {
	return &Service{repo: repo, authz: authz, lifecycle: lifecycle, audit: recorder, validate: validate.New()}
}

// List returns the dashboards actor may manage in display order.
func (s *Service) List(ctx context.Context, actor rbac.Actor, params ListParams) (Page, error) {
	q := BaseQuery().Kept()
	if params.Discarded {
		ok, err := s.authz.Can(ctx, actor, rbac.ResourceDashboards, rbac.ActionDestroy)
		if err != nil {
			return Page{}, err
		}
		if !ok {
			return Page{}, shared.ErrNotAuthorized
		}
		q = BaseQuery().Discarded()
	}
	if params.ProjectID != nil {
		q = q.Where("d.project_id = ?", *params.ProjectID)
	}
	q, err := s.authz.Scope(ctx, actor, rbac.ResourceDashboards, q)
	if err != nil {
		return Page{}, err
	}
	total, err := s.repo.Count(ctx, q)
	if err != nil {
		return Page{}, fmt.Errorf("dashboards: count: %w", err)
	}
	pagination := shared.NewPagination(params.Page, params.PerPage, total)
	items, err := s.repo.Find(ctx, q.OrderBy("d.position ASC", "d.created_at DESC").Page(pagination.PerPage, pagination.Offset()))
	if err != nil {
		return Page{}, fmt.Errorf("dashboards: find: %w", err)
	}
	if items == nil {
		items = []Dashboard{}
	}
	return Page{Dashboards: items, Pagination: pagination}, nil
}

// Get returns a kept dashboard for management.
func (s *Service) Get(ctx context.Context, actor rbac.Actor, id int64) (Dashboard, error) {
	return policy.Fetch(ctx, s.authz, actor, rbac.ResourceDashboards, rbac.ActionShow, s.kept(id))
}

// Create attaches a dashboard to a kept project the actor can manage.
func (s *Service) Create(ctx context.Context, actor rbac.Actor, in Input) (Dashboard, error) {
	in = normalize(in)
	if err := s.validate.Struct(in); err != nil {
		return Dashboard{}, err
	}
	if err := s.authorizeProject(ctx, actor, rbac.ActionCreate, in.ProjectID); err != nil {
		return Dashboard{}, err
	}
	created, err := s.repo.Create(ctx, in)
	if err != nil {
		return Dashboard{}, fmt.Errorf("dashboards: create: %w", err)
	}
	s.record(ctx, actor, audit.ActionCreate, created, "Created dashboard: "+created.Name, nil, created)
	return created, nil
}

// Update edits a kept dashboard; moving it requires rights on the target project too.
func (s *Service) Update(ctx context.Context, actor rbac.Actor, id int64, in Input) (Dashboard, error) {
	in = normalize(in)
	if err := s.validate.Struct(in); err != nil {
		return Dashboard{}, err
	}
	before, err := policy.Fetch(ctx, s.authz, actor, rbac.ResourceDashboards, rbac.ActionUpdate, s.kept(id))
	if err != nil {
		return Dashboard{}, err
	}
	if in.ProjectID != before.ProjectID {
		if err := s.authorizeProject(ctx, actor, rbac.ActionUpdate, in.ProjectID); err != nil {
			return Dashboard{}, err
		}
	}
	after, err := s.repo.Update(ctx, id, in)
	if err != nil {
		return Dashboard{}, fmt.Errorf("dashboards: update: %w", err)
	}
	s.record(ctx, actor, audit.ActionUpdate, after, "Updated dashboard: "+after.Name, before, after)
	return after, nil
}

// Discard soft-deletes a dashboard.
func (s *Service) Discard(ctx context.Context, actor rbac.Actor, id int64) error {
	before, err := policy.Fetch(ctx, s.authz, actor, rbac.ResourceDashboards, rbac.ActionDestroy, s.kept(id))
	if err != nil {
		return err
	}
	if err := s.lifecycle.Discard(ctx, softdelete.Dashboards, id); err != nil {
		return err
	}
	s.record(ctx, actor, audit.ActionDelete, before, "Deleted dashboard: "+before.Name, before, nil)
	return nil
}

// Restore brings a discarded dashboard back.
func (s *Service) Restore(ctx context.Context, actor rbac.Actor, id int64) (Dashboard, error) {
	before, err := policy.Fetch(ctx, s.authz, actor, rbac.ResourceDashboards, "restore", func(ctx context.Context) (Dashboard, error) {
		return s.repo.Get(ctx, id)
	})
	if err != nil {
		return Dashboard{}, err
	}
	if err := s.lifecycle.Restore(ctx, softdelete.Dashboards, id); err != nil {
		return Dashboard{}, err
	}
	after, err := s.repo.Get(ctx, id)
	if err != nil {
		return Dashboard{}, err
	}
	s.record(ctx, actor, audit.ActionRestore, after, "Restored dashboard: "+after.Name, before, after)
	return after, nil
}

// Viewer groups the dashboards actor may open by project and selects one.
// Without a projectID the first project is selected; without a dashboardID its first dashboard.
func (s *Service) Viewer(ctx context.Context, actor rbac.Actor, projectID, dashboardID *int64) (Viewer, error) {
	q, err := s.authz.Scope(ctx, actor, rbac.ResourceBIDashboards, ViewerQuery())
	if err != nil {
		return Viewer{}, err
	}
	items, err := s.repo.Find(ctx, q.OrderBy("p.name ASC", "p.id ASC", "d.position ASC", "d.created_at DESC"))
	if err != nil {
		return Viewer{}, fmt.Errorf("dashboards: viewer: %w", err)
	}
	view := Viewer{Projects: group(items)}
	if len(view.Projects) == 0 {
		if projectID != nil || dashboardID != nil {
			return Viewer{}, shared.ErrNotFound
		}
		return view, nil
	}
	selected := &view.Projects[0]
	if projectID != nil {
		selected = nil
		for i := range view.Projects {
			if view.Projects[i].ID == *projectID {
				selected = &view.Projects[i]
				break
			}
		}
		if selected == nil {
			return Viewer{}, shared.ErrNotFound
		}
	}
	view.SelectedProject = selected
	if dashboardID == nil {
		view.SelectedDashboard = &selected.Dashboards[0]
		return view, nil
	}
	for i := range selected.Dashboards {
		if selected.Dashboards[i].ID == *dashboardID {
			view.SelectedDashboard = &selected.Dashboards[i]
			return view, nil
		}
	}
	return Viewer{}, shared.ErrNotFound
}

// Open returns one dashboard for the BI viewer.
func (s *Service) Open(ctx context.Context, actor rbac.Actor, id int64) (Dashboard, error) {
	return policy.Fetch(ctx, s.authz, actor, rbac.ResourceBIDashboards, rbac.ActionShow, func(ctx context.Context) (Dashboard, error) {
		items, err := s.repo.Find(ctx, ViewerQuery().Where("d.id = ?", id))
		if err != nil {
			return Dashboard{}, err
		}
		if len(items) == 0 {
			return Dashboard{}, shared.ErrNotFound
		}
		return items[0], nil
	})
}

func (s *Service) authorizeProject(ctx context.Context, actor rbac.Actor, action string, projectID int64) error {
	project, err := s.repo.Project(ctx, projectID)
	if errors.Is(err, shared.ErrNotFound) || (err == nil && !project.Kept) {
		return shared.NewValidationError("project_id", "does not exist")
	}
	if err != nil {
		return fmt.Errorf("dashboards: load project: %w", err)
	}
	return s.authz.Authorize(ctx, actor, rbac.ResourceDashboards, action, Dashboard{ProjectID: project.ID, CompanyID: project.CompanyID})
}

func (s *Service) kept(id int64) func(context.Context) (Dashboard, error) {
	return func(ctx context.Context) (Dashboard, error) {
		d, err := s.repo.Get(ctx, id)
		if err != nil {
			return Dashboard{}, err
		}
		if !d.Kept() {
			return Dashboard{}, shared.ErrNotFound
		}
		return d, nil
	}
}

func (s *Service) record(ctx context.Context, actor rbac.Actor, action string, d Dashboard, summary string, before, after any) {
	s.audit.RecordBestEffort(ctx, audit.Event{
		Action:     action,
		Module:     auditModule,
		Actor:      &actor,
		TargetType: "Dashboard",
		TargetID:   audit.TargetRef(d.ID),
		Summary:    summary,
		Before:     before,
		After:      after,
	})
}

func group(items []Dashboard) []ProjectGroup {
	var out []ProjectGroup
	index := make(map[int64]int)
	for _, d := range items {
		i, ok := index[d.ProjectID]
		if !ok {
			i = len(out)
			index[d.ProjectID] = i
			out = append(out, ProjectGroup{ID: d.ProjectID, Name: d.ProjectName})
		}
		out[i].Dashboards = append(out[i].Dashboards, d)
	}
	if out == nil {
		out = []ProjectGroup{}
	}
	return out
}

func normalize(in Input) Input {
	in.Name = strings.TrimSpace(in.Name)
	in.EmbedURL = strings.TrimSpace(in.EmbedURL)
	in.EmbedType = strings.ToLower(strings.TrimSpace(in.EmbedType))
	if in.EmbedType == "" {
		in.EmbedType = EmbedIframe
	}
	in.Status = strings.ToLower(strings.TrimSpace(in.Status))
	if in.Status == "" {
		in.Status = StatusActive
	}
	return in
}
