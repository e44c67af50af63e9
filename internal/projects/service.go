package projects

import (
	"context"
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

const auditModule = "projects"

// Repository defines persistence for projects.
type Repository interface {
	Find(ctx context.Context, q query.Query) ([]Project, error)
	Count(ctx context.Context, q query.Query) (int, error)
	Get(ctx context.Context, id int64) (Project, error)
	Create(ctx context.Context, in Input) (Project, error)
	// Update applies in atomically. move also moves the company link with its counter unit.
	Update(ctx context.Context, id int64, in Input, move bool) (Project, error)
}

// Service applies authorization, lifecycle and audit rules to projects.
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

// List returns the projects actor may see, newest first.
func (s *Service) List(ctx context.Context, actor rbac.Actor, params ListParams) (Page, error) {
	q := BaseQuery().Kept()
	if params.Discarded {
		ok, err := s.authz.Can(ctx, actor, rbac.ResourceProjects, rbac.ActionDestroy)
		if err != nil {
			return Page{}, err
		}
		if !ok {
			return Page{}, shared.ErrNotAuthorized
		}
		q = BaseQuery().Discarded()
	}
	if term := strings.TrimSpace(params.Search); term != "" {
		like := "%" + term + "%"
		q = q.Where("p.name ILIKE ? OR p.description ILIKE ?", like, like)
	}
	if params.Status != "" {
		q = q.Where("p.status = ?", params.Status)
	}
	if params.CompanyID != nil {
		q = q.Where("p.company_id = ?", *params.CompanyID)
	}
	q, err := s.authz.Scope(ctx, actor, rbac.ResourceProjects, q)
	if err != nil {
		return Page{}, err
	}
	total, err := s.repo.Count(ctx, q)
	if err != nil {
		return Page{}, fmt.Errorf("projects: count: %w", err)
	}
	pagination := shared.NewPagination(params.Page, params.PerPage, total)
	items, err := s.repo.Find(ctx, q.OrderBy("p.created_at DESC", "p.id DESC").Page(pagination.PerPage, pagination.Offset()))
	if err != nil {
		return Page{}, fmt.Errorf("projects: find: %w", err)
	}
	if items == nil {
		items = []Project{}
	}
	return Page{Projects: items, Pagination: pagination}, nil
}

// Get returns a kept project.
func (s *Service) Get(ctx context.Context, actor rbac.Actor, id int64) (Project, error) {
	return policy.Fetch(ctx, s.authz, actor, rbac.ResourceProjects, rbac.ActionShow, s.kept(id))
}

// Create adds a project under a company.
func (s *Service) Create(ctx context.Context, actor rbac.Actor, in Input) (Project, error) {
	in = normalize(in)
	if err := s.validate.Struct(in); err != nil {
		return Project{}, err
	}
	if err := s.authz.Authorize(ctx, actor, rbac.ResourceProjects, rbac.ActionCreate, Project{CompanyID: in.CompanyID}); err != nil {
		return Project{}, err
	}
	created, err := s.repo.Create(ctx, in)
	if err != nil {
		return Project{}, fmt.Errorf("projects: create: %w", err)
	}
	s.record(ctx, actor, audit.ActionCreate, created, "Created project: "+created.Name, nil, created)
	return created, nil
}

// Update edits a kept project. Moving it to another company moves its counter unit too.
func (s *Service) Update(ctx context.Context, actor rbac.Actor, id int64, in Input) (Project, error) {
	in = normalize(in)
	if err := s.validate.Struct(in); err != nil {
		return Project{}, err
	}
	before, err := policy.Fetch(ctx, s.authz, actor, rbac.ResourceProjects, rbac.ActionUpdate, s.kept(id))
	if err != nil {
		return Project{}, err
	}
	moving := in.CompanyID != before.CompanyID
	if moving {
		if err := s.authz.Authorize(ctx, actor, rbac.ResourceProjects, rbac.ActionUpdate, Project{CompanyID: in.CompanyID}); err != nil {
			return Project{}, err
		}
	}
	after, err := s.repo.Update(ctx, id, in, moving)
	if err != nil {
		return Project{}, fmt.Errorf("projects: update: %w", err)
	}
	s.record(ctx, actor, audit.ActionUpdate, after, "Updated project: "+after.Name, before, after)
	return after, nil
}

// Discard soft-deletes a project with no kept dashboards.
func (s *Service) Discard(ctx context.Context, actor rbac.Actor, id int64) error {
	before, err := policy.Fetch(ctx, s.authz, actor, rbac.ResourceProjects, rbac.ActionDestroy, s.kept(id))
	if err != nil {
		return err
	}
	if err := s.lifecycle.Discard(ctx, softdelete.Projects, id); err != nil {
		return err
	}
	s.record(ctx, actor, audit.ActionDelete, before, "Deleted project: "+before.Name, before, nil)
	return nil
}

// Restore brings a discarded project back.
func (s *Service) Restore(ctx context.Context, actor rbac.Actor, id int64) (Project, error) {
	before, err := policy.Fetch(ctx, s.authz, actor, rbac.ResourceProjects, "restore", func(ctx context.Context) (Project, error) {
		return s.repo.Get(ctx, id)
	})
	if err != nil {
		return Project{}, err
	}
	if err := s.lifecycle.Restore(ctx, softdelete.Projects, id); err != nil {
		return Project{}, err
	}
	after, err := s.repo.Get(ctx, id)
	if err != nil {
		return Project{}, err
	}
	s.record(ctx, actor, audit.ActionRestore, after, "Restored project: "+after.Name, before, after)
	return after, nil
}

func (s *Service) kept(id int64) func(context.Context) (Project, error) {
	return func(ctx context.Context) (Project, error) {
		p, err := s.repo.Get(ctx, id)
		if err != nil {
			return Project{}, err
		}
		if !p.Kept() {
			return Project{}, shared.ErrNotFound
		}
		return p, nil
	}
}

func (s *Service) record(ctx context.Context, actor rbac.Actor, action string, p Project, summary string, before, after any) {
	ev := audit.Event{
		Action:     action,
		Module:     auditModule,
		Actor:      &actor,
		TargetType: "Project",
		TargetID:   audit.TargetRef(p.ID),
		Summary:    summary,
		Before:     before,
		After:      after,
	}
	s.audit.RecordBestEffort(ctx, ev)
}

func normalize(in Input) Input {
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
	in.Status = strings.ToLower(strings.TrimSpace(in.Status))
	if in.Status == "" {
		in.Status = StatusActive
	}
	return in
}
