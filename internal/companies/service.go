package companies

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

const auditModule = "companies"

// Repository defines persistence for companies.
type Repository interface {
	Find(ctx context.Context, q query.Query) ([]Company, error)
	Count(ctx context.Context, q query.Query) (int, error)
	Get(ctx context.Context, id int64) (Company, error)
	Create(ctx context.Context, in Input) (Company, error)
	Update(ctx context.Context, id int64, in Input) (Company, error)
}

// Service applies authorization, lifecycle and audit rules to companies.
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

// List returns companies visible to actor ordered by name.
func (s *Service) List(ctx context.Context, actor rbac.Actor, params ListParams) (Page, error) {
	q := BaseQuery().Kept()
	if params.Discarded {
		ok, err := s.authz.Can(ctx, actor, rbac.ResourceCompanies, rbac.ActionDestroy)
		if err != nil {
			return Page{}, err
		}
		if !ok {
			return Page{}, shared.ErrNotAuthorized
		}
		q = BaseQuery().Discarded()
	}
	if term := strings.TrimSpace(params.Search); term != "" {
		q = q.Where("c.name ILIKE ?", "%"+term+"%")
	}
	if params.Status != "" {
		q = q.Where("c.status = ?", params.Status)
	}
	q, err := s.authz.Scope(ctx, actor, rbac.ResourceCompanies, q)
	if err != nil {
		return Page{}, err
	}
	total, err := s.repo.Count(ctx, q)
	if err != nil {
		return Page{}, fmt.Errorf("companies: count: %w", err)
	}
	pagination := shared.NewPagination(params.Page, params.PerPage, total)
	items, err := s.repo.Find(ctx, q.OrderBy("c.name ASC", "c.id ASC").Page(pagination.PerPage, pagination.Offset()))
	if err != nil {
		return Page{}, fmt.Errorf("companies: find: %w", err)
	}
	if items == nil {
		items = []Company{}
	}
	return Page{Companies: items, Pagination: pagination}, nil
}

// Get returns a kept company.
func (s *Service) Get(ctx context.Context, actor rbac.Actor, id int64) (Company, error) {
	return policy.Fetch(ctx, s.authz, actor, rbac.ResourceCompanies, rbac.ActionShow, s.kept(id))
}

// Create registers a new tenant.
func (s *Service) Create(ctx context.Context, actor rbac.Actor, in Input) (Company, error) {
	in = normalize(in)
	if err := s.validate.Struct(in); err != nil {
		return Company{}, err
	}
	if err := s.authz.Authorize(ctx, actor, rbac.ResourceCompanies, rbac.ActionCreate, Company{}); err != nil {
		return Company{}, err
	}
	created, err := s.repo.Create(ctx, in)
	if err != nil {
		return Company{}, fmt.Errorf("companies: create: %w", err)
	}
	s.record(ctx, actor, audit.ActionCreate, created.ID, "Created company: "+created.Name, nil, created)
	return created, nil
}

// Update edits a kept company.
func (s *Service) Update(ctx context.Context, actor rbac.Actor, id int64, in Input) (Company, error) {
	in = normalize(in)
	if err := s.validate.Struct(in); err != nil {
		return Company{}, err
	}
	before, err := policy.Fetch(ctx, s.authz, actor, rbac.ResourceCompanies, rbac.ActionUpdate, s.kept(id))
	if err != nil {
		return Company{}, err
	}
	after, err := s.repo.Update(ctx, id, in)
	if err != nil {
		return Company{}, fmt.Errorf("companies: update: %w", err)
	}
	s.record(ctx, actor, audit.ActionUpdate, id, "Updated company: "+after.Name, before, after)
	return after, nil
}

// Discard soft-deletes a company that has no kept projects or users.
func (s *Service) Discard(ctx context.Context, actor rbac.Actor, id int64) error {
	before, err := policy.Fetch(ctx, s.authz, actor, rbac.ResourceCompanies, rbac.ActionDestroy, s.kept(id))
	if err != nil {
		return err
	}
	if err := s.lifecycle.Discard(ctx, softdelete.Companies, id); err != nil {
		return err
	}
	s.record(ctx, actor, audit.ActionDelete, id, "Deleted company: "+before.Name, before, nil)
	return nil
}

// Restore brings a discarded company back.
func (s *Service) Restore(ctx context.Context, actor rbac.Actor, id int64) (Company, error) {
	before, err := policy.Fetch(ctx, s.authz, actor, rbac.ResourceCompanies, "restore", func(ctx context.Context) (Company, error) {
		return s.repo.Get(ctx, id)
	})
	if err != nil {
		return Company{}, err
	}
	if err := s.lifecycle.Restore(ctx, softdelete.Companies, id); err != nil {
		return Company{}, err
	}
	after, err := s.repo.Get(ctx, id)
	if err != nil {
		return Company{}, err
	}
	s.record(ctx, actor, audit.ActionRestore, id, "Restored company: "+after.Name, before, after)
	return after, nil
}

func (s *Service) kept(id int64) func(context.Context) (Company, error) {
	return func(ctx context.Context) (Company, error) {
		c, err := s.repo.Get(ctx, id)
		if err != nil {
			return Company{}, err
		}
		if !c.Kept() {
			return Company{}, shared.ErrNotFound
		}
		return c, nil
	}
}

func (s *Service) record(ctx context.Context, actor rbac.Actor, action string, id int64, summary string, before, after any) {
	s.audit.RecordBestEffort(ctx, audit.Event{
		Action:     action,
		Module:     auditModule,
		Actor:      &actor,
		TargetType: "Company",
		TargetID:   audit.TargetRef(id),
		Summary:    summary,
		Before:     before,
		After:      after,
	})
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
