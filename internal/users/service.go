package users

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/odyssey-bi/backoffice/internal/audit"
	"github.com/odyssey-bi/backoffice/internal/platform/query"
	"github.com/odyssey-bi/backoffice/internal/platform/validate"
	"github.com/odyssey-bi/backoffice/internal/policy"
	"github.com/odyssey-bi/backoffice/internal/rbac"
	"github.com/odyssey-bi/backoffice/internal/shared"
	"github.com/odyssey-bi/backoffice/internal/softdelete"
)

const auditModule = "user_management"

// Repository defines persistence for users.
type Repository interface {
	Find(ctx context.Context, q query.Query) ([]User, error)
	Count(ctx context.Context, q query.Query) (int, error)
	Get(ctx context.Context, id int64) (User, error)
	Role(ctx context.Context, id int64) (RoleRef, error)
	Create(ctx context.Context, rec Record) (User, error)
	// Update applies rec atomically. move also drops project assignments and moves the
	// company link with its counter unit.
	Update(ctx context.Context, id int64, rec Record, move bool) (User, error)
}

// Service handles user management.
type Service struct {
	repo      Repository
	authz     *policy.Engine
	lifecycle softdelete.Lifecycle
	audit     audit.Recorder
	validate  *validate.Validator
	cost      int
}

// NewService builds a Service.
func NewService(repo Repository, authz *policy.Engine, lifecycle softdelete.Lifecycle, recorder audit.Recorder) *Service {
	return &Service{repo: repo, authz: authz, lifecycle: lifecycle, audit: recorder, validate: validate.New(), cost: bcrypt.DefaultCost}
}

// List returns the users actor may see, newest first.
func (s *Service) List(ctx context.Context, actor rbac.Actor, params ListParams) (Page, error) {
	q := BaseQuery().Kept()
	if params.Discarded {
		ok, err := s.authz.Can(ctx, actor, rbac.ResourceUsers, rbac.ActionDestroy)
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
		q = q.Where("u.name ILIKE ? OR u.email ILIKE ?", like, like)
	}
	if params.RoleID != nil {
		q = q.Where("u.role_id = ?", *params.RoleID)
	}
	if params.CompanyID != nil {
		q = q.Where("u.company_id = ?", *params.CompanyID)
	}
	q, err := s.authz.Scope(ctx, actor, rbac.ResourceUsers, q)
	if err != nil {
		return Page{}, err
	}
	total, err := s.repo.Count(ctx, q)
	if err != nil {
		return Page{}, fmt.Errorf("users: count: %w", err)
	}
	pagination := shared.NewPagination(params.Page, params.PerPage, total)
	items, err := s.repo.Find(ctx, q.OrderBy("u.created_at DESC", "u.id DESC").Page(pagination.PerPage, pagination.Offset()))
	if err != nil {
		return Page{}, fmt.Errorf("users: find: %w", err)
	}
	if items == nil {
		items = []User{}
	}
	return Page{Users: items, Pagination: pagination}, nil
}

// Get returns a kept user.
func (s *Service) Get(ctx context.Context, actor rbac.Actor, id int64) (User, error) {
	return policy.Fetch(ctx, s.authz, actor, rbac.ResourceUsers, rbac.ActionShow, s.kept(id))
}

// Create adds a user with a hashed password.
func (s *Service) Create(ctx context.Context, actor rbac.Actor, in Input) (User, error) {
	in = normalize(in)
	if err := s.validate.Struct(in); err != nil {
		return User{}, err
	}
	if in.Password == "" {
		return User{}, shared.NewValidationError("password", "can't be blank")
	}
	if err := s.authz.Authorize(ctx, actor, rbac.ResourceUsers, rbac.ActionCreate, User{CompanyID: in.CompanyID}); err != nil {
		return User{}, err
	}
	if err := s.checkAssignment(ctx, actor, in); err != nil {
		return User{}, err
	}
	rec, err := s.record(in, true)
	if err != nil {
		return User{}, err
	}
	created, err := s.repo.Create(ctx, rec)
	if err != nil {
		return User{}, fmt.Errorf("users: create: %w", err)
	}
	s.log(ctx, actor, audit.ActionCreate, created, "Created user: "+created.Email, nil, created)
	return created, nil
}

// Update edits a kept user. Moving the user to another company drops their project
// assignments and moves their counter unit.
func (s *Service) Update(ctx context.Context, actor rbac.Actor, id int64, in Input) (User, error) {
	in = normalize(in)
	if err := s.validate.Struct(in); err != nil {
		return User{}, err
	}
	before, err := policy.Fetch(ctx, s.authz, actor, rbac.ResourceUsers, rbac.ActionUpdate, s.kept(id))
	if err != nil {
		return User{}, err
	}
	moving := !sameID(before.CompanyID, in.CompanyID)
	if moving {
		if err := s.authz.Authorize(ctx, actor, rbac.ResourceUsers, rbac.ActionUpdate, User{CompanyID: in.CompanyID}); err != nil {
			return User{}, err
		}
	}
	if err := s.checkAssignment(ctx, actor, in); err != nil {
		return User{}, err
	}
	if in.IsActive == nil {
		active := before.IsActive
		in.IsActive = &active
	}
	rec, err := s.record(in, false)
	if err != nil {
		return User{}, err
	}
	after, err := s.repo.Update(ctx, id, rec, moving)
	if err != nil {
		return User{}, fmt.Errorf("users: update: %w", err)
	}
	s.log(ctx, actor, audit.ActionUpdate, after, "Updated user: "+after.Email, before, after)
	return after, nil
}

// Discard soft-deletes a user. Actors cannot discard themselves.
func (s *Service) Discard(ctx context.Context, actor rbac.Actor, id int64) error {
	before, err := policy.Fetch(ctx, s.authz, actor, rbac.ResourceUsers, rbac.ActionDestroy, s.kept(id))
	if err != nil {
		return err
	}
	if before.ID == actor.ID {
		return shared.NewValidationError("base", "you cannot delete your own account")
	}
	if err := s.lifecycle.Discard(ctx, softdelete.Users, id); err != nil {
		return err
	}
	s.log(ctx, actor, audit.ActionDelete, before, "Deleted user: "+before.Email, before, nil)
	return nil
}

// Restore brings a discarded user back.
func (s *Service) Restore(ctx context.Context, actor rbac.Actor, id int64) (User, error) {
	before, err := policy.Fetch(ctx, s.authz, actor, rbac.ResourceUsers, "restore", func(ctx context.Context) (User, error) {
		return s.repo.Get(ctx, id)
	})
	if err != nil {
		return User{}, err
	}
	if err := s.lifecycle.Restore(ctx, softdelete.Users, id); err != nil {
		return User{}, err
	}
	after, err := s.repo.Get(ctx, id)
	if err != nil {
		return User{}, err
	}
	s.log(ctx, actor, audit.ActionRestore, after, "Restored user: "+after.Email, before, after)
	return after, nil
}

// checkAssignment enforces the role rules: the role must exist, only a superadmin may
// hand out the superadmin role, and every other role needs a company.
func (s *Service) checkAssignment(ctx context.Context, actor rbac.Actor, in Input) error {
	if in.RoleID == nil {
		return nil
	}
	role, err := s.repo.Role(ctx, *in.RoleID)
	if errors.Is(err, shared.ErrNotFound) {
		return shared.NewValidationError("role_id", "does not exist")
	}
	if err != nil {
		return fmt.Errorf("users: load role: %w", err)
	}
	superadminRole := rbac.Role{Name: role.Name}.IsSuperadmin()
	if superadminRole && !actor.IsSuperadmin() {
		return shared.ErrNotAuthorized
	}
	if !superadminRole && in.CompanyID == nil {
		return shared.NewValidationError("company_id", "must be selected for this role")
	}
	return nil
}

func (s *Service) record(in Input, create bool) (Record, error) {
	rec := Record{Name: in.Name, Email: in.Email, RoleID: in.RoleID, CompanyID: in.CompanyID, IsActive: true}
	if in.IsActive != nil {
		rec.IsActive = *in.IsActive
	}
	if in.Password == "" && !create {
		return rec, nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost)
	if err != nil {
		return Record{}, fmt.Errorf("users: hash password: %w", err)
	}
	rec.PasswordHash = string(hash)
	return rec, nil
}

func (s *Service) kept(id int64) func(context.Context) (User, error) {
	return func(ctx context.Context) (User, error) {
		u, err := s.repo.Get(ctx, id)
		if err != nil {
			return User{}, err
		}
		if !u.Kept() {
			return User{}, shared.ErrNotFound
		}
		return u, nil
	}
}

func (s *Service) log(ctx context.Context, actor rbac.Actor, action string, u User, summary string, before, after any) {
	s.audit.RecordBestEffort(ctx, audit.Event{
		Action:     action,
		Module:     auditModule,
		Actor:      &actor,
		TargetType: "User",
		TargetID:   audit.TargetRef(u.ID),
		Summary:    summary,
		Before:     before,
		After:      after,
	})
}

func normalize(in Input) Input {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	return in
}

func sameID(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
