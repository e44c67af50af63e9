package roles

import (
	"context"
	"fmt"
	"strings"

	"github.com/odyssey-bi/backoffice/internal/audit"
	"github.com/odyssey-bi/backoffice/internal/platform/validate"
	"github.com/odyssey-bi/backoffice/internal/policy"
	"github.com/odyssey-bi/backoffice/internal/rbac"
	"github.com/odyssey-bi/backoffice/internal/shared"
)

const auditModule = "user_management"

// Graph is the role-permission graph, implemented by rbac.Service.
type Graph interface {
	ListRoles(ctx context.Context) ([]rbac.Role, error)
	GetRole(ctx context.Context, id int64) (rbac.Role, error)
	CreateRole(ctx context.Context, name, description string) (rbac.Role, error)
	UpdateRole(ctx context.Context, id int64, name, description string) (rbac.Role, error)
	DeleteRole(ctx context.Context, id int64) error
	RolePermissionIDs(ctx context.Context, roleID int64) ([]int64, error)
	SetRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) (rbac.Role, error)
	ListPermissions(ctx context.Context) ([]rbac.Permission, error)
	EnsurePermission(ctx context.Context, entry rbac.CatalogEntry) (rbac.Permission, error)
	DeletePermission(ctx context.Context, id int64) (rbac.Permission, error)
}

var _ Graph = (*rbac.Service)(nil)

// Service applies authorization and audit to role management.
type Service struct {
	graph    Graph
	authz    *policy.Engine
	audit    audit.Recorder
	validate *validate.Validator
}

// NewService builds a Service.
func NewService(graph Graph, authz *policy.Engine, recorder audit.Recorder) *Service {
	return &Service{graph: graph, authz: authz, audit: recorder, validate: validate.New()}
}

// List returns every role ordered by name.
func (s *Service) List(ctx context.Context, actor rbac.Actor) ([]Role, error) {
	if err := s.authz.Authorize(ctx, actor, rbac.ResourceRoles, rbac.ActionIndex, nil); err != nil {
		return nil, err
	}
	roles, err := s.graph.ListRoles(ctx)
	if err != nil {
		return nil, fmt.Errorf("roles: list: %w", err)
	}
	out := make([]Role, 0, len(roles))
	for _, r := range roles {
		out = append(out, fromRBAC(r, nil))
	}
	return out, nil
}

// Get returns a role with its permission ids.
func (s *Service) Get(ctx context.Context, actor rbac.Actor, id int64) (Role, error) {
	return policy.Fetch(ctx, s.authz, actor, rbac.ResourceRoles, rbac.ActionShow, s.load(id))
}

// Create adds a role and grants the requested permissions.
func (s *Service) Create(ctx context.Context, actor rbac.Actor, in Input) (Role, error) {
	in = normalize(in)
	if err := s.validate.Struct(in); err != nil {
		return Role{}, err
	}
	if err := s.authz.Authorize(ctx, actor, rbac.ResourceRoles, rbac.ActionCreate, nil); err != nil {
		return Role{}, err
	}
	role, err := s.graph.CreateRole(ctx, in.Name, in.Description)
	if err != nil {
		return Role{}, err
	}
	if len(in.PermissionIDs) > 0 {
		if role, err = s.graph.SetRolePermissions(ctx, role.ID, in.PermissionIDs); err != nil {
			return Role{}, fmt.Errorf("roles: grant permissions: %w", err)
		}
	}
	created, err := s.load(role.ID)(ctx)
	if err != nil {
		return Role{}, err
	}
	s.record(ctx, actor, audit.ActionCreate, created.ID, "Created role: "+created.Name, nil, created)
	return created, nil
}

// Update renames a role and, when PermissionIDs is set, replaces its permission set.
// The superadmin role keeps its name so the bypass cannot be lost by a rename.
func (s *Service) Update(ctx context.Context, actor rbac.Actor, id int64, in Input) (Role, error) {
	in = normalize(in)
	if err := s.validate.Struct(in); err != nil {
		return Role{}, err
	}
	before, err := policy.Fetch(ctx, s.authz, actor, rbac.ResourceRoles, rbac.ActionUpdate, s.load(id))
	if err != nil {
		return Role{}, err
	}
	if before.Superadmin && !(rbac.Role{Name: in.Name}).IsSuperadmin() {
		return Role{}, shared.NewValidationError("name", "of the superadmin role cannot be changed")
	}
	if _, err := s.graph.UpdateRole(ctx, id, in.Name, in.Description); err != nil {
		return Role{}, err
	}
	if in.PermissionIDs != nil {
		if _, err := s.graph.SetRolePermissions(ctx, id, in.PermissionIDs); err != nil {
			return Role{}, fmt.Errorf("roles: set permissions: %w", err)
		}
	}
	after, err := s.load(id)(ctx)
	if err != nil {
		return Role{}, err
	}
	s.record(ctx, actor, audit.ActionUpdate, id, "Updated role: "+after.Name, before, after)
	return after, nil
}

// Delete removes a role nobody holds. The superadmin role cannot be deleted.
func (s *Service) Delete(ctx context.Context, actor rbac.Actor, id int64) error {
	before, err := policy.Fetch(ctx, s.authz, actor, rbac.ResourceRoles, rbac.ActionDestroy, s.load(id))
	if err != nil {
		return err
	}
	if before.Superadmin {
		return shared.NewValidationError("base", "the superadmin role cannot be deleted")
	}
	if err := s.graph.DeleteRole(ctx, id); err != nil {
		return err
	}
	s.record(ctx, actor, audit.ActionDelete, id, "Deleted role: "+before.Name, before, nil)
	return nil
}

// Catalog lists kept permissions grouped by section for the role editor.
func (s *Service) Catalog(ctx context.Context, actor rbac.Actor) ([]Section, error) {
	if err := s.authz.Authorize(ctx, actor, rbac.ResourceRoles, rbac.ActionIndex, nil); err != nil {
		return nil, err
	}
	perms, err := s.graph.ListPermissions(ctx)
	if err != nil {
		return nil, fmt.Errorf("roles: list permissions: %w", err)
	}
	var out []Section
	index := make(map[string]int)
	for _, p := range perms {
		i, ok := index[p.Section]
		if !ok {
			i = len(out)
			index[p.Section] = i
			out = append(out, Section{Name: p.Section})
		}
		out[i].Permissions = append(out[i].Permissions, permissionFromRBAC(p))
	}
	if out == nil {
		out = []Section{}
	}
	return out, nil
}

// EnsurePermission registers or renames a catalog entry. Catalog edits are superadmin-only.
func (s *Service) EnsurePermission(ctx context.Context, actor rbac.Actor, in PermissionInput) (Permission, error) {
	in.Code = strings.TrimSpace(in.Code)
	in.Name = strings.TrimSpace(in.Name)
	in.Section = strings.TrimSpace(in.Section)
	if err := s.validate.Struct(in); err != nil {
		return Permission{}, err
	}
	if !actor.IsSuperadmin() {
		return Permission{}, shared.ErrNotAuthorized
	}
	p, err := s.graph.EnsurePermission(ctx, rbac.CatalogEntry{Code: in.Code, Name: in.Name, Section: in.Section})
	if err != nil {
		return Permission{}, err
	}
	out := permissionFromRBAC(p)
	s.audit.RecordBestEffort(ctx, audit.Event{
		Action:     audit.ActionCreate,
		Module:     auditModule,
		Actor:      &actor,
		TargetType: "Permission",
		TargetID:   audit.TargetRef(out.ID),
		Summary:    "Registered permission: " + out.Code,
		After:      out,
	})
	return out, nil
}

// DeletePermission detaches a permission from every role and discards it.
func (s *Service) DeletePermission(ctx context.Context, actor rbac.Actor, id int64) error {
	if !actor.IsSuperadmin() {
		return shared.ErrNotAuthorized
	}
	p, err := s.graph.DeletePermission(ctx, id)
	if err != nil {
		return err
	}
	s.audit.RecordBestEffort(ctx, audit.Event{
		Action:     audit.ActionDelete,
		Module:     auditModule,
		Actor:      &actor,
		TargetType: "Permission",
		TargetID:   audit.TargetRef(p.ID),
		Summary:    "Deleted permission: " + p.Code,
		Before:     permissionFromRBAC(p),
	})
	return nil
}

func (s *Service) load(id int64) func(context.Context) (Role, error) {
	return func(ctx context.Context) (Role, error) {
		r, err := s.graph.GetRole(ctx, id)
		if err != nil {
			return Role{}, err
		}
		ids, err := s.graph.RolePermissionIDs(ctx, id)
		if err != nil {
			return Role{}, fmt.Errorf("roles: permission ids: %w", err)
		}
		return fromRBAC(r, ids), nil
	}
}

func (s *Service) record(ctx context.Context, actor rbac.Actor, action string, id int64, summary string, before, after any) {
	s.audit.RecordBestEffort(ctx, audit.Event{
		Action:     action,
		Module:     auditModule,
		Actor:      &actor,
		TargetType: "Role",
		TargetID:   audit.TargetRef(id),
		Summary:    summary,
		Before:     before,
		After:      after,
	})
}

func normalize(in Input) Input {
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
	return in
}
