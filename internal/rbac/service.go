package rbac

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/odyssey-bi/backoffice/internal/shared"
)

// Store is the persistence contract of the role-permission graph.
type Store interface {
	ListRoles(ctx context.Context) ([]Role, error)
	GetRole(ctx context.Context, id int64) (Role, error)
	CreateRole(ctx context.Context, name, description string) (Role, error)
	UpdateRole(ctx context.Context, id int64, name, description string) (Role, error)
	DeleteRole(ctx context.Context, id int64) error
	RolePermissionIDs(ctx context.Context, roleID int64) ([]int64, error)
	SetRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) (Role, bool, error)
	ListPermissions(ctx context.Context) ([]Permission, error)
	GetPermission(ctx context.Context, id int64) (Permission, error)
	EnsurePermission(ctx context.Context, p Permission) (Permission, error)
	DiscardPermission(ctx context.Context, id int64) (map[int64]int64, error)
}

// Invalidator is notified after a role's grant version changed.
type Invalidator interface {
	Invalidate(ctx context.Context, roleID, version int64) error
}

// Service orchestrates the role-permission graph.
type Service struct {
	store       Store
	invalidator Invalidator
	logger      *slog.Logger
}

// NewService constructs a Service. invalidator may be nil.
func NewService(store Store, invalidator Invalidator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, invalidator: invalidator, logger: logger}
}

// ListRoles returns all roles ordered by name.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.store.ListRoles(ctx)
}

// GetRole fetches a role by ID.
func (s *Service) GetRole(ctx context.Context, id int64) (Role, error) {
	return s.store.GetRole(ctx, id)
}

// CreateRole inserts a new role.
func (s *Service) CreateRole(ctx context.Context, name, description string) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, shared.NewValidationError("name", "is required")
	}
	return s.store.CreateRole(ctx, name, strings.TrimSpace(description))
}

// UpdateRole renames a role.
func (s *Service) UpdateRole(ctx context.Context, id int64, name, description string) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, shared.NewValidationError("name", "is required")
	}
	return s.store.UpdateRole(ctx, id, name, strings.TrimSpace(description))
}

// DeleteRole removes a role. Fails with ErrHasActiveChildren while users reference it.
func (s *Service) DeleteRole(ctx context.Context, id int64) error {
	return s.store.DeleteRole(ctx, id)
}

// RolePermissionIDs lists the permission ids currently granted to a role.
func (s *Service) RolePermissionIDs(ctx context.Context, roleID int64) ([]int64, error) {
	return s.store.RolePermissionIDs(ctx, roleID)
}

// SetRolePermissions replaces the role's permission set. A changed set bumps the role
// version so every actor on the role resolves the new set on their next unit of work.
func (s *Service) SetRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) (Role, error) {
	role, changed, err := s.store.SetRolePermissions(ctx, roleID, dedupeIDs(permissionIDs))
	if err != nil {
		return Role{}, err
	}
	if changed {
		s.invalidate(ctx, role.ID, role.Version)
	}
	return role, nil
}

// ListPermissions returns the kept permission catalog.
func (s *Service) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.store.ListPermissions(ctx)
}

// EnsurePermission upserts a catalog entry by code.
func (s *Service) EnsurePermission(ctx context.Context, entry CatalogEntry) (Permission, error) {
	code := strings.TrimSpace(entry.Code)
	if err := ValidateCode(code); err != nil {
		return Permission{}, err
	}
	entry.Code = code
	name := strings.TrimSpace(entry.Name)
	if name == "" {
		name = code
	}
	return s.store.EnsurePermission(ctx, Permission{
		Code:     code,
		Name:     name,
		Resource: entry.Resource(),
		Section:  strings.TrimSpace(entry.Section),
	})
}

// DeletePermission soft-deletes a permission after detaching it from every role.
func (s *Service) DeletePermission(ctx context.Context, id int64) (Permission, error) {
	perm, err := s.store.GetPermission(ctx, id)
	if err != nil {
		return Permission{}, err
	}
	bumped, err := s.store.DiscardPermission(ctx, id)
	if err != nil {
		return Permission{}, fmt.Errorf("rbac: discard permission %s: %w", perm.Code, err)
	}
	for roleID, version := range bumped {
		s.invalidate(ctx, roleID, version)
	}
	return perm, nil
}

func (s *Service) invalidate(ctx context.Context, roleID, version int64) {
	if s.invalidator == nil {
		return
	}
	if err := s.invalidator.Invalidate(ctx, roleID, version); err != nil {
		// Versioned keys keep correctness; a failed delete only leaves an orphan entry.
		s.logger.Warn("rbac: invalidate grant cache", slog.Int64("role_id", roleID), slog.Any("error", err))
	}
}

func dedupeIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id <= 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
