package roles

import (
	"time"

	"github.com/odyssey-bi/backoffice/internal/rbac"
)

// Role is the management view of a role with its granted permission ids.
type Role struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	Version       int64     `json:"permissions_version"`
	UsersCount    int       `json:"users_count"`
	Superadmin    bool      `json:"superadmin"`
	PermissionIDs []int64   `json:"permission_ids"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Permission is the management view of a catalog entry.
type Permission struct {
	ID       int64  `json:"id"`
	Code     string `json:"code"`
	Name     string `json:"name"`
	Resource string `json:"resource"`
	Section  string `json:"section"`
}

// Section groups catalog permissions for the role editor.
type Section struct {
	Name        string       `json:"name"`
	Permissions []Permission `json:"permissions"`
}

// Input carries role create and update fields. A nil PermissionIDs on update keeps the
// current set; an empty list clears it.
type Input struct {
	Name          string  `json:"name" validate:"required,max=100"`
	Description   string  `json:"description" validate:"max=500"`
	PermissionIDs []int64 `json:"permission_ids" validate:"omitempty,dive,gt=0"`
}

// PermissionInput registers a catalog entry.
type PermissionInput struct {
	Code    string `json:"code" validate:"required,max=150,permcode"`
	Name    string `json:"name" validate:"max=255"`
	Section string `json:"section" validate:"max=100"`
}

func fromRBAC(r rbac.Role, permissionIDs []int64) Role {
	if permissionIDs == nil {
		permissionIDs = []int64{}
	}
	return Role{
		ID:            r.ID,
		Name:          r.Name,
		Description:   r.Description,
		Version:       r.Version,
		UsersCount:    r.UsersCount,
		Superadmin:    r.IsSuperadmin(),
		PermissionIDs: permissionIDs,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

func permissionFromRBAC(p rbac.Permission) Permission {
	return Permission{ID: p.ID, Code: p.Code, Name: p.Name, Resource: p.Resource, Section: p.Section}
}
