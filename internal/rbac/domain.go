package rbac

import (
	"strings"
	"time"
)

// SuperadminRoleName identifies the bypass role. Comparison is case-insensitive.
const SuperadminRoleName = "Superadmin"

// Role represents a named permission grouping. Version increases on every change to the
// role's permission set and is part of every permission cache key.
type Role struct {
	ID          int64
	Name        string
	Description string
	Version     int64
	UsersCount  int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// IsSuperadmin reports whether the role is the bypass sentinel.
func (r Role) IsSuperadmin() bool {
	return isSuperadminName(r.Name)
}

// Permission represents an atomic capability identified by a dotted code.
type Permission struct {
	ID          int64
	Code        string
	Name        string
	Resource    string
	Section     string
	DiscardedAt *time.Time
	CreatedAt   time.Time
}

// RoleGrant is a role's permission codes as of Version.
type RoleGrant struct {
	RoleID  int64    `json:"role_id"`
	Version int64    `json:"version"`
	Codes   []string `json:"codes"`
}

// Actor is the authenticated principal evaluated by policies and recorded by the ledger.
type Actor struct {
	ID            int64
	Name          string
	Email         string
	RoleID        *int64
	RoleName      string
	RoleVersion   int64
	CompanyID     *int64
	CompanyActive bool
}

// IsSuperadmin reports whether the actor holds the bypass role.
func (a Actor) IsSuperadmin() bool {
	return a.RoleID != nil && isSuperadminName(a.RoleName)
}

// HasRole reports whether the actor has any role at all.
func (a Actor) HasRole() bool {
	return a.RoleID != nil
}

// DisplayName is the name captured into audit entries: name, falling back to email.
func (a Actor) DisplayName() string {
	if name := strings.TrimSpace(a.Name); name != "" {
		return name
	}
	return a.Email
}

// InCompany reports whether the actor belongs to company id.
func (a Actor) InCompany(id int64) bool {
	return a.CompanyID != nil && *a.CompanyID == id
}

func isSuperadminName(name string) bool {
	return strings.EqualFold(strings.TrimSpace(name), SuperadminRoleName)
}
