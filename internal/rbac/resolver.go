package rbac

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// GrantSource loads a role's permission codes. The returned grant carries the version the
// codes were read at, which may be newer than the requested one.
type GrantSource interface {
	RoleGrant(ctx context.Context, roleID, version int64) (RoleGrant, error)
}

// PermissionSet is an immutable set of permission codes.
type PermissionSet struct {
	codes map[string]struct{}
}

// NewPermissionSet builds a set from codes.
func NewPermissionSet(codes ...string) PermissionSet {
	set := PermissionSet{codes: make(map[string]struct{}, len(codes))}
	for _, c := range codes {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		set.codes[c] = struct{}{}
	}
	return set
}

// Has reports whether code is in the set.
func (s PermissionSet) Has(code string) bool {
	_, ok := s.codes[code]
	return ok
}

// HasPrefix reports whether any code belongs to resource, i.e. starts with resource + ".".
func (s PermissionSet) HasPrefix(resource string) bool {
	prefix := resource + "."
	for c := range s.codes {
		if strings.HasPrefix(c, prefix) {
			return true
		}
	}
	return false
}

// Len returns the number of codes.
func (s PermissionSet) Len() int {
	return len(s.codes)
}

// Codes returns the codes sorted.
func (s PermissionSet) Codes() []string {
	out := make([]string, 0, len(s.codes))
	for c := range s.codes {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

type resolverKey struct {
	actorID     int64
	roleID      int64
	roleVersion int64
}

// Resolver computes effective permission sets. One Resolver serves one unit of work
// (a request, a job run) and must not be shared across them.
type Resolver struct {
	source GrantSource

	mu      sync.Mutex
	entries map[resolverKey]PermissionSet
}

// NewResolver constructs a Resolver reading grants from source.
func NewResolver(source GrantSource) *Resolver {
	return &Resolver{source: source, entries: make(map[resolverKey]PermissionSet)}
}

// Resolve returns the actor's effective permission codes. Actors without a role get an
// empty set. Superadmin is not expanded here; callers check IsSuperadmin first.
func (r *Resolver) Resolve(ctx context.Context, actor Actor) (PermissionSet, error) {
	if actor.RoleID == nil {
		return NewPermissionSet(), nil
	}
	key := resolverKey{actorID: actor.ID, roleID: *actor.RoleID, roleVersion: actor.RoleVersion}

	r.mu.Lock()
	set, ok := r.entries[key]
	r.mu.Unlock()
	if ok {
		return set, nil
	}

	grant, err := r.source.RoleGrant(ctx, key.roleID, key.roleVersion)
	if err != nil {
		return PermissionSet{}, fmt.Errorf("rbac: resolve role %d: %w", key.roleID, err)
	}
	set = NewPermissionSet(grant.Codes...)

	r.mu.Lock()
	if existing, ok := r.entries[key]; ok {
		set = existing
	} else {
		r.entries[key] = set
	}
	r.mu.Unlock()
	return set, nil
}

// HasPermission is true for superadmin, else when code is in the actor's set.
func (r *Resolver) HasPermission(ctx context.Context, actor Actor, code string) (bool, error) {
	if actor.IsSuperadmin() {
		return true, nil
	}
	set, err := r.Resolve(ctx, actor)
	if err != nil {
		return false, err
	}
	return set.Has(code), nil
}

// HasResourcePermission is true for superadmin, else when any code starts with resource + ".".
func (r *Resolver) HasResourcePermission(ctx context.Context, actor Actor, resource string) (bool, error) {
	if actor.IsSuperadmin() {
		return true, nil
	}
	set, err := r.Resolve(ctx, actor)
	if err != nil {
		return false, err
	}
	return set.HasPrefix(resource), nil
}

type landing struct {
	code string
	path string
}

var landingOrder = []landing{
	{code: "dashboard.index", path: "/"},
	{code: "projects.index", path: "/projects"},
	{code: "bi_dashboards.index", path: "/bi-dashboards"},
	{code: "companies.index", path: "/companies"},
	{code: "user_management.users.index", path: "/users"},
	{code: "user_management.roles.index", path: "/roles"},
	{code: "audit_logs.index", path: "/audit-logs"},
}

// FirstAccessiblePath picks the first landing page the actor may open, or "" when none.
func (r *Resolver) FirstAccessiblePath(ctx context.Context, actor Actor) (string, error) {
	if actor.IsSuperadmin() {
		return landingOrder[0].path, nil
	}
	set, err := r.Resolve(ctx, actor)
	if err != nil {
		return "", err
	}
	for _, l := range landingOrder {
		if set.Has(l.code) {
			return l.path, nil
		}
	}
	return "", nil
}
