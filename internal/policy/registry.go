package policy

import (
	"fmt"
	"sort"

	"github.com/odyssey-bi/backoffice/internal/rbac"
)

// Registry maps resource tags to their policy. It is filled once at startup.
type Registry struct {
	policies map[string]Policy
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{policies: make(map[string]Policy)}
}

// Register adds p. Registering the same resource twice is a wiring bug and panics.
func (r *Registry) Register(p Policy) *Registry {
	if _, dup := r.policies[p.Resource()]; dup {
		panic(fmt.Sprintf("policy: %s registered twice", p.Resource()))
	}
	r.policies[p.Resource()] = p
	return r
}

// Lookup returns the policy for resource.
func (r *Registry) Lookup(resource string) (Policy, bool) {
	p, ok := r.policies[resource]
	return p, ok
}

// Resources lists registered resource tags.
func (r *Registry) Resources() []string {
	out := make([]string, 0, len(r.policies))
	for k := range r.policies {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// DefaultRegistry wires the company-owned tenant model used by the back office.
func DefaultRegistry() *Registry {
	dashboardCompany := "(SELECT dp.company_id FROM projects dp WHERE dp.id = %s.project_id)"
	return NewRegistry().
		Register(New(rbac.ResourceDashboard, OwnershipGlobal, Options{})).
		Register(New(rbac.ResourceProjects, OwnershipCompany, Options{
			Column:         "%s.company_id",
			SuperadminOnly: []string{rbac.ActionCreate, rbac.ActionUpdate, rbac.ActionDestroy},
		})).
		Register(New(rbac.ResourceDashboards, OwnershipCompany, Options{
			Column:               dashboardCompany,
			RequireActiveCompany: true,
		})).
		Register(New(rbac.ResourceBIDashboards, OwnershipCompany, Options{
			Column:               dashboardCompany,
			RequireActiveCompany: true,
		})).
		Register(New(rbac.ResourceCompanies, OwnershipCompany, Options{Column: "%s.id"})).
		Register(New(rbac.ResourceUsers, OwnershipCompany, Options{Column: "%s.company_id"})).
		Register(New(rbac.ResourceRoles, OwnershipGlobal, Options{})).
		Register(New(rbac.ResourceAuditLogs, OwnershipActor, Options{Column: "%s.actor_id"}))
}
