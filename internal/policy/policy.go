// Package policy decides single-record authorization and pushes tenant scoping down into
// listing queries. Every protected resource has exactly one registered policy.
package policy

import (
	"fmt"

	"github.com/odyssey-bi/backoffice/internal/platform/query"
	"github.com/odyssey-bi/backoffice/internal/rbac"
)

// Ownership selects the tenant predicate a policy applies once the permission check passed.
type Ownership int

const (
	// OwnershipGlobal: holding the permission is enough.
	OwnershipGlobal Ownership = iota
	// OwnershipCompany: the record must belong to the actor's company.
	OwnershipCompany
	// OwnershipActor: the record must have been produced by the actor.
	OwnershipActor
)

func (o Ownership) String() string {
	switch o {
	case OwnershipGlobal:
		return "global"
	case OwnershipCompany:
		return "company"
	case OwnershipActor:
		return "actor"
	default:
		return fmt.Sprintf("ownership(%d)", int(o))
	}
}

// CompanyOwned is implemented by records scoped to a company.
type CompanyOwned interface {
	CompanyRef() int64
}

// ActorOwned is implemented by records attributed to an actor. A nil ref matches nobody.
type ActorOwned interface {
	ActorRef() *int64
}

// Policy is the per-resource contract consulted by the Engine after the permission check.
type Policy interface {
	Resource() string
	Permit(actor rbac.Actor, action string, record any) bool
	Narrow(actor rbac.Actor, q query.Query) query.Query
}

// Options configure a predicate policy.
type Options struct {
	// Column is the SQL expression holding the owner reference, with %s standing for the
	// root alias of the scoped query, e.g. "%s.company_id".
	Column string
	// RequireActiveCompany additionally requires the actor's company to be active and kept.
	RequireActiveCompany bool
	// SuperadminOnly lists normalised actions no permission grant can unlock.
	SuperadminOnly []string
}

type predicatePolicy struct {
	resource  string
	ownership Ownership
	opts      Options
	locked    map[string]struct{}
}

// New builds the policy for resource using the given ownership model.
func New(resource string, ownership Ownership, opts Options) Policy {
	if ownership != OwnershipGlobal && opts.Column == "" {
		panic(fmt.Sprintf("policy: %s: %s ownership needs a column", resource, ownership))
	}
	locked := make(map[string]struct{}, len(opts.SuperadminOnly))
	for _, a := range opts.SuperadminOnly {
		locked[rbac.NormalizeAction(a)] = struct{}{}
	}
	return &predicatePolicy{resource: resource, ownership: ownership, opts: opts, locked: locked}
}

func (p *predicatePolicy) Resource() string {
	return p.resource
}

func (p *predicatePolicy) Permit(actor rbac.Actor, action string, record any) bool {
	if _, ok := p.locked[rbac.NormalizeAction(action)]; ok {
		return false
	}
	switch p.ownership {
	case OwnershipGlobal:
		return true
	case OwnershipCompany:
		if !p.companyUsable(actor) {
			return false
		}
		owned, ok := record.(CompanyOwned)
		return ok && actor.InCompany(owned.CompanyRef())
	case OwnershipActor:
		owned, ok := record.(ActorOwned)
		if !ok {
			return false
		}
		ref := owned.ActorRef()
		return ref != nil && *ref == actor.ID
	default:
		return false
	}
}

func (p *predicatePolicy) Narrow(actor rbac.Actor, q query.Query) query.Query {
	column := func() string { return fmt.Sprintf(p.opts.Column, q.Alias()) }
	switch p.ownership {
	case OwnershipGlobal:
		return q
	case OwnershipCompany:
		if !p.companyUsable(actor) {
			return q.None()
		}
		return q.Where(column()+" = ?", *actor.CompanyID)
	case OwnershipActor:
		return q.Where(column()+" = ?", actor.ID)
	default:
		return q.None()
	}
}

func (p *predicatePolicy) companyUsable(actor rbac.Actor) bool {
	if actor.CompanyID == nil {
		return false
	}
	return !p.opts.RequireActiveCompany || actor.CompanyActive
}
