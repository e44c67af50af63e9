package policy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/odyssey-bi/backoffice/internal/observability"
	"github.com/odyssey-bi/backoffice/internal/platform/query"
	"github.com/odyssey-bi/backoffice/internal/rbac"
	"github.com/odyssey-bi/backoffice/internal/shared"
)

// Engine is the single entry point for authorization decisions.
type Engine struct {
	registry *Registry
	grants   rbac.GrantSource
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// NewEngine builds an Engine. grants backs a one-off Resolver when the context carries none.
func NewEngine(registry *Registry, grants rbac.GrantSource, metrics *observability.Metrics, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{registry: registry, grants: grants, metrics: metrics, logger: logger}
}

func (e *Engine) resolver(ctx context.Context) *rbac.Resolver {
	if r, ok := rbac.ResolverFromContext(ctx); ok {
		return r
	}
	return rbac.NewResolver(e.grants)
}

// Authorize returns nil when actor may perform action on record, ErrNotAuthorized when it
// may not. The reason for a denial is logged, never returned.
func (e *Engine) Authorize(ctx context.Context, actor rbac.Actor, resource, action string, record any) error {
	action = rbac.NormalizeAction(action)
	if actor.IsSuperadmin() {
		e.decide(actor, resource, action, true, "superadmin")
		return nil
	}
	p, ok := e.registry.Lookup(resource)
	if !ok {
		e.logger.Error("authz: no policy registered", slog.String("resource", resource))
		return fmt.Errorf("policy: %s: %w", resource, shared.ErrNotAuthorized)
	}
	granted, err := e.resolver(ctx).HasPermission(ctx, actor, rbac.BuildCode(resource, action))
	if err != nil {
		return fmt.Errorf("policy: %s.%s: %w", resource, action, err)
	}
	if !granted {
		e.decide(actor, resource, action, false, "permission")
		return shared.ErrNotAuthorized
	}
	if !p.Permit(actor, action, record) {
		e.decide(actor, resource, action, false, "tenant")
		return shared.ErrNotAuthorized
	}
	e.decide(actor, resource, action, true, "granted")
	return nil
}

// Allowed is Authorize reduced to a boolean, for menus and conditional links.
func (e *Engine) Allowed(ctx context.Context, actor rbac.Actor, resource, action string, record any) (bool, error) {
	err := e.Authorize(ctx, actor, resource, action, record)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, shared.ErrNotAuthorized):
		return false, nil
	default:
		return false, err
	}
}

// Can reports whether actor holds resource.action. No record predicate runs, so use it for
// collection-level choices such as offering the discarded listing.
func (e *Engine) Can(ctx context.Context, actor rbac.Actor, resource, action string) (bool, error) {
	if actor.IsSuperadmin() {
		return true, nil
	}
	if _, ok := e.registry.Lookup(resource); !ok {
		return false, nil
	}
	granted, err := e.resolver(ctx).HasPermission(ctx, actor, rbac.BuildCode(resource, rbac.NormalizeAction(action)))
	if err != nil {
		return false, fmt.Errorf("policy: %s.%s: %w", resource, action, err)
	}
	return granted, nil
}

// Scope narrows q to the records actor may list. Superadmin receives q unchanged; actors
// without the index permission receive an empty query.
func (e *Engine) Scope(ctx context.Context, actor rbac.Actor, resource string, q query.Query) (query.Query, error) {
	if actor.IsSuperadmin() {
		return q, nil
	}
	p, ok := e.registry.Lookup(resource)
	if !ok {
		e.logger.Error("authz: no policy registered", slog.String("resource", resource))
		return q.None(), nil
	}
	granted, err := e.resolver(ctx).HasPermission(ctx, actor, rbac.BuildCode(resource, rbac.ActionIndex))
	if err != nil {
		return query.Query{}, fmt.Errorf("policy: scope %s: %w", resource, err)
	}
	if !granted {
		return q.None(), nil
	}
	return p.Narrow(actor, q), nil
}

func (e *Engine) decide(actor rbac.Actor, resource, action string, allowed bool, reason string) {
	e.metrics.ObserveAuthz(resource, action, allowed)
	e.logger.Debug("authz decision",
		slog.Int64("actor_id", actor.ID),
		slog.String("resource", resource),
		slog.String("action", action),
		slog.Bool("allowed", allowed),
		slog.String("reason", reason),
	)
}

// Fetch loads one record and authorizes action on it. A denial is reported as ErrNotFound
// so a refused fetch and an absent record look the same to the caller.
func Fetch[T any](ctx context.Context, e *Engine, actor rbac.Actor, resource, action string, load func(context.Context) (T, error)) (T, error) {
	var zero T
	record, err := load(ctx)
	if err != nil {
		return zero, err
	}
	if err := e.Authorize(ctx, actor, resource, action, record); err != nil {
		if errors.Is(err, shared.ErrNotAuthorized) {
			return zero, shared.ErrNotFound
		}
		return zero, err
	}
	return record, nil
}
