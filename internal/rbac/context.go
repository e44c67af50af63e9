package rbac

import "context"

type actorContextKey struct{}

type resolverContextKey struct{}

// ContextWithActor stores the authenticated actor.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext returns the authenticated actor, if any.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}

// ContextWithResolver attaches the unit-of-work resolver.
func ContextWithResolver(ctx context.Context, r *Resolver) context.Context {
	return context.WithValue(ctx, resolverContextKey{}, r)
}

// ResolverFromContext returns the unit-of-work resolver, if any.
func ResolverFromContext(ctx context.Context) (*Resolver, bool) {
	r, ok := ctx.Value(resolverContextKey{}).(*Resolver)
	return r, ok && r != nil
}
