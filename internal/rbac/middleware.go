package rbac

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/odyssey-bi/backoffice/internal/platform/httpx"
	"github.com/odyssey-bi/backoffice/internal/shared"
)

// ActorLoader loads the actor behind a session user id.
type ActorLoader interface {
	LoadActor(ctx context.Context, userID int64) (Actor, error)
}

// Middleware wires actor loading and coarse permission gates for HTTP handlers.
type Middleware struct {
	Loader ActorLoader
	Grants GrantSource
	Logger *slog.Logger
}

func (m Middleware) logger() *slog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return slog.Default()
}

// LoadActor resolves the session user into an Actor and starts a fresh Resolver for the
// request. Requests without a session user continue anonymously.
func (m Middleware) LoadActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := ContextWithResolver(r.Context(), NewResolver(m.Grants))
		sess := shared.SessionFromContext(ctx)
		userID, ok := sess.UserID()
		if !ok {
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}
		actor, err := m.Loader.LoadActor(ctx, userID)
		if err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				// Deleted or deactivated user: drop the stale login.
				sess.ClearUser()
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}
			m.logger().Error("rbac load actor", slog.Int64("user_id", userID), slog.Any("error", err))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithActor(ctx, actor)))
	})
}

// RequireActor rejects anonymous requests.
func (m Middleware) RequireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := ActorFromContext(r.Context()); !ok {
			if shared.WantsJSON(r) {
				httpx.RespondError(w, httpx.ErrUnauthorized)
				return
			}
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequirePermission lets the request through when the actor holds code.
func (m Middleware) RequirePermission(code string) func(http.Handler) http.Handler {
	return m.gate("rbac require permission", func(ctx context.Context, res *Resolver, actor Actor) (bool, error) {
		return res.HasPermission(ctx, actor, code)
	})
}

// RequireResource lets the request through when the actor holds any code under resource.
func (m Middleware) RequireResource(resource string) func(http.Handler) http.Handler {
	return m.gate("rbac require resource", func(ctx context.Context, res *Resolver, actor Actor) (bool, error) {
		return res.HasResourcePermission(ctx, actor, resource)
	})
}

func (m Middleware) gate(op string, check func(context.Context, *Resolver, Actor) (bool, error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := ActorFromContext(r.Context())
			res, hasResolver := ResolverFromContext(r.Context())
			if !ok || !hasResolver {
				httpx.Deny(w, r)
				return
			}
			allowed, err := check(r.Context(), res, actor)
			if err != nil {
				m.logger().Error(op, slog.Int64("actor_id", actor.ID), slog.Any("error", err))
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
			if !allowed {
				httpx.Deny(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
