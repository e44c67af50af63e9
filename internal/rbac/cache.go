package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-bi/backoffice/internal/observability"
)

const (
	grantKeyPrefix = "rbac:perms:role:"
	bumpChannel    = "rbac.bump"
)

// GrantCache shares role grants across requests through Redis. Keys embed the role
// version, so a bumped role never reads a superseded grant.
type GrantCache struct {
	client  *redis.Client
	next    GrantSource
	ttl     time.Duration
	group   singleflight.Group
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewGrantCache wraps next with a Redis layer. A nil client or zero ttl disables caching.
func NewGrantCache(client *redis.Client, next GrantSource, ttl time.Duration, metrics *observability.Metrics, logger *slog.Logger) *GrantCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &GrantCache{client: client, next: next, ttl: ttl, metrics: metrics, logger: logger}
}

func grantKey(roleID, version int64) string {
	return grantKeyPrefix + strconv.FormatInt(roleID, 10) + ":v" + strconv.FormatInt(version, 10)
}

// RoleGrant implements GrantSource.
func (c *GrantCache) RoleGrant(ctx context.Context, roleID, version int64) (RoleGrant, error) {
	if c.client == nil || c.ttl <= 0 {
		return c.next.RoleGrant(ctx, roleID, version)
	}
	key := grantKey(roleID, version)
	payload, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var grant RoleGrant
		if err := json.Unmarshal(payload, &grant); err == nil {
			c.metrics.PermissionCacheLookup(true)
			return grant, nil
		}
		c.logger.Warn("rbac: corrupt grant cache entry", slog.String("key", key))
	case !errors.Is(err, redis.Nil):
		// Redis trouble degrades to the database rather than failing the request.
		c.logger.Warn("rbac: grant cache get", slog.String("key", key), slog.Any("error", err))
		return c.next.RoleGrant(ctx, roleID, version)
	}
	c.metrics.PermissionCacheLookup(false)

	// Callers coalesced onto key share one load; it outlives any single caller.
	loadCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (interface{}, error) {
		grant, err := c.next.RoleGrant(loadCtx, roleID, version)
		if err != nil {
			return RoleGrant{}, err
		}
		raw, err := json.Marshal(grant)
		if err != nil {
			return RoleGrant{}, err
		}
		if err := c.client.Set(loadCtx, grantKey(grant.RoleID, grant.Version), raw, c.ttl).Err(); err != nil {
			c.logger.Warn("rbac: grant cache set", slog.Int64("role_id", roleID), slog.Any("error", err))
		}
		return grant, nil
	})
	select {
	case <-ctx.Done():
		return RoleGrant{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return RoleGrant{}, res.Err
		}
		return res.Val.(RoleGrant), nil
	}
}

// Invalidate drops cached grants for versions before current and announces the bump.
func (c *GrantCache) Invalidate(ctx context.Context, roleID, current int64) error {
	if c == nil || c.client == nil {
		return nil
	}
	if current > 1 {
		if err := c.client.Del(ctx, grantKey(roleID, current-1)).Err(); err != nil {
			return fmt.Errorf("rbac: drop grant cache: %w", err)
		}
	}
	return c.client.Publish(ctx, bumpChannel, strconv.FormatInt(roleID, 10)+":"+strconv.FormatInt(current, 10)).Err()
}
