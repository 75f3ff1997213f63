package enrich

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/argus-sec/argus/internal/cache"
	"github.com/argus-sec/argus/pkg/types"
)

// Collector fans one alert out to the registered resolvers and folds
// the answers into an EnrichedContext. Lookups are cached per subject,
// not per alert, so a noisy host doesn't re-resolve on every alert.
type Collector struct {
	network NetworkResolver
	asset   AssetResolver
	user    UserResolver
	cache   cache.Cache
	ttl     time.Duration
	logger  *zap.Logger
}

func NewCollector(network NetworkResolver, asset AssetResolver, user UserResolver, c cache.Cache, ttl time.Duration, logger *zap.Logger) *Collector {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Collector{
		network: network,
		asset:   asset,
		user:    user,
		cache:   c,
		ttl:     ttl,
		logger:  logger,
	}
}

// Collect resolves whatever subjects the alert carries. A failed
// resolver leaves its sub-context nil and marks the result partial;
// enrichment itself never fails.
func (c *Collector) Collect(ctx context.Context, alert types.Alert) types.EnrichedContext {
	var ec types.EnrichedContext

	if nc, partial := c.collectNetwork(ctx, alert); nc != nil {
		ec.Network = nc
		ec.Partial = ec.Partial || partial
	} else {
		ec.Partial = ec.Partial || partial
	}

	if alert.AssetID != "" {
		ac, err := cachedResolve(ctx, c.cache, "asset:"+alert.AssetID, c.ttl, func() (*types.AssetContext, error) {
			return c.asset.ResolveAsset(ctx, alert.AssetID)
		})
		if err != nil {
			c.logger.Warn("asset resolution failed",
				zap.String("alert_id", alert.AlertID),
				zap.String("asset_id", alert.AssetID),
				zap.Error(err))
			ec.Partial = true
		} else {
			ec.Asset = ac
		}
	}

	if alert.UserName != "" {
		uc, err := cachedResolve(ctx, c.cache, "user:"+alert.UserName, c.ttl, func() (*types.UserContext, error) {
			return c.user.ResolveUser(ctx, alert.UserName)
		})
		if err != nil {
			c.logger.Warn("user resolution failed",
				zap.String("alert_id", alert.AlertID),
				zap.String("user_name", alert.UserName),
				zap.Error(err))
			ec.Partial = true
		} else {
			ec.User = uc
		}
	}

	return ec
}

// collectNetwork resolves each distinct address on the alert. The
// aggregate is internal only when every address resolved internal; an
// alert with no addresses gets no network context at all.
func (c *Collector) collectNetwork(ctx context.Context, alert types.Alert) (*types.NetworkContext, bool) {
	ips := make([]string, 0, 2)
	if alert.SourceIP != "" {
		ips = append(ips, alert.SourceIP)
	}
	if alert.DestinationIP != "" && alert.DestinationIP != alert.SourceIP {
		ips = append(ips, alert.DestinationIP)
	}
	if len(ips) == 0 {
		return nil, false
	}

	nc := &types.NetworkContext{IsInternal: true}
	partial := false
	for _, ip := range ips {
		ac, err := cachedResolve(ctx, c.cache, "net:"+ip, c.ttl, func() (*types.AddressContext, error) {
			return c.network.ResolveNetwork(ctx, ip)
		})
		if err != nil {
			c.logger.Warn("network resolution failed",
				zap.String("alert_id", alert.AlertID),
				zap.String("ip", ip),
				zap.Error(err))
			partial = true
			continue
		}
		nc.Addresses = append(nc.Addresses, *ac)
		nc.IsInternal = nc.IsInternal && ac.Internal
	}
	if len(nc.Addresses) == 0 {
		return nil, partial
	}
	return nc, partial
}

// cachedResolve answers from the cache when it can, resolving and
// backfilling otherwise. Cache errors are treated as misses: a flaky
// Redis must not degrade enrichment below what the resolver can do.
func cachedResolve[T any](ctx context.Context, c cache.Cache, key string, ttl time.Duration, resolve func() (*T, error)) (*T, error) {
	var cached T
	if hit, err := cache.GetJSON(ctx, c, key, &cached); err == nil && hit {
		return &cached, nil
	}

	v, err := resolve()
	if err != nil {
		return nil, err
	}
	_ = cache.SetJSON(ctx, c, key, v, ttl)
	return v, nil
}
