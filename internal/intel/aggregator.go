package intel

import (
	"context"
	"net/netip"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/argus-sec/argus/internal/cache"
	"github.com/argus-sec/argus/internal/telemetry"
	"github.com/argus-sec/argus/pkg/types"
)

// Aggregator fans every (provider, IOC) pair out concurrently and
// collects one finding per pair. A failed lookup degrades to verdict
// unknown; the only way the stage fails is the broker or the store.
type Aggregator struct {
	providers []Provider
	cache     cache.Cache
	ttl       time.Duration
	timeout   time.Duration
	limit     int
	metrics   *telemetry.Metrics
	logger    *zap.Logger
}

func NewAggregator(providers []Provider, c cache.Cache, ttl, timeout time.Duration, limit int, metrics *telemetry.Metrics, logger *zap.Logger) *Aggregator {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if limit <= 0 {
		limit = 8
	}
	return &Aggregator{
		providers: providers,
		cache:     c,
		ttl:       ttl,
		timeout:   timeout,
		limit:     limit,
		metrics:   metrics,
		logger:    logger,
	}
}

// Assess looks up every indicator and returns the flat finding list,
// ordered (IOC, provider) regardless of completion order. Private
// address space is answered inline as unknown without touching any
// provider.
func (a *Aggregator) Assess(ctx context.Context, iocs types.IOCSet) []types.IntelFinding {
	all := iocs.All()
	if len(all) == 0 {
		return nil
	}

	type job struct {
		provider Provider
		ioc      types.IOC
	}

	findings := make([]types.IntelFinding, 0, len(all)*len(a.providers))
	var jobs []job
	for _, ioc := range all {
		if privateAddress(ioc) {
			findings = append(findings, types.IntelFinding{
				Provider:  "internal",
				IOCType:   ioc.Type,
				IOCValue:  ioc.Value,
				Verdict:   types.VerdictUnknown,
				Evidence:  []string{"internal: private address space, providers not queried"},
				FetchedAt: time.Now().UTC(),
			})
			continue
		}
		for _, p := range a.providers {
			jobs = append(jobs, job{provider: p, ioc: ioc})
		}
	}

	results := make([]types.IntelFinding, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.limit)
	for i, j := range jobs {
		g.Go(func() error {
			results[i] = a.lookup(gctx, j.provider, j.ioc)
			return nil
		})
	}
	// Workers never return errors; Wait is purely a join.
	_ = g.Wait()

	return append(findings, results...)
}

// lookup answers one (provider, IOC) pair: cache, then the provider
// under its own deadline. Failures become unknown findings and are not
// cached, so the next alert retries the feed.
func (a *Aggregator) lookup(ctx context.Context, p Provider, ioc types.IOC) types.IntelFinding {
	key := cacheKey(p.Name(), ioc)

	var cached types.IntelFinding
	if hit, err := cache.GetJSON(ctx, a.cache, key, &cached); err == nil && hit {
		a.metrics.IntelLookups.WithLabelValues(p.Name(), "cache_hit").Inc()
		return cached
	}

	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	f, err := p.Lookup(callCtx, ioc)
	if err != nil {
		a.metrics.IntelLookups.WithLabelValues(p.Name(), "error").Inc()
		a.logger.Warn("intel lookup failed",
			zap.String("provider", p.Name()),
			zap.String("ioc_type", string(ioc.Type)),
			zap.String("ioc_value", ioc.Value),
			zap.Error(err))
		return types.IntelFinding{
			Provider:  p.Name(),
			IOCType:   ioc.Type,
			IOCValue:  ioc.Value,
			Verdict:   types.VerdictUnknown,
			FetchedAt: time.Now().UTC(),
		}
	}

	a.metrics.IntelLookups.WithLabelValues(p.Name(), "ok").Inc()
	_ = cache.SetJSON(ctx, a.cache, key, f, a.ttl)
	return f
}

func cacheKey(provider string, ioc types.IOC) string {
	return "intel:" + provider + ":" + string(ioc.Type) + ":" + ioc.Value
}

// privateAddress reports whether the indicator is an IP inside private,
// loopback or link-local ranges. Feeds carry nothing useful about those
// and some rate-limit aggressively, so they are answered locally.
func privateAddress(ioc types.IOC) bool {
	if ioc.Type != types.IOCTypeIP {
		return false
	}
	addr, err := netip.ParseAddr(ioc.Value)
	if err != nil {
		return false
	}
	return addr.IsPrivate() || addr.IsLoopback() || addr.IsLinkLocalUnicast() || addr.IsLinkLocalMulticast()
}
