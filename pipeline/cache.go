package pipeline

import (
	"context"
	"time"

	"github.com/miekg/dns"

	"smartdns/cache"
	"smartdns/metrics"
)

// CacheMW is the final stage of the static chain: a cache hit/miss against
// the shared cache.Cache, delegating misses to the wired NameServerResolver
// (spec §4.2's cache MW, with the name-server dispatch of spec §4.3 invoked
// as its RefreshFunc).
type CacheMW struct {
	Cache    *cache.Cache
	Resolver *NameServerResolver
	Metrics  *metrics.Registry // nil is fine; every Registry method no-ops

	ServeExpired         bool
	ServeExpiredTTL      time.Duration
	ServeExpiredReplyTTL time.Duration
	Prefetch             bool
}

func (mw *CacheMW) Name() string { return "cache" }

func (mw *CacheMW) Handle(ctx context.Context, rc *RequestContext) (*dns.Msg, error) {
	key := rc.CacheKey()

	noCache := rc.NoCache
	serveExpired := mw.ServeExpired
	if rc.MatchedRule != nil {
		if rc.MatchedRule.NoCache != nil {
			noCache = *rc.MatchedRule.NoCache
		}
		if rc.MatchedRule.NoServeExpired != nil {
			serveExpired = !*rc.MatchedRule.NoServeExpired
		}
	}

	if noCache {
		msg, _, _, err := mw.Resolver.Resolve(ctx, key)
		return msg, err
	}

	if mw.Resolver != nil {
		mw.Resolver.pending.Store(key, rc)
		defer mw.Resolver.pending.Delete(key)
	}

	res, err := mw.Cache.Get(ctx, key, serveExpired, mw.ServeExpiredTTL, mw.ServeExpiredReplyTTL, mw.Prefetch)
	if err != nil {
		return nil, err
	}
	if res.Hit {
		mw.Metrics.ObserveCacheHit()
	} else {
		mw.Metrics.ObserveCacheMiss()
	}
	rc.Background = res.Background
	if res.Msg != nil {
		res.Msg.Id = rc.Request.Id
	}
	return res.Msg, nil
}
