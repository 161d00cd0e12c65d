package pipeline

import (
	"time"

	"github.com/miekg/dns"
	"github.com/rs/zerolog"

	"smartdns/cache"
	"smartdns/ipset"
	"smartdns/metrics"
	"smartdns/rule"
	"smartdns/upstream"
)

// Deps bundles every wired dependency Assemble needs to build the chain.
type Deps struct {
	DomainRules *rule.Table
	ClientRules *rule.ClientRuleTable
	Hosts       *HostsTable
	ServerName  string
	SelfAddrs   []dns.RR
	LocalTTL    uint32

	Cache      *cache.Cache
	Groups     *upstream.GroupSet
	Dispatcher *upstream.Dispatcher

	DefaultResponseMode     rule.ResponseMode
	DefaultSpeedProbe       []rule.SpeedProbe
	GlobalBlacklistIP       *ipset.Set
	GlobalBogusNX           *ipset.Set
	DualstackEnabled        bool
	DualstackThreshold      time.Duration
	DualstackAllowForceAAAA bool

	ServeExpired         bool
	ServeExpiredTTL      time.Duration
	ServeExpiredReplyTTL time.Duration
	Prefetch             bool

	AuditLog zerolog.Logger
	NFTSet   NFTSetPusher
	Metrics  *metrics.Registry
}

// Assemble builds the full middleware chain and wires the cache's
// RefreshFunc to a NameServerResolver, per spec §2's ordering: client-rule
// gating first (§4.6's "before the pipeline proceeds"), then name-matching,
// static-answer middlewares (hosts/address/zone/cname), then the cache MW
// whose miss path invokes upstream dispatch (§4.3) and dualstack arbitration
// (§4.5).
func Assemble(d Deps) *Chain {
	resolver := &NameServerResolver{
		Groups:                  d.Groups,
		Dispatcher:              d.Dispatcher,
		DefaultResponseMode:     d.DefaultResponseMode,
		DefaultSpeedProbe:       d.DefaultSpeedProbe,
		GlobalBlacklistIP:       d.GlobalBlacklistIP,
		GlobalBogusNX:           d.GlobalBogusNX,
		DualstackEnabled:        d.DualstackEnabled,
		DualstackThreshold:      d.DualstackThreshold,
		DualstackAllowForceAAAA: d.DualstackAllowForceAAAA,
	}
	d.Cache.SetRefresher(resolver.Resolve)

	cnameMW := &CNAMEMW{}

	chain := NewChain(
		&ClientRuleMW{Table: d.ClientRules},
		&NameMatchMW{Table: d.DomainRules},
		&HostsMW{Hosts: d.Hosts, TTL: d.LocalTTL},
		&AddressRuleMW{DefaultSOATTL: d.LocalTTL},
		&ZoneMW{ServerName: d.ServerName, SelfAddrs: d.SelfAddrs},
		cnameMW,
		&CacheMW{
			Cache:                d.Cache,
			Resolver:             resolver,
			Metrics:              d.Metrics,
			ServeExpired:         d.ServeExpired,
			ServeExpiredTTL:      d.ServeExpiredTTL,
			ServeExpiredReplyTTL: d.ServeExpiredReplyTTL,
			Prefetch:             d.Prefetch,
		},
	)
	cnameMW.Chain = chain

	sinks := []Sink{&AuditSink{Log: d.AuditLog}}
	if d.NFTSet != nil {
		sinks = append(sinks, &NFTSetSink{Pusher: d.NFTSet})
	}
	chain.WithSinks(sinks...)

	return chain
}
