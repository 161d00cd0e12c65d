package pipeline

import (
	"context"
	"net/netip"
	"sync"
	"time"

	"github.com/miekg/dns"

	"smartdns/cache"
	"smartdns/ipset"
	"smartdns/rule"
	"smartdns/upstream"
)

// NameServerResolver implements cache.RefreshFunc by selecting an upstream
// group, dispatching the query in parallel, applying dualstack arbitration
// and bogus/blacklist filtering, and returning the chosen answer (spec
// §4.3). It is wired into cache.Cache.SetRefresher so the cache package
// stays free of any dependency on upstream dispatch.
type NameServerResolver struct {
	Groups     *upstream.GroupSet
	Dispatcher *upstream.Dispatcher

	DefaultResponseMode rule.ResponseMode
	DefaultSpeedProbe   []rule.SpeedProbe

	GlobalBlacklistIP *ipset.Set
	GlobalBogusNX     *ipset.Set
	EDNSClientSubnet  *netip.Prefix

	DualstackEnabled        bool
	DualstackThreshold      time.Duration
	DualstackAllowForceAAAA bool

	// pending maps an in-flight cache.Key back to the RequestContext that
	// triggered it, so Resolve can read rule/client overrides (ChosenGroup,
	// MatchedRule, Subnet) set earlier in the chain for synchronous misses.
	// Background/prefetch refreshes (no live RequestContext) fall back to
	// defaults.
	pending sync.Map
}

// Resolve is the cache.RefreshFunc entry point.
func (r *NameServerResolver) Resolve(ctx context.Context, key cache.Key) (*dns.Msg, uint32, cache.Source, error) {
	req := new(dns.Msg)
	req.SetQuestion(key.Name, key.Qtype)
	req.Question[0].Qclass = key.Qclass

	rc, _ := r.pending.Load(key)
	var matched *rule.DomainRule
	var clientGroup string
	if rcv, ok := rc.(*RequestContext); ok && rcv != nil {
		matched = rcv.MatchedRule
		clientGroup = rcv.ChosenGroup
	}

	domainGroup := ""
	mode := r.DefaultResponseMode
	probes := r.DefaultSpeedProbe
	var subnet *netip.Prefix = r.EDNSClientSubnet

	if matched != nil {
		if matched.Nameserver != "" {
			domainGroup = matched.Nameserver
		}
		if matched.ResponseMode != rule.ResponseModeUnset {
			mode = matched.ResponseMode
		}
		if len(matched.SpeedCheckMode) > 0 {
			probes = matched.SpeedCheckMode
		}
		if matched.Subnet != nil {
			subnet = matched.Subnet
		}
	}

	group := r.Groups.Resolve(domainGroup, clientGroup)
	if len(group) == 0 {
		return nil, 0, cache.SourceUpstream, upstream.ErrNoUsableAnswer
	}

	if subnet != nil {
		applyECS(req, *subnet)
	}

	selMode := toSelectionMode(mode)
	probe := toProbe(firstProbe(probes))

	msg, err := r.Dispatcher.Dispatch(ctx, group, req, selMode, probe)
	if err != nil {
		return nil, 0, cache.SourceUpstream, err
	}

	dualstack := r.DualstackEnabled
	if matched != nil && matched.DualstackSelection != nil {
		dualstack = *matched.DualstackSelection
	}
	if dualstack {
		msg = r.arbitrateDualstack(ctx, group, probe, req, msg, r.DualstackThreshold, r.DualstackAllowForceAAAA)
	}

	msg = r.filterBogus(msg)
	ttl := negativeAwareTTL(msg)
	return msg, ttl, cache.SourceUpstream, nil
}

func firstProbe(probes []rule.SpeedProbe) rule.SpeedProbe {
	if len(probes) == 0 {
		return rule.SpeedProbe{Kind: rule.SpeedProbeNone}
	}
	return probes[0]
}

func toSelectionMode(m rule.ResponseMode) upstream.SelectionMode {
	switch m {
	case rule.ResponseModeFastestIP:
		return upstream.SelectFastestIP
	case rule.ResponseModeFastestResponse:
		return upstream.SelectFastestResponse
	default:
		return upstream.SelectFirstPing
	}
}

func toProbe(p rule.SpeedProbe) upstream.Probe {
	switch p.Kind {
	case rule.SpeedProbeICMP:
		return upstream.Probe{Kind: upstream.ProbeICMP}
	case rule.SpeedProbeTCP:
		return upstream.Probe{Kind: upstream.ProbeTCP, Port: p.Port}
	case rule.SpeedProbeHTTP:
		return upstream.Probe{Kind: upstream.ProbeHTTP, Port: p.Port}
	default:
		return upstream.Probe{Kind: upstream.ProbeNone}
	}
}

func applyECS(req *dns.Msg, subnet netip.Prefix) {
	opt := req.IsEdns0()
	if opt == nil {
		req.SetEdns0(4096, false)
		opt = req.IsEdns0()
	}
	e := new(dns.EDNS0_SUBNET)
	e.Code = dns.EDNS0SUBNET
	addr := subnet.Addr()
	if addr.Is4() {
		e.Family = 1
		e.Address = addr.AsSlice()
	} else {
		e.Family = 2
		e.Address = addr.AsSlice()
	}
	e.SourceNetmask = uint8(subnet.Bits())
	opt.Option = append(opt.Option, e)
}

// filterBogus strips answer RRs whose address matches the global
// blacklist-ip or bogus-nxdomain sets, substituting a synthesized SOA if
// the answer would otherwise empty (spec §4.3, §8 scenario 5).
func (r *NameServerResolver) filterBogus(msg *dns.Msg) *dns.Msg {
	if r.GlobalBlacklistIP == nil && r.GlobalBogusNX == nil {
		return msg
	}
	kept := msg.Answer[:0:0]
	removed := false
	for _, rr := range msg.Answer {
		addr, ok := rrAddr(rr)
		if ok && (r.GlobalBlacklistIP.Contains(addr) || r.GlobalBogusNX.Contains(addr)) {
			removed = true
			continue
		}
		kept = append(kept, rr)
	}
	msg.Answer = kept
	if removed && len(msg.Answer) == 0 && len(msg.Question) > 0 {
		msg.Ns = append(msg.Ns, synthSOA(msg.Question[0].Name, 60))
	}
	return msg
}

func rrAddr(rr dns.RR) (netip.Addr, bool) {
	switch rr := rr.(type) {
	case *dns.A:
		return netip.AddrFromSlice(rr.A.To4())
	case *dns.AAAA:
		return netip.AddrFromSlice(rr.AAAA.To16())
	default:
		return netip.Addr{}, false
	}
}

// negativeAwareTTL picks the TTL to cache msg under: negative caching's SOA
// minimum for NXDOMAIN/NODATA (spec §4.2), or the smallest TTL among answer
// RRs otherwise.
func negativeAwareTTL(msg *dns.Msg) uint32 {
	if cache.IsNegative(msg) {
		return cache.NegativeTTL(msg, 60)
	}
	var min uint32
	found := false
	for _, rr := range msg.Answer {
		ttl := rr.Header().Ttl
		if !found || ttl < min {
			min, found = ttl, true
		}
	}
	if !found {
		return 60
	}
	return min
}
