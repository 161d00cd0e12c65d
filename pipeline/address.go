package pipeline

import (
	"context"
	"fmt"

	"github.com/miekg/dns"

	"smartdns/cache"
	"smartdns/rule"
)

// synthSOA builds a minimal synthesized SOA record for name, used both by
// AddressRuleMW's "#"/"#4"/"#6" codes and by the bogus/blacklist filtering
// sink when an answer empties out (spec §4.3, §4.4, §9's "SOA synthesis").
func synthSOA(name string, ttl uint32) dns.RR {
	rr, _ := dns.NewRR(fmt.Sprintf("%s %d IN SOA smartdns.local. admin.smartdns.local. 1 1800 900 604800 %d", name, ttl, ttl))
	return rr
}

// SOAReply builds a NODATA-style reply: NOERROR, empty answer, synthesized
// SOA in the authority section (ANCOUNT=0), per spec §4.4/§8 scenario 1.
func SOAReply(req *dns.Msg, ttl uint32) *dns.Msg {
	m := new(dns.Msg)
	m.SetReply(req)
	m.Authoritative = true
	if len(req.Question) > 0 {
		m.Ns = append(m.Ns, synthSOA(req.Question[0].Name, ttl))
	}
	return m
}

// AddressRuleMW answers from the matched rule's `address` directive (spec
// §4.4). Ignore codes ("-"/"-4"/"-6") always fall through by returning
// (nil, nil). "#" short-circuits every qtype; "#4"/"#6" and explicit IPs
// short-circuit only the qtype they cover (A or AAAA) and fall through for
// the rest.
type AddressRuleMW struct {
	DefaultSOATTL uint32 // used when the rule doesn't set rr_ttl; default 60
}

func (mw *AddressRuleMW) Name() string { return "address-rule" }

func (mw *AddressRuleMW) Handle(ctx context.Context, rc *RequestContext) (*dns.Msg, error) {
	if rc.MatchedRule == nil || rc.MatchedRule.Address == nil {
		return nil, nil
	}
	addr := rc.MatchedRule.Address
	ttl := mw.ttl(rc)

	switch addr.Kind {
	case rule.AddressSOA:
		rc.LookupSource = cache.SourceSynthesized
		return SOAReply(rc.Request, ttl), nil
	case rule.AddressSOAv4:
		if rc.Question.Qtype == dns.TypeA {
			rc.LookupSource = cache.SourceSynthesized
			return SOAReply(rc.Request, ttl), nil
		}
		return nil, nil
	case rule.AddressSOAv6:
		if rc.Question.Qtype == dns.TypeAAAA {
			rc.LookupSource = cache.SourceSynthesized
			return SOAReply(rc.Request, ttl), nil
		}
		return nil, nil
	case rule.AddressIgnore:
		return nil, nil // explicit fall-through for every qtype
	case rule.AddressIgnV4:
		if rc.Question.Qtype == dns.TypeA {
			return nil, nil // explicit fall-through
		}
		return nil, nil
	case rule.AddressIgnV6:
		if rc.Question.Qtype == dns.TypeAAAA {
			return nil, nil
		}
		return nil, nil
	case rule.AddressIPv4:
		if rc.Question.Qtype != dns.TypeA {
			return nil, nil
		}
		return mw.answer(rc, addr, ttl), nil
	case rule.AddressIPv6:
		if rc.Question.Qtype != dns.TypeAAAA {
			return nil, nil
		}
		return mw.answer(rc, addr, ttl), nil
	default:
		return nil, nil
	}
}

func (mw *AddressRuleMW) answer(rc *RequestContext, addr *rule.AddressValue, ttl uint32) *dns.Msg {
	m := new(dns.Msg)
	m.SetReply(rc.Request)
	m.Authoritative = true
	rr, err := addrRR(rc.Question.Name, rc.Question.Qtype, addr.IP, ttl)
	if err == nil {
		m.Answer = append(m.Answer, rr)
	}
	rc.LookupSource = cache.SourceStatic
	return m
}

func (mw *AddressRuleMW) ttl(rc *RequestContext) uint32 {
	if rc.MatchedRule != nil && rc.MatchedRule.RRTTL != nil {
		return *rc.MatchedRule.RRTTL
	}
	if mw.DefaultSOATTL > 0 {
		return mw.DefaultSOATTL
	}
	return 60
}

// ZoneMW answers queries for the resolver's own `server-name` with the
// SelfAddrs records whose type matches the qtype (an empty NOERROR answer
// when none match). The Domain field is not consulted: queries under the
// configured local `domain` pass through.
type ZoneMW struct {
	ServerName string
	Domain     string
	SelfAddrs  []dns.RR // pre-built A/AAAA records for ServerName
}

func (mw *ZoneMW) Name() string { return "zone" }

func (mw *ZoneMW) Handle(ctx context.Context, rc *RequestContext) (*dns.Msg, error) {
	if mw.ServerName == "" {
		return nil, nil
	}
	qname := rc.Question.Name
	if qname != dns.Fqdn(mw.ServerName) {
		return nil, nil
	}
	m := new(dns.Msg)
	m.SetReply(rc.Request)
	m.Authoritative = true
	for _, rr := range mw.SelfAddrs {
		if rr.Header().Rrtype == rc.Question.Qtype {
			m.Answer = append(m.Answer, rr)
		}
	}
	rc.LookupSource = cache.SourceStatic
	return m, nil
}
