package pipeline

import (
	"context"

	"github.com/miekg/dns"

	"smartdns/cache"
)

// CNAMEMW synthesizes a CNAME RR for the matched rule's `cname` target and,
// whenever Chain is set, recursively resolves the target within the same
// pipeline (spec §4.4), guarded by RequestContext's depth cap and
// visited-set (spec §9's cyclic-CNAME note). No rule field turns the
// recursion off.
//
// Chain is set after the owning Chain is constructed (see Assemble) since
// the middleware needs to re-enter the same chain for the CNAME target —
// an intentional pointer cycle, not a dependency inversion.
type CNAMEMW struct {
	Chain *Chain
}

func (mw *CNAMEMW) Name() string { return "cname" }

func (mw *CNAMEMW) Handle(ctx context.Context, rc *RequestContext) (*dns.Msg, error) {
	if rc.MatchedRule == nil || rc.MatchedRule.CNAME == "" {
		return nil, nil
	}
	target := dns.Fqdn(rc.MatchedRule.CNAME)

	m := new(dns.Msg)
	m.SetReply(rc.Request)
	m.Authoritative = true
	cnameRR := &dns.CNAME{
		Hdr:    dns.RR_Header{Name: rc.Question.Name, Rrtype: dns.TypeCNAME, Class: dns.ClassINET, Ttl: mw.ttl(rc)},
		Target: target,
	}
	m.Answer = append(m.Answer, cnameRR)
	rc.LookupSource = cache.SourceSynthesized

	if mw.Chain == nil || !rc.EnterCNAME(rc.Question.Name) {
		return m, nil
	}

	sub := *rc
	sub.Request = rc.Request.Copy()
	sub.Request.Question[0].Name = target
	sub.Question = dns.Question{Name: target, Qtype: rc.Question.Qtype, Qclass: rc.Question.Qclass}
	sub.MatchedRule = nil
	subResp, err := mw.Chain.Serve(ctx, &sub)
	if err != nil || subResp == nil {
		return m, nil
	}
	m.Answer = append(m.Answer, subResp.Answer...)
	m.Ns = subResp.Ns
	m.Rcode = subResp.Rcode
	return m, nil
}

func (mw *CNAMEMW) ttl(rc *RequestContext) uint32 {
	if rc.MatchedRule != nil && rc.MatchedRule.RRTTL != nil {
		return *rc.MatchedRule.RRTTL
	}
	return 60
}
