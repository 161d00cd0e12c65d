package pipeline

import (
	"context"
	"net/netip"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"

	"smartdns/rule"
)

func TestCNAMERecursesToTarget(t *testing.T) {
	cnameMW := &CNAMEMW{}
	target := &AddressRuleMW{}

	chain := NewChain(
		NewHandlerFunc("rule-lookup", func(ctx context.Context, rc *RequestContext) (*dns.Msg, error) {
			if rc.Question.Name == dns.Fqdn("alias.example.com") {
				rc.MatchedRule = &rule.DomainRule{CNAME: "real.example.com"}
			}
			if rc.Question.Name == dns.Fqdn("real.example.com") {
				ip := netip.MustParseAddr("10.0.0.5")
				rc.MatchedRule = &rule.DomainRule{Address: &rule.AddressValue{Kind: rule.AddressIPv4, IP: ip}}
			}
			return nil, nil
		}),
		cnameMW,
		target,
	)
	cnameMW.Chain = chain

	rc := newQueryContext("alias.example.com", dns.TypeA)
	resp, err := chain.Serve(context.Background(), rc)
	require.NoError(t, err)
	require.Len(t, resp.Answer, 2)
	require.Equal(t, dns.TypeCNAME, resp.Answer[0].Header().Rrtype)
	require.Equal(t, dns.TypeA, resp.Answer[1].Header().Rrtype)
}

func TestCNAMECycleGuard(t *testing.T) {
	cnameMW := &CNAMEMW{}
	chain := NewChain(
		NewHandlerFunc("rule-lookup", func(ctx context.Context, rc *RequestContext) (*dns.Msg, error) {
			rc.MatchedRule = &rule.DomainRule{CNAME: "a.loop.test"}
			return nil, nil
		}),
		cnameMW,
	)
	cnameMW.Chain = chain

	rc := newQueryContext("a.loop.test", dns.TypeA)
	resp, err := chain.Serve(context.Background(), rc)
	require.NoError(t, err)
	require.NotNil(t, resp)
	require.LessOrEqual(t, len(resp.Answer), MaxCNAMEDepth+1, "cycle guard must cap recursion")
}
