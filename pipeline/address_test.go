package pipeline

import (
	"context"
	"net/netip"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"

	"smartdns/rule"
)

func newQueryContext(name string, qtype uint16) *RequestContext {
	req := new(dns.Msg)
	req.SetQuestion(dns.Fqdn(name), qtype)
	return NewRequestContext(req, netip.MustParseAddr("192.0.2.1"), ServerOpts{}, time.Time{})
}

func TestAddressRuleSOAv6ScenarioOne(t *testing.T) {
	// Concrete scenario 1 from spec §8: domain-rule "--address #6" on an
	// AAAA query yields a SOA-bearing NODATA reply with ANCOUNT=0.
	mw := &AddressRuleMW{}
	rc := newQueryContext("a.example.com", dns.TypeAAAA)
	rc.MatchedRule = &rule.DomainRule{Address: &rule.AddressValue{Kind: rule.AddressSOAv6}}

	resp, err := mw.Handle(context.Background(), rc)
	require.NoError(t, err)
	require.NotNil(t, resp)
	require.Len(t, resp.Answer, 0)
	require.Len(t, resp.Ns, 1)
	require.Equal(t, dns.TypeSOA, resp.Ns[0].Header().Rrtype)
}

func TestAddressRuleSOAv6PassesThroughForA(t *testing.T) {
	mw := &AddressRuleMW{}
	rc := newQueryContext("a.example.com", dns.TypeA)
	rc.MatchedRule = &rule.DomainRule{Address: &rule.AddressValue{Kind: rule.AddressSOAv6}}

	resp, err := mw.Handle(context.Background(), rc)
	require.NoError(t, err)
	require.Nil(t, resp, "SOA-for-AAAA-only rule must not apply to an A query")
}

func TestAddressRuleBlockedScenarioFour(t *testing.T) {
	// Concrete scenario 4: "address /blocked.test/ #" blocks every qtype.
	mw := &AddressRuleMW{}
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA, dns.TypeTXT} {
		rc := newQueryContext("blocked.test", qtype)
		rc.MatchedRule = &rule.DomainRule{Address: &rule.AddressValue{Kind: rule.AddressSOA}}

		resp, err := mw.Handle(context.Background(), rc)
		require.NoError(t, err)
		require.NotNil(t, resp)
		require.Len(t, resp.Answer, 0)
		require.Len(t, resp.Ns, 1)
	}
}

func TestAddressRuleIgnoreFallsThrough(t *testing.T) {
	mw := &AddressRuleMW{}
	rc := newQueryContext("a.example.com", dns.TypeA)
	rc.MatchedRule = &rule.DomainRule{Address: &rule.AddressValue{Kind: rule.AddressIgnV4}}

	resp, err := mw.Handle(context.Background(), rc)
	require.NoError(t, err)
	require.Nil(t, resp)
}

func TestAddressRuleBareIgnoreFallsThroughForEveryQtype(t *testing.T) {
	mw := &AddressRuleMW{}
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA, dns.TypeTXT} {
		rc := newQueryContext("a.example.com", qtype)
		rc.MatchedRule = &rule.DomainRule{Address: &rule.AddressValue{Kind: rule.AddressIgnore}}

		resp, err := mw.Handle(context.Background(), rc)
		require.NoError(t, err)
		require.Nil(t, resp)
	}
}

func TestAddressRuleExplicitIP(t *testing.T) {
	mw := &AddressRuleMW{}
	rc := newQueryContext("a.example.com", dns.TypeA)
	ip := netip.MustParseAddr("10.10.10.10")
	rc.MatchedRule = &rule.DomainRule{Address: &rule.AddressValue{Kind: rule.AddressIPv4, IP: ip}}

	resp, err := mw.Handle(context.Background(), rc)
	require.NoError(t, err)
	require.NotNil(t, resp)
	require.Len(t, resp.Answer, 1)
	require.Equal(t, "10.10.10.10", resp.Answer[0].(*dns.A).A.String())
}
