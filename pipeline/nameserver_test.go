package pipeline

import (
	"context"
	"net"
	"strconv"
	"strings"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"

	"smartdns/cache"
	"smartdns/ipset"
	"smartdns/upstream"
)

func newTestUpstream(t *testing.T, handler dns.HandlerFunc) *upstream.Server {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &dns.Server{Listener: ln, Handler: handler}
	go srv.ActivateAndServe()
	t.Cleanup(func() { srv.Shutdown() })

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return &upstream.Server{ID: ln.Addr().String(), Proto: upstream.ProtocolTCP, Host: host, Port: uint16(port)}
}

func TestNameServerResolverBogusFilterScenarioFive(t *testing.T) {
	// Concrete scenario 5 from spec §8: bogus-nxdomain strips the matching
	// RR; when the answer empties, a SOA is synthesized instead.
	srv := newTestUpstream(t, func(w dns.ResponseWriter, r *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(r)
		rr, _ := dns.NewRR(r.Question[0].Name + " 60 IN A 243.185.187.39")
		m.Answer = append(m.Answer, rr)
		w.WriteMsg(m)
	})

	pool := upstream.NewPool([]*upstream.Server{srv})
	ex := upstream.NewExchanger(pool)
	disp := upstream.NewDispatcher(ex, upstream.NewProbeCache())
	groups := upstream.NewGroupSet([]*upstream.Server{srv})

	bogus, err := ipset.LoadSet(strings.NewReader("243.185.187.39/32\n"))
	require.NoError(t, err)

	resolver := &NameServerResolver{
		Groups:        groups,
		Dispatcher:    disp,
		GlobalBogusNX: bogus,
	}

	key := cache.Key{Name: "bad.example.com.", Qtype: dns.TypeA, Qclass: dns.ClassINET}
	msg, _, _, err := resolver.Resolve(context.Background(), key)
	require.NoError(t, err)
	require.Len(t, msg.Answer, 0)
	require.Len(t, msg.Ns, 1)
	require.Equal(t, dns.TypeSOA, msg.Ns[0].Header().Rrtype)
}

func TestNameServerResolverGroupSelection(t *testing.T) {
	officeSrv := newTestUpstream(t, func(w dns.ResponseWriter, r *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(r)
		rr, _ := dns.NewRR(r.Question[0].Name + " 60 IN A 1.1.1.1")
		m.Answer = append(m.Answer, rr)
		w.WriteMsg(m)
	})
	officeSrv.GroupTags = map[string]struct{}{"office": {}}
	officeSrv.ExcludeDefault = true

	defaultSrv := newTestUpstream(t, func(w dns.ResponseWriter, r *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(r)
		rr, _ := dns.NewRR(r.Question[0].Name + " 60 IN A 2.2.2.2")
		m.Answer = append(m.Answer, rr)
		w.WriteMsg(m)
	})

	pool := upstream.NewPool([]*upstream.Server{officeSrv, defaultSrv})
	ex := upstream.NewExchanger(pool)
	disp := upstream.NewDispatcher(ex, upstream.NewProbeCache())
	groups := upstream.NewGroupSet([]*upstream.Server{officeSrv, defaultSrv})

	resolver := &NameServerResolver{Groups: groups, Dispatcher: disp}

	rc := newQueryContext("a.example.com", dns.TypeA)
	rc.MatchedRule = nil
	rc.ChosenGroup = "office"
	resolver.pending.Store(rc.CacheKey(), rc)

	msg, _, _, err := resolver.Resolve(context.Background(), rc.CacheKey())
	require.NoError(t, err)
	require.Equal(t, "1.1.1.1", msg.Answer[0].(*dns.A).A.String())
}
