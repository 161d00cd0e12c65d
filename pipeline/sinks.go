package pipeline

import (
	"context"
	"net/netip"

	"github.com/miekg/dns"
	"github.com/rs/zerolog"

	"smartdns/upstream"
)

// AuditSink appends one structured log line per query (spec §4.7), using the
// ambient zerolog logger rather than a bespoke rotating-file writer — log
// rotation itself is an OS/ops concern handled by the process supervisor or
// an external rotator, consistent with how the rest of the ambient stack
// defers infrastructure concerns to the surrounding deployment.
type AuditSink struct {
	Log zerolog.Logger
}

func (s *AuditSink) Observe(ctx context.Context, rc *RequestContext, resp *dns.Msg) {
	ev := s.Log.Info().
		Str("request_id", rc.ID.String()).
		Str("name", rc.Question.Name).
		Uint16("qtype", rc.Question.Qtype).
		Str("client", rc.ClientIP.String()).
		Int("rcode", resp.Rcode).
		Int("answers", len(resp.Answer)).
		Bool("background", rc.Background)
	if rc.MatchedRule != nil {
		ev = ev.Str("nameserver_group", rc.MatchedRule.Nameserver)
	}
	ev.Msg("query")
}

// NFTSetPusher pushes resolved addresses into an nftables set. The core only
// records and dispatches the binding (spec §1: OS integrations are ambient,
// not core); an implementation talking to the kernel via netlink lives
// outside this package.
type NFTSetPusher interface {
	Push(family, table, set string, addrs []netip.Addr)
}

// NFTSetSink implements spec §4.7's nftset hook: on a successful A/AAAA
// answer, push the resolved addresses into the rule's bound set.
type NFTSetSink struct {
	Pusher NFTSetPusher
}

func (s *NFTSetSink) Observe(ctx context.Context, rc *RequestContext, resp *dns.Msg) {
	if s.Pusher == nil || rc.MatchedRule == nil || resp.Rcode != dns.RcodeSuccess {
		return
	}
	addrs := upstream.AnswerAddrs(resp)
	if len(addrs) == 0 {
		return
	}
	if rc.Question.Qtype == dns.TypeA && rc.MatchedRule.NFTSetV4 != nil {
		b := rc.MatchedRule.NFTSetV4
		s.Pusher.Push(b.Family, b.Table, b.Set, addrs)
	}
	if rc.Question.Qtype == dns.TypeAAAA && rc.MatchedRule.NFTSetV6 != nil {
		b := rc.MatchedRule.NFTSetV6
		s.Pusher.Push(b.Family, b.Table, b.Set, addrs)
	}
}
