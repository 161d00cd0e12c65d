package pipeline

import (
	"context"
	"time"

	"github.com/miekg/dns"

	"smartdns/upstream"
)

// arbitrateDualstack implements spec §4.5: when an AAAA answer exists, race
// an equivalent A query and, if IPv4 is reachable enough faster than IPv6 to
// exceed threshold, replace the AAAA answer with a synthesized SOA (subject
// to allowForceAAAA). msg is mutated in place; the function is a no-op for
// any qtype other than AAAA, or when group/probe data is unavailable.
func (r *NameServerResolver) arbitrateDualstack(ctx context.Context, group []*upstream.Server, probe upstream.Probe, req *dns.Msg, msg *dns.Msg, threshold time.Duration, allowForceAAAA bool) *dns.Msg {
	if req.Question[0].Qtype != dns.TypeAAAA || !allowForceAAAA || probe.Kind == upstream.ProbeNone {
		return msg
	}

	v4Req := req.Copy()
	v4Req.Question[0].Qtype = dns.TypeA
	v4Msg, err := r.Dispatcher.Dispatch(ctx, group, v4Req, upstream.SelectFastestIP, probe)
	if err != nil || v4Msg == nil {
		return msg
	}

	bestV4, ok4 := bestRTT(ctx, r.Dispatcher, v4Msg, probe)
	bestV6, ok6 := bestRTT(ctx, r.Dispatcher, msg, probe)
	if !ok4 || !ok6 {
		return msg
	}

	if bestV6-bestV4 > threshold {
		out := msg.Copy()
		out.Answer = nil
		out.Ns = append(out.Ns, synthSOA(req.Question[0].Name, 60))
		return out
	}
	return msg
}

func bestRTT(ctx context.Context, d *upstream.Dispatcher, msg *dns.Msg, probe upstream.Probe) (time.Duration, bool) {
	best := time.Duration(-1)
	for _, a := range upstream.AnswerAddrs(msg) {
		rtt, reachable := d.Probes().Measure(ctx, probe, a)
		if !reachable {
			continue
		}
		if best == -1 || rtt < best {
			best = rtt
		}
	}
	if best == -1 {
		return 0, false
	}
	return best, true
}
