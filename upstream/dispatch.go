package upstream

import (
	"context"
	"errors"
	"net/netip"
	"sort"
	"sync"
	"time"

	"github.com/miekg/dns"
)

// SelectionMode is the answer-selection policy from spec §4.3/§4.5.
type SelectionMode uint8

const (
	// SelectFirstPing gathers replies within a short window of the first one
	// arriving, ping-tests every candidate's addresses, and returns the
	// reply with the fastest reachable address (or the first reply at all
	// if no probe is configured), falling back to fastest-arrival if none
	// of the candidates are probe-reachable.
	SelectFirstPing SelectionMode = iota
	// SelectFastestIP picks, among the replies received within
	// postFirstReplyWindow of the first one (and before the dispatch
	// deadline), the reply whose best-probed address has the lowest latency.
	SelectFastestIP
	// SelectFastestResponse picks whichever upstream replies first,
	// ignoring speed-probe results entirely.
	SelectFastestResponse
)

// ErrNoUsableAnswer is returned when the group is empty, or when no upstream
// in it produced a reply passing that server's own blacklist/whitelist IP
// filters before the dispatch deadline.
var ErrNoUsableAnswer = errors.New("upstream: no usable answer")

// Reply pairs one upstream's response with where it came from and how fast
// it arrived, feeding the answer-selection policies below.
type Reply struct {
	Server *Server
	Msg    *dns.Msg
	RTT    time.Duration
}

// Dispatcher fans a query out across a group of upstream servers and
// applies the configured SelectionMode.
type Dispatcher struct {
	exchanger *Exchanger
	probes    *ProbeCache
}

// NewDispatcher builds a Dispatcher.
func NewDispatcher(exchanger *Exchanger, probes *ProbeCache) *Dispatcher {
	return &Dispatcher{exchanger: exchanger, probes: probes}
}

// Probes exposes the Dispatcher's ProbeCache so callers performing their own
// cross-family comparisons (dualstack arbitration) can reuse the same
// measurement cache instead of re-probing.
func (d *Dispatcher) Probes() *ProbeCache {
	return d.probes
}

// AnswerAddrs returns every A/AAAA address in msg's answer section.
func AnswerAddrs(msg *dns.Msg) []netip.Addr {
	return answerAddrs(msg)
}

// Dispatch sends req to every server in group concurrently and returns the
// answer chosen by mode. Replies that fail the server's own
// blacklist/whitelist IP filters are discarded before selection.
func (d *Dispatcher) Dispatch(ctx context.Context, group []*Server, req *dns.Msg, mode SelectionMode, probe Probe) (*dns.Msg, error) {
	if len(group) == 0 {
		return nil, ErrNoUsableAnswer
	}

	ctx, cancel := context.WithTimeout(ctx, exchangeDeadline)
	defer cancel()

	replies := make(chan Reply, len(group))
	var wg sync.WaitGroup
	for _, srv := range group {
		wg.Add(1)
		go func(srv *Server) {
			defer wg.Done()
			msg, rtt, err := d.exchanger.Exchange(ctx, srv, req.Copy())
			if err != nil || msg == nil {
				return
			}
			if !d.passesIPFilters(srv, msg) {
				return
			}
			select {
			case replies <- Reply{Server: srv, Msg: msg, RTT: rtt}:
			case <-ctx.Done():
			}
		}(srv)
	}
	go func() {
		wg.Wait()
		close(replies)
	}()

	switch mode {
	case SelectFastestResponse:
		return d.selectFastestResponse(ctx, replies)
	case SelectFastestIP:
		return d.selectFastestIP(ctx, replies, probe)
	default:
		return d.selectFirstPing(ctx, replies, probe)
	}
}

func (d *Dispatcher) passesIPFilters(srv *Server, msg *dns.Msg) bool {
	addrs := answerAddrs(msg)
	if srv.WhitelistIP != nil && len(addrs) > 0 {
		anyAllowed := false
		for _, a := range addrs {
			if srv.WhitelistIP.Contains(a, nil) {
				anyAllowed = true
				break
			}
		}
		if !anyAllowed {
			return false
		}
	}
	if srv.BlacklistIP != nil {
		for _, a := range addrs {
			if srv.BlacklistIP.Contains(a, nil) {
				return false
			}
		}
	}
	return true
}

func answerAddrs(msg *dns.Msg) []netip.Addr {
	var out []netip.Addr
	for _, rr := range msg.Answer {
		switch rr := rr.(type) {
		case *dns.A:
			if a, ok := netip.AddrFromSlice(rr.A.To4()); ok {
				out = append(out, a)
			}
		case *dns.AAAA:
			if a, ok := netip.AddrFromSlice(rr.AAAA.To16()); ok {
				out = append(out, a)
			}
		}
	}
	return out
}

// selectFastestResponse returns whichever reply arrives first.
func (d *Dispatcher) selectFastestResponse(ctx context.Context, replies <-chan Reply) (*dns.Msg, error) {
	select {
	case r, ok := <-replies:
		if !ok {
			return nil, ErrNoUsableAnswer
		}
		return r.Msg, nil
	case <-ctx.Done():
		return nil, ErrNoUsableAnswer
	}
}

// postFirstReplyWindow bounds how long first-ping/fastest-ip keep collecting
// replies after the first one arrives, per spec §4.3 ("gather all responses
// arriving within a short window ... after the first positive answer,
// capped at deadline"). The dispatch-wide exchangeDeadline still applies on
// top of this: whichever expires first ends collection.
const postFirstReplyWindow = 1 * time.Second

// collectWindow waits for the first reply (or ctx cancellation / channel
// close), then keeps collecting further replies for up to window longer,
// returning whatever arrived. Used by both first-ping and fastest-ip so
// each candidate's addresses can be probed together rather than accepting
// or discarding replies one at a time as they arrive.
func collectWindow(ctx context.Context, replies <-chan Reply, window time.Duration) []Reply {
	var all []Reply
	select {
	case r, ok := <-replies:
		if !ok {
			return all
		}
		all = append(all, r)
	case <-ctx.Done():
		return all
	}

	timer := time.NewTimer(window)
	defer timer.Stop()
	for {
		select {
		case r, ok := <-replies:
			if !ok {
				return all
			}
			all = append(all, r)
		case <-timer.C:
			return all
		case <-ctx.Done():
			return all
		}
	}
}

// pickFastestReachable probes every address in every candidate's answer and
// returns the candidate holding the lowest measured latency address. ok is
// false when no address in any candidate answered the probe (e.g. every
// probe timed out), in which case the caller falls back to arrival order.
func (d *Dispatcher) pickFastestReachable(ctx context.Context, all []Reply, probe Probe) (Reply, time.Duration, bool) {
	var best Reply
	var bestRTT time.Duration
	found := false
	for _, r := range all {
		for _, addr := range answerAddrs(r.Msg) {
			rtt, reachable := d.probes.Measure(ctx, probe, addr)
			if !reachable {
				continue
			}
			if !found || rtt < bestRTT {
				best, bestRTT, found = r, rtt, true
			}
		}
	}
	return best, bestRTT, found
}

// selectFirstPing gathers replies within postFirstReplyWindow of the first
// one arriving, ping-tests every candidate's addresses, and returns the
// reply holding the fastest reachable address — falling back to the
// fastest-arriving reply only when no candidate has one (spec §4.3,
// exercised by the concrete "first-ping" scenario in §8).
func (d *Dispatcher) selectFirstPing(ctx context.Context, replies <-chan Reply, probe Probe) (*dns.Msg, error) {
	all := collectWindow(ctx, replies, postFirstReplyWindow)
	if len(all) == 0 {
		return nil, ErrNoUsableAnswer
	}
	if probe.Kind == ProbeNone {
		return all[0].Msg, nil
	}
	if best, _, ok := d.pickFastestReachable(ctx, all, probe); ok {
		return best.Msg, nil
	}
	return all[0].Msg, nil
}

// selectFastestIP gathers replies within postFirstReplyWindow of the first
// one arriving, then probes every candidate's addresses and returns the
// reply holding the lowest measured latency, falling back to the
// fastest-arriving reply when no candidate is probe-reachable (spec §4.3).
func (d *Dispatcher) selectFastestIP(ctx context.Context, replies <-chan Reply, probe Probe) (*dns.Msg, error) {
	all := collectWindow(ctx, replies, postFirstReplyWindow)
	if len(all) == 0 {
		return nil, ErrNoUsableAnswer
	}
	if probe.Kind == ProbeNone {
		sort.SliceStable(all, func(i, j int) bool { return all[i].RTT < all[j].RTT })
		return all[0].Msg, nil
	}
	if best, _, ok := d.pickFastestReachable(ctx, all, probe); ok {
		return best.Msg, nil
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].RTT < all[j].RTT })
	return all[0].Msg, nil
}
