package pipeline

import (
	"context"

	"github.com/miekg/dns"
)

// Handler is one middleware in the chain (spec §2). Handle may:
//   - short-circuit by returning a non-nil *dns.Msg (err nil),
//   - pass through by returning (nil, nil),
//   - abort the request by returning a non-nil error, which the listener
//     renders as a DNS rcode (spec §7).
type Handler interface {
	Handle(ctx context.Context, rc *RequestContext) (*dns.Msg, error)
	Name() string
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc struct {
	name string
	fn   func(ctx context.Context, rc *RequestContext) (*dns.Msg, error)
}

// NewHandlerFunc builds a Handler from a name and function, for middlewares
// too small to warrant their own type.
func NewHandlerFunc(name string, fn func(ctx context.Context, rc *RequestContext) (*dns.Msg, error)) HandlerFunc {
	return HandlerFunc{name: name, fn: fn}
}

func (h HandlerFunc) Handle(ctx context.Context, rc *RequestContext) (*dns.Msg, error) {
	return h.fn(ctx, rc)
}

func (h HandlerFunc) Name() string { return h.name }

// Sink is a post-response hook (spec §4.7: audit, nftset, bogus-filter).
// Sinks never short-circuit or error; they observe and may rewrite the
// final message in place.
type Sink interface {
	Observe(ctx context.Context, rc *RequestContext, resp *dns.Msg)
}

// Chain is the ordered middleware pipeline plus the post-response sinks run
// after a response is produced (spec §2's "leaves first" ordering).
type Chain struct {
	middlewares []Handler
	sinks       []Sink
}

// NewChain builds a Chain from middlewares in execution order.
func NewChain(middlewares ...Handler) *Chain {
	return &Chain{middlewares: middlewares}
}

// WithSinks attaches post-response sinks, run in order after the first
// short-circuiting (or final) response is produced.
func (c *Chain) WithSinks(sinks ...Sink) *Chain {
	c.sinks = sinks
	return c
}

// Serve runs every middleware in order against rc, stopping at the first
// one that produces a response or error, then runs the sinks.
func (c *Chain) Serve(ctx context.Context, rc *RequestContext) (*dns.Msg, error) {
	var resp *dns.Msg
	var err error

	for _, mw := range c.middlewares {
		resp, err = mw.Handle(ctx, rc)
		if err != nil {
			return nil, err
		}
		if resp != nil {
			break
		}
	}

	if resp == nil {
		// No middleware produced an answer and none errored: nothing in the
		// chain could resolve the query (e.g. an empty name-server group
		// with every sink declining to synthesize something for it).
		resp = ServFail(rc.Request)
	}

	for _, sink := range c.sinks {
		sink.Observe(ctx, rc, resp)
	}
	return resp, nil
}

// ServFail builds a SERVFAIL reply to req, used both by Chain.Serve's
// fallback and by the listener's panic-recovery boundary (spec §7).
func ServFail(req *dns.Msg) *dns.Msg {
	m := new(dns.Msg)
	if req != nil {
		m.SetRcode(req, dns.RcodeServerFailure)
	} else {
		m.Rcode = dns.RcodeServerFailure
	}
	return m
}
